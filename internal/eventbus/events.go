package eventbus

import (
	"context"

	"marketwatch/pkg/logx"
)

const (
	TypeBaseline          = "market.baseline"
	TypeChanges           = "market.changes"
	TypeFetchFailed       = "market.fetch_failed"
	TypeRenderFailed      = "render.failed"
	TypeBroadcastFinished = "broadcast.finished"
)

type Baseline struct {
	Packages int
}

type Changes struct {
	Added, Updated, Removed int
}

type Failure struct {
	Err string
}

type BroadcastFinished struct {
	JobID                        string
	Total, Sent, Skipped, Failed int
}

// Log consumes events until ctx is done or the subscription closes, writing
// each one at debug level.
func Log(ctx context.Context, bus Bus, log logx.Logger) {
	log = log.With(logx.String("comp", "eventbus"))
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}
