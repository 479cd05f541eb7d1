package router

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"marketwatch/internal/market"
	"marketwatch/internal/transport"
	"marketwatch/pkg/logx"
	"marketwatch/pkg/tgui"
)

// SnapshotSource exposes the poll loop's current snapshot.
type SnapshotSource interface {
	Current() (market.Snapshot, bool)
	LastFetch() time.Time
}

// ArtifactRenderer renders a change set the same way a broadcast would.
type ArtifactRenderer interface {
	Render(ctx context.Context, changes []market.Change) (transport.Artifact, error)
}

// MarketCommands returns /market and the owner-only /market_demo.
func MarketCommands(src SnapshotSource, r ArtifactRenderer, demo func() []market.Change) []Command {
	return []Command{
		{
			Name:        "market",
			Description: "package count, or details of one package",
			Usage:       "/market [name]",
			Timeout:     10 * time.Second,
			Handle:      marketHandler(src),
		},
		{
			Name:        "market_demo",
			Aliases:     []string{"marketdemo"},
			Description: "render sample change cards",
			Usage:       "/market_demo",
			Access:      AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle:      demoHandler(r, demo),
		},
	}
}

func marketHandler(src SnapshotSource) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		snap, ok := src.Current()
		if !ok {
			return req.ReplyText(ctx, "market snapshot not ready yet")
		}
		if len(req.Args) == 0 {
			b := tgui.New().Line(humanize.Comma(int64(snap.Visible())) + " packages in the market")
			if at := src.LastFetch(); !at.IsZero() {
				b.HTML(tgui.I("fetched " + humanize.Time(at)))
			}
			return req.Reply(ctx, b.Build())
		}

		name := req.Args[0]
		rec, found := snap[name]
		if !found {
			return req.ReplyText(ctx, fmt.Sprintf("package %s not found", name))
		}
		b := tgui.New().HTML(tgui.B(rec.ShortName) + tgui.Esc(" ("+rec.Version+")"))
		if rec.Publisher != "" {
			b.Blank().Line("publisher: @" + rec.Publisher)
		}
		return req.Reply(ctx, b.Build())
	}
}

func demoHandler(r ArtifactRenderer, demo func() []market.Change) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		art, err := r.Render(ctx, demo())
		if err != nil {
			req.Logger.Error("demo render failed", logx.Err(err))
			return req.ReplyText(ctx, "failed to render demo")
		}
		return req.ReplyArtifact(ctx, art)
	}
}
