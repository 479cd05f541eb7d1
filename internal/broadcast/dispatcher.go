// Package broadcast delivers one artifact to an ordered list of destinations,
// one at a time, with a fixed pause between consecutive destinations.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"marketwatch/internal/eventbus"
	"marketwatch/internal/market"
	"marketwatch/internal/storage"
	"marketwatch/internal/transport"
	"marketwatch/pkg/logx"
)

// Resolver finds the sender bound to (platform, bot id).
type Resolver interface {
	Resolve(platform, botID string) (transport.Sender, bool)
}

// AuditLog receives one record per destination.
type AuditLog interface {
	AppendDelivery(ctx context.Context, d storage.Delivery) error
}

type Config struct {
	// Delay is waited before every destination except the first.
	Delay time.Duration
	// SendTimeout bounds a single send; 0 means no extra bound.
	SendTimeout time.Duration
}

type Dispatcher struct {
	cfg      Config
	resolver Resolver
	audit    AuditLog
	bus      eventbus.Bus
	log      logx.Logger

	// sleep waits d or returns ctx.Err(); replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Dispatcher)

func WithAudit(a AuditLog) Option    { return func(d *Dispatcher) { d.audit = a } }
func WithBus(b eventbus.Bus) Option  { return func(d *Dispatcher) { d.bus = b } }
func WithLogger(l logx.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func New(cfg Config, resolver Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		resolver: resolver,
		bus:      eventbus.Nop{},
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "broadcast"))
	return d
}

// Failure is one destination that could not be served.
type Failure struct {
	Destination market.Destination
	Err         string
}

// Report summarizes one Dispatch call.
type Report struct {
	ID       string
	Total    int
	Sent     int
	Skipped  int
	Failed   int
	Failures []Failure
	// Canceled is set when ctx ended before every destination was visited.
	Canceled bool
	Took     time.Duration
}

// Dispatch sends a to every destination in order. A destination whose sender
// cannot be resolved is skipped; a failed send is recorded and the sweep goes
// on. The only thing that stops the sweep early is ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, a transport.Artifact, dests []market.Destination) Report {
	start := time.Now()
	rep := Report{ID: uuid.NewString(), Total: len(dests)}
	log := d.log.With(logx.String("job", rep.ID))

	log.Info("broadcast job started",
		logx.Int("total", len(dests)),
		logx.Bool("image", a.IsImage()),
		logx.String("size", humanize.Bytes(uint64(a.Size()))),
		logx.Duration("delay", d.cfg.Delay),
	)

	for i, dest := range dests {
		if i > 0 && d.cfg.Delay > 0 {
			if err := d.sleep(ctx, d.cfg.Delay); err != nil {
				rep.Canceled = true
				log.Warn("broadcast interrupted", logx.Int("visited", i), logx.Err(err))
				break
			}
		} else if ctx.Err() != nil {
			rep.Canceled = true
			log.Warn("broadcast interrupted", logx.Int("visited", i), logx.Err(ctx.Err()))
			break
		}
		d.deliver(ctx, log, &rep, a, dest)
	}

	rep.Took = time.Since(start)
	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("sent", rep.Sent),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", rep.Took),
	}
	if rep.Failed > 0 || rep.Canceled {
		log.Warn("broadcast job finished with failures", fields...)
	} else {
		log.Info("broadcast job finished", fields...)
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastFinished, Data: eventbus.BroadcastFinished{
		JobID: rep.ID, Total: rep.Total, Sent: rep.Sent, Skipped: rep.Skipped, Failed: rep.Failed,
	}})
	return rep
}

func (d *Dispatcher) deliver(ctx context.Context, log logx.Logger, rep *Report, a transport.Artifact, dest market.Destination) {
	log = log.With(logx.String("dest", dest.String()))
	rec := storage.Delivery{
		JobID:     rep.ID,
		Platform:  dest.Platform,
		BotID:     dest.BotID,
		ChannelID: dest.ChannelID,
		GuildID:   dest.GuildID,
		Bytes:     a.Size(),
	}

	sender, ok := d.resolver.Resolve(dest.Platform, dest.BotID)
	if !ok || sender == nil {
		rep.Skipped++
		rec.Outcome = storage.OutcomeSkipped
		rec.Error = "bot not found"
		log.Warn("bot not found; destination skipped")
		d.record(ctx, log, rec)
		return
	}

	sctx := ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := safeSend(sctx, log, sender, dest, a)
	rec.TookMS = time.Since(start).Milliseconds()
	if err != nil {
		rep.Failed++
		rep.Failures = append(rep.Failures, Failure{Destination: dest, Err: err.Error()})
		rec.Outcome = storage.OutcomeFailed
		rec.Error = err.Error()
		log.Error("broadcast send failed", logx.Err(err), logx.Int64("took_ms", rec.TookMS))
	} else {
		rep.Sent++
		rec.Outcome = storage.OutcomeSent
		log.Debug("broadcast send ok", logx.Int64("took_ms", rec.TookMS))
	}
	d.record(ctx, log, rec)
}

func (d *Dispatcher) record(ctx context.Context, log logx.Logger, rec storage.Delivery) {
	if d.audit == nil {
		return
	}
	rec.At = time.Now()
	if err := d.audit.AppendDelivery(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("delivery audit append failed", logx.Err(err))
	}
}

var errSenderPanic = errors.New("sender panicked")

// safeSend keeps a panicking sender from aborting the sweep.
func safeSend(ctx context.Context, log logx.Logger, s transport.Sender, dest market.Destination, a transport.Artifact) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in sender", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", errSenderPanic, r)
		}
	}()
	return s.Send(ctx, dest.ChannelID, a, dest.GuildID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
