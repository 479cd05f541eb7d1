// Package watch runs the poll loop: fetch the catalog, diff it against the
// previous snapshot, render the changes and hand the artifact to the
// dispatcher.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"marketwatch/internal/broadcast"
	"marketwatch/internal/eventbus"
	"marketwatch/internal/market"
	"marketwatch/internal/transport"
	"marketwatch/pkg/logx"
)

type Fetcher interface {
	Fetch(ctx context.Context) (market.Catalog, error)
}

type Renderer interface {
	Render(ctx context.Context, changes []market.Change) (transport.Artifact, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, a transport.Artifact, dests []market.Destination) broadcast.Report
}

type Config struct {
	ShowHidden   bool
	Diff         market.DiffOptions
	Destinations []market.Destination
}

// TickResult describes what one tick did.
type TickResult struct {
	Skipped  bool // another tick was in flight
	Baseline bool // this tick established the first snapshot
	Changes  []market.Change
	Report   *broadcast.Report
	Err      error
}

var (
	ErrBusy       = errors.New("watch: tick already running")
	ErrNoBaseline = errors.New("watch: no snapshot yet")
)

// Watcher owns the previous snapshot. Only Init and Tick replace it; Current
// may be read from any goroutine.
type Watcher struct {
	cfg      Config
	fetch    Fetcher
	render   Renderer
	dispatch Dispatcher
	bus      eventbus.Bus
	log      logx.Logger

	prev    atomic.Pointer[market.Snapshot]
	running atomic.Bool
	ticks   atomic.Uint64
	lastOK  atomic.Int64 // unix nano of the last successful fetch
}

func New(cfg Config, f Fetcher, r Renderer, d Dispatcher, bus eventbus.Bus, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Watcher{
		cfg:      cfg,
		fetch:    f,
		render:   r,
		dispatch: d,
		bus:      bus,
		log:      log.With(logx.String("comp", "watch")),
	}
}

// Current returns the retained snapshot, or false before the first
// successful fetch.
func (w *Watcher) Current() (market.Snapshot, bool) {
	p := w.prev.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// LastFetch is the time of the last successful fetch (zero if none).
func (w *Watcher) LastFetch() time.Time {
	ns := w.lastOK.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Init fetches once and stores the result as the baseline. Nothing is
// diffed or sent. On failure the baseline stays empty and the next Tick
// takes over that role.
func (w *Watcher) Init(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer w.running.Store(false)

	snap, err := w.fetchSnapshot(ctx)
	if err != nil {
		w.log.Warn("initial fetch failed; next tick sets the baseline", logx.Err(err))
		return err
	}
	w.setBaseline(snap)
	return nil
}

// Tick runs one poll cycle. A tick that starts while another is in flight
// returns immediately with Skipped set.
func (w *Watcher) Tick(ctx context.Context) TickResult {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug("tick skipped; previous tick still running")
		return TickResult{Skipped: true, Err: ErrBusy}
	}
	defer w.running.Store(false)

	n := w.ticks.Add(1)
	log := w.log.With(logx.Uint64("tick", n))
	start := time.Now()

	cur, err := w.fetchSnapshot(ctx)
	if err != nil {
		log.Warn("fetch failed; keeping previous snapshot", logx.Err(err))
		return TickResult{Err: err}
	}

	prevPtr := w.prev.Load()
	if prevPtr == nil {
		w.setBaseline(cur)
		return TickResult{Baseline: true}
	}

	changes := market.Diff(*prevPtr, cur, w.cfg.Diff)
	// Advance before rendering: a change is reported at most once even if
	// rendering or delivery fails below.
	w.prev.Store(&cur)

	if len(changes) == 0 {
		log.Debug("no market changes", logx.Int("packages", len(cur)), logx.Duration("took", time.Since(start)))
		return TickResult{}
	}

	added, updated, removed := market.Count(changes)
	log.Info("market changes detected",
		logx.Int("added", added),
		logx.Int("updated", updated),
		logx.Int("removed", removed),
	)
	w.bus.Publish(eventbus.Event{Type: eventbus.TypeChanges, Data: eventbus.Changes{Added: added, Updated: updated, Removed: removed}})

	art, err := w.render.Render(ctx, changes)
	if err != nil {
		log.Error("render failed; changes dropped for this cycle", logx.Err(err), logx.Int("changes", len(changes)))
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeRenderFailed, Data: eventbus.Failure{Err: err.Error()}})
		return TickResult{Changes: changes, Err: fmt.Errorf("render: %w", err)}
	}

	rep := w.dispatch.Dispatch(ctx, art, w.cfg.Destinations)
	log.Debug("tick finished", logx.Duration("took", time.Since(start)))
	return TickResult{Changes: changes, Report: &rep}
}

func (w *Watcher) fetchSnapshot(ctx context.Context) (market.Snapshot, error) {
	cat, err := w.fetch.Fetch(ctx)
	if err != nil {
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeFetchFailed, Data: eventbus.Failure{Err: err.Error()}})
		return nil, err
	}
	w.lastOK.Store(time.Now().UnixNano())
	return market.Normalize(cat, w.cfg.ShowHidden), nil
}

func (w *Watcher) setBaseline(s market.Snapshot) {
	w.prev.Store(&s)
	w.log.Info("market baseline set", logx.Int("packages", len(s)))
	w.bus.Publish(eventbus.Event{Type: eventbus.TypeBaseline, Data: eventbus.Baseline{Packages: len(s)}})
}
