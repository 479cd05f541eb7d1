package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/broadcast"
	"marketwatch/internal/eventbus"
	"marketwatch/internal/market"
	"marketwatch/internal/transport"
	"marketwatch/pkg/logx"
)

func catalog(pairs ...string) market.Catalog {
	var c market.Catalog
	for i := 0; i+1 < len(pairs); i += 2 {
		c.Objects = append(c.Objects, market.CatalogObject{ShortName: pairs[i], Package: market.CatalogPackage{Version: pairs[i+1]}})
	}
	return c
}

// scriptFetcher returns its results in order; errors are returned as-is.
type scriptFetcher struct {
	mu    sync.Mutex
	steps []any
	block chan struct{}
}

func (f *scriptFetcher) Fetch(ctx context.Context) (market.Catalog, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return market.Catalog{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) == 0 {
		return market.Catalog{}, errors.New("script exhausted")
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	if err, ok := step.(error); ok {
		return market.Catalog{}, err
	}
	return step.(market.Catalog), nil
}

type fakeRenderer struct {
	calls [][]market.Change
	err   error
}

func (r *fakeRenderer) Render(_ context.Context, changes []market.Change) (transport.Artifact, error) {
	r.calls = append(r.calls, changes)
	if r.err != nil {
		return transport.Artifact{}, r.err
	}
	return transport.Artifact{Text: "cards"}, nil
}

type fakeDispatcher struct {
	calls atomic.Int32
	last  transport.Artifact
	dests []market.Destination
}

func (d *fakeDispatcher) Dispatch(_ context.Context, a transport.Artifact, dests []market.Destination) broadcast.Report {
	d.calls.Add(1)
	d.last = a
	d.dests = dests
	return broadcast.Report{Total: len(dests), Sent: len(dests)}
}

var dests = []market.Destination{{Platform: "telegram", BotID: "main", ChannelID: "1"}}

func newWatcher(f Fetcher, r Renderer, d Dispatcher, bus eventbus.Bus) *Watcher {
	return New(Config{Destinations: dests, Diff: market.DiffOptions{ShowDeletion: true}}, f, r, d, bus, logx.Nop())
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	f := &scriptFetcher{steps: []any{catalog("A", "1.0.0"), catalog("A", "1.0.0", "B", "1.0.0")}}
	r := &fakeRenderer{}
	d := &fakeDispatcher{}
	w := newWatcher(f, r, d, nil)

	require.NoError(t, w.Init(context.Background()))
	assert.Equal(t, int32(0), d.calls.Load(), "init never dispatches")

	res := w.Tick(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, market.Change{Kind: market.KindAdded, Name: "B", Version: "1.0.0"}, res.Changes[0])
	require.Len(t, r.calls, 1)
	assert.Equal(t, int32(1), d.calls.Load())
	assert.Equal(t, "cards", d.last.Text)
	assert.Equal(t, dests, d.dests)
	require.NotNil(t, res.Report)

	cur, ok := w.Current()
	require.True(t, ok)
	assert.Len(t, cur, 2)
}

func TestNoChangesNoRender(t *testing.T) {
	t.Parallel()

	f := &scriptFetcher{steps: []any{catalog("A", "1"), catalog("A", "1")}}
	r := &fakeRenderer{}
	d := &fakeDispatcher{}
	w := newWatcher(f, r, d, nil)

	require.NoError(t, w.Init(context.Background()))
	res := w.Tick(context.Background())
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Changes)
	assert.Empty(t, r.calls)
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestFetchFailureKeepsPrevious(t *testing.T) {
	t.Parallel()

	boom := errors.New("502")
	f := &scriptFetcher{steps: []any{catalog("A", "1"), boom, catalog("A", "2")}}
	r := &fakeRenderer{}
	d := &fakeDispatcher{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	w := newWatcher(f, r, d, bus)

	require.NoError(t, w.Init(context.Background()))
	res := w.Tick(context.Background())
	assert.ErrorIs(t, res.Err, boom)
	cur, _ := w.Current()
	assert.Equal(t, "1", cur["A"].Version)

	res = w.Tick(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "updated A (1 → 2)", res.Changes[0].String())

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{eventbus.TypeBaseline, eventbus.TypeFetchFailed, eventbus.TypeChanges}, types)
}

func TestRenderFailureAdvancesAndSkipsDispatch(t *testing.T) {
	t.Parallel()

	f := &scriptFetcher{steps: []any{catalog("A", "1"), catalog("A", "2"), catalog("A", "2")}}
	r := &fakeRenderer{err: errors.New("no browser")}
	d := &fakeDispatcher{}
	w := newWatcher(f, r, d, nil)

	require.NoError(t, w.Init(context.Background()))
	res := w.Tick(context.Background())
	require.Error(t, res.Err)
	assert.Len(t, res.Changes, 1)
	assert.Equal(t, int32(0), d.calls.Load())

	// The dropped change is not reported again.
	r.err = nil
	res = w.Tick(context.Background())
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Changes)
	assert.Len(t, r.calls, 1)
}

func TestFailedInitBaselineOnNextTick(t *testing.T) {
	t.Parallel()

	f := &scriptFetcher{steps: []any{errors.New("down"), catalog("A", "1", "B", "1"), catalog("A", "1", "B", "1", "C", "1")}}
	r := &fakeRenderer{}
	d := &fakeDispatcher{}
	w := newWatcher(f, r, d, nil)

	require.Error(t, w.Init(context.Background()))
	_, ok := w.Current()
	assert.False(t, ok)

	res := w.Tick(context.Background())
	assert.True(t, res.Baseline)
	assert.Empty(t, res.Changes)
	assert.Equal(t, int32(0), d.calls.Load())

	res = w.Tick(context.Background())
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "C", res.Changes[0].Name)
	assert.False(t, w.LastFetch().IsZero())
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()

	f := &scriptFetcher{steps: []any{catalog("A", "1"), catalog("A", "2")}}
	r := &fakeRenderer{}
	d := &fakeDispatcher{}
	w := newWatcher(f, r, d, nil)
	require.NoError(t, w.Init(context.Background()))

	f.block = make(chan struct{})
	first := make(chan TickResult, 1)
	go func() { first <- w.Tick(context.Background()) }()

	require.Eventually(t, func() bool { return w.running.Load() }, time.Second, time.Millisecond)
	second := w.Tick(context.Background())
	assert.True(t, second.Skipped)
	assert.ErrorIs(t, second.Err, ErrBusy)

	close(f.block)
	res := <-first
	require.NoError(t, res.Err)
	assert.Len(t, res.Changes, 1)
	assert.Equal(t, int32(1), d.calls.Load())
}
