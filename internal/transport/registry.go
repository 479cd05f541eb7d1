package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type botKey struct {
	platform string
	id       string
}

func keyOf(platform, botID string) botKey {
	return botKey{platform: strings.ToLower(strings.TrimSpace(platform)), id: strings.TrimSpace(botID)}
}

// Registry resolves bots by (platform, bot id). Registration order is kept
// so Start/Stop are deterministic.
type Registry struct {
	mu    sync.RWMutex
	bots  map[botKey]Bot
	order []botKey
}

func NewRegistry() *Registry {
	return &Registry{bots: map[botKey]Bot{}}
}

func (r *Registry) Register(b Bot) error {
	if b == nil {
		return fmt.Errorf("nil bot")
	}
	k := keyOf(b.Platform(), b.ID())
	if k.platform == "" || k.id == "" {
		return fmt.Errorf("bot platform and id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.bots[k]; dup {
		return fmt.Errorf("duplicate bot %s/%s", k.platform, k.id)
	}
	r.bots[k] = b
	r.order = append(r.order, k)
	return nil
}

func (r *Registry) Lookup(platform, botID string) (Bot, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[keyOf(platform, botID)]
	return b, ok
}

// Resolve returns the sender bound to (platform, botID).
func (r *Registry) Resolve(platform, botID string) (Sender, bool) {
	b, ok := r.Lookup(platform, botID)
	if !ok {
		return nil, false
	}
	return b, true
}

func (r *Registry) All() []Bot {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bot, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.bots[k])
	}
	return out
}

// Start starts every bot in registration order and stops at the first error.
func (r *Registry) Start(ctx context.Context, out chan<- Update) error {
	for _, b := range r.All() {
		if err := b.Start(ctx, out); err != nil {
			return fmt.Errorf("start %s/%s: %w", b.Platform(), b.ID(), err)
		}
	}
	return nil
}

// Stop stops bots in reverse order; the first error is returned after all
// bots had a chance to stop.
func (r *Registry) Stop(ctx context.Context) error {
	bots := r.All()
	var first error
	for i := len(bots) - 1; i >= 0; i-- {
		if err := bots[i].Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
