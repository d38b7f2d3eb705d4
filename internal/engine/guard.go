package engine

import (
	"context"
	"sync"
)

// LoadGuard serializes every evaluation and script-triggered load on one
// engine. It is reentrant: ownership is carried by the context handed to the
// callback, and a call made with that context runs without locking again.
type LoadGuard struct {
	mu sync.Mutex
}

type guardKey struct{ g *LoadGuard }

// Held reports whether ctx already owns g.
func (g *LoadGuard) Held(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(guardKey{g}).(bool)
	return v
}

// Do runs fn while holding g. The lock is released on every exit path,
// including a panic raised by fn.
func (g *LoadGuard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if g.Held(ctx) {
		return fn(ctx)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(context.WithValue(ctx, guardKey{g}, true))
}
