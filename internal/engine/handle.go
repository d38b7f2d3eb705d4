package engine

import (
	"context"
	"fmt"
	"sync"
)

// live holds every handle that has not been cleared.
var live sync.Map

// LiveHandles reports how many handles still own an engine.
func LiveHandles() int {
	n := 0
	live.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Handle owns one engine instance shared by all units of a factory.
//
// Engines are single-threaded, so every call holds mu. Lock order is mu
// then the LoadGuard; a hook that triggers a nested load while mu is held
// takes the guard second and cannot deadlock against an evaluation.
type Handle struct {
	mu      sync.Mutex
	lang    Language
	guard   *LoadGuard
	backend Backend
	bound   map[ScopeID]struct{}
}

// NewHandle creates and configures a backend for lang.
func NewHandle(lang Language, opts Options) (*Handle, error) {
	if lang.New == nil {
		return nil, fmt.Errorf("language %q has no backend", lang.Name)
	}
	guard := &LoadGuard{}
	b, err := lang.New(guard, opts.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("configure %s engine: %w", lang.Name, err)
	}
	h := &Handle{
		lang:    lang,
		guard:   guard,
		backend: b,
		bound:   make(map[ScopeID]struct{}),
	}
	live.Store(h, struct{}{})
	return h, nil
}

func (h *Handle) Language() Language { return h.lang }

// Guard returns the handle's load guard.
func (h *Handle) Guard() *LoadGuard { return h.guard }

// Wrap wraps body for this handle's language.
func (h *Handle) Wrap(body string, id ScopeID) (Program, error) {
	h.mu.Lock()
	b := h.backend
	h.mu.Unlock()
	if b == nil {
		return Program{}, ErrEngineClosed
	}
	return Wrap(b.Syntax(), body, id)
}

// Evaluate runs p under the load guard and returns its namespace. On
// failure nothing stays bound under p.Scope.
func (h *Handle) Evaluate(ctx context.Context, p Program, source string) (Namespace, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backend == nil {
		return nil, ErrEngineClosed
	}

	var ns Namespace
	err := h.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		ns, err = h.backend.Evaluate(ctx, p, source)
		return err
	})
	if err != nil {
		h.backend.Unbind(p.Scope)
		return nil, &EvaluationError{Source: source, Err: err}
	}
	h.bound[p.Scope] = struct{}{}
	return ns, nil
}

// Invoke calls the zero-argument hook in ns. It returns ErrHookNotDefined
// when ns has no callable by that name.
func (h *Handle) Invoke(ctx context.Context, ns Namespace, hook string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backend == nil {
		return ErrEngineClosed
	}
	if !h.backend.HasHook(ns, hook) {
		return ErrHookNotDefined
	}
	if err := h.backend.Call(ctx, ns, hook); err != nil {
		return &InvocationError{Hook: hook, Err: err}
	}
	return nil
}

// HasHook reports whether ns defines a callable named name.
func (h *Handle) HasHook(ns Namespace, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backend != nil && h.backend.HasHook(ns, name)
}

// Lookup resolves name through ns, falling back to the engine's globals.
func (h *Handle) Lookup(ns Namespace, name string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backend == nil {
		return nil, ErrEngineClosed
	}
	return h.backend.Lookup(ns, name)
}

// Unbind removes the global binding for id. Unknown ids are ignored.
func (h *Handle) Unbind(id ScopeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backend == nil {
		return
	}
	h.backend.Unbind(id)
	delete(h.bound, id)
}

// IsBound reports whether id is reachable from the engine's globals.
func (h *Handle) IsBound(id ScopeID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backend != nil && h.backend.IsBound(id)
}

// Bound returns the number of scopes evaluated and not yet unbound.
func (h *Handle) Bound() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bound)
}

// Clear releases the engine. It is idempotent. While scopes are still bound
// it returns ErrScopesStillBound and the engine stays usable.
func (h *Handle) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backend == nil {
		return nil
	}
	if n := len(h.bound); n > 0 {
		return fmt.Errorf("clear %s engine: %w (%d)", h.lang.Name, ErrScopesStillBound, n)
	}
	h.backend.Close()
	h.backend = nil
	live.Delete(h)
	return nil
}
