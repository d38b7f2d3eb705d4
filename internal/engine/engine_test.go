package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameAllocator_Next(t *testing.T) {
	var a NameAllocator
	assert.Equal(t, ScopeID("Mod___VertxInternalVert__0"), a.Next())
	assert.Equal(t, ScopeID("Mod___VertxInternalVert__1"), a.Next())
}

func TestNameAllocator_Concurrent(t *testing.T) {
	var a NameAllocator
	const workers, per = 8, 200

	var mu sync.Mutex
	seen := make(map[ScopeID]bool)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				id := a.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
}

func TestScopeID_Valid(t *testing.T) {
	tests := []struct {
		id   ScopeID
		want bool
	}{
		{"Mod___VertxInternalVert__7", true},
		{"Mod___VertxInternalVert__", false},
		{"Mod___VertxInternalVert__x", false},
		{"Other7", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.id.Valid(), string(tt.id))
	}
}

func TestLoadGuard_Reentrant(t *testing.T) {
	var g LoadGuard
	ctx := context.Background()
	assert.False(t, g.Held(ctx))

	depth := 0
	err := g.Do(ctx, func(ctx context.Context) error {
		assert.True(t, g.Held(ctx))
		return g.Do(ctx, func(ctx context.Context) error {
			depth++
			return g.Do(ctx, func(context.Context) error {
				depth++
				return nil
			})
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestLoadGuard_ReleasedOnErrorAndPanic(t *testing.T) {
	var g LoadGuard
	boom := errors.New("boom")

	err := g.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func(context.Context) error { panic("bad") })
	})

	done := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("guard was not released")
	}
}

func TestLoadGuard_Exclusive(t *testing.T) {
	var g LoadGuard
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

type testSyntax struct{ prelude string }

func (s testSyntax) Prelude() string            { return s.prelude }
func (testSyntax) Open(id ScopeID) string       { return "open " + string(id) + ": " }
func (testSyntax) Close(ScopeID, string) string { return "\nclose" }
func (testSyntax) Trailer(id ScopeID) string    { return "\n" + string(id) }

func TestWrap_PreservesLines(t *testing.T) {
	body := "a = 1\nb = 2\nc = 3"
	p, err := Wrap(testSyntax{prelude: "shim; "}, body, "Mod___VertxInternalVert__7")
	require.NoError(t, err)

	lines := strings.Split(p.Text, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "shim; open Mod___VertxInternalVert__7: a = 1", lines[0])
	assert.Equal(t, "b = 2", lines[1])
	assert.Equal(t, "c = 3", lines[2])
	assert.Equal(t, "close", lines[3])
	assert.Equal(t, "Mod___VertxInternalVert__7", lines[4])
	assert.Equal(t, 3, p.Lines)
	assert.Equal(t, ScopeID("Mod___VertxInternalVert__7"), p.Scope)
	assert.Equal(t, len("shim; open Mod___VertxInternalVert__7: "), p.Head)
	assert.Equal(t, "a = 1", lines[0][p.Head:])
}

func TestWrap_RejectsMultilinePrelude(t *testing.T) {
	_, err := Wrap(testSyntax{prelude: "shim\n"}, "x", "Mod___VertxInternalVert__1")
	assert.Error(t, err)
}

// fakeBackend records calls and keeps namespaces in a map.
type fakeBackend struct {
	globals map[ScopeID]*fakeNS
	fail    error
	hookErr error
	calls   []string
	closed  bool
}

type fakeNS struct {
	id    ScopeID
	names map[string]any
}

func (n *fakeNS) Scope() ScopeID { return n.id }

func newFakeBackend(*LoadGuard, Options) (Backend, error) {
	return &fakeBackend{globals: make(map[ScopeID]*fakeNS)}, nil
}

func (b *fakeBackend) Syntax() Syntax { return testSyntax{} }

func (b *fakeBackend) Evaluate(_ context.Context, p Program, _ string) (Namespace, error) {
	ns := &fakeNS{id: p.Scope, names: map[string]any{"stop": true}}
	b.globals[p.Scope] = ns
	if b.fail != nil {
		return nil, b.fail
	}
	return ns, nil
}

func (b *fakeBackend) HasHook(ns Namespace, name string) bool {
	_, ok := ns.(*fakeNS).names[name]
	return ok
}

func (b *fakeBackend) Call(_ context.Context, _ Namespace, name string) error {
	b.calls = append(b.calls, name)
	return b.hookErr
}

func (b *fakeBackend) Lookup(ns Namespace, name string) (any, error) {
	v, ok := ns.(*fakeNS).names[name]
	if !ok {
		return nil, ErrUndefinedName
	}
	return v, nil
}

func (b *fakeBackend) Unbind(id ScopeID) { delete(b.globals, id) }

func (b *fakeBackend) IsBound(id ScopeID) bool {
	_, ok := b.globals[id]
	return ok
}

func (b *fakeBackend) Close() { b.closed = true }

var fakeLang = Language{Name: "fake", Extension: ".fake", StopHook: "stop", New: newFakeBackend}

func TestHandle_Lifecycle(t *testing.T) {
	before := LiveHandles()
	h, err := NewHandle(fakeLang, Options{})
	require.NoError(t, err)
	assert.Equal(t, before+1, LiveHandles())

	ctx := context.Background()
	p, err := h.Wrap("x", "Mod___VertxInternalVert__1")
	require.NoError(t, err)

	ns, err := h.Evaluate(ctx, p, "a.fake")
	require.NoError(t, err)
	assert.True(t, h.IsBound(p.Scope))
	assert.True(t, h.HasHook(ns, "stop"))
	assert.False(t, h.HasHook(ns, "other"))

	assert.ErrorIs(t, h.Invoke(ctx, ns, "other"), ErrHookNotDefined)
	require.NoError(t, h.Invoke(ctx, ns, "stop"))

	_, err = h.Lookup(ns, "missing")
	assert.ErrorIs(t, err, ErrUndefinedName)

	assert.ErrorIs(t, h.Clear(), ErrScopesStillBound)
	assert.Equal(t, before+1, LiveHandles())

	h.Unbind(p.Scope)
	assert.False(t, h.IsBound(p.Scope))
	require.NoError(t, h.Clear())
	require.NoError(t, h.Clear())
	assert.Equal(t, before, LiveHandles())

	_, err = h.Evaluate(ctx, p, "a.fake")
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = h.Wrap("x", "Mod___VertxInternalVert__2")
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestHandle_EvaluateFailureUnbinds(t *testing.T) {
	h, err := NewHandle(fakeLang, Options{})
	require.NoError(t, err)
	fb := h.backend.(*fakeBackend)
	fb.fail = &ScriptError{Kind: KindRuntime, Message: "bad"}

	p, err := h.Wrap("x", "Mod___VertxInternalVert__9")
	require.NoError(t, err)
	_, err = h.Evaluate(context.Background(), p, "a.fake")

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad", se.Message)
	assert.False(t, h.IsBound(p.Scope))
	assert.Equal(t, 0, h.Bound())
	require.NoError(t, h.Clear())
}

func TestHandle_InvokeFailure(t *testing.T) {
	h, err := NewHandle(fakeLang, Options{})
	require.NoError(t, err)
	fb := h.backend.(*fakeBackend)

	p, _ := h.Wrap("x", "Mod___VertxInternalVert__10")
	ns, err := h.Evaluate(context.Background(), p, "a.fake")
	require.NoError(t, err)

	fb.hookErr = errors.New("hook failed")
	err = h.Invoke(context.Background(), ns, "stop")
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "stop", invErr.Hook)

	h.Unbind(p.Scope)
	require.NoError(t, h.Clear())
	assert.True(t, fb.closed)
}

func TestScriptError_Is(t *testing.T) {
	err := &EvaluationError{Source: "a.js", Err: &ScriptError{Kind: KindUndefinedName, Name: "x"}}
	assert.ErrorIs(t, err, ErrUndefinedName)

	err = &EvaluationError{Source: "a.js", Err: &ScriptError{Kind: KindSyntax}}
	assert.NotErrorIs(t, err, ErrUndefinedName)
}
