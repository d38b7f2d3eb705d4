package luaengine

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsmostafa/goverticle/internal/engine"
	"github.com/itsmostafa/goverticle/internal/logging"
)

type mapLoader map[string]string

func (m mapLoader) Load(name string) ([]byte, error) {
	src, ok := m[name]
	if !ok {
		return nil, engine.ErrResourceNotFound
	}
	return []byte(src), nil
}

func newHandle(t *testing.T, files mapLoader, mutate ...func(*engine.Options)) *engine.Handle {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.Loader = files
	for _, m := range mutate {
		m(&opts)
	}
	h, err := engine.NewHandle(Language, opts)
	require.NoError(t, err)
	return h
}

func evaluate(t *testing.T, h *engine.Handle, body string, id engine.ScopeID) (engine.Namespace, error) {
	t.Helper()
	p, err := h.Wrap(body, id)
	require.NoError(t, err)
	return h.Evaluate(context.Background(), p, "app.lua")
}

func TestSyntax_WrapLayout(t *testing.T) {
	p, err := engine.Wrap(Syntax{}, "x = 1\ny = 2", "Mod___VertxInternalVert__7")
	require.NoError(t, err)

	lines := strings.Split(p.Text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `local __vertx = require("vertx.sync") local __ns = __vertx.bind("Mod___VertxInternalVert__7") setfenv(1, __ns) do x = 1`, lines[0])
	assert.Equal(t, "y = 2", lines[1])
	assert.Equal(t, "end", lines[2])
	assert.Equal(t, "return __ns", lines[3])
}

func TestBackend_AssignmentLandsInNamespace(t *testing.T) {
	h := newHandle(t, nil)
	ns, err := evaluate(t, h, "x = 1", "Mod___VertxInternalVert__7")
	require.NoError(t, err)

	assert.True(t, h.IsBound("Mod___VertxInternalVert__7"))
	v, err := h.Lookup(ns, "x")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	// Nothing leaks into globals.
	other, err := evaluate(t, h, "y = 2", "Mod___VertxInternalVert__8")
	require.NoError(t, err)
	_, err = h.Lookup(other, "x")
	assert.ErrorIs(t, err, engine.ErrUndefinedName)
}

func TestBackend_Isolation(t *testing.T) {
	h := newHandle(t, nil)
	a, err := evaluate(t, h, "counter = 1\nfunction bump() counter = counter + 1 end", "Mod___VertxInternalVert__100")
	require.NoError(t, err)
	b, err := evaluate(t, h, "counter = 50", "Mod___VertxInternalVert__101")
	require.NoError(t, err)

	require.NoError(t, h.Invoke(context.Background(), a, "bump"))

	va, _ := h.Lookup(a, "counter")
	vb, _ := h.Lookup(b, "counter")
	assert.Equal(t, 2.0, va)
	assert.Equal(t, 50.0, vb)
}

func TestBackend_GlobalsStayReadable(t *testing.T) {
	h := newHandle(t, nil)
	ns, err := evaluate(t, h, "n = math.max(1, 2)\ns = string.upper('a')", "Mod___VertxInternalVert__9")
	require.NoError(t, err)

	v, _ := h.Lookup(ns, "n")
	assert.Equal(t, 2.0, v)
	v, _ = h.Lookup(ns, "s")
	assert.Equal(t, "A", v)
}

func TestBackend_AbsentNamesReadAsNil(t *testing.T) {
	h := newHandle(t, nil)
	ns, err := evaluate(t, h, "if not settings then\n  fallback = true\nend", "Mod___VertxInternalVert__10")
	require.NoError(t, err)

	v, err := h.Lookup(ns, "fallback")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = h.Lookup(ns, "settings")
	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.KindUndefinedName, se.Kind)
	assert.Equal(t, "settings", se.Name)
	assert.ErrorIs(t, err, engine.ErrUndefinedName)
}

func TestBackend_SyntaxErrorKeepsLineNumbers(t *testing.T) {
	h := newHandle(t, nil)
	_, err := evaluate(t, h, "a = 1\nb = 2\nc = = 3", "Mod___VertxInternalVert__11")

	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.KindSyntax, se.Kind)
	require.NotEmpty(t, se.Backtrace)
	assert.Equal(t, "app.lua:3", se.Backtrace[0])
	assert.Contains(t, se.Message, "app.lua:3:")
}

func TestBackend_RuntimeErrorKeepsLineNumbers(t *testing.T) {
	h := newHandle(t, nil)
	_, err := evaluate(t, h, "a = 1\nerror('bad')", "Mod___VertxInternalVert__12")

	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.KindRuntime, se.Kind)
	assert.Contains(t, se.Message, "app.lua:2:")
	assert.Contains(t, se.Message, "bad")
}

func TestBackend_StopHook(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(&buf, "debug", logging.FormatJSON)
	require.NoError(t, err)
	h := newHandle(t, nil, func(o *engine.Options) { o.Logger = log })
	ctx := context.Background()

	ns, err := evaluate(t, h, "function vertx_stop()\n  print('stopping')\nend", "Mod___VertxInternalVert__13")
	require.NoError(t, err)
	assert.True(t, h.HasHook(ns, Language.StopHook))
	require.NoError(t, h.Invoke(ctx, ns, Language.StopHook))
	assert.Contains(t, buf.String(), "stopping")

	ns, err = evaluate(t, h, "x = 0", "Mod___VertxInternalVert__14")
	require.NoError(t, err)
	assert.False(t, h.HasHook(ns, Language.StopHook))
	assert.ErrorIs(t, h.Invoke(ctx, ns, Language.StopHook), engine.ErrHookNotDefined)

	ns, err = evaluate(t, h, "function vertx_stop()\n  error('nope')\nend", "Mod___VertxInternalVert__15")
	require.NoError(t, err)
	err = h.Invoke(ctx, ns, Language.StopHook)
	var invErr *engine.InvocationError
	require.ErrorAs(t, err, &invErr)
	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "nope")
	assert.Contains(t, strings.Join(se.Backtrace, "\n"), "app.lua:2:")
}

func TestBackend_RequireAndDofile(t *testing.T) {
	files := mapLoader{
		"lib/util.lua": "local M = {}\nfunction M.twice(n) return n * 2 end\nreturn M",
		"extra.lua":    "return 21",
	}
	h := newHandle(t, files)

	ns, err := evaluate(t, h, "local util = require('lib.util')\nfrom_require = util.twice(4)\nfrom_dofile = dofile('extra.lua')", "Mod___VertxInternalVert__16")
	require.NoError(t, err)

	v, _ := h.Lookup(ns, "from_require")
	assert.Equal(t, 8.0, v)
	v, _ = h.Lookup(ns, "from_dofile")
	assert.Equal(t, 21.0, v)

	_, err = evaluate(t, h, "require('missing')", "Mod___VertxInternalVert__17")
	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "missing")
}

func TestBackend_HostBindings(t *testing.T) {
	var got []any
	h := newHandle(t, nil, func(o *engine.Options) {
		o.Bindings = engine.Bindings{
			"record": engine.HostFunc(func(args ...any) (any, error) {
				got = append(got, args...)
				return "ok", nil
			}),
			"fail": engine.HostFunc(func(...any) (any, error) {
				return nil, assert.AnError
			}),
			"config": map[string]string{"port": "8080"},
		}
	})

	ns, err := evaluate(t, h, "res = vertx.record('a', 2)\nport = vertx.config.port", "Mod___VertxInternalVert__18")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 2.0}, got)
	v, _ := h.Lookup(ns, "res")
	assert.Equal(t, "ok", v)
	v, _ = h.Lookup(ns, "port")
	assert.Equal(t, "8080", v)

	_, err = evaluate(t, h, "vertx.fail()", "Mod___VertxInternalVert__19")
	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, assert.AnError.Error())
}

func TestBackend_ContextCancelInterrupts(t *testing.T) {
	h := newHandle(t, nil)
	ns, err := evaluate(t, h, "function vertx_stop() while true do end end", "Mod___VertxInternalVert__20")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, h.Invoke(ctx, ns, Language.StopHook))

	_, err = evaluate(t, h, "ok = true", "Mod___VertxInternalVert__21")
	assert.NoError(t, err)
}

func TestBackend_ClearClosesState(t *testing.T) {
	before := engine.LiveHandles()
	h := newHandle(t, nil)
	_, err := evaluate(t, h, "a = 1", "Mod___VertxInternalVert__22")
	require.NoError(t, err)

	assert.ErrorIs(t, h.Clear(), engine.ErrScopesStillBound)
	h.Unbind("Mod___VertxInternalVert__22")
	require.NoError(t, h.Clear())
	assert.Equal(t, before, engine.LiveHandles())
}
