// Package luaengine runs verticles on gopher-lua (Lua 5.1).
package luaengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/itsmostafa/goverticle/internal/engine"
	"github.com/itsmostafa/goverticle/internal/logging"
)

// Language registers the Lua backend.
var Language = engine.Language{
	Name:      "Lua",
	Extension: ".lua",
	StopHook:  "vertx_stop",
	New:       New,
}

// Backend is one Lua state shared by every unit of a factory.
type Backend struct {
	L      *lua.LState
	guard  *engine.LoadGuard
	loader engine.SourceLoader
	log    logging.Logger

	// active is the context of the evaluation or hook in progress.
	active context.Context

	nsMeta *lua.LTable
	scopes map[engine.ScopeID]*lua.LTable
}

type namespace struct {
	id    engine.ScopeID
	table *lua.LTable
}

func (n *namespace) Scope() engine.ScopeID { return n.id }

// New creates a Lua state with the base, package, table, string, math and
// coroutine libraries.
func New(guard *engine.LoadGuard, opts engine.Options) (engine.Backend, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: opts.MaxCallStackSize,
	})
	b := &Backend{
		L:      L,
		guard:  guard,
		loader: opts.Loader,
		log:    opts.Logger,
		active: context.Background(),
		scopes: make(map[engine.ScopeID]*lua.LTable),
	}
	if err := b.setupEnvironment(opts.Bindings); err != nil {
		L.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) setupEnvironment(bindings engine.Bindings) (err error) {
	L := b.L
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to set up lua state: %v", r)
		}
	}()

	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)
	L.SetTop(0)

	// Namespace reads fall back to globals; absent names read as nil.
	b.nsMeta = L.NewTable()
	L.SetField(b.nsMeta, "__index", L.G.Global)

	pkg := L.GetGlobal("package").(*lua.LTable)
	pkg.RawSetString("path", lua.LString(""))
	loaders := pkg.RawGetString("loaders").(*lua.LTable)
	loaders.RawSetInt(2, L.NewFunction(b.searchResource))
	L.PreloadModule(ShimModule, b.shimModule)

	b.guardGlobal("require")
	b.guardGlobal("load")
	b.guardGlobal("loadstring")
	L.SetGlobal("dofile", L.NewFunction(b.dofile))
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("print", L.NewFunction(b.print))

	host := L.NewTable()
	for name, v := range bindings {
		host.RawSetString(name, b.toLua(v))
	}
	L.SetGlobal("vertx", host)
	return nil
}

func (b *Backend) Syntax() engine.Syntax { return Syntax{} }

func (b *Backend) Evaluate(ctx context.Context, p engine.Program, source string) (engine.Namespace, error) {
	fn, err := b.L.Load(strings.NewReader(p.Text), source)
	if err != nil {
		return nil, compileError(source, err)
	}

	defer b.enter(ctx)()
	if err := b.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return nil, scriptError(err)
	}
	ret := b.L.Get(-1)
	b.L.Pop(1)

	table, ok := b.scopes[p.Scope]
	if !ok || ret != table {
		return nil, fmt.Errorf("program %s did not return namespace %s", source, p.Scope)
	}
	return &namespace{id: p.Scope, table: table}, nil
}

func (b *Backend) HasHook(ns engine.Namespace, name string) bool {
	n, ok := ns.(*namespace)
	if !ok {
		return false
	}
	_, ok = n.table.RawGetString(name).(*lua.LFunction)
	return ok
}

func (b *Backend) Call(ctx context.Context, ns engine.Namespace, name string) error {
	n, ok := ns.(*namespace)
	if !ok {
		return fmt.Errorf("not a lua namespace: %T", ns)
	}
	fn, ok := n.table.RawGetString(name).(*lua.LFunction)
	if !ok {
		return engine.ErrHookNotDefined
	}

	defer b.enter(ctx)()
	if err := b.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return scriptError(err)
	}
	return nil
}

func (b *Backend) Lookup(ns engine.Namespace, name string) (any, error) {
	n, ok := ns.(*namespace)
	if !ok {
		return nil, fmt.Errorf("not a lua namespace: %T", ns)
	}
	v := n.table.RawGetString(name)
	if v == lua.LNil {
		v = b.L.G.Global.RawGetString(name)
	}
	if v == lua.LNil {
		u := &undefinedName{name: name}
		return nil, &engine.ScriptError{Kind: engine.KindUndefinedName, Name: name, Message: u.String()}
	}
	return fromLua(v), nil
}

func (b *Backend) Unbind(id engine.ScopeID) {
	b.L.G.Global.RawSetString(string(id), lua.LNil)
	delete(b.scopes, id)
}

func (b *Backend) IsBound(id engine.ScopeID) bool {
	return b.L.G.Global.RawGetString(string(id)) != lua.LNil
}

func (b *Backend) Close() {
	b.L.Close()
	b.L = nil
	b.scopes = nil
}

// enter makes ctx the active context and lets it cancel running code.
func (b *Backend) enter(ctx context.Context) func() {
	if ctx == nil {
		ctx = context.Background()
	}
	prev := b.active
	b.active = ctx
	b.L.SetContext(ctx)
	return func() {
		b.L.RemoveContext()
		b.active = prev
	}
}

// guarded runs fn under the load guard, re-entering through the active
// context when the guard is already held.
func (b *Backend) guarded(fn func()) {
	_ = b.guard.Do(b.active, func(ctx context.Context) error {
		prev := b.active
		b.active = ctx
		defer func() { b.active = prev }()
		fn()
		return nil
	})
}

// guardGlobal replaces the global function name with one that calls the
// original under the load guard.
func (b *Backend) guardGlobal(name string) {
	orig, ok := b.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return
	}
	b.L.SetGlobal(name, b.L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		n := 0
		b.guarded(func() {
			L.Push(orig)
			for i := 1; i <= top; i++ {
				L.Push(L.Get(i))
			}
			L.Call(top, lua.MultRet)
			n = L.GetTop() - top
		})
		return n
	}))
}

// searchResource is the package.loaders entry that resolves modules
// through the resource loader: "a.b" is read from "a/b.lua".
func (b *Backend) searchResource(L *lua.LState) int {
	name := L.CheckString(1)
	path := strings.ReplaceAll(name, ".", "/") + ".lua"
	src, err := b.loader.Load(path)
	if errors.Is(err, engine.ErrResourceNotFound) {
		L.Push(lua.LString("\n\tno resource '" + path + "'"))
		return 1
	}
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	fn, err := L.Load(bytes.NewReader(src), path)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(fn)
	return 1
}

// dofile runs a resource in the global environment and returns its first
// result.
func (b *Backend) dofile(L *lua.LState) int {
	name := L.CheckString(1)
	b.guarded(func() {
		src, err := b.loader.Load(name)
		if err != nil {
			L.RaiseError("cannot open %s: %s", name, err.Error())
		}
		fn, err := L.Load(bytes.NewReader(src), name)
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(fn)
		L.Call(0, 1)
	})
	return 1
}

func (b *Backend) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	b.log.Info(strings.Join(parts, "\t"), "source", "print")
	return 0
}

// shimModule returns the table wrapped programs use to bind their
// namespace.
func (b *Backend) shimModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"bind": b.bind,
	})
	L.Push(mod)
	return 1
}

// bind(id) creates the namespace table for id and binds it as a global.
func (b *Backend) bind(L *lua.LState) int {
	id := engine.ScopeID(L.CheckString(1))
	ns := L.NewTable()
	L.SetMetatable(ns, b.nsMeta)
	L.G.Global.RawSetString(string(id), ns)
	b.scopes[id] = ns
	L.Push(ns)
	return 1
}

// toLua converts a host binding into a Lua value.
func (b *Backend) toLua(v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case engine.HostFunc:
		return b.L.NewFunction(func(L *lua.LState) int {
			args := make([]any, L.GetTop())
			for i := range args {
				args[i] = fromLua(L.Get(i + 1))
			}
			res, err := v(args...)
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			L.Push(b.toLua(res))
			return 1
		})
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case map[string]string:
		t := b.L.NewTable()
		for k, s := range v {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	case map[string]any:
		t := b.L.NewTable()
		for k, e := range v {
			t.RawSetString(k, b.toLua(e))
		}
		return t
	case []any:
		t := b.L.NewTable()
		for _, e := range v {
			t.Append(b.toLua(e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// fromLua converts a Lua value into a plain Go value. Tables with only a
// sequence part become slices. Functions and userdata are returned as is.
func fromLua(v lua.LValue) any {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.Len(); n > 0 {
			count := 0
			v.ForEach(func(lua.LValue, lua.LValue) { count++ })
			if count == n {
				out := make([]any, 0, n)
				for i := 1; i <= n; i++ {
					out = append(out, fromLua(v.RawGetInt(i)))
				}
				return out
			}
		}
		out := make(map[string]any)
		v.ForEach(func(k, e lua.LValue) { out[k.String()] = fromLua(e) })
		return out
	default:
		return v
	}
}
