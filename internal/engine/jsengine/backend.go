// Package jsengine runs verticles on the goja JavaScript engine.
package jsengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/itsmostafa/goverticle/internal/engine"
	"github.com/itsmostafa/goverticle/internal/logging"
)

// Language registers the JavaScript backend.
var Language = engine.Language{
	Name:      "JavaScript",
	Extension: ".js",
	StopHook:  "vertxStop",
	New:       New,
}

// Backend is one goja runtime shared by every unit of a factory.
type Backend struct {
	vm      *goja.Runtime
	guard   *engine.LoadGuard
	loader  engine.SourceLoader
	log     logging.Logger
	syntax  *Syntax
	modules *require.RequireModule

	// newScope(global, store) returns the capture proxy for a namespace.
	newScope goja.Callable

	// active is the context of the evaluation or hook in progress. Nested
	// loads re-enter the guard through it.
	active context.Context

	binding []*namespace
	scopes  map[engine.ScopeID]*namespace
}

type namespace struct {
	id      engine.ScopeID
	obj     *goja.Object
	getters map[string]goja.Callable

	// store holds names the body assigned without declaring them.
	store *goja.Object

	at origin
}

func (n *namespace) Scope() engine.ScopeID { return n.id }

// scopeSource builds the proxy a body runs under. A name resolves through
// it unless the global object has it. Reading a name that was never
// assigned throws like an unresolvable reference.
const scopeSource = `(function (global, store) {
	return new Proxy(store, {
		has: function (t, k) {
			return typeof k === "string" && (k in t || !(k in global));
		},
		get: function (t, k) {
			if (typeof k !== "string") {
				return undefined;
			}
			if (k in t) {
				return t[k];
			}
			throw new ReferenceError(k + " is not defined");
		},
		set: function (t, k, v) {
			t[k] = v;
			return true;
		}
	});
})`

// New creates and configures a goja runtime.
func New(guard *engine.LoadGuard, opts engine.Options) (engine.Backend, error) {
	b := &Backend{
		vm:     goja.New(),
		guard:  guard,
		loader: opts.Loader,
		log:    opts.Logger,
		syntax: NewSyntax(opts.Strict, opts.ExportCacheSize),
		active: context.Background(),
		scopes: make(map[engine.ScopeID]*namespace),
	}
	b.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	b.vm.SetMaxCallStackSize(opts.MaxCallStackSize)

	if err := b.setupEnvironment(opts.Bindings); err != nil {
		return nil, err
	}
	return b, nil
}

// setupEnvironment installs the module registry, console, the guarded
// loaders and the host bindings.
func (b *Backend) setupEnvironment(bindings engine.Bindings) error {
	registry := require.NewRegistry(require.WithLoader(b.moduleSource))
	registry.RegisterNativeModule(ShimModule, b.shimModule)
	registry.RegisterNativeModule("console", console.RequireWithPrinter(printer{b.log}))
	b.modules = registry.Enable(b.vm)
	console.Enable(b.vm)

	v, err := b.vm.RunScript("vertx:scope", scopeSource)
	if err != nil {
		return fmt.Errorf("failed to build scope factory: %w", err)
	}
	b.newScope, _ = goja.AssertFunction(v)

	if err := b.vm.Set("require", b.require); err != nil {
		return fmt.Errorf("failed to set require: %w", err)
	}
	if err := b.vm.Set("load", b.load); err != nil {
		return fmt.Errorf("failed to set load: %w", err)
	}

	host := b.vm.NewObject()
	for name, v := range bindings {
		if err := host.Set(name, b.toValue(v)); err != nil {
			return fmt.Errorf("failed to set binding %s: %w", name, err)
		}
	}
	if err := b.vm.Set("vertx", host); err != nil {
		return fmt.Errorf("failed to set vertx: %w", err)
	}
	return nil
}

func (b *Backend) Syntax() engine.Syntax { return b.syntax }

func (b *Backend) Evaluate(ctx context.Context, p engine.Program, source string) (engine.Namespace, error) {
	at := origin{source: source, head: p.Head}
	// Parsing first keeps the error position, which goja.Compile drops.
	parsed, err := parser.ParseFile(nil, source, p.Text, 0)
	if err != nil {
		return nil, compileError(err, at)
	}
	prg, err := goja.CompileAST(parsed, false)
	if err != nil {
		return nil, compileError(err, at)
	}

	defer b.enter(ctx)()
	if _, err := b.vm.RunProgram(prg); err != nil {
		return nil, scriptError(err, at)
	}
	ns, ok := b.scopes[p.Scope]
	if !ok {
		return nil, fmt.Errorf("program %s did not bind namespace %s", source, p.Scope)
	}
	ns.at = at
	return ns, nil
}

// HasHook only looks at the namespace itself. A global function with the
// hook's name belongs to no unit.
func (b *Backend) HasHook(ns engine.Namespace, name string) bool {
	v, err := b.own(ns, name)
	if err != nil || v == nil {
		return false
	}
	_, ok := goja.AssertFunction(v)
	return ok
}

func (b *Backend) Call(ctx context.Context, ns engine.Namespace, name string) error {
	v, err := b.own(ns, name)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return engine.ErrHookNotDefined
	}

	defer b.enter(ctx)()
	if _, err := fn(goja.Undefined()); err != nil {
		return scriptError(err, ns.(*namespace).at)
	}
	return nil
}

func (b *Backend) Lookup(ns engine.Namespace, name string) (any, error) {
	v, err := b.get(ns, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &engine.ScriptError{
			Kind:    engine.KindUndefinedName,
			Name:    name,
			Message: "ReferenceError: " + name + " is not defined",
		}
	}
	return v.Export(), nil
}

// own reads name from the namespace alone: its declarations, then the
// names it captured by assignment. It returns a nil value when neither
// binds it.
func (b *Backend) own(ns engine.Namespace, name string) (goja.Value, error) {
	n, ok := ns.(*namespace)
	if !ok {
		return nil, fmt.Errorf("not a javascript namespace: %T", ns)
	}
	if getter, ok := n.getters[name]; ok {
		v, err := getter(goja.Undefined())
		if err != nil {
			return nil, scriptError(err, n.at)
		}
		return v, nil
	}
	if n.store != nil {
		if v := n.store.Get(name); v != nil {
			return v, nil
		}
	}
	return nil, nil
}

// get reads name from the namespace, then from the global object.
func (b *Backend) get(ns engine.Namespace, name string) (goja.Value, error) {
	v, err := b.own(ns, name)
	if err != nil || v != nil {
		return v, err
	}
	v = b.vm.GlobalObject().Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	return v, nil
}

func (b *Backend) Unbind(id engine.ScopeID) {
	_ = b.vm.GlobalObject().Delete(string(id))
	delete(b.scopes, id)
}

func (b *Backend) IsBound(id engine.ScopeID) bool {
	v := b.vm.GlobalObject().Get(string(id))
	return v != nil && !goja.IsUndefined(v)
}

// Close interrupts anything still running and drops the runtime.
func (b *Backend) Close() {
	b.vm.Interrupt(engine.ErrEngineClosed)
	b.vm = nil
	b.modules = nil
	b.scopes = nil
}

// enter makes ctx the active context and interrupts the runtime when ctx
// is done. The returned func restores the previous state.
func (b *Backend) enter(ctx context.Context) func() {
	if ctx == nil {
		ctx = context.Background()
	}
	vm := b.vm
	prev := b.active
	b.active = ctx
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		vm.Interrupt(ctx.Err())
	})
	return func() {
		if !stop() {
			// The interrupt must land before it is cleared.
			<-fired
			vm.ClearInterrupt()
		}
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

// throw raises err inside the runtime. Script exceptions keep their stack.
func (b *Backend) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(b.vm.NewGoError(err))
}

func (b *Backend) require(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	var v goja.Value
	b.guarded(func() {
		var err error
		if v, err = b.modules.Require(name); err != nil {
			b.throw(err)
		}
	})
	return v
}

// load runs another script in the global scope and returns its completion
// value.
func (b *Backend) load(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	var v goja.Value
	b.guarded(func() {
		src, err := b.loader.Load(name)
		if err != nil {
			b.throw(fmt.Errorf("load %s: %w", name, err))
		}
		if v, err = b.vm.RunScript(name, string(src)); err != nil {
			b.throw(err)
		}
	})
	return v
}

func (b *Backend) moduleSource(path string) ([]byte, error) {
	src, err := b.loader.Load(path)
	if errors.Is(err, engine.ErrResourceNotFound) {
		return nil, require.ModuleFileDoesNotExistError
	}
	return src, err
}

// shimModule exports bind and namespace, which wrapped programs use to
// publish their namespace.
func (b *Backend) shimModule(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	_ = exports.Set("bind", b.bind)
	_ = exports.Set("namespace", b.namespace)
}

// bind(id, fn) runs fn with the namespace's capture proxy, binds the
// namespace it returns under the global id and returns it.
func (b *Backend) bind(call goja.FunctionCall) goja.Value {
	id := engine.ScopeID(call.Argument(0).String())
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(b.vm.NewTypeError("bind: body is not a function"))
	}

	frame := &namespace{id: id, store: b.vm.CreateObject(nil)}
	scope, err := b.newScope(goja.Undefined(), b.vm.GlobalObject(), frame.store)
	if err != nil {
		b.throw(err)
	}
	b.binding = append(b.binding, frame)
	defer func() { b.binding = b.binding[:len(b.binding)-1] }()

	if _, err := fn(goja.Undefined(), scope); err != nil {
		b.throw(err)
	}
	if frame.obj == nil {
		frame.obj = b.vm.NewObject()
	}
	if err := b.vm.GlobalObject().Set(string(id), frame.obj); err != nil {
		b.throw(err)
	}
	b.scopes[id] = frame
	return frame.obj
}

// namespace({name: [getter, setter|null], ...}) fills the namespace being
// bound with live accessors.
func (b *Backend) namespace(call goja.FunctionCall) goja.Value {
	if len(b.binding) == 0 {
		panic(b.vm.NewTypeError("namespace: called outside bind"))
	}
	frame := b.binding[len(b.binding)-1]
	frame.obj = b.vm.NewObject()
	frame.getters = make(map[string]goja.Callable)

	spec := call.Argument(0).ToObject(b.vm)
	for _, name := range spec.Keys() {
		pair := spec.Get(name).ToObject(b.vm)
		getter := pair.Get("0")
		setter := pair.Get("1")
		if setter != nil && goja.IsNull(setter) {
			setter = nil
		}
		fn, ok := goja.AssertFunction(getter)
		if !ok {
			panic(b.vm.NewTypeError("namespace: getter for %s is not a function", name))
		}
		if err := frame.obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			b.throw(err)
		}
		frame.getters[name] = fn
	}
	return frame.obj
}

// toValue converts a host binding into a runtime value. HostFuncs become
// functions whose errors are thrown as GoErrors.
func (b *Backend) toValue(v any) goja.Value {
	fn, ok := v.(engine.HostFunc)
	if !ok {
		return b.vm.ToValue(v)
	}
	return b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		res, err := fn(args...)
		if err != nil {
			panic(b.vm.NewGoError(err))
		}
		return b.vm.ToValue(res)
	})
}

// printer sends console output to the host logger.
type printer struct{ log logging.Logger }

func (p printer) Log(s string)   { p.log.Info(s, "source", "console") }
func (p printer) Info(s string)  { p.log.Info(s, "source", "console") }
func (p printer) Debug(s string) { p.log.Debug(s, "source", "console") }
func (p printer) Warn(s string)  { p.log.Warn(s, "source", "console") }
func (p printer) Error(s string) { p.log.Error(s, "source", "console") }
