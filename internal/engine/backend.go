package engine

import (
	"context"

	"github.com/itsmostafa/goverticle/internal/logging"
)

// Namespace is an engine-specific reference to an evaluated scope.
type Namespace interface {
	Scope() ScopeID
}

// Backend is one embedded engine instance. Backends are not safe for
// concurrent use; Handle provides the thread affinity they need.
type Backend interface {
	Syntax() Syntax
	// Evaluate runs p. ctx owns the handle's LoadGuard for the duration.
	Evaluate(ctx context.Context, p Program, source string) (Namespace, error)
	HasHook(ns Namespace, name string) bool
	// Call invokes the zero-argument callable name in ns.
	Call(ctx context.Context, ns Namespace, name string) error
	Lookup(ns Namespace, name string) (any, error)
	Unbind(id ScopeID)
	IsBound(id ScopeID) bool
	Close()
}

// BackendFactory builds a backend. The guard must wrap every load the
// engine performs on behalf of a script.
type BackendFactory func(guard *LoadGuard, opts Options) (Backend, error)

// Language describes one supported scripting language.
type Language struct {
	Name      string
	Extension string // with leading dot
	StopHook  string
	New       BackendFactory
}

// SourceLoader resolves a script name to its source text. Missing names
// must yield an error matching ErrResourceNotFound.
type SourceLoader interface {
	Load(name string) ([]byte, error)
}

// SourceLoaderFunc adapts a function to SourceLoader.
type SourceLoaderFunc func(name string) ([]byte, error)

func (f SourceLoaderFunc) Load(name string) ([]byte, error) { return f(name) }

// HostFunc is a host function callable from scripts. Arguments and the
// result are plain Go values: nil, bool, float64, int64, string, []any and
// map[string]any.
type HostFunc func(args ...any) (any, error)

// Bindings are injected into every engine as the global object "vertx".
// Values are HostFuncs or plain Go values.
type Bindings map[string]any

// Options configures a backend at construction.
type Options struct {
	Loader   SourceLoader
	Logger   logging.Logger
	Bindings Bindings

	// Strict runs JavaScript namespace bodies in strict mode, which turns
	// assignments to undeclared names into errors.
	Strict bool

	// ExportCacheSize bounds the cache of parsed export lists.
	ExportCacheSize int

	MaxCallStackSize int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Logger:           logging.NoOp(),
		Strict:           true,
		ExportCacheSize:  256,
		MaxCallStackSize: 1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	if o.ExportCacheSize <= 0 {
		o.ExportCacheSize = d.ExportCacheSize
	}
	if o.MaxCallStackSize <= 0 {
		o.MaxCallStackSize = d.MaxCallStackSize
	}
	if o.Loader == nil {
		o.Loader = SourceLoaderFunc(func(string) ([]byte, error) { return nil, ErrResourceNotFound })
	}
	return o
}
