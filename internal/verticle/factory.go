// Package verticle creates deployable script units on a shared engine.
package verticle

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/itsmostafa/goverticle/internal/diag"
	"github.com/itsmostafa/goverticle/internal/engine"
	"github.com/itsmostafa/goverticle/internal/engine/jsengine"
	"github.com/itsmostafa/goverticle/internal/engine/luaengine"
	"github.com/itsmostafa/goverticle/internal/logging"
)

var languages = map[string]engine.Language{
	jsengine.Language.Extension:  jsengine.Language,
	luaengine.Language.Extension: luaengine.Language,
}

// Languages lists the supported languages ordered by extension.
func Languages() []engine.Language {
	out := make([]engine.Language, 0, len(languages))
	for _, l := range languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

// LanguageFor returns the language for an extension ("js", ".js") or a
// script name ("app.js").
func LanguageFor(s string) (engine.Language, bool) {
	ext := s
	if e := filepath.Ext(s); e != "" {
		ext = e
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l, ok := languages[strings.ToLower(ext)]
	return l, ok
}

type options struct {
	engine engine.Options
	scopes *engine.NameAllocator
}

// Option configures a Factory.
type Option func(*options)

// WithLogger sets the sink for diagnostics and script output.
func WithLogger(log logging.Logger) Option {
	return func(o *options) { o.engine.Logger = log }
}

// WithBindings sets the host object exposed to scripts as "vertx".
func WithBindings(b engine.Bindings) Option {
	return func(o *options) { o.engine.Bindings = b }
}

// WithStrict toggles strict mode for JavaScript bodies.
func WithStrict(strict bool) Option {
	return func(o *options) { o.engine.Strict = strict }
}

// WithExportCacheSize bounds the JavaScript export-list cache.
func WithExportCacheSize(n int) Option {
	return func(o *options) { o.engine.ExportCacheSize = n }
}

// WithScopes replaces the process-wide scope allocator.
func WithScopes(a *engine.NameAllocator) Option {
	return func(o *options) { o.scopes = a }
}

// Factory creates units for one language. All its units share one engine.
type Factory struct {
	lang       engine.Language
	handle     *engine.Handle
	loader     Loader
	log        logging.Logger
	translator *diag.Translator
	scopes     *engine.NameAllocator

	mu     sync.Mutex
	closed bool
}

// NewFactory configures an engine for ext and returns a factory that
// loads verticles through loader.
func NewFactory(ext string, loader Loader, opts ...Option) (*Factory, error) {
	lang, ok := LanguageFor(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, ext)
	}

	o := options{engine: engine.DefaultOptions(), scopes: engine.Scopes}
	for _, opt := range opts {
		opt(&o)
	}
	o.engine.Loader = loader

	h, err := engine.NewHandle(lang, o.engine)
	if err != nil {
		return nil, err
	}
	return &Factory{
		lang:       lang,
		handle:     h,
		loader:     loader,
		log:        o.engine.Logger,
		translator: diag.NewTranslator(lang.Extension),
		scopes:     o.scopes,
	}, nil
}

func (f *Factory) Language() engine.Language { return f.lang }

// Handle exposes the shared engine.
func (f *Factory) Handle() *engine.Handle { return f.handle }

// CreateVerticle returns an unstarted unit for the script name.
func (f *Factory) CreateVerticle(name string) *Unit {
	return &Unit{name: name, factory: f}
}

// Close releases the engine. It succeeds once and is a no-op afterwards.
// Units that are still running keep the engine alive and make Close fail.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if err := f.handle.Clear(); err != nil {
		return err
	}
	f.closed = true
	return nil
}

func (f *Factory) report(err error) {
	f.translator.Report(f.log, f.lang.Name, err)
}
