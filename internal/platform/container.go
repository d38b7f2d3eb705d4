// Package platform deploys verticles of any supported language and keeps
// track of running deployments.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsmostafa/goverticle/internal/logging"
	"github.com/itsmostafa/goverticle/internal/verticle"
)

var (
	// ErrUnknownDeployment is returned by Undeploy for an id that is not
	// deployed.
	ErrUnknownDeployment = errors.New("unknown deployment")

	// ErrClosed is returned once the container is closing.
	ErrClosed = errors.New("container closed")
)

// Deployment is a snapshot of one deployed verticle.
type Deployment struct {
	ID        string
	Main      string
	Instances int
	Deployed  time.Time
}

type deployment struct {
	Deployment
	units []*verticle.Unit
}

// Container owns one factory per language and the deployments made
// through them.
type Container struct {
	loader      verticle.Loader
	log         logging.Logger
	config      map[string]string
	factoryOpts []verticle.Option

	mu          sync.Mutex
	factories   map[string]*verticle.Factory
	deployments map[string]*deployment
	closing     bool

	// pending tracks deploys and undeploys requested by scripts.
	pending sync.WaitGroup
	// starting tracks deploys that got a factory and are starting units.
	starting sync.WaitGroup
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the container and script logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Container) { c.log = log }
}

// WithConfig sets the map exposed to scripts as vertx.config.
func WithConfig(cfg map[string]string) Option {
	return func(c *Container) { c.config = cfg }
}

// WithFactoryOptions passes extra options to every factory.
func WithFactoryOptions(opts ...verticle.Option) Option {
	return func(c *Container) { c.factoryOpts = append(c.factoryOpts, opts...) }
}

// NewContainer creates a container that loads scripts through loader.
func NewContainer(loader verticle.Loader, opts ...Option) *Container {
	c := &Container{
		loader:      loader,
		log:         logging.NoOp(),
		config:      map[string]string{},
		factories:   make(map[string]*verticle.Factory),
		deployments: make(map[string]*deployment),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deploy starts instances units of main and returns the deployment id. If
// any instance fails to start, the instances already started are stopped
// and no deployment is recorded.
func (c *Container) Deploy(ctx context.Context, main string, instances int) (string, error) {
	id := uuid.New().String()
	if err := c.deploy(ctx, id, main, instances); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Container) deploy(ctx context.Context, id, main string, instances int) error {
	if instances < 1 {
		return fmt.Errorf("deploy %s: instances must be at least 1, got %d", main, instances)
	}
	f, err := c.factory(main)
	if err != nil {
		return err
	}
	defer c.starting.Done()

	d := &deployment{Deployment: Deployment{ID: id, Main: main, Instances: instances}}
	for i := 0; i < instances; i++ {
		u := f.CreateVerticle(main)
		if err := u.Start(ctx); err != nil {
			c.stopUnits(ctx, d.units)
			return fmt.Errorf("deploy %s: %w", main, err)
		}
		d.units = append(d.units, u)
	}
	d.Deployed = time.Now()

	c.mu.Lock()
	c.deployments[id] = d
	c.mu.Unlock()
	c.log.Info("deployed verticle", "id", id, "main", main, "instances", instances)
	return nil
}

// Undeploy stops every unit of the deployment. Hook failures are logged by
// the factory; the first one is returned after all units have stopped.
func (c *Container) Undeploy(ctx context.Context, id string) error {
	c.mu.Lock()
	d, ok := c.deployments[id]
	if ok {
		delete(c.deployments, id)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDeployment, id)
	}

	err := c.stopUnits(ctx, d.units)
	c.log.Info("undeployed verticle", "id", id, "main", d.Main)
	return err
}

func (c *Container) stopUnits(ctx context.Context, units []*verticle.Unit) error {
	var first error
	for i := len(units) - 1; i >= 0; i-- {
		if err := units[i].Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Deployments lists the current deployments, oldest first.
func (c *Container) Deployments() []Deployment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Deployment, 0, len(c.deployments))
	for _, d := range c.deployments {
		out = append(out, d.Deployment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deployed.Before(out[j].Deployed) })
	return out
}

// Close waits for script-requested operations, undeploys everything and
// releases the engines.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.pending.Wait()
	c.starting.Wait()

	c.mu.Lock()
	ids := make([]string, 0, len(c.deployments))
	for id := range c.deployments {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.Undeploy(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ext, f := range c.factories {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.factories, ext)
	}
	return errors.Join(errs...)
}

// factory returns the factory for main's language, creating it on first
// use. On success the caller is counted in c.starting and must call Done.
func (c *Container) factory(main string) (*verticle.Factory, error) {
	lang, ok := verticle.LanguageFor(main)
	if !ok {
		return nil, fmt.Errorf("deploy %s: %w", main, verticle.ErrUnsupportedLanguage)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil, ErrClosed
	}
	if f, ok := c.factories[lang.Extension]; ok {
		c.starting.Add(1)
		return f, nil
	}

	opts := append([]verticle.Option{
		verticle.WithLogger(c.log),
		verticle.WithBindings(c.bindings()),
	}, c.factoryOpts...)
	f, err := verticle.NewFactory(lang.Extension, c.loader, opts...)
	if err != nil {
		return nil, err
	}
	c.factories[lang.Extension] = f
	c.starting.Add(1)
	return f, nil
}

// async runs fn in the background unless the container is closing.
func (c *Container) async(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrClosed
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		fn()
	}()
	return nil
}
