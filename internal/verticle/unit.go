package verticle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/itsmostafa/goverticle/internal/engine"
)

// State is the lifecycle position of a Unit.
type State int

const (
	Unstarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unstarted"
	}
}

// Unit is one deployable instance of a script.
type Unit struct {
	name    string
	factory *Factory

	mu    sync.Mutex
	state State
	scope engine.ScopeID
	ns    engine.Namespace
}

func (u *Unit) Name() string { return u.name }

func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// ScopeID is empty unless the unit is running.
func (u *Unit) ScopeID() engine.ScopeID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.scope
}

// Start loads, wraps and evaluates the script in a fresh namespace. On
// failure the unit stays unstarted and the diagnostic is logged.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Unstarted {
		return ErrAlreadyStarted
	}

	f := u.factory
	src, err := f.loader.Load(u.name)
	if err != nil {
		err = fmt.Errorf("load verticle %s: %w", u.name, err)
		f.report(err)
		return err
	}

	id := f.scopes.Next()
	p, err := f.handle.Wrap(string(src), id)
	if err != nil {
		f.report(err)
		return err
	}
	ns, err := f.handle.Evaluate(ctx, p, u.name)
	if err != nil {
		f.report(err)
		return err
	}

	u.scope, u.ns, u.state = id, ns, Running
	f.log.Debug("verticle started", "name", u.name, "scope", string(id))
	return nil
}

// Stop runs the teardown hook, if the script defines one, and unbinds the
// namespace. Unbinding happens even when the hook fails; the hook's error
// is logged and returned.
func (u *Unit) Stop(ctx context.Context) (err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Running {
		return nil
	}

	f := u.factory
	defer func() {
		f.handle.Unbind(u.scope)
		f.log.Debug("verticle stopped", "name", u.name, "scope", string(u.scope))
		u.scope, u.ns, u.state = "", nil, Stopped
	}()

	err = f.handle.Invoke(ctx, u.ns, f.lang.StopHook)
	if errors.Is(err, engine.ErrHookNotDefined) {
		return nil
	}
	if err != nil {
		f.report(err)
	}
	return err
}
