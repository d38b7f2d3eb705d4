package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResourceNotFound is returned by a SourceLoader when a script name
	// cannot be resolved.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrHookNotDefined means the namespace has no callable by that name.
	ErrHookNotDefined = errors.New("hook not defined")

	// ErrUndefinedName means a name is bound neither in the namespace nor in
	// the engine's globals.
	ErrUndefinedName = errors.New("undefined name")

	// ErrEngineClosed is returned by every operation on a cleared handle.
	ErrEngineClosed = errors.New("engine closed")

	// ErrScopesStillBound is returned by Clear while units still own a scope.
	ErrScopesStillBound = errors.New("scopes still bound")
)

// Kind classifies a ScriptError.
type Kind int

const (
	KindRuntime Kind = iota
	KindSyntax
	KindUndefinedName
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindUndefinedName:
		return "undefined-name"
	default:
		return "runtime"
	}
}

// ScriptError is an exception raised by script code, normalized across
// engines. Backtrace frames are engine-rendered strings, innermost first.
type ScriptError struct {
	Kind      Kind
	Name      string // set for KindUndefinedName
	Message   string
	Backtrace []string
	Cause     error
}

func (e *ScriptError) Error() string {
	if len(e.Backtrace) == 0 {
		return e.Message
	}
	return e.Message + "\n" + strings.Join(e.Backtrace, "\n")
}

func (e *ScriptError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrUndefinedName) match undefined-name exceptions.
func (e *ScriptError) Is(target error) bool {
	return target == ErrUndefinedName && e.Kind == KindUndefinedName
}

// EvaluationError wraps a failure raised while evaluating a wrapped program.
type EvaluationError struct {
	Source string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Source, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// InvocationError wraps a failure raised by a hook.
type InvocationError struct {
	Hook string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %v", e.Hook, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
