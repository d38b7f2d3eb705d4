package luaengine

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/itsmostafa/goverticle/internal/engine"
)

// undefinedName describes a Lookup that missed both the namespace and the
// globals.
type undefinedName struct {
	name string
}

func (u *undefinedName) String() string {
	return fmt.Sprintf("attempt to read undefined name '%s'", u.name)
}

// compileError converts a load failure into a syntax ScriptError. LState.Load
// reports the parser or compiler error as the Cause of an ApiError.
func compileError(source string, err error) error {
	se := &engine.ScriptError{Kind: engine.KindSyntax, Message: err.Error(), Cause: err}

	cause := err
	var aerr *lua.ApiError
	if errors.As(err, &aerr) && aerr.Cause != nil {
		cause = aerr.Cause
	}

	var perr *parse.Error
	var cerr *lua.CompileError
	switch {
	case errors.As(cause, &perr):
		at := fmt.Sprintf("%s:%d", perr.Pos.Source, perr.Pos.Line)
		se.Message = fmt.Sprintf("%s: %s near '%s'", at, perr.Message, perr.Token)
		se.Backtrace = []string{at}
	case errors.As(cause, &cerr):
		at := fmt.Sprintf("%s:%d", source, cerr.Line)
		se.Message = fmt.Sprintf("%s: %s", at, cerr.Message)
		se.Backtrace = []string{at}
	}
	return se
}

// scriptError converts a protected-call failure into a ScriptError. Go
// panics inside host functions and non-API errors are returned as is.
func scriptError(err error) error {
	var aerr *lua.ApiError
	if !errors.As(err, &aerr) || aerr.Type == lua.ApiErrorPanic {
		return err
	}

	se := &engine.ScriptError{Kind: engine.KindRuntime, Cause: err}
	if aerr.Object != nil {
		se.Message = aerr.Object.String()
	}
	se.Backtrace = traceback(aerr.StackTrace)
	return se
}

// traceback splits a gopher-lua stack traceback into frames.
func traceback(s string) []string {
	var frames []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "stack traceback:" {
			continue
		}
		frames = append(frames, line)
	}
	return frames
}
