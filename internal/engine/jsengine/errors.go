package jsengine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"

	"github.com/itsmostafa/goverticle/internal/engine"
)

var (
	notDefined = regexp.MustCompile(`^ReferenceError: ([\p{L}\p{N}_$]+) is not defined$`)
	lineCol    = regexp.MustCompile(`Line (\d+):(\d+)`)
)

// origin is the wrapped program a failure came from. Positions on its first
// line are reported relative to the body.
type origin struct {
	source string
	head   int
}

func (o origin) position(file string, line, col int) string {
	if file == o.source && line == 1 && col > o.head {
		col -= o.head
	}
	return fmt.Sprintf("%s:%d:%d", file, line, col)
}

func (o origin) frame(f *goja.StackFrame) string {
	pos := f.Position()
	if pos.Line == 0 {
		return "at " + f.FuncName() + " (native)"
	}
	loc := o.position(f.SrcName(), pos.Line, pos.Column)
	if name := f.FuncName(); name != "" {
		return "at " + name + " (" + loc + ")"
	}
	return "at " + loc
}

// compileError converts a parse or compile failure into a syntax
// ScriptError whose single frame is the error position.
func compileError(err error, at origin) error {
	se := &engine.ScriptError{Kind: engine.KindSyntax, Cause: err}

	var list parser.ErrorList
	var perr *parser.Error
	var cerr *goja.CompilerSyntaxError
	switch {
	case errors.As(err, &list) && len(list) > 0:
		first := list[0]
		se.Message = "SyntaxError: " + first.Message
		se.Backtrace = []string{"at " + at.position(first.Position.Filename, first.Position.Line, first.Position.Column)}
	case errors.As(err, &perr):
		se.Message = "SyntaxError: " + perr.Message
		se.Backtrace = []string{"at " + at.position(perr.Position.Filename, perr.Position.Line, perr.Position.Column)}
	case errors.As(err, &cerr):
		se.Message = "SyntaxError: " + cerr.Message
		if cerr.File != nil {
			p := cerr.File.Position(cerr.Offset)
			se.Backtrace = []string{"at " + at.position(p.Filename, p.Line, p.Column)}
		} else if m := lineCol.FindStringSubmatch(cerr.Message); m != nil {
			line, _ := strconv.Atoi(m[1])
			col, _ := strconv.Atoi(m[2])
			se.Backtrace = []string{"at " + at.position(at.source, line, col)}
		}
	default:
		se.Message = err.Error()
	}
	return se
}

// scriptError converts a runtime failure into a ScriptError. Errors that
// are not script exceptions, such as an interrupt, are returned as is.
func scriptError(err error, at origin) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}

	se := &engine.ScriptError{Kind: engine.KindRuntime, Cause: err}
	if v := ex.Value(); v != nil {
		se.Message = v.String()
	}
	if m := notDefined.FindStringSubmatch(se.Message); m != nil {
		se.Kind = engine.KindUndefinedName
		se.Name = m[1]
	}
	stack := ex.Stack()
	for i := range stack {
		se.Backtrace = append(se.Backtrace, at.frame(&stack[i]))
	}
	return se
}
