package engine

import (
	"fmt"
	"strings"
)

// Syntax supplies the language-specific pieces that turn a script body into
// a program evaluating inside its own namespace.
type Syntax interface {
	// Prelude includes the load-synchronization shim.
	Prelude() string
	// Open starts the namespace named id. Body line 1 follows it directly.
	Open(id ScopeID) string
	// Close ends the namespace. It may inspect the body, e.g. to export
	// top-level declarations.
	Close(id ScopeID, body string) string
	// Trailer evaluates to the namespace itself.
	Trailer(id ScopeID) string
}

// Program is a wrapped script ready for evaluation.
type Program struct {
	Scope ScopeID
	Text  string
	Lines int // number of body lines

	// Head is the width of the prelude and namespace opening that precede
	// body line 1. Engine columns on line 1 are shifted by it.
	Head int
}

// Wrap builds the program text for body. It executes nothing.
//
// Prelude and Open share the first physical line with body line 1, so body
// line N stays line N of the program and engine line numbers need no
// adjustment. Columns on line 1 are not preserved: backends subtract
// Program.Head when rendering positions.
func Wrap(s Syntax, body string, id ScopeID) (Program, error) {
	head := s.Prelude() + s.Open(id)
	if strings.ContainsAny(head, "\r\n") {
		return Program{}, fmt.Errorf("wrap %s: prelude and namespace opening must fit on one line", id)
	}
	tail := s.Close(id, body) + s.Trailer(id)
	if !strings.HasPrefix(tail, "\n") {
		tail = "\n" + tail
	}

	var b strings.Builder
	b.Grow(len(head) + len(body) + len(tail))
	b.WriteString(head)
	b.WriteString(body)
	b.WriteString(tail)

	return Program{
		Scope: id,
		Text:  b.String(),
		Lines: strings.Count(body, "\n") + 1,
		Head:  len(head),
	}, nil
}
