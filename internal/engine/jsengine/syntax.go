package jsengine

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluele/gcache"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"

	"github.com/itsmostafa/goverticle/internal/engine"
)

// ShimModule is the native module included by every wrapped program.
const ShimModule = "vertx/sync"

// export is one top-level declaration made visible on a namespace.
type export struct {
	name     string
	readOnly bool
}

// Syntax wraps JavaScript bodies in a function so that top-level
// declarations stay private to the unit, then publishes them on the
// namespace object as live accessors.
//
// The function runs inside `with (__scope)`, where __scope is the
// namespace's capture proxy: assignments to undeclared names land in the
// namespace instead of on the global object. The `with` sits in a sloppy
// outer function so the body itself can still be strict.
type Syntax struct {
	strict  bool
	exports gcache.Cache
}

// NewSyntax returns a Syntax caching up to cacheSize export lists.
func NewSyntax(strict bool, cacheSize int) *Syntax {
	return &Syntax{
		strict:  strict,
		exports: gcache.New(cacheSize).LRU().Build(),
	}
}

func (s *Syntax) Prelude() string {
	return `var __vertx = require("` + ShimModule + `"); `
}

func (s *Syntax) Open(id engine.ScopeID) string {
	open := `__vertx.bind(` + strconv.Quote(string(id)) + `, function (__scope) { with (__scope) { return (function () { `
	if s.strict {
		open += `"use strict"; `
	}
	return open
}

func (s *Syntax) Close(_ engine.ScopeID, body string) string {
	var b strings.Builder
	b.WriteString("\n;return __vertx.namespace({")
	for i, e := range s.exportsOf(body) {
		if i > 0 {
			b.WriteString(", ")
		}
		setter := "null"
		if !e.readOnly {
			setter = fmt.Sprintf("function (v) { %s = v; }", e.name)
		}
		fmt.Fprintf(&b, "%s: [function () { return %s; }, %s]", strconv.Quote(e.name), e.name, setter)
	}
	b.WriteString("});\n})(); } });")
	return b.String()
}

func (s *Syntax) Trailer(id engine.ScopeID) string {
	return "\n" + string(id) + ";"
}

func (s *Syntax) exportsOf(body string) []export {
	key := sha256.Sum256([]byte(body))
	if v, err := s.exports.Get(key); err == nil {
		return v.([]export)
	}
	list := declaredNames(body)
	_ = s.exports.Set(key, list)
	return list
}

// declaredNames lists the top-level bindings of body. Bodies that do not
// parse export nothing; compiling the wrapped program reports the error.
func declaredNames(body string) []export {
	prg, err := parser.ParseFile(nil, "", body, 0)
	if err != nil {
		return nil
	}

	var out []export
	seen := make(map[string]bool)
	add := func(name string, readOnly bool) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, export{name: name, readOnly: readOnly})
	}

	for _, st := range prg.Body {
		switch st := st.(type) {
		case *ast.VariableStatement:
			for _, b := range st.List {
				bindingNames(b.Target, func(n string) { add(n, false) })
			}
		case *ast.LexicalDeclaration:
			readOnly := st.Token == token.CONST
			for _, b := range st.List {
				bindingNames(b.Target, func(n string) { add(n, readOnly) })
			}
		case *ast.FunctionDeclaration:
			if st.Function.Name != nil {
				add(st.Function.Name.Name.String(), false)
			}
		case *ast.ClassDeclaration:
			if st.Class.Name != nil {
				add(st.Class.Name.Name.String(), false)
			}
		}
	}
	return out
}

// bindingNames walks a binding target, including nested destructuring
// patterns, and reports each identifier it binds.
func bindingNames(target ast.Node, fn func(string)) {
	switch t := target.(type) {
	case *ast.Identifier:
		fn(t.Name.String())
	case *ast.AssignExpression:
		bindingNames(t.Left, fn)
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			if el != nil {
				bindingNames(el, fn)
			}
		}
		if t.Rest != nil {
			bindingNames(t.Rest, fn)
		}
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				fn(p.Name.Name.String())
			case *ast.PropertyKeyed:
				bindingNames(p.Value, fn)
			}
		}
		if t.Rest != nil {
			bindingNames(t.Rest, fn)
		}
	}
}
