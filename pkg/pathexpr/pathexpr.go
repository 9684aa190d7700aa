// Package pathexpr provides the value-selection language used by mapping
// rules. A rule spec is either a literal string or a JSONPath program; the
// two are distinguished at compile time so that static and dynamic specs can
// be mixed freely in configuration.
package pathexpr

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Expression is the compiled form of a rule spec: either a literal string,
// which evaluates to itself, or a path program compiled once at
// configuration-load time and run per message.
type Expression struct {
	literal string
	path    jp.Expr
}

// Compile turns a spec string into an Expression. Specs starting with `$`
// are compiled as path programs; a syntax error there is a configuration
// error and must abort startup. Anything else is a literal.
func Compile(spec string) (*Expression, error) {
	if !strings.HasPrefix(spec, "$") {
		return &Expression{literal: spec}, nil
	}
	x, err := jp.ParseString(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid path expression %q: %w", spec, err)
	}
	return &Expression{path: x}, nil
}

// IsLiteral reports whether the expression is a plain literal rather than a
// compiled path program.
func (e *Expression) IsLiteral() bool {
	return e.path == nil
}

// Evaluate runs the expression against a document. A literal always succeeds
// with its own value. A path program yields its first match; no match, or a
// match whose value is JSON null, is the normal "no value" outcome reported
// by the second return. Evaluation never fails for arbitrary document shapes.
func (e *Expression) Evaluate(doc any) (any, bool) {
	if e.path == nil {
		return e.literal, true
	}
	results := e.path.Get(doc)
	if len(results) == 0 || results[0] == nil {
		return nil, false
	}
	return results[0], true
}

// String returns the source form of the expression for diagnostics.
func (e *Expression) String() string {
	if e.path == nil {
		return e.literal
	}
	return e.path.String()
}
