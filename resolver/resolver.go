// Package resolver evaluates the source expressions of the driver schema
// against a worker's configuration snapshot.
//
// Expressions are built once, when the schema is loaded, as one of four
// variants: Constant, Symbol, Call and Template. Evaluation is pure.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Snapshot maps "group.key" option names to their resolved values.
type Snapshot map[string]any

// Expr is a source expression.
type Expr interface {
	Eval(s Snapshot) (any, error)
	String() string
}

// MissingReferenceError reports a symbol that is absent from the snapshot.
type MissingReferenceError struct {
	Name string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("missing reference %q", e.Name)
}

// IsMissingReference reports whether err came from an absent symbol.
func IsMissingReference(err error) bool {
	var mr *MissingReferenceError
	return errors.As(err, &mr)
}

// EvalError reports a Call function that rejected its arguments, such as a
// malformed database URL.
type EvalError struct {
	Func string
	Err  error
}

func (e *EvalError) Error() string { return e.Func + ": " + e.Err.Error() }

func (e *EvalError) Unwrap() error { return e.Err }

// IsEvalError reports whether err came from a failing Call function.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}

// ConstantMarker prefixes a literal in schema text.
const ConstantMarker = "#"

// Constant is a literal value.
type Constant struct {
	Value string
}

func (c Constant) Eval(Snapshot) (any, error) { return c.Value, nil }
func (c Constant) String() string             { return ConstantMarker + c.Value }

// Symbol looks a name up in the snapshot.
type Symbol struct {
	Name string
}

func (s Symbol) Eval(snap Snapshot) (any, error) {
	if s.Name == "" {
		return nil, &MissingReferenceError{Name: s.Name}
	}
	v, ok := snap[s.Name]
	if !ok {
		return nil, &MissingReferenceError{Name: s.Name}
	}
	return v, nil
}

func (s Symbol) String() string { return s.Name }

// Func is a pure function usable in Call expressions.
type Func func(args ...any) (any, error)

// Call applies Fn to its evaluated arguments.
type Call struct {
	Func string
	Fn   Func
	Args []Expr
}

func (c Call) Eval(snap Snapshot) (any, error) {
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, err := Eval(a, snap)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	out, err := c.Fn(args...)
	if err != nil {
		return nil, &EvalError{Func: c.Func, Err: err}
	}
	return out, nil
}

func (c Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Func + "(" + strings.Join(parts, ", ") + ")"
}

// Template formats its evaluated arguments with positional verbs.
type Template struct {
	Format string
	Args   []Expr
}

func (t Template) Eval(snap Snapshot) (any, error) {
	args := make([]any, len(t.Args))
	for i, a := range t.Args {
		v, err := Eval(a, snap)
		if err != nil {
			return nil, err
		}
		args[i] = Stringify(v)
	}
	return fmt.Sprintf(t.Format, args...), nil
}

func (t Template) String() string {
	parts := make([]string, 0, len(t.Args)+1)
	parts = append(parts, fmt.Sprintf("%q", t.Format))
	for _, a := range t.Args {
		parts = append(parts, a.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// NewTemplate builds a Template after checking that format has one verb per argument.
func NewTemplate(format string, args ...Expr) (Template, error) {
	if n := CountVerbs(format); n != len(args) {
		return Template{}, fmt.Errorf("template %q has %d verbs for %d arguments", format, n, len(args))
	}
	return Template{Format: format, Args: args}, nil
}

// CountVerbs counts the formatting verbs in format, ignoring "%%".
func CountVerbs(format string) int {
	n := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	return n
}

// Eval evaluates e. A nil expression evaluates to nil.
func Eval(e Expr, snap Snapshot) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.Eval(snap)
}

// EvalString evaluates e and renders the result as a string.
func EvalString(e Expr, snap Snapshot) (string, error) {
	v, err := Eval(e, snap)
	if err != nil {
		return "", err
	}
	return Stringify(v), nil
}

// Stringify renders a value for templates and names. nil renders empty.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// ToList splits a list-valued option into its items. Strings such as
// "['file', 'http']" or "a, b" are split on commas with brackets and quotes
// stripped from both ends of the whole value and of each item.
func ToList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []any:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = Stringify(item)
		}
		return out
	}

	s := strings.TrimSpace(Stringify(v))
	if s == "" {
		return nil
	}
	parts := strings.Split(stripEnds(s), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, stripEnds(strings.TrimSpace(p)))
	}
	return out
}

func stripEnds(s string) string {
	if s == "" {
		return s
	}
	start, end := 0, len(s)
	switch s[0] {
	case '[', '\'', '"':
		start++
	}
	if end > start {
		switch s[end-1] {
		case ']', '\'', '"':
			end--
		}
	}
	return s[start:end]
}

// FuncMap names the functions available to Call expressions.
type FuncMap map[string]Func

// DefaultFuncs returns the built-in functions.
func DefaultFuncs() FuncMap {
	return FuncMap{
		"db_name":  DBName,
		"rpc_name": RPCName,
	}
}

// DBName extracts the database name from a connection URL:
// "mysql://root:pw@127.0.0.1/neutron?charset=utf8" yields "neutron".
func DBName(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("db_name takes 1 argument, got %d", len(args))
	}
	u, err := url.Parse(Stringify(args[0]))
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(u.Path, "/", ""), nil
}

// RPCName returns its argument as a string.
func RPCName(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("rpc_name takes 1 argument, got %d", len(args))
	}
	return Stringify(args[0]), nil
}
