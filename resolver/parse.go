package resolver

import (
	"fmt"
	"strings"
)

// Parse builds an expression from its decoded schema form:
//
//	"name"                       Symbol
//	"#literal"                   Constant
//	["fmt %s", expr...]          Template
//	{call: fn, args: [expr...]}  Call
//
// A nil node yields a nil expression.
func Parse(node any, funcs FuncMap) (Expr, error) {
	switch n := node.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.HasPrefix(n, ConstantMarker) {
			return Constant{Value: strings.TrimPrefix(n, ConstantMarker)}, nil
		}
		return Symbol{Name: n}, nil
	case []any:
		if len(n) == 0 {
			return nil, fmt.Errorf("empty template")
		}
		format, ok := n[0].(string)
		if !ok {
			return nil, fmt.Errorf("template format must be a string, got %T", n[0])
		}
		args, err := parseArgs(n[1:], funcs)
		if err != nil {
			return nil, err
		}
		return NewTemplate(format, args...)
	case map[string]any:
		name, ok := n["call"].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("call expression needs a function name")
		}
		fn, ok := funcs[name]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", name)
		}
		rawArgs, _ := n["args"].([]any)
		if len(rawArgs) == 0 {
			return nil, fmt.Errorf("call %q needs at least one argument", name)
		}
		args, err := parseArgs(rawArgs, funcs)
		if err != nil {
			return nil, err
		}
		return Call{Func: name, Fn: fn, Args: args}, nil
	default:
		return nil, fmt.Errorf("unsupported expression %T", node)
	}
}

func parseArgs(nodes []any, funcs FuncMap) ([]Expr, error) {
	args := make([]Expr, 0, len(nodes))
	for i, raw := range nodes {
		e, err := Parse(raw, funcs)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		if e == nil {
			return nil, fmt.Errorf("argument %d is empty", i)
		}
		args = append(args, e)
	}
	return args, nil
}
