// Package cond implements the restricted expression language used on graph
// edges. The grammar covers literals, state-variable references, comparison
// and boolean operators, membership tests and len(), nothing else. There is
// deliberately no attribute access, no indexing and no function invocation
// beyond the whitelisted len, so a condition can never reach outside the
// state mapping handed to it.
package cond

import (
	"fmt"
	"strings"
)

// Evaluate runs a condition against the current state. An empty condition is
// true. A condition that fails to parse or errors during evaluation is
// treated as false; edges must fail closed.
func Evaluate(condition string, state map[string]any) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}
	expr, err := Parse(condition)
	if err != nil {
		return false
	}
	v, err := expr.eval(state)
	if err != nil {
		return false
	}
	return truthy(v)
}

// Check reports whether a condition parses. Used by graph validation to
// surface bad edges before a run starts.
func Check(condition string) error {
	if strings.TrimSpace(condition) == "" {
		return nil
	}
	_, err := Parse(condition)
	return err
}

// Parse compiles a condition into an evaluable expression.
func Parse(input string) (Expr, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, fmt.Errorf("unexpected %q at end of condition", p.peek().text)
	}
	return expr, nil
}

// Expr is a compiled condition.
type Expr interface {
	eval(state map[string]any) (any, error)
}

type litExpr struct{ v any }

func (e litExpr) eval(map[string]any) (any, error) { return e.v, nil }

type varExpr struct{ name string }

func (e varExpr) eval(state map[string]any) (any, error) {
	// Missing keys resolve to nil, which is falsy and never equal to any
	// literal except null.
	return state[e.name], nil
}

type listExpr struct{ items []Expr }

func (e listExpr) eval(state map[string]any) (any, error) {
	out := make([]any, len(e.items))
	for i, item := range e.items {
		v, err := item.eval(state)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type lenExpr struct{ arg Expr }

func (e lenExpr) eval(state map[string]any) (any, error) {
	v, err := e.arg.eval(state)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return float64(0), nil
	case string:
		return float64(len(t)), nil
	case []any:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	}
	return nil, fmt.Errorf("len: unsupported operand %T", v)
}

type notExpr struct{ arg Expr }

func (e notExpr) eval(state map[string]any) (any, error) {
	v, err := e.arg.eval(state)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type binExpr struct {
	op   string
	l, r Expr
}

func (e binExpr) eval(state map[string]any) (any, error) {
	switch e.op {
	case "&&":
		lv, err := e.l.eval(state)
		if err != nil {
			return nil, err
		}
		if !truthy(lv) {
			return false, nil
		}
		rv, err := e.r.eval(state)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	case "||":
		lv, err := e.l.eval(state)
		if err != nil {
			return nil, err
		}
		if truthy(lv) {
			return true, nil
		}
		rv, err := e.r.eval(state)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	}
	lv, err := e.l.eval(state)
	if err != nil {
		return nil, err
	}
	rv, err := e.r.eval(state)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "==":
		return valuesEqual(lv, rv), nil
	case "!=":
		return !valuesEqual(lv, rv), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(e.op, lv, rv)
	case "in":
		return contains(rv, lv)
	case "not in":
		ok, err := contains(rv, lv)
		if err != nil {
			return nil, err
		}
		return !ok, nil
	}
	return nil, fmt.Errorf("unknown operator %q", e.op)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	switch at := a.(type) {
	case nil:
		return b == nil
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !valuesEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func compareOrdered(op string, a, b any) (any, error) {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return applyOrder(op, an < bn, an == bn), nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return applyOrder(op, as < bs, as == bs), nil
		}
	}
	return nil, fmt.Errorf("cannot order %T %s %T", a, op, b)
}

func applyOrder(op string, less, equal bool) bool {
	switch op {
	case "<":
		return less
	case "<=":
		return less || equal
	case ">":
		return !less && !equal
	case ">=":
		return !less
	}
	return false
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("membership in a string requires a string operand, got %T", item)
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, v := range c {
			if valuesEqual(v, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, present := c[s]
		return present, nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("membership test on %T", container)
}
