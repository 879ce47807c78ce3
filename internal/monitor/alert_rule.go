package monitor

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
)

/*
Parser for monitor alert rules with the following grammar:

Rule        := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := AndExpr ( "AND" AndExpr )*
AndExpr     := Condition | "NOT" Condition
Condition   := Comparison | "(" Expr ")"
Comparison  := <identifier> Op <number>
Op          := "<" | ">" | "<=" | ">=" | "="

Identifiers resolve against the metrics of one monitor run: "drift" is the
maximum drift score, "samples" the number of captured records, and any
feature column name its individual drift score.
*/

var ruleParser = participle.MustBuild[RuleExpr]()

// Rule is a compiled alert rule, evaluated against the metric values of a
// single monitor run.
type Rule interface {
	Eval(values map[string]float64) (bool, error)
}

func ParseRule(rule string) (Rule, error) {
	r, err := ruleParser.ParseString("", rule)
	if err != nil {
		return nil, fmt.Errorf("error parsing alert rule '%s': %w", rule, err)
	}

	compiled, err := r.ToRule()
	if err != nil {
		return nil, fmt.Errorf("error compiling alert rule '%s': %w", rule, err)
	}

	return compiled, nil
}

type RuleExpr struct {
	Expr *Expr `@@`
}

func (r *RuleExpr) ToRule() (Rule, error) {
	return r.Expr.ToRule()
}

type Expr struct {
	Ors []*OrExpr `@@ ( "OR" @@ )*`
}

func (e *Expr) ToRule() (Rule, error) {
	if len(e.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(e.Ors) == 1 {
		return e.Ors[0].ToRule()
	}

	var rules []Rule
	for _, cond := range e.Ors {
		r, err := cond.ToRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	return &orRule{rules: rules}, nil
}

type OrExpr struct {
	Ands []*Condition `@@ ( "AND" @@ )*`
}

func (o *OrExpr) ToRule() (Rule, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToRule()
	}

	var rules []Rule
	for _, cond := range o.Ands {
		r, err := cond.ToRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	return &andRule{rules: rules}, nil
}

type Condition struct {
	Not        bool        `@"NOT"?`
	Comparison *Comparison ` @@`
	SubExpr    *Expr       `| "(" @@ ")"`
}

func (c *Condition) ToRule() (Rule, error) {
	var rule Rule
	var err error
	if c.Comparison != nil {
		rule, err = c.Comparison.ToRule()
	} else if c.SubExpr != nil {
		rule, err = c.SubExpr.ToRule()
	}

	if err != nil {
		return nil, err
	}

	if c.Not {
		rule = &notRule{rule: rule}
	}

	return rule, nil
}

type Comparison struct {
	Metric string  `@Ident`
	Op     string  `@("<" "="? | ">" "="? | "=")`
	Value  float64 `@(Float | Int)`
}

func (c *Comparison) ToRule() (Rule, error) {
	switch c.Op {
	case "<", ">", "<=", ">=", "=":
		return &comparisonRule{metric: c.Metric, op: c.Op, value: c.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s", c.Op)
	}
}

type comparisonRule struct {
	metric string
	op     string
	value  float64
}

func (r *comparisonRule) Eval(values map[string]float64) (bool, error) {
	v, ok := values[r.metric]
	if !ok {
		return false, fmt.Errorf("alert rule references unknown metric %q", r.metric)
	}

	switch r.op {
	case "<":
		return v < r.value, nil
	case ">":
		return v > r.value, nil
	case "<=":
		return v <= r.value, nil
	case ">=":
		return v >= r.value, nil
	case "=":
		return v == r.value, nil
	default:
		return false, fmt.Errorf("invalid operator %s", r.op)
	}
}

type andRule struct {
	rules []Rule
}

func (r *andRule) Eval(values map[string]float64) (bool, error) {
	for _, rule := range r.rules {
		ok, err := rule.Eval(values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

type orRule struct {
	rules []Rule
}

func (r *orRule) Eval(values map[string]float64) (bool, error) {
	for _, rule := range r.rules {
		ok, err := rule.Eval(values)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type notRule struct {
	rule Rule
}

func (r *notRule) Eval(values map[string]float64) (bool, error) {
	ok, err := r.rule.Eval(values)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
