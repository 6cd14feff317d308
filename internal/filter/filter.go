// Package filter selects runs with a CEL expression.
//
// Expressions see these variables:
//
//	path     string               run path
//	reader   string               reader name ("csv", "tfevents")
//	rows     int                  number of rows
//	columns  list(string)         column names
//	step     int                  last step, -1 for unindexed tables
//	last     map(string, double)  last non-missing value per numeric column
//	min, max map(string, double)  extremes per numeric column
//
// For example: `reader == "tfevents" && has(max.acc) && max.acc > 0.9`.
package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/clarabennett2626/runpilot/internal/run"
)

// Filter wraps a compiled CEL program. The zero Filter matches every run.
type Filter struct {
	expr    string
	prog    cel.Program
	enabled bool
}

// Compile parses and type-checks expr. An empty expression yields a filter
// that matches everything.
func Compile(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("reader", cel.StringType),
		cel.Variable("rows", cel.IntType),
		cel.Variable("columns", cel.ListType(cel.StringType)),
		cel.Variable("step", cel.IntType),
		cel.Variable("last", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("min", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("max", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("parsing filter: %w", iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, fmt.Errorf("checking filter: %w", iss2.Err())
	}
	if ot := checked.OutputType(); !ot.IsExactType(cel.BoolType) && !ot.IsExactType(cel.DynType) {
		return Filter{}, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, ot)
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{expr: expr, prog: prog, enabled: true}, nil
}

// String returns the source expression.
func (f Filter) String() string { return f.expr }

// Match evaluates the filter against r. Evaluation errors, such as a
// missing map key, count as no match.
func (f Filter) Match(r *run.Run) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(Activation(r))
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Apply returns the runs of l that match, in order.
func (f Filter) Apply(l run.RunList) run.RunList {
	if !f.enabled {
		return l
	}
	out := make(run.RunList, 0, len(l))
	for _, r := range l {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Activation returns the CEL variables describing r.
func Activation(r *run.Run) map[string]any {
	t := r.Table
	step := int64(-1)
	if t.Indexed && len(t.Index) > 0 {
		step = t.Index[len(t.Index)-1]
	}
	last := map[string]float64{}
	lo := map[string]float64{}
	hi := map[string]float64{}
	for _, c := range t.Columns {
		for _, v := range c.Values {
			f, ok := v.AsFloat()
			if !ok || math.IsNaN(f) {
				continue
			}
			last[c.Name] = f
			if cur, seen := lo[c.Name]; !seen || f < cur {
				lo[c.Name] = f
			}
			if cur, seen := hi[c.Name]; !seen || f > cur {
				hi[c.Name] = f
			}
		}
	}
	return map[string]any{
		"path":    r.Path,
		"reader":  r.Reader,
		"rows":    int64(t.Len()),
		"columns": t.ColumnNames(),
		"step":    step,
		"last":    last,
		"min":     lo,
		"max":     hi,
	}
}
