/*
Copyright © 2024 the tilerun authors.
This file is part of tilerun.

tilerun is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tilerun is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tilerun.  If not, see <http://www.gnu.org/licenses/>.
*/

package cube

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/Knetic/govaluate"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/spatialmodel/tilerun"
)

type verbFunc func(e *evaluator, a *tilerun.Array, params map[string]interface{}, depth int) (tilerun.Value, error)

var verbs map[string]verbFunc

func init() {
	verbs = map[string]verbFunc{
		"filter":       filter,
		"evaluate":     evaluate,
		"reduce":       reduce,
		"groupby":      groupby,
		"concatenate":  nil,
		"change_dtype": changeDType,
		"update_na":    updateNA,
	}
}

// Reducers are applied to the valid values along the reduced dimensions.
// Without valid values the result is no data, except for count.
var reducers = map[string]func(x []float64) float64{
	"mean": func(x []float64) float64 { return stat.Mean(x, nil) },
	"sum":  floats.Sum,
	"min":  floats.Min,
	"max":  floats.Max,
	"median": func(x []float64) float64 {
		s := append([]float64{}, x...)
		sort.Float64s(s)
		return stat.Quantile(0.5, stat.Empirical, s, nil)
	},
	"std": func(x []float64) float64 {
		if len(x) < 2 {
			return 0
		}
		return stat.StdDev(x, nil)
	},
	"count": func(x []float64) float64 { return float64(len(x)) },
}

// functions can be used in filter and evaluate expressions.
var functions = map[string]govaluate.ExpressionFunction{
	"exp":   unary("exp", math.Exp),
	"log":   unary("log", math.Log),
	"sqrt":  unary("sqrt", math.Sqrt),
	"abs":   unary("abs", math.Abs),
	"floor": unary("floor", math.Floor),
	"isnan": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("got %d arguments for function 'isnan', but needs 1", len(args))
		}
		f, ok := args[0].(float64)
		return ok && math.IsNaN(f), nil
	},
}

func unary(name string, f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("got %d arguments for function '%s', but needs 1", len(args), name)
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("function '%s' needs a number", name)
		}
		return f(v), nil
	}
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	n := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = n
		n *= shape[i]
	}
	return s
}

func isNoData(a *tilerun.Array, v float64) bool {
	return math.IsNaN(v) || v == a.NoData
}

func reduce(e *evaluator, a *tilerun.Array, params map[string]interface{}, depth int) (tilerun.Value, error) {
	dim, _ := params["dimension"].(string)
	name, _ := params["reducer"].(string)
	r, ok := reducers[name]
	if !ok {
		return nil, tilerun.Fatal(fmt.Errorf("reduce: unknown reducer %q", name))
	}
	dims := []string{dim}
	if dim == string(tilerun.Space) {
		dims = []string{tilerun.DimY, tilerun.DimX}
	}
	for _, d := range dims {
		if a.Axis(d) < 0 {
			return nil, tilerun.Fatal(fmt.Errorf("reduce: %q has no dimension %q", a.Name, d))
		}
	}
	return reduceDims(a, dims, name, r), nil
}

func reduceDims(a *tilerun.Array, dims []string, name string, r func([]float64) float64) *tilerun.Array {
	var keep []string
	var shape []int
	pos := make([]int, len(a.Dims))
	for i, d := range a.Dims {
		pos[i] = -1
		if !contains(dims, d) {
			pos[i] = len(keep)
			keep = append(keep, d)
			shape = append(shape, a.Data.Shape[i])
		}
	}
	o := tilerun.NewArray(a.Name, keep, shape...)
	o.CRS = a.CRS
	for _, d := range keep {
		if l, ok := a.Coords[d]; ok {
			o.Coords[d] = append([]string{}, l...)
		}
	}
	if o.HasSpatialDims() {
		o.X, o.Y = append([]float64{}, a.X...), append([]float64{}, a.Y...)
		if a.Transform != nil {
			t := *a.Transform
			o.Transform = &t
		}
	}

	groups := make([][]float64, len(o.Data.Elements))
	st, ost := strides(a.Data.Shape), strides(shape)
	for flat, v := range a.Data.Elements {
		if isNoData(a, v) {
			continue
		}
		out, rem := 0, flat
		for i := range a.Dims {
			ix := rem / st[i]
			rem %= st[i]
			if k := pos[i]; k >= 0 {
				out += ix * ost[k]
			}
		}
		groups[out] = append(groups[out], v)
	}
	for i, g := range groups {
		if len(g) == 0 && name != "count" {
			o.Data.Elements[i] = math.NaN()
			continue
		}
		o.Data.Elements[i] = r(g)
	}
	return o
}

// take selects the given positions along dim.
func take(a *tilerun.Array, dim string, idx []int) *tilerun.Array {
	k := a.Axis(dim)
	shape := append([]int{}, a.Data.Shape...)
	shape[k] = len(idx)
	o := tilerun.NewArray(a.Name, a.Dims, shape...)
	o.CRS, o.NoData, o.DType = a.CRS, a.NoData, a.DType
	for d, l := range a.Coords {
		o.Coords[d] = append([]string{}, l...)
	}
	if l := a.Labels(dim); len(l) == a.Data.Shape[k] {
		o.Coords[dim] = make([]string, len(idx))
		for i, j := range idx {
			o.Coords[dim][i] = l[j]
		}
	}
	o.X, o.Y = append([]float64{}, a.X...), append([]float64{}, a.Y...)
	if a.Transform != nil {
		t := *a.Transform
		o.Transform = &t
	}
	st, ost := strides(a.Data.Shape), strides(shape)
	for flat := range o.Data.Elements {
		src, rem := 0, flat
		for i := range shape {
			ix := rem / ost[i]
			rem %= ost[i]
			if i == k {
				ix = idx[ix]
			}
			src += ix * st[i]
		}
		o.Data.Elements[flat] = a.Data.Elements[src]
	}
	return o
}

var seasons = [...]string{"winter", "winter", "spring", "spring", "spring", "summer",
	"summer", "summer", "fall", "fall", "fall", "winter"}

// component extracts a calendar component from t.
func component(t time.Time, c string) (string, error) {
	switch c {
	case "year":
		return strconv.Itoa(t.Year()), nil
	case "season":
		return seasons[t.Month()-1], nil
	case "quarter":
		return strconv.Itoa((int(t.Month())-1)/3 + 1), nil
	case "month":
		return strconv.Itoa(int(t.Month())), nil
	case "week":
		_, w := t.ISOWeek()
		return strconv.Itoa(w), nil
	case "day":
		return strconv.Itoa(t.Day()), nil
	case "dayofweek":
		return strconv.Itoa(int(t.Weekday())), nil
	case "dayofyear":
		return strconv.Itoa(t.YearDay()), nil
	case "hour":
		return strconv.Itoa(t.Hour()), nil
	default:
		return "", tilerun.Fatal(fmt.Errorf("groupby: unknown time component %q", c))
	}
}

// groupby splits a along time by a calendar component. The groups are
// named by the component values and sorted.
func groupby(e *evaluator, a *tilerun.Array, params map[string]interface{}, depth int) (tilerun.Value, error) {
	dim, _ := params["dimension"].(string)
	if dim == "" {
		dim = tilerun.DimTime
	}
	if dim != tilerun.DimTime || a.Axis(dim) < 0 {
		return nil, tilerun.Fatal(fmt.Errorf("groupby: %q can only be grouped by time", a.Name))
	}
	comp, _ := params["component"].(string)
	if comp == "" {
		comp = "year"
	}
	members := make(map[string][]int)
	var keys []string
	for i, l := range a.Labels(dim) {
		t, err := tilerun.ParseTime(l)
		if err != nil {
			return nil, tilerun.Fatal(err)
		}
		k, err := component(t, comp)
		if err != nil {
			return nil, err
		}
		members[k] = append(members[k], i)
		keys = append(keys, k)
	}
	keys = tilerun.UniqueLabels(keys)
	c := make(tilerun.Collection, len(keys))
	for i, k := range keys {
		c[i] = take(a, dim, members[k])
		c[i].Name = k
	}
	return c, nil
}

func concatenate(v tilerun.Value, params map[string]interface{}) (tilerun.Value, error) {
	c, ok := v.(tilerun.Collection)
	if !ok {
		return nil, tilerun.Fatal(fmt.Errorf("concatenate: only collections can be concatenated"))
	}
	dim, _ := params["dimension"].(string)
	if dim == "" {
		dim = tilerun.DimGrouper
	}
	o, err := tilerun.Concat(dim, c.Names(), c...)
	if err != nil {
		return nil, tilerun.Fatal(fmt.Errorf("concatenate: %w", err))
	}
	return o, nil
}

// broadcast returns a function giving the value of op at the flat index of
// a. The dimensions of op must be a subset of those of a.
func broadcast(op, a *tilerun.Array) (func(flat int) float64, error) {
	pos := make([]int, len(op.Dims))
	for i, d := range op.Dims {
		k := a.Axis(d)
		if k < 0 || a.Data.Shape[k] != op.Data.Shape[i] {
			return nil, tilerun.Fatal(fmt.Errorf("can't align %v%v with %v%v", op.Dims, op.Shape(), a.Dims, a.Shape()))
		}
		pos[i] = k
	}
	st, ost := strides(a.Data.Shape), strides(op.Data.Shape)
	return func(flat int) float64 {
		src := 0
		for i, k := range pos {
			src += (flat / st[k] % a.Data.Shape[k]) * ost[i]
		}
		return op.Data.Elements[src]
	}, nil
}

// compile parses expr and resolves its operands. Every variable other than
// "value" must be an operand.
func (e *evaluator) compile(a *tilerun.Array, expr string, ops map[string]interface{}, depth int) (*govaluate.EvaluableExpression, map[string]func(int) float64, error) {
	ex, err := govaluate.NewEvaluableExpressionWithFunctions(expr, functions)
	if err != nil {
		return nil, nil, tilerun.Fatal(fmt.Errorf("expression %q: %w", expr, err))
	}
	vars := make(map[string]func(int) float64)
	for _, name := range ex.Vars() {
		if name == "value" {
			continue
		}
		piece, ok := ops[name]
		if !ok {
			return nil, nil, tilerun.Fatal(fmt.Errorf("expression %q: undefined variable %q", expr, name))
		}
		v, err := e.operand(piece, depth+1)
		if err != nil {
			return nil, nil, err
		}
		switch t := v.(type) {
		case float64:
			vars[name] = func(int) float64 { return t }
		case *tilerun.Array:
			if vars[name], err = broadcast(t, a); err != nil {
				return nil, nil, err
			}
		}
	}
	return ex, vars, nil
}

// apply evaluates ex for every element of a.
func apply(ex *govaluate.EvaluableExpression, vars map[string]func(int) float64, a *tilerun.Array, f func(flat int, result interface{}) error) error {
	params := make(map[string]interface{}, len(vars)+1)
	for flat, v := range a.Data.Elements {
		params["value"] = v
		for name, g := range vars {
			params[name] = g(flat)
		}
		r, err := ex.Evaluate(params)
		if err != nil {
			return tilerun.Fatal(err)
		}
		if err := f(flat, r); err != nil {
			return err
		}
	}
	return nil
}

func truthy(r interface{}) (bool, error) {
	switch t := r.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0 && !math.IsNaN(t), nil
	default:
		return false, tilerun.Fatal(fmt.Errorf("expression result %v is not a number or a boolean", r))
	}
}

// filter sets elements to no data where the expression is false or the
// filterer instruction evaluates to zero or no data.
func filter(e *evaluator, a *tilerun.Array, params map[string]interface{}, depth int) (tilerun.Value, error) {
	o := a.Copy()
	if expr, ok := params["expression"].(string); ok {
		ops, _ := params["operands"].(map[string]interface{})
		ex, vars, err := e.compile(a, expr, ops, depth)
		if err != nil {
			return nil, err
		}
		err = apply(ex, vars, a, func(flat int, r interface{}) error {
			keep, err := truthy(r)
			if !keep {
				o.Data.Elements[flat] = o.NoData
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
	}
	if piece, ok := params["filterer"]; ok {
		v, err := e.operand(piece, depth+1)
		if err != nil {
			return nil, err
		}
		m, ok := v.(*tilerun.Array)
		if !ok {
			return nil, tilerun.Fatal(fmt.Errorf("filter: the filterer must be an array"))
		}
		at, err := broadcast(m, a)
		if err != nil {
			return nil, err
		}
		for i := range o.Data.Elements {
			if mv := at(i); mv == 0 || isNoData(m, mv) {
				o.Data.Elements[i] = o.NoData
			}
		}
	}
	return o, nil
}

// evaluate computes an expression of "value", the elements of the array,
// and the operands.
func evaluate(e *evaluator, a *tilerun.Array, params map[string]interface{}, depth int) (tilerun.Value, error) {
	expr, _ := params["expression"].(string)
	if expr == "" {
		return nil, tilerun.Fatal(fmt.Errorf("evaluate: no expression"))
	}
	ops, _ := params["operands"].(map[string]interface{})
	ex, vars, err := e.compile(a, expr, ops, depth)
	if err != nil {
		return nil, err
	}
	o := a.Copy()
	err = apply(ex, vars, a, func(flat int, r interface{}) error {
		switch t := r.(type) {
		case float64:
			o.Data.Elements[flat] = t
		case bool:
			o.Data.Elements[flat] = 0
			if t {
				o.Data.Elements[flat] = 1
			}
		default:
			return tilerun.Fatal(fmt.Errorf("expression result %v is not a number", r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	o.DType = "float64"
	return o, nil
}

// changeDType converts the values to the precision of another type. No
// data values are kept.
func changeDType(e *evaluator, a *tilerun.Array, params map[string]interface{}, depth int) (tilerun.Value, error) {
	dtype, _ := params["dtype"].(string)
	var conv func(float64) float64
	switch dtype {
	case "float64":
		conv = func(v float64) float64 { return v }
	case "float32":
		conv = func(v float64) float64 { return float64(float32(v)) }
	case "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64":
		conv = math.Round
	case "bool":
		conv = func(v float64) float64 {
			if v != 0 {
				return 1
			}
			return 0
		}
	default:
		return nil, tilerun.Fatal(fmt.Errorf("change_dtype: unsupported type %q", dtype))
	}
	o := a.Copy()
	for i, v := range o.Data.Elements {
		if !isNoData(o, v) {
			o.Data.Elements[i] = conv(v)
		}
	}
	o.DType = dtype
	return o, nil
}

// updateNA replaces no data by a fill value, which becomes the new no
// data value.
func updateNA(e *evaluator, a *tilerun.Array, params map[string]interface{}, depth int) (tilerun.Value, error) {
	fill, ok := params["fill"].(float64)
	if !ok {
		return nil, tilerun.Fatal(fmt.Errorf("update_na: fill must be a number"))
	}
	o := a.Copy()
	for i, v := range o.Data.Elements {
		if isNoData(o, v) {
			o.Data.Elements[i] = fill
		}
	}
	o.NoData = fill
	return o, nil
}
