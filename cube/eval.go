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
	"context"
	"fmt"

	"github.com/spatialmodel/tilerun"
)

// maxDepth limits the nesting of instructions, which also stops concepts
// that refer to themselves.
const maxDepth = 32

type evaluator struct {
	ctx context.Context
	p   *Pipeline
	ec  *tilerun.ExecContext
	src *Source
}

type node = map[string]interface{}

func asNode(v interface{}) (node, error) {
	n, ok := v.(map[string]interface{})
	if !ok {
		return nil, tilerun.Fatal(fmt.Errorf("invalid instruction %v", v))
	}
	return n, nil
}

func reference(n node) ([]string, error) {
	r, ok := n["reference"].([]interface{})
	if !ok || len(r) == 0 {
		return nil, tilerun.Fatal(fmt.Errorf("%s without reference", n["type"]))
	}
	o := make([]string, len(r))
	for i, v := range r {
		if o[i], ok = v.(string); !ok {
			return nil, tilerun.Fatal(fmt.Errorf("invalid reference %v", r))
		}
	}
	return o, nil
}

// lookup finds the instruction stored in the mapping under ref.
func lookup(m tilerun.Mapping, ref []string) (interface{}, error) {
	var cur interface{} = map[string]interface{}(m)
	for _, k := range ref {
		mm, ok := cur.(map[string]interface{})
		if !ok {
			return nil, tilerun.Fatal(fmt.Errorf("concept %v is not defined", ref))
		}
		if cur, ok = mm[k]; !ok {
			return nil, tilerun.Fatal(fmt.Errorf("concept %v is not defined", ref))
		}
	}
	return cur, nil
}

// references appends the layers an instruction tree reads to layers.
func references(v interface{}, m tilerun.Mapping, layers *[]string, depth int) error {
	if depth > maxDepth {
		return tilerun.Fatal(fmt.Errorf("instructions are nested too deeply"))
	}
	switch t := v.(type) {
	case map[string]interface{}:
		switch t["type"] {
		case "layer":
			ref, err := reference(t)
			if err != nil {
				return err
			}
			*layers = append(*layers, ref[len(ref)-1])
			return nil
		case "concept":
			ref, err := reference(t)
			if err != nil {
				return err
			}
			c, err := lookup(m, ref)
			if err != nil {
				return err
			}
			return references(c, m, layers, depth+1)
		}
		for _, vv := range t {
			if err := references(vv, m, layers, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, vv := range t {
			if err := references(vv, m, layers, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// eval evaluates an instruction to an array or a collection.
func (e *evaluator) eval(v interface{}, depth int) (tilerun.Value, error) {
	if depth > maxDepth {
		return nil, tilerun.Fatal(fmt.Errorf("instructions are nested too deeply"))
	}
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	n, err := asNode(v)
	if err != nil {
		return nil, err
	}
	switch n["type"] {
	case "layer":
		ref, err := reference(n)
		if err != nil {
			return nil, err
		}
		return e.layer(ref[len(ref)-1])
	case "concept":
		ref, err := reference(n)
		if err != nil {
			return nil, err
		}
		c, err := lookup(e.ec.Mapping, ref)
		if err != nil {
			return nil, err
		}
		return e.eval(c, depth+1)
	case "processing_chain":
		val, err := e.eval(n["with"], depth+1)
		if err != nil {
			return nil, err
		}
		verbs, _ := n["do"].([]interface{})
		for _, vb := range verbs {
			if val, err = e.verb(val, vb, depth+1); err != nil {
				return nil, err
			}
		}
		return val, nil
	default:
		return nil, tilerun.Fatal(fmt.Errorf("unknown instruction type %v", n["type"]))
	}
}

// layer reads a layer cropped to the extent of the execution.
func (e *evaluator) layer(name string) (*tilerun.Array, error) {
	path, err := e.src.Path(name)
	if err != nil {
		return nil, err
	}
	if p, ok := e.ec.Cache.Entry(name); ok {
		path = p
	}
	a, err := e.p.layer(e.ctx, path)
	if err != nil {
		return nil, err
	}
	o, err := crop(a, e.ec)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	return o, nil
}

// operand evaluates a verb parameter that is either a number or an
// instruction.
func (e *evaluator) operand(v interface{}, depth int) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case map[string]interface{}:
		if t["type"] == "value" {
			f, ok := t["value"].(float64)
			if !ok {
				return nil, tilerun.Fatal(fmt.Errorf("invalid value %v", t["value"]))
			}
			return f, nil
		}
		val, err := e.eval(t, depth)
		if err != nil {
			return nil, err
		}
		a, ok := val.(*tilerun.Array)
		if !ok {
			return nil, tilerun.Fatal(fmt.Errorf("operands must be arrays"))
		}
		return a, nil
	default:
		return nil, tilerun.Fatal(fmt.Errorf("invalid operand %v", v))
	}
}

// verb applies a verb to val. Verbs other than concatenate are applied to
// every member of a collection.
func (e *evaluator) verb(val tilerun.Value, v interface{}, depth int) (tilerun.Value, error) {
	n, err := asNode(v)
	if err != nil {
		return nil, err
	}
	name, _ := n["name"].(string)
	params, _ := n["params"].(map[string]interface{})
	if params == nil {
		params = map[string]interface{}{}
	}
	f, ok := verbs[name]
	if !ok {
		return nil, tilerun.Fatal(fmt.Errorf("unknown verb %q", name))
	}
	if name == "concatenate" {
		return concatenate(val, params)
	}
	switch t := val.(type) {
	case *tilerun.Array:
		return f(e, t, params, depth)
	case tilerun.Collection:
		o := make(tilerun.Collection, len(t))
		for i, a := range t {
			r, err := f(e, a, params, depth)
			if err != nil {
				return nil, err
			}
			ra, ok := r.(*tilerun.Array)
			if !ok {
				return nil, tilerun.Fatal(fmt.Errorf("%s: nested groups are not supported", name))
			}
			ra.Name = a.Name
			o[i] = ra
		}
		return o, nil
	default:
		return nil, tilerun.Fatal(fmt.Errorf("%s: unsupported value %T", name, val))
	}
}
