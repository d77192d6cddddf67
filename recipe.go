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

package tilerun

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// Recipe is a declarative processing recipe: a JSON object mapping result
// names to trees of instructions. Objects with "type": "verb" are
// operations whose "params" may name the "dimension" they act on.
type Recipe map[string]interface{}

// ReadRecipe reads a recipe from a JSON file.
func ReadRecipe(path string) (Recipe, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tilerun: reading recipe: %w", err)
	}
	var r Recipe
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("tilerun: parsing recipe %s: %w", path, err)
	}
	return r, nil
}

// Results returns the names of the results the recipe defines, sorted.
func (r Recipe) Results() []string {
	o := make([]string, 0, len(r))
	for k := range r {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// dimensionLookup maps the dimension names and dimension components
// recipes may refer to onto the two tiling dimensions.
var dimensionLookup = map[string]Dimension{
	"time":      Time,
	"year":      Time,
	"season":    Time,
	"quarter":   Time,
	"month":     Time,
	"week":      Time,
	"day":       Time,
	"dayofweek": Time,
	"dayofyear": Time,
	"hour":      Time,
	"minute":    Time,
	"second":    Time,
	"space":     Space,
	"feature":   Space,
	"x":         Space,
	"y":         Space,
}

// OpDims returns the tiling dimensions that the verbs of the recipe
// operate over, sorted and without duplicates. Unknown dimension names
// are ignored.
func (r Recipe) OpDims() []Dimension {
	var names []string
	collectDims(map[string]interface{}(r), &names)
	seen := make(map[Dimension]bool)
	var o []Dimension
	for _, n := range names {
		if d, ok := dimensionLookup[n]; ok && !seen[d] {
			seen[d] = true
			o = append(o, d)
		}
	}
	sort.Slice(o, func(i, j int) bool { return o[i] < o[j] })
	return o
}

func collectDims(piece interface{}, dims *[]string) {
	switch p := piece.(type) {
	case map[string]interface{}:
		if t, _ := p["type"].(string); t == "verb" {
			if params, ok := p["params"].(map[string]interface{}); ok {
				if d, ok := params["dimension"].(string); ok && d != "" {
					*dims = append(*dims, d)
				}
			}
		}
		for _, v := range p {
			collectDims(v, dims)
		}
	case []interface{}:
		for _, v := range p {
			collectDims(v, dims)
		}
	}
}

// TileDimension chooses the dimension to tile over. A recipe that
// operates over time is tiled over space and the other way round; if it
// operates over both, tiling is disabled. The override is used when the
// recipe doesn't restrict the choice and is otherwise replaced, with a
// warning.
func (r Recipe) TileDimension(override Dimension, log logrus.FieldLogger) Dimension {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ops := r.OpDims()
	var dim Dimension
	switch {
	case len(ops) == 0:
		if override != NoDimension {
			return override
		}
		return Space
	case len(ops) == 2:
		log.Warn("tiling is disabled because the recipe operates over both space and time")
		return NoDimension
	case ops[0] == Time:
		dim = Space
	default:
		dim = Time
	}
	if override != NoDimension && override != dim {
		log.WithFields(logrus.Fields{
			"requested": override,
			"used":      dim,
		}).Warnf("the recipe operates over %s; tiling over %s instead", ops[0], dim)
	}
	return dim
}
