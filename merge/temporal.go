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

package merge

import (
	"fmt"

	"github.com/spatialmodel/tilerun"
)

// Temporal concatenates the results of temporal tiles in tile order.
// Arrays that have a time axis are joined along it. Otherwise they are
// joined along their shared leading auxiliary axis, typically DimGrouper,
// keeping repeated labels as separate adjacent entries because the tiles
// cover disjoint time ranges. Arrays without any auxiliary axis get a new
// time axis labeled by starts, the start times of the tiles.
func Temporal(tiles []*tilerun.Array, starts []string) (*tilerun.Array, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("merge: no tiles")
	}
	dim := tilerun.DimTime
	if !all(tiles, dim) {
		aux := tiles[0].AuxDims()
		switch {
		case len(aux) > 0 && all(tiles, aux[0]):
			dim = aux[0]
		case len(aux) == 0:
			if len(starts) != len(tiles) {
				return nil, fmt.Errorf("merge: %d start times for %d tiles", len(starts), len(tiles))
			}
		default:
			return nil, fmt.Errorf("merge: tiles of %q have no common axis to concatenate along", tiles[0].Name)
		}
	}
	o, err := tilerun.Concat(dim, starts, tiles...)
	if err != nil {
		return nil, fmt.Errorf("merge: %s: %w", tiles[0].Name, err)
	}
	return o, nil
}

func all(arrs []*tilerun.Array, dim string) bool {
	for _, a := range arrs {
		if a.Axis(dim) < 0 {
			return false
		}
	}
	return true
}
