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

// Package normalize reshapes the output of a pipeline run over one tile
// into the canonical form the mergers work with.
package normalize

import (
	"fmt"
	"sort"

	"github.com/spatialmodel/tilerun"
)

// Flatten converts a group-by collection into a single array with a
// leading DimCollection axis labeled by the group names.
func Flatten(c tilerun.Collection) (*tilerun.Array, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("normalize: empty collection")
	}
	a, err := tilerun.Concat(tilerun.DimCollection, c.Names(), c...)
	if err != nil {
		return nil, fmt.Errorf("normalize: flattening collection: %w", err)
	}
	return a, nil
}

func toArray(name string, v tilerun.Value) (*tilerun.Array, error) {
	switch t := v.(type) {
	case *tilerun.Array:
		return t, nil
	case tilerun.Collection:
		a, err := Flatten(t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("normalize: result %q has unsupported type %T", name, v)
	}
}

// Spatial normalizes the response of a spatially tiled execution. Every
// result ends up with the dimensions (aux, y, x) or (y, x): collections are
// flattened, multiple auxiliary axes are stacked into DimGrouper and the
// labels of the remaining auxiliary axis are kept as LongName. Arrays with
// spatial dimensions are stamped with crs and a geotransform derived from
// their pixel centres and res, which covers single-pixel tiles.
func Spatial(resp tilerun.Response, crs string, res tilerun.Resolution) (map[string]*tilerun.Array, error) {
	o := make(map[string]*tilerun.Array, len(resp))
	for _, name := range names(resp) {
		a, err := toArray(name, resp[name])
		if err != nil {
			return nil, err
		}
		a = a.Copy()
		a.Name = name
		a.CRS = crs

		aux := a.AuxDims()
		switch {
		case len(aux) == 1 && aux[0] == tilerun.DimCollection:
			a = a.Rename(tilerun.DimCollection, tilerun.DimGrouper)
		case len(aux) > 1:
			if a, err = a.Stack(tilerun.DimGrouper, aux...); err != nil {
				return nil, fmt.Errorf("normalize: %s: %w", name, err)
			}
		}
		if a, err = canonicalOrder(a); err != nil {
			return nil, fmt.Errorf("normalize: %s: %w", name, err)
		}
		if aux = a.AuxDims(); len(aux) == 1 {
			a.BandVariable = aux[0]
			a.LongName = append([]string{}, a.Labels(aux[0])...)
			a.Coords[aux[0]] = a.LongName
		}
		if a.HasSpatialDims() {
			gt, err := a.GeoTransform(res)
			if err != nil {
				return nil, fmt.Errorf("normalize: %s: %w", name, err)
			}
			a.SetTransform(gt)
		}
		o[name] = a
	}
	return o, nil
}

// canonicalOrder moves the auxiliary dimensions to the front and orders
// the spatial dimensions as (y, x).
func canonicalOrder(a *tilerun.Array) (*tilerun.Array, error) {
	dims := a.AuxDims()
	if a.Axis(tilerun.DimY) >= 0 {
		dims = append(dims, tilerun.DimY)
	}
	if a.Axis(tilerun.DimX) >= 0 {
		dims = append(dims, tilerun.DimX)
	}
	same := true
	for i, d := range dims {
		if a.Dims[i] != d {
			same = false
		}
	}
	if same {
		return a, nil
	}
	return a.Transpose(dims...)
}

// Temporal normalizes the response of a temporally tiled execution.
// Collections are converted into arrays along DimGrouper so that group
// identities survive concatenation across tiles; arrays are kept as they
// are.
func Temporal(resp tilerun.Response) (map[string]*tilerun.Array, error) {
	o := make(map[string]*tilerun.Array, len(resp))
	for _, name := range names(resp) {
		a, err := toArray(name, resp[name])
		if err != nil {
			return nil, err
		}
		if a.Axis(tilerun.DimCollection) >= 0 && a.Axis(tilerun.DimGrouper) < 0 {
			a = a.Rename(tilerun.DimCollection, tilerun.DimGrouper)
		} else {
			a = a.Copy()
		}
		a.Name = name
		o[name] = a
	}
	return o, nil
}

func names(resp tilerun.Response) []string {
	o := make([]string, 0, len(resp))
	for k := range resp {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
