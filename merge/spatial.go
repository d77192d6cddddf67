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

// Package merge combines the normalized results of individual tiles into
// single arrays.
package merge

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"

	"github.com/spatialmodel/tilerun"
)

// Spatial mosaics the results of spatial tiles. 2-D arrays are mosaicked
// directly. For 3-D arrays, the tiles are mosaicked separately for each
// distinct label of the auxiliary axis and the mosaics are stacked again
// in sorted label order. All mosaics share the bounds of the union of the
// tiles. Tiles must have the given CRS (or none) and resolution.
func Spatial(tiles []*tilerun.Array, crs string, res tilerun.Resolution) (*tilerun.Array, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("merge: no tiles")
	}
	gts := make([]tilerun.GeoTransform, len(tiles))
	want := tilerun.FromOrigin(0, 0, res.X(), res.Y())
	b := geom.NewBounds()
	for i, a := range tiles {
		if !a.HasSpatialDims() {
			return nil, fmt.Errorf("merge: tile %d of %q has no spatial dimensions", i, a.Name)
		}
		if a.CRS != "" && crs != "" && a.CRS != crs {
			return nil, fmt.Errorf("merge: tile %d of %q has CRS %s; want %s", i, a.Name, a.CRS, crs)
		}
		gt, err := a.GeoTransform(res)
		if err != nil {
			return nil, fmt.Errorf("merge: tile %d: %w", i, err)
		}
		if !gt.SameResolution(want) {
			return nil, fmt.Errorf("merge: tile %d of %q has resolution %v; want %v",
				i, a.Name, gt.Resolution(), res)
		}
		gts[i] = gt
		b.Extend(gt.Bounds(a.Len(tilerun.DimY), a.Len(tilerun.DimX)))
	}

	aux := tiles[0].AuxDims()
	if len(aux) == 0 {
		o, err := mosaic(tiles, gts, res, b)
		if err != nil {
			return nil, err
		}
		o.CRS = crs
		return o, nil
	}
	if len(aux) > 1 {
		return nil, fmt.Errorf("merge: %q has more than one auxiliary dimension %v; normalize it first",
			tiles[0].Name, aux)
	}
	dim := aux[0]
	sets := make([][]string, len(tiles))
	for i, a := range tiles {
		sets[i] = a.Labels(dim)
	}
	labels := tilerun.UniqueLabels(sets...)
	mosaics := make([]*tilerun.Array, len(labels))
	for j, l := range labels {
		var sub []*tilerun.Array
		var subGT []tilerun.GeoTransform
		for i, a := range tiles {
			s, ok := a.Sel(dim, l)
			if !ok {
				continue
			}
			sub = append(sub, s)
			subGT = append(subGT, gts[i])
		}
		m, err := mosaic(sub, subGT, res, b)
		if err != nil {
			return nil, err
		}
		mosaics[j] = m
	}
	o, err := tilerun.Concat(dim, labels, mosaics...)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	o.CRS = crs
	o.BandVariable = dim
	o.LongName = append([]string{}, labels...)
	return o, nil
}

// Mosaic paints 2-D (y, x) arrays onto a single raster covering bounds, or
// the union of the arrays if bounds is nil. Arrays are painted in order and
// valid values of later arrays overwrite those of earlier ones.
func Mosaic(arrs []*tilerun.Array, res tilerun.Resolution, bounds *geom.Bounds) (*tilerun.Array, error) {
	if len(arrs) == 0 {
		return nil, fmt.Errorf("merge: nothing to mosaic")
	}
	gts := make([]tilerun.GeoTransform, len(arrs))
	b := geom.NewBounds()
	for i, a := range arrs {
		gt, err := a.GeoTransform(res)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		gts[i] = gt
		b.Extend(gt.Bounds(a.Len(tilerun.DimY), a.Len(tilerun.DimX)))
	}
	if bounds != nil {
		b = bounds
	}
	return mosaic(arrs, gts, res, b)
}

func mosaic(arrs []*tilerun.Array, gts []tilerun.GeoTransform, res tilerun.Resolution, b *geom.Bounds) (*tilerun.Array, error) {
	first := arrs[0]
	out := tilerun.FromOrigin(b.Min.X, b.Max.Y, res.X(), res.Y())
	rows := int(math.Round((b.Max.Y - b.Min.Y) / res.Y()))
	cols := int(math.Round((b.Max.X - b.Min.X) / res.X()))
	o := tilerun.NewArray(first.Name, []string{tilerun.DimY, tilerun.DimX}, rows, cols)
	o.CRS = first.CRS
	o.DType = first.DType
	o.NoData = first.NoData
	for i := range o.Data.Elements {
		o.Data.Elements[i] = o.NoData
	}
	for i, a := range arrs {
		if len(a.Dims) != 2 {
			return nil, fmt.Errorf("merge: can't mosaic %q with dimensions %v", a.Name, a.Dims)
		}
		t, err := a.Transpose(tilerun.DimY, tilerun.DimX)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		r0, c0 := out.Offset(gts[i].X0, gts[i].Y0)
		ny, nx := t.Data.Shape[0], t.Data.Shape[1]
		for r := 0; r < ny; r++ {
			rr := r0 + r
			if rr < 0 || rr >= rows {
				continue
			}
			for c := 0; c < nx; c++ {
				cc := c0 + c
				if cc < 0 || cc >= cols {
					continue
				}
				v := t.Data.Elements[r*nx+c]
				if isNoData(v, a.NoData) {
					continue
				}
				o.Data.Elements[rr*cols+cc] = v
			}
		}
	}
	o.SetTransform(out)
	return o, nil
}

func isNoData(v, nodata float64) bool {
	return math.IsNaN(v) || v == nodata
}
