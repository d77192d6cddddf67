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

package raster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/spatialmodel/tilerun"
)

// grid adapts one band of a north-up raster to plotter.GridXYZ, with rows
// ordered from south to north. No-data pixels take the minimum value.
type grid struct {
	a        *tilerun.Array
	band, nx int
	min      float64
}

func (g grid) Dims() (c, r int) { return g.nx, g.a.Len(tilerun.DimY) }

func (g grid) Z(c, r int) float64 {
	ny := g.a.Len(tilerun.DimY)
	v := g.a.Data.Elements[(g.band*ny+ny-1-r)*g.nx+c]
	if math.IsNaN(v) || v == g.a.NoData {
		return g.min
	}
	return v
}

func (g grid) X(c int) float64 { return g.a.X[c] }
func (g grid) Y(r int) float64 { return g.a.Y[len(g.a.Y)-1-r] }

// Quicklook renders the first band of a spatial array as a PNG image at
// path.
func Quicklook(path string, a *tilerun.Array) error {
	if !a.HasSpatialDims() {
		return fmt.Errorf("raster: quicklook of %q: no spatial dimensions", a.Name)
	}
	order := append(a.AuxDims(), tilerun.DimY, tilerun.DimX)
	t, err := a.Transpose(order...)
	if err != nil {
		return fmt.Errorf("raster: quicklook of %q: %w", a.Name, err)
	}
	ny, nx := t.Len(tilerun.DimY), t.Len(tilerun.DimX)
	if len(t.X) != nx || len(t.Y) != ny {
		return fmt.Errorf("raster: quicklook of %q: no spatial coordinates", a.Name)
	}
	if nx < 2 || ny < 2 {
		return fmt.Errorf("raster: quicklook of %q: %d×%d pixels is too small", a.Name, ny, nx)
	}
	band := t.Data.Elements[:nx*ny]
	valid := make([]float64, 0, len(band))
	for _, v := range band {
		if !math.IsNaN(v) && v != t.NoData {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return fmt.Errorf("raster: quicklook of %q: no valid values", a.Name)
	}
	min, max := floats.Min(valid), floats.Max(valid)
	if max == min {
		max = min + 1
	}

	cm := moreland.ExtendedBlackBody()
	cm.SetMin(min)
	cm.SetMax(max)

	p, err := plot.New()
	if err != nil {
		return fmt.Errorf("raster: quicklook of %q: %w", a.Name, err)
	}
	p.Title.Text = a.Name
	if len(t.LongName) > 0 {
		p.Title.Text += " " + t.LongName[0]
	}
	hm := plotter.NewHeatMap(grid{a: t, nx: nx, min: min}, cm.Palette(255))
	hm.Min, hm.Max = min, max
	p.Add(hm)
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("raster: quicklook of %q: %w", a.Name, err)
	}
	return nil
}
