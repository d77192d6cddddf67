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
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
)

// Resolution is an output pixel size in the order (y, x). The y component
// is normally negative for north-up rasters, e.g. {-10, 10}.
type Resolution [2]float64

// PixelArea returns the area of one pixel.
func (r Resolution) PixelArea() float64 { return math.Abs(r[0] * r[1]) }

// Y returns the absolute pixel height.
func (r Resolution) Y() float64 { return math.Abs(r[0]) }

// X returns the absolute pixel width.
func (r Resolution) X() float64 { return math.Abs(r[1]) }

// GeoTransform places a north-up raster in space: X0 and Y0 are the
// coordinates of the outer corner of the first pixel and DX and DY
// are the pixel sizes. DY is negative when rows run from north to south.
type GeoTransform struct {
	X0, DX, Y0, DY float64
}

// FromOrigin returns the transform of a north-up raster whose upper left
// corner is at (west, north), with pixels xsize wide and ysize high.
func FromOrigin(west, north, xsize, ysize float64) GeoTransform {
	return GeoTransform{X0: west, DX: xsize, Y0: north, DY: -math.Abs(ysize)}
}

// FromCenter returns the transform of a raster whose first pixel is
// centred on (x, y) with resolution res.
func FromCenter(x, y float64, res Resolution) GeoTransform {
	return FromOrigin(x-res.X()/2, y+res.Y()/2, res.X(), res.Y())
}

// GDAL returns the coefficients in the order used by GDAL.
func (g GeoTransform) GDAL() [6]float64 {
	return [6]float64{g.X0, g.DX, 0, g.Y0, 0, g.DY}
}

// String formats g as a comma separated GDAL geotransform.
func (g GeoTransform) String() string {
	c := g.GDAL()
	s := make([]string, len(c))
	for i, v := range c {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(s, ", ")
}

// ParseGeoTransform parses the output of GeoTransform.String.
// Whitespace separated coefficients are also accepted.
func ParseGeoTransform(s string) (GeoTransform, error) {
	f := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(f) != 6 {
		return GeoTransform{}, fmt.Errorf("tilerun: invalid geotransform %q", s)
	}
	var c [6]float64
	for i, v := range f {
		var err error
		if c[i], err = strconv.ParseFloat(v, 64); err != nil {
			return GeoTransform{}, fmt.Errorf("tilerun: invalid geotransform %q: %w", s, err)
		}
	}
	if c[2] != 0 || c[4] != 0 {
		return GeoTransform{}, fmt.Errorf("tilerun: rotated geotransforms are not supported")
	}
	return GeoTransform{X0: c[0], DX: c[1], Y0: c[3], DY: c[5]}, nil
}

// Center returns the coordinates of the centre of the pixel at (row, col).
func (g GeoTransform) Center(row, col int) (x, y float64) {
	return g.X0 + (float64(col)+0.5)*g.DX, g.Y0 + (float64(row)+0.5)*g.DY
}

// Bounds returns the footprint of a raster with the given number of
// rows and columns.
func (g GeoTransform) Bounds(rows, cols int) *geom.Bounds {
	b := geom.NewBounds()
	b.Extend(geom.NewBoundsPoint(geom.Point{X: g.X0, Y: g.Y0}))
	b.Extend(geom.NewBoundsPoint(geom.Point{X: g.X0 + float64(cols)*g.DX, Y: g.Y0 + float64(rows)*g.DY}))
	return b
}

// Offset returns the (row, col) position of the corner (x, y) relative
// to g, rounded to the nearest pixel.
func (g GeoTransform) Offset(x, y float64) (row, col int) {
	return int(math.Round((y - g.Y0) / g.DY)), int(math.Round((x - g.X0) / g.DX))
}

// Resolution returns the pixel size of g.
func (g GeoTransform) Resolution() Resolution {
	return Resolution{g.DY, g.DX}
}

// SameResolution returns whether g and g2 have the same pixel size
// within a small relative tolerance.
func (g GeoTransform) SameResolution(g2 GeoTransform) bool {
	const tol = 1e-9
	return math.Abs(g.DX-g2.DX) <= tol*math.Abs(g.DX) && math.Abs(g.DY-g2.DY) <= tol*math.Abs(g.DY)
}
