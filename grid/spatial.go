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

package grid

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/tilerun"
)

// SpatialConfig holds the parameters of a spatial grid.
type SpatialConfig struct {
	// Resolution is the output pixel size.
	Resolution tilerun.Resolution

	// TileSize is the edge length of a tile in pixels.
	TileSize int

	// CRS is the output coordinate reference system. Input features are
	// reprojected into it.
	CRS string

	// Precise makes tiles take the shape of their intersection with the
	// input geometry instead of the full rectangular cell.
	Precise bool

	Log logrus.FieldLogger
}

// feature is an input geometry stored in the spatial index.
type feature struct {
	geom.Polygonal
	i int
}

// Grid covers ext with tiles of TileSize × TileSize pixels. Cells of a
// lattice aligned to the pixel resolution are kept when the input geometry
// covers at least half a pixel of them. Point and line features are
// buffered by the radius of a circle of one pixel area first. If no cell
// qualifies the grid is empty.
func (c *SpatialConfig) Grid(ext *tilerun.SpatialExtent) (tilerun.Grid, error) {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if c.TileSize <= 0 {
		return nil, fmt.Errorf("grid: tile size must be positive, got %d", c.TileSize)
	}
	rx, ry := c.Resolution.X(), c.Resolution.Y()
	if rx == 0 || ry == 0 {
		return nil, fmt.Errorf("grid: invalid resolution %v", c.Resolution)
	}
	space, err := ext.Transform(c.CRS)
	if err != nil {
		return nil, err
	}
	if len(space.Features) == 0 {
		return nil, nil
	}

	pxArea := c.Resolution.PixelArea()
	radius := math.Sqrt(pxArea / math.Pi)
	index := rtree.NewTree(25, 50)
	b := geom.NewBounds()
	for i, f := range space.Features {
		p, err := polygonal(f, radius)
		if err != nil {
			return nil, fmt.Errorf("grid: feature %d: %w", i, err)
		}
		index.Insert(feature{Polygonal: p, i: i})
		b.Extend(p.Bounds())
	}

	// The lattice is aligned to the pixel grid.
	cw, ch := rx*float64(c.TileSize), ry*float64(c.TileSize)
	x0 := math.Floor(b.Min.X/rx) * rx
	y0 := math.Ceil(b.Max.Y/ry) * ry
	nx := int(math.Ceil((b.Max.X - x0) / cw))
	ny := int(math.Ceil((y0 - b.Min.Y) / ch))
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	cellArea := cw * ch
	thresh := 0.5 * pxArea / cellArea

	log.WithFields(logrus.Fields{"cols": nx, "rows": ny, "precise": c.Precise}).Debug("creating spatial grid")

	var g tilerun.Grid
	for row := 0; row < ny; row++ {
		for col := 0; col < nx; col++ {
			cell := &geom.Bounds{
				Min: geom.Point{X: x0 + float64(col)*cw, Y: y0 - float64(row+1)*ch},
				Max: geom.Point{X: x0 + float64(col+1)*cw, Y: y0 - float64(row)*ch},
			}
			cands := index.SearchIntersect(cell)
			if len(cands) == 0 {
				continue
			}
			var polys []geom.Polygon
			for _, cand := range cands {
				polys = append(polys, cand.(feature).Polygons()...)
			}
			cellPoly := boundsPolygon(cell)
			var parts []geom.Polygon
			if covers(polys, cell) {
				parts = []geom.Polygon{cellPoly}
			} else {
				// Overlapping features would cancel out if they were
				// clipped as one polygon.
				parts = explode(cellPoly.Intersection(union(polys)))
			}
			var area float64
			for _, p := range parts {
				area += p.Area()
			}
			ratio := area / cellArea
			if len(parts) == 0 || ratio < thresh {
				continue
			}
			t := &tilerun.Tile{Index: len(g), Cell: cell, Overlap: ratio}
			if c.Precise {
				var shape geom.Geom = geom.MultiPolygon(parts)
				if len(parts) == 1 {
					shape = parts[0]
				}
				t.Space = tilerun.NewSpatialExtent(space.CRS, shape)
			} else {
				t.Space = tilerun.NewSpatialExtent(space.CRS, cellPoly)
			}
			g = append(g, t)
		}
	}
	log.WithField("n", len(g)).Debug("spatial grid created")
	return g, nil
}

func boundsPolygon(b *geom.Bounds) geom.Polygon {
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Min.Y},
	}}
}

// covers returns whether one of polys contains the whole cell: all cell
// corners are inside or on the edge of it and none of its vertices lie
// strictly inside the cell.
func covers(polys []geom.Polygon, cell *geom.Bounds) bool {
	corners := boundsPolygon(cell)[0][:4]
	for _, p := range polys {
		ok := true
		for _, c := range corners {
			if c.Within(p) == geom.Outside {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for _, r := range p {
			for _, v := range r {
				if v.X > cell.Min.X && v.X < cell.Max.X && v.Y > cell.Min.Y && v.Y < cell.Max.Y {
					ok = false
					break
				}
			}
		}
		if ok {
			return true
		}
	}
	return false
}
