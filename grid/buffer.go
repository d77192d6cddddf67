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
	"reflect"

	"github.com/ctessum/geom"
)

// circleSegments is the number of vertices used to approximate the
// buffer around a point.
const circleSegments = 16

// circle returns a polygon approximating a circle around c.
func circle(c geom.Point, r float64) geom.Polygon {
	ring := make([]geom.Point, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		a := 2 * math.Pi * float64(i) / circleSegments
		ring[i] = geom.Point{X: c.X + r*math.Cos(a), Y: c.Y + r*math.Sin(a)}
	}
	ring[circleSegments] = ring[0]
	return geom.Polygon{ring}
}

// segment returns the rectangle of half-width r around the segment a-b.
func segment(a, b geom.Point, r float64) geom.Polygon {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return nil
	}
	nx, ny := -dy/l*r, dx/l*r
	return geom.Polygon{{
		{X: a.X + nx, Y: a.Y + ny},
		{X: a.X - nx, Y: a.Y - ny},
		{X: b.X - nx, Y: b.Y - ny},
		{X: b.X + nx, Y: b.Y + ny},
		{X: a.X + nx, Y: a.Y + ny},
	}}
}

func bufferLine(l geom.LineString, r float64) []geom.Polygon {
	var o []geom.Polygon
	for i, p := range l {
		o = append(o, circle(p, r))
		if i > 0 {
			if s := segment(l[i-1], p, r); s != nil {
				o = append(o, s)
			}
		}
	}
	return o
}

// union dissolves the given polygons into one.
func union(ps []geom.Polygon) geom.Polygon {
	if len(ps) == 0 {
		return nil
	}
	u := ps[0]
	for _, p := range ps[1:] {
		u = u.Union(p)
	}
	return u
}

// polygonal converts a feature to an areal geometry. Points and lines
// are buffered by r; polygons are returned unchanged.
func polygonal(g geom.Geom, r float64) (geom.Polygonal, error) {
	switch t := g.(type) {
	case geom.Polygon:
		if t.Area() > 0 {
			return t, nil
		}
		var o []geom.Polygon
		for _, ring := range t {
			o = append(o, bufferLine(geom.LineString(ring), r)...)
		}
		return union(o), nil
	case geom.MultiPolygon:
		return t, nil
	case geom.Point:
		return circle(t, r), nil
	case geom.MultiPoint:
		o := make([]geom.Polygon, len(t))
		for i, p := range t {
			o[i] = circle(p, r)
		}
		return union(o), nil
	case geom.LineString:
		return union(bufferLine(t, r)), nil
	case geom.MultiLineString:
		var o []geom.Polygon
		for _, l := range t {
			o = append(o, bufferLine(l, r)...)
		}
		return union(o), nil
	case geom.GeometryCollection:
		var o []geom.Polygon
		for _, gg := range t {
			p, err := polygonal(gg, r)
			if err != nil {
				return nil, err
			}
			o = append(o, p.Polygons()...)
		}
		return union(o), nil
	default:
		return nil, fmt.Errorf("grid: unsupported geometry type %v", reflect.TypeOf(g))
	}
}

// explode splits a polygon whose rings may describe several disjoint
// parts into one polygon per outer ring, each with its holes. Rings with
// fewer than three distinct vertices or without area are dropped.
func explode(p geom.Polygon) []geom.Polygon {
	var rings [][]geom.Point
	var areas []float64
	for _, r := range p {
		if len(r) < 4 {
			continue
		}
		a := geom.Polygon{r}.Area()
		if a <= 0 {
			continue
		}
		rings = append(rings, r)
		areas = append(areas, a)
	}
	// containers[i] lists the rings that enclose ring i.
	containers := make([][]int, len(rings))
	for i, r := range rings {
		for j, r2 := range rings {
			if i == j || areas[j] <= areas[i] {
				continue
			}
			if ringInside(r, r2) {
				containers[i] = append(containers[i], j)
			}
		}
	}
	parts := make(map[int]int)
	var o []geom.Polygon
	for i, r := range rings {
		if len(containers[i])%2 == 0 {
			parts[i] = len(o)
			o = append(o, geom.Polygon{r})
		}
	}
	for i, r := range rings {
		if len(containers[i])%2 == 1 {
			// The parent is the smallest enclosing outer ring.
			parent := -1
			for _, j := range containers[i] {
				if _, ok := parts[j]; ok && (parent < 0 || areas[j] < areas[parent]) {
					parent = j
				}
			}
			if parent >= 0 {
				k := parts[parent]
				o[k] = append(o[k], r)
			}
		}
	}
	return o
}

// ringInside returns whether ring r lies inside ring r2, judged by the
// first vertex of r that is not on the edge of r2.
func ringInside(r, r2 []geom.Point) bool {
	outer := geom.Polygon{r2}
	for _, pt := range r {
		switch pt.Within(outer) {
		case geom.Inside:
			return true
		case geom.Outside:
			return false
		}
	}
	return true
}
