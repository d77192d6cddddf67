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
	"math"
	"testing"
	"time"

	"github.com/ctessum/geom"

	"github.com/spatialmodel/tilerun"
)

func mustExtent(t *testing.T, start, end string) *tilerun.TemporalExtent {
	e, err := tilerun.NewTemporalExtent(start, end)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func checkContiguous(t *testing.T, ext *tilerun.TemporalExtent, g tilerun.Grid) {
	if len(g) == 0 {
		t.Fatal("empty grid")
	}
	if !g[0].Time.Start.Equal(ext.Start) {
		t.Errorf("first tile starts at %v; want %v", g[0].Time.Start, ext.Start)
	}
	if !g[len(g)-1].Time.End.Equal(ext.End) {
		t.Errorf("last tile ends at %v; want %v", g[len(g)-1].Time.End, ext.End)
	}
	for i, tile := range g {
		if tile.Index != i {
			t.Errorf("tile %d has index %d", i, tile.Index)
		}
		if !tile.Time.Start.Before(tile.Time.End) {
			t.Errorf("tile %d is empty: %v", i, tile.Time)
		}
		if i > 0 && !g[i-1].Time.End.Equal(tile.Time.Start) {
			t.Errorf("gap or overlap between tile %d and %d: %v, %v", i-1, i, g[i-1].Time, tile.Time)
		}
	}
}

func TestTemporal(t *testing.T) {
	tests := []struct {
		start, end, period string
		n                  int
	}{
		{start: "2020-06-01", end: "2020-06-29", period: "1W", n: 4},
		{start: "2020-06-03", end: "2020-07-01", period: "W", n: 4},
		{start: "2020-06-01", end: "2020-06-11", period: "1W", n: 2},
		{start: "2020-06-01", end: "2020-06-11", period: "2D", n: 5},
		{start: "2020-01-31", end: "2020-06-01", period: "1M", n: 5},
		{start: "2017-05-01", end: "2017-07-01", period: "2W", n: 5},
		{start: "2020-06-01T00:00:00Z", end: "2020-06-01T05:30:00Z", period: "1H", n: 6},
		{start: "2015-01-01", end: "2020-01-01", period: "2Y", n: 3},
	}
	for _, test := range tests {
		t.Run(test.start+"_"+test.period, func(t *testing.T) {
			ext := mustExtent(t, test.start, test.end)
			g, err := Temporal(ext, test.period)
			if err != nil {
				t.Fatal(err)
			}
			if len(g) != test.n {
				t.Errorf("have %d tiles, want %d", len(g), test.n)
			}
			checkContiguous(t, ext, g)
		})
	}
}

func TestTemporalEmpty(t *testing.T) {
	ext := mustExtent(t, "2020-06-01", "2020-06-01")
	g, err := Temporal(ext, "1W")
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != 0 {
		t.Errorf("have %d tiles, want none", len(g))
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want Period
		err  bool
	}{
		{in: "1W", want: Period{N: 1, Unit: "W"}},
		{in: "W", want: Period{N: 1, Unit: "W"}},
		{in: "3MS", want: Period{N: 3, Unit: "M"}},
		{in: "12h", want: Period{N: 12, Unit: "H"}},
		{in: "15min", want: Period{N: 15, Unit: "min"}},
		{in: "0D", err: true},
		{in: "1 fortnight", err: true},
		{in: "", err: true},
	}
	for _, test := range tests {
		p, err := ParsePeriod(test.in)
		if test.err {
			if err == nil {
				t.Errorf("%q: expected an error", test.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
			continue
		}
		if p != test.want {
			t.Errorf("%q: have %+v, want %+v", test.in, p, test.want)
		}
	}
}

func TestPeriodMonthEnd(t *testing.T) {
	p := Period{N: 1, Unit: "M"}
	t0 := time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC)
	if got := p.Step(t0, 3); !got.Equal(time.Date(2021, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("have %v", got)
	}
}

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}
}

const utm34 = "+proj=utm +zone=34 +datum=WGS84 +units=m +no_defs"

func TestSpatialRectangle(t *testing.T) {
	// 2000 × 2000 pixels at 10 m tiled at 1000 pixels.
	ext := tilerun.NewSpatialExtent(utm34, rect(0, 0, 20000, 20000))
	c := &SpatialConfig{
		Resolution: tilerun.Resolution{-10, 10},
		TileSize:   1000,
		CRS:        utm34,
		Precise:    true,
	}
	g, err := c.Grid(ext)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != 4 {
		t.Fatalf("have %d tiles, want 4", len(g))
	}
	for i, tile := range g {
		if math.Abs(tile.Overlap-1) > 1e-9 {
			t.Errorf("tile %d overlap %g", i, tile.Overlap)
		}
		b := tile.Space.Bounds()
		if b.Max.X-b.Min.X != 10000 || b.Max.Y-b.Min.Y != 10000 {
			t.Errorf("tile %d bounds %+v", i, b)
		}
	}
}

func tileArea(g tilerun.Grid) float64 {
	var a float64
	for _, tile := range g {
		for _, f := range tile.Space.Features {
			a += f.(geom.Polygonal).Area()
		}
	}
	return a
}

func TestSpatialPreciseArea(t *testing.T) {
	tri := geom.Polygon{{{X: 5, Y: 3}, {X: 4870, Y: 120}, {X: 2300, Y: 3990}, {X: 5, Y: 3}}}
	hole := geom.Polygon{
		{{X: 6000, Y: 0}, {X: 9000, Y: 0}, {X: 9000, Y: 3000}, {X: 6000, Y: 3000}, {X: 6000, Y: 0}},
		{{X: 7000, Y: 1000}, {X: 8000, Y: 1000}, {X: 8000, Y: 2000}, {X: 7000, Y: 2000}, {X: 7000, Y: 1000}},
	}
	ext := tilerun.NewSpatialExtent(utm34, tri, hole)
	res := tilerun.Resolution{-10, 10}
	c := &SpatialConfig{Resolution: res, TileSize: 64, CRS: utm34, Precise: true}
	g, err := c.Grid(ext)
	if err != nil {
		t.Fatal(err)
	}
	want := tri.Area() + hole.Area()
	have := tileArea(g)
	// Each dropped cell can only have carried half a pixel.
	cells := (9000/640 + 1) * (3990/640 + 1)
	tol := float64(cells) * 0.5 * res.PixelArea()
	if math.Abs(have-want) > tol {
		t.Errorf("tile area %g differs from input area %g by more than %g", have, want, tol)
	}
	for i, tile := range g {
		if tile.Overlap < 0.5*res.PixelArea()/(640*640) {
			t.Errorf("tile %d kept with overlap %g", i, tile.Overlap)
		}
	}
}

func TestSpatialCoarse(t *testing.T) {
	tri := geom.Polygon{{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 0, Y: 1000}, {X: 0, Y: 0}}}
	ext := tilerun.NewSpatialExtent(utm34, tri)
	c := &SpatialConfig{Resolution: tilerun.Resolution{-10, 10}, TileSize: 50, CRS: utm34}
	g, err := c.Grid(ext)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) == 0 {
		t.Fatal("empty grid")
	}
	for i, tile := range g {
		if a := tile.Space.Features[0].(geom.Polygonal).Area(); a != 500*500 {
			t.Errorf("tile %d area %g; want full cell", i, a)
		}
	}
	// The cell in the upper right corner is only touched at a vertex.
	if len(g) != 3 {
		t.Errorf("have %d tiles, want 3", len(g))
	}
}

func TestSpatialPoint(t *testing.T) {
	ext := tilerun.NewSpatialExtent(utm34, geom.Point{X: 255, Y: 255})
	c := &SpatialConfig{Resolution: tilerun.Resolution{-10, 10}, TileSize: 100, CRS: utm34, Precise: true}
	g, err := c.Grid(ext)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != 1 {
		t.Fatalf("have %d tiles, want 1", len(g))
	}
	// The buffer has the area of one pixel.
	if a := tileArea(g); math.Abs(a-100) > 5 {
		t.Errorf("buffered point area %g", a)
	}
}

func TestSpatialSliver(t *testing.T) {
	// The strip covers less than half a pixel.
	ext := tilerun.NewSpatialExtent(utm34, rect(0, 0, 1, 40))
	c := &SpatialConfig{Resolution: tilerun.Resolution{-10, 10}, TileSize: 100, CRS: utm34, Precise: true}
	g, err := c.Grid(ext)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != 0 {
		t.Errorf("have %d tiles, want none", len(g))
	}
}

func TestExplode(t *testing.T) {
	p := geom.Polygon{
		rect(0, 0, 10, 10)[0],
		rect(2, 2, 4, 4)[0],
		rect(20, 0, 30, 10)[0],
		rect(5, 5, 5, 5)[0],
	}
	parts := explode(p)
	if len(parts) != 2 {
		t.Fatalf("have %d parts, want 2", len(parts))
	}
	if a := parts[0].Area() + parts[1].Area(); a != 196 {
		t.Errorf("area %g, want 196", a)
	}
}
