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
	"math"
	"reflect"
	"testing"

	"github.com/kr/pretty"
)

// seq returns an array whose values are their flat positions.
func seq(dims []string, shape ...int) *Array {
	a := NewArray("test", dims, shape...)
	for i := range a.Data.Elements {
		a.Data.Elements[i] = float64(i)
	}
	return a
}

func TestTranspose(t *testing.T) {
	a := seq([]string{"time", "y", "x"}, 2, 3, 4)
	a.Coords["time"] = []string{"t0", "t1"}
	b, err := a.Transpose("y", "x", "time")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.Shape(), []int{3, 4, 2}) {
		t.Fatalf("shape %v", b.Shape())
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				if a.Data.Get(i, j, k) != b.Data.Get(j, k, i) {
					t.Fatalf("(%d,%d,%d): %g != %g", i, j, k, a.Data.Get(i, j, k), b.Data.Get(j, k, i))
				}
			}
		}
	}
	if _, err := a.Transpose("y", "x"); err == nil {
		t.Error("expected an error for a missing dimension")
	}
}

func TestIselSel(t *testing.T) {
	a := seq([]string{"band", "y", "x"}, 3, 2, 2)
	a.Coords["band"] = []string{"a", "b", "c"}
	a.BandVariable = "band"
	a.LongName = a.Coords["band"]
	b, ok := a.Sel("band", "b")
	if !ok {
		t.Fatal("label not found")
	}
	want := []float64{4, 5, 6, 7}
	if !reflect.DeepEqual(b.Data.Elements, want) {
		t.Errorf("have %v, want %v", b.Data.Elements, want)
	}
	if b.BandVariable != "" || b.LongName != nil {
		t.Error("band metadata should be dropped with the band dimension")
	}
	if _, ok := a.Sel("band", "z"); ok {
		t.Error("found a missing label")
	}
}

func TestConcat(t *testing.T) {
	a := seq([]string{"time"}, 2)
	a.Coords["time"] = []string{"2020-01-01", "2020-01-02"}
	b := seq([]string{"time"}, 3)
	b.Coords["time"] = []string{"2020-01-03", "2020-01-04", "2020-01-05"}
	c, err := Concat("time", nil, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Data.Elements, []float64{0, 1, 0, 1, 2}) {
		t.Errorf("values %v", c.Data.Elements)
	}
	if len(c.Coords["time"]) != 5 || c.Coords["time"][4] != "2020-01-05" {
		t.Errorf("labels %v", c.Coords["time"])
	}

	// A new dimension.
	x := seq([]string{"y", "x"}, 2, 2)
	y := seq([]string{"y", "x"}, 2, 2)
	z, err := Concat("band", []string{"p", "q"}, x, y)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(z.Dims, []string{"band", "y", "x"}) {
		t.Errorf("dims %v", z.Dims)
	}
	if !reflect.DeepEqual(z.Data.Elements, []float64{0, 1, 2, 3, 0, 1, 2, 3}) {
		t.Errorf("values %v", z.Data.Elements)
	}

	if _, err := Concat("time", nil, a, seq([]string{"x"}, 2)); err == nil {
		t.Error("expected an error for mismatched dimensions")
	}
}

func TestStack(t *testing.T) {
	a := seq([]string{"year", "y", "x", "season"}, 2, 1, 2, 2)
	a.Coords["year"] = []string{"2020", "2021"}
	a.Coords["season"] = []string{"dry", "wet"}
	s, err := a.Stack(DimGrouper, "year", "season")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.Dims, []string{DimGrouper, "y", "x"}) {
		t.Fatalf("dims %v", s.Dims)
	}
	wantLabels := []string{"(2020, dry)", "(2020, wet)", "(2021, dry)", "(2021, wet)"}
	if !reflect.DeepEqual(s.Coords[DimGrouper], wantLabels) {
		t.Errorf("labels:\n%s", pretty.Diff(s.Coords[DimGrouper], wantLabels))
	}
	// (2021, wet) at x=1 is a[1,0,1,1].
	if s.Data.Get(3, 0, 1) != a.Data.Get(1, 0, 1, 1) {
		t.Errorf("have %g, want %g", s.Data.Get(3, 0, 1), a.Data.Get(1, 0, 1, 1))
	}
	if p := SplitLabel(wantLabels[2]); !reflect.DeepEqual(p, []string{"2021", "dry"}) {
		t.Errorf("split %v", p)
	}
}

func TestGeoTransform(t *testing.T) {
	a := NewArray("one", []string{"y", "x"}, 1, 1)
	a.X, a.Y = []float64{105}, []float64{95}
	g, err := a.GeoTransform(Resolution{-10, 10})
	if err != nil {
		t.Fatal(err)
	}
	want := GeoTransform{X0: 100, DX: 10, Y0: 100, DY: -10}
	if g != want {
		t.Errorf("have %+v, want %+v", g, want)
	}

	b := NewArray("many", []string{"y", "x"}, 2, 3)
	b.SetTransform(want)
	if b.X[2] != 125 || b.Y[1] != 85 {
		t.Errorf("centres %v %v", b.X, b.Y)
	}
	b.Transform = nil
	g2, err := b.GeoTransform(Resolution{-99, 99})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(g2.X0-100) > 1e-9 || math.Abs(g2.DY+10) > 1e-9 {
		t.Errorf("derived %+v", g2)
	}
	if r, c := want.Offset(120, 80); r != 2 || c != 2 {
		t.Errorf("offset %d,%d", r, c)
	}
	p, err := ParseGeoTransform(want.String())
	if err != nil || p != want {
		t.Errorf("parse %+v, %v", p, err)
	}
}

func TestSortLabels(t *testing.T) {
	tests := []struct{ in, want []string }{
		{in: []string{"10", "9", "100"}, want: []string{"9", "10", "100"}},
		{in: []string{"2020-03-01", "2019-12-01T00:00:00Z"}, want: []string{"2019-12-01T00:00:00Z", "2020-03-01"}},
		{in: []string{"b", "a", "10"}, want: []string{"10", "a", "b"}},
	}
	for _, test := range tests {
		SortLabels(test.in)
		if !reflect.DeepEqual(test.in, test.want) {
			t.Errorf("have %v, want %v", test.in, test.want)
		}
	}
	if u := UniqueLabels([]string{"2021", "2020"}, []string{"2020", "2019"}); !reflect.DeepEqual(u, []string{"2019", "2020", "2021"}) {
		t.Errorf("unique %v", u)
	}
}
