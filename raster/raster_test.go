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
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kr/pretty"
	"gonum.org/v1/gonum/floats"

	"github.com/spatialmodel/tilerun"
)

func tempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "raster")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// tile returns a 3-D (grouper, y, x) raster with one band per label.
func tile(x0, y0 float64, labels ...string) *tilerun.Array {
	a := tilerun.NewArray("ndvi", []string{tilerun.DimGrouper, tilerun.DimY, tilerun.DimX}, len(labels), 2, 3)
	for i := range a.Data.Elements {
		a.Data.Elements[i] = float64(i) / 10
	}
	a.CRS = "EPSG:3035"
	a.SetTransform(tilerun.FromOrigin(x0, y0, 10, 10))
	a.BandVariable = tilerun.DimGrouper
	a.LongName = labels
	a.Coords[tilerun.DimGrouper] = labels
	return a
}

func TestWriteRead3D(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "ndvi", "0.nc")
	a := tile(100, 200, "2019", "2020")
	a.Data.Elements[3] = math.NaN()
	if err := Write(path, a); err != nil {
		t.Fatal(err)
	}
	b, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.Dims, a.Dims) || !reflect.DeepEqual(b.Shape(), a.Shape()) {
		t.Fatalf("have %v%v, want %v%v", b.Dims, b.Shape(), a.Dims, a.Shape())
	}
	if !floats.Same(b.Data.Elements, a.Data.Elements) {
		t.Errorf("values: %v", pretty.Diff(b.Data.Elements, a.Data.Elements))
	}
	if !reflect.DeepEqual(b.LongName, a.LongName) || b.BandVariable != a.BandVariable {
		t.Errorf("band metadata %q %v", b.BandVariable, b.LongName)
	}
	if *b.Transform != *a.Transform || b.CRS != a.CRS || b.Name != "ndvi" {
		t.Errorf("metadata %v %q %q", b.Transform, b.CRS, b.Name)
	}
	if !floats.Equal(b.X, a.X) || !floats.Equal(b.Y, a.Y) {
		t.Errorf("coordinates %v %v", b.X, b.Y)
	}
	// No temporary files are left behind.
	files, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("%d files in output directory", len(files))
	}
}

func TestWriteRead2D(t *testing.T) {
	path := filepath.Join(tempDir(t), "b.nc")
	a := tilerun.NewArray("b", []string{tilerun.DimY, tilerun.DimX}, 3, 2)
	for i := range a.Data.Elements {
		a.Data.Elements[i] = float64(i * i)
	}
	a.SetTransform(tilerun.FromOrigin(0, 30, 10, 10))
	if err := Write(path, a); err != nil {
		t.Fatal(err)
	}
	info, err := ReadInfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Bands() != 1 || info.BandVariable != "" {
		t.Errorf("bands %d %q", info.Bands(), info.BandVariable)
	}
	b, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.Dims, a.Dims) {
		t.Errorf("dims %v", b.Dims)
	}
	if !floats.Equal(b.Data.Elements, a.Data.Elements) {
		t.Errorf("values %v", b.Data.Elements)
	}
}

func TestWriteReadSeries(t *testing.T) {
	path := filepath.Join(tempDir(t), "ts.nc")
	a := tilerun.NewArray("ts", []string{tilerun.DimTime, tilerun.DimGrouper}, 2, 2)
	a.Coords[tilerun.DimTime] = []string{"2020-01-01T00:00:00Z", "2020-01-08T00:00:00Z"}
	a.Coords[tilerun.DimGrouper] = []string{"a", "b"}
	a.Data.Elements = []float64{1, 2, 3, 4}
	if err := Write(path, a); err != nil {
		t.Fatal(err)
	}
	b, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.Coords, a.Coords) {
		t.Errorf("coords: %v", pretty.Diff(b.Coords, a.Coords))
	}
	if !floats.Equal(b.Data.Elements, a.Data.Elements) {
		t.Errorf("values %v", b.Data.Elements)
	}
}

func TestEqualizeBands(t *testing.T) {
	dir := tempDir(t)
	paths := []string{filepath.Join(dir, "0.nc"), filepath.Join(dir, "1.nc"), filepath.Join(dir, "2.nc")}
	tiles := []*tilerun.Array{
		tile(0, 20, "2020", "2021"),
		tile(30, 20, "2019"),
		tile(60, 20, "2019", "2020", "2021"),
	}
	for i, p := range paths {
		if err := Write(p, tiles[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := EqualizeBands(paths, nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"2019", "2020", "2021"}
	for i, p := range paths {
		a, err := Read(p)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(a.LongName, want) {
			t.Errorf("file %d: %v", i, pretty.Diff(a.LongName, want))
		}
		if !reflect.DeepEqual(a.Shape(), []int{3, 2, 3}) {
			t.Errorf("file %d: shape %v", i, a.Shape())
		}
		for _, l := range want {
			band, _ := a.Sel(tilerun.DimGrouper, l)
			orig, ok := tiles[i].Sel(tilerun.DimGrouper, l)
			if !ok {
				for _, v := range band.Data.Elements {
					if !math.IsNaN(v) {
						t.Errorf("file %d band %s: synthesized band has value %g", i, l, v)
						break
					}
				}
				continue
			}
			if !floats.Equal(band.Data.Elements, orig.Data.Elements) {
				t.Errorf("file %d band %s: values changed", i, l)
			}
		}
	}
}

func TestReband2D(t *testing.T) {
	a := tilerun.NewArray("b", []string{tilerun.DimY, tilerun.DimX}, 1, 1)
	if _, err := Reband(a, []string{"a"}); err == nil {
		t.Error("expected an error")
	}
}

func TestQuicklookErrors(t *testing.T) {
	dir := tempDir(t)
	a := tilerun.NewArray("s", []string{tilerun.DimTime}, 3)
	if err := Quicklook(filepath.Join(dir, "s.png"), a); err == nil {
		t.Error("expected an error for a non-spatial array")
	}
	b := tilerun.NewArray("p", []string{tilerun.DimY, tilerun.DimX}, 1, 1)
	b.X, b.Y = []float64{5}, []float64{5}
	if err := Quicklook(filepath.Join(dir, "p.png"), b); err == nil {
		t.Error("expected an error for a single pixel")
	}
}
