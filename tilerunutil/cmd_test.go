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

package tilerunutil

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/cube"
	"github.com/spatialmodel/tilerun/raster"
)

// setup writes a cube with a 4×4 "ndvi" layer with three time steps, a
// recipe and an area of interest covering the cube to a temporary
// directory and configures the command line to use them.
func setup(t *testing.T, recipe string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tilerunutil")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	a := tilerun.NewArray("ndvi", []string{tilerun.DimTime, tilerun.DimY, tilerun.DimX}, 3, 4, 4)
	a.Coords[tilerun.DimTime] = []string{"2020-01-06T00:00:00Z", "2020-01-13T00:00:00Z", "2020-01-20T00:00:00Z"}
	for i := range a.Data.Elements {
		a.Data.Elements[i] = float64(100*(i/16) + i%16)
	}
	a.CRS = "EPSG:4326"
	a.SetTransform(tilerun.FromOrigin(10, 50, 0.1, 0.1))
	if err := cube.WriteLayer(filepath.Join(dir, "cube"), a); err != nil {
		t.Fatal(err)
	}
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	Cfg.Set("recipe", write("recipe.json", recipe))
	Cfg.Set("aoi", write("aoi.geojson", `{"type": "Polygon", "coordinates": [[[10, 49.6], [10.4, 49.6], [10.4, 50], [10, 50], [10, 49.6]]]}`))
	Cfg.Set("cube", filepath.Join(dir, "cube"))
	Cfg.Set("out_dir", filepath.Join(dir, "out"))
	Cfg.Set("crs", "EPSG:4326")
	Cfg.Set("res", []string{"0.1"})
	Cfg.Set("space_tile", 2)
	Cfg.Set("time_tile", "1W")
	Cfg.Set("start", "2020-01-06")
	Cfg.Set("end", "2020-01-27")
	Cfg.Set("merge", "merged")
	Cfg.Set("workers", 1)
	return dir
}

const maxRecipe = `{"f": {"type": "processing_chain",
	"with": {"type": "layer", "reference": ["ndvi"]},
	"do": [{"type": "verb", "name": "reduce", "params": {"dimension": "time", "reducer": "max"}}]}}`

const countRecipe = `{"n": {"type": "processing_chain",
	"with": {"type": "layer", "reference": ["ndvi"]},
	"do": [{"type": "verb", "name": "reduce", "params": {"dimension": "space", "reducer": "count"}}]}}`

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var b bytes.Buffer
	Root.SetOutput(&b)
	Root.SetArgs(args)
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	return b.String()
}

func TestVersion(t *testing.T) {
	if out := execute(t, "version"); out != "tilerun v"+tilerun.Version+"\n" {
		t.Errorf("have %q", out)
	}
}

func checkMax(t *testing.T, path string) {
	t.Helper()
	a, err := raster.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, v := range a.Data.Elements {
		if !math.IsNaN(v) {
			n++
			if v < 200 || v > 215 {
				t.Errorf("value %g out of range", v)
			}
		}
	}
	if n != 16 {
		t.Errorf("have %d values, want 16", n)
	}
}

func TestRun(t *testing.T) {
	for _, workers := range []int{1, 3} {
		dir := setup(t, maxRecipe)
		Cfg.Set("workers", workers)
		out := execute(t, "run")
		path := filepath.Join(dir, "out", "f.nc")
		if !strings.Contains(out, "wrote "+path) {
			t.Errorf("%d workers: output %q", workers, out)
		}
		checkMax(t, path)
	}
	Cfg.Set("workers", 1)
}

func TestRunMergeNone(t *testing.T) {
	dir := setup(t, maxRecipe)
	Cfg.Set("merge", "none")
	defer Cfg.Set("merge", "merged")
	out := execute(t, "run")
	if !strings.Contains(out, "4 tile(s) with data") {
		t.Errorf("output %q", out)
	}
	files, err := filepath.Glob(filepath.Join(dir, "out", "tiles", "*", "f.nc"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Errorf("have %d tile files", len(files))
	}
}

func TestPreviewCommand(t *testing.T) {
	setup(t, maxRecipe)
	out := execute(t, "preview")
	for _, want := range []string{"merge = None", "merge = merged", "GiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output doesn't contain %q:\n%s", want, out)
		}
	}
}

func TestGridCommand(t *testing.T) {
	dir := setup(t, maxRecipe)
	out := execute(t, "grid", "--format", "geojson")
	var fc struct {
		Features []struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal([]byte(out), &fc); err != nil {
		t.Fatalf("%v: %s", err, out)
	}
	if len(fc.Features) != 4 {
		t.Errorf("have %d tiles", len(fc.Features))
	}

	shpPath := filepath.Join(dir, "grid.shp")
	Cfg.Set("output", shpPath)
	Cfg.Set("format", "shp")
	execute(t, "grid")
	Cfg.Set("output", "")
	Cfg.Set("format", "geojson")
	if _, err := os.Stat(shpPath); err != nil {
		t.Error(err)
	}

	setup(t, countRecipe)
	out = execute(t, "grid")
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 4 || !strings.HasPrefix(lines[1], "0") {
		t.Errorf("temporal grid:\n%s", out)
	}
}

func TestCatalogCommand(t *testing.T) {
	Cfg.Set("category", []string{"landcover"})
	defer Cfg.Set("category", []string{})
	out := execute(t, "catalog")
	if !strings.Contains(out, "esa-worldcover") || strings.Contains(out, "nasadem") {
		t.Errorf("output:\n%s", out)
	}
}

func TestParseResolution(t *testing.T) {
	for _, tc := range []struct {
		in   interface{}
		want tilerun.Resolution
		err  bool
	}{
		{in: []string{"10"}, want: tilerun.Resolution{-10, 10}},
		{in: []string{"-20", "10"}, want: tilerun.Resolution{-20, 10}},
		{in: "30", want: tilerun.Resolution{-30, 30}},
		{in: []string{"1", "2", "3"}, err: true},
		{in: []string{"ten"}, err: true},
	} {
		have, err := parseResolution(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("%v: error %v", tc.in, err)
			continue
		}
		if have != tc.want {
			t.Errorf("%v: have %v, want %v", tc.in, have, tc.want)
		}
	}
}

func TestEngineConfigErrors(t *testing.T) {
	setup(t, maxRecipe)
	Cfg.Set("merge", "mosaic")
	_, _, err := EngineConfig(Cfg)
	Cfg.Set("merge", "merged")
	if err == nil {
		t.Error("invalid merge mode accepted")
	}

	cube := Cfg.GetString("cube")
	Cfg.Set("cube", "")
	_, _, err = EngineConfig(Cfg)
	Cfg.Set("cube", cube)
	if err == nil {
		t.Error("missing cube accepted")
	}

	cfg, p, err := EngineConfig(Cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || cfg.Space == nil || cfg.Time == nil || cfg.SpaceTileSize != 2 || !cfg.Caching {
		t.Errorf("config %+v", cfg)
	}
}
