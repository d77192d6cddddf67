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

// Package cube is an in-process recipe pipeline over a NetCDF data cube.
//
// A cube is a directory holding one file per layer, written by WriteLayer,
// with the dimensions (time, y, x) or (y, x). Recipes are JSON objects
// mapping result names to instruction trees. The supported instructions
// are:
//
//	{"type": "layer", "reference": [..., "<layer>"]}
//	{"type": "concept", "reference": ["entity", "water"]}
//	{"type": "processing_chain", "with": <instruction>, "do": [<verb>, ...]}
//	{"type": "verb", "name": "<verb>", "params": {...}}
//
// Concepts are looked up in the mapping, which holds instruction trees
// under nested keys. The verbs are filter, evaluate, reduce, groupby,
// concatenate, change_dtype and update_na.
package cube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ctessum/geom"
	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/raster"
)

// Pipeline evaluates recipes against cubes opened through a *Source. It is
// safe for concurrent use.
type Pipeline struct {
	log   logrus.FieldLogger
	loads *requestcache.Cache
}

// New returns a pipeline that keeps up to cacheSize layers in memory.
func New(cacheSize int, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cacheSize <= 0 {
		cacheSize = 16
	}
	return &Pipeline{
		log: log,
		loads: requestcache.NewCache(func(ctx context.Context, req interface{}) (interface{}, error) {
			return load(req.(string))
		}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(cacheSize)),
	}
}

// WriteLayer stores a as the layer named a.Name in the cube at dir.
func WriteLayer(dir string, a *tilerun.Array) error {
	if a.Name == "" {
		return fmt.Errorf("cube: layer has no name")
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("cube: %w", err)
	}
	if err := raster.Write(filepath.Join(dir, a.Name+".nc"), a); err != nil {
		return fmt.Errorf("cube: writing layer %s: %w", a.Name, err)
	}
	return nil
}

func load(path string) (*tilerun.Array, error) {
	a, err := raster.Read(path)
	if err != nil {
		return nil, err
	}
	if a.Transform == nil {
		return nil, fmt.Errorf("cube: %s is not a raster", path)
	}
	if a.Axis(tilerun.DimTime) >= 0 {
		if a, err = a.Transpose(tilerun.DimTime, tilerun.DimY, tilerun.DimX); err != nil {
			return nil, err
		}
	}
	a.LongName, a.BandVariable = nil, ""
	return a, nil
}

// layer returns the stored layer. The returned array is shared and must
// not be modified.
func (p *Pipeline) layer(ctx context.Context, path string) (*tilerun.Array, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, tilerun.Fatal(fmt.Errorf("cube: %w", err))
	}
	key := fmt.Sprintf("%s@%d", path, fi.ModTime().UnixNano())
	v, err := p.loads.NewRequest(ctx, path, key).Result()
	if err != nil {
		return nil, err
	}
	return v.(*tilerun.Array), nil
}

func source(ec *tilerun.ExecContext) (*Source, error) {
	src, ok := ec.Source.(*Source)
	if !ok || src == nil {
		return nil, tilerun.Fatal(fmt.Errorf("cube: unsupported data source %T", ec.Source))
	}
	return src, nil
}

// Prepare resolves the layers the recipe references. The returned source
// is restricted to them and the cache maps each layer to its file.
func (p *Pipeline) Prepare(ctx context.Context, ec *tilerun.ExecContext) (*tilerun.Preparation, error) {
	src, err := source(ec)
	if err != nil {
		return nil, err
	}
	var layers []string
	for _, name := range ec.Recipe.Results() {
		if err := references(ec.Recipe[name], ec.Mapping, &layers, 0); err != nil {
			return nil, fmt.Errorf("cube: %s: %w", name, err)
		}
	}
	layers = tilerun.UniqueLabels(layers)
	entries := make(map[string]string, len(layers))
	for _, l := range layers {
		path, err := src.Path(l)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, tilerun.Fatal(fmt.Errorf("cube: layer %s: %w", l, err))
		}
		entries[l] = path
	}
	p.log.WithField("layers", layers).Debug("recipe references resolved")
	return &tilerun.Preparation{
		Cache:  tilerun.NewCache(layers, entries),
		Source: src.narrow(layers),
	}, nil
}

// Execute evaluates every result of the recipe over the extent of ec.
func (p *Pipeline) Execute(ctx context.Context, ec *tilerun.ExecContext) (tilerun.Response, error) {
	src, err := source(ec)
	if err != nil {
		return nil, err
	}
	e := &evaluator{ctx: ctx, p: p, ec: ec, src: src}
	resp := make(tilerun.Response)
	for _, name := range ec.Recipe.Results() {
		v, err := e.eval(ec.Recipe[name], 0)
		if err != nil {
			return nil, fmt.Errorf("cube: %s: %w", name, err)
		}
		switch t := v.(type) {
		case *tilerun.Array:
			t.Name = name
			resp[name] = t
		case tilerun.Collection:
			resp[name] = t
		default:
			return nil, tilerun.Fatal(fmt.Errorf("cube: result %s is not an array", name))
		}
	}
	return resp, nil
}

// crop selects the pixels of a whose centres lie within the spatial
// extent of ec and the time steps within its temporal extent. Pixels
// outside polygonal features are set to no data.
func crop(a *tilerun.Array, ec *tilerun.ExecContext) (*tilerun.Array, error) {
	gt := *a.Transform
	if ec.Resolution != (tilerun.Resolution{}) && !gt.SameResolution(tilerun.GeoTransform{DX: ec.Resolution.X(), DY: -ec.Resolution.Y()}) {
		return nil, tilerun.Fatal(fmt.Errorf("resampling from %v to %v is not supported", gt.Resolution(), ec.Resolution))
	}
	if ec.CRS != "" && a.CRS != "" && ec.CRS != a.CRS {
		return nil, tilerun.Fatal(fmt.Errorf("reprojecting from %s to %s is not supported", a.CRS, ec.CRS))
	}

	c0, nc := 0, len(a.X)
	r0, nr := 0, len(a.Y)
	var polys []geom.Polygonal
	if ec.Space != nil {
		space, err := ec.Space.Transform(a.CRS)
		if err != nil {
			return nil, tilerun.Fatal(err)
		}
		b := space.Bounds()
		c0, nc = span(a.X, b.Min.X, b.Max.X)
		r0, nr = span(a.Y, b.Min.Y, b.Max.Y)
		for _, f := range space.Features {
			if p, ok := f.(geom.Polygonal); ok {
				polys = append(polys, p)
			}
		}
	}
	times := []int{0}
	if a.Axis(tilerun.DimTime) >= 0 {
		times = times[:0]
		for i, l := range a.Labels(tilerun.DimTime) {
			t, err := tilerun.ParseTime(l)
			if err != nil {
				return nil, tilerun.Fatal(err)
			}
			if ec.Time == nil || ec.Time.Contains(t) {
				times = append(times, i)
			}
		}
	}
	if nc == 0 || nr == 0 || len(times) == 0 {
		return nil, tilerun.ErrEmptyData
	}

	var o *tilerun.Array
	if a.Axis(tilerun.DimTime) >= 0 {
		o = tilerun.NewArray(a.Name, a.Dims, len(times), nr, nc)
		labels := a.Labels(tilerun.DimTime)
		for _, i := range times {
			o.Coords[tilerun.DimTime] = append(o.Coords[tilerun.DimTime], labels[i])
		}
	} else {
		o = tilerun.NewArray(a.Name, a.Dims, nr, nc)
	}
	o.CRS, o.NoData, o.DType = a.CRS, a.NoData, a.DType
	o.SetTransform(tilerun.GeoTransform{
		X0: gt.X0 + float64(c0)*gt.DX, DX: gt.DX,
		Y0: gt.Y0 + float64(r0)*gt.DY, DY: gt.DY,
	})

	ny, nx := len(a.Y), len(a.X)
	for k, ti := range times {
		for r := 0; r < nr; r++ {
			for c := 0; c < nc; c++ {
				v := a.Data.Elements[(ti*ny+r0+r)*nx+c0+c]
				if len(polys) > 0 && !inside(geom.Point{X: o.X[c], Y: o.Y[r]}, polys) {
					v = o.NoData
				}
				o.Data.Elements[(k*nr+r)*nc+c] = v
			}
		}
	}
	return o, nil
}

// span returns the first index and the number of the ascending or
// descending coordinates that lie strictly between min and max.
func span(coords []float64, min, max float64) (first, n int) {
	first = -1
	for i, v := range coords {
		if v > min && v < max {
			if first < 0 {
				first = i
			}
			n++
		}
	}
	if first < 0 {
		return 0, 0
	}
	return first, n
}

func inside(p geom.Point, polys []geom.Polygonal) bool {
	for _, poly := range polys {
		if w := p.Within(poly); w == geom.Inside || w == geom.OnEdge {
			return true
		}
	}
	return false
}
