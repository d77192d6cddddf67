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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/engine"
	"github.com/spatialmodel/tilerun/raster"
)

// Run executes cfg with p. More than one worker executes tiles
// concurrently. With MergeMode none the raw tile results are written to
// cfg.OutDir/tiles.
func Run(ctx context.Context, cfg engine.Config, p tilerun.Pipeline, workers int) (*engine.Results, error) {
	var res engine.Results
	if workers > 1 {
		e, err := engine.NewParallel(p, cfg, workers)
		if err != nil {
			return nil, err
		}
		defer e.Close()
		if err := e.Execute(ctx); err != nil {
			return nil, err
		}
		res = e.Results
	} else {
		h, err := engine.New(p, cfg)
		if err != nil {
			return nil, err
		}
		defer h.Close()
		if err := h.Execute(ctx); err != nil {
			return nil, err
		}
		res = h.Results
	}
	if cfg.Merge == tilerun.MergeNone && cfg.OutDir != "" {
		files, err := writeTiles(cfg.OutDir, res.Tiles)
		if err != nil {
			return nil, err
		}
		res.Outputs = append(res.Outputs, files...)
	}
	return &res, nil
}

// writeTiles writes the arrays of raw tile responses to
// dir/tiles/<tile>/<name>.nc and returns the paths relative to dir.
// Members of collections get the file name <name>_<group>.nc.
func writeTiles(dir string, tiles []tilerun.Response) ([]string, error) {
	var files []string
	write := func(i int, name string, a *tilerun.Array) error {
		rel := filepath.Join("tiles", strconv.Itoa(i), name+".nc")
		if err := raster.Write(filepath.Join(dir, rel), a); err != nil {
			return fmt.Errorf("tilerun: writing tile %d %s: %w", i, name, err)
		}
		files = append(files, rel)
		return nil
	}
	for i, resp := range tiles {
		names := make([]string, 0, len(resp))
		for name := range resp {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			switch t := resp[name].(type) {
			case *tilerun.Array:
				if err := write(i, name, t); err != nil {
					return nil, err
				}
			case tilerun.Collection:
				for _, a := range t {
					if err := write(i, name+"_"+a.Name, a); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return files, nil
}

func printResults(w io.Writer, cfg engine.Config, res *engine.Results) error {
	if cfg.Merge == tilerun.MergeNone {
		fmt.Fprintf(w, "%d tile(s) with data\n", len(res.Tiles))
	}
	for _, f := range res.Outputs {
		fmt.Fprintf(w, "wrote %s\n", filepath.Join(cfg.OutDir, f))
	}
	for _, key := range res.Published {
		fmt.Fprintf(w, "published %s\n", key)
	}
	return nil
}

// Preview estimates the size of the outputs of cfg and prints the
// report to cfg.Out.
func Preview(ctx context.Context, cfg engine.Config, p tilerun.Pipeline) (*engine.Report, error) {
	h, err := engine.New(p, cfg)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Preview(ctx)
}

// Grid writes the grid of cfg. Spatial grids are written as "geojson" or
// "shp" to path, temporal grids as a table. GeoJSON and tables are
// written to w if path is empty.
func Grid(cfg engine.Config, p tilerun.Pipeline, format, path string, w io.Writer) error {
	h, err := engine.New(p, cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	g, err := h.Grid()
	if err != nil {
		return err
	}
	if len(g) == 0 || g[0].Space == nil {
		return writeTable(g, path, w)
	}
	switch format {
	case "geojson":
		return writeGeoJSON(g, h.Config().CRS, path, w)
	case "shp":
		if path == "" {
			return fmt.Errorf("tilerun: an output file is required for shapefiles")
		}
		return writeShapefile(g, path)
	default:
		return fmt.Errorf("tilerun: invalid grid format %q", format)
	}
}

// output returns w, or a new file at path if it is not empty.
func output(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("tilerun: %w", err)
	}
	return f, f.Close, nil
}

func writeTable(g tilerun.Grid, path string, w io.Writer) error {
	out, closeFn, err := output(path, w)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "tile\tstart\tend")
	for _, t := range g {
		start, end := "", ""
		if t.Time != nil {
			start, end = tilerun.FormatTime(t.Time.Start), tilerun.FormatTime(t.Time.End)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", t.Index, start, end)
	}
	if err := tw.Flush(); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func writeGeoJSON(g tilerun.Grid, crs, path string, w io.Writer) error {
	ext := &tilerun.SpatialExtent{CRS: crs}
	props := make([]map[string]interface{}, len(g))
	for i, t := range g {
		ext.Features = append(ext.Features, tilePolygon(t))
		props[i] = map[string]interface{}{"tile": t.Index, "overlap": t.Overlap}
	}
	out, closeFn, err := output(path, w)
	if err != nil {
		return err
	}
	if err := tilerun.WriteGeoJSON(out, ext, props); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func writeShapefile(g tilerun.Grid, path string) error {
	e, err := shp.NewEncoder(path, struct {
		geom.Polygon
		Tile    int
		Overlap float64
	}{})
	if err != nil {
		return fmt.Errorf("tilerun: creating grid shapefile: %w", err)
	}
	defer e.Close()
	for _, t := range g {
		if err := e.EncodeFields(tilePolygon(t), t.Index, t.Overlap); err != nil {
			return fmt.Errorf("tilerun: writing tile %d: %w", t.Index, err)
		}
	}
	return nil
}

// tilePolygon combines the rings of the features of a spatial tile. A
// tile without polygonal features is represented by its cell.
func tilePolygon(t *tilerun.Tile) geom.Polygon {
	var p geom.Polygon
	for _, f := range t.Space.Features {
		switch g := f.(type) {
		case geom.Polygon:
			p = append(p, g...)
		case geom.MultiPolygon:
			for _, pp := range g {
				p = append(p, pp...)
			}
		}
	}
	if len(p) == 0 && t.Cell != nil {
		b := t.Cell
		p = geom.Polygon{{
			{X: b.Min.X, Y: b.Min.Y}, {X: b.Max.X, Y: b.Min.Y}, {X: b.Max.X, Y: b.Max.Y},
			{X: b.Min.X, Y: b.Max.Y}, {X: b.Min.X, Y: b.Min.Y},
		}}
	}
	return p
}
