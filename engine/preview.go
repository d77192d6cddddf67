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

package engine

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/vrt"
)

const gib = 1 << 30

// Layer describes one result of a preview run.
type Layer struct {
	Name       string
	DType      string
	CRS        string
	Resolution tilerun.Resolution
}

// Estimate is the expected output of one result under a merge scenario.
type Estimate struct {
	Layer string

	// GiB is the estimated size in GiB and N the number of tiles or files.
	GiB float64
	N   int

	// Shape is the shape of one tile, auxiliary axes first.
	Shape []int
}

// Scenario holds the estimates for one way of merging the tile results.
type Scenario struct {
	Merge     string
	Estimates []Estimate
}

// Total returns the summed size and tile count of all estimates.
func (s Scenario) Total() (gibs float64, n int) {
	for _, e := range s.Estimates {
		gibs += e.GiB
		n += e.N
	}
	return gibs, n
}

// Report is the outcome of a preview.
type Report struct {
	Dim   tilerun.Dimension
	Tiles int

	// Valid is false if no tile produced a response.
	Valid bool

	// Cache is the resolved cache, or nil if caching is off.
	Cache *tilerun.Cache

	Layers    []Layer
	Scenarios []Scenario

	// Note is an explanation printed with the report.
	Note string
}

const (
	spaceNote = "The following numbers are rough estimates for the strategies of merging the tile results. " +
		"With merge mode 'merged' the total size is a lower bound for the memory required, " +
		"since the tile results are kept in memory before they are merged."
	timeNote = "Estimates are only available for spatial outputs. Unless very dense time series or many " +
		"features are processed, the output of a temporally tiled run is small."
	emptyNote = "No tile produced a valid response. Check that input data exists within the " +
		"spatio-temporal extent."
)

// Preview resolves the recipe against the first tile, narrows the data
// source and sets up the cache, then executes tiles in order until one
// produces a response and estimates the output size from it. It must run
// before tiles are executed; Execute calls it when needed.
func (h *TileHandler) Preview(ctx context.Context) (*Report, error) {
	g, err := h.Grid()
	if err != nil {
		return nil, err
	}
	rep := &Report{Dim: h.dim, Tiles: len(g)}
	if len(g) == 0 {
		h.log.Warn("the grid is empty; check that the area of interest covers at least half a pixel")
		rep.Note = emptyNote
		h.previewed = true
		return rep, h.print(rep)
	}

	prep, err := h.prepare(ctx, g[0])
	if err != nil {
		return nil, err
	}
	if prep.Source != nil {
		h.setSource(prep.Source)
	}
	if h.cfg.Caching {
		h.cache = prep.Cache
	}
	rep.Cache = h.cache
	h.previewed = true
	h.log.WithField("layers", strings.Join(prep.Cache.Layers(), ",")).Debug("recipe resolved")

	sup := h.supervisor()
	var resp tilerun.Response
	for _, t := range g {
		if resp, err = sup.Run(ctx, h.execContext(t, h.source, h.cache, true)); err != nil {
			return nil, fmt.Errorf("engine: preview: %w", err)
		}
		if resp != nil {
			break
		}
	}
	if resp == nil {
		h.log.Warn("no tile produced a valid response")
		h.log.Warn("check that the input data is within the spatio-temporal extent")
		rep.Note = emptyNote
		return rep, h.print(rep)
	}
	rep.Valid = true

	if h.dim != tilerun.Space {
		rep.Note = timeNote
		return rep, h.print(rep)
	}
	arrays, err := h.normalize(resp)
	if err != nil {
		return nil, fmt.Errorf("engine: preview: %w", err)
	}
	if err := h.estimate(rep, arrays); err != nil {
		return nil, err
	}
	rep.Note = spaceNote
	return rep, h.print(rep)
}

// setSource replaces the data source. Reauthentication is paused while
// the source is swapped.
func (h *TileHandler) setSource(src tilerun.DataSource) {
	if h.daemon != nil {
		h.daemon.Stop()
		defer h.daemon.Start(context.Background())
		h.daemon.SetSource(src)
	}
	h.source = src
}

// estimate extrapolates the sizes of the normalized preview arrays to the
// whole extent for every merge scenario.
func (h *TileHandler) estimate(rep *Report, arrays map[string]*tilerun.Array) error {
	space, err := h.cfg.Space.Transform(h.cfg.CRS)
	if err != nil {
		return fmt.Errorf("engine: preview: %w", err)
	}
	b := space.Bounds()
	nx := int(math.Ceil((b.Max.X - b.Min.X) / h.cfg.Resolution.X()))
	ny := int(math.Ceil((b.Max.Y - b.Min.Y) / h.cfg.Resolution.Y()))
	xyPixels := float64(nx * ny)
	n := rep.Tiles
	ts := h.cfg.SpaceTileSize

	none := Scenario{Merge: "None"}
	vrts := Scenario{Merge: "vrt_*"}
	merged := Scenario{Merge: "merged"}
	for _, name := range sortedNames(arrays) {
		a := arrays[name]
		rep.Layers = append(rep.Layers, Layer{
			Name:       name,
			DType:      a.DType,
			CRS:        h.cfg.CRS,
			Resolution: h.cfg.Resolution,
		})
		var aux []int
		for _, d := range a.AuxDims() {
			aux = append(aux, a.Len(d))
		}
		xySize := 1.
		if a.HasSpatialDims() {
			xySize = float64(a.Len(tilerun.DimX) * a.Len(tilerun.DimY))
		}
		if xySize == 0 {
			continue
		}
		nbytes := float64(a.NBytes())

		tiles := float64(n) * float64(ts*ts) / xySize * nbytes / gib
		none.Estimates = append(none.Estimates, Estimate{
			Layer: name, GiB: tiles, N: n, Shape: append(append([]int{}, aux...), ts, ts),
		})
		var ovr float64
		for _, s := range vrt.OverviewLevels(nx, ny) {
			ovr += nbytes * xyPixels / xySize / gib / float64(s*s)
		}
		vrts.Estimates = append(vrts.Estimates, Estimate{
			Layer: name, GiB: tiles + ovr, N: n, Shape: append(append([]int{}, aux...), ts, ts),
		})
		merged.Estimates = append(merged.Estimates, Estimate{
			Layer: name, GiB: xyPixels / xySize * nbytes / gib, N: 1, Shape: append(append([]int{}, aux...), ny, nx),
		})
	}
	rep.Scenarios = []Scenario{none, vrts, merged}
	h.log.WithFields(logrus.Fields{"layers": len(rep.Layers), "n": n}).Debug("output size estimated")
	return nil
}

func (h *TileHandler) print(rep *Report) error {
	if h.cfg.Out == nil {
		return nil
	}
	return rep.Print(h.cfg.Out)
}

// Print writes r as text tables.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Tiling over %s: %d tile(s)\n", r.Dim, r.Tiles)
	if r.Note != "" {
		fmt.Fprintln(tw, r.Note)
	}
	if len(r.Layers) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "General layer info")
		fmt.Fprintln(tw, "layer\tdtype\tcrs\tres\t")
		for _, l := range r.Layers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t\n", l.Name, l.DType, l.CRS, l.Resolution)
		}
	}
	for _, s := range r.Scenarios {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "Scenario: merge = %s\n", s.Merge)
		fmt.Fprintln(tw, "layer\tsize\ttile n\ttile shape\t")
		for _, e := range s.Estimates {
			fmt.Fprintf(tw, "%s\t%.2f GiB\t%d tile(s)\t%v\t\n", e.Layer, e.GiB, e.N, e.Shape)
		}
		size, n := s.Total()
		fmt.Fprintf(tw, "Total\t%.2f GiB\t%d tile(s)\t\t\n", size, n)
	}
	return tw.Flush()
}

func sortedNames(m map[string]*tilerun.Array) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
