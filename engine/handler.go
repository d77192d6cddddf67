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
	"os"
	"path/filepath"
	"sort"

	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/cloud"
	"github.com/spatialmodel/tilerun/grid"
	"github.com/spatialmodel/tilerun/internal/hash"
	"github.com/spatialmodel/tilerun/merge"
	"github.com/spatialmodel/tilerun/normalize"
	"github.com/spatialmodel/tilerun/raster"
	"github.com/spatialmodel/tilerun/reauth"
	"github.com/spatialmodel/tilerun/supervise"
	"github.com/spatialmodel/tilerun/vrt"
)

// Results holds the outcome of the executions of a TileHandler. Which
// fields are set depends on the merge mode.
type Results struct {
	// Tiles are the raw responses of the tiles in grid order. They are
	// kept with MergeNone and when tiling is disabled.
	Tiles []tilerun.Response

	// Merged holds one array per result name with MergeMerged.
	Merged map[string]*tilerun.Array

	// TileFiles lists the tile rasters per result name and Mosaics the
	// virtual mosaic per result name with the vrt merge modes.
	TileFiles map[string][]string
	Mosaics   map[string]string

	// Outputs are the files written to the output directory, relative
	// to it, and Published the keys they were copied to in the output
	// bucket.
	Outputs   []string
	Published []string
}

// tileResult is what remains of a processed tile until the results are
// merged.
type tileResult struct {
	index int
	start string

	raw    tilerun.Response
	arrays map[string]*tilerun.Array
	files  map[string]string
}

// TileHandler executes a recipe tile by tile.
type TileHandler struct {
	cfg      Config
	pipeline tilerun.Pipeline
	dim      tilerun.Dimension
	log      logrus.FieldLogger

	daemon *reauth.Daemon

	grid      tilerun.Grid
	gridBuilt bool

	// source is the data source tiles are executed against. Preview may
	// narrow it to the layers the recipe references.
	source    tilerun.DataSource
	cache     *tilerun.Cache
	prepared  *requestcache.Cache
	previewed bool

	pending []*tileResult

	// Results is updated by every call to Execute.
	Results Results
}

// New creates a handler that executes cfg.Recipe with p. Configuration
// errors are returned immediately. The handler must be closed to stop
// reauthentication.
func New(p tilerun.Pipeline, cfg Config) (*TileHandler, error) {
	cfg.setDefaults()
	dim := cfg.Recipe.TileDimension(cfg.TileDim, cfg.Log)
	if err := cfg.validate(dim); err != nil {
		return nil, err
	}
	if cfg.Merge == tilerun.MergeNone {
		cfg.OutDir = ""
	}
	if cfg.OutDir != "" {
		if err := os.MkdirAll(cfg.OutDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("engine: creating output directory: %w", err)
		}
	}
	h := &TileHandler{
		cfg:      cfg,
		pipeline: p,
		dim:      dim,
		log:      cfg.Log,
		source:   cfg.Source,
	}
	h.prepared = requestcache.NewCache(func(ctx context.Context, req interface{}) (interface{}, error) {
		return p.Prepare(ctx, req.(*tilerun.ExecContext))
	}, 1, requestcache.Deduplicate(), requestcache.Memory(8))
	if cfg.Reauth && cfg.Source != nil {
		h.daemon = reauth.New(cfg.Source, cfg.ReauthPeriod, h.log)
		h.daemon.Start(context.Background())
	}
	return h, nil
}

// Close stops the reauthentication daemon.
func (h *TileHandler) Close() error {
	if h.daemon != nil {
		h.daemon.Stop()
	}
	return nil
}

// Dimension returns the dimension the handler tiles over.
func (h *TileHandler) Dimension() tilerun.Dimension { return h.dim }

// Config returns the configuration with defaults applied.
func (h *TileHandler) Config() Config { return h.cfg }

// Grid returns the tiles the extent is split into, creating them on the
// first call. With tiling disabled the grid is a single tile covering the
// whole extent.
func (h *TileHandler) Grid() (tilerun.Grid, error) {
	if h.gridBuilt {
		return h.grid, nil
	}
	var (
		g   tilerun.Grid
		err error
	)
	switch h.dim {
	case tilerun.Time:
		g, err = grid.Temporal(h.cfg.Time, h.cfg.TimeTileSize)
	case tilerun.Space:
		g, err = (&grid.SpatialConfig{
			Resolution: h.cfg.Resolution,
			TileSize:   h.cfg.SpaceTileSize,
			CRS:        h.cfg.CRS,
			Precise:    h.cfg.Merge != tilerun.MergeVRTTiles,
			Log:        h.log,
		}).Grid(h.cfg.Space)
	default:
		g = tilerun.Grid{{Index: 0, Space: h.cfg.Space, Time: h.cfg.Time}}
	}
	if err != nil {
		return nil, fmt.Errorf("engine: creating %s grid: %w", h.dim, err)
	}
	h.grid, h.gridBuilt = g, true
	return g, nil
}

// execContext returns the execution context of tile t.
func (h *TileHandler) execContext(t *tilerun.Tile, src tilerun.DataSource, cache *tilerun.Cache, preview bool) *tilerun.ExecContext {
	ec := &tilerun.ExecContext{
		Recipe:     h.cfg.Recipe,
		Source:     src,
		Mapping:    h.cfg.Mapping,
		Space:      h.cfg.Space,
		Time:       h.cfg.Time,
		CRS:        h.cfg.CRS,
		Resolution: h.cfg.Resolution,
		Preview:    preview,
		Options:    h.cfg.Options,
	}
	if h.cfg.Caching {
		ec.Cache = cache
	}
	if t.Space != nil {
		ec.Space = t.Space
	}
	if t.Time != nil {
		ec.Time = t.Time
	}
	return ec
}

func (h *TileHandler) supervisor() *supervise.Supervisor {
	s := &supervise.Supervisor{
		Pipeline:      h.pipeline,
		RetryInterval: h.cfg.RetryInterval,
		PollInterval:  h.cfg.PollInterval,
		Log:           h.log,
	}
	if h.daemon != nil {
		s.Health = h.daemon
	}
	return s
}

// Execute runs the recipe for every tile and merges the results according
// to the merge mode. Preview is run first if it hasn't been. Results
// accumulate over repeated calls.
func (h *TileHandler) Execute(ctx context.Context) error {
	if !h.previewed {
		if _, err := h.Preview(ctx); err != nil {
			return err
		}
	}
	g, err := h.Grid()
	if err != nil {
		return err
	}
	if len(g) == 0 {
		h.log.Warn("the grid is empty; there is nothing to process")
		return nil
	}
	sup := h.supervisor()
	for i, t := range g {
		h.log.WithFields(logrus.Fields{"tile": t.Index, "n": len(g)}).Infof("processing tile %d/%d", i+1, len(g))
		r, err := h.processTile(ctx, sup, h.execContext(t, h.source, h.cache, false), t)
		if err != nil {
			return err
		}
		if r != nil {
			h.pending = append(h.pending, r)
		}
	}
	return h.finish(ctx)
}

// processTile executes one tile and prepares its response for merging.
// It returns nil if the tile has no data.
func (h *TileHandler) processTile(ctx context.Context, sup *supervise.Supervisor, ec *tilerun.ExecContext, t *tilerun.Tile) (*tileResult, error) {
	resp, err := sup.Run(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("engine: tile %d: %w", t.Index, err)
	}
	if resp == nil {
		h.log.WithField("tile", t.Index).Debug("tile has no data")
		return nil, nil
	}
	r := &tileResult{index: t.Index}
	if t.Time != nil {
		r.start = tilerun.FormatTime(t.Time.Start)
	}
	if h.dim == tilerun.NoDimension || h.cfg.Merge == tilerun.MergeNone {
		r.raw = resp
		return r, nil
	}
	arrays, err := h.normalize(resp)
	if err != nil {
		return nil, fmt.Errorf("engine: tile %d: %w", t.Index, err)
	}
	if !h.cfg.Merge.IsVRT() {
		r.arrays = arrays
		return r, nil
	}
	r.files = make(map[string]string, len(arrays))
	for name, a := range arrays {
		dir := filepath.Join(h.cfg.OutDir, name)
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%d.nc", t.Index))
		if err := raster.Write(path, a); err != nil {
			return nil, fmt.Errorf("engine: tile %d: %w", t.Index, err)
		}
		r.files[name] = path
	}
	return r, nil
}

func (h *TileHandler) normalize(resp tilerun.Response) (map[string]*tilerun.Array, error) {
	if h.dim == tilerun.Time {
		return normalize.Temporal(resp)
	}
	return normalize.Spatial(resp, h.cfg.CRS, h.cfg.Resolution)
}

// finish merges all pending tile results into h.Results and publishes the
// outputs.
func (h *TileHandler) finish(ctx context.Context) error {
	sort.SliceStable(h.pending, func(i, j int) bool { return h.pending[i].index < h.pending[j].index })
	var err error
	switch {
	case h.dim == tilerun.NoDimension || h.cfg.Merge == tilerun.MergeNone:
		h.Results.Tiles = h.Results.Tiles[:0]
		for _, r := range h.pending {
			h.Results.Tiles = append(h.Results.Tiles, r.raw)
		}
	case h.cfg.Merge == tilerun.MergeMerged:
		err = h.mergeArrays()
	default:
		err = h.mergeVRT()
	}
	if err != nil {
		return err
	}
	return h.publish(ctx)
}

// resultNames returns the names of the results of the pending tiles.
func (h *TileHandler) resultNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, r := range h.pending {
		for n := range r.arrays {
			add(n)
		}
		for n := range r.files {
			add(n)
		}
	}
	sort.Strings(names)
	return names
}

func (h *TileHandler) mergeArrays() error {
	merged := make(map[string]*tilerun.Array)
	var outputs []string
	for _, name := range h.resultNames() {
		var (
			arrs   []*tilerun.Array
			starts []string
		)
		for _, r := range h.pending {
			if a, ok := r.arrays[name]; ok {
				arrs = append(arrs, a)
				starts = append(starts, r.start)
			}
		}
		var (
			m   *tilerun.Array
			err error
		)
		if h.dim == tilerun.Time {
			m, err = merge.Temporal(arrs, starts)
		} else {
			m, err = merge.Spatial(arrs, h.cfg.CRS, h.cfg.Resolution)
		}
		if err != nil {
			return fmt.Errorf("engine: merging %s: %w", name, err)
		}
		m.Name = name
		merged[name] = m
		if h.cfg.OutDir == "" {
			continue
		}
		if err := raster.Write(filepath.Join(h.cfg.OutDir, name+".nc"), m); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		outputs = append(outputs, name+".nc")
		if h.cfg.Quicklook && m.HasSpatialDims() {
			if err := raster.Quicklook(filepath.Join(h.cfg.OutDir, name+".png"), m); err != nil {
				h.log.WithField("layer", name).WithError(err).Warn("quick-look rendering failed")
			} else {
				outputs = append(outputs, name+".png")
			}
		}
	}
	h.Results.Merged = merged
	h.Results.Outputs = outputs
	return nil
}

func (h *TileHandler) mergeVRT() error {
	files := make(map[string][]string)
	mosaics := make(map[string]string)
	var outputs []string
	for _, name := range h.resultNames() {
		var paths []string
		for _, r := range h.pending {
			if p, ok := r.files[name]; ok {
				paths = append(paths, p)
			}
		}
		dst := filepath.Join(h.cfg.OutDir, name+".vrt")
		if _, err := vrt.Merge(dst, paths); err != nil {
			return fmt.Errorf("engine: building mosaic of %s: %w", name, err)
		}
		h.log.WithFields(logrus.Fields{"layer": name, "n": len(paths)}).Info("virtual mosaic written")
		files[name] = paths
		mosaics[name] = dst
		outputs = append(outputs, name+".vrt")
	}
	h.Results.TileFiles = files
	h.Results.Mosaics = mosaics
	h.Results.Outputs = outputs
	return nil
}

func (h *TileHandler) publish(ctx context.Context) error {
	if h.cfg.OutputBucket == "" {
		return nil
	}
	if h.cfg.OutDir == "" || len(h.Results.Outputs) == 0 {
		h.log.Warn("there are no output files to publish")
		return nil
	}
	keys, err := cloud.Publish(ctx, h.cfg.OutputBucket, h.cfg.OutDir, h.Results.Outputs)
	if err != nil {
		return fmt.Errorf("engine: publishing outputs: %w", err)
	}
	h.log.WithField("n", len(keys)).Infof("outputs published to %s", h.cfg.OutputBucket)
	h.Results.Published = keys
	return nil
}

// prepare resolves the recipe for tile t. Results are memoized per recipe,
// extent and output grid.
func (h *TileHandler) prepare(ctx context.Context, t *tilerun.Tile) (*tilerun.Preparation, error) {
	ec := h.execContext(t, h.source, nil, true)
	key := hash.Hash(h.cfg.Recipe, ec.Space, ec.Time, h.cfg.CRS, h.cfg.Resolution)
	v, err := h.prepared.NewRequest(ctx, ec, key).Result()
	if err != nil {
		return nil, fmt.Errorf("engine: preparing recipe: %w", err)
	}
	p, _ := v.(*tilerun.Preparation)
	if p == nil {
		p = &tilerun.Preparation{}
	}
	return p, nil
}
