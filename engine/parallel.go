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
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/supervise"
)

// Parallel executes tiles concurrently on a fixed number of workers. The
// pipeline must be safe for concurrent use. Results are merged by the
// coordinator exactly as by TileHandler.
type Parallel struct {
	*TileHandler

	// Workers is the size of the pool.
	Workers int
}

// NewParallel creates a parallel handler with the given number of workers;
// zero or less means one worker per CPU. Workers don't reauthenticate in
// the background: each worker resigns its copy of the data source once,
// before its first tile.
func NewParallel(p tilerun.Pipeline, cfg Config, workers int) (*Parallel, error) {
	cfg.Reauth = false
	h, err := New(p, cfg)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Parallel{TileHandler: h, Workers: workers}, nil
}

// worker owns everything it needs to execute tiles. Nothing in it is
// shared with the coordinator or with other workers.
type worker struct {
	id     int
	h      *TileHandler
	source tilerun.DataSource
	cache  *tilerun.Cache
	sup    *supervise.Supervisor
}

// newWorker sets up a worker with its own copies of the recipe, mapping,
// data source and cache. The cache is reconstructed from its encoding.
func (p *Parallel) newWorker(ctx context.Context, id int, cache []byte) (*worker, error) {
	log := p.log.WithField("worker", id)
	cfg := p.cfg
	cfg.Recipe = tilerun.Recipe(copyMap(cfg.Recipe))
	cfg.Mapping = tilerun.Mapping(copyMap(cfg.Mapping))
	cfg.Options = copyMap(cfg.Options)
	cfg.Log = log
	h := &TileHandler{cfg: cfg, pipeline: p.pipeline, dim: p.dim, log: log}
	w := &worker{
		id: id,
		h:  h,
		sup: &supervise.Supervisor{
			Pipeline:      p.pipeline,
			RetryInterval: cfg.RetryInterval,
			PollInterval:  cfg.PollInterval,
			Log:           log,
		},
	}
	if p.source != nil {
		w.source = p.source.Clone()
		if err := w.source.Resign(ctx); err != nil {
			return nil, fmt.Errorf("engine: worker %d: resigning data source: %w", id, err)
		}
	}
	if cache != nil {
		w.cache = new(tilerun.Cache)
		if err := w.cache.GobDecode(cache); err != nil {
			return nil, fmt.Errorf("engine: worker %d: %w", id, err)
		}
	}
	return w, nil
}

func (w *worker) process(ctx context.Context, t *tilerun.Tile) (*tileResult, error) {
	return w.h.processTile(ctx, w.sup, w.h.execContext(t, w.source, w.cache, false), t)
}

// Execute runs the recipe for every tile on the worker pool and merges the
// results. Tiles are handed to whichever worker is free, so they complete
// in no particular order.
func (p *Parallel) Execute(ctx context.Context) error {
	if !p.previewed {
		if _, err := p.Preview(ctx); err != nil {
			return err
		}
	}
	g, err := p.Grid()
	if err != nil {
		return err
	}
	if len(g) == 0 {
		p.log.Warn("the grid is empty; there is nothing to process")
		return nil
	}
	var cache []byte
	if p.cache != nil {
		if cache, err = p.cache.GobEncode(); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}
	n := p.Workers
	if n > len(g) {
		n = len(g)
	}
	if n < 1 {
		n = 1
	}

	eg, gctx := errgroup.WithContext(ctx)
	tiles := make(chan *tilerun.Tile)
	results := make(chan *tileResult)
	eg.Go(func() error {
		defer close(tiles)
		for _, t := range g {
			select {
			case tiles <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < n; i++ {
		id := i
		eg.Go(func() error {
			w, err := p.newWorker(gctx, id, cache)
			if err != nil {
				return err
			}
			for t := range tiles {
				r, err := w.process(gctx, t)
				if err != nil {
					return err
				}
				if r == nil {
					continue
				}
				select {
				case results <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	errc := make(chan error, 1)
	go func() {
		errc <- eg.Wait()
		close(results)
	}()

	start := time.Now()
	var done int
	for r := range results {
		done++
		p.pending = append(p.pending, r)
		p.log.WithFields(logrus.Fields{"tile": r.index, "n": len(g)}).Infof("tile %d finished (%d with data, %v elapsed)", r.index, done, time.Since(start).Round(time.Second))
	}
	if err := <-errc; err != nil {
		return err
	}
	return p.finish(ctx)
}
