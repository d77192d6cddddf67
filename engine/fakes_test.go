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
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ctessum/geom"

	"github.com/spatialmodel/tilerun"
)

// source is a data source that records how it is used.
type source struct {
	name string

	mu      sync.Mutex
	resigns int
}

func (s *source) Resign(ctx context.Context) error {
	s.mu.Lock()
	s.resigns++
	s.mu.Unlock()
	return nil
}

func (s *source) Clone() tilerun.DataSource { return &source{name: s.name + "-clone"} }

// call records one pipeline execution.
type call struct {
	source  tilerun.DataSource
	cache   *tilerun.Cache
	preview bool
}

// fieldPipeline returns rasters covering the bounds of the requested
// spatial extent. The values depend only on the pixel coordinates, so
// results for overlapping extents agree.
type fieldPipeline struct {
	mu       sync.Mutex
	calls    []call
	prepares int

	// failures is the number of times the tile with the given lower
	// left corner fails before it succeeds.
	failures map[string]int
}

func (p *fieldPipeline) Prepare(ctx context.Context, ec *tilerun.ExecContext) (*tilerun.Preparation, error) {
	p.mu.Lock()
	p.prepares++
	p.mu.Unlock()
	return &tilerun.Preparation{
		Cache:  tilerun.NewCache([]string{"f", "g"}, map[string]string{"f": "field"}),
		Source: &source{name: "narrowed"},
	}, nil
}

func (p *fieldPipeline) Execute(ctx context.Context, ec *tilerun.ExecContext) (tilerun.Response, error) {
	b := ec.Space.Bounds()
	key := fmt.Sprint(b.Min.X, b.Min.Y)
	p.mu.Lock()
	p.calls = append(p.calls, call{source: ec.Source, cache: ec.Cache, preview: ec.Preview})
	fail := !ec.Preview && p.failures[key] > 0
	if fail {
		p.failures[key]--
	}
	p.mu.Unlock()
	if fail {
		return nil, tilerun.Transient(errors.New("zero-size array to reduction operation minimum which has no identity"))
	}
	f := field(b, ec.Resolution, 1)
	if f == nil {
		return nil, tilerun.ErrEmptyData
	}
	f.Name = "f"
	a, b2 := field(b, ec.Resolution, 1), field(b, ec.Resolution, 2)
	a.Name, b2.Name = "a", "b"
	return tilerun.Response{
		"f": f,
		"g": tilerun.Collection{a, b2},
	}, nil
}

func (p *fieldPipeline) executions() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var o []call
	for _, c := range p.calls {
		if !c.preview {
			o = append(o, c)
		}
	}
	return o
}

func field(b *geom.Bounds, res tilerun.Resolution, scale float64) *tilerun.Array {
	nx := int(math.Round((b.Max.X - b.Min.X) / res.X()))
	ny := int(math.Round((b.Max.Y - b.Min.Y) / res.Y()))
	if nx <= 0 || ny <= 0 {
		return nil
	}
	a := tilerun.NewArray("", []string{tilerun.DimY, tilerun.DimX}, ny, nx)
	a.X, a.Y = make([]float64, nx), make([]float64, ny)
	for c := range a.X {
		a.X[c] = b.Min.X + (float64(c)+0.5)*res.X()
	}
	for r := range a.Y {
		a.Y[r] = b.Max.Y - (float64(r)+0.5)*res.Y()
	}
	for r, y := range a.Y {
		for c, x := range a.X {
			a.Data.Set(scale*(x+1000*y), r, c)
		}
	}
	return a
}

// countPipeline counts the days of every week within the requested
// temporal extent. Weeks start on Mondays.
type countPipeline struct{}

var monday = time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC)

func (countPipeline) Prepare(ctx context.Context, ec *tilerun.ExecContext) (*tilerun.Preparation, error) {
	return &tilerun.Preparation{Cache: tilerun.NewCache([]string{"count"}, nil)}, nil
}

func (countPipeline) Execute(ctx context.Context, ec *tilerun.ExecContext) (tilerun.Response, error) {
	const week = 7 * 24 * time.Hour
	var (
		labels []string
		counts []float64
	)
	for w := monday; w.Before(ec.Time.End); w = w.Add(week) {
		var n float64
		for d := w; d.Before(w.Add(week)); d = d.Add(24 * time.Hour) {
			if ec.Time.Contains(d) {
				n++
			}
		}
		if n > 0 {
			labels = append(labels, tilerun.FormatTime(w))
			counts = append(counts, n)
		}
	}
	if len(labels) == 0 {
		return nil, tilerun.ErrEmptyData
	}
	a := tilerun.NewArray("count", []string{tilerun.DimTime}, len(labels))
	a.Coords[tilerun.DimTime] = labels
	copy(a.Data.Elements, counts)
	return tilerun.Response{"count": a}, nil
}
