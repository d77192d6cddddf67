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
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/ctessum/geom"
)

// DataSource is a handle to the (usually remote) data a recipe reads.
type DataSource interface {
	// Resign refreshes the signed access to the data, e.g. expiring
	// URLs or tokens.
	Resign(ctx context.Context) error

	// Clone returns an independent copy of the handle that shares no
	// mutable state with the original.
	Clone() DataSource
}

// Mapping holds the rules that translate the semantic concepts used in a
// recipe into data values. It is passed through to the Pipeline unchanged.
type Mapping map[string]interface{}

// ExecContext is everything a Pipeline needs to evaluate a recipe over
// one extent.
type ExecContext struct {
	Recipe  Recipe
	Source  DataSource
	Mapping Mapping

	Space *SpatialExtent
	Time  *TemporalExtent

	// CRS and Resolution describe the output raster grid.
	CRS        string
	Resolution Resolution

	// Cache is the shared, read-only cache, or nil when caching is off.
	Cache *Cache

	// Preview is set for dry runs made while estimating output sizes.
	Preview bool

	// Options are passed to the pipeline unchanged.
	Options map[string]interface{}
}

// Preparation is the result of resolving a recipe without evaluating it.
type Preparation struct {
	Cache *Cache

	// Source, if not nil, replaces the data source for the rest of the
	// run; typically it is narrowed to the referenced layers.
	Source DataSource
}

// Pipeline evaluates recipes.
type Pipeline interface {
	// Execute evaluates the recipe over the extent in ec. Errors should
	// be marked with Empty, Transient or Fatal where the category is
	// known; see Classify.
	Execute(ctx context.Context, ec *ExecContext) (Response, error)

	// Prepare resolves which data the recipe references without
	// evaluating it.
	Prepare(ctx context.Context, ec *ExecContext) (*Preparation, error)
}

// Cache is an immutable snapshot of resolved recipe state: the layers a
// recipe references and whatever the pipeline recorded about each of
// them. It is safe to share between goroutines.
type Cache struct {
	layers  []string
	entries map[string]string
}

// NewCache creates a cache. The arguments are copied.
func NewCache(layers []string, entries map[string]string) *Cache {
	c := &Cache{
		layers:  append([]string{}, layers...),
		entries: make(map[string]string, len(entries)),
	}
	sort.Strings(c.layers)
	for k, v := range entries {
		c.entries[k] = v
	}
	return c
}

// Layers returns the referenced layers in sorted order.
func (c *Cache) Layers() []string {
	if c == nil {
		return nil
	}
	return append([]string{}, c.layers...)
}

// Entry returns the cached entry for key.
func (c *Cache) Entry(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.entries[key]
	return v, ok
}

// Equal returns whether c and c2 hold the same contents.
func (c *Cache) Equal(c2 *Cache) bool {
	if c == nil || c2 == nil {
		return c == c2
	}
	if len(c.layers) != len(c2.layers) || len(c.entries) != len(c2.entries) {
		return false
	}
	for i, l := range c.layers {
		if c2.layers[i] != l {
			return false
		}
	}
	for k, v := range c.entries {
		if v2, ok := c2.entries[k]; !ok || v2 != v {
			return false
		}
	}
	return true
}

type cacheGob struct {
	Layers  []string
	Entries map[string]string
}

// GobEncode implements gob.GobEncoder.
func (c *Cache) GobEncode() ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(cacheGob{Layers: c.layers, Entries: c.entries}); err != nil {
		return nil, fmt.Errorf("tilerun: encoding cache: %w", err)
	}
	return b.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (c *Cache) GobDecode(b []byte) error {
	var cg cacheGob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&cg); err != nil {
		return fmt.Errorf("tilerun: decoding cache: %w", err)
	}
	*c = *NewCache(cg.Layers, cg.Entries)
	return nil
}

func init() {
	gob.Register(&Cache{})
}

// Tile is one spatial or temporal part of a larger extent.
type Tile struct {
	// Index is the position of the tile in its grid.
	Index int

	// Space is the tile geometry for spatial tiles.
	Space *SpatialExtent

	// Cell is the lattice cell the spatial tile was cut from.
	Cell *geom.Bounds

	// Overlap is the fraction of Cell covered by the input geometry.
	Overlap float64

	// Time is the sub-interval for temporal tiles.
	Time *TemporalExtent
}

// Grid is an ordered set of tiles covering an extent. An empty grid means
// that there is nothing to process.
type Grid []*Tile
