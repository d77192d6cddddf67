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

// Package engine executes recipes over large extents by splitting them into
// tiles, running the pipeline for every tile and merging the results.
//
// A TileHandler processes tiles one after the other while a background
// daemon keeps access to the data source valid. Parallel distributes tiles
// over a pool of workers that each own a copy of the data source.
package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/tilerun"
)

// Defaults for Config.
const (
	DefaultSpaceTileSize = 1024
	DefaultTimeTileSize  = "1W"
)

// Config holds the parameters of a tiled execution.
type Config struct {
	Recipe  tilerun.Recipe
	Source  tilerun.DataSource
	Mapping tilerun.Mapping

	// Space and Time are the full extent to process. Space is required
	// for spatial tiling and Time for temporal tiling.
	Space *tilerun.SpatialExtent
	Time  *tilerun.TemporalExtent

	// Resolution is the output pixel size and CRS the output coordinate
	// reference system. An empty CRS means the CRS of Space.
	Resolution tilerun.Resolution
	CRS        string

	// TimeTileSize is the length of a temporal tile as a period string
	// such as "1W" and SpaceTileSize the edge length of a spatial tile
	// in pixels.
	TimeTileSize  string
	SpaceTileSize int

	// TileDim requests a tiling dimension. It is only used when the
	// recipe doesn't determine one.
	TileDim tilerun.Dimension

	Merge tilerun.MergeMode

	// OutDir is where tile files and merged outputs are written. It is
	// required by the vrt merge modes and ignored with MergeNone.
	OutDir string

	// Caching passes the cache resolved by Preview to every tile.
	Caching bool

	// Reauth keeps resigning the data source in the background.
	Reauth bool

	// Options are passed to the pipeline unchanged.
	Options map[string]interface{}

	// RetryInterval is the wait after a failed tile execution,
	// PollInterval the wait while execution is paused and ReauthPeriod
	// the interval between reauthentications. Zero values select the
	// defaults of the supervise and reauth packages.
	RetryInterval time.Duration
	PollInterval  time.Duration
	ReauthPeriod  time.Duration

	// Quicklook renders a PNG next to every merged spatial output.
	Quicklook bool

	// OutputBucket, if set, is the URL of a blob storage location the
	// outputs are copied to after execution, e.g. "gs://bucket/run1".
	OutputBucket string

	Log logrus.FieldLogger

	// Out receives the preview report. Nothing is printed if it is nil.
	Out io.Writer
}

func (c *Config) setDefaults() {
	if c.TimeTileSize == "" {
		c.TimeTileSize = DefaultTimeTileSize
	}
	if c.SpaceTileSize == 0 {
		c.SpaceTileSize = DefaultSpaceTileSize
	}
	if c.CRS == "" && c.Space != nil {
		c.CRS = c.Space.CRS
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
}

// validate checks the merge settings against the tiling dimension.
func (c *Config) validate(dim tilerun.Dimension) error {
	if !c.Merge.Valid() {
		return fmt.Errorf("engine: %w: %v", tilerun.ErrInvalidMergeMode, c.Merge)
	}
	if c.Merge.IsVRT() {
		if c.OutDir == "" {
			return fmt.Errorf("engine: %w (merge mode %s)", tilerun.ErrVRTWithoutOutDir, c.Merge)
		}
		if dim != tilerun.Space {
			return fmt.Errorf("engine: %w (tiling over %s)", tilerun.ErrVRTTemporal, dim)
		}
	}
	switch dim {
	case tilerun.Space:
		if c.Space == nil {
			return fmt.Errorf("engine: tiling over space requires a spatial extent")
		}
		if c.Resolution.X() == 0 || c.Resolution.Y() == 0 {
			return fmt.Errorf("engine: invalid resolution %v", c.Resolution)
		}
	case tilerun.Time:
		if c.Time == nil {
			return fmt.Errorf("engine: tiling over time requires a temporal extent")
		}
	}
	return nil
}

// copyValue returns a deep copy of a decoded JSON value.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		o := make(map[string]interface{}, len(t))
		for k, vv := range t {
			o[k] = copyValue(vv)
		}
		return o
	case []interface{}:
		o := make([]interface{}, len(t))
		for i, vv := range t {
			o[i] = copyValue(vv)
		}
		return o
	default:
		return v
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	return copyValue(m).(map[string]interface{})
}
