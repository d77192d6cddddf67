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
	"fmt"
	"strings"
)

// Dimension is a tiling dimension.
type Dimension string

const (
	// NoDimension means that tiling is disabled.
	NoDimension Dimension = ""
	// Space is the spatial dimension.
	Space Dimension = "space"
	// Time is the temporal dimension.
	Time Dimension = "time"
)

// ParseDimension converts a string to a Dimension. The empty string
// is accepted and returns NoDimension.
func ParseDimension(s string) (Dimension, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return NoDimension, nil
	case string(Space):
		return Space, nil
	case string(Time):
		return Time, nil
	default:
		return NoDimension, fmt.Errorf("tilerun: invalid tiling dimension %q", s)
	}
}

func (d Dimension) String() string {
	if d == NoDimension {
		return "none"
	}
	return string(d)
}

// Names of array dimensions with special meaning.
const (
	DimX       = "x"
	DimY       = "y"
	DimTime    = "time"
	DimBand    = "band"
	DimGrouper = "grouper"
	// DimCollection is the axis a collection is concatenated along
	// before it is renamed or stacked.
	DimCollection = "_grouper"
)

// IsSpatialDim returns whether the named array dimension is one of the
// two raster dimensions.
func IsSpatialDim(dim string) bool {
	return dim == DimX || dim == DimY
}

// MergeMode specifies whether and how per-tile results are combined.
type MergeMode int

const (
	// MergeMerged combines the tile results into a single in-memory
	// array per output.
	MergeMerged MergeMode = iota
	// MergeNone keeps the raw per-tile responses.
	MergeNone
	// MergeVRTShapes writes one raster per tile clipped to the area of
	// interest and references them from a virtual mosaic.
	MergeVRTShapes
	// MergeVRTTiles is like MergeVRTShapes but writes full rectangular
	// tiles.
	MergeVRTTiles
)

var mergeModeNames = map[MergeMode]string{
	MergeMerged:    "merged",
	MergeNone:      "none",
	MergeVRTShapes: "vrt_shapes",
	MergeVRTTiles:  "vrt_tiles",
}

func (m MergeMode) String() string {
	if s, ok := mergeModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MergeMode(%d)", int(m))
}

// IsVRT returns whether the mode writes tile files and a virtual mosaic.
func (m MergeMode) IsVRT() bool {
	return m == MergeVRTShapes || m == MergeVRTTiles
}

// Valid returns whether m is one of the defined modes.
func (m MergeMode) Valid() bool {
	_, ok := mergeModeNames[m]
	return ok
}

// ParseMergeMode converts a name such as "vrt_tiles" to a MergeMode.
// The empty string gives the default, MergeMerged.
func ParseMergeMode(s string) (MergeMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return MergeMerged, nil
	}
	s = strings.Replace(s, "-", "_", -1)
	for m, name := range mergeModeNames {
		if name == s {
			return m, nil
		}
	}
	return MergeMerged, fmt.Errorf("%w: %q", ErrInvalidMergeMode, s)
}
