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
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// SpatialExtent is a set of features in a coordinate reference system.
// It should be treated as immutable once created.
type SpatialExtent struct {
	Features []geom.Geom

	// CRS is a proj4 string, a WKT definition or an "EPSG:<code>"
	// identifier understood by ProjString.
	CRS string
}

// NewSpatialExtent returns a spatial extent holding the given features.
func NewSpatialExtent(crs string, features ...geom.Geom) *SpatialExtent {
	return &SpatialExtent{Features: features, CRS: crs}
}

// Bounds returns the bounding box of all features.
func (s *SpatialExtent) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, f := range s.Features {
		b.Extend(f.Bounds())
	}
	return b
}

// Transform returns a copy of s with its features reprojected into crs.
// If the two reference systems are identical the features are shared.
func (s *SpatialExtent) Transform(crs string) (*SpatialExtent, error) {
	if crs == "" || crs == s.CRS || s.CRS == "" {
		o := &SpatialExtent{Features: s.Features, CRS: s.CRS}
		if crs != "" {
			o.CRS = crs
		}
		return o, nil
	}
	srcDef, err := ProjString(s.CRS)
	if err != nil {
		return nil, err
	}
	dstDef, err := ProjString(crs)
	if err != nil {
		return nil, err
	}
	src, err := proj.Parse(srcDef)
	if err != nil {
		return nil, fmt.Errorf("tilerun: parsing source CRS: %w", err)
	}
	dst, err := proj.Parse(dstDef)
	if err != nil {
		return nil, fmt.Errorf("tilerun: parsing destination CRS: %w", err)
	}
	ct, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("tilerun: creating transform: %w", err)
	}
	o := &SpatialExtent{CRS: crs, Features: make([]geom.Geom, len(s.Features))}
	for i, f := range s.Features {
		if o.Features[i], err = f.Transform(ct); err != nil {
			return nil, fmt.Errorf("tilerun: reprojecting feature %d: %w", i, err)
		}
	}
	return o, nil
}

// ProjString converts a coordinate reference system identifier to a
// definition that can be parsed by package proj. Proj4 and WKT strings are
// returned unchanged. Of the EPSG codes, geographic WGS84, web mercator and
// the WGS84 UTM zones are known.
func ProjString(crs string) (string, error) {
	c := strings.TrimSpace(crs)
	if strings.HasPrefix(c, "+") || strings.Contains(c, "PROJCS") || strings.Contains(c, "GEOGCS") {
		return c, nil
	}
	upper := strings.ToUpper(c)
	if !strings.HasPrefix(upper, "EPSG:") {
		return "", fmt.Errorf("tilerun: unsupported CRS %q", crs)
	}
	code, err := strconv.Atoi(strings.TrimPrefix(upper, "EPSG:"))
	if err != nil {
		return "", fmt.Errorf("tilerun: unsupported CRS %q", crs)
	}
	switch {
	case code == 4326:
		return "+proj=longlat +datum=WGS84 +no_defs", nil
	case code == 3857:
		return "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs", nil
	case code > 32600 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code > 32700 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("tilerun: unsupported EPSG code %d", code)
}

// TemporalExtent is the half-open time interval [Start, End).
type TemporalExtent struct {
	Start, End time.Time
}

// NewTemporalExtent parses the start and end of a time interval. Dates
// ("2006-01-02") and RFC 3339 timestamps are accepted.
func NewTemporalExtent(start, end string) (*TemporalExtent, error) {
	s, err := ParseTime(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseTime(end)
	if err != nil {
		return nil, err
	}
	if e.Before(s) {
		return nil, fmt.Errorf("tilerun: temporal extent ends (%s) before it starts (%s)", end, start)
	}
	return &TemporalExtent{Start: s, End: e}, nil
}

// timeLayouts are the layouts ParseTime tries, in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses a timestamp in one of the layouts used for time
// labels and temporal extents.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("tilerun: can't parse time %q", s)
}

// FormatTime formats t the way time labels are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Duration returns the length of the interval.
func (t *TemporalExtent) Duration() time.Duration { return t.End.Sub(t.Start) }

// Contains returns whether tm falls within the interval.
func (t *TemporalExtent) Contains(tm time.Time) bool {
	return !tm.Before(t.Start) && tm.Before(t.End)
}

func (t *TemporalExtent) String() string {
	return fmt.Sprintf("[%s, %s)", FormatTime(t.Start), FormatTime(t.End))
}
