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
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func parseRecipe(t *testing.T, s string) Recipe {
	var r Recipe
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		t.Fatal(err)
	}
	return r
}

const treduce = `{
  "composite": {
    "type": "processing_chain",
    "with": {"type": "concept", "reference": ["entity", "vegetation"]},
    "do": [
      {"type": "verb", "name": "filter", "params": {"filterer": {"type": "self"}}},
      {"type": "verb", "name": "reduce", "params": {"reducer": "mean", "dimension": "time"}}
    ]
  }
}`

const sreduce = `{
  "series": {
    "type": "processing_chain",
    "with": {"type": "layer", "reference": ["ndvi"]},
    "do": [{"type": "verb", "name": "reduce", "params": {"reducer": "count", "dimension": "space"}}]
  }
}`

const both = `{
  "a": {"type": "verb", "name": "groupby", "params": {"grouper": {}, "dimension": "month"}},
  "b": [{"type": "verb", "name": "reduce", "params": {"dimension": "feature"}}]
}`

func TestOpDims(t *testing.T) {
	tests := []struct {
		recipe string
		want   []Dimension
	}{
		{recipe: treduce, want: []Dimension{Time}},
		{recipe: sreduce, want: []Dimension{Space}},
		{recipe: both, want: []Dimension{Space, Time}},
		{recipe: `{"x": {"type": "verb", "params": {"dimension": "band"}}}`, want: nil},
	}
	for i, test := range tests {
		have := parseRecipe(t, test.recipe).OpDims()
		if !reflect.DeepEqual(have, test.want) {
			t.Errorf("%d: have %v, want %v", i, have, test.want)
		}
	}
}

func TestTileDimension(t *testing.T) {
	log, hook := test.NewNullLogger()
	tests := []struct {
		recipe   string
		override Dimension
		want     Dimension
		warn     bool
	}{
		{recipe: treduce, want: Space},
		{recipe: treduce, override: Time, want: Space, warn: true},
		{recipe: sreduce, want: Time},
		{recipe: sreduce, override: Time, want: Time},
		{recipe: both, want: NoDimension, warn: true},
		{recipe: `{}`, want: Space},
		{recipe: `{}`, override: Time, want: Time},
	}
	for i, test := range tests {
		hook.Reset()
		have := parseRecipe(t, test.recipe).TileDimension(test.override, log)
		if have != test.want {
			t.Errorf("%d: have %v, want %v", i, have, test.want)
		}
		warned := false
		for _, e := range hook.Entries {
			if e.Level == logrus.WarnLevel {
				warned = true
			}
		}
		if warned != test.warn {
			t.Errorf("%d: warning = %v, want %v", i, warned, test.warn)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCategory
	}{
		{err: ErrEmptyData, want: CategoryEmpty},
		{err: fmt.Errorf("tile 3: %w", ErrEmptyData), want: CategoryEmpty},
		{err: errors.New("AssertionError: Empty reader_table"), want: CategoryEmpty},
		{err: errors.New("zero-size array to reduction operation maximum"), want: CategoryEmpty},
		{err: errors.New("connection reset by peer"), want: CategoryTransient},
		{err: Transient(errors.New("zero-size array in response")), want: CategoryTransient},
		{err: fmt.Errorf("wrapped: %w", Fatal(errors.New("unknown verb"))), want: CategoryFatal},
		{err: Empty(errors.New("nothing here")), want: CategoryEmpty},
	}
	for _, test := range tests {
		if have := Classify(test.err); have != test.want {
			t.Errorf("%v: have %v, want %v", test.err, have, test.want)
		}
	}
}

func TestParseMergeMode(t *testing.T) {
	for _, m := range []MergeMode{MergeMerged, MergeNone, MergeVRTShapes, MergeVRTTiles} {
		p, err := ParseMergeMode(m.String())
		if err != nil || p != m {
			t.Errorf("%v: have %v, %v", m, p, err)
		}
	}
	if m, err := ParseMergeMode(""); err != nil || m != MergeMerged {
		t.Errorf("default: %v, %v", m, err)
	}
	if _, err := ParseMergeMode("mosaic"); !errors.Is(err, ErrInvalidMergeMode) {
		t.Errorf("have %v", err)
	}
	if !MergeVRTTiles.IsVRT() || MergeMerged.IsVRT() {
		t.Error("IsVRT")
	}
}

func TestDecodeGeoJSON(t *testing.T) {
	const fc = `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon",
			"coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
		{"type": "Feature", "properties": {}, "geometry": {"type": "MultiPolygon",
			"coordinates": [[[[2,2],[3,2],[3,3],[2,3],[2,2]]], [[[4,4],[5,4],[5,5],[4,5],[4,4]]]]}},
		{"type": "Feature", "properties": {}, "geometry": {"type": "MultiPoint",
			"coordinates": [[7,7],[8,8]]}}
	]}`
	s, err := DecodeGeoJSON(strings.NewReader(fc), "EPSG:4326")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Features) != 3 {
		t.Fatalf("have %d features", len(s.Features))
	}
	b := s.Bounds()
	if b.Min.X != 0 || b.Max.Y != 8 {
		t.Errorf("bounds %+v", b)
	}
	var buf strings.Builder
	if err := WriteGeoJSON(&buf, &SpatialExtent{Features: s.Features[:2]}, nil); err != nil {
		t.Fatal(err)
	}
	s2, err := DecodeGeoJSON(strings.NewReader(buf.String()), "EPSG:4326")
	if err != nil {
		t.Fatal(err)
	}
	if len(s2.Features) != 2 {
		t.Errorf("round trip gave %d features", len(s2.Features))
	}
}

func TestTransformExtent(t *testing.T) {
	if _, err := ProjString("EPSG:32634"); err != nil {
		t.Fatal(err)
	}
	if _, err := ProjString("EPSG:99999"); err == nil {
		t.Error("expected an error for an unknown code")
	}
	s := NewSpatialExtent("EPSG:4326", geom.Point{X: 21, Y: 0})
	u, err := s.Transform("EPSG:32634")
	if err != nil {
		t.Fatal(err)
	}
	b := u.Bounds()
	// The central meridian of zone 34 is at 21°E.
	if b.Min.X < 499000 || b.Min.X > 501000 {
		t.Errorf("easting %g", b.Min.X)
	}
}
