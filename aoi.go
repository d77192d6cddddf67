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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/shp"
)

// ReadAOI reads an area of interest from a GeoJSON (".geojson", ".json")
// or shapefile (".shp") file. GeoJSON files are assumed to be in
// geographic WGS84 coordinates unless crs is given; shapefiles use
// the reference system in their ".prj" file when crs is empty.
func ReadAOI(path, crs string) (*SpatialExtent, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("tilerun: opening AOI: %w", err)
		}
		defer f.Close()
		if crs == "" {
			crs = "EPSG:4326"
		}
		return DecodeGeoJSON(f, crs)
	case ".shp":
		return readShapefile(path, crs)
	default:
		return nil, fmt.Errorf("tilerun: unsupported AOI file type %q", filepath.Ext(path))
	}
}

type geoJSONObject struct {
	Type     string            `json:"type"`
	Features []geoJSONObject   `json:"features,omitempty"`
	Geometry *geoJSONGeometry  `json:"geometry,omitempty"`
	Geoms    []geoJSONGeometry `json:"geometries,omitempty"`

	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

type geoJSONGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates,omitempty"`
	Geoms       []geoJSONGeometry `json:"geometries,omitempty"`
}

// DecodeGeoJSON reads a FeatureCollection, a Feature or a bare geometry
// from r. Multi-part geometries are kept as single features.
func DecodeGeoJSON(r io.Reader, crs string) (*SpatialExtent, error) {
	var o geoJSONObject
	if err := json.NewDecoder(r).Decode(&o); err != nil {
		return nil, fmt.Errorf("tilerun: decoding GeoJSON: %w", err)
	}
	var gs []geoJSONGeometry
	switch o.Type {
	case "FeatureCollection":
		for _, f := range o.Features {
			if f.Geometry != nil {
				gs = append(gs, *f.Geometry)
			}
		}
	case "Feature":
		if o.Geometry != nil {
			gs = append(gs, *o.Geometry)
		}
	default:
		gs = append(gs, geoJSONGeometry{Type: o.Type, Coordinates: o.Coordinates, Geoms: o.Geoms})
	}
	s := &SpatialExtent{CRS: crs}
	for i, g := range gs {
		gg, err := decodeGeometry(g)
		if err != nil {
			return nil, fmt.Errorf("tilerun: decoding GeoJSON feature %d: %w", i, err)
		}
		s.Features = append(s.Features, gg...)
	}
	if len(s.Features) == 0 {
		return nil, fmt.Errorf("tilerun: GeoJSON input contains no geometries")
	}
	return s, nil
}

// decodeGeometry handles the multi-part and collection types that
// package geojson doesn't.
func decodeGeometry(g geoJSONGeometry) ([]geom.Geom, error) {
	switch g.Type {
	case "GeometryCollection":
		var o []geom.Geom
		for _, gg := range g.Geoms {
			d, err := decodeGeometry(gg)
			if err != nil {
				return nil, err
			}
			o = append(o, d...)
		}
		return o, nil
	case "MultiPolygon", "MultiLineString", "MultiPoint":
		var parts []json.RawMessage
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return nil, err
		}
		single := strings.TrimPrefix(g.Type, "Multi")
		var mp geom.MultiPolygon
		var ml geom.MultiLineString
		var mpt geom.MultiPoint
		for _, p := range parts {
			d, err := geojson.Decode(mustJSON(single, p))
			if err != nil {
				return nil, err
			}
			switch t := d.(type) {
			case geom.Polygon:
				mp = append(mp, t)
			case geom.LineString:
				ml = append(ml, t)
			case geom.Point:
				mpt = append(mpt, t)
			}
		}
		switch single {
		case "Polygon":
			return []geom.Geom{mp}, nil
		case "LineString":
			return []geom.Geom{ml}, nil
		default:
			return []geom.Geom{mpt}, nil
		}
	default:
		d, err := geojson.Decode(mustJSON(g.Type, g.Coordinates))
		if err != nil {
			return nil, err
		}
		return []geom.Geom{d}, nil
	}
}

func mustJSON(typ string, coords json.RawMessage) []byte {
	b, err := json.Marshal(struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}{Type: typ, Coordinates: coords})
	if err != nil {
		panic(err)
	}
	return b
}

func readShapefile(path, crs string) (*SpatialExtent, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("tilerun: opening AOI shapefile: %w", err)
	}
	defer d.Close()
	s := &SpatialExtent{CRS: crs}
	if s.CRS == "" {
		b, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
		if err != nil {
			return nil, fmt.Errorf("tilerun: AOI shapefile has no CRS: %w", err)
		}
		s.CRS = strings.TrimSpace(string(b))
	}
	for {
		g, _, more := d.DecodeRowFields()
		if !more {
			break
		}
		if g != nil {
			s.Features = append(s.Features, g)
		}
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("tilerun: reading AOI shapefile: %w", err)
	}
	return s, nil
}

// WriteGeoJSON writes the features of s as a FeatureCollection. Each
// feature carries the matching entry of props, if any, as its properties.
func WriteGeoJSON(w io.Writer, s *SpatialExtent, props []map[string]interface{}) error {
	type feature struct {
		Type       string                 `json:"type"`
		Geometry   interface{}            `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	}
	fc := struct {
		Type     string    `json:"type"`
		Features []feature `json:"features"`
	}{Type: "FeatureCollection"}
	for i, f := range s.Features {
		var gj interface{}
		switch t := f.(type) {
		case geom.MultiPolygon:
			coords := make([]interface{}, len(t))
			for j, p := range t {
				g, err := geojson.ToGeoJSON(p)
				if err != nil {
					return err
				}
				coords[j] = g.Coordinates
			}
			gj = geojson.Geometry{Type: "MultiPolygon", Coordinates: coords}
		default:
			g, err := geojson.ToGeoJSON(f)
			if err != nil {
				return fmt.Errorf("tilerun: encoding feature %d: %w", i, err)
			}
			gj = g
		}
		ft := feature{Type: "Feature", Geometry: gj, Properties: map[string]interface{}{}}
		if i < len(props) && props[i] != nil {
			ft.Properties = props[i]
		}
		fc.Features = append(fc.Features, ft)
	}
	e := json.NewEncoder(w)
	return e.Encode(fc)
}
