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

// Package vrt writes GDAL virtual raster (VRT) documents that mosaic tile
// files without copying their data.
package vrt

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/raster"
)

// Dataset is the root element of a VRT document.
type Dataset struct {
	XMLName      xml.Name   `xml:"VRTDataset"`
	RasterXSize  int        `xml:"rasterXSize,attr"`
	RasterYSize  int        `xml:"rasterYSize,attr"`
	SRS          string     `xml:"SRS,omitempty"`
	GeoTransform string     `xml:"GeoTransform"`
	Bands        []*Band    `xml:"VRTRasterBand"`
	Overviews    *Overviews `xml:"OverviewList,omitempty"`
}

// Band is one band of the mosaic.
type Band struct {
	DataType    string           `xml:"dataType,attr"`
	Band        int              `xml:"band,attr"`
	Description string           `xml:"Description,omitempty"`
	NoDataValue string           `xml:"NoDataValue"`
	ColorInterp string           `xml:"ColorInterp"`
	Sources     []*ComplexSource `xml:"ComplexSource"`
}

// ComplexSource places one band of a tile file in the mosaic. Pixels equal
// to NoData are not drawn.
type ComplexSource struct {
	SourceFilename   SourceFilename
	SourceBand       int
	SourceProperties SourceProperties
	SrcRect          Rect
	DstRect          Rect
	NoData           string `xml:"NODATA"`
}

// SourceFilename is the path of a tile file.
type SourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Path          string `xml:",chardata"`
}

// SourceProperties describes a tile file so that it doesn't need to be
// opened before it is read.
type SourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr"`
	BlockXSize  int    `xml:"BlockXSize,attr"`
	BlockYSize  int    `xml:"BlockYSize,attr"`
}

// Rect is a pixel window.
type Rect struct {
	XOff  int `xml:"xOff,attr"`
	YOff  int `xml:"yOff,attr"`
	XSize int `xml:"xSize,attr"`
	YSize int `xml:"ySize,attr"`
}

// Overviews lists the overview levels readers may compute on the fly.
type Overviews struct {
	Resampling string `xml:"resampling,attr"`
	Levels     string `xml:",chardata"`
}

// overviewScales are the candidate overview decimation factors.
var overviewScales = []int{4, 8, 16, 32, 64, 128, 256, 512}

// OverviewLevels returns the overview factors that are smaller than the
// larger side of a raster of the given size.
func OverviewLevels(width, height int) []int {
	max := width
	if height > max {
		max = height
	}
	var o []int
	for _, s := range overviewScales {
		if s < max {
			o = append(o, s)
		}
	}
	return o
}

// Build creates a mosaic of the raster files at paths, which must share
// CRS, resolution and bands. Tiles are drawn in order, so later tiles
// overwrite earlier ones where they overlap. Source paths are stored
// relative to dir, the directory the document will be written to.
func Build(dir string, paths []string) (*Dataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("vrt: no source files")
	}
	infos := make([]*raster.Info, len(paths))
	b := geom.NewBounds()
	for i, p := range paths {
		info, err := raster.ReadInfo(p)
		if err != nil {
			return nil, err
		}
		if info.Transform == nil || len(info.Shape) != 3 {
			return nil, fmt.Errorf("vrt: %s is not a raster", p)
		}
		if i > 0 {
			f := infos[0]
			switch {
			case info.CRS != f.CRS:
				return nil, fmt.Errorf("vrt: %s has CRS %q; %s has %q", p, info.CRS, paths[0], f.CRS)
			case !info.Transform.SameResolution(*f.Transform):
				return nil, fmt.Errorf("vrt: %s has a different resolution than %s", p, paths[0])
			case info.Bands() != f.Bands():
				return nil, fmt.Errorf("vrt: %s has %d bands; %s has %d; equalize the bands first",
					p, info.Bands(), paths[0], f.Bands())
			}
		}
		infos[i] = info
		b.Extend(info.Transform.Bounds(info.Shape[1], info.Shape[2]))
	}

	first := infos[0]
	res := first.Transform.Resolution()
	out := tilerun.FromOrigin(b.Min.X, b.Max.Y, res.X(), res.Y())
	d := &Dataset{
		RasterXSize:  int(math.Round((b.Max.X - b.Min.X) / res.X())),
		RasterYSize:  int(math.Round((b.Max.Y - b.Min.Y) / res.Y())),
		SRS:          first.CRS,
		GeoTransform: out.String(),
	}
	for k := 0; k < first.Bands(); k++ {
		band := &Band{
			DataType:    "Float64",
			Band:        k + 1,
			NoDataValue: formatNoData(first.NoData),
			ColorInterp: "Gray",
		}
		if k < len(first.LongName) {
			band.Description = first.LongName[k]
		}
		for i, info := range infos {
			rel, err := filepath.Rel(dir, paths[i])
			if err != nil {
				return nil, fmt.Errorf("vrt: %w", err)
			}
			ny, nx := info.Shape[1], info.Shape[2]
			row, col := out.Offset(info.Transform.X0, info.Transform.Y0)
			band.Sources = append(band.Sources, &ComplexSource{
				SourceFilename: SourceFilename{RelativeToVRT: 1, Path: filepath.ToSlash(rel)},
				SourceBand:     k + 1,
				SourceProperties: SourceProperties{
					RasterXSize: nx, RasterYSize: ny,
					DataType:   "Float64",
					BlockXSize: nx, BlockYSize: 1,
				},
				SrcRect: Rect{XSize: nx, YSize: ny},
				DstRect: Rect{XOff: col, YOff: row, XSize: nx, YSize: ny},
				NoData:  formatNoData(info.NoData),
			})
		}
		d.Bands = append(d.Bands, band)
	}
	if levels := OverviewLevels(d.RasterXSize, d.RasterYSize); len(levels) > 0 {
		s := make([]string, len(levels))
		for i, l := range levels {
			s[i] = strconv.Itoa(l)
		}
		d.Overviews = &Overviews{Resampling: "nearest", Levels: strings.Join(s, " ")}
	}
	return d, nil
}

func formatNoData(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Write writes the document to path, replacing any existing file.
func (d *Dataset) Write(path string) error {
	b, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("vrt: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("vrt: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vrt: %w", err)
	}
	return nil
}

// Read reads a document written by Write.
func Read(path string) (*Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vrt: %w", err)
	}
	d := new(Dataset)
	if err := xml.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("vrt: parsing %s: %w", path, err)
	}
	return d, nil
}

// Merge equalizes the bands of the tile files at paths, builds their
// mosaic and writes it to dst.
func Merge(dst string, paths []string) (*Dataset, error) {
	if err := raster.EqualizeBands(paths, nil); err != nil {
		return nil, err
	}
	d, err := Build(filepath.Dir(dst), paths)
	if err != nil {
		return nil, err
	}
	return d, d.Write(dst)
}
