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

// Package raster reads and writes tile and mosaic results as NetCDF files.
//
// Spatial arrays are stored with the dimensions (band, y, x), pixel-centre
// coordinate variables x and y, and a data variable holding the values.
// Global attributes record the CRS, the GDAL geotransform, the name of the
// auxiliary axis (band_variable) and its labels (long_name, a JSON list).
// Other arrays are stored with their own dimensions.
package raster

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ctessum/cdf"

	"github.com/spatialmodel/tilerun"
)

const (
	dataVar  = "data"
	bandDim  = "band"
	dimsAttr = "dims"
	crdsAttr = "coords"
)

// Write writes a to path. The file is written under a temporary name in
// the same directory and renamed into place, so that readers never see a
// partially written file.
func Write(path string, a *tilerun.Array) error {
	h, data, err := header(a)
	if err != nil {
		return fmt.Errorf("raster: writing %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	defer os.Remove(tmp.Name())

	f, err := cdf.Create(tmp, h)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("raster: writing %s: %w", path, err)
	}
	if err := writeVar(f, dataVar, data); err != nil {
		tmp.Close()
		return fmt.Errorf("raster: writing %s: %w", path, err)
	}
	if a.HasSpatialDims() {
		if err := writeVar(f, tilerun.DimX, a.X); err != nil {
			tmp.Close()
			return fmt.Errorf("raster: writing %s: %w", path, err)
		}
		if err := writeVar(f, tilerun.DimY, a.Y); err != nil {
			tmp.Close()
			return fmt.Errorf("raster: writing %s: %w", path, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	return nil
}

func writeVar(f *cdf.File, name string, data []float64) error {
	w := f.Writer(name, nil, nil)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	return nil
}

// header builds the file header for a and returns it with the values to
// store, in file dimension order.
func header(a *tilerun.Array) (*cdf.Header, []float64, error) {
	if len(a.Dims) == 0 {
		return nil, nil, fmt.Errorf("can't store scalar %q", a.Name)
	}
	for i, n := range a.Data.Shape {
		if n == 0 {
			return nil, nil, fmt.Errorf("dimension %q of %q is empty", a.Dims[i], a.Name)
		}
	}
	coords := make(map[string][]string)
	for _, d := range a.AuxDims() {
		coords[d] = a.Labels(d)
	}

	var h *cdf.Header
	var data []float64
	if a.HasSpatialDims() {
		aux := a.AuxDims()
		if len(aux) > 1 {
			return nil, nil, fmt.Errorf("%q has more than one auxiliary dimension %v", a.Name, aux)
		}
		order := append(append([]string{}, aux...), tilerun.DimY, tilerun.DimX)
		t, err := a.Transpose(order...)
		if err != nil {
			return nil, nil, err
		}
		nb := 1
		if len(aux) == 1 {
			nb = t.Data.Shape[0]
		}
		ny, nx := a.Len(tilerun.DimY), a.Len(tilerun.DimX)
		if len(a.X) != nx || len(a.Y) != ny {
			return nil, nil, fmt.Errorf("%q has no spatial coordinates", a.Name)
		}
		h = cdf.NewHeader([]string{bandDim, tilerun.DimY, tilerun.DimX}, []int{nb, ny, nx})
		h.AddVariable(tilerun.DimX, []string{tilerun.DimX}, []float64{0})
		h.AddVariable(tilerun.DimY, []string{tilerun.DimY}, []float64{0})
		h.AddVariable(dataVar, []string{bandDim, tilerun.DimY, tilerun.DimX}, []float64{0})
		gt, err := a.GeoTransform(tilerun.Resolution{})
		if err != nil {
			return nil, nil, err
		}
		h.AddAttribute("", "GeoTransform", gt.String())
		if len(aux) == 1 {
			h.AddAttribute("", "band_variable", aux[0])
			ln := a.LongName
			if len(ln) != nb {
				ln = a.Labels(aux[0])
			}
			b, err := json.Marshal(ln)
			if err != nil {
				return nil, nil, err
			}
			h.AddAttribute("", "long_name", string(b))
		}
		data = t.Data.Elements
	} else {
		h = cdf.NewHeader(a.Dims, a.Data.Shape)
		h.AddVariable(dataVar, a.Dims, []float64{0})
		data = a.Data.Elements
	}
	h.AddAttribute(dataVar, "_FillValue", []float64{a.NoData})
	if a.DType != "" {
		h.AddAttribute(dataVar, "dtype", a.DType)
	}
	if a.CRS != "" {
		h.AddAttribute("", "crs", a.CRS)
	}
	if a.Name != "" {
		h.AddAttribute("", "name", a.Name)
	}
	b, err := json.Marshal(a.Dims)
	if err != nil {
		return nil, nil, err
	}
	h.AddAttribute("", dimsAttr, string(b))
	if len(coords) > 0 {
		b, err := json.Marshal(coords)
		if err != nil {
			return nil, nil, err
		}
		h.AddAttribute("", crdsAttr, string(b))
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, nil, errs[0]
	}
	return h, data, nil
}

// Info describes a file without its values.
type Info struct {
	Name         string
	Dims         []string
	Shape        []int
	CRS          string
	Transform    *tilerun.GeoTransform
	BandVariable string
	LongName     []string
	NoData       float64
	DType        string
}

// Bands returns the number of bands of a raster file.
func (i *Info) Bands() int {
	if i.Transform == nil || len(i.Shape) != 3 {
		return 0
	}
	return i.Shape[0]
}

// ReadInfo reads the metadata of the file at path.
func ReadInfo(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: %w", err)
	}
	defer f.Close()
	cf, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("raster: reading %s: %w", path, err)
	}
	info, err := readInfo(cf.Header)
	if err != nil {
		return nil, fmt.Errorf("raster: reading %s: %w", path, err)
	}
	return info, nil
}

func readInfo(h *cdf.Header) (*Info, error) {
	if h.Dimensions(dataVar) == nil {
		return nil, fmt.Errorf("no %s variable", dataVar)
	}
	info := &Info{
		Name:         stringAttr(h, "", "name"),
		Dims:         h.Dimensions(dataVar),
		Shape:        h.Lengths(dataVar),
		CRS:          stringAttr(h, "", "crs"),
		BandVariable: stringAttr(h, "", "band_variable"),
		NoData:       math.NaN(),
		DType:        stringAttr(h, dataVar, "dtype"),
	}
	if info.DType == "" {
		info.DType = "float64"
	}
	if v, ok := h.GetAttribute(dataVar, "_FillValue").([]float64); ok && len(v) == 1 {
		info.NoData = v[0]
	}
	if s := stringAttr(h, "", "GeoTransform"); s != "" {
		gt, err := tilerun.ParseGeoTransform(s)
		if err != nil {
			return nil, err
		}
		info.Transform = &gt
	}
	if s := stringAttr(h, "", "long_name"); s != "" {
		if err := json.Unmarshal([]byte(s), &info.LongName); err != nil {
			return nil, fmt.Errorf("long_name: %w", err)
		}
	}
	return info, nil
}

func stringAttr(h *cdf.Header, v, a string) string {
	s, _ := h.GetAttribute(v, a).(string)
	return s
}

// Read reads an array written by Write.
func Read(path string) (*tilerun.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: %w", err)
	}
	defer f.Close()
	cf, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("raster: reading %s: %w", path, err)
	}
	a, err := read(cf)
	if err != nil {
		return nil, fmt.Errorf("raster: reading %s: %w", path, err)
	}
	return a, nil
}

func read(cf *cdf.File) (*tilerun.Array, error) {
	h := cf.Header
	info, err := readInfo(h)
	if err != nil {
		return nil, err
	}
	data, err := readVar(cf, dataVar)
	if err != nil {
		return nil, err
	}
	var dims []string
	if s := stringAttr(h, "", dimsAttr); s != "" {
		if err := json.Unmarshal([]byte(s), &dims); err != nil {
			return nil, fmt.Errorf("dims: %w", err)
		}
	}
	var coords map[string][]string
	if s := stringAttr(h, "", crdsAttr); s != "" {
		if err := json.Unmarshal([]byte(s), &coords); err != nil {
			return nil, fmt.Errorf("coords: %w", err)
		}
	}

	shape := info.Shape
	fileDims := info.Dims
	spatial := info.Transform != nil && len(fileDims) == 3 && fileDims[0] == bandDim
	if spatial {
		switch {
		case info.BandVariable != "":
			fileDims = []string{info.BandVariable, tilerun.DimY, tilerun.DimX}
		case shape[0] == 1:
			fileDims, shape = fileDims[1:], shape[1:]
		}
	}
	a := tilerun.NewArray(info.Name, fileDims, shape...)
	if len(data) != a.Size() {
		return nil, fmt.Errorf("read %d values; want %d", len(data), a.Size())
	}
	copy(a.Data.Elements, data)
	a.CRS = info.CRS
	a.NoData = info.NoData
	a.DType = info.DType
	a.BandVariable = info.BandVariable
	a.LongName = info.LongName
	for d, l := range coords {
		if a.Axis(d) >= 0 {
			a.Coords[d] = l
		}
	}
	if info.BandVariable != "" && info.LongName != nil {
		a.Coords[info.BandVariable] = info.LongName
	}
	if spatial {
		if a.X, err = readVar(cf, tilerun.DimX); err != nil {
			return nil, err
		}
		if a.Y, err = readVar(cf, tilerun.DimY); err != nil {
			return nil, err
		}
		t := *info.Transform
		a.Transform = &t
	}
	// Restore the original dimension order.
	if len(dims) == len(a.Dims) && !equal(dims, a.Dims) {
		return a.Transpose(dims...)
	}
	return a, nil
}

func readVar(cf *cdf.File, name string) ([]float64, error) {
	r := cf.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	v, ok := buf.([]float64)
	if !ok {
		return nil, fmt.Errorf("variable %s has type %T", name, buf)
	}
	return v, nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
