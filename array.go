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
	"math"
	"strconv"

	"github.com/ctessum/sparse"
)

// Array is a labeled n-dimensional array. Spatial dimensions are named
// DimY and DimX and are located by pixel-centre coordinates (Y, X) or,
// when those are absent, by Transform. All other dimensions are
// auxiliary and are labeled by Coords.
type Array struct {
	Name string
	Dims []string
	Data *sparse.DenseArray

	// Coords holds the labels along each auxiliary dimension.
	Coords map[string][]string

	// X and Y are pixel-centre coordinates along DimX and DimY.
	X, Y []float64

	CRS       string
	Transform *GeoTransform

	// LongName holds the labels of the auxiliary axis of a normalized
	// array and BandVariable its name.
	LongName     []string
	BandVariable string

	// NoData is the fill value; NaN unless changed.
	NoData float64

	// DType is the storage type the values represent, e.g. "float64".
	DType string
}

// NewArray returns a zero-valued array with the given dimensions and shape.
func NewArray(name string, dims []string, shape ...int) *Array {
	if len(dims) != len(shape) {
		panic(fmt.Errorf("tilerun: %d dims but %d sizes", len(dims), len(shape)))
	}
	return &Array{
		Name:   name,
		Dims:   append([]string{}, dims...),
		Data:   sparse.ZerosDense(append([]int{}, shape...)...),
		Coords: make(map[string][]string),
		NoData: math.NaN(),
		DType:  "float64",
	}
}

// Shape returns the length of each dimension.
func (a *Array) Shape() []int { return a.Data.Shape }

// Size returns the number of elements in the array.
func (a *Array) Size() int { return len(a.Data.Elements) }

// NBytes returns the number of bytes the values occupy in DType.
func (a *Array) NBytes() int { return a.Size() * DTypeSize(a.DType) }

// DTypeSize returns the size in bytes of one value of the named type.
func DTypeSize(dtype string) int {
	switch dtype {
	case "float32", "int32", "uint32":
		return 4
	case "int16", "uint16":
		return 2
	case "int8", "uint8", "bool":
		return 1
	default:
		return 8
	}
}

// Axis returns the position of the named dimension, or -1.
func (a *Array) Axis(dim string) int {
	for i, d := range a.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Len returns the length of the named dimension, or 0 if a doesn't have it.
func (a *Array) Len(dim string) int {
	if i := a.Axis(dim); i >= 0 {
		return a.Data.Shape[i]
	}
	return 0
}

// HasSpatialDims returns whether a has both raster dimensions.
func (a *Array) HasSpatialDims() bool {
	return a.Axis(DimX) >= 0 && a.Axis(DimY) >= 0
}

// AuxDims returns the names of the non-spatial dimensions in order.
func (a *Array) AuxDims() []string {
	var o []string
	for _, d := range a.Dims {
		if !IsSpatialDim(d) {
			o = append(o, d)
		}
	}
	return o
}

// Labels returns the coordinate labels along dim. Spatial coordinates
// are formatted as numbers; missing labels are replaced by indices.
func (a *Array) Labels(dim string) []string {
	n := a.Len(dim)
	var c []float64
	switch dim {
	case DimX:
		c = a.X
	case DimY:
		c = a.Y
	default:
		if l, ok := a.Coords[dim]; ok && len(l) == n {
			return l
		}
	}
	o := make([]string, n)
	for i := range o {
		if i < len(c) {
			o[i] = strconv.FormatFloat(c[i], 'g', -1, 64)
		} else {
			o[i] = strconv.Itoa(i)
		}
	}
	return o
}

// Copy returns a deep copy of a.
func (a *Array) Copy() *Array {
	o := a.withData(sparse.ZerosDense(append([]int{}, a.Data.Shape...)...), a.Dims)
	copy(o.Data.Elements, a.Data.Elements)
	for d, l := range a.Coords {
		o.Coords[d] = append([]string{}, l...)
	}
	return o
}

// withData returns an array with the metadata of a and the given data and
// dimensions. Coordinates of dimensions that are kept are shared.
func (a *Array) withData(d *sparse.DenseArray, dims []string) *Array {
	o := &Array{
		Name:         a.Name,
		Dims:         append([]string{}, dims...),
		Data:         d,
		Coords:       make(map[string][]string),
		CRS:          a.CRS,
		BandVariable: a.BandVariable,
		NoData:       a.NoData,
		DType:        a.DType,
	}
	if a.LongName != nil {
		o.LongName = append([]string{}, a.LongName...)
	}
	if a.Transform != nil {
		t := *a.Transform
		o.Transform = &t
	}
	for _, dim := range dims {
		switch dim {
		case DimX:
			o.X = append([]float64{}, a.X...)
		case DimY:
			o.Y = append([]float64{}, a.Y...)
		default:
			if l, ok := a.Coords[dim]; ok {
				o.Coords[dim] = l
			}
		}
	}
	return o
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	m := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = m
		m *= shape[i]
	}
	return s
}

// forEach calls f for every index of an array with the given shape, in
// row-major order, with the flat position of the index.
func forEach(shape []int, f func(idx []int, flat int)) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	idx := make([]int, len(shape))
	for flat := 0; flat < n; flat++ {
		f(idx, flat)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
}

// Transpose returns a copy of a with its dimensions reordered. dims must
// be a permutation of a.Dims.
func (a *Array) Transpose(dims ...string) (*Array, error) {
	if len(dims) != len(a.Dims) {
		return nil, fmt.Errorf("tilerun: can't transpose %v to %v", a.Dims, dims)
	}
	perm := make([]int, len(dims))
	used := make([]bool, len(dims))
	shape := make([]int, len(dims))
	for i, d := range dims {
		j := a.Axis(d)
		if j < 0 || used[j] {
			return nil, fmt.Errorf("tilerun: can't transpose %v to %v", a.Dims, dims)
		}
		used[j] = true
		perm[i] = j
		shape[i] = a.Data.Shape[j]
	}
	st := strides(a.Data.Shape)
	out := sparse.ZerosDense(shape...)
	forEach(shape, func(idx []int, flat int) {
		src := 0
		for i, v := range idx {
			src += v * st[perm[i]]
		}
		out.Elements[flat] = a.Data.Elements[src]
	})
	return a.withData(out, dims), nil
}

// Isel returns the slice of a at position i along dim, with dim removed.
func (a *Array) Isel(dim string, i int) (*Array, error) {
	k := a.Axis(dim)
	if k < 0 {
		return nil, fmt.Errorf("tilerun: array %q has no dimension %q", a.Name, dim)
	}
	if i < 0 || i >= a.Data.Shape[k] {
		return nil, fmt.Errorf("tilerun: index %d out of range for dimension %q", i, dim)
	}
	var shape []int
	var dims []string
	for j, d := range a.Dims {
		if j != k {
			dims = append(dims, d)
			shape = append(shape, a.Data.Shape[j])
		}
	}
	st := strides(a.Data.Shape)
	out := sparse.ZerosDense(shape...)
	forEach(shape, func(idx []int, flat int) {
		src := i * st[k]
		jj := 0
		for j := range a.Dims {
			if j == k {
				continue
			}
			src += idx[jj] * st[j]
			jj++
		}
		out.Elements[flat] = a.Data.Elements[src]
	})
	o := a.withData(out, dims)
	if dim == a.BandVariable {
		o.BandVariable = ""
		o.LongName = nil
	}
	return o, nil
}

// Sel returns the slice of a whose label along dim is label.
func (a *Array) Sel(dim, label string) (*Array, bool) {
	for i, l := range a.Labels(dim) {
		if l == label {
			o, err := a.Isel(dim, i)
			return o, err == nil
		}
	}
	return nil, false
}

// ExpandDims returns a with a new leading dimension of length one.
func (a *Array) ExpandDims(dim, label string) *Array {
	shape := append([]int{1}, a.Data.Shape...)
	out := sparse.ZerosDense(shape...)
	copy(out.Elements, a.Data.Elements)
	o := a.withData(out, append([]string{dim}, a.Dims...))
	o.Coords[dim] = []string{label}
	return o
}

// Rename returns a shallow copy of a with dimension from renamed to to.
func (a *Array) Rename(from, to string) *Array {
	o := a.withData(a.Data, a.Dims)
	for i, d := range o.Dims {
		if d == from {
			o.Dims[i] = to
		}
	}
	if l, ok := o.Coords[from]; ok {
		delete(o.Coords, from)
		o.Coords[to] = l
	}
	if o.BandVariable == from {
		o.BandVariable = to
	}
	return o
}

// Concat joins arrays along dim. If the arrays have dim it must be in the
// same position in all of them and the remaining dimensions must match;
// otherwise a new leading dimension is created whose labels are given
// by labels. Coordinates of the other dimensions are taken from the
// first array.
func Concat(dim string, labels []string, arrs ...*Array) (*Array, error) {
	if len(arrs) == 0 {
		return nil, fmt.Errorf("tilerun: nothing to concatenate")
	}
	if arrs[0].Axis(dim) < 0 {
		if len(labels) != len(arrs) {
			return nil, fmt.Errorf("tilerun: %d labels for %d arrays", len(labels), len(arrs))
		}
		ex := make([]*Array, len(arrs))
		for i, a := range arrs {
			if a.Axis(dim) >= 0 {
				return nil, fmt.Errorf("tilerun: dimension %q present in some arrays only", dim)
			}
			ex[i] = a.ExpandDims(dim, labels[i])
		}
		arrs = ex
	}
	first := arrs[0]
	k := first.Axis(dim)
	shape := append([]int{}, first.Data.Shape...)
	shape[k] = 0
	var coord []string
	for _, a := range arrs {
		if len(a.Dims) != len(first.Dims) {
			return nil, fmt.Errorf("tilerun: can't concatenate %v and %v", first.Dims, a.Dims)
		}
		for i, d := range a.Dims {
			if d != first.Dims[i] || (i != k && a.Data.Shape[i] != first.Data.Shape[i]) {
				return nil, fmt.Errorf("tilerun: can't concatenate %v%v and %v%v",
					first.Dims, first.Data.Shape, a.Dims, a.Data.Shape)
			}
		}
		shape[k] += a.Data.Shape[k]
		coord = append(coord, a.Labels(dim)...)
	}
	out := sparse.ZerosDense(shape...)
	ost := strides(shape)
	offset := 0
	for _, a := range arrs {
		forEach(a.Data.Shape, func(idx []int, flat int) {
			dst := 0
			for i, v := range idx {
				if i == k {
					v += offset
				}
				dst += v * ost[i]
			}
			out.Elements[dst] = a.Data.Elements[flat]
		})
		offset += a.Data.Shape[k]
	}
	o := first.withData(out, first.Dims)
	switch dim {
	case DimX, DimY:
		var c []float64
		for _, a := range arrs {
			if dim == DimX {
				c = append(c, a.X...)
			} else {
				c = append(c, a.Y...)
			}
		}
		if dim == DimX {
			o.X = c
		} else {
			o.Y = c
		}
	default:
		o.Coords[dim] = coord
	}
	return o, nil
}

// Stack combines the given auxiliary dimensions into a single new leading
// dimension whose labels are the composite labels (see JoinLabel) of the
// combined positions.
func (a *Array) Stack(dim string, dims ...string) (*Array, error) {
	order := append([]string{}, dims...)
	for _, d := range a.Dims {
		if !contains(dims, d) {
			order = append(order, d)
		}
	}
	t, err := a.Transpose(order...)
	if err != nil {
		return nil, err
	}
	n := 1
	parts := make([][]string, len(dims))
	sizes := make([]int, len(dims))
	for i, d := range dims {
		sizes[i] = t.Data.Shape[i]
		parts[i] = t.Labels(d)
		n *= sizes[i]
	}
	shape := append([]int{n}, t.Data.Shape[len(dims):]...)
	out := sparse.ZerosDense(shape...)
	copy(out.Elements, t.Data.Elements)
	labels := make([]string, 0, n)
	forEach(sizes, func(idx []int, _ int) {
		p := make([]string, len(idx))
		for i, v := range idx {
			p[i] = parts[i][v]
		}
		labels = append(labels, JoinLabel(p...))
	})
	o := t.withData(out, append([]string{dim}, order[len(dims):]...))
	o.Coords[dim] = labels
	return o, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// GeoTransform returns the transform of a spatial array. If Transform is
// not set it is derived from the pixel-centre coordinates, using res for
// dimensions that have a single coordinate.
func (a *Array) GeoTransform(res Resolution) (GeoTransform, error) {
	if a.Transform != nil {
		return *a.Transform, nil
	}
	if len(a.X) == 0 || len(a.Y) == 0 {
		return GeoTransform{}, fmt.Errorf("tilerun: array %q has no spatial coordinates", a.Name)
	}
	dx, dy := res.X(), -res.Y()
	if len(a.X) > 1 {
		dx = (a.X[len(a.X)-1] - a.X[0]) / float64(len(a.X)-1)
	}
	if len(a.Y) > 1 {
		dy = (a.Y[len(a.Y)-1] - a.Y[0]) / float64(len(a.Y)-1)
	}
	return GeoTransform{X0: a.X[0] - dx/2, DX: dx, Y0: a.Y[0] - dy/2, DY: dy}, nil
}

// SetTransform stamps t onto a and recomputes the pixel-centre coordinates.
func (a *Array) SetTransform(t GeoTransform) {
	a.Transform = &t
	a.X = make([]float64, a.Len(DimX))
	for i := range a.X {
		a.X[i], _ = t.Center(0, i)
	}
	a.Y = make([]float64, a.Len(DimY))
	for i := range a.Y {
		_, a.Y[i] = t.Center(i, 0)
	}
}

// Value is the output of a recipe: an *Array or a Collection.
type Value interface {
	isValue()
}

func (*Array) isValue() {}

// Collection is the output of a group-by operation: one array per group,
// named by its group label.
type Collection []*Array

func (Collection) isValue() {}

// Names returns the group labels of the members.
func (c Collection) Names() []string {
	o := make([]string, len(c))
	for i, a := range c {
		o[i] = a.Name
	}
	return o
}

// Response maps the result names defined by a recipe to their values.
type Response map[string]Value
