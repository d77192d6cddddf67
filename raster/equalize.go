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

package raster

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/tilerun"
)

// EqualizeBands makes sure that all the raster files at paths have the
// same bands in the same order: the sorted union of the band labels of
// all files. Bands a file lacks are added filled with its no-data value.
// Files that already conform are left untouched. Files without an
// auxiliary axis are ignored.
func EqualizeBands(paths []string, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	infos := make([]*Info, len(paths))
	sets := make([][]string, 0, len(paths))
	for i, p := range paths {
		info, err := ReadInfo(p)
		if err != nil {
			return err
		}
		infos[i] = info
		if info.BandVariable != "" {
			sets = append(sets, info.LongName)
		}
	}
	if len(sets) == 0 {
		return nil
	}
	labels := tilerun.UniqueLabels(sets...)
	for i, p := range paths {
		info := infos[i]
		if info.BandVariable == "" || equal(info.LongName, labels) {
			continue
		}
		a, err := Read(p)
		if err != nil {
			return err
		}
		b, err := Reband(a, labels)
		if err != nil {
			return fmt.Errorf("raster: %s: %w", p, err)
		}
		if err := Write(p, b); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"file":  p,
			"added": len(labels) - len(info.LongName),
		}).Debug("equalized bands")
	}
	return nil
}

// Reband returns a copy of the 3-D array a whose bands are the given
// labels in order. Bands not present in a are filled with no-data.
func Reband(a *tilerun.Array, labels []string) (*tilerun.Array, error) {
	dim := a.BandVariable
	if dim == "" {
		aux := a.AuxDims()
		if len(aux) != 1 {
			return nil, fmt.Errorf("can't find the band axis of %v", a.Dims)
		}
		dim = aux[0]
	}
	t, err := a.Transpose(dim, tilerun.DimY, tilerun.DimX)
	if err != nil {
		return nil, err
	}
	have := make(map[string]int)
	for i, l := range t.Labels(dim) {
		have[l] = i
	}
	ny, nx := t.Len(tilerun.DimY), t.Len(tilerun.DimX)
	n := ny * nx
	o := tilerun.NewArray(a.Name, t.Dims, len(labels), ny, nx)
	o.X = append([]float64{}, t.X...)
	o.Y = append([]float64{}, t.Y...)
	if t.Transform != nil {
		gt := *t.Transform
		o.Transform = &gt
	}
	o.CRS, o.NoData, o.DType = t.CRS, t.NoData, t.DType
	for j, l := range labels {
		dst := o.Data.Elements[j*n : (j+1)*n]
		i, ok := have[l]
		if !ok {
			for k := range dst {
				dst[k] = t.NoData
			}
			continue
		}
		copy(dst, t.Data.Elements[i*n:(i+1)*n])
	}
	o.BandVariable = dim
	o.LongName = append([]string{}, labels...)
	o.Coords[dim] = o.LongName
	return o, nil
}
