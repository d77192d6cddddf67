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

// Package catalog describes the datasets whose assets back the layers of a
// data cube.
package catalog

import (
	_ "embed" // default catalog
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/tealeg/xlsx"
)

//go:embed datasets.toml
var defaultCatalog string

// Dataset is a collection of a STAC catalog together with information
// about its provider.
type Dataset struct {
	// Provider is a short name of the data provider.
	Provider string `toml:"provider"`

	// Endpoint is the STAC API of the provider and Collection the name
	// of the collection.
	Endpoint   string `toml:"endpoint"`
	Collection string `toml:"collection"`

	// Temporality is the frequency of acquisitions as a period string.
	// Empty means that the dataset is static.
	Temporality string `toml:"temporality"`

	// TemporalExtent holds the start and end of the coverage and
	// SpatialExtent its bounding box (west, south, east, north).
	TemporalExtent []string  `toml:"temporal_extent"`
	SpatialExtent  []float64 `toml:"spatial_extent"`

	Category  string `toml:"category"`
	Src       string `toml:"src"`
	Info      string `toml:"info"`
	Copyright string `toml:"copyright"`

	// Layers are the references of the cube layers that read from the
	// dataset.
	Layers [][]string `toml:"layers"`
}

// Columns are the keys of the tabular view of a dataset.
var Columns = []string{
	"provider", "collection", "category", "temporality", "endpoint",
	"temporal_extent", "spatial_extent", "n_bands", "src", "info", "copyright",
}

// DefaultColumns are shown when no columns are requested.
var DefaultColumns = []string{"provider", "collection", "category", "temporality"}

// Value returns the field of d that key refers to, formatted as text.
func (d *Dataset) Value(key string) (string, error) {
	switch key {
	case "provider":
		return d.Provider, nil
	case "collection":
		return d.Collection, nil
	case "category":
		return d.Category, nil
	case "temporality":
		return d.Temporality, nil
	case "endpoint":
		return d.Endpoint, nil
	case "temporal_extent":
		return strings.Join(d.TemporalExtent, "/"), nil
	case "spatial_extent":
		s := make([]string, len(d.SpatialExtent))
		for i, v := range d.SpatialExtent {
			s[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return strings.Join(s, ","), nil
	case "n_bands":
		return strconv.Itoa(len(d.Layers)), nil
	case "src":
		return d.Src, nil
	case "info":
		return d.Info, nil
	case "copyright":
		return d.Copyright, nil
	default:
		return "", fmt.Errorf("catalog: unknown column %q", key)
	}
}

// Row returns the values of d for the given columns, or for
// DefaultColumns if none are given.
func (d *Dataset) Row(keys ...string) ([]string, error) {
	if len(keys) == 0 {
		keys = DefaultColumns
	}
	o := make([]string, len(keys))
	for i, k := range keys {
		var err error
		if o[i], err = d.Value(k); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Catalog holds a set of datasets.
type Catalog struct {
	Datasets []*Dataset `toml:"dataset"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Read(strings.NewReader(defaultCatalog))
}

// Load reads a catalog from a TOML file.
func Load(path string) (*Catalog, error) {
	c := new(Catalog)
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("catalog: loading %s: %w", path, err)
	}
	return c, undecoded(md)
}

// Read reads a catalog in TOML format.
func Read(r io.Reader) (*Catalog, error) {
	c := new(Catalog)
	md, err := toml.DecodeReader(r, c)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return c, undecoded(md)
}

func undecoded(md toml.MetaData) error {
	if u := md.Undecoded(); len(u) > 0 {
		return fmt.Errorf("catalog: unknown keys %v", u)
	}
	return nil
}

// Add adds datasets to the catalog.
func (c *Catalog) Add(d ...*Dataset) {
	c.Datasets = append(c.Datasets, d...)
}

// Filter returns the datasets whose column key has one of the given
// values. Without values, the datasets where key is empty are returned.
func (c *Catalog) Filter(key string, values ...string) (*Catalog, error) {
	o := new(Catalog)
	for _, d := range c.Datasets {
		v, err := d.Value(key)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 && v == "" {
			o.Add(d)
			continue
		}
		for _, want := range values {
			if strings.EqualFold(v, want) {
				o.Add(d)
				break
			}
		}
	}
	return o, nil
}

// Providers returns the distinct providers in the catalog.
func (c *Catalog) Providers() []string {
	seen := make(map[string]bool)
	var o []string
	for _, d := range c.Datasets {
		if !seen[d.Provider] {
			seen[d.Provider] = true
			o = append(o, d.Provider)
		}
	}
	sort.Strings(o)
	return o
}

// Table returns a header row followed by one row per dataset.
func (c *Catalog) Table(keys ...string) ([][]string, error) {
	if len(keys) == 0 {
		keys = DefaultColumns
	}
	o := [][]string{append([]string{}, keys...)}
	for _, d := range c.Datasets {
		r, err := d.Row(keys...)
		if err != nil {
			return nil, err
		}
		o = append(o, r)
	}
	return o, nil
}

// Print writes a summary of the catalog and a table of its datasets to w.
func (c *Catalog) Print(w io.Writer, keys ...string) error {
	if len(c.Datasets) == 0 {
		_, err := fmt.Fprintln(w, "catalog is empty")
		return err
	}
	layers := 0
	for _, d := range c.Datasets {
		layers += len(d.Layers)
	}
	fmt.Fprintf(w, "Catalog containing\n- %d providers\n- %d datasets\n- %d layers\n\n",
		len(c.Providers()), len(c.Datasets), layers)
	t, err := c.Table(keys...)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, r := range t {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// WriteXLSX writes the table of the catalog to a spreadsheet with a single
// sheet. All columns are written if none are given.
func (c *Catalog) WriteXLSX(path string, keys ...string) error {
	if len(keys) == 0 {
		keys = Columns
	}
	t, err := c.Table(keys...)
	if err != nil {
		return err
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("datasets")
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	for i, r := range t {
		row := sheet.AddRow()
		for j, v := range r {
			cell := row.AddCell()
			if keys[j] == "n_bands" && i > 0 {
				n, _ := strconv.Atoi(v)
				cell.SetInt(n)
				continue
			}
			cell.SetString(v)
		}
	}
	if err := f.Save(path); err != nil {
		return fmt.Errorf("catalog: writing %s: %w", path, err)
	}
	return nil
}
