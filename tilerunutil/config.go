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

package tilerunutil

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/cube"
	"github.com/spatialmodel/tilerun/engine"
)

// EngineConfig builds the execution configuration and the cube pipeline
// from cfg.
func EngineConfig(cfg *viper.Viper) (engine.Config, *cube.Pipeline, error) {
	var c engine.Config
	log := logrus.StandardLogger()

	recipe := os.ExpandEnv(cfg.GetString("recipe"))
	if recipe == "" {
		return c, nil, fmt.Errorf("tilerun: a recipe is required")
	}
	var err error
	if c.Recipe, err = tilerun.ReadRecipe(recipe); err != nil {
		return c, nil, err
	}
	if f := os.ExpandEnv(cfg.GetString("mapping")); f != "" {
		if c.Mapping, err = readMapping(f); err != nil {
			return c, nil, err
		}
	}

	dir := os.ExpandEnv(cfg.GetString("cube"))
	if dir == "" {
		return c, nil, fmt.Errorf("tilerun: a cube directory is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return c, nil, fmt.Errorf("tilerun: opening cube: %w", err)
	}
	validity, err := cast.ToDurationE(cfg.Get("validity"))
	if err != nil {
		return c, nil, fmt.Errorf("tilerun: invalid validity: %w", err)
	}
	c.Source = cube.NewSource(dir, validity)

	c.CRS = cfg.GetString("crs")
	if f := os.ExpandEnv(cfg.GetString("aoi")); f != "" {
		if c.Space, err = tilerun.ReadAOI(f, ""); err != nil {
			return c, nil, err
		}
	}
	start, end := cfg.GetString("start"), cfg.GetString("end")
	if start != "" || end != "" {
		if c.Time, err = tilerun.NewTemporalExtent(start, end); err != nil {
			return c, nil, err
		}
	}
	if c.Resolution, err = parseResolution(cfg.Get("res")); err != nil {
		return c, nil, err
	}
	if c.TileDim, err = tilerun.ParseDimension(cfg.GetString("tile_dim")); err != nil {
		return c, nil, err
	}
	if c.Merge, err = tilerun.ParseMergeMode(cfg.GetString("merge")); err != nil {
		return c, nil, err
	}
	c.TimeTileSize = cfg.GetString("time_tile")
	c.SpaceTileSize = cfg.GetInt("space_tile")
	c.OutDir = os.ExpandEnv(cfg.GetString("out_dir"))
	c.Caching = cfg.GetBool("caching")
	c.Reauth = cfg.GetBool("reauth")
	c.Quicklook = cfg.GetBool("quicklook")
	c.OutputBucket = os.ExpandEnv(cfg.GetString("bucket"))
	c.Log = log

	return c, cube.New(cfg.GetInt("layer_cache"), log), nil
}

func readMapping(path string) (tilerun.Mapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tilerun: reading mapping: %w", err)
	}
	var m tilerun.Mapping
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("tilerun: parsing mapping %s: %w", path, err)
	}
	return m, nil
}

// parseResolution reads a resolution given as one value, used for both
// axes, or as the pixel height and width. North-up pixels get a
// negative height.
func parseResolution(v interface{}) (tilerun.Resolution, error) {
	s, err := cast.ToStringSliceE(v)
	if err != nil {
		return tilerun.Resolution{}, fmt.Errorf("tilerun: invalid resolution: %w", err)
	}
	r := make([]float64, len(s))
	for i, vv := range s {
		if r[i], err = cast.ToFloat64E(vv); err != nil {
			return tilerun.Resolution{}, fmt.Errorf("tilerun: invalid resolution %v: %w", s, err)
		}
	}
	switch len(r) {
	case 1:
		return tilerun.Resolution{-math.Abs(r[0]), math.Abs(r[0])}, nil
	case 2:
		return tilerun.Resolution{-math.Abs(r[0]), math.Abs(r[1])}, nil
	default:
		return tilerun.Resolution{}, fmt.Errorf("tilerun: resolution needs one or two values, not %v", s)
	}
}
