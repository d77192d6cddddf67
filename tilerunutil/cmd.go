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

// Package tilerunutil contains the command-line interface of tilerun.
package tilerunutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spatialmodel/tilerun"
	"github.com/spatialmodel/tilerun/catalog"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	execFlags := func() []*pflag.FlagSet {
		return []*pflag.FlagSet{runCmd.Flags(), previewCmd.Flags(), gridCmd.Flags()}
	}
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "verbose",
			usage: `
              verbose turns on debug logging.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "recipe",
			usage: `
              recipe is the path to the JSON recipe to execute.`,
			defaultVal: "",
			flagsets:   execFlags(),
		},
		{
			name: "mapping",
			usage: `
              mapping is the path to a JSON file that defines the concepts
              the recipe refers to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), previewCmd.Flags()},
		},
		{
			name: "cube",
			usage: `
              cube is the directory holding the data cube, one NetCDF
              file per layer.`,
			defaultVal: "",
			flagsets:   execFlags(),
		},
		{
			name: "validity",
			usage: `
              validity is how long access to the cube stays valid before
              it needs to be renewed, e.g. "1h". Zero means forever.`,
			defaultVal: "0s",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), previewCmd.Flags()},
		},
		{
			name: "layer_cache",
			usage: `
              layer_cache is the number of cube layers kept in memory.`,
			defaultVal: 16,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), previewCmd.Flags()},
		},
		{
			name: "aoi",
			usage: `
              aoi is a GeoJSON or shapefile with the area of interest.
              GeoJSON coordinates are longitude and latitude.`,
			defaultVal: "",
			flagsets:   execFlags(),
		},
		{
			name: "start",
			usage: `
              start is the beginning of the time range, e.g. 2020-01-01.`,
			defaultVal: "",
			flagsets:   execFlags(),
		},
		{
			name: "end",
			usage: `
              end is the (exclusive) end of the time range.`,
			defaultVal: "",
			flagsets:   execFlags(),
		},
		{
			name: "crs",
			usage: `
              crs is the coordinate reference system of the output, e.g.
              EPSG:3035. The default is the reference system of the area
              of interest.`,
			defaultVal: "",
			flagsets:   execFlags(),
		},
		{
			name: "res",
			usage: `
              res is the output resolution. A single value is used for both
              axes; two values are read as the pixel height and width.`,
			defaultVal: []string{"10"},
			flagsets:   execFlags(),
		},
		{
			name: "time_tile",
			usage: `
              time_tile is the length of temporal tiles, e.g. 1W, 2D or 1M.`,
			defaultVal: "1W",
			flagsets:   execFlags(),
		},
		{
			name: "space_tile",
			usage: `
              space_tile is the edge length of spatial tiles in pixels.`,
			defaultVal: 1024,
			flagsets:   execFlags(),
		},
		{
			name: "tile_dim",
			usage: `
              tile_dim requests tiling over space or time. It is only used
              if the recipe doesn't determine the tiling dimension.`,
			defaultVal: "",
			flagsets:   execFlags(),
		},
		{
			name: "merge",
			usage: `
              merge specifies how tile results are combined: merged, none,
              vrt_shapes or vrt_tiles.`,
			defaultVal: "merged",
			flagsets:   execFlags(),
		},
		{
			name: "out_dir",
			usage: `
              out_dir is where outputs are written.`,
			defaultVal: "tilerun_out",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), previewCmd.Flags()},
		},
		{
			name: "workers",
			usage: `
              workers is the number of tiles executed at the same time.
              With more than one worker reauthentication is disabled.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "caching",
			usage: `
              caching resolves the recipe once and shares the result with
              every tile.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), previewCmd.Flags()},
		},
		{
			name: "reauth",
			usage: `
              reauth keeps renewing access to the cube in the background.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), previewCmd.Flags()},
		},
		{
			name: "quicklook",
			usage: `
              quicklook renders a PNG of every merged spatial output.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "bucket",
			usage: `
              bucket is a blob storage URL (file://, gs:// or s3://) that the
              outputs are copied to after the run.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "format",
			usage: `
              format is the file format of a spatial grid: geojson or shp.`,
			defaultVal: "geojson",
			flagsets:   []*pflag.FlagSet{gridCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the file the grid is written to. GeoJSON and
              temporal grids are written to standard output if it is empty.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{gridCmd.Flags()},
		},
		{
			name: "catalog_file",
			usage: `
              catalog_file is a TOML dataset catalog. The built-in catalog
              is used if it is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{catalogCmd.Flags()},
		},
		{
			name: "category",
			usage: `
              category restricts the catalog to the given categories.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{catalogCmd.Flags()},
		},
		{
			name: "provider",
			usage: `
              provider restricts the catalog to the given providers.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{catalogCmd.Flags()},
		},
		{
			name: "columns",
			usage: `
              columns are the catalog columns to show.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{catalogCmd.Flags()},
		},
		{
			name: "xlsx",
			usage: `
              xlsx exports the catalog to the given spreadsheet file
              instead of printing it.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{catalogCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("TILERUN")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(previewCmd)
	Root.AddCommand(gridCmd)
	Root.AddCommand(catalogCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("tilerun: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// setLogging configures the standard logger.
func setLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logrus.SetLevel(logrus.InfoLevel)
	if Cfg.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// interruptible returns a context that is cancelled on an interrupt
// signal.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "tilerun",
	Short: "Execute recipes over large areas and time ranges tile by tile.",
	Long: `tilerun splits the extent of a recipe into spatial or temporal tiles,
executes the recipe for every tile against a data cube and merges the results.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'TILERUN_var' where 'var' is
the name of the variable to be set.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := setConfig(); err != nil {
			return err
		}
		setLogging()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of tilerun.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tilerun v%s\n", tilerun.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a recipe.",
	Long: `run executes a recipe over the area of interest and the time range,
tile by tile, and writes the merged outputs to out_dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, p, err := EngineConfig(Cfg)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()
		res, err := Run(ctx, cfg, p, Cfg.GetInt("workers"))
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), cfg, res)
	},
	DisableAutoGenTag: true,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Estimate the size of the outputs.",
	Long: `preview resolves the recipe, executes tiles until one of them produces
a result and estimates the output size for every merge mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, p, err := EngineConfig(Cfg)
		if err != nil {
			return err
		}
		cfg.Out = cmd.OutOrStdout()
		ctx, cancel := interruptible()
		defer cancel()
		_, err = Preview(ctx, cfg, p)
		return err
	},
	DisableAutoGenTag: true,
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Write the tile grid.",
	Long: `grid writes the tiles the extent would be split into. Spatial grids are
written as GeoJSON or as a shapefile, temporal grids as a table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, p, err := EngineConfig(Cfg)
		if err != nil {
			return err
		}
		cfg.Reauth = false
		return Grid(cfg, p, Cfg.GetString("format"), os.ExpandEnv(Cfg.GetString("output")), cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the dataset catalog.",
	Long: `catalog prints the datasets the layers of a cube can be derived from,
optionally filtered by category and provider, or exports them to a
spreadsheet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var c *catalog.Catalog
		var err error
		if f := Cfg.GetString("catalog_file"); f != "" {
			c, err = catalog.Load(os.ExpandEnv(f))
		} else {
			c, err = catalog.Default()
		}
		if err != nil {
			return err
		}
		for _, key := range []string{"category", "provider"} {
			if v := Cfg.GetStringSlice(key); len(v) > 0 {
				if c, err = c.Filter(key, v...); err != nil {
					return err
				}
			}
		}
		columns := Cfg.GetStringSlice("columns")
		if f := Cfg.GetString("xlsx"); f != "" {
			return c.WriteXLSX(os.ExpandEnv(f), columns...)
		}
		return c.Print(cmd.OutOrStdout(), columns...)
	},
	DisableAutoGenTag: true,
}
