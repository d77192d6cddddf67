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

// Package tilerun holds the data model shared by the tile execution engine:
// spatial and temporal extents, tiles and grids, labeled arrays returned by
// a recipe pipeline, and the interfaces the engine uses to talk to that
// pipeline and to the data source behind it.
//
// A recipe that is too large to evaluate in one pass over its requested area
// and time range is split into tiles (see package grid), each tile is
// evaluated independently under a retrying supervisor (package supervise),
// and the per-tile outputs are normalized (package normalize) and merged
// (packages merge, raster and vrt). Package engine ties these together.
package tilerun

// Version gives the version number.
const Version = "0.3.0"
