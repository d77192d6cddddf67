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

// Package grid divides spatial and temporal extents into tiles.
package grid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spatialmodel/tilerun"
)

// Period is a tiling period such as "1W" or "3M".
type Period struct {
	N    int
	Unit string
}

var periodRE = regexp.MustCompile(`^\s*(\d*)\s*([A-Za-z]+)\s*$`)

// ParsePeriod parses a period string of the form <n><unit>, where n
// defaults to 1 and unit is one of s, min, H (or h), D, W, M (or MS) and
// Y (or YS). M and Y are calendar months and years.
func ParsePeriod(s string) (Period, error) {
	m := periodRE.FindStringSubmatch(s)
	if m == nil {
		return Period{}, fmt.Errorf("grid: invalid period %q", s)
	}
	p := Period{N: 1}
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Period{}, fmt.Errorf("grid: invalid period %q", s)
		}
		p.N = n
	}
	switch u := m[2]; u {
	case "s", "S":
		p.Unit = "s"
	case "min", "T":
		p.Unit = "min"
	case "h", "H":
		p.Unit = "H"
	case "d", "D":
		p.Unit = "D"
	case "w", "W":
		p.Unit = "W"
	case "M", "MS":
		p.Unit = "M"
	case "y", "Y", "YS", "A", "AS":
		p.Unit = "Y"
	default:
		if strings.HasPrefix(u, "W-") {
			p.Unit = "W"
			break
		}
		return Period{}, fmt.Errorf("grid: unsupported period unit %q", u)
	}
	return p, nil
}

func (p Period) String() string { return fmt.Sprintf("%d%s", p.N, p.Unit) }

// Step returns t0 shifted by k periods. Calendar units are counted
// from t0 so that month ends don't drift.
func (p Period) Step(t0 time.Time, k int) time.Time {
	n := p.N * k
	switch p.Unit {
	case "s":
		return t0.Add(time.Duration(n) * time.Second)
	case "min":
		return t0.Add(time.Duration(n) * time.Minute)
	case "H":
		return t0.Add(time.Duration(n) * time.Hour)
	case "D":
		return t0.AddDate(0, 0, n)
	case "W":
		return t0.AddDate(0, 0, 7*n)
	case "M":
		return t0.AddDate(0, n, 0)
	default:
		return t0.AddDate(n, 0, 0)
	}
}

// Temporal splits ext into contiguous, non-overlapping intervals of
// length period, anchored at the start of ext. The last interval is
// truncated to end exactly at the end of ext. An empty extent gives an
// empty grid.
func Temporal(ext *tilerun.TemporalExtent, period string) (tilerun.Grid, error) {
	p, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	var g tilerun.Grid
	start := ext.Start
	for k := 1; start.Before(ext.End); k++ {
		end := p.Step(ext.Start, k)
		if end.After(ext.End) {
			end = ext.End
		}
		g = append(g, &tilerun.Tile{
			Index: len(g),
			Time:  &tilerun.TemporalExtent{Start: start, End: end},
		})
		start = end
	}
	return g, nil
}
