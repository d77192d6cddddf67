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
	"sort"
	"strconv"
	"strings"
)

// SortLabels sorts coordinate labels in place. Labels are compared as
// numbers if they all parse as numbers, as times if they all parse as
// times, and as strings otherwise.
func SortLabels(labels []string) {
	if len(labels) < 2 {
		return
	}
	if nums, ok := parseAll(labels, func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}); ok {
		sort.Stable(byKey{labels: labels, keys: nums})
		return
	}
	if ts, ok := parseAll(labels, func(s string) (float64, error) {
		t, err := ParseTime(s)
		return float64(t.UnixNano()), err
	}); ok {
		sort.Stable(byKey{labels: labels, keys: ts})
		return
	}
	sort.Strings(labels)
}

func parseAll(labels []string, f func(string) (float64, error)) ([]float64, bool) {
	keys := make([]float64, len(labels))
	for i, l := range labels {
		v, err := f(l)
		if err != nil {
			return nil, false
		}
		keys[i] = v
	}
	return keys, true
}

type byKey struct {
	labels []string
	keys   []float64
}

func (b byKey) Len() int           { return len(b.labels) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.labels[i], b.labels[j] = b.labels[j], b.labels[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

// UniqueLabels returns the distinct labels of all the given sets,
// sorted with SortLabels.
func UniqueLabels(sets ...[]string) []string {
	seen := make(map[string]bool)
	var o []string
	for _, s := range sets {
		for _, l := range s {
			if !seen[l] {
				seen[l] = true
				o = append(o, l)
			}
		}
	}
	SortLabels(o)
	return o
}

// JoinLabel builds a composite label from the labels of several stacked
// dimensions, e.g. "(2020, a)". A single part is returned unchanged.
func JoinLabel(parts ...string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// SplitLabel recovers the parts of a composite label created by JoinLabel.
func SplitLabel(l string) []string {
	if !strings.HasPrefix(l, "(") || !strings.HasSuffix(l, ")") {
		return []string{l}
	}
	return strings.Split(l[1:len(l)-1], ", ")
}
