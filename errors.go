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
	"errors"
	"strings"
)

// Configuration errors. They are returned at construction time and
// are never retried.
var (
	ErrInvalidMergeMode = errors.New("tilerun: invalid merge mode")
	ErrVRTWithoutOutDir = errors.New("tilerun: vrt merge modes require an output directory")
	ErrVRTTemporal      = errors.New("tilerun: vrt merge modes are only available when tiling over space")
)

// ErrEmptyData is the explicit "no data" signal a Pipeline may return
// when a tile does not intersect any source data.
var ErrEmptyData = errors.New("no data for the requested extent")

// ErrorCategory classifies a failed pipeline execution.
type ErrorCategory int

const (
	// CategoryTransient errors are retried.
	CategoryTransient ErrorCategory = iota
	// CategoryEmpty errors mean that the tile has no data. They are
	// not errors from the engine's point of view.
	CategoryEmpty
	// CategoryFatal errors abort the run.
	CategoryFatal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryEmpty:
		return "empty"
	case CategoryFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// CategorizedError is implemented by errors that carry their own
// category.
type CategorizedError interface {
	error
	Category() ErrorCategory
}

type categorized struct {
	err error
	cat ErrorCategory
}

func (c *categorized) Error() string           { return c.err.Error() }
func (c *categorized) Unwrap() error           { return c.err }
func (c *categorized) Category() ErrorCategory { return c.cat }

// Empty marks err as a benign "no data" outcome.
func Empty(err error) error { return &categorized{err: err, cat: CategoryEmpty} }

// Transient marks err as retryable regardless of its message.
func Transient(err error) error { return &categorized{err: err, cat: CategoryTransient} }

// Fatal marks err as non-retryable.
func Fatal(err error) error { return &categorized{err: err, cat: CategoryFatal} }

// Message fragments that pipelines without structured errors use to
// signal an empty tile.
var emptyMessages = []string{
	"Empty reader_table",
	"zero-size array",
}

// Classify returns the category of an error returned by a Pipeline.
// A structured category anywhere in the chain takes precedence; otherwise
// ErrEmptyData and a small set of known messages are treated as empty and
// everything else as transient.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryTransient
	}
	var c CategorizedError
	if errors.As(err, &c) {
		return c.Category()
	}
	if errors.Is(err, ErrEmptyData) {
		return CategoryEmpty
	}
	msg := err.Error()
	for _, m := range emptyMessages {
		if strings.Contains(msg, m) {
			return CategoryEmpty
		}
	}
	return CategoryTransient
}
