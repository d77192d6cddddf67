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

// Package supervise runs a pipeline over one tile until it either
// succeeds, turns out to have no data, or fails with an unrecoverable
// error.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/tilerun"
)

// Defaults for Supervisor.
const (
	DefaultRetryInterval = time.Minute
	DefaultPollInterval  = time.Second
)

// Health reports whether access to the data source is currently valid.
type Health interface {
	Healthy() bool
}

// errUnhealthy is returned by an attempt that completed while the data
// source was unhealthy; its result can't be trusted.
var errUnhealthy = errors.New("data source access became invalid during execution")

// Supervisor executes a pipeline for single tiles. Failed executions are
// retried indefinitely at a fixed interval unless the error is fatal. Before
// every attempt the supervisor waits for Health, if set, to report a valid
// data source.
type Supervisor struct {
	Pipeline tilerun.Pipeline

	// Health is usually a reauthentication daemon. It may be nil.
	Health Health

	// RetryInterval is the wait after a failed attempt, and PollInterval
	// the period at which Health is checked while paused. Zero values
	// mean DefaultRetryInterval and DefaultPollInterval.
	RetryInterval time.Duration
	PollInterval  time.Duration

	Log logrus.FieldLogger
}

func (s *Supervisor) log() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *Supervisor) healthy() bool {
	return s.Health == nil || s.Health.Healthy()
}

// Run executes the pipeline for ec. It returns the response, or nil and no
// error if the tile has no data. An error is returned only for fatal
// pipeline errors or when ctx is done.
func (s *Supervisor) Run(ctx context.Context, ec *tilerun.ExecContext) (tilerun.Response, error) {
	retry := s.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		resp    tilerun.Response
		fatal   error
		attempt int
	)
	op := func() error {
		attempt++
		if err := s.waitHealthy(ctx); err != nil {
			return err
		}
		r, err := s.Pipeline.Execute(ctx, ec)
		if err == nil && !s.healthy() {
			err = errUnhealthy
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch tilerun.Classify(err) {
			case tilerun.CategoryEmpty:
				s.log().WithField("reason", err).Debug("no data")
				resp = nil
				return nil
			case tilerun.CategoryFatal:
				fatal = err
				cancel()
				return err
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, d time.Duration) {
		l := s.log().WithFields(logrus.Fields{"attempt": attempt, "reason": err})
		if attempt == 1 {
			l.Warnf("execution will be repeated in %v", d)
		} else {
			l.Debugf("execution will be repeated in %v", d)
		}
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.NewConstantBackOff(retry), ctx), notify)
	switch {
	case fatal != nil:
		return nil, fmt.Errorf("supervise: %w", fatal)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return nil, err
	}
	if attempt > 1 {
		s.log().WithField("attempt", attempt).Info("execution resumed")
	}
	if len(resp) == 0 {
		return nil, nil
	}
	return resp, nil
}

// waitHealthy blocks until the data source is healthy or ctx is done.
func (s *Supervisor) waitHealthy(ctx context.Context) error {
	if s.healthy() {
		return nil
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	s.log().Info("execution paused because of a reauthentication failure")
	t := time.NewTicker(poll)
	defer t.Stop()
	for !s.healthy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.log().Info("execution continued after reauthentication")
	return nil
}
