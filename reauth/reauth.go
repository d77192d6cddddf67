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

// Package reauth keeps the signed access to a data source fresh in the
// background.
package reauth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPeriod is the default interval between reauthentications.
const DefaultPeriod = time.Second

// Resigner refreshes the access to a data source.
type Resigner interface {
	Resign(ctx context.Context) error
}

// Daemon periodically resigns a data source and publishes whether the
// last attempt succeeded. A new Daemon reports healthy until its first
// attempt fails.
type Daemon struct {
	period time.Duration
	log    logrus.FieldLogger

	healthy int32

	mu     sync.Mutex
	src    Resigner
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for src. A zero period means DefaultPeriod.
func New(src Resigner, period time.Duration, log logrus.FieldLogger) *Daemon {
	if period <= 0 {
		period = DefaultPeriod
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Daemon{period: period, log: log, src: src, healthy: 1}
}

// Healthy returns whether the most recent reauthentication succeeded.
func (d *Daemon) Healthy() bool { return atomic.LoadInt32(&d.healthy) == 1 }

// Start starts resigning in the background until ctx is done or Stop is
// called. The first attempt is made immediately. Starting a running
// daemon has no effect.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop stops the daemon and waits for a running attempt to finish.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// SetSource replaces the data source. It should be called while the
// daemon is stopped.
func (d *Daemon) SetSource(src Resigner) {
	d.mu.Lock()
	d.src = src
	d.mu.Unlock()
}

func (d *Daemon) run(ctx context.Context) {
	defer d.wg.Done()
	t := time.NewTicker(d.period)
	defer t.Stop()
	for {
		d.check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (d *Daemon) check(ctx context.Context) {
	d.mu.Lock()
	src := d.src
	d.mu.Unlock()
	err := src.Resign(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if atomic.SwapInt32(&d.healthy, 0) == 1 {
			d.log.WithField("reason", err).Warn("reauthentication failed")
		}
		return
	}
	if atomic.SwapInt32(&d.healthy, 1) == 0 {
		d.log.Info("reauthentication succeeded")
	}
}
