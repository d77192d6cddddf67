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

package reauth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"
)

// source fails while fail is set.
type source struct {
	fail  int32
	calls int32
}

func (s *source) Resign(ctx context.Context) error {
	atomic.AddInt32(&s.calls, 1)
	if atomic.LoadInt32(&s.fail) == 1 {
		return errors.New("403 Forbidden")
	}
	return nil
}

// eventually polls cond for up to a second.
func eventually(cond func() bool) bool {
	for i := 0; i < 1000; i++ {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestDaemon(t *testing.T) {
	defer goleak.VerifyNone(t)
	log, hook := test.NewNullLogger()
	src := new(source)
	d := New(src, time.Millisecond, log)
	if !d.Healthy() {
		t.Fatal("a new daemon should be healthy")
	}
	d.Start(context.Background())
	d.Start(context.Background()) // no effect
	defer d.Stop()

	if !eventually(func() bool { return atomic.LoadInt32(&src.calls) > 2 }) {
		t.Fatal("the source was not resigned")
	}
	atomic.StoreInt32(&src.fail, 1)
	if !eventually(func() bool { return !d.Healthy() }) {
		t.Fatal("the daemon didn't notice the failure")
	}
	atomic.StoreInt32(&src.fail, 0)
	if !eventually(d.Healthy) {
		t.Fatal("the daemon didn't recover")
	}
	d.Stop()

	var warn, info int
	for _, e := range hook.Entries {
		switch e.Level {
		case logrus.WarnLevel:
			warn++
		case logrus.InfoLevel:
			info++
		}
	}
	if warn != 1 || info != 1 {
		t.Errorf("%d warnings and %d infos, want 1 each", warn, info)
	}
}

func TestDaemonContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	d := New(new(source), 0, log)
	if d.period != DefaultPeriod {
		t.Errorf("period %v", d.period)
	}
	d.Start(ctx)
	cancel()
	d.Stop()
}

func TestSetSource(t *testing.T) {
	defer goleak.VerifyNone(t)
	log, _ := test.NewNullLogger()
	bad := &source{fail: 1}
	d := New(bad, time.Millisecond, log)
	d.Start(context.Background())
	if !eventually(func() bool { return !d.Healthy() }) {
		t.Fatal("the daemon didn't notice the failure")
	}
	d.Stop()
	d.SetSource(new(source))
	d.Start(context.Background())
	defer d.Stop()
	if !eventually(d.Healthy) {
		t.Fatal("the new source wasn't used")
	}
}
