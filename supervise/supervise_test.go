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

package supervise

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"

	"github.com/spatialmodel/tilerun"
)

// script is a pipeline that returns the given errors in turn and then
// succeeds.
type script struct {
	errs  []error
	calls int32
	// during is called during every execution.
	during func()
}

func (s *script) Execute(ctx context.Context, ec *tilerun.ExecContext) (tilerun.Response, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.during != nil {
		s.during()
	}
	if int(n) <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	a := tilerun.NewArray("r", []string{tilerun.DimY, tilerun.DimX}, 1, 1)
	a.Data.Elements[0] = float64(n)
	return tilerun.Response{"r": a}, nil
}

func (s *script) Prepare(ctx context.Context, ec *tilerun.ExecContext) (*tilerun.Preparation, error) {
	return &tilerun.Preparation{}, nil
}

type flag struct{ ok int32 }

func (f *flag) Healthy() bool { return atomic.LoadInt32(&f.ok) == 1 }
func (f *flag) set(ok bool) {
	if ok {
		atomic.StoreInt32(&f.ok, 1)
	} else {
		atomic.StoreInt32(&f.ok, 0)
	}
}

func supervisor(p tilerun.Pipeline, h Health) (*Supervisor, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return &Supervisor{
		Pipeline:      p,
		Health:        h,
		RetryInterval: time.Millisecond,
		PollInterval:  time.Millisecond,
		Log:           log,
	}, hook
}

func count(hook *test.Hook, level logrus.Level, msg string) int {
	n := 0
	for _, e := range hook.Entries {
		if e.Level == level && (msg == "" || e.Message == msg) {
			n++
		}
	}
	return n
}

func TestRetryZeroSize(t *testing.T) {
	defer goleak.VerifyNone(t)
	zs := tilerun.Transient(errors.New("zero-size array to reduction operation maximum"))
	p := &script{errs: []error{zs, zs, zs}}
	s, hook := supervisor(p, nil)
	resp, err := s.Run(context.Background(), &tilerun.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	if p.calls != 4 {
		t.Errorf("%d calls, want 4", p.calls)
	}
	a, ok := resp["r"].(*tilerun.Array)
	if !ok || a.Data.Elements[0] != 4 {
		t.Errorf("unexpected response %v", resp)
	}
	if n := count(hook, logrus.WarnLevel, ""); n != 1 {
		t.Errorf("%d warnings, want 1", n)
	}
	if n := count(hook, logrus.InfoLevel, "execution resumed"); n != 1 {
		t.Errorf("%d resume messages, want 1", n)
	}
}

func TestEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, err := range []error{
		errors.New("zero-size array to reduction operation"),
		fmt.Errorf("retrieving: %w", tilerun.ErrEmptyData),
		errors.New("AssertionError: Empty reader_table"),
		tilerun.Empty(errors.New("nothing here")),
	} {
		p := &script{errs: []error{err}}
		s, _ := supervisor(p, nil)
		resp, err2 := s.Run(context.Background(), &tilerun.ExecContext{})
		if err2 != nil || resp != nil {
			t.Errorf("%v: have %v, %v; want no response and no error", err, resp, err2)
		}
		if p.calls != 1 {
			t.Errorf("%v: %d calls", err, p.calls)
		}
	}
}

func TestFatal(t *testing.T) {
	defer goleak.VerifyNone(t)
	bad := errors.New("unknown verb")
	p := &script{errs: []error{tilerun.Fatal(bad)}}
	s, _ := supervisor(p, nil)
	_, err := s.Run(context.Background(), &tilerun.ExecContext{})
	if !errors.Is(err, bad) {
		t.Errorf("have %v, want %v", err, bad)
	}
	if p.calls != 1 {
		t.Errorf("%d calls", p.calls)
	}
}

func TestPause(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := new(flag)
	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		h.set(true)
		close(done)
	}()
	p := new(script)
	s, hook := supervisor(p, h)
	resp, err := s.Run(context.Background(), &tilerun.ExecContext{})
	<-done
	if err != nil || resp == nil {
		t.Fatalf("have %v, %v", resp, err)
	}
	if p.calls != 1 {
		t.Errorf("%d calls", p.calls)
	}
	if n := count(hook, logrus.InfoLevel, "execution paused because of a reauthentication failure"); n != 1 {
		t.Errorf("%d pause messages, want 1", n)
	}
	if n := count(hook, logrus.InfoLevel, "execution continued after reauthentication"); n != 1 {
		t.Errorf("%d continue messages, want 1", n)
	}
}

func TestUnhealthyDuringExecution(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := &flag{ok: 1}
	p := new(script)
	p.during = func() {
		if atomic.LoadInt32(&p.calls) == 1 {
			h.set(false)
			go func() {
				time.Sleep(5 * time.Millisecond)
				h.set(true)
			}()
		}
	}
	s, _ := supervisor(p, h)
	resp, err := s.Run(context.Background(), &tilerun.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	if p.calls != 2 {
		t.Errorf("%d calls, want 2", p.calls)
	}
	if a := resp["r"].(*tilerun.Array); a.Data.Elements[0] != 2 {
		t.Error("the result of the first execution should have been discarded")
	}
	time.Sleep(10 * time.Millisecond)
}

// failing always returns a transient error.
type failing struct{ calls int32 }

func (f *failing) Execute(ctx context.Context, ec *tilerun.ExecContext) (tilerun.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, errors.New("connection reset by peer")
}

func (f *failing) Prepare(ctx context.Context, ec *tilerun.ExecContext) (*tilerun.Preparation, error) {
	return nil, nil
}

func TestCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	f := new(failing)
	s, hook := supervisor(f, nil)
	s.RetryInterval = 5 * time.Millisecond
	_, err := s.Run(ctx, &tilerun.ExecContext{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("have error %v", err)
	}
	if atomic.LoadInt32(&f.calls) < 2 {
		t.Errorf("%d calls, expected retries", f.calls)
	}
	if n := count(hook, logrus.WarnLevel, ""); n != 1 {
		t.Errorf("%d warnings, want 1", n)
	}
}
