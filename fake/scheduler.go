// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"errors"
	"sync"
	"time"

	"github.com/momentics/hioload-wsengine/api"
)

// ErrTimerCanceled is reported by Err on a canceled timer.
var ErrTimerCanceled = errors.New("fake: timer canceled")

// Timer is a pending callback of Scheduler.
type Timer struct {
	when     time.Time
	fn       func()
	fired    bool
	canceled bool
	done     chan struct{}
}

func (t *Timer) Cancel() error {
	if !t.fired && !t.canceled {
		t.canceled = true
		close(t.done)
	}
	return nil
}

func (t *Timer) Done() <-chan struct{} { return t.done }

func (t *Timer) Err() error {
	if t.canceled {
		return ErrTimerCanceled
	}
	return nil
}

// Scheduler is a manual clock: timers fire only from Advance, on the
// calling goroutine.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*Timer
}

var _ api.Scheduler = (*Scheduler)(nil)

// NewScheduler starts the clock at a fixed instant.
func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Unix(1700000000, 0)}
}

func (s *Scheduler) Schedule(d time.Duration, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Timer{when: s.now.Add(d), fn: fn, done: make(chan struct{})}
	s.timers = append(s.timers, t)
	return t, nil
}

func (s *Scheduler) Cancel(c api.Cancelable) error { return c.Cancel() }

func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Scheduled counts every timer ever scheduled, fired or not.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Pending counts timers neither fired nor canceled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.canceled {
			n++
		}
	}
	return n
}

// Advance moves the clock by d and runs every timer that came due.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []*Timer
	for _, t := range s.timers {
		if !t.fired && !t.canceled && !t.when.After(s.now) {
			t.fired = true
			close(t.done)
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}
