// File: internal/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer scheduler backed by a min-heap and one time.Timer. Callbacks run on
// the scheduler goroutine; callers are expected to only post work onto the
// owning event loop from them.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/hioload-wsengine/api"
)

// timerTask is a scheduled callback. It implements api.Cancelable.
type timerTask struct {
	when  time.Time
	fn    func()
	index int

	once sync.Once
	done chan struct{}
	err  error
}

func (t *timerTask) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *timerTask) Done() <-chan struct{} { return t.done }

// Err returns ErrCanceled after cancellation and nil after the callback ran.
func (t *timerTask) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

type boundTask struct {
	*timerTask
	s *Scheduler
}

func (b boundTask) Cancel() error { return b.s.cancel(b.timerTask) }

type taskHeap []*timerTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs delayed callbacks. It satisfies api.Scheduler.
type Scheduler struct {
	mu     sync.Mutex
	tasks  taskHeap
	timer  *time.Timer
	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	closed bool
}

var _ api.Scheduler = (*Scheduler)(nil)

// NewScheduler starts the scheduler goroutine.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		timer:  time.NewTimer(time.Hour),
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	s.timer.Stop()
	go s.run()
	return s
}

// Now returns the wall clock.
func (s *Scheduler) Now() time.Time { return time.Now() }

// Schedule runs fn once after delay.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.ErrInvalidArgument
	}
	if delay < 0 {
		delay = 0
	}
	t := &timerTask{when: time.Now().Add(delay), fn: fn, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	heap.Push(&s.tasks, t)
	first := s.tasks[0] == t
	s.mu.Unlock()

	if first {
		s.wake()
	}
	return boundTask{timerTask: t, s: s}, nil
}

// Cancel cancels c if it has not fired yet.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	if c == nil {
		return nil
	}
	return c.Cancel()
}

func (s *Scheduler) cancel(t *timerTask) error {
	s.mu.Lock()
	if t.index >= 0 && t.index < len(s.tasks) && s.tasks[t.index] == t {
		heap.Remove(&s.tasks, t.index)
	}
	s.mu.Unlock()
	t.finish(ErrCanceled)
	return nil
}

// Pending returns the number of callbacks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close stops the scheduler. Pending callbacks are canceled.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.doneCh
		return
	}
	s.closed = true
	pending := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	for _, t := range pending {
		t.finish(ErrCanceled)
	}
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	for {
		due := s.popDue(time.Now())
		for _, t := range due {
			select {
			case <-t.done:
				continue
			default:
			}
			t.fn()
			t.finish(nil)
		}

		s.mu.Lock()
		if len(s.tasks) > 0 {
			s.timer.Reset(time.Until(s.tasks[0].when))
		}
		s.mu.Unlock()

		select {
		case <-s.timer.C:
		case <-s.wakeCh:
			if !s.timer.Stop() {
				select {
				case <-s.timer.C:
				default:
				}
			}
		case <-s.stopCh:
			s.timer.Stop()
			return
		}
	}
}

func (s *Scheduler) popDue(now time.Time) []*timerTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*timerTask
	for len(s.tasks) > 0 && !s.tasks[0].when.After(now) {
		due = append(due, heap.Pop(&s.tasks).(*timerTask))
	}
	return due
}
