// File: internal/concurrency/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-goroutine event loop owning a set of connections. Tasks posted
// from any goroutine are executed strictly in order on the loop goroutine,
// drained in batches. The inbox is unbounded so a task may safely post
// further work onto its own loop.

package concurrency

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Task is a unit of work executed on the loop goroutine.
type Task = func()

// EventLoop executes posted tasks on a single goroutine.
type EventLoop struct {
	id        int
	cpu       int
	batchSize int
	log       *slog.Logger

	mu     sync.Mutex
	inbox  *queue.Queue
	wakeCh chan struct{}

	stopCh  chan struct{}
	doneCh  chan struct{}
	running int32
	stopped int32

	executed atomic.Int64
	panics   atomic.Int64
}

// LoopOption configures an EventLoop.
type LoopOption func(*EventLoop)

// WithBatchSize caps how many tasks are drained per wakeup.
func WithBatchSize(n int) LoopOption {
	return func(el *EventLoop) {
		if n > 0 {
			el.batchSize = n
		}
	}
}

// WithCPU pins the loop goroutine's OS thread to cpu. Negative disables pinning.
func WithCPU(cpu int) LoopOption {
	return func(el *EventLoop) { el.cpu = cpu }
}

// WithLoopLogger sets the logger used for task panics.
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(el *EventLoop) {
		if l != nil {
			el.log = l
		}
	}
}

// NewEventLoop creates a stopped loop. Call Start to run it.
func NewEventLoop(id int, opts ...LoopOption) *EventLoop {
	el := &EventLoop{
		id:        id,
		cpu:       -1,
		batchSize: 64,
		log:       slog.Default(),
		inbox:     queue.New(),
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(el)
	}
	el.log = el.log.With("loop", id)
	return el
}

// ID returns the loop index.
func (el *EventLoop) ID() int { return el.id }

// Start launches the loop goroutine. Subsequent calls are no-ops.
func (el *EventLoop) Start() {
	if !atomic.CompareAndSwapInt32(&el.running, 0, 1) {
		return
	}
	go el.run()
}

// Post enqueues task for execution on the loop goroutine.
func (el *EventLoop) Post(task Task) error {
	if task == nil {
		return nil
	}
	el.mu.Lock()
	if atomic.LoadInt32(&el.stopped) == 1 {
		el.mu.Unlock()
		return ErrLoopStopped
	}
	el.inbox.Add(task)
	el.mu.Unlock()

	select {
	case el.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued tasks.
func (el *EventLoop) Pending() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.inbox.Length()
}

// Executed returns how many tasks the loop has run.
func (el *EventLoop) Executed() int64 { return el.executed.Load() }

// Panics returns how many tasks panicked.
func (el *EventLoop) Panics() int64 { return el.panics.Load() }

// Stop refuses new tasks, runs what is already queued and waits for the
// loop goroutine to exit.
func (el *EventLoop) Stop() {
	el.mu.Lock()
	if !atomic.CompareAndSwapInt32(&el.stopped, 0, 1) {
		el.mu.Unlock()
		<-el.doneCh
		return
	}
	el.mu.Unlock()
	close(el.stopCh)
	if atomic.LoadInt32(&el.running) == 0 {
		close(el.doneCh)
		return
	}
	<-el.doneCh
}

func (el *EventLoop) run() {
	defer close(el.doneCh)
	if el.cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := PinCurrentThread(el.cpu); err != nil {
			el.log.Warn("cpu pinning failed", "cpu", el.cpu, "err", err)
		}
	}
	batch := make([]Task, 0, el.batchSize)
	for {
		select {
		case <-el.wakeCh:
		case <-el.stopCh:
			// Drain whatever was posted before Stop.
			for {
				batch = el.take(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.runBatch(batch)
			}
		}
		for {
			batch = el.take(batch[:0])
			if len(batch) == 0 {
				break
			}
			el.runBatch(batch)
		}
	}
}

func (el *EventLoop) take(dst []Task) []Task {
	el.mu.Lock()
	for el.inbox.Length() > 0 && len(dst) < el.batchSize {
		dst = append(dst, el.inbox.Remove().(Task))
	}
	el.mu.Unlock()
	return dst
}

func (el *EventLoop) runBatch(batch []Task) {
	for i, t := range batch {
		el.execute(t)
		batch[i] = nil
	}
}

func (el *EventLoop) execute(t Task) {
	defer func() {
		if r := recover(); r != nil {
			el.panics.Add(1)
			el.log.Error("task panic", "panic", fmt.Sprint(r))
		}
	}()
	t()
	el.executed.Add(1)
}
