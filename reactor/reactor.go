// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import (
	"errors"
	"sync/atomic"
)

// ErrNotSupported is returned by New on platforms without a reactor.
var ErrNotSupported = errors.New("reactor: this platform is not supported")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("reactor: closed")

// FDEventType is a bit set of readiness events.
type FDEventType uint8

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// FDCallback is invoked on the polling goroutine. It must not block.
type FDCallback func(fd uintptr, events FDEventType)

// Reactor multiplexes readiness notifications for many descriptors.
type Reactor interface {
	// Register adds fd with the given interest set.
	Register(fd uintptr, events FDEventType, cb FDCallback) error
	// Modify replaces the interest set of a registered fd.
	Modify(fd uintptr, events FDEventType) error
	// Unregister removes fd. Pending events for it are dropped.
	Unregister(fd uintptr) error
	// Poll waits up to timeoutMs (negative blocks) and dispatches events.
	Poll(timeoutMs int) error
	// Close releases the reactor.
	Close() error
}

// Loop drives a Reactor on its own goroutine until Stop.
type Loop struct {
	r       Reactor
	timeout int
	stopped atomic.Bool
	done    chan struct{}
	err     error
}

// Start runs r.Poll in a goroutine, waking every timeoutMs to observe Stop.
func Start(r Reactor, timeoutMs int) *Loop {
	if timeoutMs <= 0 {
		timeoutMs = 50
	}
	l := &Loop{r: r, timeout: timeoutMs, done: make(chan struct{})}
	go l.run()
	return l
}

// Reactor returns the driven reactor.
func (l *Loop) Reactor() Reactor { return l.r }

func (l *Loop) run() {
	defer close(l.done)
	for !l.stopped.Load() {
		if err := l.r.Poll(l.timeout); err != nil {
			if !l.stopped.Load() {
				l.err = err
			}
			return
		}
	}
}

// Stop ends polling, closes the reactor and returns the first poll error.
func (l *Loop) Stop() error {
	l.stopped.Store(true)
	<-l.done
	if err := l.r.Close(); err != nil && l.err == nil {
		return err
	}
	return l.err
}
