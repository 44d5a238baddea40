// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import "errors"

// Loop collects posted tasks and runs them only from Drain, standing in for
// a worker event loop.
type Loop struct {
	tasks   []func()
	stopped bool
}

// ErrLoopStopped mirrors the error a stopped worker returns.
var ErrLoopStopped = errors.New("fake: loop stopped")

// Post queues task.
func (l *Loop) Post(task func()) error {
	if l.stopped {
		return ErrLoopStopped
	}
	l.tasks = append(l.tasks, task)
	return nil
}

// Pending is the number of queued tasks.
func (l *Loop) Pending() int { return len(l.tasks) }

// Drain runs queued tasks, including ones posted while draining.
func (l *Loop) Drain() {
	for len(l.tasks) > 0 {
		t := l.tasks[0]
		l.tasks = l.tasks[1:]
		t()
	}
}

// Stop rejects further posts.
func (l *Loop) Stop() { l.stopped = true }
