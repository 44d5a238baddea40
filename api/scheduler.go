// Package api
// Author: momentics
//
// Scheduler contract for timed job execution.

package api

import "time"

// Scheduler abstracts timer scheduling for keepalive and close timeouts.
// Callbacks run on the scheduler's own goroutine and must only hand work
// over to the owning worker.
type Scheduler interface {
	// Schedule schedules fn to be executed after delay.
	Schedule(delay time.Duration, fn func()) (Cancelable, error)

	// Cancel cancels a previously scheduled callback.
	Cancel(c Cancelable) error

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}
