// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrLoopStopped indicates the event loop no longer accepts tasks
	ErrLoopStopped = errors.New("event loop is stopped")

	// ErrSchedulerClosed indicates the scheduler has been shut down
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrCanceled is reported by a scheduled task that was canceled
	ErrCanceled = errors.New("scheduled task canceled")

	// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")
)
