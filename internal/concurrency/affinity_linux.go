//go:build linux

// File: internal/concurrency/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"golang.org/x/sys/unix"
)

// PinCurrentThread binds the calling OS thread to cpu. The caller must have
// locked the goroutine to its thread with runtime.LockOSThread.
func PinCurrentThread(cpu int) error {
	if cpu < 0 || cpu >= NumCPUs() {
		return ErrAffinityNotSupported
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

// UnpinCurrentThread allows the calling thread to run on every CPU.
func UnpinCurrentThread() error {
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < NumCPUs(); i++ {
		set.Set(i)
	}
	return unix.SchedSetaffinity(0, &set)
}
