//go:build !linux

// File: internal/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// PinCurrentThread is unsupported outside Linux.
func PinCurrentThread(cpu int) error { return ErrAffinityNotSupported }

// UnpinCurrentThread is a no-op outside Linux.
func UnpinCurrentThread() error { return nil }
