// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CPU placement helpers for worker loops.

package concurrency

import "runtime"

// NumCPUs returns the number of logical CPUs.
func NumCPUs() int {
	return runtime.NumCPU()
}

// CPUForWorker spreads worker indexes across the available CPUs.
func CPUForWorker(worker int) int {
	n := NumCPUs()
	if n <= 0 || worker < 0 {
		return 0
	}
	return worker % n
}
