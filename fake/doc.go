// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the engine's socket,
// timer and worker seams. None of the fakes start goroutines.
package fake
