// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for the WebSocket engine.
//
// Provides concurrent-safe primitives:
//   - Named counters updated from worker loops
//   - Gauges set from snapshots
//   - Probe registration and state export
package control
