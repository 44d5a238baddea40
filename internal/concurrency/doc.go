// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-wsengine: per-worker event loops that
// own their connections, a timer scheduler feeding those loops, and
// optional CPU pinning of worker threads.
//
// Connections are never shared between loops. Anything that happens to a
// connection, whether bytes arriving, a timer firing or an application
// goroutine wanting to send, is posted as a task onto the owning loop.
package concurrency
