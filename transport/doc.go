// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport adapts hijacked network connections to the engine's
// api.Socket contract: non-blocking writes with writability callbacks and
// inbound bytes delivered onto the owning worker.
//
// NetSocket works with any net.Conn using a reader and a writer goroutine.
// FDSocket (Linux) drives the raw descriptor from the epoll reactor.
package transport
