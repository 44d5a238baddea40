// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a poll-mode readiness reactor over epoll (Linux)
// dispatching per-descriptor callbacks.
package reactor
