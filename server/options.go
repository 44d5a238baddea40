// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/protocol"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithWorkers sets the number of worker event loops.
func WithWorkers(n int) ServerOption {
	return func(s *Server) {
		s.cfg.Workers = n
	}
}

// WithCPUAffinity pins each worker loop to a CPU.
func WithCPUAffinity(enabled bool) ServerOption {
	return func(s *Server) {
		s.cfg.CPUAffinity = enabled
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.cfg.Logger = l
	}
}

// WithSubprotocols lists supported subprotocols. The first one the client
// offers that appears in the list is selected.
func WithSubprotocols(protocols ...string) ServerOption {
	return func(s *Server) {
		s.cfg.Subprotocols = append([]string(nil), protocols...)
	}
}

// WithSubprotocolSelector installs a custom negotiation policy. It takes
// precedence over WithSubprotocols.
func WithSubprotocolSelector(sel protocol.SubprotocolSelector) ServerOption {
	return func(s *Server) {
		s.cfg.Selector = sel
	}
}

// WithReactor switches inbound I/O to the epoll reactor where available.
func WithReactor(enabled bool) ServerOption {
	return func(s *Server) {
		s.cfg.UseReactor = enabled
	}
}

// WithCloseTimeout bounds the wait for the peer's close frame.
func WithCloseTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.cfg.CloseTimeout = d
	}
}

// WithWriteFragmentSize splits outgoing messages into frames of at most n bytes.
func WithWriteFragmentSize(n int) ServerOption {
	return func(s *Server) {
		s.cfg.FragmentSize = n
	}
}

// WithReadBufferSize sets the pooled read buffer size.
func WithReadBufferSize(n int) ServerOption {
	return func(s *Server) {
		s.cfg.ReadBufferSize = n
	}
}

// WithUTF8Validation enables validation of inbound text messages.
func WithUTF8Validation(enabled bool) ServerOption {
	return func(s *Server) {
		s.cfg.ValidateUTF8 = enabled
	}
}

// WithMessageKinds restricts the data message kinds peers may send.
func WithMessageKinds(kinds api.MessageKinds) ServerOption {
	return func(s *Server) {
		s.cfg.MessageKinds = kinds
	}
}
