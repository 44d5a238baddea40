//go:build linux
// +build linux

// File: server/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/transport"
)

// newSocket prefers the reactor-driven descriptor socket when the reactor
// is enabled and the connection exposes a descriptor.
func (s *Server) newSocket(conn net.Conn, post func(func()) error) (api.Socket, socketStarter, error) {
	if s.react == nil {
		return s.newNetSocket(conn, post)
	}
	sock, err := transport.NewFDSocket(conn, s.react.Reactor(), s.bufs, post)
	if err != nil {
		s.log.Debug("falling back to goroutine socket", "err", err)
		return s.newNetSocket(conn, post)
	}
	return sock, sock.Start, nil
}
