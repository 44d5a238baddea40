//go:build !linux
// +build !linux

// File: server/socket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net"

	"github.com/momentics/hioload-wsengine/api"
)

func (s *Server) newSocket(conn net.Conn, post func(func()) error) (api.Socket, socketStarter, error) {
	return s.newNetSocket(conn, post)
}
