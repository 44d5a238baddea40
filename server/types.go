// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/internal/websocket"
	"github.com/momentics/hioload-wsengine/pool"
	"github.com/momentics/hioload-wsengine/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Workers        int           // number of worker event loops
	BatchSize      int           // tasks drained per loop wakeup
	CPUAffinity    bool          // pin worker loops to CPUs (Linux)
	ReadBufferSize int           // size of pooled socket read buffers
	WriteHighWater int           // bytes a NetSocket buffers before pushing back
	UseReactor     bool          // poll descriptors with epoll instead of reader goroutines
	CloseTimeout   time.Duration // wait for the peer's close frame
	FragmentSize   int           // split outgoing messages above this size; 0 disables
	ValidateUTF8   bool          // close with 1007 on invalid text messages
	MessageKinds   api.MessageKinds
	Subprotocols   []string // supported; the client's offer order decides
	Selector       protocol.SubprotocolSelector
	Logger         *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:        4,
		BatchSize:      64,
		ReadBufferSize: pool.DefaultBufferSize,
		CloseTimeout:   websocket.DefaultCloseTimeout,
		MessageKinds:   api.AcceptAll,
	}
}

func (c *Config) validate() error {
	switch {
	case c.Workers <= 0:
		return errors.Wrapf(api.ErrInvalidArgument, "workers = %d", c.Workers)
	case c.ReadBufferSize < 0:
		return errors.Wrapf(api.ErrInvalidArgument, "read buffer size = %d", c.ReadBufferSize)
	case c.FragmentSize < 0:
		return errors.Wrapf(api.ErrInvalidArgument, "fragment size = %d", c.FragmentSize)
	case c.CloseTimeout < 0:
		return errors.Wrapf(api.ErrInvalidArgument, "close timeout = %s", c.CloseTimeout)
	case c.MessageKinds&api.AcceptAll == 0:
		return errors.Wrap(api.ErrInvalidArgument, "no message kind accepted")
	}
	return nil
}
