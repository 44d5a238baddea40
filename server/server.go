// File: server/server.go
// Package server exposes the HTTP-to-WebSocket upgrade entry point.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Server owns the worker event loops, the timer scheduler, the optional
// epoll reactor and the registry of live connections. Upgrade hands a
// hijacked HTTP connection to one worker for the rest of its life.

package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/xid"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/internal/concurrency"
	"github.com/momentics/hioload-wsengine/internal/session"
	"github.com/momentics/hioload-wsengine/internal/websocket"
	"github.com/momentics/hioload-wsengine/pool"
	"github.com/momentics/hioload-wsengine/protocol"
	"github.com/momentics/hioload-wsengine/reactor"
	"github.com/momentics/hioload-wsengine/transport"
)

// ErrServerClosed is returned by Upgrade after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// ErrUpgradeAborted is returned by Upgrade when the connection was already
// hijacked and answered with 101 but could not be handed to a worker. The
// socket is closed; no HTTP response can be written any more.
var ErrUpgradeAborted = errors.New("server: upgrade aborted after handshake")

// errShutdownTimeout is reported to connections aborted by Shutdown.
var errShutdownTimeout = errors.New("server: shutdown deadline exceeded")

// Server is the WebSocket engine host.
type Server struct {
	cfg      *Config
	log      *slog.Logger
	selector protocol.SubprotocolSelector

	loops []*concurrency.EventLoop
	next  atomic.Uint32
	sched *concurrency.Scheduler
	bufs  *pool.BytePool
	react *reactor.Loop
	conns *session.Registry[*websocket.Connection]

	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	mu     sync.Mutex
	closed bool
}

// New builds and starts a Server.
func New(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{cfg: &c}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.validate(); err != nil {
		return nil, err
	}

	s.log = s.cfg.Logger
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "wsengine")

	s.selector = s.cfg.Selector
	if s.selector == nil && len(s.cfg.Subprotocols) > 0 {
		s.selector = protocol.SelectFirstSupported(s.cfg.Subprotocols...)
	}

	if s.cfg.UseReactor {
		r, err := reactor.New()
		if err != nil {
			return nil, errors.Wrap(err, "reactor")
		}
		s.react = reactor.Start(r, 50)
	}

	s.sched = concurrency.NewScheduler()
	s.bufs = pool.NewBytePool(s.cfg.ReadBufferSize)
	s.conns = session.NewRegistry[*websocket.Connection](s.cfg.Workers * 4)
	s.metrics = control.NewMetricsRegistry()
	s.probes = control.NewDebugProbes()

	s.loops = make([]*concurrency.EventLoop, s.cfg.Workers)
	for i := range s.loops {
		opts := []concurrency.LoopOption{
			concurrency.WithBatchSize(s.cfg.BatchSize),
			concurrency.WithLoopLogger(s.log),
		}
		if s.cfg.CPUAffinity {
			opts = append(opts, concurrency.WithCPU(concurrency.CPUForWorker(i)))
		}
		s.loops[i] = concurrency.NewEventLoop(i, opts...)
		s.loops[i].Start()
	}

	s.registerProbes()
	s.metrics.Set("workers", s.cfg.Workers)
	s.metrics.Set("reactor", s.react != nil)
	s.log.Info("server started", "workers", s.cfg.Workers, "reactor", s.react != nil)
	return s, nil
}

func (s *Server) registerProbes() {
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("connections.live", func() any { return s.conns.Len() })
	s.probes.RegisterProbe("workers.backlog", func() any {
		backlog := make([]int, len(s.loops))
		for i, l := range s.loops {
			backlog[i] = l.Pending()
		}
		return backlog
	})
	s.probes.RegisterProbe("workers.panics", func() any {
		var n int64
		for _, l := range s.loops {
			n += l.Panics()
		}
		return n
	})
	s.probes.RegisterProbe("scheduler.pending", func() any { return s.sched.Pending() })
	s.probes.RegisterProbe("pool.buffers", func() any {
		gets, allocs := s.bufs.Stats()
		return map[string]int64{"gets": gets, "allocs": allocs}
	})
	s.probes.RegisterProbe("metrics", func() any { return s.metrics.GetSnapshot() })
}

// pick assigns a worker round-robin.
func (s *Server) pick() *concurrency.EventLoop {
	n := s.next.Add(1) - 1
	return s.loops[int(n%uint32(len(s.loops)))]
}

// Upgrade validates the handshake in r and, on success, takes over the
// underlying connection: the 101 response is written, and h receives the
// connection's callbacks on its worker from then on.
//
// maxMessage bounds reassembled messages (non-positive selects the
// default); pingInterval enables keepalive when positive.
//
// Handshake failures are returned before anything is written, so the
// caller can still answer with an HTTP error (see WriteHandshakeError).
// ErrUpgradeAborted means the 101 already went out and the socket was
// closed; the ResponseWriter must not be used.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request, h api.Handler, maxMessage int64, pingInterval time.Duration) error {
	if h == nil {
		return api.ErrInvalidArgument
	}
	if s.isClosed() {
		return ErrServerClosed
	}
	resp, err := protocol.UpgradeToWebSocket(r, s.selector)
	if err != nil {
		s.metrics.Inc(control.MetricHandshakesRejected)
		s.log.Debug("handshake rejected", "remote", r.RemoteAddr, "err", err)
		return err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return errors.Wrap(api.ErrNotSupported, "response writer cannot be hijacked")
	}
	netConn, brw, err := hj.Hijack()
	if err != nil {
		return errors.Wrap(err, "hijack")
	}
	_ = netConn.SetDeadline(time.Time{})

	if _, err := resp.WriteTo(netConn); err != nil {
		_ = netConn.Close()
		return api.NewTransportError("write", err)
	}

	var early []byte
	if n := brw.Reader.Buffered(); n > 0 {
		peeked, _ := brw.Reader.Peek(n)
		early = append([]byte(nil), peeked...)
	}

	loop := s.pick()
	sock, start, err := s.newSocket(netConn, loop.Post)
	if err != nil {
		_ = netConn.Close()
		return err
	}

	if pingInterval < 0 {
		pingInterval = 0
	}
	id := xid.New().String()
	conn := websocket.NewConnection(sock, h, websocket.Options{
		ID:           id,
		Subprotocol:  resp.Subprotocol,
		MaxMessage:   maxMessage,
		PingInterval: pingInterval,
		CloseTimeout: s.cfg.CloseTimeout,
		FragmentSize: s.cfg.FragmentSize,
		ValidateUTF8: s.cfg.ValidateUTF8,
		Kinds:        s.cfg.MessageKinds,
		Post:         loop.Post,
		Scheduler:    s.sched,
		Logger:       s.log,
		Metrics:      s.metrics,
		OnTerminal:   func(c *websocket.Connection) { s.conns.Delete(c.ID()) },
	})
	if err := s.conns.Add(conn); err != nil {
		_ = sock.Abort()
		return errors.Wrap(ErrUpgradeAborted, err.Error())
	}

	if err := loop.Post(func() {
		conn.Open()
		if len(early) > 0 {
			conn.Feed(early)
		}
		if conn.State().Terminal() {
			return
		}
		if err := start(conn); err != nil {
			conn.OnTransportError(err)
		}
	}); err != nil {
		s.conns.Delete(id)
		_ = sock.Abort()
		return errors.Wrapf(ErrUpgradeAborted, "worker %d: %v", loop.ID(), err)
	}
	s.log.Debug("connection upgraded", "conn", id, "remote", netConn.RemoteAddr(), "worker", loop.ID())
	return nil
}

// Handler returns an http.Handler upgrading every request for h and
// answering rejected handshakes with an HTTP error.
func (s *Server) Handler(h api.Handler, maxMessage int64, pingInterval time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Upgrade(w, r, h, maxMessage, pingInterval); err != nil {
			if errors.Is(err, protocol.ErrHandshakeRejected) || errors.Is(err, ErrServerClosed) {
				WriteHandshakeError(w, err)
				return
			}
			s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		}
	})
}

// WriteHandshakeError answers a rejected upgrade request.
func WriteHandshakeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var he *protocol.HandshakeError
	if errors.As(err, &he) && he.Header != nil {
		for k, vs := range he.Header {
			w.Header()[k] = vs
		}
		if he.Header.Get(protocol.HeaderSecWebSocketVer) != "" {
			status = http.StatusUpgradeRequired
		}
	}
	if errors.Is(err, ErrServerClosed) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

// Conn looks up a live connection by id.
func (s *Server) Conn(id string) (api.Conn, bool) {
	c, ok := s.conns.Get(id)
	if !ok {
		return nil, false
	}
	return c, true
}

// Len returns the number of live connections.
func (s *Server) Len() int { return s.conns.Len() }

// Metrics exposes the server counters.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics }

// DumpState returns the output of every debug probe.
func (s *Server) DumpState() map[string]any { return s.probes.DumpState() }

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops accepting upgrades, calls OnShutdown on every live
// connection and closes it with 1001. It waits for close handshakes until
// ctx is done, aborts what is left and stops the workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	live := s.conns.Snapshot()
	s.log.Info("shutting down", "connections", len(live))
	for _, c := range live {
		c := c
		if err := c.Exec(c.Shutdown); err != nil {
			s.log.Warn("shutdown not delivered", "conn", c.ID(), "err", err)
		}
	}

	var waitErr error
	ticker := time.NewTicker(10 * time.Millisecond)
	for s.conns.Len() > 0 && waitErr == nil {
		select {
		case <-ctx.Done():
			waitErr = ctx.Err()
		case <-ticker.C:
		}
	}
	ticker.Stop()

	if waitErr != nil {
		for _, c := range s.conns.Snapshot() {
			c := c
			_ = c.Exec(func() { c.Abort(errShutdownTimeout) })
		}
	}

	for _, l := range s.loops {
		l.Stop()
	}
	s.sched.Close()
	if s.react != nil {
		if err := s.react.Stop(); err != nil {
			s.log.Warn("reactor stop", "err", err)
		}
	}
	s.log.Info("server stopped",
		"opened", s.metrics.Counter(control.MetricConnectionsOpened),
		"aborted", s.metrics.Counter(control.MetricConnectionsAborted))
	return waitErr
}

// socketStarter begins delivering socket events into the connection.
type socketStarter func(sink api.SocketSink) error

func (s *Server) newNetSocket(conn net.Conn, post func(func()) error) (api.Socket, socketStarter, error) {
	sock := transport.NewNetSocket(conn, s.bufs, post, s.cfg.WriteHighWater)
	sock.SetLinger(s.cfg.CloseTimeout)
	return sock, func(sink api.SocketSink) error {
		sock.Start(sink)
		return nil
	}, nil
}
