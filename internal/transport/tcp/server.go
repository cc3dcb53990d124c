// Package tcp serves the line protocol over raw TCP connections, one
// goroutine per connection.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"quiz-server/internal/app"
	"quiz-server/internal/protocol"
)

// LineHandler answers one request line for a session.
type LineHandler interface {
	HandleLine(ctx context.Context, s *app.Session, line string) (protocol.Response, bool)
}

// Server accepts connections and runs a worker per connection until the peer
// leaves, the client sends DISCONNECT, or Shutdown is called.
type Server struct {
	handler      LineHandler
	tracker      app.SessionTracker
	logger       *slog.Logger
	maxLineBytes int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	workers  sync.WaitGroup
}

type Option func(*Server)

// WithMaxLineBytes bounds a single request line. Longer lines end the connection.
func WithMaxLineBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLineBytes = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTracker(tracker app.SessionTracker) Option {
	return func(s *Server) {
		if tracker != nil {
			s.tracker = tracker
		}
	}
}

func NewServer(handler LineHandler, opts ...Option) *Server {
	s := &Server{
		handler:      handler,
		tracker:      app.NoopTracker{},
		logger:       slog.Default(),
		maxLineBytes: 1 << 20,
		conns:        make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until it is closed. It returns nil after Shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("quiz server listening", "addr", ln.Addr().String())

	// Cancelling ctx must not abort a request that is already running.
	connCtx := context.WithoutCancel(ctx)
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept failed, retrying", "err", err, "in", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.serveConn(connCtx, conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// Addr is the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.workers.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.workers.Done()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	logger := s.logger.With("conn", id, "remote", conn.RemoteAddr().String())
	session := app.NewSession(id, logger)
	s.tracker.Opened(ctx, id)
	logger.Info("client connected")

	defer func() {
		session.Clear()
		s.tracker.Closed(ctx, id)
		conn.Close()
		s.untrack(conn)
		logger.Info("client disconnected")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.maxLineBytes)), s.maxLineBytes)
	w := bufio.NewWriter(conn)

	for scanner.Scan() {
		resp, closeConn := s.handler.HandleLine(ctx, session, scanner.Text())
		if resp != nil {
			if err := writeResponse(w, resp); err != nil {
				logger.Warn("write failed", "err", err)
				return
			}
		}
		if closeConn {
			return
		}
	}

	switch err := scanner.Err(); {
	case err == nil, errors.Is(err, net.ErrClosed), isDeadline(err):
	case errors.Is(err, bufio.ErrTooLong):
		logger.Warn("request line too long", "limit", s.maxLineBytes)
	default:
		logger.Warn("read failed", "err", err)
	}
}

func isDeadline(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func writeResponse(w *bufio.Writer, resp protocol.Response) error {
	if _, err := w.WriteString(resp.Message().Encode()); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// Shutdown closes the listener, then lets each worker finish the request it
// is handling. Idle workers are woken by an expired read deadline. Sockets
// still open when ctx ends are closed outright.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	for conn := range s.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	open := len(s.conns)
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.logger.Warn("drain timeout, closed remaining connections", "open", open)
	<-done
	return errors.Join(err, ctx.Err())
}
