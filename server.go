package fortune

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Handler is the interface for handling incoming TCP connections.
type Handler interface {
	// Handle is called in its own goroutine for each new connection and owns
	// it until return. ctx is canceled when the server stops.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// Server represents a TCP server that listens for incoming connections.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // closed by Close
	closeOnce   sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server keeps accepting and serving for
// up to this duration before it closes the listener and cancels the
// connections still in progress. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a new TCP server bound to the specified address.
// Port 0 binds any free port; see Addr.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s failed", addr)
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts fortune connections and hands each to handler on its own
// goroutine until ctx is canceled or Accept fails for good.
// With a shutdown timeout, accepting goes on for that long after ctx ends;
// Close cuts the wait short. Serve returns once every handler has returned,
// and handlers still running at that point see their context canceled.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	var handlers sync.WaitGroup
	defer func() {
		cancelConns()
		handlers.Wait()
	}()

	stopped := make(chan struct{})
	defer close(stopped)
	go s.stopAccepting(ctx, stopped)

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isShutdown() {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err.Error())
			return errors.Wrap(err, "accept failed")
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		// Replies are a single small frame.
		_ = conn.SetNoDelay(true)

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			handler.Handle(connCtx, conn)
		}()
	}
}

// stopAccepting waits for ctx to end, lets the shutdown timeout run out and
// then unblocks Accept. It gives up when Serve has already returned.
func (s *Server) stopAccepting(ctx context.Context, stopped <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stopped:
		return
	}

	if s.shutdownTimeout > 0 {
		s.logger.Info("draining before shutdown", "timeout", s.shutdownTimeout)
		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout cut short by Close")
		case <-stopped:
			return
		}
	}

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	_ = s.listener.SetDeadline(time.Now())
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Close closes the listener at once, skipping any remaining shutdown timeout.
// Handlers are canceled when Serve returns. Close may be called more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.shutdownNow) })

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}
