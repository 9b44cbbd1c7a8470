// Package fortune exchanges short text fortunes between a client and a
// server over TCP. Every connection carries exactly one request: the client
// either asks for all stored fortunes or submits a new one, and the server
// answers (or ingests) and closes the connection.
//
// Frames are decoded transactionally so that requests and responses survive
// any fragmentation of the byte stream.
package fortune

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidStore is returned when no fortune store is provided.
	ErrInvalidStore = errors.New("invalid fortune store")
)

// Default configuration values.
const (
	// defaultReadBufferSize is the number of bytes requested per read.
	defaultReadBufferSize = 4096
	// defaultMaxStringLength is the default maximum fortune length in code units (1Mi).
	defaultMaxStringLength = 1024 * 1024
)

// Conn serves a single request on an accepted TCP connection.
//
// It reads until a marker is decoded, then either replies with every stored
// fortune or ingests one submitted fortune, and closes. A connection whose
// marker is unknown is neither answered nor closed; it is only released when
// the context passed to Run is canceled.
type Conn struct {
	id      uuid.UUID
	rawConn *net.TCPConn
	decoder *Decoder
	logger  Logger

	opts options

	marker    Marker
	hasMarker bool

	sendMsg chan []byte
	closed  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConn creates a new connection wrapper around the given TCP connection.
// It applies the provided options and validates them before returning.
// Returns an error if the required store option is missing.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.store == nil {
		return ErrInvalidStore
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.maxStringLength <= 0 {
		opts.maxStringLength = defaultMaxStringLength
	}

	if opts.idleTimeout < 0 {
		opts.idleTimeout = 0
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newConnWithOptions(c *net.TCPConn, opts options) *Conn {
	return &Conn{
		id:      uuid.New(),
		rawConn: c,
		decoder: NewDecoder(opts.maxStringLength),
		logger:  opts.logger,
		opts:    opts,
		// At most one reply is ever queued.
		sendMsg: make(chan []byte, 1),
	}
}

// ID returns the handle identifying this connection in logs and callbacks.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Marker returns the decoded request marker, if any.
// It must not be called while Run is in progress.
func (c *Conn) Marker() (Marker, bool) {
	return c.marker, c.hasMarker
}

// Run serves the connection's request.
// It runs a read loop and a write loop and blocks until the exchange is
// complete, an error occurs, or the context is canceled.
// The connection is closed when Run returns. A completed exchange returns nil.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "conn_id", c.id, "addr", c.Addr())
	c.logger.Debug("connection options", "conn_id", c.id,
		"read_buffer_size", c.opts.readBufferSize,
		"max_string_length", c.opts.maxStringLength,
		"idle_timeout", c.opts.idleTimeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.closed.Load() {
		cancel()
	}

	group, child := errgroup.WithContext(ctx)

	// Unblock a pending Read once the connection is abandoned.
	stop := context.AfterFunc(child, func() {
		_ = c.rawConn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "conn_id", c.id, "addr", c.Addr(), "error", err.Error())
	} else {
		c.logger.Info("connection closed", "conn_id", c.id, "addr", c.Addr())
	}

	return err
}

// Close closes the connection, abandoning any request in progress.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop feeds received bytes to the decoder until the request is handled.
// It closes sendMsg once nothing more will be sent, which ends writeLoop.
func (c *Conn) readLoop(ctx context.Context) error {
	buf := make([]byte, c.opts.readBufferSize)

	for {
		if c.opts.idleTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := c.rawConn.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])

			served, perr := c.process()
			switch {
			case errors.Is(perr, ErrUnknownMarker):
				c.logger.Warn("unknown request marker, leaving connection pending",
					"conn_id", c.id, "addr", c.Addr(), "marker", c.marker)
				<-ctx.Done()
				return ctx.Err()
			case perr != nil:
				return perr
			case served:
				close(c.sendMsg)
				return nil
			}
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.logger.Debug("read error", "conn_id", c.id, "addr", c.Addr(), "error", err.Error())
			if c.opts.onError(err) == Disconnect {
				return err
			}
		}
	}
}

// process advances the request state machine over the buffered bytes.
// It reports true once the request has been fully handled.
// ErrIncomplete is absorbed here: it only means more bytes are needed.
func (c *Conn) process() (bool, error) {
	if !c.hasMarker {
		m, err := c.decoder.Marker()
		if errors.Is(err, ErrIncomplete) {
			return false, nil
		}
		c.marker, c.hasMarker = m, true
		c.logger.Debug("request marker decoded", "conn_id", c.id, "marker", m)
	}

	switch c.marker {
	case ReadFortune:
		c.sendMsg <- EncodeString(c.opts.store.Joined())
		return true, nil

	case WriteFortune:
		text, err := c.decoder.Text()
		if errors.Is(err, ErrIncomplete) {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrap(err, "decode submitted fortune failed")
		}
		c.opts.store.Append(text)
		c.logger.Debug("fortune stored", "conn_id", c.id, "length", len(text))
		return true, nil

	default:
		return false, ErrUnknownMarker
	}
}

// writeLoop sends queued replies and returns once sendMsg is closed.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-c.sendMsg:
			if !ok {
				return nil
			}
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

// write sends data to the connection.
// If an error occurs and onError returns Disconnect, the error is propagated.
// Otherwise, the error is suppressed.
func (c *Conn) write(data []byte) error {
	if c.opts.idleTimeout > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout))
	}

	_, err := c.rawConn.Write(data)
	if err != nil {
		c.logger.Debug("write error", "conn_id", c.id, "addr", c.Addr(), "error", err.Error())
		if c.opts.onError(err) == Disconnect {
			return err
		}
	}
	return nil
}

// closeConn marks the connection as closed and closes the underlying TCP connection.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	_ = c.rawConn.Close()
}
