package fortune

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrSessionClosed is returned by requests made after Session.Close.
var ErrSessionClosed = errors.New("session closed")

// State is the position of a Session in its request/response cycle.
type State int

const (
	// Idle means no request is in flight.
	Idle State = iota
	// Connecting means a connection is being opened and the request sent.
	Connecting
	// AwaitingResponse means a read request was sent and the reply is being decoded.
	AwaitingResponse
	// Done means the last request completed.
	Done
	// Failed means the last request ended with a connection error.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case AwaitingResponse:
		return "awaiting response"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// attempt is the handle of one connection attempt. Only the session's
// current attempt may change session state; anything a superseded attempt
// receives is discarded.
type attempt struct {
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// Session drives request/response exchanges with a fortune server on behalf
// of a front-end. Each request opens a new connection; starting a request
// aborts the one in flight. Outcomes are reported to the observers set with
// OnFortuneOption, OnFailureOption and OnStateOption, which are called in
// order from a single goroutine at a time.
//
// A read whose response equals the fortune already displayed is silently
// repeated until the server returns a different text.
type Session struct {
	opts   sessionOptions
	logger Logger
	dialer net.Dialer
	events dispatcher

	mu      sync.Mutex
	addr    string
	state   State
	display string
	seq     uint64
	current *attempt
	closed  bool
}

// NewSession returns an idle session targeting host:port.
func NewSession(host string, port uint16, opts ...SessionOption) *Session {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.readBufferSize <= 0 {
		o.readBufferSize = defaultReadBufferSize
	}
	if o.maxStringLength <= 0 {
		o.maxStringLength = defaultMaxStringLength
	}

	return &Session{
		opts:    o,
		logger:  o.logger,
		addr:    net.JoinHostPort(host, strconv.Itoa(int(port))),
		display: o.initialDisplay,
	}
}

// SetTarget changes the server used by subsequent requests.
func (s *Session) SetTarget(host string, port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// Addr returns the server address requests are sent to.
func (s *Session) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Display returns the last fortune text shown.
func (s *Session) Display() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// RequestRead fetches the server's fortunes.
func (s *Session) RequestRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(ReadRequest())
}

// RequestSubmit sends text to be stored by the server.
func (s *Session) RequestSubmit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(WriteRequest(text))
}

// Abort cancels the request in flight, if any, and returns to Idle.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
}

// Close aborts the request in flight. Later requests fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.closed = true
	return nil
}

// Wait blocks until the latest request, including any automatic repeats,
// has finished and returns its error. A nil error means Done.
// Benign failures are returned as a *ConnectionError whose Benign reports true.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		a := s.current
		s.mu.Unlock()
		if a == nil {
			return nil
		}

		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		s.mu.Lock()
		latest := s.current == a
		s.mu.Unlock()
		if latest {
			return a.err
		}
	}
}

// ReadFortune performs a read and returns the fortune text displayed afterwards.
// If ctx ends first, the request is aborted.
func (s *Session) ReadFortune(ctx context.Context) (string, error) {
	s.RequestRead()
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return s.Display(), nil
}

// SubmitFortune sends text and returns once it was written.
// If ctx ends first, the request is aborted.
func (s *Session) SubmitFortune(ctx context.Context, text string) error {
	s.RequestSubmit(text)
	return s.wait(ctx)
}

func (s *Session) wait(ctx context.Context) error {
	err := s.Wait(ctx)
	if ctx.Err() != nil {
		s.Abort()
	}
	return err
}

// startLocked replaces the attempt in flight with a new one for req.
func (s *Session) startLocked(req Request) {
	if s.current != nil {
		s.current.cancel()
	}

	s.seq++
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{seq: s.seq, cancel: cancel, done: make(chan struct{})}
	s.current = a

	if s.closed {
		cancel()
		a.finish(ErrSessionClosed)
		return
	}

	s.setStateLocked(Connecting)
	s.logger.Debug("request started", "attempt", a.seq, "marker", req.Marker, "addr", s.addr)
	go s.run(ctx, a, s.addr, req)
}

func (s *Session) abortLocked() {
	if s.current == nil {
		return
	}
	s.current.cancel()
	// Detach so that the aborted attempt cannot report anything.
	s.current = &attempt{seq: s.current.seq, cancel: func() {}, done: closedChan}
	if s.state != Idle {
		s.setStateLocked(Idle)
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (s *Session) setStateLocked(st State) {
	s.state = st
	if cb := s.opts.onState; cb != nil {
		s.events.post(func() { cb(st) })
	}
}

// run performs one attempt. It holds no lock; every state change goes
// through a method that first checks a is still current.
func (s *Session) run(ctx context.Context, a *attempt, addr string, req Request) {
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.fail(ctx, a, errors.Wrapf(err, "dial %s failed", addr))
		return
	}
	defer conn.Close()

	// Aborting discards the socket and whatever it had received.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if s.opts.idleTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.idleTimeout))
	}
	if _, err = conn.Write(req.Encode()); err != nil {
		s.fail(ctx, a, errors.Wrap(err, "send request failed"))
		return
	}

	if req.Marker == WriteFortune {
		s.complete(a)
		return
	}

	if !s.transition(a, AwaitingResponse) {
		a.finish(context.Canceled)
		return
	}

	text, err := s.receive(conn)
	if err != nil {
		s.fail(ctx, a, errors.Wrap(err, "receive fortune failed"))
		return
	}
	s.deliver(a, text)
}

// receive decodes one string payload, retrying the decode on every arrival.
func (s *Session) receive(conn net.Conn) (string, error) {
	dec := NewDecoder(s.opts.maxStringLength)
	buf := make([]byte, s.opts.readBufferSize)

	for {
		if s.opts.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.idleTimeout))
		}

		n, rerr := conn.Read(buf)
		dec.Feed(buf[:n])

		text, err := dec.Text()
		switch {
		case err == nil:
			return text, nil
		case !errors.Is(err, ErrIncomplete):
			return "", err
		case rerr != nil:
			return "", rerr
		}
	}
}

func (s *Session) transition(a *attempt, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != a {
		return false
	}
	s.setStateLocked(st)
	return true
}

// deliver applies a decoded response.
func (s *Session) deliver(a *attempt, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != a {
		a.finish(context.Canceled)
		return
	}

	if text == s.display {
		s.logger.Debug("server repeated the displayed fortune, requesting again", "attempt", a.seq)
		s.startLocked(ReadRequest())
		a.finish(nil)
		return
	}

	s.display = text
	if cb := s.opts.onFortune; cb != nil {
		s.events.post(func() { cb(text) })
	}
	s.setStateLocked(Done)
	s.setStateLocked(Idle)
	a.finish(nil)
}

// complete finishes a submit.
func (s *Session) complete(a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != a {
		a.finish(context.Canceled)
		return
	}
	s.logger.Debug("fortune submitted", "attempt", a.seq)
	s.setStateLocked(Done)
	s.setStateLocked(Idle)
	a.finish(nil)
}

// fail classifies err and reports it unless the attempt was aborted.
func (s *Session) fail(ctx context.Context, a *attempt, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || s.current != a {
		a.finish(context.Canceled)
		return
	}

	ce := Classify(err)
	if ce.Benign() {
		s.logger.Debug("server closed the connection", "attempt", a.seq, "error", err.Error())
	} else {
		s.logger.Warn("request failed", "attempt", a.seq, "kind", ce.Kind, "error", err.Error())
		if cb := s.opts.onFailure; cb != nil {
			s.events.post(func() { cb(ce) })
		}
	}
	s.setStateLocked(Failed)
	s.setStateLocked(Idle)
	a.finish(ce)
}

// dispatcher runs posted callbacks one at a time, in posting order, on a
// goroutine of its own, so callbacks may call back into the Session.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (d *dispatcher) post(f func()) {
	d.mu.Lock()
	d.queue = append(d.queue, f)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go d.drain()
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		f := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		f()
	}
}
