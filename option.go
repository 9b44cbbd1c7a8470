package fortune

import (
	"time"
)

// ErrorAction defines the action to take when a read or write fails.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and keeps waiting for data.
	// It is only meaningful for timeouts; the connection state is kept.
	Continue
)

// options holds the configuration for a server connection.
type options struct {
	store  *Store
	logger Logger

	// onError is called when a socket read or write fails.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	readBufferSize  int           // bytes requested per read
	maxStringLength int           // maximum code units of a submitted fortune
	idleTimeout     time.Duration // read/write deadline, 0 disables it
}

// Option is a function that configures connection options.
type Option func(*options)

// StoreOption returns an Option that sets the fortune store the connection
// serves. The store is required.
func StoreOption(store *Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// ReadBufferSizeOption returns an Option that sets how many bytes are
// requested from the socket per read.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// IdleTimeoutOption returns an Option that bounds how long a connection may
// wait for the next bytes of a request. By default there is no bound and a
// peer that stalls mid-frame keeps its connection pending.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// MessageMaxSize returns an Option that sets the maximum length, in UTF-16
// code units, of a submitted fortune. Longer submissions drop the connection.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxStringLength = size
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked when a read/write error occurs.
// Return Disconnect to close the connection, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// sessionOptions holds the configuration for a client Session.
type sessionOptions struct {
	logger Logger

	onFortune func(string)
	onFailure func(*ConnectionError)
	onState   func(State)

	initialDisplay  string
	readBufferSize  int
	maxStringLength int
	idleTimeout     time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// SessionLoggerOption sets the logger for the session.
func SessionLoggerOption(logger Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// OnFortuneOption sets the observer called with each newly displayed fortune.
func OnFortuneOption(cb func(string)) SessionOption {
	return func(o *sessionOptions) {
		o.onFortune = cb
	}
}

// OnFailureOption sets the observer called with each failure worth showing.
// Benign failures, such as the server closing after an exchange, are not reported.
func OnFailureOption(cb func(*ConnectionError)) SessionOption {
	return func(o *sessionOptions) {
		o.onFailure = cb
	}
}

// OnStateOption sets the observer called on every state transition.
func OnStateOption(cb func(State)) SessionOption {
	return func(o *sessionOptions) {
		o.onState = cb
	}
}

// InitialDisplayOption sets the text considered displayed before the first read.
func InitialDisplayOption(text string) SessionOption {
	return func(o *sessionOptions) {
		o.initialDisplay = text
	}
}

// SessionIdleTimeoutOption bounds how long the session waits for the server's
// response bytes. By default there is no bound.
func SessionIdleTimeoutOption(timeout time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.idleTimeout = timeout
	}
}

// SessionMaxSize sets the maximum length, in UTF-16 code units, of a response.
func SessionMaxSize(size int) SessionOption {
	return func(o *sessionOptions) {
		o.maxStringLength = size
	}
}
