package fortune

import (
	"io"
	"net"

	"github.com/pkg/errors"
)

// ErrorKind classifies a connection failure.
type ErrorKind int

const (
	// RemoteClosed means the peer closed the connection. After a one-shot
	// exchange this is the normal outcome and is not reported as a failure.
	RemoteClosed ErrorKind = iota
	// HostNotFound means the host name could not be resolved.
	HostNotFound
	// ConnectionRefused means nothing accepted the connection on that port.
	ConnectionRefused
	// Other covers every remaining socket failure.
	Other
)

func (k ErrorKind) String() string {
	switch k {
	case RemoteClosed:
		return "remote closed"
	case HostNotFound:
		return "host not found"
	case ConnectionRefused:
		return "connection refused"
	default:
		return "connection error"
	}
}

// ConnectionError is a classified socket failure.
type ConnectionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Benign reports whether the failure should be ignored rather than shown.
func (e *ConnectionError) Benign() bool {
	return e.Kind == RemoteClosed
}

// Message returns the text to show a user for this failure.
func (e *ConnectionError) Message() string {
	switch e.Kind {
	case RemoteClosed:
		return ""
	case HostNotFound:
		return "The host was not found. Please check the host name and port settings."
	case ConnectionRefused:
		return "The connection was refused by the peer. Make sure the fortune server is running, " +
			"and check that the host name and port settings are correct."
	default:
		if e.Err == nil {
			return "An unknown connection error occurred."
		}
		return "The following error occurred: " + errors.Cause(e.Err).Error() + "."
	}
}

// Classify wraps err in a ConnectionError of the matching kind.
// It returns nil for a nil error and returns err unchanged if it already is one.
func Classify(err error) *ConnectionError {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce
	}

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return &ConnectionError{Kind: HostNotFound, Err: err}
	case isConnRefused(err):
		return &ConnectionError{Kind: ConnectionRefused, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isConnReset(err):
		return &ConnectionError{Kind: RemoteClosed, Err: err}
	default:
		return &ConnectionError{Kind: Other, Err: err}
	}
}
