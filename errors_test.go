package fortune

import (
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func opError(errno syscall.Errno) error {
	return &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", errno)}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"eof", io.EOF, RemoteClosed},
		{"wrapped eof", errors.Wrap(io.EOF, "receive fortune failed"), RemoteClosed},
		{"unexpected eof", io.ErrUnexpectedEOF, RemoteClosed},
		{"reset", opError(syscall.ECONNRESET), RemoteClosed},
		{"broken pipe", errors.Wrap(opError(syscall.EPIPE), "send request failed"), RemoteClosed},
		{"refused", errors.Wrap(opError(syscall.ECONNREFUSED), "dial failed"), ConnectionRefused},
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}}, HostNotFound},
		{"other", errors.New("boom"), Other},
		{"timeout", opError(syscall.ETIMEDOUT), Other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			require.NotNil(t, ce)
			require.Equal(t, tt.want, ce.Kind)
			require.ErrorIs(t, ce, tt.err)
			require.Equal(t, tt.want == RemoteClosed, ce.Benign())
		})
	}
}

func TestClassify_NilAndAlreadyClassified(t *testing.T) {
	require.Nil(t, Classify(nil))

	ce := &ConnectionError{Kind: HostNotFound, Err: io.EOF}
	require.Same(t, ce, Classify(errors.Wrap(ce, "outer")))
}

func TestConnectionError_Message(t *testing.T) {
	require.Empty(t, (&ConnectionError{Kind: RemoteClosed, Err: io.EOF}).Message())
	require.Equal(t,
		"The host was not found. Please check the host name and port settings.",
		(&ConnectionError{Kind: HostNotFound}).Message())
	require.Equal(t,
		"The connection was refused by the peer. Make sure the fortune server is running, "+
			"and check that the host name and port settings are correct.",
		(&ConnectionError{Kind: ConnectionRefused}).Message())

	// The reason is the root cause, without the wrapping context.
	err := errors.Wrap(errors.New("network is unreachable"), "dial failed")
	require.Equal(t,
		"The following error occurred: network is unreachable.",
		(&ConnectionError{Kind: Other, Err: err}).Message())
	require.Equal(t, "An unknown connection error occurred.", (&ConnectionError{Kind: Other}).Message())
}

func TestConnectionError_Error(t *testing.T) {
	require.Equal(t, "connection refused", (&ConnectionError{Kind: ConnectionRefused}).Error())
	require.Equal(t, "remote closed: EOF", (&ConnectionError{Kind: RemoteClosed, Err: io.EOF}).Error())
	require.Equal(t, "host not found", HostNotFound.String())
	require.Equal(t, "connection error", Other.String())
}
