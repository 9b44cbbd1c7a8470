//go:build unix

package fortune

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func isConnRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}

func isConnReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE)
}
