//go:build !unix

package fortune

import (
	"syscall"

	"github.com/pkg/errors"
)

// golang.org/x/sys/unix is not available here; syscall carries the portable errno values.
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
