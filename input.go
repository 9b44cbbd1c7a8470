package fortune

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Inputs are the values a front-end collects before issuing a request.
type Inputs struct {
	Host string
	Port string
	Text string
}

// ParsePort returns Port as a TCP port in the range 1-65535.
func (in Inputs) ParsePort() (uint16, error) {
	p, err := strconv.ParseUint(strings.TrimSpace(in.Port), 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid port %q", in.Port)
	}
	if p == 0 {
		return 0, errors.Errorf("invalid port %q", in.Port)
	}
	return uint16(p), nil
}

// Valid reports whether requests may be issued with these inputs: the host
// and the fortune text are non-empty and the port is valid.
func (in Inputs) Valid() bool {
	if in.Host == "" || in.Text == "" {
		return false
	}
	_, err := in.ParsePort()
	return err == nil
}

// CanRequest is Inputs{host, port, text}.Valid().
func CanRequest(host, port, text string) bool {
	return Inputs{Host: host, Port: port, Text: text}.Valid()
}
