// Package listeners creates the network listeners the API server
// serves on.
package listeners

import (
	"net"
	"os"

	"github.com/docker/go-connections/sockets"
	"github.com/pkg/errors"
)

// Init creates a listener for the given protocol and address. TCP
// addresses bind directly; unix addresses get a fresh socket file
// owned by the daemon's group.
func Init(proto, addr string) (net.Listener, error) {
	switch proto {
	case "tcp":
		return sockets.NewTCPSocket(addr, nil)
	case "unix":
		l, err := sockets.NewUnixSocket(addr, os.Getgid())
		if err != nil {
			return nil, errors.Wrapf(err, "can't create unix socket %s", addr)
		}
		return l, nil
	default:
		return nil, errors.Errorf("invalid protocol format: %q", proto)
	}
}
