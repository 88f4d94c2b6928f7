package communicator

import (
	"errors"
	"fmt"
	"net"

	"github.com/mdlayher/vsock"

	"github.com/seantiz/dutharness/internal/config"
)

// ErrUnsupportedTransport is returned by Listen for unknown transports.
var ErrUnsupportedTransport = errors.New("unsupported transport")

// Listen opens a listener for the given transport: addr is used for TCP and
// port for vsock.
func Listen(transport, addr string, port uint32) (net.Listener, error) {
	switch transport {
	case config.TransportTCP:
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcp listen on %s: %w", addr, err)
		}
		return l, nil
	case config.TransportVsock:
		l, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, fmt.Errorf("vsock listen on port %d: %w", port, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, transport)
	}
}
