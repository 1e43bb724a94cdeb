//go:build windows

package ipc

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// Listen binds the named pipe endpoint.
func Listen(pipePath string) (net.Listener, error) {
	ln, err := winio.ListenPipe(pipePath, nil)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", pipePath, err)
	}
	return ln, nil
}

// Dial connects to the daemon's named pipe.
func Dial(ctx context.Context, pipePath string) (net.Conn, error) {
	conn, err := winio.DialPipeContext(ctx, pipePath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", pipePath, err)
	}
	return conn, nil
}

// RemoveEndpoint is a no-op: the pipe disappears with its listener.
func RemoveEndpoint(string) {}
