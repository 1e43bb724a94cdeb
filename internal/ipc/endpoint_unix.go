//go:build !windows

package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
)

// Listen binds the unix domain socket, replacing a stale file left by a
// previous run.
func Listen(socketPath string) (net.Listener, error) {
	if _, err := os.Stat(socketPath); err == nil {
		os.Remove(socketPath)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", socketPath, err)
	}
	return ln, nil
}

// Dial connects to the daemon's unix socket.
func Dial(ctx context.Context, socketPath string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return conn, nil
}

// RemoveEndpoint deletes the socket file on shutdown.
func RemoveEndpoint(socketPath string) {
	os.Remove(socketPath)
}
