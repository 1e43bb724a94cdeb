package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/zqq-nuli/felay/pkg/protocol"
)

// Client is the CLI-host side of the endpoint. One connection serves both
// fire-and-forget events and request/response calls; inbound events that
// arrive while a response is awaited are handed to OnEvent.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner

	writeMu sync.Mutex

	// OnEvent, when set, receives daemon-initiated frames (feishu_input).
	OnEvent func(msg *protocol.Message)
}

// Connect dials the daemon endpoint.
func Connect(ctx context.Context, socketPath string) (*Client, error) {
	conn, err := Dial(ctx, socketPath)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxFrameBytes)
	return &Client{conn: conn, scanner: scanner}, nil
}

// Send writes one event frame.
func (c *Client) Send(msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

// Request sends a *_request frame and blocks for its *_response, decoding
// the payload into out (may be nil). Unrelated inbound frames seen while
// waiting go to OnEvent.
func (c *Client) Request(ctx context.Context, msgType string, payload, out any) error {
	wantType := protocol.ResponseType(msgType)
	if wantType == "" {
		return fmt.Errorf("%q is not a request type", msgType)
	}
	if err := c.Send(msgType, payload); err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			continue
		}
		if msg.Type != wantType {
			if c.OnEvent != nil {
				c.OnEvent(msg)
			}
			continue
		}
		if out == nil {
			return nil
		}
		return msg.Into(out)
	}
	if err := c.scanner.Err(); err != nil {
		return fmt.Errorf("await %s: %w", wantType, err)
	}
	return fmt.Errorf("connection closed awaiting %s", wantType)
}

// Listen reads daemon-initiated frames until the connection drops,
// delivering each to fn.
func (c *Client) Listen(fn func(msg *protocol.Message)) error {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			continue
		}
		fn(msg)
	}
	return c.scanner.Err()
}

// Close drops the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
