// Package ipc carries the daemon's local endpoint: newline-delimited JSON
// frames over a unix socket or named pipe, plus the lock file that makes
// the daemon a singleton per user.
package ipc

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/zqq-nuli/felay/pkg/protocol"
)

// MaxFrameBytes bounds one JSON line; anything larger is a broken client.
const MaxFrameBytes = 1 << 20

// Handler consumes decoded frames and connection lifecycle events.
type Handler interface {
	HandleMessage(ctx context.Context, conn *Conn, msg *protocol.Message)
	HandleDisconnect(conn *Conn)
}

// Conn is one client connection with serialized writes.
type Conn struct {
	nc net.Conn
	mu sync.Mutex
}

// NewConn wraps a transport connection for frame writes.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Send encodes and writes one frame.
func (c *Conn) Send(msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.nc.Write(data)
	return err
}

// Close drops the connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Server accepts clients and feeds their frames to the handler.
type Server struct {
	handler Handler
	log     *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewServer wires a handler.
func NewServer(handler Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{handler: handler, log: log, conns: make(map[*Conn]struct{})}
}

// Serve runs the accept loop until Close. Always returns after Close with a
// nil error; any other listener failure is returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}
		conn := &Conn{nc: nc}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting and closes every live connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) serveConn(ctx context.Context, conn *Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.handler.HandleDisconnect(conn)
	}()

	scanner := bufio.NewScanner(conn.nc)
	scanner.Buffer(make([]byte, 64*1024), MaxFrameBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			// Bad frames never kill the connection.
			s.log.Debug("discarding invalid frame", "error", err)
			continue
		}
		s.handler.HandleMessage(ctx, conn, msg)
	}
}
