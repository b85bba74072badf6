package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Server accepts peers on a unix domain socket. Setup registers the
// handlers for each new connection before its read loop starts.
type Server struct {
	Path  string
	Setup func(c *Connection)

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

func NewServer(path string, setup func(c *Connection)) *Server {
	return &Server{Path: path, Setup: setup, conns: make(map[*Connection]struct{})}
}

// ListenAndServe binds the socket and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Unix sockets leave behind a file on unclean shutdown; remove it so we can rebind.
	if err := os.RemoveAll(s.Path); err != nil {
		return fmt.Errorf("clean up socket %s: %w", s.Path, err)
	}
	l, err := net.Listen("unix", s.Path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Path, err)
	}
	defer os.Remove(s.Path)
	slog.Info("listening on domain socket", "path", s.Path)
	return s.Serve(ctx, l)
}

// Serve accepts on l until ctx is cancelled, then closes l and every open
// connection and waits for their read loops.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Error("failed to accept connection", "error", err)
			continue
		}
		slog.Info("new connection accepted")

		c := NewConnection(conn, nil)
		if s.Setup != nil {
			s.Setup(c)
		}
		s.track(c, true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.track(c, false)
			c.ReadLoop()
		}()
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	wg.Wait()
	slog.Info("ipc server stopped")
	return nil
}

func (s *Server) track(c *Connection, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// Connections is the number of open peers.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast sends to every open peer and returns the first error.
func (s *Server) Broadcast(msgType string, data any) error {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var first error
	for _, c := range conns {
		if err := c.Send(msgType, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}
