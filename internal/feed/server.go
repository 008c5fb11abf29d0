package feed

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"learnhub/pkg/logger"
)

// Server accepts raw TCP subscribers and streams newline-delimited JSON
// events to them.
type Server struct {
	Addr string
	Hub  *Hub
	Log  *logger.Logger

	mu sync.Mutex
	ln net.Listener
}

func NewServer(addr string, hub *Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{Addr: addr, Hub: hub, Log: log}
}

// Listen binds the server's address. Run calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	s.Log.Info("feed listening", "addr", addr.String())

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		_ = s.ln.Close()
		s.mu.Unlock()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Log.Warn("feed accept failed", "error", err)
			continue
		}

		_, _ = conn.Write(s.Hub.welcome("tcp"))
		s.Hub.Add(conn)
		s.Log.Debug("feed client connected", "remote", conn.RemoteAddr().String())

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				s.Log.Debug("feed client disconnected", "remote", c.RemoteAddr().String())
			}()

			// subscribers only listen; drain until they hang up
			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}
