package events

import (
	"fmt"
	"net"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/common"
)

// TCPServer streams events to line-oriented TCP subscribers. Clients
// connect, read lines, and never write.
type TCPServer struct {
	addr      string
	publisher *Publisher
	listener  net.Listener
	logger    arbor.ILogger
}

// NewTCPServer creates a stopped server for the given listen address.
func NewTCPServer(addr string, publisher *Publisher, logger arbor.ILogger) *TCPServer {
	return &TCPServer{
		addr:      addr,
		publisher: publisher,
		logger:    logger,
	}
}

// Start binds the listener and serves subscribers in the background.
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.logger.Info().Str("addr", s.addr).Msg("Event stream listening")

	common.SafeGo(s.logger, "event-tcp-accept", func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				s.logger.Debug().Err(err).Msg("Event stream accept loop ending")
				return
			}
			s.serveConn(conn)
		}
	})
	return nil
}

func (s *TCPServer) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Debug().Str("remote", remote).Msg("Event subscriber connected")
	ch, unsubscribe := s.publisher.Subscribe()

	common.SafeGo(s.logger, "event-tcp-conn", func() {
		defer conn.Close()
		defer unsubscribe()
		for line := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				s.logger.Debug().Str("remote", remote).Err(err).Msg("Event subscriber disconnected")
				return
			}
		}
	})
}

// Stop closes the listener. Connected subscribers are dropped when the
// publisher closes their channel.
func (s *TCPServer) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
}
