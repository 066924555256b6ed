package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerOptions configures inbound registration and connection behavior.
type ServerOptions struct {
	ConnectionTimeout time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	FrameReadTimeout  time.Duration
}

func (o ServerOptions) withDefaults() ServerOptions {
	out := o
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = DefaultConnectionTimeout
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if out.KeepAliveTimeout <= 0 {
		out.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if out.FrameReadTimeout <= 0 {
		out.FrameReadTimeout = DefaultFrameReadTimeout
	}
	return out
}

// Registration is one accepted connection that completed set_name.
type Registration struct {
	Conn *PeerConnection
	Name string
}

// Server accepts inbound TCP sessions, assigns each an id and upgrades it to PeerConnection.
type Server struct {
	listener net.Listener
	options  ServerOptions

	incoming chan Registration
	errs     chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and registration accept loop.
func Listen(address string, options ServerOptions) (*Server, error) {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		options:  options.withDefaults(),
		incoming: make(chan Registration, 16),
		errs:     make(chan error, 16),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Incoming returns registered connections.
func (s *Server) Incoming() <-chan Registration {
	return s.incoming
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting and closes all server channels.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.incoming)
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		s.wg.Add(1)
		go s.handleInboundConn(conn)
	}
}

func (s *Server) handleInboundConn(conn net.Conn) {
	defer s.wg.Done()

	closeConn := true
	defer func() {
		if closeConn {
			_ = conn.Close()
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(s.options.ConnectionTimeout)); err != nil {
		s.reportError(fmt.Errorf("set registration deadline: %w", err))
		return
	}

	payload, err := ReadFrameWithTimeout(conn, s.options.ConnectionTimeout)
	if err != nil {
		s.reportError(fmt.Errorf("read registration: %w", err))
		return
	}

	msgType, err := DecodeMessageType(payload)
	if err != nil {
		s.reportError(err)
		return
	}
	if msgType != TypeSetName {
		_ = s.sendError(conn, ErrorMessage{
			Type:      TypeError,
			Code:      ErrorCodeInvalidMessage,
			Message:   fmt.Sprintf("Expected %q, got %q", TypeSetName, msgType),
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	setName, err := Decode[SetName](payload)
	if err != nil {
		s.reportError(err)
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		s.reportError(fmt.Errorf("clear registration deadline: %w", err))
		return
	}

	peerConnection := NewPeerConnection(conn, ConnectionOptions{
		PeerID:            uuid.NewString(),
		KeepAliveInterval: s.options.KeepAliveInterval,
		KeepAliveTimeout:  s.options.KeepAliveTimeout,
		FrameReadTimeout:  s.options.FrameReadTimeout,
		AutoRespondPing:   true,
	})

	closeConn = false
	select {
	case s.incoming <- Registration{Conn: peerConnection, Name: strings.TrimSpace(setName.Name)}:
	case <-s.closed:
		_ = peerConnection.Close()
	}
}

func (s *Server) sendError(conn net.Conn, message ErrorMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return WriteFrame(conn, payload)
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	// Accept loop shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	select {
	case s.errs <- err:
	default:
	}
}
