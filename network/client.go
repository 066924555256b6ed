package network

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// DialOptions configures relay registration and connection behavior.
type DialOptions struct {
	Name              string
	ConnectionTimeout time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	FrameReadTimeout  time.Duration
}

// RemoteError is an error frame returned by the relay during registration.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error [%s]: %s", e.Code, e.Message)
}

// Dial connects to a relay, registers the display name and returns the
// ready connection together with the relay-assigned identity.
func Dial(address string, options DialOptions) (*PeerConnection, Welcome, error) {
	if options.Name == "" {
		return nil, Welcome{}, errors.New("display name is required")
	}
	timeout := options.ConnectionTimeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, Welcome{}, fmt.Errorf("dial %q: %w", address, err)
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("set registration deadline: %w", err)
	}

	payload, err := EncodeJSON(SetName{Type: TypeSetName, Name: options.Name})
	if err != nil {
		_ = conn.Close()
		return nil, Welcome{}, err
	}
	if err := WriteFrame(conn, payload); err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("send set_name: %w", err)
	}

	responsePayload, err := ReadFrameWithTimeout(conn, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("read welcome: %w", err)
	}

	msgType, err := DecodeMessageType(responsePayload)
	if err != nil {
		_ = conn.Close()
		return nil, Welcome{}, err
	}
	if msgType == TypeError {
		remoteErr, err := Decode[ErrorMessage](responsePayload)
		_ = conn.Close()
		if err != nil {
			return nil, Welcome{}, fmt.Errorf("decode remote error response: %w", err)
		}
		return nil, Welcome{}, &RemoteError{Code: remoteErr.Code, Message: remoteErr.Message}
	}
	if msgType != TypeWelcome {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("expected %q, got %q", TypeWelcome, msgType)
	}

	welcome, err := Decode[Welcome](responsePayload)
	if err != nil {
		_ = conn.Close()
		return nil, Welcome{}, err
	}
	if welcome.ID == "" {
		_ = conn.Close()
		return nil, Welcome{}, errors.New("relay assigned an empty peer id")
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("clear registration deadline: %w", err)
	}

	connection := NewPeerConnection(conn, ConnectionOptions{
		KeepAliveInterval: options.KeepAliveInterval,
		KeepAliveTimeout:  options.KeepAliveTimeout,
		FrameReadTimeout:  options.FrameReadTimeout,
		AutoRespondPing:   true,
	})

	return connection, welcome, nil
}
