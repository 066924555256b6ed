package network

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialRegistersNameAndReceivesWelcome(t *testing.T) {
	server, err := Listen("127.0.0.1:0", ServerOptions{ConnectionTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer server.Close()

	type dialResult struct {
		conn    *PeerConnection
		welcome Welcome
		err     error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, welcome, err := Dial(server.Addr().String(), DialOptions{Name: "alice", ConnectionTimeout: 2 * time.Second})
		resultCh <- dialResult{conn: conn, welcome: welcome, err: err}
	}()

	var registration Registration
	select {
	case registration = <-server.Incoming():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for registration")
	}
	assert.Equal(t, "alice", registration.Name)
	assert.NotEmpty(t, registration.Conn.PeerID())

	require.NoError(t, registration.Conn.SendMessage(Welcome{
		Type: TypeWelcome,
		ID:   registration.Conn.PeerID(),
		Name: registration.Name,
	}))

	result := <-resultCh
	require.NoError(t, result.err)
	defer result.conn.Close()
	defer registration.Conn.Close()
	assert.Equal(t, registration.Conn.PeerID(), result.welcome.ID)
	assert.Equal(t, "alice", result.welcome.Name)
}

func TestServerRejectsUnregisteredFirstFrame(t *testing.T) {
	server, err := Listen("127.0.0.1:0", ServerOptions{ConnectionTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer server.Close()

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	payload, err := json.Marshal(PingMessage{Type: TypePing, Timestamp: 1})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, payload))

	response, err := ReadFrameWithTimeout(conn, 2*time.Second)
	require.NoError(t, err)
	msg, err := Decode[ErrorMessage](response)
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeInvalidMessage, msg.Code)
}

func TestDialSurfacesRemoteError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := ReadFrame(conn); err != nil {
			return
		}
		payload, _ := EncodeJSON(ErrorMessage{Type: TypeError, Code: "full", Message: "relay is full"})
		_ = WriteFrame(conn, payload)
	}()

	_, _, err = Dial(listener.Addr().String(), DialOptions{Name: "bob", ConnectionTimeout: 2 * time.Second})
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr), "got %v", err)
	assert.Equal(t, "full", remoteErr.Code)
}

func TestDialRequiresName(t *testing.T) {
	_, _, err := Dial("127.0.0.1:1", DialOptions{})
	assert.Error(t, err)
}
