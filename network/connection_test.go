package network

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeConnection(t *testing.T) (*PeerConnection, net.Conn) {
	t.Helper()

	localConn, remoteConn := net.Pipe()
	pc := NewPeerConnection(localConn, ConnectionOptions{
		PeerID:            "peer",
		KeepAliveInterval: time.Hour,
		KeepAliveTimeout:  time.Hour,
		FrameReadTimeout:  250 * time.Millisecond,
		AutoRespondPing:   true,
	})
	t.Cleanup(func() {
		_ = pc.Close()
		_ = remoteConn.Close()
	})
	return pc, remoteConn
}

func TestReceiveMessageSkipsKeepAliveFrames(t *testing.T) {
	pc, remote := newPipeConnection(t)

	ping, err := EncodeJSON(PingMessage{Type: TypePing, Timestamp: 1})
	require.NoError(t, err)
	offer, err := EncodeJSON(FileOffer{Type: TypeFileOffer, From: "a", FileID: "f", Name: "x.bin", Size: 3})
	require.NoError(t, err)

	go func() {
		_ = WriteFrame(remote, ping)
	}()

	// The pong must be drained before the pipe accepts the next write.
	pong, err := ReadFrameWithTimeout(remote, 2*time.Second)
	require.NoError(t, err)
	pongType, err := DecodeMessageType(pong)
	require.NoError(t, err)
	assert.Equal(t, TypePong, pongType)

	go func() {
		_ = WriteFrame(remote, offer)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := pc.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(offer), string(got))
}

func TestSendMessageWritesOneFrame(t *testing.T) {
	pc, remote := newPipeConnection(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- pc.SendMessage(CancelTransfer{Type: TypeCancelTransfer, To: "b", FileID: "f", Reason: "user"})
	}()

	payload, err := ReadFrameWithTimeout(remote, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	msg, err := Decode[CancelTransfer](payload)
	require.NoError(t, err)
	assert.Equal(t, "b", msg.To)
	assert.Equal(t, "user", msg.Reason)
}

func TestRemoteCloseEndsConnection(t *testing.T) {
	pc, remote := newPipeConnection(t)
	require.NoError(t, remote.Close())

	select {
	case <-pc.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection did not observe remote close")
	}

	assert.Equal(t, StateDisconnected, pc.State())
	_, err := pc.ReceiveMessage(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Error(t, pc.SendMessage(PingMessage{Type: TypePing}))
}

func TestPartialFrameTimeoutClosesConnection(t *testing.T) {
	pc, remote := newPipeConnection(t)

	go func() {
		_, _ = remote.Write([]byte{0x00, 0x00, 0x00})
	}()

	select {
	case <-pc.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection kept reading after a truncated frame")
	}
	assert.ErrorIs(t, pc.LastError(), ErrTruncatedFrame)
	assert.Equal(t, StateDisconnected, pc.State())
}
