package transfer

import (
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"blinksend/network"
)

type recordingTransport struct {
	mu        sync.Mutex
	messages  []any
	err       error
	// chunkGate, when set, holds every file_chunk send until it is closed.
	chunkGate chan struct{}
}

func (r *recordingTransport) SendMessage(message any) error {
	if _, ok := message.(network.FileChunk); ok && r.chunkGate != nil {
		<-r.chunkGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingTransport) drain() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.messages
	r.messages = nil
	return out
}

func (r *recordingTransport) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.messages...)
}

func messagesOf[T any](messages []any) []T {
	var out []T
	for _, message := range messages {
		if typed, ok := message.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func randomBytes(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// relayForward rewrites a message the way the relay does before delivery.
func relayForward(t *testing.T, message any, from string) any {
	t.Helper()
	switch msg := message.(type) {
	case network.SendFileOffer:
		return network.FileOffer{
			Type:      network.TypeFileOffer,
			From:      from,
			FileID:    msg.FileID,
			Name:      msg.Name,
			Size:      msg.Size,
			Checksum:  msg.Checksum,
			ChunkSize: msg.ChunkSize,
		}
	case network.AcceptFile:
		return network.FileAccepted{Type: network.TypeFileAccepted, To: from, FileID: msg.FileID}
	case network.RejectFile:
		return network.FileRejected{Type: network.TypeFileRejected, From: from, FileID: msg.FileID, Reason: msg.Reason}
	case network.FileChunk:
		msg.From = from
		msg.To = ""
		return msg
	case network.CancelTransfer:
		msg.From = from
		msg.To = ""
		return msg
	default:
		t.Fatalf("unexpected message %T", message)
		return nil
	}
}

func deliver(t *testing.T, n *Negotiator, message any) {
	t.Helper()
	switch msg := message.(type) {
	case network.FileOffer:
		n.HandleFileOffer(msg)
	case network.FileAccepted:
		n.HandleFileAccepted(msg)
	case network.FileRejected:
		n.HandleFileRejected(msg)
	case network.FileChunk:
		n.HandleFileChunk(msg)
	case network.CancelTransfer:
		n.HandleCancel(msg)
	case network.ErrorMessage:
		n.HandleError(msg)
	default:
		t.Fatalf("cannot deliver %T", message)
	}
}

// pump forwards every queued message from src (sent by peer from) into dst.
func pump(t *testing.T, src *recordingTransport, from string, dst *Negotiator) int {
	t.Helper()
	messages := src.drain()
	for _, message := range messages {
		deliver(t, dst, relayForward(t, message, from))
	}
	return len(messages)
}

type failingReaderAt struct {
	failAt int64
	data   []byte
}

func (f *failingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.failAt {
		return 0, errors.New("disk gone")
	}
	return copy(p, f.data[off:]), nil
}
