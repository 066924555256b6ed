package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"blinksend/models"
	"blinksend/network"
)

type testPeer struct {
	conn    *network.PeerConnection
	welcome network.Welcome
}

func startRelay(t *testing.T) *Relay {
	t.Helper()
	r := New(Options{
		ListenAddress: "127.0.0.1:0",
		Logger:        zaptest.NewLogger(t),
		Server:        network.ServerOptions{ConnectionTimeout: 2 * time.Second},
	})
	require.NoError(t, r.Start())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func connectPeer(t *testing.T, r *Relay, name string) *testPeer {
	t.Helper()
	conn, welcome, err := network.Dial(r.Addr().String(), network.DialOptions{
		Name:              name,
		ConnectionTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testPeer{conn: conn, welcome: welcome}
}

// next returns the next message of msgType, skipping others.
func next[T any](t *testing.T, p *testPeer, msgType string) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		payload, err := p.conn.ReceiveMessage(ctx)
		require.NoError(t, err, "waiting for %s", msgType)
		got, err := network.DecodeMessageType(payload)
		require.NoError(t, err)
		if got != msgType {
			continue
		}
		msg, err := network.Decode[T](payload)
		require.NoError(t, err)
		return msg
	}
}

// rosterMatching waits for a users broadcast satisfying match.
func rosterMatching(t *testing.T, p *testPeer, match func([]models.Peer) bool) []models.Peer {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		users := next[network.Users](t, p, network.TypeUsers)
		if match(users.Users) {
			return users.Users
		}
	}
	t.Fatalf("no matching roster")
	return nil
}

func ids(peers []models.Peer) []string {
	out := make([]string, 0, len(peers))
	for _, peer := range peers {
		out = append(out, peer.ID)
	}
	return out
}

func TestRosterExcludesSelf(t *testing.T) {
	r := startRelay(t)
	alice := connectPeer(t, r, "alice")
	bob := connectPeer(t, r, "bob")

	assert.NotEqual(t, alice.welcome.ID, bob.welcome.ID)

	aliceView := rosterMatching(t, alice, func(p []models.Peer) bool { return len(p) == 1 })
	assert.Equal(t, []string{bob.welcome.ID}, ids(aliceView))
	assert.Equal(t, "bob", aliceView[0].Name)

	bobView := rosterMatching(t, bob, func(p []models.Peer) bool { return len(p) == 1 })
	assert.Equal(t, []string{alice.welcome.ID}, ids(bobView))

	assert.Len(t, r.Peers(), 2)
}

func TestNameNormalization(t *testing.T) {
	r := startRelay(t)

	blank := connectPeer(t, r, "   ")
	assert.Equal(t, "peer-"+blank.welcome.ID[:8], blank.welcome.Name)

	long := connectPeer(t, r, "  "+strings.Repeat("é", MaxNameLength+10)+"  ")
	assert.Equal(t, strings.Repeat("é", MaxNameLength), long.welcome.Name)
}

func TestSetNameRebroadcasts(t *testing.T) {
	r := startRelay(t)
	alice := connectPeer(t, r, "alice")
	bob := connectPeer(t, r, "bob")
	rosterMatching(t, alice, func(p []models.Peer) bool { return len(p) == 1 })

	require.NoError(t, bob.conn.SendMessage(network.SetName{Type: network.TypeSetName, Name: " robert "}))

	view := rosterMatching(t, alice, func(p []models.Peer) bool {
		return len(p) == 1 && p[0].Name == "robert"
	})
	assert.Equal(t, bob.welcome.ID, view[0].ID)
}

func TestForwardingStampsSenderIdentity(t *testing.T) {
	r := startRelay(t)
	alice := connectPeer(t, r, "alice")
	bob := connectPeer(t, r, "bob")

	require.NoError(t, alice.conn.SendMessage(network.SendFileOffer{
		Type:     network.TypeSendFileOffer,
		To:       bob.welcome.ID,
		FileID:   "file-1",
		Name:     "notes.txt",
		Size:     3,
		Checksum: "abc",
	}))
	offer := next[network.FileOffer](t, bob, network.TypeFileOffer)
	assert.Equal(t, alice.welcome.ID, offer.From)
	assert.Equal(t, "notes.txt", offer.Name)
	assert.Equal(t, int64(3), offer.Size)
	assert.Equal(t, "abc", offer.Checksum)

	require.NoError(t, bob.conn.SendMessage(network.AcceptFile{
		Type:   network.TypeAcceptFile,
		From:   alice.welcome.ID,
		FileID: "file-1",
	}))
	accepted := next[network.FileAccepted](t, alice, network.TypeFileAccepted)
	assert.Equal(t, bob.welcome.ID, accepted.To)
	assert.Equal(t, "file-1", accepted.FileID)

	before := testutil.ToFloat64(chunkBytesForwarded)
	require.NoError(t, alice.conn.SendMessage(network.FileChunk{
		Type:   network.TypeFileChunk,
		To:     bob.welcome.ID,
		From:   "mallory",
		FileID: "file-1",
		Chunk:  []byte("abc"),
		Index:  0,
		Total:  1,
	}))
	chunk := next[network.FileChunk](t, bob, network.TypeFileChunk)
	assert.Equal(t, alice.welcome.ID, chunk.From, "client supplied from is ignored")
	assert.Empty(t, chunk.To)
	assert.Equal(t, []byte("abc"), chunk.Chunk)
	assert.Equal(t, before+3, testutil.ToFloat64(chunkBytesForwarded))

	require.NoError(t, bob.conn.SendMessage(network.RejectFile{
		Type:   network.TypeRejectFile,
		From:   alice.welcome.ID,
		FileID: "file-2",
		Reason: "busy",
	}))
	rejected := next[network.FileRejected](t, alice, network.TypeFileRejected)
	assert.Equal(t, bob.welcome.ID, rejected.From)
	assert.Equal(t, "busy", rejected.Reason)

	require.NoError(t, bob.conn.SendMessage(network.CancelTransfer{
		Type:   network.TypeCancelTransfer,
		To:     alice.welcome.ID,
		FileID: "file-1",
		Reason: "stop",
	}))
	cancelled := next[network.CancelTransfer](t, alice, network.TypeCancelTransfer)
	assert.Equal(t, bob.welcome.ID, cancelled.From)
	assert.Equal(t, "stop", cancelled.Reason)
}

func TestUnknownTargetReturnsPeerNotFound(t *testing.T) {
	r := startRelay(t)
	alice := connectPeer(t, r, "alice")

	before := testutil.ToFloat64(forwardErrors.WithLabelValues(network.ErrorCodePeerNotFound))
	require.NoError(t, alice.conn.SendMessage(network.SendFileOffer{
		Type:   network.TypeSendFileOffer,
		To:     "nobody",
		FileID: "file-9",
		Name:   "a",
		Size:   1,
	}))

	msg := next[network.ErrorMessage](t, alice, network.TypeError)
	assert.Equal(t, network.ErrorCodePeerNotFound, msg.Code)
	assert.Equal(t, "file-9", msg.RelatedFileID)
	assert.Equal(t, before+1, testutil.ToFloat64(forwardErrors.WithLabelValues(network.ErrorCodePeerNotFound)))
}

func TestUnsupportedMessageReturnsInvalidMessage(t *testing.T) {
	r := startRelay(t)
	alice := connectPeer(t, r, "alice")

	require.NoError(t, alice.conn.SendMessage(network.Users{Type: network.TypeUsers}))
	msg := next[network.ErrorMessage](t, alice, network.TypeError)
	assert.Equal(t, network.ErrorCodeInvalidMessage, msg.Code)
}

func TestDisconnectRebroadcastsRoster(t *testing.T) {
	r := startRelay(t)
	alice := connectPeer(t, r, "alice")
	bob := connectPeer(t, r, "bob")
	rosterMatching(t, alice, func(p []models.Peer) bool { return len(p) == 1 })

	require.NoError(t, bob.conn.Close())

	rosterMatching(t, alice, func(p []models.Peer) bool { return len(p) == 0 })
	require.Eventually(t, func() bool { return len(r.Peers()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, alice.welcome.ID, r.Peers()[0].ID)
}
