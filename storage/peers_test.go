package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertPeer(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertPeer("peer-1", "alice", 1000))
	require.NoError(t, store.UpsertPeer("peer-1", " alice-laptop ", 2000))
	require.NoError(t, store.UpsertPeer("peer-1", "alice-laptop", 1500))

	peer, err := store.GetPeer("peer-1")
	require.NoError(t, err)
	assert.Equal(t, "alice-laptop", peer.Name)
	assert.Equal(t, int64(1000), peer.FirstSeen)
	assert.Equal(t, int64(2000), peer.LastSeen, "last_seen never moves backwards")
}

func TestUpsertPeerValidation(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.UpsertPeer("", "alice", 0))
	assert.Error(t, store.UpsertPeer("peer-1", "  ", 0))
}

func TestListPeersOrdersByLastSeen(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertPeer("peer-old", "old", 1000))
	require.NoError(t, store.UpsertPeer("peer-new", "new", 3000))
	require.NoError(t, store.UpsertPeer("peer-mid", "mid", 2000))

	peers, err := store.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 3)
	assert.Equal(t, "peer-new", peers[0].PeerID)
	assert.Equal(t, "peer-mid", peers[1].PeerID)
	assert.Equal(t, "peer-old", peers[2].PeerID)
}

func TestGetPeerNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPeer("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
