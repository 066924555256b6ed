package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _, err := Open(t.TempDir())
	require.NoError(t, err, "open test store")
	t.Cleanup(func() {
		require.NoError(t, store.Close(), "close test store")
	})

	return store
}

func mustSaveTransfer(t *testing.T, store *Store, fileID, direction, peerID string) TransferRecord {
	t.Helper()

	record := TransferRecord{
		FileID:    fileID,
		Direction: direction,
		PeerID:    peerID,
		PeerName:  "name-" + peerID,
		Filename:  fileID + ".bin",
		Filesize:  1024,
		Checksum:  "checksum-" + fileID,
	}
	require.NoError(t, store.SaveTransfer(record), "save transfer %q", fileID)
	return record
}
