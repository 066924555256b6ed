package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinksend/models"
	"blinksend/storage"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestRenderProgressBarClamps(t *testing.T) {
	assert.Contains(t, renderProgressBar(-5, 10), "0.0%")
	assert.Contains(t, renderProgressBar(150, 10), "100.0%")

	half := renderProgressBar(50, 10)
	assert.Equal(t, 5, strings.Count(half, "█"))
	assert.Equal(t, 5, strings.Count(half, "░"))
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		16384:           "16.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatBytes(in))
	}
}

func TestIsYes(t *testing.T) {
	for _, answer := range []string{"y", "Y", " yes ", "YES"} {
		assert.True(t, isYes(answer), answer)
	}
	for _, answer := range []string{"", "n", "no", "yep"} {
		assert.False(t, isYes(answer), answer)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Empty(t, firstNonEmpty("", " "))
}

func TestRenderPeersTable(t *testing.T) {
	rendered := renderPeersTable([]models.Peer{
		{ID: "id-1", Name: "alice"},
		{ID: "id-2"},
	})
	assert.Contains(t, rendered, "alice")
	assert.Contains(t, rendered, "id-1")
	assert.Contains(t, rendered, "id-2")
}

func TestVersionCommand(t *testing.T) {
	assert.Contains(t, runCLI(t, "version"), Version)
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	assert.Contains(t, runCLI(t, "--data-dir", dir, "history"), "No transfers yet")

	store, _, err := storage.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveTransfer(storage.TransferRecord{
		FileID:    "file-1",
		Direction: storage.DirectionReceive,
		PeerID:    "peer-1",
		PeerName:  "alice",
		Filename:  "report.pdf",
		Filesize:  2048,
		Checksum:  "abcdef0123456789abcdef",
	}))
	require.NoError(t, store.UpdateTransferStatus("file-1", storage.DirectionReceive, storage.TransferStatusFailed, "verification failed"))
	require.NoError(t, store.Close())

	out := runCLI(t, "--data-dir", dir, "history")
	assert.Contains(t, out, "report.pdf")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "failed (verification failed)")
	assert.Contains(t, out, "ABCD EF01")
}
