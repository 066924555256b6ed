package network

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"ping","timestamp":1}`)

	var buffer bytes.Buffer
	require.NoError(t, WriteFrame(&buffer, payload))

	got, err := ReadFrame(&buffer)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxFrameSize+1)
	var buffer bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buffer, payload), ErrFrameTooLarge)
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(buffer)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeMessageType(t *testing.T) {
	msgType, err := DecodeMessageType([]byte(`{"type":"file_offer","from":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeFileOffer, msgType)

	_, err = DecodeMessageType([]byte(`{"from":"a"}`))
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	_, err = DecodeMessageType([]byte(`not json`))
	assert.Error(t, err)
}

func TestFileChunkCarriesRawBytes(t *testing.T) {
	chunk := []byte{0x00, 0xff, 0x10, 0x80}
	payload, err := EncodeJSON(FileChunk{
		Type:   TypeFileChunk,
		To:     "peer-b",
		FileID: "file-1",
		Chunk:  chunk,
		Index:  2,
		Total:  3,
	})
	require.NoError(t, err)

	decoded, err := Decode[FileChunk](payload)
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded.Chunk)
	assert.Equal(t, 2, decoded.Index)
	assert.Equal(t, 3, decoded.Total)
	assert.Empty(t, decoded.From, "clients never send from")
}

func TestReadFrameWithTimeoutSeparatesIdleFromTruncated(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	_, err := ReadFrameWithTimeout(local, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, isTimeout(err), "idle read is a plain timeout")
	assert.NotErrorIs(t, err, ErrTruncatedFrame)

	go func() {
		_, _ = remote.Write([]byte{0x00, 0x00})
	}()
	_, err = ReadFrameWithTimeout(local, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrTruncatedFrame)
	assert.False(t, isTimeout(err), "mid-frame timeout must not be retried")
}
