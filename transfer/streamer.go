package transfer

import (
	"context"
	"errors"
	"fmt"

	"blinksend/network"
)

var (
	// ErrReadFailed indicates a chunk could not be read from the source.
	ErrReadFailed = errors.New("transfer: read failed")
)

// Transport sends one protocol message. *network.PeerConnection satisfies it.
type Transport interface {
	SendMessage(message any) error
}

// Streamer pushes a source as ordered file_chunk messages, one in flight.
type Streamer struct {
	transport Transport
	chunkSize int
}

// NewStreamer creates a streamer writing chunkSize-byte chunks to transport.
func NewStreamer(transport Transport, chunkSize int) *Streamer {
	return &Streamer{
		transport: transport,
		chunkSize: normalizeChunkSize(chunkSize),
	}
}

// Send streams src to peer to in index order. The next chunk is read only
// after the previous one was handed to the transport. onProgress may be nil.
func (s *Streamer) Send(ctx context.Context, src *Source, fileID, to string, onProgress func(Progress)) error {
	total := ChunkCount(src.Size, s.chunkSize)
	var sent int64

	for index := 0; index < total; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := src.ReadChunk(index, s.chunkSize)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReadFailed, err)
		}

		if err := s.transport.SendMessage(network.FileChunk{
			Type:   network.TypeFileChunk,
			To:     to,
			FileID: fileID,
			Chunk:  data,
			Index:  index,
			Total:  total,
		}); err != nil {
			return fmt.Errorf("send chunk %d: %w", index, err)
		}

		sent += int64(len(data))
		if onProgress != nil {
			onProgress(Progress{
				FileID:           fileID,
				PeerID:           to,
				Direction:        DirectionSend,
				ChunkIndex:       index,
				ChunksDone:       index + 1,
				TotalChunks:      total,
				BytesTransferred: sent,
				TotalBytes:       src.Size,
				Percent:          percentOf(index+1, total),
				Completed:        index == total-1,
			})
		}
	}

	return nil
}
