package transfer

import (
	"errors"
	"fmt"

	"blinksend/crypto"
	"blinksend/models"
)

var (
	// ErrInvalidChunk indicates a chunk that does not belong to the session or has a bad shape.
	ErrInvalidChunk = errors.New("transfer: invalid chunk")
	// ErrSizeMismatch indicates the assembled byte count differs from the offered size.
	ErrSizeMismatch = errors.New("transfer: assembled size mismatch")
	// ErrChecksumMismatch indicates the assembled content does not hash to the offered checksum.
	ErrChecksumMismatch = errors.New("transfer: checksum mismatch")
)

// Session is the receiver's reassembly state for one accepted offer.
type Session struct {
	Offer models.FileOffer

	chunkSize int
	slots     [][]byte
	filled    []bool
	received  int
	bytes     int64
}

func newSession(offer models.FileOffer, chunkSize int) *Session {
	total := ChunkCount(offer.Size, chunkSize)
	return &Session{
		Offer:     offer,
		chunkSize: chunkSize,
		slots:     make([][]byte, total),
		filled:    make([]bool, total),
	}
}

// Total returns the number of slots.
func (s *Session) Total() int {
	return len(s.slots)
}

// Received returns the number of distinct filled slots.
func (s *Session) Received() int {
	return s.received
}

// Complete reports whether every slot is filled.
func (s *Session) Complete() bool {
	return s.received == len(s.slots)
}

// Progress returns the current receive progress.
func (s *Session) Progress(lastIndex int) Progress {
	return Progress{
		FileID:           s.Offer.FileID,
		PeerID:           s.Offer.From,
		Direction:        DirectionReceive,
		ChunkIndex:       lastIndex,
		ChunksDone:       s.received,
		TotalChunks:      len(s.slots),
		BytesTransferred: s.bytes,
		TotalBytes:       s.Offer.Size,
		Percent:          percentOf(s.received, len(s.slots)),
		Completed:        s.Complete(),
	}
}

// fill stores chunk at its index. It returns false for a duplicate.
func (s *Session) fill(chunk models.Chunk) (bool, error) {
	if chunk.FileID != s.Offer.FileID {
		return false, fmt.Errorf("%w: file id %q", ErrInvalidChunk, chunk.FileID)
	}
	if chunk.Total != len(s.slots) {
		return false, fmt.Errorf("%w: total %d, expected %d", ErrInvalidChunk, chunk.Total, len(s.slots))
	}
	if chunk.Index < 0 || chunk.Index >= len(s.slots) {
		return false, fmt.Errorf("%w: index %d out of range", ErrInvalidChunk, chunk.Index)
	}
	if want := ChunkLength(s.Offer.Size, s.chunkSize, chunk.Index); len(chunk.Bytes) != want {
		return false, fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrInvalidChunk, chunk.Index, len(chunk.Bytes), want)
	}
	if s.filled[chunk.Index] {
		return false, nil
	}

	s.slots[chunk.Index] = chunk.Bytes
	s.filled[chunk.Index] = true
	s.received++
	s.bytes += int64(len(chunk.Bytes))
	return true, nil
}

// assemble concatenates the slots in index order and verifies size and checksum.
func (s *Session) assemble() ([]byte, error) {
	if !s.Complete() {
		return nil, fmt.Errorf("assemble: %d of %d chunks received", s.received, len(s.slots))
	}

	data := make([]byte, 0, s.bytes)
	for _, slot := range s.slots {
		data = append(data, slot...)
	}
	if int64(len(data)) != s.Offer.Size {
		return nil, fmt.Errorf("%w: got %d bytes, offered %d", ErrSizeMismatch, len(data), s.Offer.Size)
	}
	if !crypto.VerifyChecksum(data, s.Offer.Checksum) {
		return nil, ErrChecksumMismatch
	}
	return data, nil
}
