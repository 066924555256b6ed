package transfer

import (
	"errors"
	"fmt"

	"blinksend/models"
)

var (
	// ErrNoSession indicates a chunk arrived with no session open.
	ErrNoSession = errors.New("transfer: no active session")
)

// CompletedFile is the reassembled content of a finished transfer.
type CompletedFile struct {
	Offer models.FileOffer
	Data  []byte
}

// IngestResult describes the effect of one Ingest call.
type IngestResult struct {
	Duplicate bool
	Progress  Progress
	// File is set once the last missing slot is filled.
	File *CompletedFile
}

// Assembler owns at most one receive Session. It is not safe for concurrent
// use; Negotiator serialises access.
type Assembler struct {
	chunkSize int
	session   *Session
}

// NewAssembler creates an assembler for chunkSize-byte chunks.
func NewAssembler(chunkSize int) *Assembler {
	return &Assembler{chunkSize: normalizeChunkSize(chunkSize)}
}

// Begin preallocates the slot array for offer, replacing any prior session.
// The offer's chunk size wins over the assembler default when set.
func (a *Assembler) Begin(offer models.FileOffer) *Session {
	chunkSize := a.chunkSize
	if offer.ChunkSize > 0 {
		chunkSize = offer.ChunkSize
	}
	a.session = newSession(offer, chunkSize)
	return a.session
}

// Active returns the open session, if any.
func (a *Assembler) Active() *Session {
	return a.session
}

// Ingest stores one chunk. Duplicates are reported and never double counted.
// When the session completes the assembled file is returned and the
// session is cleared, even if verification fails.
func (a *Assembler) Ingest(chunk models.Chunk) (IngestResult, error) {
	if a.session == nil {
		return IngestResult{}, ErrNoSession
	}

	added, err := a.session.fill(chunk)
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{
		Duplicate: !added,
		Progress:  a.session.Progress(chunk.Index),
	}
	if !added || !a.session.Complete() {
		return result, nil
	}

	file, err := a.Finalize()
	if err != nil {
		return result, err
	}
	result.File = file
	return result, nil
}

// Finalize assembles a complete session and clears it.
func (a *Assembler) Finalize() (*CompletedFile, error) {
	if a.session == nil {
		return nil, ErrNoSession
	}
	session := a.session
	if !session.Complete() {
		return nil, fmt.Errorf("finalize: %d of %d chunks received", session.Received(), session.Total())
	}

	a.session = nil
	data, err := session.assemble()
	if err != nil {
		return nil, err
	}
	return &CompletedFile{Offer: session.Offer, Data: data}, nil
}

// Abort discards the open session.
func (a *Assembler) Abort() {
	a.session = nil
}
