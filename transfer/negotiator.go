package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blinksend/models"
	"blinksend/network"
)

var (
	// ErrNoTarget indicates Offer was called without a target peer.
	ErrNoTarget = errors.New("transfer: no target peer selected")
	// ErrNoFile indicates Offer was called without an open source.
	ErrNoFile = errors.New("transfer: no file selected")
	// ErrSenderBusy indicates an outgoing offer or stream is already active.
	ErrSenderBusy = errors.New("transfer: outgoing transfer already active")
	// ErrNoPendingOffer indicates Respond was called with no matching pending offer.
	ErrNoPendingOffer = errors.New("transfer: no pending offer")
	// ErrNothingToCancel indicates Cancel was called with no active transfer.
	ErrNothingToCancel = errors.New("transfer: nothing to cancel")
	// ErrInvalidOffer indicates an inbound offer with a malformed field.
	ErrInvalidOffer = errors.New("transfer: invalid offer")
	// ErrOfferTooLarge indicates an inbound offer above the configured size limit.
	ErrOfferTooLarge = errors.New("transfer: offer too large")
)

// Reasons carried by reject_file and cancel_transfer.
const (
	ReasonDeclined           = "declined"
	ReasonBusy               = "busy"
	ReasonFileUnavailable    = "file unavailable"
	ReasonReadFailed         = "read failed"
	ReasonPeerDisconnected   = "peer disconnected"
	ReasonPeerNotFound       = "peer not found"
	ReasonVerificationFailed = "verification failed"
	ReasonCancelled          = "cancelled"
	ReasonInvalidOffer       = "invalid offer"
	ReasonTooLarge           = "file too large"
)

const (
	// DefaultMaxFileSize bounds incoming offers; the receiver holds the file in memory.
	DefaultMaxFileSize int64 = 1 << 30

	// MaxChunkSize keeps one base64 file_chunk under network.MaxFrameSize.
	MaxChunkSize = 4 << 20

	// MaxChunks bounds the receive slot array whatever chunk size is offered.
	MaxChunks = 1 << 20
)

// Cancellation describes a transfer that ended before completion.
type Cancellation struct {
	Offer     models.FileOffer
	Direction Direction
	Reason    string
	// Remote is true when the counterpart or the relay ended the transfer.
	Remote bool
}

// Options configures a Negotiator. Callbacks run on the caller's goroutine
// (the dispatch loop) or the stream goroutine, never under the internal lock.
type Options struct {
	ChunkSize int

	// MaxFileSize is the largest offer accepted for download. Larger offers
	// are auto-rejected with ReasonTooLarge.
	MaxFileSize int64
	Logger      *zap.Logger

	OnOffered   func(offer models.FileOffer)
	OnOffer     func(offer models.FileOffer)
	OnAccepted  func(offer models.FileOffer)
	OnRejected  func(offer models.FileOffer, reason string)
	OnProgress  func(progress Progress)
	OnComplete  func(file CompletedFile)
	OnSent      func(offer models.FileOffer)
	OnCancelled func(cancellation Cancellation)
	OnError     func(err error)
}

func (o Options) withDefaults() Options {
	o.ChunkSize = normalizeChunkSize(o.ChunkSize)
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type outgoingTransfer struct {
	offer     models.FileOffer
	source    *Source
	cancel    context.CancelFunc
	streaming bool
}

// Negotiator runs the offer/accept handshake for one outgoing and one
// incoming transfer at a time and drives the Streamer and Assembler.
type Negotiator struct {
	transport Transport
	options   Options
	logger    *zap.Logger
	streamer  *Streamer

	mu        sync.Mutex
	state     State
	incoming  *models.FileOffer
	assembler *Assembler
	outgoing  *outgoingTransfer

	wg sync.WaitGroup
}

// NewNegotiator creates a negotiator sending over transport.
func NewNegotiator(transport Transport, options Options) *Negotiator {
	options = options.withDefaults()
	return &Negotiator{
		transport: transport,
		options:   options,
		logger:    options.Logger,
		streamer:  NewStreamer(transport, options.ChunkSize),
		state:     StateIdle,
		assembler: NewAssembler(options.ChunkSize),
	}
}

// State returns the receiver-side state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// PendingOffer returns the incoming offer awaiting a response, if any.
func (n *Negotiator) PendingOffer() (models.FileOffer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateOfferPending || n.incoming == nil {
		return models.FileOffer{}, false
	}
	return *n.incoming, true
}

// Outgoing returns the active outgoing offer, if any.
func (n *Negotiator) Outgoing() (models.FileOffer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outgoing == nil {
		return models.FileOffer{}, false
	}
	return n.outgoing.offer, true
}

// Offer proposes src to peer to and returns the minted file id. The
// negotiator takes ownership of src and closes it when the transfer ends.
func (n *Negotiator) Offer(src *Source, to string) (string, error) {
	if to == "" {
		return "", ErrNoTarget
	}
	if !src.Available() {
		return "", ErrNoFile
	}

	n.mu.Lock()
	if n.outgoing != nil {
		n.mu.Unlock()
		return "", ErrSenderBusy
	}
	offer := models.FileOffer{
		FileID:    uuid.NewString(),
		Name:      src.Name,
		Size:      src.Size,
		Checksum:  src.Checksum,
		ChunkSize: n.options.ChunkSize,
		To:        to,
	}
	out := &outgoingTransfer{offer: offer, source: src}
	n.outgoing = out
	n.mu.Unlock()

	if n.options.OnOffered != nil {
		n.options.OnOffered(offer)
	}
	if err := n.transport.SendMessage(network.SendFileOffer{
		Type:      network.TypeSendFileOffer,
		To:        to,
		FileID:    offer.FileID,
		Name:      offer.Name,
		Size:      offer.Size,
		Checksum:  offer.Checksum,
		ChunkSize: offer.ChunkSize,
	}); err != nil {
		n.clearOutgoing(out)
		return "", fmt.Errorf("send file offer: %w", err)
	}

	n.logger.Info("file offered",
		zap.String("file_id", offer.FileID),
		zap.String("to", to),
		zap.String("name", offer.Name),
		zap.Int64("size", offer.Size),
	)
	return offer.FileID, nil
}

// Respond accepts or rejects the pending offer from peer from.
func (n *Negotiator) Respond(from string, accept bool) error {
	n.mu.Lock()
	if n.state != StateOfferPending || n.incoming == nil || n.incoming.From != from {
		n.mu.Unlock()
		return ErrNoPendingOffer
	}
	offer := *n.incoming

	if !accept {
		n.state, _ = n.state.Transition(StateRejected)
		n.incoming = nil
		n.state, _ = n.state.Transition(StateIdle)
		n.mu.Unlock()

		n.logger.Info("file rejected", zap.String("file_id", offer.FileID), zap.String("from", from))
		if err := n.transport.SendMessage(network.RejectFile{
			Type:   network.TypeRejectFile,
			From:   from,
			FileID: offer.FileID,
			Reason: ReasonDeclined,
		}); err != nil {
			return fmt.Errorf("send reject: %w", err)
		}
		return nil
	}

	next, err := n.state.Transition(StateStreaming)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	n.state = next
	session := n.assembler.Begin(offer)

	var completed *CompletedFile
	var finalizeErr error
	if session.Complete() {
		completed, finalizeErr = n.assembler.Finalize()
		n.state = StateIdle
		n.incoming = nil
	}
	n.mu.Unlock()

	n.logger.Info("file accepted",
		zap.String("file_id", offer.FileID),
		zap.String("from", from),
		zap.Int("chunks", session.Total()),
	)
	if err := n.transport.SendMessage(network.AcceptFile{
		Type:   network.TypeAcceptFile,
		From:   from,
		FileID: offer.FileID,
	}); err != nil {
		n.abortIncoming(offer.FileID)
		return fmt.Errorf("send accept: %w", err)
	}

	if finalizeErr != nil {
		n.reportError(fmt.Errorf("finalize %s: %w", offer.FileID, finalizeErr))
		return nil
	}
	if completed != nil {
		n.emitProgress(session.Progress(-1))
		if n.options.OnComplete != nil {
			n.options.OnComplete(*completed)
		}
	}
	return nil
}

// Cancel aborts every active transfer and tells the counterparts.
func (n *Negotiator) Cancel(reason string) error {
	if reason == "" {
		reason = ReasonCancelled
	}

	n.mu.Lock()
	out := n.outgoing
	n.outgoing = nil
	if out != nil && out.cancel != nil {
		out.cancel()
	}

	var incoming *models.FileOffer
	if n.incoming != nil {
		offer := *n.incoming
		incoming = &offer
		n.assembler.Abort()
		n.incoming = nil
		n.state = StateIdle
	}
	n.mu.Unlock()

	if out == nil && incoming == nil {
		return ErrNothingToCancel
	}

	var errs []error
	if out != nil {
		_ = out.source.Close()
		if err := n.sendCancel(out.offer.To, out.offer.FileID, reason); err != nil {
			errs = append(errs, err)
		}
		n.emitCancelled(Cancellation{Offer: out.offer, Direction: DirectionSend, Reason: reason})
	}
	if incoming != nil {
		if err := n.sendCancel(incoming.From, incoming.FileID, reason); err != nil {
			errs = append(errs, err)
		}
		n.emitCancelled(Cancellation{Offer: *incoming, Direction: DirectionReceive, Reason: reason})
	}
	return errors.Join(errs...)
}

// PeerGone cancels any transfer whose counterpart left the roster.
func (n *Negotiator) PeerGone(peerID string) {
	n.mu.Lock()
	var out *outgoingTransfer
	if n.outgoing != nil && n.outgoing.offer.To == peerID {
		out = n.outgoing
		n.outgoing = nil
		if out.cancel != nil {
			out.cancel()
		}
	}

	var incoming *models.FileOffer
	if n.incoming != nil && n.incoming.From == peerID {
		offer := *n.incoming
		incoming = &offer
		n.assembler.Abort()
		n.incoming = nil
		n.state = StateIdle
	}
	n.mu.Unlock()

	if out != nil {
		_ = out.source.Close()
		n.logger.Warn("transfer peer disconnected", zap.String("file_id", out.offer.FileID), zap.String("peer_id", peerID))
		n.emitCancelled(Cancellation{Offer: out.offer, Direction: DirectionSend, Reason: ReasonPeerDisconnected, Remote: true})
	}
	if incoming != nil {
		n.logger.Warn("transfer peer disconnected", zap.String("file_id", incoming.FileID), zap.String("peer_id", peerID))
		n.emitCancelled(Cancellation{Offer: *incoming, Direction: DirectionReceive, Reason: ReasonPeerDisconnected, Remote: true})
	}
}

// HandleFileOffer processes an inbound offer. A second offer while one is
// pending or streaming is rejected with ReasonBusy. Offers with a malformed
// file id or chunk size, or above MaxFileSize, are rejected before they
// reach the pending slot.
func (n *Negotiator) HandleFileOffer(msg network.FileOffer) {
	offer := models.FileOffer{
		FileID:    msg.FileID,
		Name:      msg.Name,
		Size:      msg.Size,
		Checksum:  msg.Checksum,
		ChunkSize: msg.ChunkSize,
		From:      msg.From,
	}
	if offer.ChunkSize == 0 {
		offer.ChunkSize = ChunkSize
	}

	if offer.From == "" {
		n.reportError(fmt.Errorf("file offer %q without sender", msg.FileID))
		return
	}
	if reason, err := n.screenOffer(offer); err != nil {
		n.logger.Warn("refusing file offer",
			zap.String("file_id", offer.FileID),
			zap.String("from", offer.From),
			zap.String("reason", reason),
			zap.Error(err),
		)
		n.sendReject(offer, reason)
		n.reportError(err)
		return
	}

	n.mu.Lock()
	next, err := n.state.Transition(StateOfferPending)
	if err != nil {
		n.mu.Unlock()
		n.logger.Info("rejecting offer while busy",
			zap.String("file_id", offer.FileID),
			zap.String("from", offer.From),
		)
		n.sendReject(offer, ReasonBusy)
		return
	}
	n.state = next
	n.incoming = &offer
	n.mu.Unlock()

	n.logger.Info("file offer received",
		zap.String("file_id", offer.FileID),
		zap.String("from", offer.From),
		zap.String("name", offer.Name),
		zap.Int64("size", offer.Size),
	)
	if n.options.OnOffer != nil {
		n.options.OnOffer(offer)
	}
}

// screenOffer checks the peer-supplied fields that size the receive session
// and name the download.
func (n *Negotiator) screenOffer(offer models.FileOffer) (string, error) {
	if _, err := uuid.Parse(offer.FileID); err != nil {
		return ReasonInvalidOffer, fmt.Errorf("%w: file id %q", ErrInvalidOffer, offer.FileID)
	}
	if offer.Size < 0 {
		return ReasonInvalidOffer, fmt.Errorf("%w: size %d", ErrInvalidOffer, offer.Size)
	}
	if offer.ChunkSize < 0 || offer.ChunkSize > MaxChunkSize {
		return ReasonInvalidOffer, fmt.Errorf("%w: chunk size %d", ErrInvalidOffer, offer.ChunkSize)
	}
	if offer.Size > n.options.MaxFileSize {
		return ReasonTooLarge, fmt.Errorf("%w: %d bytes, limit %d", ErrOfferTooLarge, offer.Size, n.options.MaxFileSize)
	}
	if chunks := ChunkCount(offer.Size, offer.ChunkSize); chunks > MaxChunks {
		return ReasonTooLarge, fmt.Errorf("%w: %d chunks, limit %d", ErrOfferTooLarge, chunks, MaxChunks)
	}
	return "", nil
}

func (n *Negotiator) sendReject(offer models.FileOffer, reason string) {
	if err := n.transport.SendMessage(network.RejectFile{
		Type:   network.TypeRejectFile,
		From:   offer.From,
		FileID: offer.FileID,
		Reason: reason,
	}); err != nil {
		n.reportError(fmt.Errorf("send %s reject: %w", reason, err))
	}
}

// HandleFileAccepted starts streaming the outgoing offer. If the source was
// released in the meantime the receiver is told via cancel_transfer.
func (n *Negotiator) HandleFileAccepted(msg network.FileAccepted) {
	n.mu.Lock()
	out := n.outgoing
	if out == nil || out.offer.FileID != msg.FileID || out.offer.To != msg.To || out.streaming {
		n.mu.Unlock()
		n.logger.Debug("ignoring file_accepted", zap.String("file_id", msg.FileID), zap.String("to", msg.To))
		return
	}

	if !out.source.Available() {
		n.outgoing = nil
		n.mu.Unlock()

		n.logger.Warn("file handle gone at accept", zap.String("file_id", out.offer.FileID))
		if err := n.sendCancel(out.offer.To, out.offer.FileID, ReasonFileUnavailable); err != nil {
			n.reportError(err)
		}
		n.emitCancelled(Cancellation{Offer: out.offer, Direction: DirectionSend, Reason: ReasonFileUnavailable})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	out.cancel = cancel
	out.streaming = true
	n.wg.Add(1)
	n.mu.Unlock()

	n.logger.Info("file accepted by peer", zap.String("file_id", out.offer.FileID), zap.String("to", out.offer.To))
	if n.options.OnAccepted != nil {
		n.options.OnAccepted(out.offer)
	}
	go n.stream(ctx, out)
}

// HandleFileRejected clears the outgoing offer.
func (n *Negotiator) HandleFileRejected(msg network.FileRejected) {
	n.mu.Lock()
	out := n.outgoing
	if out == nil || out.offer.FileID != msg.FileID || out.offer.To != msg.From || out.streaming {
		n.mu.Unlock()
		return
	}
	n.outgoing = nil
	n.mu.Unlock()

	_ = out.source.Close()
	reason := msg.Reason
	if reason == "" {
		reason = ReasonDeclined
	}
	n.logger.Info("file rejected by peer", zap.String("file_id", msg.FileID), zap.String("reason", reason))
	if n.options.OnRejected != nil {
		n.options.OnRejected(out.offer, reason)
	}
}

// HandleFileChunk feeds one chunk to the assembler.
func (n *Negotiator) HandleFileChunk(msg network.FileChunk) {
	n.mu.Lock()
	if n.state != StateStreaming || n.incoming == nil || n.incoming.FileID != msg.FileID || n.incoming.From != msg.From {
		n.mu.Unlock()
		n.logger.Debug("ignoring file_chunk", zap.String("file_id", msg.FileID), zap.Int("index", msg.Index))
		return
	}
	offer := *n.incoming

	result, err := n.assembler.Ingest(models.Chunk{
		FileID: msg.FileID,
		Index:  msg.Index,
		Total:  msg.Total,
		Bytes:  msg.Chunk,
	})
	// A chunk the session cannot place would never be resent, so every
	// ingest error ends the transfer.
	if err != nil {
		n.assembler.Abort()
	}
	if result.File != nil || err != nil {
		n.incoming = nil
		n.state = StateIdle
	}
	n.mu.Unlock()

	if err != nil {
		n.logger.Error("transfer verification failed", zap.String("file_id", offer.FileID), zap.Error(err))
		if sendErr := n.sendCancel(offer.From, offer.FileID, ReasonVerificationFailed); sendErr != nil {
			n.reportError(sendErr)
		}
		n.emitCancelled(Cancellation{Offer: offer, Direction: DirectionReceive, Reason: ReasonVerificationFailed})
		n.reportError(fmt.Errorf("ingest chunk %d of %s: %w", msg.Index, msg.FileID, err))
		return
	}
	if result.Duplicate {
		n.logger.Debug("duplicate chunk ignored", zap.String("file_id", msg.FileID), zap.Int("index", msg.Index))
		return
	}

	n.emitProgress(result.Progress)
	if result.File != nil {
		n.logger.Info("file received",
			zap.String("file_id", offer.FileID),
			zap.String("name", offer.Name),
			zap.Int64("size", offer.Size),
		)
		if n.options.OnComplete != nil {
			n.options.OnComplete(*result.File)
		}
	}
}

// HandleCancel tears down whichever transfer the counterpart cancelled.
func (n *Negotiator) HandleCancel(msg network.CancelTransfer) {
	n.mu.Lock()
	if out := n.outgoing; out != nil && out.offer.FileID == msg.FileID && out.offer.To == msg.From {
		n.outgoing = nil
		if out.cancel != nil {
			out.cancel()
		}
		n.mu.Unlock()

		_ = out.source.Close()
		n.logger.Info("transfer cancelled by receiver", zap.String("file_id", msg.FileID), zap.String("reason", msg.Reason))
		n.emitCancelled(Cancellation{Offer: out.offer, Direction: DirectionSend, Reason: msg.Reason, Remote: true})
		return
	}

	if in := n.incoming; in != nil && in.FileID == msg.FileID && in.From == msg.From {
		offer := *in
		n.assembler.Abort()
		n.incoming = nil
		n.state = StateIdle
		n.mu.Unlock()

		n.logger.Info("transfer cancelled by sender", zap.String("file_id", msg.FileID), zap.String("reason", msg.Reason))
		n.emitCancelled(Cancellation{Offer: offer, Direction: DirectionReceive, Reason: msg.Reason, Remote: true})
		return
	}
	n.mu.Unlock()
}

// HandleError applies relay errors that reference an active transfer.
func (n *Negotiator) HandleError(msg network.ErrorMessage) {
	remoteErr := &network.RemoteError{Code: msg.Code, Message: msg.Message}
	if msg.RelatedFileID == "" || msg.Code != network.ErrorCodePeerNotFound {
		n.reportError(remoteErr)
		return
	}

	n.mu.Lock()
	var out *outgoingTransfer
	if n.outgoing != nil && n.outgoing.offer.FileID == msg.RelatedFileID {
		out = n.outgoing
		n.outgoing = nil
		if out.cancel != nil {
			out.cancel()
		}
	}
	var incoming *models.FileOffer
	if n.incoming != nil && n.incoming.FileID == msg.RelatedFileID {
		offer := *n.incoming
		incoming = &offer
		n.assembler.Abort()
		n.incoming = nil
		n.state = StateIdle
	}
	n.mu.Unlock()

	if out != nil {
		_ = out.source.Close()
		n.emitCancelled(Cancellation{Offer: out.offer, Direction: DirectionSend, Reason: ReasonPeerNotFound, Remote: true})
	}
	if incoming != nil {
		n.emitCancelled(Cancellation{Offer: *incoming, Direction: DirectionReceive, Reason: ReasonPeerNotFound, Remote: true})
	}
	if out == nil && incoming == nil {
		n.reportError(remoteErr)
	}
}

// Wait blocks until every stream goroutine has returned.
func (n *Negotiator) Wait() {
	n.wg.Wait()
}

// Close stops any active stream without notifying the counterpart.
func (n *Negotiator) Close() {
	n.mu.Lock()
	out := n.outgoing
	n.outgoing = nil
	if out != nil && out.cancel != nil {
		out.cancel()
	}
	n.assembler.Abort()
	n.incoming = nil
	n.state = StateIdle
	n.mu.Unlock()

	if out != nil {
		_ = out.source.Close()
	}
	n.wg.Wait()
}

func (n *Negotiator) stream(ctx context.Context, out *outgoingTransfer) {
	defer n.wg.Done()

	err := n.streamer.Send(ctx, out.source, out.offer.FileID, out.offer.To, n.emitProgress)
	owned := n.clearOutgoing(out)
	if !owned {
		// Cancel, PeerGone or HandleCancel already reported the outcome.
		return
	}
	_ = out.source.Close()

	switch {
	case err == nil:
		n.logger.Info("file sent", zap.String("file_id", out.offer.FileID), zap.String("to", out.offer.To))
		if n.options.OnSent != nil {
			n.options.OnSent(out.offer)
		}
	case errors.Is(err, ErrReadFailed):
		n.logger.Error("stream read failed", zap.String("file_id", out.offer.FileID), zap.Error(err))
		if sendErr := n.sendCancel(out.offer.To, out.offer.FileID, ReasonReadFailed); sendErr != nil {
			n.reportError(sendErr)
		}
		n.emitCancelled(Cancellation{Offer: out.offer, Direction: DirectionSend, Reason: ReasonReadFailed})
		n.reportError(fmt.Errorf("stream %s: %w", out.offer.FileID, err))
	default:
		n.reportError(fmt.Errorf("stream %s: %w", out.offer.FileID, err))
	}
}

func (n *Negotiator) clearOutgoing(out *outgoingTransfer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outgoing != out {
		return false
	}
	n.outgoing = nil
	if out.cancel != nil {
		out.cancel()
	}
	return true
}

func (n *Negotiator) abortIncoming(fileID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.incoming != nil && n.incoming.FileID == fileID {
		n.assembler.Abort()
		n.incoming = nil
		n.state = StateIdle
	}
}

func (n *Negotiator) sendCancel(to, fileID, reason string) error {
	if err := n.transport.SendMessage(network.CancelTransfer{
		Type:   network.TypeCancelTransfer,
		To:     to,
		FileID: fileID,
		Reason: reason,
	}); err != nil {
		return fmt.Errorf("send cancel: %w", err)
	}
	return nil
}

func (n *Negotiator) emitProgress(progress Progress) {
	if n.options.OnProgress != nil {
		n.options.OnProgress(progress)
	}
}

func (n *Negotiator) emitCancelled(cancellation Cancellation) {
	if n.options.OnCancelled != nil {
		n.options.OnCancelled(cancellation)
	}
}

func (n *Negotiator) reportError(err error) {
	if err == nil {
		return
	}
	n.logger.Warn("transfer error", zap.Error(err))
	if n.options.OnError != nil {
		n.options.OnError(err)
	}
}
