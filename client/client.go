// Package client connects a peer to a relay and drives file transfers
// over that connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"blinksend/discovery"
	"blinksend/models"
	"blinksend/network"
	"blinksend/storage"
	"blinksend/transfer"
)

var (
	// ErrClosed indicates the client connection has ended.
	ErrClosed = errors.New("client: closed")
	// ErrUnknownPeer indicates a target that is not on the current roster.
	ErrUnknownPeer = errors.New("client: unknown peer")
)

// Client is one peer's session with a relay. A single dispatch goroutine
// handles inbound messages in order.
type Client struct {
	options Options
	logger  *zap.Logger

	conn         *network.PeerConnection
	self         models.Peer
	relayAddress string
	negotiator   *transfer.Negotiator

	mu            sync.RWMutex
	peers         []models.Peer
	rosterChanged chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the relay, registers the display name and starts dispatch.
func Connect(ctx context.Context, options Options) (*Client, error) {
	options = options.withDefaults()
	if strings.TrimSpace(options.Name) == "" {
		return nil, errors.New("display name is required")
	}

	address := options.RelayAddress
	if address == "" {
		endpoint, err := discovery.Locate(ctx, options.Discovery)
		if err != nil {
			return nil, fmt.Errorf("locate relay: %w", err)
		}
		address = endpoint.Address()
		options.Logger.Info("relay discovered", zap.String("address", address), zap.String("relay_id", endpoint.RelayID))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, welcome, err := network.Dial(address, network.DialOptions{
		Name:              options.Name,
		ConnectionTimeout: options.ConnectionTimeout,
		KeepAliveInterval: options.KeepAliveInterval,
		KeepAliveTimeout:  options.KeepAliveTimeout,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		options:       options,
		logger:        options.Logger.With(zap.String("peer_id", welcome.ID)),
		conn:          conn,
		self:          models.Peer{ID: welcome.ID, Name: welcome.Name},
		relayAddress:  address,
		rosterChanged: make(chan struct{}),
		ctx:           runCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	c.negotiator = transfer.NewNegotiator(conn, transfer.Options{
		ChunkSize:   options.ChunkSize,
		MaxFileSize: options.MaxFileSize,
		Logger:      c.logger.Named("transfer"),
		OnOffered:   c.handleOffered,
		OnOffer:     c.handleOffer,
		OnAccepted:  c.handleAccepted,
		OnRejected:  c.handleRejected,
		OnProgress:  c.handleProgress,
		OnComplete:  c.handleComplete,
		OnSent:      c.handleSent,
		OnCancelled: c.handleCancelled,
		OnError:     c.reportError,
	})

	c.logger.Info("connected to relay", zap.String("address", address), zap.String("name", welcome.Name))
	go c.dispatchLoop()
	return c, nil
}

// Self returns the relay-assigned identity.
func (c *Client) Self() models.Peer {
	return c.self
}

// RelayAddress returns the address the client dialed.
func (c *Client) RelayAddress() string {
	return c.relayAddress
}

// Peers returns the latest roster, which never includes Self.
func (c *Client) Peers() []models.Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Peer(nil), c.peers...)
}

// WaitForPeer blocks until a roster entry matches nameOrID by id or name.
func (c *Client) WaitForPeer(ctx context.Context, nameOrID string) (models.Peer, error) {
	for {
		c.mu.RLock()
		peer, ok := findPeer(c.peers, nameOrID)
		changed := c.rosterChanged
		c.mu.RUnlock()
		if ok {
			return peer, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return models.Peer{}, ctx.Err()
		case <-c.done:
			return models.Peer{}, ErrClosed
		}
	}
}

// SendFile offers the file at path to peer peerID and returns the file id.
func (c *Client) SendFile(peerID, path string) (string, error) {
	if peerID == "" {
		return "", transfer.ErrNoTarget
	}
	if _, ok := c.lookupPeer(peerID); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	src, err := transfer.OpenSource(path)
	if err != nil {
		return "", err
	}
	fileID, err := c.negotiator.Offer(src, peerID)
	if err != nil {
		_ = src.Close()
		return "", err
	}
	return fileID, nil
}

// PendingOffer returns the incoming offer awaiting Respond, if any.
func (c *Client) PendingOffer() (models.FileOffer, bool) {
	return c.negotiator.PendingOffer()
}

// Respond accepts or rejects the pending offer from fromPeerID.
func (c *Client) Respond(fromPeerID string, accept bool) error {
	offer, pending := c.negotiator.PendingOffer()
	if pending && offer.From == fromPeerID {
		// Recorded first so an empty file's completion lands after it.
		if accept {
			c.recordStatus(offer.FileID, storage.DirectionReceive, storage.TransferStatusAccepted, "")
		} else {
			c.recordStatus(offer.FileID, storage.DirectionReceive, storage.TransferStatusRejected, transfer.ReasonDeclined)
		}
	}
	return c.negotiator.Respond(fromPeerID, accept)
}

// Cancel aborts every active transfer.
func (c *Client) Cancel(reason string) error {
	return c.negotiator.Cancel(reason)
}

// Done is closed when the relay connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal connection error, if any.
func (c *Client) Err() error {
	return c.conn.LastError()
}

// Close stops dispatch, any active stream and the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.negotiator.Close()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Client) dispatchLoop() {
	defer close(c.done)

	for {
		payload, err := c.conn.ReceiveMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				if !errors.Is(err, io.EOF) {
					c.reportError(fmt.Errorf("relay connection: %w", err))
				}
				c.logger.Info("relay connection closed")
				for _, peer := range c.Peers() {
					c.negotiator.PeerGone(peer.ID)
				}
			}
			return
		}
		c.handleMessage(payload)
	}
}

func (c *Client) handleMessage(payload []byte) {
	msgType, err := network.DecodeMessageType(payload)
	if err != nil {
		c.reportError(err)
		return
	}

	switch msgType {
	case network.TypeUsers:
		if msg, ok := decode[network.Users](c, payload); ok {
			c.applyRoster(msg.Users)
		}
	case network.TypeFileOffer:
		if msg, ok := decode[network.FileOffer](c, payload); ok {
			c.negotiator.HandleFileOffer(msg)
		}
	case network.TypeFileAccepted:
		if msg, ok := decode[network.FileAccepted](c, payload); ok {
			c.negotiator.HandleFileAccepted(msg)
		}
	case network.TypeFileRejected:
		if msg, ok := decode[network.FileRejected](c, payload); ok {
			c.negotiator.HandleFileRejected(msg)
		}
	case network.TypeFileChunk:
		if msg, ok := decode[network.FileChunk](c, payload); ok {
			c.negotiator.HandleFileChunk(msg)
		}
	case network.TypeCancelTransfer:
		if msg, ok := decode[network.CancelTransfer](c, payload); ok {
			c.negotiator.HandleCancel(msg)
		}
	case network.TypeError:
		if msg, ok := decode[network.ErrorMessage](c, payload); ok {
			c.logger.Warn("relay error", zap.String("code", msg.Code), zap.String("message", msg.Message))
			c.negotiator.HandleError(msg)
		}
	case network.TypeWelcome:
	default:
		c.logger.Debug("ignoring message", zap.String("type", msgType))
	}
}

func decode[T any](c *Client, payload []byte) (T, bool) {
	msg, err := network.Decode[T](payload)
	if err != nil {
		c.reportError(err)
		return msg, false
	}
	return msg, true
}

func (c *Client) applyRoster(peers []models.Peer) {
	next := make([]models.Peer, 0, len(peers))
	for _, peer := range peers {
		if peer.ID == "" || peer.ID == c.self.ID {
			continue
		}
		next = append(next, peer)
	}

	c.mu.Lock()
	previous := c.peers
	c.peers = next
	close(c.rosterChanged)
	c.rosterChanged = make(chan struct{})
	c.mu.Unlock()

	for _, peer := range previous {
		if _, still := findPeer(next, peer.ID); !still {
			c.logger.Info("peer left", zap.String("peer", peer.ID), zap.String("name", peer.Name))
			c.negotiator.PeerGone(peer.ID)
		}
	}

	if c.options.Store != nil {
		seenAt := time.Now().UnixMilli()
		for _, peer := range next {
			if err := c.options.Store.UpsertPeer(peer.ID, peer.Label(), seenAt); err != nil {
				c.logger.Warn("record peer failed", zap.String("peer", peer.ID), zap.Error(err))
			}
		}
	}

	if c.options.OnPeersChanged != nil {
		c.options.OnPeersChanged(append([]models.Peer(nil), next...))
	}
}

func (c *Client) lookupPeer(id string) (models.Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, peer := range c.peers {
		if peer.ID == id {
			return peer, true
		}
	}
	return models.Peer{}, false
}

func findPeer(peers []models.Peer, nameOrID string) (models.Peer, bool) {
	for _, peer := range peers {
		if peer.ID == nameOrID {
			return peer, true
		}
	}
	for _, peer := range peers {
		if peer.Name == nameOrID {
			return peer, true
		}
	}
	return models.Peer{}, false
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	c.logger.Warn("client error", zap.Error(err))
	if c.options.OnError != nil {
		c.options.OnError(err)
	}
}

func (c *Client) handleOffered(offer models.FileOffer) {
	c.saveTransfer(offer, storage.DirectionSend, offer.To)
}

func (c *Client) handleOffer(offer models.FileOffer) {
	c.saveTransfer(offer, storage.DirectionReceive, offer.From)
	if c.options.OnOffer != nil {
		c.options.OnOffer(offer)
	}
}

func (c *Client) handleAccepted(offer models.FileOffer) {
	c.recordStatus(offer.FileID, storage.DirectionSend, storage.TransferStatusAccepted, "")
	if c.options.OnAccepted != nil {
		c.options.OnAccepted(offer)
	}
}

func (c *Client) handleRejected(offer models.FileOffer, reason string) {
	c.recordStatus(offer.FileID, storage.DirectionSend, storage.TransferStatusRejected, reason)
	if c.options.OnRejected != nil {
		c.options.OnRejected(offer, reason)
	}
}

func (c *Client) handleProgress(progress transfer.Progress) {
	if c.options.OnProgress != nil {
		c.options.OnProgress(progress)
	}
}

func (c *Client) handleComplete(file transfer.CompletedFile) {
	offer := file.Offer
	path, err := writeDownload(c.options.DownloadsDir, offer.FileID, offer.Name, file.Data)
	if err != nil {
		c.recordStatus(offer.FileID, storage.DirectionReceive, storage.TransferStatusFailed, err.Error())
		c.reportError(fmt.Errorf("save %s: %w", offer.FileID, err))
		return
	}
	c.logger.Info("download saved", zap.String("file_id", offer.FileID), zap.String("path", path))

	if c.options.Store != nil {
		if err := c.options.Store.SetStoredPath(offer.FileID, storage.DirectionReceive, path); err != nil {
			c.logger.Warn("record stored path failed", zap.String("file_id", offer.FileID), zap.Error(err))
		}
	}
	c.recordStatus(offer.FileID, storage.DirectionReceive, storage.TransferStatusComplete, "")

	if c.options.OnReceived != nil {
		c.options.OnReceived(ReceivedFile{Offer: offer, Path: path})
	}
}

func (c *Client) handleSent(offer models.FileOffer) {
	c.recordStatus(offer.FileID, storage.DirectionSend, storage.TransferStatusComplete, "")
	if c.options.OnSent != nil {
		c.options.OnSent(offer)
	}
}

func (c *Client) handleCancelled(cancellation transfer.Cancellation) {
	c.recordStatus(cancellation.Offer.FileID, string(cancellation.Direction), cancellationStatus(cancellation.Reason), cancellation.Reason)
	if c.options.OnCancelled != nil {
		c.options.OnCancelled(cancellation)
	}
}

func cancellationStatus(reason string) string {
	switch reason {
	case transfer.ReasonVerificationFailed, transfer.ReasonReadFailed, transfer.ReasonFileUnavailable:
		return storage.TransferStatusFailed
	default:
		return storage.TransferStatusCancelled
	}
}

func (c *Client) saveTransfer(offer models.FileOffer, direction, peerID string) {
	if c.options.Store == nil {
		return
	}
	peerName := peerID
	if peer, ok := c.lookupPeer(peerID); ok {
		peerName = peer.Label()
	}
	err := c.options.Store.SaveTransfer(storage.TransferRecord{
		FileID:    offer.FileID,
		Direction: direction,
		PeerID:    peerID,
		PeerName:  peerName,
		Filename:  offer.Name,
		Filesize:  offer.Size,
		Checksum:  offer.Checksum,
		Status:    storage.TransferStatusOffered,
	})
	if err != nil {
		c.logger.Warn("record transfer failed", zap.String("file_id", offer.FileID), zap.Error(err))
	}
}

func (c *Client) recordStatus(fileID, direction, status, reason string) {
	if c.options.Store == nil {
		return
	}
	if err := c.options.Store.UpdateTransferStatus(fileID, direction, status, reason); err != nil {
		c.logger.Warn("record transfer status failed",
			zap.String("file_id", fileID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
