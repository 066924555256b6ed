// Package relay implements the rendezvous point: it assigns peer ids,
// tracks display names, broadcasts the roster and forwards transfer
// messages between peers, stamping the sender identity on each one.
package relay

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"blinksend/models"
	"blinksend/network"
)

// MaxNameLength caps display names, in runes.
const MaxNameLength = 64

// Options configures a Relay.
type Options struct {
	ListenAddress string
	Logger        *zap.Logger
	Server        network.ServerOptions
}

func (o Options) withDefaults() Options {
	if o.ListenAddress == "" {
		o.ListenAddress = ":7070"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type member struct {
	peer   models.Peer
	conn   *network.PeerConnection
	joined time.Time
}

// Relay is the identity registry and forwarding hub.
type Relay struct {
	options Options
	logger  *zap.Logger

	server *network.Server

	mu      sync.RWMutex
	members map[string]*member

	broadcastMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates a relay; call Start to begin accepting peers.
func New(options Options) *Relay {
	options = options.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		options: options,
		logger:  options.Logger,
		members: make(map[string]*member),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start listens on the configured address and serves peers in the background.
func (r *Relay) Start() error {
	server, err := network.Listen(r.options.ListenAddress, r.options.Server)
	if err != nil {
		return err
	}
	r.server = server

	r.wg.Add(2)
	go r.acceptLoop()
	go r.errorLoop()

	r.logger.Info("relay listening", zap.String("address", server.Addr().String()))
	return nil
}

// Addr returns the bound listen address.
func (r *Relay) Addr() net.Addr {
	if r.server == nil {
		return nil
	}
	return r.server.Addr()
}

// Peers returns the registered peers sorted by join time.
func (r *Relay) Peers() []models.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked("")
}

// Close disconnects every peer and stops the listener.
func (r *Relay) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		r.cancel()
		if r.server != nil {
			closeErr = r.server.Close()
		}

		r.mu.Lock()
		for _, m := range r.members {
			_ = m.conn.Close()
		}
		r.mu.Unlock()

		r.wg.Wait()
	})
	return closeErr
}

func (r *Relay) acceptLoop() {
	defer r.wg.Done()
	for registration := range r.server.Incoming() {
		r.register(registration)
	}
}

func (r *Relay) errorLoop() {
	defer r.wg.Done()
	for err := range r.server.Errors() {
		r.logger.Warn("relay server error", zap.Error(err))
	}
}

func (r *Relay) register(registration network.Registration) {
	id := registration.Conn.PeerID()
	m := &member{
		peer:   models.Peer{ID: id, Name: normalizeName(registration.Name, id)},
		conn:   registration.Conn,
		joined: time.Now(),
	}

	// Welcome goes out before the member is reachable by broadcasts.
	if err := m.conn.SendMessage(network.Welcome{
		Type: network.TypeWelcome,
		ID:   m.peer.ID,
		Name: m.peer.Name,
	}); err != nil {
		r.logger.Warn("send welcome failed", zap.String("peer_id", id), zap.Error(err))
		_ = m.conn.Close()
		return
	}

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		_ = m.conn.Close()
		return
	}
	r.members[id] = m
	r.mu.Unlock()

	connectedPeers.Inc()
	r.logger.Info("peer registered",
		zap.String("peer_id", id),
		zap.String("name", m.peer.Name),
		zap.String("remote_addr", m.conn.RemoteAddr().String()),
	)
	r.broadcastRoster()

	r.wg.Add(1)
	go r.serve(m)
}

func (r *Relay) serve(m *member) {
	defer r.wg.Done()
	defer r.unregister(m)

	for {
		payload, err := m.conn.ReceiveMessage(r.ctx)
		if err != nil {
			return
		}
		r.dispatch(m, payload)
	}
}

func (r *Relay) unregister(m *member) {
	_ = m.conn.Close()

	r.mu.Lock()
	current, ok := r.members[m.peer.ID]
	if ok && current == m {
		delete(r.members, m.peer.ID)
	}
	r.mu.Unlock()
	if !ok || current != m {
		return
	}

	connectedPeers.Dec()
	r.logger.Info("peer disconnected", zap.String("peer_id", m.peer.ID), zap.Error(m.conn.LastError()))
	if r.ctx.Err() == nil {
		r.broadcastRoster()
	}
}

func (r *Relay) dispatch(m *member, payload []byte) {
	msgType, err := network.DecodeMessageType(payload)
	if err != nil {
		r.replyError(m, network.ErrorCodeInvalidMessage, err.Error(), "")
		return
	}

	switch msgType {
	case network.TypeSetName:
		msg, err := network.Decode[network.SetName](payload)
		if err != nil {
			r.replyError(m, network.ErrorCodeInvalidMessage, err.Error(), "")
			return
		}
		r.rename(m, msg.Name)

	case network.TypeSendFileOffer:
		msg, err := network.Decode[network.SendFileOffer](payload)
		if err != nil {
			r.replyError(m, network.ErrorCodeInvalidMessage, err.Error(), "")
			return
		}
		r.forward(m, msg.To, msg.FileID, network.FileOffer{
			Type:      network.TypeFileOffer,
			From:      m.peer.ID,
			FileID:    msg.FileID,
			Name:      msg.Name,
			Size:      msg.Size,
			Checksum:  msg.Checksum,
			ChunkSize: msg.ChunkSize,
		})

	case network.TypeAcceptFile:
		msg, err := network.Decode[network.AcceptFile](payload)
		if err != nil {
			r.replyError(m, network.ErrorCodeInvalidMessage, err.Error(), "")
			return
		}
		r.forward(m, msg.From, msg.FileID, network.FileAccepted{
			Type:   network.TypeFileAccepted,
			To:     m.peer.ID,
			FileID: msg.FileID,
		})

	case network.TypeRejectFile:
		msg, err := network.Decode[network.RejectFile](payload)
		if err != nil {
			r.replyError(m, network.ErrorCodeInvalidMessage, err.Error(), "")
			return
		}
		r.forward(m, msg.From, msg.FileID, network.FileRejected{
			Type:   network.TypeFileRejected,
			From:   m.peer.ID,
			FileID: msg.FileID,
			Reason: msg.Reason,
		})

	case network.TypeFileChunk:
		msg, err := network.Decode[network.FileChunk](payload)
		if err != nil {
			r.replyError(m, network.ErrorCodeInvalidMessage, err.Error(), "")
			return
		}
		target := msg.To
		msg.To = ""
		msg.From = m.peer.ID
		if r.forward(m, target, msg.FileID, msg) {
			chunkBytesForwarded.Add(float64(len(msg.Chunk)))
		}

	case network.TypeCancelTransfer:
		msg, err := network.Decode[network.CancelTransfer](payload)
		if err != nil {
			r.replyError(m, network.ErrorCodeInvalidMessage, err.Error(), "")
			return
		}
		target := msg.To
		msg.To = ""
		msg.From = m.peer.ID
		r.forward(m, target, msg.FileID, msg)

	default:
		r.replyError(m, network.ErrorCodeInvalidMessage, fmt.Sprintf("unsupported message type %q", msgType), "")
	}
}

// forward delivers message to peer target. It reports peer_not_found to
// the sender when target is not registered.
func (r *Relay) forward(from *member, target, fileID string, message any) bool {
	r.mu.RLock()
	to, ok := r.members[target]
	r.mu.RUnlock()

	msgType := messageType(message)
	if !ok || target == from.peer.ID {
		r.logger.Debug("forward target missing",
			zap.String("type", msgType),
			zap.String("from", from.peer.ID),
			zap.String("to", target),
		)
		r.replyError(from, network.ErrorCodePeerNotFound, fmt.Sprintf("peer %q is not connected", target), fileID)
		return false
	}

	if err := to.conn.SendMessage(message); err != nil {
		forwardErrors.WithLabelValues("send_failed").Inc()
		r.logger.Warn("forward failed",
			zap.String("type", msgType),
			zap.String("to", target),
			zap.Error(err),
		)
		return false
	}

	messagesForwarded.WithLabelValues(msgType).Inc()
	return true
}

func (r *Relay) rename(m *member, name string) {
	normalized := normalizeName(name, m.peer.ID)

	r.mu.Lock()
	changed := m.peer.Name != normalized
	m.peer.Name = normalized
	r.mu.Unlock()

	if changed {
		r.logger.Info("peer renamed", zap.String("peer_id", m.peer.ID), zap.String("name", normalized))
		r.broadcastRoster()
	}
}

func (r *Relay) replyError(m *member, code, message, fileID string) {
	forwardErrors.WithLabelValues(code).Inc()
	_ = m.conn.SendMessage(network.ErrorMessage{
		Type:          network.TypeError,
		Code:          code,
		Message:       message,
		RelatedFileID: fileID,
		Timestamp:     time.Now().UnixMilli(),
	})
}

// broadcastRoster sends every member the roster without its own entry.
// Broadcasts are serialised so no peer observes an older roster last.
func (r *Relay) broadcastRoster() {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.mu.RLock()
	type delivery struct {
		conn  *network.PeerConnection
		users []models.Peer
	}
	deliveries := make([]delivery, 0, len(r.members))
	for id, m := range r.members {
		deliveries = append(deliveries, delivery{conn: m.conn, users: r.rosterLocked(id)})
	}
	r.mu.RUnlock()

	rosterBroadcasts.Inc()
	for _, d := range deliveries {
		if err := d.conn.SendMessage(network.Users{Type: network.TypeUsers, Users: d.users}); err != nil {
			r.logger.Debug("roster send failed", zap.String("peer_id", d.conn.PeerID()), zap.Error(err))
		}
	}
}

func (r *Relay) rosterLocked(exclude string) []models.Peer {
	members := make([]*member, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].joined.Equal(members[j].joined) {
			return members[i].peer.ID < members[j].peer.ID
		}
		return members[i].joined.Before(members[j].joined)
	})

	roster := make([]models.Peer, 0, len(members))
	for _, m := range members {
		roster = append(roster, m.peer)
	}
	return roster
}

func normalizeName(name, id string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		return "peer-" + short
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		runes := []rune(name)
		name = string(runes[:MaxNameLength])
	}
	return name
}

func messageType(message any) string {
	switch message.(type) {
	case network.FileOffer:
		return network.TypeFileOffer
	case network.FileAccepted:
		return network.TypeFileAccepted
	case network.FileRejected:
		return network.TypeFileRejected
	case network.FileChunk:
		return network.TypeFileChunk
	case network.CancelTransfer:
		return network.TypeCancelTransfer
	default:
		return "unknown"
	}
}
