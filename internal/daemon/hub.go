package daemon

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/omochice/daima/internal/metrics"
	"github.com/omochice/daima/pkg/codec"
	"github.com/omochice/daima/pkg/protocol"
)

// Peer is one connected client as seen by handlers.
type Peer struct {
	ID    uint64
	conn  Conn
	codec codec.Codec

	writeMu sync.Mutex

	mu   sync.RWMutex
	name string
}

// Name returns the name the peer announced with Init, or "".
func (p *Peer) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *Peer) SetName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr()
}

// Send encodes msg as one frame and writes it. Concurrent sends never
// interleave their frames.
func (p *Peer) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg, p.codec)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to send %s to peer %d: %w", msg.Type(), p.ID, err)
	}
	return nil
}

type Option func(*Hub)

// WithCodec sets the payload codec. Defaults to CBOR.
func WithCodec(c codec.Codec) Option {
	return func(h *Hub) {
		if c != nil {
			h.codec = c
		}
	}
}

// WithLimits bounds the frames accepted from peers. Defaults to protocol.DefaultLimits.
func WithLimits(l protocol.Limits) Option {
	return func(h *Hub) { h.limits = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(h *Hub) { h.metrics = r }
}

// Hub tracks every live peer and runs their sessions.
// All transports share a single Hub instance.
type Hub struct {
	handler Handler
	codec   codec.Codec
	limits  protocol.Limits
	metrics *metrics.Recorder

	nextID atomic.Uint64

	peers map[uint64]*Peer
	mu    sync.RWMutex
}

// NewHub creates a Hub that passes decoded messages to handler.
func NewHub(handler Handler, opts ...Option) *Hub {
	if handler == nil {
		handler = DefaultHandler
	}
	h := &Hub{
		handler: handler,
		codec:   codec.CBOR(),
		limits:  protocol.DefaultLimits(),
		peers:   make(map[uint64]*Peer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connection to the hub and returns its peer.
func (h *Hub) Register(conn Conn) *Peer {
	p := &Peer{
		ID:    h.nextID.Add(1),
		conn:  conn,
		codec: h.codec,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.ID] = p
	return p
}

// Unregister removes a peer from the hub.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, p.ID)
}

// ClientCount returns number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Names returns the sorted names announced by connected peers.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.peers))
	for _, p := range h.peers {
		if name := p.Name(); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Close closes every live connection. Their sessions end on the next read.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.peers {
		_ = p.conn.Close()
	}
}
