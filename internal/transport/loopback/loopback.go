// Package loopback is an in-memory Transport. Tests and the local bot
// harness connect peers to it and inspect what the server sent them.
package loopback

import (
	"context"
	"sync"
	"time"

	"voxelsync.ai/internal/transport"
)

// Sent is one datagram the server handed to a peer.
type Sent struct {
	Channel  uint8
	Reliable bool
	Data     []byte
}

type Transport struct {
	inbox chan transport.Datagram

	mu      sync.Mutex
	ids     *transport.IDAllocator
	peers   map[transport.PeerID]*Peer
	handler transport.Handler
	closed  bool
}

func New(queue int) *Transport {
	if queue <= 0 {
		queue = 1024
	}
	return &Transport{
		inbox: make(chan transport.Datagram, queue),
		ids:   transport.NewIDAllocator(),
		peers: make(map[transport.PeerID]*Peer),
	}
}

// Peer is the client end of a loopback connection.
type Peer struct {
	t    *Transport
	id   transport.PeerID
	addr string

	mu           sync.Mutex
	out          []Sent
	disconnected bool
}

func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Connect registers a new peer and notifies the handler.
func (t *Transport) Connect(addr string) (*Peer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	id, ok := t.ids.Acquire()
	if !ok {
		t.mu.Unlock()
		return nil, transport.ErrPeerNotFound
	}
	p := &Peer{t: t, id: id, addr: addr}
	t.peers[id] = p
	h := t.handler
	t.mu.Unlock()

	if h != nil {
		h.PeerAdded(id)
	}
	return p, nil
}

func (t *Transport) Send(peer transport.PeerID, channel uint8, reliable bool, data []byte) error {
	t.mu.Lock()
	p, ok := t.peers[peer]
	t.mu.Unlock()
	if !ok {
		return transport.ErrPeerNotFound
	}
	cp := append([]byte(nil), data...)
	p.mu.Lock()
	p.out = append(p.out, Sent{Channel: channel, Reliable: reliable, Data: cp})
	p.mu.Unlock()
	return nil
}

func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (transport.Datagram, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-t.inbox:
		return d, nil
	case <-timer.C:
		return transport.Datagram{}, transport.ErrNoIncomingData
	case <-ctx.Done():
		return transport.Datagram{}, ctx.Err()
	}
}

func (t *Transport) TryReceive() (transport.Datagram, error) {
	select {
	case d := <-t.inbox:
		return d, nil
	default:
		return transport.Datagram{}, transport.ErrNoIncomingData
	}
}

func (t *Transport) DisconnectPeer(peer transport.PeerID) error {
	return t.remove(peer, false)
}

func (t *Transport) PeerAddress(peer transport.PeerID) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[peer]
	if !ok {
		return "", transport.ErrPeerNotFound
	}
	return p.addr, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) remove(peer transport.PeerID, timeout bool) error {
	t.mu.Lock()
	p, ok := t.peers[peer]
	if !ok {
		t.mu.Unlock()
		return transport.ErrPeerNotFound
	}
	delete(t.peers, peer)
	h := t.handler
	t.mu.Unlock()

	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
	if h != nil {
		h.PeerRemoved(peer, timeout)
	}

	// Reusable only once the removal has been reported.
	t.mu.Lock()
	t.ids.Release(peer)
	t.mu.Unlock()
	return nil
}

func (p *Peer) ID() transport.PeerID { return p.id }

// Send queues data from the client to the server.
func (p *Peer) Send(channel uint8, data []byte) error {
	if p.Disconnected() {
		return transport.ErrPeerNotFound
	}
	select {
	case p.t.inbox <- transport.Datagram{Peer: p.id, Channel: channel, Data: data}:
		return nil
	default:
		return transport.ErrNoIncomingData
	}
}

// Drain returns and clears everything the server sent to this peer.
func (p *Peer) Drain() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.out
	p.out = nil
	return out
}

func (p *Peer) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// Close drops the connection from the client side.
func (p *Peer) Close() error { return p.t.remove(p.id, false) }

// Timeout drops the connection as if the peer stopped answering.
func (p *Peer) Timeout() error { return p.t.remove(p.id, true) }
