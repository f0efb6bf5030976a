// Package transport is the narrow interface between the server and the
// packet transport. Implementations deliver whole datagrams per peer and
// report peer arrival and departure through a Handler.
package transport

import (
	"context"
	"errors"
	"time"
)

// PeerID identifies a connected peer. Ids are reused only after the peer
// has been fully removed.
type PeerID uint16

const (
	PeerIDInexistent PeerID = 0
	PeerIDServer     PeerID = 1
	// FirstClientPeerID is the lowest id handed to a client.
	FirstClientPeerID PeerID = 2
)

var (
	ErrPeerNotFound   = errors.New("transport: peer not found")
	ErrNoIncomingData = errors.New("transport: no incoming data")
	ErrClosed         = errors.New("transport: closed")
)

// Datagram is one received packet.
type Datagram struct {
	Peer    PeerID
	Channel uint8
	Data    []byte
}

// Handler receives peer lifecycle notifications. Calls come from transport
// goroutines and must not block.
type Handler interface {
	PeerAdded(peer PeerID)
	PeerRemoved(peer PeerID, timeout bool)
}

type Transport interface {
	// Send hands data to the peer's outgoing queue without blocking.
	Send(peer PeerID, channel uint8, reliable bool, data []byte) error
	// Receive waits up to timeout for one datagram. It returns
	// ErrNoIncomingData when nothing arrived in time.
	Receive(ctx context.Context, timeout time.Duration) (Datagram, error)
	// TryReceive returns a queued datagram or ErrNoIncomingData.
	TryReceive() (Datagram, error)
	DisconnectPeer(peer PeerID) error
	PeerAddress(peer PeerID) (string, error)
	SetHandler(h Handler)
	Close() error
}

// IDAllocator hands out the lowest free peer id starting at
// FirstClientPeerID. It is not safe for concurrent use.
type IDAllocator struct {
	used map[PeerID]struct{}
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{used: make(map[PeerID]struct{})}
}

func (a *IDAllocator) Acquire() (PeerID, bool) {
	for id := FirstClientPeerID; id != 0; id++ {
		if _, taken := a.used[id]; !taken {
			a.used[id] = struct{}{}
			return id, true
		}
	}
	return PeerIDInexistent, false
}

func (a *IDAllocator) Release(id PeerID) {
	delete(a.used, id)
}
