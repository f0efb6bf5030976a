package server

import (
	"time"

	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

type peerChange struct {
	peer    transport.PeerID
	removed bool
	timeout bool
}

// PeerAdded queues a new peer. Called from transport goroutines.
func (s *Server) PeerAdded(peer transport.PeerID) {
	s.peerMu.Lock()
	s.peerChanges = append(s.peerChanges, peerChange{peer: peer})
	s.peerMu.Unlock()
}

// PeerRemoved queues a departed peer. Called from transport goroutines.
func (s *Server) PeerRemoved(peer transport.PeerID, timeout bool) {
	s.peerMu.Lock()
	s.peerChanges = append(s.peerChanges, peerChange{peer: peer, removed: true, timeout: timeout})
	s.peerMu.Unlock()
}

// handlePeerChanges applies queued peer changes. The caller holds envMu.
func (s *Server) handlePeerChanges() {
	s.peerMu.Lock()
	changes := s.peerChanges
	s.peerChanges = nil
	s.peerMu.Unlock()

	for _, ch := range changes {
		if ch.removed {
			s.DeleteClient(ch.peer, ch.timeout)
			continue
		}
		addr, err := s.transport.PeerAddress(ch.peer)
		if err != nil {
			s.log.Verbosef("server: peer %d left before it was created", ch.peer)
			continue
		}
		if !s.clients.Add(session.New(ch.peer, addr, time.Now())) {
			s.log.Warnf("server: peer %d already has a session", ch.peer)
			continue
		}
		s.log.Verbosef("server: peer %d connected from %s", ch.peer, addr)
	}
}

// DeleteClient drops every trace of a peer. The caller holds envMu.
func (s *Server) DeleteClient(peer transport.PeerID, timeout bool) {
	c, ok := s.clients.Get(peer)
	if !ok {
		return
	}
	wasActive := c.State() == session.Active
	c.Transition(session.Disconnecting)

	s.sounds.RemoveClient(peer)
	s.particles.RemoveClient(peer)
	s.objects.Forget(c)

	if p, ok := s.env.RemovePlayer(peer); ok && wasActive {
		s.env.Script.OnLeavePlayer(p.Name, timeout)
		suffix := ""
		if timeout {
			suffix = " (timed out)"
		}
		s.log.Actionf("%s leaves game%s", p.Name, suffix)
	}
	s.clients.Remove(peer)

	if wasActive && c.Name != "" {
		pkt := protocol.UpdatePlayerList(protocol.PlayerListRemove, []string{c.Name})
		for _, other := range s.clients.Snapshot(session.Active) {
			s.Send(other.Peer, pkt)
		}
	}
}
