package server

import (
	"errors"
	"time"

	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

// Send delivers pkt on the channel and reliability its opcode calls for.
func (s *Server) Send(peer transport.PeerID, pkt *protocol.Packet) {
	cc := protocol.LookupClientCommand(pkt.Command)
	s.SendOn(peer, cc.Channel, cc.Reliable, pkt)
}

// SendOn delivers pkt with an explicit channel and reliability.
func (s *Server) SendOn(peer transport.PeerID, channel uint8, reliable bool, pkt *protocol.Packet) {
	data := pkt.Bytes()
	if err := s.transport.Send(peer, channel, reliable, data); err != nil {
		if errors.Is(err, transport.ErrPeerNotFound) {
			s.log.Verbosef("server: send to gone peer %d", peer)
		} else {
			s.log.Warnf("server: send to peer %d: %v", peer, err)
		}
		return
	}
	s.metrics.PacketSent(protocol.LookupClientCommand(pkt.Command).Name, len(data))
}

// Broadcast sends an announcement to every active client.
func (s *Server) Broadcast(text string) {
	pkt := protocol.ChatMessage(protocol.ChatMessageAnnounce, "", text, time.Now().Unix())
	for _, c := range s.clients.Snapshot(session.Active) {
		s.Send(c.Peer, pkt)
	}
}

func (s *Server) sendChat(peer transport.PeerID, text string) {
	s.Send(peer, protocol.ChatMessage(protocol.ChatMessageSystem, "", text, time.Now().Unix()))
}

func (s *Server) sendTimeOfDay() {
	pkt := protocol.TimeOfDay(s.env.TimeOfDay(), s.env.TimeSpeed())
	for _, c := range s.clients.Snapshot(session.Active) {
		s.Send(c.Peer, pkt)
	}
}

// DenyAccess tells the client why it is being dropped and disconnects it.
// The session is removed once the transport reports the peer gone.
func (s *Server) DenyAccess(peer transport.PeerID, code protocol.AccessDeniedCode, reason string, reconnect bool) {
	c, ok := s.clients.Get(peer)
	if !ok || c.State() == session.Disconnecting {
		return
	}
	if reason == "" {
		reason = code.DefaultReason()
	}
	s.log.Actionf("server: denying access to peer %d (%s): %s", peer, c.Address, reason)
	s.Send(peer, protocol.AccessDenied(code, reason, reconnect))
	c.Transition(session.Disconnecting)
	if err := s.transport.DisconnectPeer(peer); err != nil && !errors.Is(err, transport.ErrPeerNotFound) {
		s.log.Warnf("server: disconnect peer %d: %v", peer, err)
	}
}

func (s *Server) kickAll(code protocol.AccessDeniedCode, reason string, reconnect bool) {
	for _, c := range s.clients.Snapshot(session.Created) {
		s.DenyAccess(c.Peer, code, reason, reconnect)
	}
}
