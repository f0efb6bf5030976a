// Package aosync keeps each client's view of active objects in line with
// what is visible around its player, and fans queued object messages out
// to the clients that know the objects.
package aosync

import (
	"sort"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/env"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

// ObjectSource is the slice of the object arena the synchronizer needs.
// Known-by counts live in the source; the synchronizer only moves them.
type ObjectSource interface {
	Visible(center geom.V3f, radius, playerRadius float32) []uint16
	Object(id uint16) (*env.Object, bool)
	IncKnownBy(id uint16)
	DecKnownBy(id uint16)
}

type Sender interface {
	Send(peer transport.PeerID, pkt *protocol.Packet)
	SendOn(peer transport.PeerID, channel uint8, reliable bool, pkt *protocol.Packet)
}

type Config struct {
	ActiveObjectSendRangeBlocks     int
	PlayerTransferDistance          int
	UnlimitedPlayerTransferDistance bool
}

// Radii converts the configured ranges into world units. A player radius
// of 0 means no limit.
func (c Config) Radii() (radius, playerRadius float32) {
	radius = float32(c.ActiveObjectSendRangeBlocks*geom.BlockSize) * geom.BS
	playerRadius = float32(c.PlayerTransferDistance*geom.BlockSize) * geom.BS
	if playerRadius == 0 && !c.UnlimitedPlayerTransferDistance {
		playerRadius = radius
	}
	return radius, playerRadius
}

type Synchronizer struct {
	objects      ObjectSource
	send         Sender
	log          *logging.Logger
	metrics      metrics.Metrics
	radius       float32
	playerRadius float32
}

func New(cfg Config, objects ObjectSource, send Sender, log *logging.Logger, m metrics.Metrics) *Synchronizer {
	if m == nil {
		m = metrics.NewNoop()
	}
	s := &Synchronizer{objects: objects, send: send, log: log, metrics: m}
	s.radius, s.playerRadius = cfg.Radii()
	return s
}

// Diff is the result of one remove/add pass for a client.
type Diff struct {
	Removed []uint16
	Added   []uint16
}

func (d Diff) Empty() bool { return len(d.Removed) == 0 && len(d.Added) == 0 }

// clientRadius limits the object radius to what the client asked to see.
func (s *Synchronizer) clientRadius(c *session.Client) float32 {
	r := float32(c.WantedRange()*geom.BlockSize) * geom.BS
	if s.radius < r {
		r = s.radius
	}
	if r <= 0 {
		return s.radius
	}
	return r
}

func (s *Synchronizer) center(c *session.Client) geom.V3f {
	if c.PlayerObject != 0 {
		if o, ok := s.objects.Object(c.PlayerObject); ok && !o.Gone {
			return o.Pos
		}
	}
	return c.CameraPos
}

// RemoveAdd brings the client's known set to the objects visible around
// it and sends ACTIVE_OBJECT_REMOVE_ADD when anything changed.
func (s *Synchronizer) RemoveAdd(c *session.Client) Diff {
	visible := map[uint16]struct{}{}
	for _, id := range s.objects.Visible(s.center(c), s.clientRadius(c), s.playerRadius) {
		visible[id] = struct{}{}
	}

	var d Diff
	for _, id := range c.KnownObjects() {
		if _, ok := visible[id]; ok {
			continue
		}
		d.Removed = append(d.Removed, id)
	}
	for id := range visible {
		if !c.KnowsObject(id) {
			d.Added = append(d.Added, id)
		}
	}
	sortIDs(d.Removed)
	sortIDs(d.Added)

	for _, id := range d.Removed {
		c.RemoveKnownObject(id)
		s.objects.DecKnownBy(id)
	}
	added := make([]protocol.AOAdded, 0, len(d.Added))
	for _, id := range d.Added {
		o, ok := s.objects.Object(id)
		if !ok {
			continue
		}
		c.AddKnownObject(id)
		s.objects.IncKnownBy(id)
		added = append(added, protocol.AOAdded{ID: id, Type: o.Type, InitData: o.InitData})
	}

	if d.Empty() {
		return d
	}
	s.send.Send(c.Peer, protocol.ActiveObjectRemoveAdd(d.Removed, added))
	s.metrics.ObjectsAddedRemoved(len(added), len(d.Removed))
	s.log.Verbosef("aosync: peer %d +%d -%d objects", c.Peer, len(added), len(d.Removed))
	return d
}

// Forget drops every object the client knows and releases the known-by
// counts. Used when the client is deleted.
func (s *Synchronizer) Forget(c *session.Client) {
	for _, id := range c.KnownObjects() {
		c.RemoveKnownObject(id)
		s.objects.DecKnownBy(id)
	}
}

type FanOutStats struct {
	Reliable   int
	Unreliable int
}

// FanOut delivers the drained object messages. Messages are grouped by
// object in first-seen order; each client gets at most one reliable and
// one unreliable ACTIVE_OBJECT_MESSAGES packet.
func (s *Synchronizer) FanOut(msgs []env.ObjectMessage, clients []*session.Client) FanOutStats {
	var st FanOutStats
	if len(msgs) == 0 {
		return st
	}
	var order []uint16
	byID := map[uint16][]env.ObjectMessage{}
	for _, m := range msgs {
		if _, seen := byID[m.ID]; !seen {
			order = append(order, m.ID)
		}
		byID[m.ID] = append(byID[m.ID], m)
	}

	for _, c := range clients {
		legacy := protocol.IsLegacy(c.ProtocolVersion())
		var reliable, unreliable []protocol.AOMessage
		for _, id := range order {
			if !c.KnowsObject(id) {
				continue
			}
			parentKnown := false
			if o, ok := s.objects.Object(id); ok && o.ParentID != 0 {
				parentKnown = c.KnowsObject(o.ParentID)
			}
			for _, m := range byID[id] {
				if m.IsPositionUpdate() && (id == c.PlayerObject || parentKnown) {
					continue
				}
				payload := m.Payload
				if legacy && m.Legacy != "" {
					payload = m.Legacy
				}
				am := protocol.AOMessage{ID: id, Payload: payload}
				if m.Reliable {
					reliable = append(reliable, am)
				} else {
					unreliable = append(unreliable, am)
				}
			}
		}
		if len(reliable) > 0 {
			s.send.SendOn(c.Peer, protocol.ChannelDefault, true, protocol.ActiveObjectMessages(reliable))
			st.Reliable++
		}
		if len(unreliable) > 0 {
			s.send.SendOn(c.Peer, protocol.ChannelUnreliable, false, protocol.ActiveObjectMessages(unreliable))
			st.Unreliable++
		}
	}
	return st
}

func sortIDs(ids []uint16) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
