// Package sound tracks playing sounds and particle spawners together with
// the clients subscribed to each, so stop, fade and delete requests reach
// exactly the clients that started them.
package sound

import (
	"math"
	"sort"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

// EphemeralHandle is returned for sounds that are not tracked.
const EphemeralHandle int32 = -1

// DefaultMaxHearDistance is 32 nodes.
const DefaultMaxHearDistance = 32 * geom.BS

type Spec struct {
	Name string
	Gain float32
}

// Params describes where and to whom a sound plays.
type Params struct {
	Type   protocol.SoundType
	Pos    geom.V3f
	Object uint16

	Gain  float32
	Pitch float32
	Fade  float32
	Loop  bool

	MaxHearDistance float32
	ToPlayer        string
	ExcludePlayer   string
}

func DefaultParams() Params {
	return Params{Gain: 1, Pitch: 1, MaxHearDistance: DefaultMaxHearDistance}
}

// PositionSource resolves object positions, including player objects.
type PositionSource interface {
	ObjectBasePosition(id uint16) (geom.V3f, bool)
}

type Sender interface {
	SendOn(peer transport.PeerID, channel uint8, reliable bool, pkt *protocol.Packet)
}

// Playing is one tracked sound.
type Playing struct {
	ID      int32
	Spec    Spec
	Params  Params
	Clients map[transport.PeerID]struct{}
}

func (p *Playing) Subscribers() []transport.PeerID {
	return sortedPeers(p.Clients)
}

type Registry struct {
	clients   *session.Table
	positions PositionSource
	send      Sender
	log       *logging.Logger
	metrics   metrics.Metrics

	nextID  int32
	playing map[int32]*Playing
}

func NewRegistry(clients *session.Table, positions PositionSource, send Sender, log *logging.Logger, m metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Registry{
		clients:   clients,
		positions: positions,
		send:      send,
		log:       log,
		metrics:   m,
		playing:   map[int32]*Playing{},
	}
}

// nextHandle wraps at MaxInt32 back to 0 and skips handles still in use.
func (r *Registry) nextHandle() int32 {
	for {
		id := r.nextID
		if r.nextID == math.MaxInt32 {
			r.nextID = 0
		} else {
			r.nextID++
		}
		if _, used := r.playing[id]; !used {
			return id
		}
	}
}

func (r *Registry) position(p Params) (geom.V3f, bool) {
	switch p.Type {
	case protocol.SoundPositional:
		return p.Pos, true
	case protocol.SoundObject:
		if p.Object == 0 {
			return geom.V3f{}, false
		}
		return r.positions.ObjectBasePosition(p.Object)
	}
	return geom.V3f{}, false
}

func clientPos(positions PositionSource, c *session.Client) (geom.V3f, bool) {
	if c.PlayerObject == 0 {
		return geom.V3f{}, false
	}
	return positions.ObjectBasePosition(c.PlayerObject)
}

func (r *Registry) destinations(p Params, pos geom.V3f, hasPos bool) []*session.Client {
	if p.ToPlayer != "" {
		c, ok := r.clients.ByName(p.ToPlayer, session.Active)
		if !ok {
			r.log.Infof("sound: player %q not connected", p.ToPlayer)
			return nil
		}
		return []*session.Client{c}
	}
	var out []*session.Client
	for _, c := range r.clients.Snapshot(session.Active) {
		if p.ExcludePlayer != "" && c.Name == p.ExcludePlayer {
			continue
		}
		cp, ok := clientPos(r.positions, c)
		if !ok {
			continue
		}
		if hasPos && cp.Distance(pos) > p.MaxHearDistance {
			continue
		}
		out = append(out, c)
	}
	return out
}

// PlaySound starts a sound and returns its handle. ok is false when the
// sound's object is gone or nobody can hear it. Ephemeral sounds return
// EphemeralHandle and cannot be stopped or faded.
func (r *Registry) PlaySound(spec Spec, p Params, ephemeral bool) (int32, bool) {
	pos, hasPos := r.position(p)
	if hasPos != (p.Type != protocol.SoundLocal) {
		return 0, false
	}
	dst := r.destinations(p, pos, hasPos)
	if len(dst) == 0 {
		return 0, false
	}

	id := EphemeralHandle
	var ps *Playing
	if !ephemeral {
		id = r.nextHandle()
		ps = &Playing{ID: id, Spec: spec, Params: p, Clients: map[transport.PeerID]struct{}{}}
		r.playing[id] = ps
	}

	f := protocol.PlaySoundFields{
		ID:        id,
		Name:      spec.Name,
		Gain:      p.Gain * spec.Gain,
		Type:      p.Type,
		Pos:       pos,
		Object:    p.Object,
		Loop:      p.Loop,
		Fade:      p.Fade,
		Pitch:     p.Pitch,
		Ephemeral: ephemeral,
	}
	var modern, legacy *protocol.Packet
	for _, c := range dst {
		if ps != nil {
			ps.Clients[c.Peer] = struct{}{}
		}
		pkt := modern
		if protocol.IsLegacy(c.ProtocolVersion()) {
			if legacy == nil {
				legacy = protocol.PlaySound(f, true)
			}
			pkt = legacy
		} else if pkt == nil {
			modern = protocol.PlaySound(f, false)
			pkt = modern
		}
		r.send.SendOn(c.Peer, protocol.ChannelDefault, !ephemeral, pkt)
	}
	r.metrics.SetPlayingSounds(len(r.playing))
	return id, true
}

// StopSound sends STOP_SOUND to every subscriber and forgets the handle.
func (r *Registry) StopSound(handle int32) {
	ps, ok := r.playing[handle]
	if !ok {
		return
	}
	pkt := protocol.StopSound(handle)
	for _, peer := range ps.Subscribers() {
		r.send.SendOn(peer, protocol.ChannelDefault, true, pkt)
	}
	delete(r.playing, handle)
	r.metrics.SetPlayingSounds(len(r.playing))
}

// FadeSound changes the gain over time. Fading to silence ends the sound.
func (r *Registry) FadeSound(handle int32, step, gain float32) {
	ps, ok := r.playing[handle]
	if !ok {
		return
	}
	ps.Params.Gain = gain
	pkt := protocol.FadeSound(handle, step, gain)
	for _, peer := range ps.Subscribers() {
		r.send.SendOn(peer, protocol.ChannelDefault, true, pkt)
	}
	if gain <= 0 || len(ps.Clients) == 0 {
		delete(r.playing, handle)
	}
	r.metrics.SetPlayingSounds(len(r.playing))
}

// RemoveClient drops peer from every sound. Sounds left without
// subscribers are forgotten.
func (r *Registry) RemoveClient(peer transport.PeerID) {
	for id, ps := range r.playing {
		delete(ps.Clients, peer)
		if len(ps.Clients) == 0 {
			delete(r.playing, id)
		}
	}
	r.metrics.SetPlayingSounds(len(r.playing))
}

// ClientRemovedSounds handles a client's report that the listed sounds
// finished on its side.
func (r *Registry) ClientRemovedSounds(peer transport.PeerID, handles []int32) {
	for _, id := range handles {
		ps, ok := r.playing[id]
		if !ok {
			continue
		}
		delete(ps.Clients, peer)
		if len(ps.Clients) == 0 {
			delete(r.playing, id)
		}
	}
	r.metrics.SetPlayingSounds(len(r.playing))
}

func (r *Registry) Get(handle int32) (*Playing, bool) {
	ps, ok := r.playing[handle]
	return ps, ok
}

func (r *Registry) Len() int { return len(r.playing) }

func sortedPeers(set map[transport.PeerID]struct{}) []transport.PeerID {
	out := make([]transport.PeerID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
