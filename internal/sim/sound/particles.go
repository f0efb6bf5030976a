package sound

import (
	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

// Spawner is one particle spawner that clients are running.
type Spawner struct {
	ID         uint32
	AttachedID uint16
	// Remaining seconds; zero or less at creation means it runs until
	// deleted.
	Remaining float32
	Infinite  bool
	Clients   map[transport.PeerID]struct{}
}

type Particles struct {
	clients   *session.Table
	positions PositionSource
	send      Sender
	log       *logging.Logger
	metrics   metrics.Metrics
	radius    float32

	spawners map[uint32]*Spawner
}

// NewParticles sends particles to clients within sendDistance blocks.
func NewParticles(clients *session.Table, positions PositionSource, send Sender, sendDistance int, log *logging.Logger, m metrics.Metrics) *Particles {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Particles{
		clients:   clients,
		positions: positions,
		send:      send,
		log:       log,
		metrics:   m,
		radius:    float32(sendDistance*geom.BlockSize) * geom.BS,
		spawners:  map[uint32]*Spawner{},
	}
}

// targets resolves a player name, or every active client when name is
// empty. ok is false when the named player is not connected.
func (p *Particles) targets(name string) ([]*session.Client, bool) {
	if name == "" {
		return p.clients.Snapshot(session.Active), true
	}
	c, ok := p.clients.ByName(name, session.Active)
	if !ok {
		return nil, false
	}
	return []*session.Client{c}, true
}

func (p *Particles) near(c *session.Client, pos geom.V3f) bool {
	cp, ok := clientPos(p.positions, c)
	return ok && cp.Distance(pos) <= p.radius
}

// SpawnParticle sends a single particle. Without a player name it goes to
// every client close enough to see it. Positions are in nodes.
func (p *Particles) SpawnParticle(player string, f protocol.ParticleFields) bool {
	dst, ok := p.targets(player)
	if !ok {
		return false
	}
	pkt := protocol.SpawnParticle(f)
	pos := f.Pos.Scale(geom.BS)
	for _, c := range dst {
		if player == "" && !p.near(c, pos) {
			continue
		}
		p.send.SendOn(c.Peer, protocol.ChannelDefault, true, pkt)
	}
	return true
}

func (p *Particles) allocateID() uint32 {
	id := uint32(1)
	for {
		if _, used := p.spawners[id]; !used {
			return id
		}
		id++
	}
}

// AddParticleSpawner registers a spawner and sends it out. Short-lived
// unattached spawners only reach nearby clients.
func (p *Particles) AddParticleSpawner(f protocol.SpawnerFields, attached uint16, player string) (uint32, bool) {
	dst, ok := p.targets(player)
	if !ok {
		return 0, false
	}
	s := &Spawner{
		ID:         p.allocateID(),
		AttachedID: attached,
		Remaining:  f.SpawnTime,
		Infinite:   f.SpawnTime <= 0,
		Clients:    map[transport.PeerID]struct{}{},
	}
	p.spawners[s.ID] = s

	f.ID = s.ID
	f.AttachedID = attached
	pkt := protocol.AddParticleSpawner(f)
	center := f.MinPos.Add(f.MaxPos).Scale(geom.BS / 2)
	distanceCheck := player == "" && attached == 0 && f.SpawnTime <= 1
	for _, c := range dst {
		if distanceCheck && !p.near(c, center) {
			continue
		}
		s.Clients[c.Peer] = struct{}{}
		p.send.SendOn(c.Peer, protocol.ChannelDefault, true, pkt)
	}
	p.metrics.SetParticleSpawners(len(p.spawners))
	return s.ID, true
}

// DeleteParticleSpawner removes the spawner and tells the named player, or
// every subscriber when player is empty.
func (p *Particles) DeleteParticleSpawner(player string, id uint32) {
	var dst []transport.PeerID
	if player != "" {
		c, ok := p.clients.ByName(player, session.Active)
		if !ok {
			return
		}
		dst = []transport.PeerID{c.Peer}
	} else if s, ok := p.spawners[id]; ok {
		dst = sortedPeers(s.Clients)
	}
	delete(p.spawners, id)
	pkt := protocol.DeleteParticleSpawner(id)
	for _, peer := range dst {
		p.send.SendOn(peer, protocol.ChannelDefault, true, pkt)
	}
	p.metrics.SetParticleSpawners(len(p.spawners))
}

// Step expires timed spawners and drops spawners whose object is gone.
// It returns the number removed.
func (p *Particles) Step(dtime float32) int {
	removed := 0
	for id, s := range p.spawners {
		if s.AttachedID != 0 {
			if _, ok := p.positions.ObjectBasePosition(s.AttachedID); !ok {
				p.DeleteParticleSpawner("", id)
				removed++
				continue
			}
		}
		if s.Infinite {
			continue
		}
		s.Remaining -= dtime
		if s.Remaining <= 0 {
			delete(p.spawners, id)
			removed++
		}
	}
	if removed > 0 {
		p.metrics.SetParticleSpawners(len(p.spawners))
	}
	return removed
}

// RemoveClient drops peer from every spawner. Spawners nobody runs any
// more are forgotten.
func (p *Particles) RemoveClient(peer transport.PeerID) {
	for id, s := range p.spawners {
		delete(s.Clients, peer)
		if len(s.Clients) == 0 {
			delete(p.spawners, id)
		}
	}
	p.metrics.SetParticleSpawners(len(p.spawners))
}

func (p *Particles) Get(id uint32) (*Spawner, bool) {
	s, ok := p.spawners[id]
	return s, ok
}

func (p *Particles) Len() int { return len(p.spawners) }
