package server

import (
	"time"

	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapedit"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/sim/shutdown"
	"voxelsync.ai/internal/sim/sound"
)

// OnMapEdit queues a map edit for the next step.
func (s *Server) OnMapEdit(e mapedit.Event) bool { return s.bus.Push(e) }

// IgnoreMapEdits suppresses edits inside area until restore is called.
func (s *Server) IgnoreMapEdits(area geom.Box) (restore func()) {
	return s.bus.IgnoreArea(area)
}

func (s *Server) PlaySound(spec sound.Spec, p sound.Params, ephemeral bool) (int32, bool) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	return s.sounds.PlaySound(spec, p, ephemeral)
}

func (s *Server) StopSound(handle int32) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	s.sounds.StopSound(handle)
}

func (s *Server) FadeSound(handle int32, step, gain float32) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	s.sounds.FadeSound(handle, step, gain)
}

func (s *Server) SpawnParticle(player string, f protocol.ParticleFields) bool {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	return s.particles.SpawnParticle(player, f)
}

func (s *Server) AddParticleSpawner(f protocol.SpawnerFields, attached uint16, player string) (uint32, bool) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	return s.particles.AddParticleSpawner(f, attached, player)
}

func (s *Server) DeleteParticleSpawner(player string, id uint32) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	s.particles.DeleteParticleSpawner(player, id)
}

// RequestShutdown arms, fires or cancels the shutdown countdown. See
// shutdown.Machine.Trigger for the meaning of delay.
func (s *Server) RequestShutdown(msg string, reconnect bool, delay float64) {
	s.shutdown.Trigger(delay, msg, reconnect)
}

func (s *Server) ShutdownRequested() bool { return s.shutdown.Requested() }

// Kick disconnects the named player. It reports whether the player was
// connected.
func (s *Server) Kick(name, reason string) bool {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	if name == "" {
		return false
	}
	c, ok := s.clients.ByName(name, session.Created)
	if !ok {
		return false
	}
	msg := "Kicked."
	if reason != "" {
		msg = "Kicked: " + reason
	}
	s.DenyAccess(c.Peer, protocol.DenyCustomString, msg, false)
	return true
}

func (s *Server) SetTimeOfDay(t uint16) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	s.env.SetTimeOfDay(t)
	s.sendTimeOfDay()
}

// ClientInfo describes one session for the admin console.
type ClientInfo struct {
	Peer          uint16
	Name          string
	Address       string
	State         string
	ProtocolVer   uint16
	KnownBlocks   int
	KnownObjects  int
	ConnectedSecs int64
}

// Status is a point-in-time summary of the server.
type Status struct {
	Uptime           time.Duration
	Clients          []ClientInfo
	TimeOfDay        uint16
	LoadedBlocks     int
	Objects          int
	PlayingSounds    int
	ParticleSpawners int
	PendingMapEdits  int
	Shutdown         shutdown.State
	ShutdownIn       float64
}

func (s *Server) Status() Status {
	s.envMu.Lock()
	defer s.envMu.Unlock()

	now := time.Now()
	st := Status{
		Uptime:           now.Sub(s.startedAt),
		TimeOfDay:        s.env.TimeOfDay(),
		LoadedBlocks:     s.env.Map.LoadedBlocks(),
		Objects:          s.env.Objects.Len(),
		PlayingSounds:    s.sounds.Len(),
		ParticleSpawners: s.particles.Len(),
		PendingMapEdits:  s.bus.Len(),
		Shutdown:         s.shutdown.State(),
		ShutdownIn:       s.shutdown.Remaining(),
	}
	for _, c := range s.clients.Snapshot(session.Created) {
		st.Clients = append(st.Clients, ClientInfo{
			Peer:          uint16(c.Peer),
			Name:          c.Name,
			Address:       c.Address,
			State:         c.State().String(),
			ProtocolVer:   c.ProtocolVersion(),
			KnownBlocks:   c.KnownBlockCount(),
			KnownObjects:  len(c.KnownObjects()),
			ConnectedSecs: int64(now.Sub(c.ConnectedAt).Seconds()),
		})
	}
	return st
}
