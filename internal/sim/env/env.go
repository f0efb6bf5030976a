// Package env provides the reference world collaborators the server
// synchronizes: the block map, the active object arena, connected players
// and the time of day.
package env

import (
	"math"
	"sort"

	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/transport"
)

// Player is the world-side record of a connected player.
type Player struct {
	Name     string
	Peer     transport.PeerID
	ObjectID uint16
	Pos      geom.V3f
	Pitch    float32
	Yaw      float32
}

// Environment is not safe for concurrent use; the server serializes access
// with its environment lock.
type Environment struct {
	Map     *Map
	Objects *ObjectArena
	Script  ScriptHost

	players map[transport.PeerID]*Player

	timeOfDay float64 // 0..24000
	timeSpeed float64
}

func New(m *Map, script ScriptHost, timeSpeed float64) *Environment {
	if script == nil {
		script = NopScriptHost{}
	}
	return &Environment{
		Map:       m,
		Objects:   NewObjectArena(),
		Script:    script,
		players:   map[transport.PeerID]*Player{},
		timeOfDay: 6000,
		timeSpeed: timeSpeed,
	}
}

// Step advances the clock and the script host.
func (e *Environment) Step(dtime float64) {
	// time_speed 72 means one in-game day per 20 real minutes.
	e.timeOfDay = math.Mod(e.timeOfDay+dtime*e.timeSpeed*24000/86400, 24000)
	e.Script.Step(dtime)
}

func (e *Environment) TimeOfDay() uint16  { return uint16(e.timeOfDay) }
func (e *Environment) TimeSpeed() float32 { return float32(e.timeSpeed) }

func (e *Environment) SetTimeOfDay(t uint16) {
	e.timeOfDay = float64(t % 24000)
}

// AddPlayer creates the player and its active object at pos.
func (e *Environment) AddPlayer(peer transport.PeerID, name string, pos geom.V3f) *Player {
	p := &Player{Name: name, Peer: peer, Pos: pos}
	p.ObjectID = e.Objects.Add(&Object{
		Type:     ObjectTypeGeneric,
		Pos:      pos,
		IsPlayer: true,
		InitData: name,
	})
	e.players[peer] = p
	return p
}

// RemovePlayer drops the player and marks its object gone.
func (e *Environment) RemovePlayer(peer transport.PeerID) (*Player, bool) {
	p, ok := e.players[peer]
	if !ok {
		return nil, false
	}
	delete(e.players, peer)
	e.Objects.Remove(p.ObjectID)
	return p, true
}

func (e *Environment) Player(peer transport.PeerID) (*Player, bool) {
	p, ok := e.players[peer]
	return p, ok
}

// MovePlayer applies a client position report.
func (e *Environment) MovePlayer(peer transport.PeerID, pos geom.V3f, pitch, yaw float32) {
	p, ok := e.players[peer]
	if !ok {
		return
	}
	p.Pos, p.Pitch, p.Yaw = pos, pitch, yaw
	e.Objects.Move(p.ObjectID, pos, yaw)
}

// ObjectBasePosition resolves an object's position for positional effects.
func (e *Environment) ObjectBasePosition(id uint16) (geom.V3f, bool) {
	o, ok := e.Objects.Object(id)
	if !ok || o.Gone {
		return geom.V3f{}, false
	}
	return o.Pos, true
}

// PlayerNames lists connected player names, sorted.
func (e *Environment) PlayerNames() []string {
	out := make([]string, 0, len(e.players))
	for _, p := range e.players {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}
