package env

import (
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
)

// Object types announced in ACTIVE_OBJECT_REMOVE_ADD.
const (
	ObjectTypeTest    uint8 = 1
	ObjectTypeItem    uint8 = 2
	ObjectTypeLuaEnt  uint8 = 7
	ObjectTypeGeneric uint8 = 101
)

// Object is one active object in the arena.
type Object struct {
	ID       uint16
	Type     uint8
	Pos      geom.V3f
	Yaw      float32
	ParentID uint16
	InitData string
	IsPlayer bool

	// KnownBy counts the clients that currently have this object. The
	// synchronizer maintains it; the arena only purges gone objects once
	// it drops to zero.
	KnownBy int
	Gone    bool
}

// ObjectMessage is one queued active object update. Legacy, when set, is
// the payload sent to clients older than the modern protocol.
type ObjectMessage struct {
	ID       uint16
	Reliable bool
	Payload  string
	Legacy   string
}

// IsPositionUpdate reports whether the message moves the object.
func (m ObjectMessage) IsPositionUpdate() bool {
	return len(m.Payload) > 0 && m.Payload[0] == protocol.AOCmdUpdatePosition
}

type ObjectArena struct {
	objects  map[uint16]*Object
	nextID   uint16
	messages []ObjectMessage
}

func NewObjectArena() *ObjectArena {
	return &ObjectArena{objects: map[uint16]*Object{}, nextID: 1}
}

// Add stores o under a fresh non-zero id and returns it. It returns 0 when
// every id is in use.
func (a *ObjectArena) Add(o *Object) uint16 {
	for i := 0; i < 0xFFFF; i++ {
		id := a.nextID
		a.nextID++
		if a.nextID == 0 {
			a.nextID = 1
		}
		if _, used := a.objects[id]; !used {
			o.ID = id
			a.objects[id] = o
			return id
		}
	}
	return 0
}

// Remove marks the object gone. It stays resolvable until no client knows
// it any more.
func (a *ObjectArena) Remove(id uint16) {
	if o, ok := a.objects[id]; ok {
		o.Gone = true
		if o.KnownBy <= 0 {
			delete(a.objects, id)
		}
	}
}

func (a *ObjectArena) Object(id uint16) (*Object, bool) {
	o, ok := a.objects[id]
	return o, ok
}

func (a *ObjectArena) IncKnownBy(id uint16) {
	if o, ok := a.objects[id]; ok {
		o.KnownBy++
	}
}

func (a *ObjectArena) DecKnownBy(id uint16) {
	o, ok := a.objects[id]
	if !ok {
		return
	}
	if o.KnownBy > 0 {
		o.KnownBy--
	}
	if o.Gone && o.KnownBy == 0 {
		delete(a.objects, id)
	}
}

// Visible lists live objects within radius of center. Players use
// playerRadius instead, where 0 means unlimited.
func (a *ObjectArena) Visible(center geom.V3f, radius, playerRadius float32) []uint16 {
	out := make([]uint16, 0, len(a.objects))
	for id, o := range a.objects {
		if o.Gone {
			continue
		}
		d := o.Pos.Distance(center)
		if o.IsPlayer {
			if playerRadius != 0 && d > playerRadius {
				continue
			}
		} else if d > radius {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Move updates the position and queues an unreliable position message.
func (a *ObjectArena) Move(id uint16, pos geom.V3f, yaw float32) {
	o, ok := a.objects[id]
	if !ok || o.Gone {
		return
	}
	o.Pos = pos
	o.Yaw = yaw
	w := protocol.NewWriter(20)
	w.U8(protocol.AOCmdUpdatePosition)
	w.V3F(pos)
	w.F32(yaw)
	a.QueueMessage(ObjectMessage{ID: id, Reliable: false, Payload: string(w.Bytes())})
}

func (a *ObjectArena) QueueMessage(m ObjectMessage) {
	a.messages = append(a.messages, m)
}

// DrainMessages returns and clears the queued messages in arrival order.
func (a *ObjectArena) DrainMessages() []ObjectMessage {
	out := a.messages
	a.messages = nil
	return out
}

func (a *ObjectArena) Len() int { return len(a.objects) }
