package protocol

import (
	"voxelsync.ai/internal/sim/geom"
)

// Hello answers an accepted TOSERVER_INIT.
func Hello(serVer uint8, protoVer uint16, authMechs uint32, name string) *Packet {
	w := NewWriter(1 + 2 + 2 + 4 + 2 + len(name))
	w.U8(serVer)
	w.U16(0) // compression mode, unused
	w.U16(protoVer)
	w.U32(authMechs)
	w.String16(name)
	return w.Packet(ToClientHello)
}

// AccessDenied carries the reason string only for custom, shutdown and
// crash codes, and the reconnect flag only for shutdown and crash.
func AccessDenied(code AccessDeniedCode, reason string, reconnect bool) *Packet {
	w := NewWriter(1 + 2 + len(reason) + 1)
	w.U8(uint8(code))
	if code.CarriesReason() {
		w.String16(reason)
	}
	if code.CarriesReconnect() {
		w.Bool(reconnect)
	}
	return w.Packet(ToClientAccessDenied)
}

func BlockData(pos geom.V3s16, serialized []byte) *Packet {
	w := NewWriter(6 + len(serialized) + 1)
	w.V3S16(pos)
	w.Raw(serialized)
	w.U8(BlockNetworkTrailer)
	return w.Packet(ToClientBlockData)
}

func AddNode(pos geom.V3s16, param0 uint16, param1, param2 uint8, keepMetadata bool) *Packet {
	w := NewWriter(6 + 2 + 1 + 1 + 1)
	w.V3S16(pos)
	w.U16(param0)
	w.U8(param1)
	w.U8(param2)
	w.Bool(keepMetadata)
	return w.Packet(ToClientAddNode)
}

func RemoveNode(pos geom.V3s16) *Packet {
	w := NewWriter(6)
	w.V3S16(pos)
	return w.Packet(ToClientRemoveNode)
}

func TimeOfDay(time uint16, speed float32) *Packet {
	w := NewWriter(6)
	w.U16(time)
	w.F32(speed)
	return w.Packet(ToClientTimeOfDay)
}

func ChatMessage(kind byte, sender, text string, timestamp int64) *Packet {
	w := NewWriter(2 + 4 + len(sender) + len(text) + 8)
	w.U8(1) // message version
	w.U8(kind)
	w.String16(sender)
	w.String16(text)
	w.S64(timestamp)
	return w.Packet(ToClientChatMessage)
}

// AOAdded is one entry of the added list of ACTIVE_OBJECT_REMOVE_ADD.
type AOAdded struct {
	ID       uint16
	Type     uint8
	InitData string
}

func ActiveObjectRemoveAdd(removed []uint16, added []AOAdded) *Packet {
	w := NewWriter(4 + 2*len(removed) + 7*len(added))
	w.U16(uint16(len(removed)))
	for _, id := range removed {
		w.U16(id)
	}
	w.U16(uint16(len(added)))
	for _, a := range added {
		w.U16(a.ID)
		w.U8(a.Type)
		w.String32(a.InitData)
	}
	return w.Packet(ToClientActiveObjectRemoveAdd)
}

// AOMessage is one (id, payload) entry of ACTIVE_OBJECT_MESSAGES.
type AOMessage struct {
	ID      uint16
	Payload string
}

func ActiveObjectMessages(msgs []AOMessage) *Packet {
	w := NewWriter(64)
	for _, m := range msgs {
		w.U16(m.ID)
		w.String16(m.Payload)
	}
	return w.Packet(ToClientActiveObjectMessages)
}

func MovePlayer(pos geom.V3f, pitch, yaw float32) *Packet {
	w := NewWriter(20)
	w.V3F(pos)
	w.F32(pitch)
	w.F32(yaw)
	return w.Packet(ToClientMovePlayer)
}

// Definitions wraps an already compressed definitions blob as ITEMDEF or
// NODEDEF.
func Definitions(cmd uint16, compressed []byte) *Packet {
	w := NewWriter(4 + len(compressed))
	w.String32(string(compressed))
	return w.Packet(cmd)
}

func NodeMetaChanged(compressed []byte) *Packet {
	w := NewWriter(4 + len(compressed))
	w.String32(string(compressed))
	return w.Packet(ToClientNodeMetaChanged)
}

func UpdatePlayerList(kind byte, names []string) *Packet {
	w := NewWriter(3 + 16*len(names))
	w.U8(kind)
	w.U16(uint16(len(names)))
	for _, n := range names {
		w.String16(n)
	}
	return w.Packet(ToClientUpdatePlayerList)
}

// PlaySoundFields is the body of TOCLIENT_PLAY_SOUND.
type PlaySoundFields struct {
	ID        int32
	Name      string
	Gain      float32
	Type      SoundType
	Pos       geom.V3f
	Object    uint16
	Loop      bool
	Fade      float32
	Pitch     float32
	Ephemeral bool
}

// PlaySound builds the packet; legacy clients do not understand the pitch
// and ephemeral fields.
func PlaySound(f PlaySoundFields, legacy bool) *Packet {
	w := NewWriter(4 + 2 + len(f.Name) + 4 + 1 + 12 + 2 + 1 + 4 + 4 + 1)
	w.S32(f.ID)
	w.String16(f.Name)
	w.F32(f.Gain)
	w.U8(uint8(f.Type))
	w.V3F(f.Pos)
	w.U16(f.Object)
	w.Bool(f.Loop)
	w.F32(f.Fade)
	if !legacy {
		w.F32(f.Pitch)
		w.Bool(f.Ephemeral)
	}
	return w.Packet(ToClientPlaySound)
}

func StopSound(id int32) *Packet {
	w := NewWriter(4)
	w.S32(id)
	return w.Packet(ToClientStopSound)
}

func FadeSound(id int32, step, gain float32) *Packet {
	w := NewWriter(12)
	w.S32(id)
	w.F32(step)
	w.F32(gain)
	return w.Packet(ToClientFadeSound)
}

// ParticleFields is the body of TOCLIENT_SPAWN_PARTICLE.
type ParticleFields struct {
	Pos                geom.V3f
	Velocity           geom.V3f
	Acceleration       geom.V3f
	ExpirationTime     float32
	Size               float32
	CollisionDetection bool
	Texture            string
	Vertical           bool
	CollisionRemoval   bool
	Glow               uint8
}

func SpawnParticle(f ParticleFields) *Packet {
	w := NewWriter(48 + len(f.Texture))
	w.V3F(f.Pos)
	w.V3F(f.Velocity)
	w.V3F(f.Acceleration)
	w.F32(f.ExpirationTime)
	w.F32(f.Size)
	w.Bool(f.CollisionDetection)
	w.String32(f.Texture)
	w.Bool(f.Vertical)
	w.Bool(f.CollisionRemoval)
	w.U8(f.Glow)
	return w.Packet(ToClientSpawnParticle)
}

// SpawnerFields is the body of TOCLIENT_ADD_PARTICLESPAWNER.
type SpawnerFields struct {
	Amount             uint16
	SpawnTime          float32
	MinPos, MaxPos     geom.V3f
	MinVel, MaxVel     geom.V3f
	MinAcc, MaxAcc     geom.V3f
	MinExpTime         float32
	MaxExpTime         float32
	MinSize, MaxSize   float32
	CollisionDetection bool
	Texture            string
	ID                 uint32
	Vertical           bool
	CollisionRemoval   bool
	AttachedID         uint16
	Glow               uint8
}

func AddParticleSpawner(f SpawnerFields) *Packet {
	w := NewWriter(128 + len(f.Texture))
	w.U16(f.Amount)
	w.F32(f.SpawnTime)
	w.V3F(f.MinPos)
	w.V3F(f.MaxPos)
	w.V3F(f.MinVel)
	w.V3F(f.MaxVel)
	w.V3F(f.MinAcc)
	w.V3F(f.MaxAcc)
	w.F32(f.MinExpTime)
	w.F32(f.MaxExpTime)
	w.F32(f.MinSize)
	w.F32(f.MaxSize)
	w.Bool(f.CollisionDetection)
	w.String32(f.Texture)
	w.U32(f.ID)
	w.Bool(f.Vertical)
	w.Bool(f.CollisionRemoval)
	w.U16(f.AttachedID)
	w.U8(f.Glow)
	return w.Packet(ToClientAddParticleSpawner)
}

func DeleteParticleSpawner(id uint32) *Packet {
	w := NewWriter(4)
	w.U32(id)
	return w.Packet(ToClientDeleteParticleSpawner)
}
