package protocol

// Server to client opcodes.
const (
	ToClientHello                 uint16 = 0x02
	ToClientAccessDenied          uint16 = 0x0A
	ToClientBlockData             uint16 = 0x20
	ToClientAddNode               uint16 = 0x21
	ToClientRemoveNode            uint16 = 0x22
	ToClientTimeOfDay             uint16 = 0x29
	ToClientChatMessage           uint16 = 0x2F
	ToClientActiveObjectRemoveAdd uint16 = 0x31
	ToClientActiveObjectMessages  uint16 = 0x32
	ToClientMovePlayer            uint16 = 0x34
	ToClientNodeDef               uint16 = 0x3A
	ToClientItemDef               uint16 = 0x3D
	ToClientPlaySound             uint16 = 0x3F
	ToClientStopSound             uint16 = 0x40
	ToClientSpawnParticle         uint16 = 0x46
	ToClientAddParticleSpawner    uint16 = 0x47
	ToClientNodeMetaChanged       uint16 = 0x4C
	ToClientDeleteParticleSpawner uint16 = 0x53
	ToClientFadeSound             uint16 = 0x55
	ToClientUpdatePlayerList      uint16 = 0x56
)

// Client to server opcodes.
const (
	ToServerInit          uint16 = 0x02
	ToServerInit2         uint16 = 0x11
	ToServerPlayerPos     uint16 = 0x23
	ToServerGotBlocks     uint16 = 0x24
	ToServerDeletedBlocks uint16 = 0x25
	ToServerChatMessage   uint16 = 0x32
	ToServerRemovedSounds uint16 = 0x3A
	ToServerClientReady   uint16 = 0x43
)

// AO command bytes carried as byte 0 of an active object message payload.
const (
	AOCmdUpdatePosition  byte = 0x00
	AOCmdSetTextureMod   byte = 0x01
	AOCmdSetSprite       byte = 0x02
	AOCmdPunched         byte = 0x03
	AOCmdUpdateArmorGrp  byte = 0x04
	AOCmdSetAnimation    byte = 0x05
	AOCmdSetBonePosition byte = 0x06
	AOCmdAttachTo        byte = 0x07
	AOCmdSetProperties   byte = 0x08
)

// UPDATE_PLAYER_LIST types.
const (
	PlayerListInit   byte = 0
	PlayerListAdd    byte = 1
	PlayerListRemove byte = 2
)

// Chat message types.
const (
	ChatMessageRaw      byte = 0
	ChatMessageNormal   byte = 1
	ChatMessageAnnounce byte = 2
	ChatMessageSystem   byte = 3
)

// SoundType selects how a client positions a sound.
type SoundType uint8

const (
	SoundLocal SoundType = iota
	SoundPositional
	SoundObject
)
