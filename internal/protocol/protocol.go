// Package protocol defines the binary client protocol: opcodes, the
// per-opcode state and channel tables, access-denied codes, the big-endian
// codec and the packet builders used by the server.
package protocol

// Versions negotiated during the INIT handshake.
const (
	ProtocolVersionMin = 36
	ProtocolVersionMax = 39

	// Clients below this protocol version receive the legacy shapes of
	// PLAY_SOUND, ACTIVE_OBJECT_MESSAGES and NODEMETA_CHANGED.
	ProtocolVersionModern = 37

	SerFmtVerLowest  = 28
	SerFmtVerHighest = 29

	// Serialization versions from here on compress whole blocks with zstd.
	SerFmtVerZstd = 29
)

// Transport channels.
const (
	ChannelDefault    = 0
	ChannelUnreliable = 1
	ChannelBlocks     = 2
)

// BlockNetworkTrailer is appended after every serialized block in BLOCKDATA.
const BlockNetworkTrailer = 2

// AuthMechanism bits announced in HELLO.
const (
	AuthMechNone       uint32 = 0
	AuthMechFirstSRP   uint32 = 1 << 1
	AuthMechLegacyPass uint32 = 1 << 0
)

func IsLegacy(protoVer uint16) bool { return protoVer < ProtocolVersionModern }
