package protocol

// ClientState is the handshake progress of one connected client. States
// are ordered: a command is accepted when the session is at or above the
// command's minimum state.
type ClientState uint8

const (
	StateDisconnecting ClientState = iota
	StateCreated
	StateInitSent
	StateDefinitionsSent
	StateActive
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnecting:
		return "Disconnecting"
	case StateCreated:
		return "Created"
	case StateInitSent:
		return "InitSent"
	case StateDefinitionsSent:
		return "DefinitionsSent"
	case StateActive:
		return "Active"
	default:
		return "Invalid"
	}
}

// ServerCommand describes how an incoming opcode is gated.
type ServerCommand struct {
	Name     string
	MinState ClientState
	// Silent commands arriving too early are dropped without a diagnostic.
	Silent bool
}

// ClientCommand describes how an outgoing opcode is delivered.
type ClientCommand struct {
	Name     string
	Channel  uint8
	Reliable bool
}

var serverCommands = map[uint16]ServerCommand{
	ToServerInit:          {Name: "TOSERVER_INIT", MinState: StateCreated},
	ToServerInit2:         {Name: "TOSERVER_INIT2", MinState: StateInitSent},
	ToServerClientReady:   {Name: "TOSERVER_CLIENT_READY", MinState: StateDefinitionsSent},
	ToServerPlayerPos:     {Name: "TOSERVER_PLAYERPOS", MinState: StateActive, Silent: true},
	ToServerGotBlocks:     {Name: "TOSERVER_GOTBLOCKS", MinState: StateActive},
	ToServerDeletedBlocks: {Name: "TOSERVER_DELETEDBLOCKS", MinState: StateActive},
	ToServerChatMessage:   {Name: "TOSERVER_CHAT_MESSAGE", MinState: StateActive},
	ToServerRemovedSounds: {Name: "TOSERVER_REMOVED_SOUNDS", MinState: StateActive},
}

var clientCommands = map[uint16]ClientCommand{
	ToClientHello:                 {Name: "TOCLIENT_HELLO", Channel: ChannelDefault, Reliable: true},
	ToClientAccessDenied:          {Name: "TOCLIENT_ACCESS_DENIED", Channel: ChannelDefault, Reliable: true},
	ToClientBlockData:             {Name: "TOCLIENT_BLOCKDATA", Channel: ChannelBlocks, Reliable: true},
	ToClientAddNode:               {Name: "TOCLIENT_ADDNODE", Channel: ChannelDefault, Reliable: true},
	ToClientRemoveNode:            {Name: "TOCLIENT_REMOVENODE", Channel: ChannelDefault, Reliable: true},
	ToClientTimeOfDay:             {Name: "TOCLIENT_TIME_OF_DAY", Channel: ChannelDefault, Reliable: true},
	ToClientChatMessage:           {Name: "TOCLIENT_CHAT_MESSAGE", Channel: ChannelDefault, Reliable: true},
	ToClientActiveObjectRemoveAdd: {Name: "TOCLIENT_ACTIVE_OBJECT_REMOVE_ADD", Channel: ChannelDefault, Reliable: true},
	ToClientActiveObjectMessages:  {Name: "TOCLIENT_ACTIVE_OBJECT_MESSAGES", Channel: ChannelDefault, Reliable: true},
	ToClientMovePlayer:            {Name: "TOCLIENT_MOVE_PLAYER", Channel: ChannelDefault, Reliable: true},
	ToClientNodeDef:               {Name: "TOCLIENT_NODEDEF", Channel: ChannelDefault, Reliable: true},
	ToClientItemDef:               {Name: "TOCLIENT_ITEMDEF", Channel: ChannelDefault, Reliable: true},
	ToClientPlaySound:             {Name: "TOCLIENT_PLAY_SOUND", Channel: ChannelDefault, Reliable: true},
	ToClientStopSound:             {Name: "TOCLIENT_STOP_SOUND", Channel: ChannelDefault, Reliable: true},
	ToClientSpawnParticle:         {Name: "TOCLIENT_SPAWN_PARTICLE", Channel: ChannelDefault, Reliable: true},
	ToClientAddParticleSpawner:    {Name: "TOCLIENT_ADD_PARTICLESPAWNER", Channel: ChannelDefault, Reliable: true},
	ToClientNodeMetaChanged:       {Name: "TOCLIENT_NODEMETA_CHANGED", Channel: ChannelBlocks, Reliable: true},
	ToClientDeleteParticleSpawner: {Name: "TOCLIENT_DELETE_PARTICLESPAWNER", Channel: ChannelDefault, Reliable: true},
	ToClientFadeSound:             {Name: "TOCLIENT_FADE_SOUND", Channel: ChannelDefault, Reliable: true},
	ToClientUpdatePlayerList:      {Name: "TOCLIENT_UPDATE_PLAYER_LIST", Channel: ChannelDefault, Reliable: true},
}

// LookupServerCommand returns the gating entry for an incoming opcode.
func LookupServerCommand(cmd uint16) (ServerCommand, bool) {
	c, ok := serverCommands[cmd]
	return c, ok
}

// LookupClientCommand returns the delivery entry for an outgoing opcode.
// Unknown opcodes default to reliable delivery on the default channel.
func LookupClientCommand(cmd uint16) ClientCommand {
	if c, ok := clientCommands[cmd]; ok {
		return c
	}
	return ClientCommand{Name: "TOCLIENT_UNKNOWN", Channel: ChannelDefault, Reliable: true}
}
