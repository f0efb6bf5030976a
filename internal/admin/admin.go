// Package admin serves a RESP console for operators: status, client list,
// kicks, time of day and shutdown control. Any redis client can talk to it.
package admin

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/redcon"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/server"
)

// Backend is the part of the server the console drives.
type Backend interface {
	Status() server.Status
	Kick(name, reason string) bool
	RequestShutdown(msg string, reconnect bool, delay float64)
	SetTimeOfDay(t uint16)
}

type CommandFunc func(conn redcon.Conn, args [][]byte)

type Console struct {
	addr     string
	backend  Backend
	log      *logging.Logger
	commands map[string]CommandFunc

	mu       sync.RWMutex
	server   *redcon.Server
	listener net.Listener
}

func New(addr string, backend Backend, log *logging.Logger) *Console {
	c := &Console{addr: addr, backend: backend, log: log}
	c.commands = map[string]CommandFunc{
		"PING":     c.cmdPing,
		"QUIT":     c.cmdQuit,
		"STATUS":   c.cmdStatus,
		"CLIENTS":  c.cmdClients,
		"KICK":     c.cmdKick,
		"SHUTDOWN": c.cmdShutdown,
		"TIME":     c.cmdTime,
	}
	return c
}

// Start listens and serves until Stop is called.
func (c *Console) Start() error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return err
	}
	srv := redcon.NewServer(c.addr, c.handleCommand,
		func(conn redcon.Conn) bool {
			c.log.Infof("admin: connection from %s", conn.RemoteAddr())
			return true
		},
		func(conn redcon.Conn, err error) {
			c.log.Verbosef("admin: %s closed", conn.RemoteAddr())
		},
	)

	c.mu.Lock()
	c.listener = ln
	c.server = srv
	c.mu.Unlock()

	c.log.Actionf("admin: console listening on %s", ln.Addr())
	return srv.Serve(ln)
}

func (c *Console) Stop() error {
	c.mu.RLock()
	srv := c.server
	c.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

func (c *Console) Addr() string {
	c.mu.RLock()
	ln := c.listener
	c.mu.RUnlock()
	if ln != nil {
		return ln.Addr().String()
	}
	return c.addr
}

func (c *Console) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	c.execute(conn, cmd.Args)
	for _, p := range conn.ReadPipeline() {
		c.execute(conn, p.Args)
	}
}

func (c *Console) execute(conn redcon.Conn, args [][]byte) {
	if len(args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}
	name := strings.ToUpper(string(args[0]))
	fn, ok := c.commands[name]
	if !ok {
		conn.WriteError(fmt.Sprintf("ERR unknown command '%s'", args[0]))
		return
	}
	fn(conn, args[1:])
}

func (c *Console) cmdPing(conn redcon.Conn, args [][]byte) {
	if len(args) == 0 {
		conn.WriteString("PONG")
		return
	}
	conn.WriteBulk(args[0])
}

func (c *Console) cmdQuit(conn redcon.Conn, _ [][]byte) {
	conn.WriteString("OK")
	conn.Close()
}

// STATUS returns a multi-line summary in the style of INFO.
func (c *Console) cmdStatus(conn redcon.Conn, _ [][]byte) {
	st := c.backend.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "uptime_seconds:%d\r\n", int64(st.Uptime.Seconds()))
	fmt.Fprintf(&b, "clients:%d\r\n", len(st.Clients))
	fmt.Fprintf(&b, "time_of_day:%d\r\n", st.TimeOfDay)
	fmt.Fprintf(&b, "loaded_blocks:%d\r\n", st.LoadedBlocks)
	fmt.Fprintf(&b, "active_objects:%d\r\n", st.Objects)
	fmt.Fprintf(&b, "playing_sounds:%d\r\n", st.PlayingSounds)
	fmt.Fprintf(&b, "particle_spawners:%d\r\n", st.ParticleSpawners)
	fmt.Fprintf(&b, "pending_map_edits:%d\r\n", st.PendingMapEdits)
	fmt.Fprintf(&b, "shutdown:%s\r\n", strings.ToLower(st.Shutdown.String()))
	if st.ShutdownIn > 0 {
		fmt.Fprintf(&b, "shutdown_in_seconds:%.0f\r\n", st.ShutdownIn)
	}
	conn.WriteBulkString(b.String())
}

// CLIENTS lists one line per session: peer, name, address, state.
func (c *Console) cmdClients(conn redcon.Conn, _ [][]byte) {
	st := c.backend.Status()
	conn.WriteArray(len(st.Clients))
	for _, ci := range st.Clients {
		conn.WriteBulkString(fmt.Sprintf("%d %s %s %s proto=%d blocks=%d objects=%d",
			ci.Peer, ci.Name, ci.Address, ci.State, ci.ProtocolVer, ci.KnownBlocks, ci.KnownObjects))
	}
}

// KICK name [reason...]
func (c *Console) cmdKick(conn redcon.Conn, args [][]byte) {
	if len(args) < 1 {
		conn.WriteError("ERR wrong number of arguments for 'kick' command")
		return
	}
	name := string(args[0])
	reason := joinArgs(args[1:])
	if !c.backend.Kick(name, reason) {
		conn.WriteError("ERR no such player")
		return
	}
	c.log.Actionf("admin: kicked %s", name)
	conn.WriteString("OK")
}

// SHUTDOWN [delay [RECONNECT] [message...]]. A negative delay cancels a
// pending countdown.
func (c *Console) cmdShutdown(conn redcon.Conn, args [][]byte) {
	delay := 0.0
	if len(args) > 0 {
		d, err := strconv.ParseFloat(string(args[0]), 64)
		if err != nil {
			conn.WriteError("ERR delay is not a number")
			return
		}
		delay = d
		args = args[1:]
	}
	reconnect := false
	if len(args) > 0 && strings.EqualFold(string(args[0]), "RECONNECT") {
		reconnect = true
		args = args[1:]
	}
	c.backend.RequestShutdown(joinArgs(args), reconnect, delay)
	c.log.Actionf("admin: shutdown requested, delay=%gs", delay)
	conn.WriteString("OK")
}

// TIME t sets the time of day (0..23999).
func (c *Console) cmdTime(conn redcon.Conn, args [][]byte) {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'time' command")
		return
	}
	t, err := strconv.ParseUint(string(args[0]), 10, 16)
	if err != nil || t >= 24000 {
		conn.WriteError("ERR time must be in 0..23999")
		return
	}
	c.backend.SetTimeOfDay(uint16(t))
	conn.WriteString("OK")
}

func joinArgs(args [][]byte) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = string(a)
	}
	return strings.Join(parts, " ")
}
