package admin

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/server"
	"voxelsync.ai/internal/sim/shutdown"
)

type fakeBackend struct {
	mu        sync.Mutex
	kicked    []string
	delay     float64
	msg       string
	reconnect bool
	tod       uint16
}

func (f *fakeBackend) Status() server.Status {
	return server.Status{
		Uptime:    90 * time.Second,
		TimeOfDay: 6000,
		Clients: []server.ClientInfo{
			{Peer: 2, Name: "alice", Address: "127.0.0.1:1", State: "Active", ProtocolVer: 39},
		},
		Shutdown:   shutdown.Armed,
		ShutdownIn: 30,
	}
}

func (f *fakeBackend) Kick(name, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != "alice" {
		return false
	}
	f.kicked = append(f.kicked, name+":"+reason)
	return true
}

func (f *fakeBackend) RequestShutdown(msg string, reconnect bool, delay float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msg, f.reconnect, f.delay = msg, reconnect, delay
}

func (f *fakeBackend) SetTimeOfDay(t uint16) {
	f.mu.Lock()
	f.tod = t
	f.mu.Unlock()
}

func startConsole(t *testing.T, b Backend) (net.Conn, *bufio.Reader) {
	t.Helper()
	c := New("127.0.0.1:0", b, logging.Discard())
	go func() { _ = c.Start() }()
	t.Cleanup(func() { _ = c.Stop() })

	var addr string
	require.Eventually(t, func() bool {
		addr = c.Addr()
		return !strings.HasSuffix(addr, ":0")
	}, 2*time.Second, 5*time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func do(t *testing.T, conn net.Conn, r *bufio.Reader, args ...string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(b.String()))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	if line[0] != '$' {
		return strings.TrimRight(line, "\r\n")
	}
	var n int
	_, err = fmt.Sscanf(line, "$%d", &n)
	require.NoError(t, err)
	buf := make([]byte, n+2)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestPingAndUnknown(t *testing.T) {
	conn, r := startConsole(t, &fakeBackend{})
	assert.Equal(t, "+PONG", do(t, conn, r, "PING"))
	assert.True(t, strings.HasPrefix(do(t, conn, r, "FLY"), "-ERR unknown command"))
}

func TestStatus(t *testing.T) {
	conn, r := startConsole(t, &fakeBackend{})
	out := do(t, conn, r, "status")
	assert.Contains(t, out, "uptime_seconds:90\r\n")
	assert.Contains(t, out, "clients:1\r\n")
	assert.Contains(t, out, "shutdown:armed\r\n")
	assert.Contains(t, out, "shutdown_in_seconds:30\r\n")
}

func TestKick(t *testing.T) {
	b := &fakeBackend{}
	conn, r := startConsole(t, b)
	assert.Equal(t, "+OK", do(t, conn, r, "KICK", "alice", "be", "nice"))
	assert.Equal(t, "-ERR no such player", do(t, conn, r, "KICK", "bob"))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, []string{"alice:be nice"}, b.kicked)
}

func TestShutdownArguments(t *testing.T) {
	b := &fakeBackend{}
	conn, r := startConsole(t, b)
	assert.Equal(t, "+OK", do(t, conn, r, "SHUTDOWN", "60", "reconnect", "maintenance", "window"))

	b.mu.Lock()
	assert.Equal(t, 60.0, b.delay)
	assert.True(t, b.reconnect)
	assert.Equal(t, "maintenance window", b.msg)
	b.mu.Unlock()

	assert.Equal(t, "+OK", do(t, conn, r, "SHUTDOWN", "-1"))
	b.mu.Lock()
	assert.Equal(t, -1.0, b.delay)
	b.mu.Unlock()

	assert.Equal(t, "-ERR delay is not a number", do(t, conn, r, "SHUTDOWN", "soon"))
}

func TestTime(t *testing.T) {
	b := &fakeBackend{}
	conn, r := startConsole(t, b)
	assert.Equal(t, "+OK", do(t, conn, r, "TIME", "12000"))
	assert.Equal(t, "-ERR time must be in 0..23999", do(t, conn, r, "TIME", "24000"))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, uint16(12000), b.tod)
}
