package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"voxelsync.ai/internal/config"
	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/persistence/mapdb"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/catalogs"
	"voxelsync.ai/internal/sim/env"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/sim/sound"
	"voxelsync.ai/internal/transport/loopback"
)

type harness struct {
	t   *testing.T
	s   *Server
	lt  *loopback.Transport
	env *env.Environment
}

func newHarness(t *testing.T, mutate func(*config.GameConfig)) *harness {
	t.Helper()
	cfg := config.Default().Game
	cfg.MaxUsers = 4
	cfg.DedicatedServerStep = 0.01
	if mutate != nil {
		mutate(&cfg)
	}
	cat, err := catalogs.Parse([]byte("nodes:\n  - name: stone\n    drawtype: normal\n"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	e := env.New(env.NewMap(mapdb.NewMemory(), env.FlatGenerator(1)), nil, 72)
	lt := loopback.New(64)
	s := New(Options{
		Game:            cfg,
		BannedAddresses: []string{"10.0.0.66"},
		Transport:       lt,
		Env:             e,
		Catalogs:        cat,
		Log:             logging.Discard(),
	})
	return &harness{t: t, s: s, lt: lt, env: e}
}

func (h *harness) connect(addr string) *loopback.Peer {
	h.t.Helper()
	p, err := h.lt.Connect(addr)
	if err != nil {
		h.t.Fatalf("connect: %v", err)
	}
	return p
}

func (h *harness) send(p *loopback.Peer, pkt *protocol.Packet) {
	h.t.Helper()
	if err := p.Send(protocol.ChannelDefault, pkt.Bytes()); err != nil {
		h.t.Fatalf("send: %v", err)
	}
}

func (h *harness) receive() { h.s.Receive(context.Background()) }

// step advances the server thread by dt seconds.
func (h *harness) step(dt float64) {
	h.t.Helper()
	if err := h.s.Step(dt); err != nil {
		h.t.Fatalf("Step: %v", err)
	}
	h.s.AsyncRunStep(false)
}

func initPacket(name string) *protocol.Packet {
	return protocol.InitRequest{
		MaxSerVer:   protocol.SerFmtVerHighest,
		MinProtoVer: protocol.ProtocolVersionMin,
		MaxProtoVer: protocol.ProtocolVersionMax,
		PlayerName:  name,
	}.Encode()
}

func (h *harness) join(name string) *loopback.Peer {
	h.t.Helper()
	p := h.connect("127.0.0.1:40000")
	h.send(p, initPacket(name))
	h.send(p, protocol.Empty(protocol.ToServerInit2))
	h.send(p, protocol.Empty(protocol.ToServerClientReady))
	h.receive()
	c, ok := h.s.clients.Get(p.ID())
	if !ok || c.State() != session.Active {
		h.t.Fatalf("%s did not reach Active", name)
	}
	return p
}

type received struct {
	cmd     uint16
	payload []byte
}

func drain(t *testing.T, p *loopback.Peer) []received {
	t.Helper()
	var out []received
	for _, s := range p.Drain() {
		pkt, err := protocol.Decode(s.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, received{cmd: pkt.Command, payload: pkt.Payload})
	}
	return out
}

func only(list []received, cmd uint16) []received {
	var out []received
	for _, r := range list {
		if r.cmd == cmd {
			out = append(out, r)
		}
	}
	return out
}

func denyCode(t *testing.T, list []received) protocol.AccessDeniedCode {
	t.Helper()
	d := only(list, protocol.ToClientAccessDenied)
	if len(d) != 1 {
		t.Fatalf("want one ACCESS_DENIED, got %d", len(d))
	}
	return protocol.AccessDeniedCode(d[0].payload[0])
}

func TestHandshakeReachesActive(t *testing.T) {
	h := newHarness(t, nil)
	p := h.join("alice")

	var cmds []uint16
	for _, r := range drain(t, p) {
		cmds = append(cmds, r.cmd)
	}
	want := []uint16{
		protocol.ToClientHello,
		protocol.ToClientItemDef,
		protocol.ToClientNodeDef,
		protocol.ToClientTimeOfDay,
		protocol.ToClientMovePlayer,
		protocol.ToClientUpdatePlayerList,
	}
	if len(cmds) != len(want) {
		t.Fatalf("commands: got %x want %x", cmds, want)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Fatalf("command %d: got %#x want %#x", i, cmds[i], want[i])
		}
	}
	if _, ok := h.env.Player(p.ID()); !ok {
		t.Fatalf("player not placed in the environment")
	}
}

func TestJoiningClientGetsOriginBlockFirst(t *testing.T) {
	h := newHarness(t, nil)
	p := h.join("alice")
	drain(t, p)

	h.s.AsyncRunStep(false)

	blocks := only(drain(t, p), protocol.ToClientBlockData)
	if len(blocks) == 0 {
		t.Fatalf("no blocks sent")
	}
	first := protocol.NewReader(blocks[0].payload).V3S16()
	if first != (geom.V3s16{}) {
		t.Fatalf("first block: got %v want origin", first)
	}
	c, _ := h.s.clients.Get(p.ID())
	if !c.KnowsBlock(geom.V3s16{}) {
		t.Fatalf("origin block not marked known")
	}
}

func TestCommandsBelowMinimumStateAreDropped(t *testing.T) {
	h := newHarness(t, nil)
	p := h.connect("127.0.0.1:40000")
	h.send(p, protocol.ChatMessageRequest("too early"))
	h.send(p, protocol.PlayerPos{WantedRange: 5}.Encode())
	h.send(p, protocol.Empty(protocol.ToServerClientReady))
	h.receive()

	if got := drain(t, p); len(got) != 0 {
		t.Fatalf("expected no replies, got %d", len(got))
	}
	c, ok := h.s.clients.Get(p.ID())
	if !ok {
		t.Fatalf("session missing")
	}
	// PLAYERPOS is dropped quietly; the other two count as violations.
	if c.State() != session.Created || c.Violations() != 2 {
		t.Fatalf("state=%s violations=%d", c.State(), c.Violations())
	}
}

func TestEarlyCommandsEscalateToDeny(t *testing.T) {
	h := newHarness(t, func(c *config.GameConfig) { c.MaxProtocolViolations = 3 })
	p := h.connect("127.0.0.1:40000")
	for i := 0; i < 5; i++ {
		h.send(p, protocol.PlayerPos{WantedRange: 5}.Encode())
	}
	h.receive()
	if got := drain(t, p); len(got) != 0 || p.Disconnected() {
		t.Fatalf("silent early packets were punished: replies=%d", len(got))
	}

	for i := 0; i < 3; i++ {
		h.send(p, protocol.ChatMessageRequest("too early"))
	}
	h.receive()
	if code := denyCode(t, drain(t, p)); code != protocol.DenyUnexpectedData {
		t.Fatalf("deny code: got %d", code)
	}
	if !p.Disconnected() {
		t.Fatalf("peer still connected")
	}
}

func TestRepeatedInitIsDeniedAfterViolationLimit(t *testing.T) {
	h := newHarness(t, func(c *config.GameConfig) { c.MaxProtocolViolations = 2 })
	p := h.connect("127.0.0.1:40000")
	h.send(p, initPacket("alice"))
	h.send(p, initPacket("alice"))
	h.send(p, initPacket("alice"))
	h.receive()

	got := drain(t, p)
	if code := denyCode(t, got); code != protocol.DenyUnexpectedData {
		t.Fatalf("deny code: got %d", code)
	}
	if !p.Disconnected() {
		t.Fatalf("peer still connected")
	}
}

func TestInitDenials(t *testing.T) {
	cases := []struct {
		name string
		addr string
		pkt  *protocol.Packet
		want protocol.AccessDeniedCode
	}{
		{"bad chars", "127.0.0.1:1", initPacket("al ice"), protocol.DenyWrongCharsInName},
		{"empty name", "127.0.0.1:1", initPacket(""), protocol.DenyWrongName},
		{"banned", "10.0.0.66:1", initPacket("bob"), protocol.DenyCustomString},
		{"old protocol", "127.0.0.1:1", protocol.InitRequest{
			MaxSerVer: protocol.SerFmtVerHighest, MinProtoVer: 20, MaxProtoVer: 30, PlayerName: "bob",
		}.Encode(), protocol.DenyWrongVersion},
		{"old serialization", "127.0.0.1:1", protocol.InitRequest{
			MaxSerVer: 20, MinProtoVer: protocol.ProtocolVersionMin, MaxProtoVer: protocol.ProtocolVersionMax, PlayerName: "bob",
		}.Encode(), protocol.DenyWrongVersion},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			p := h.connect(tc.addr)
			h.send(p, tc.pkt)
			h.receive()
			if code := denyCode(t, drain(t, p)); code != tc.want {
				t.Fatalf("deny code: got %d want %d", code, tc.want)
			}
		})
	}
}

func TestDuplicateNameAndUserLimit(t *testing.T) {
	h := newHarness(t, func(c *config.GameConfig) { c.MaxUsers = 2 })
	h.join("alice")

	dup := h.connect("127.0.0.1:2")
	h.send(dup, initPacket("alice"))
	h.receive()
	if code := denyCode(t, drain(t, dup)); code != protocol.DenyAlreadyConnected {
		t.Fatalf("duplicate: got %d", code)
	}

	h.join("bob")
	third := h.connect("127.0.0.1:3")
	h.send(third, initPacket("carol"))
	h.receive()
	if code := denyCode(t, drain(t, third)); code != protocol.DenyTooManyUsers {
		t.Fatalf("limit: got %d", code)
	}
}

func TestDisconnectCleansUpAndNotifiesOthers(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("alice")
	b := h.join("bob")
	h.step(0.1)

	handle, ok := h.s.PlaySound(sound.Spec{Name: "ding", Gain: 1}, sound.DefaultParams(), false)
	if !ok {
		t.Fatalf("PlaySound failed")
	}
	drain(t, a)

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	h.step(0.1)

	list := only(drain(t, a), protocol.ToClientUpdatePlayerList)
	if len(list) != 1 || list[0].payload[0] != protocol.PlayerListRemove {
		t.Fatalf("expected a player list removal, got %v", list)
	}
	if _, ok := h.env.Player(b.ID()); ok {
		t.Fatalf("bob still in the environment")
	}
	playing, ok := h.s.sounds.Get(handle)
	if !ok {
		t.Fatalf("sound dropped while alice still hears it")
	}
	if _, still := playing.Clients[b.ID()]; still {
		t.Fatalf("bob still subscribed to sound")
	}
	if n := len(h.s.Status().Clients); n != 1 {
		t.Fatalf("clients after leave: %d", n)
	}
}

func TestPlayersSeeEachOther(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("alice")
	b := h.join("bob")
	h.step(0.1)

	ca, _ := h.s.clients.Get(a.ID())
	cb, _ := h.s.clients.Get(b.ID())
	if !ca.KnowsObject(cb.PlayerObject) || !cb.KnowsObject(ca.PlayerObject) {
		t.Fatalf("players do not know each other's objects")
	}
	if len(only(drain(t, a), protocol.ToClientActiveObjectRemoveAdd)) != 1 {
		t.Fatalf("expected one remove/add packet")
	}
}

func TestNearMapEditIsSent(t *testing.T) {
	h := newHarness(t, nil)
	p := h.join("alice")
	h.step(0.1)
	drain(t, p)

	if err := h.env.Map.SetNode(geom.V3s16{X: 1, Y: 1, Z: 1}, mapblock.Node{Param0: 5}); err != nil {
		t.Fatalf("SetNode: %v", err)
	}
	h.step(0.1)

	adds := only(drain(t, p), protocol.ToClientAddNode)
	if len(adds) != 1 {
		t.Fatalf("ADDNODE: got %d", len(adds))
	}
	if pos := protocol.NewReader(adds[0].payload).V3S16(); pos != (geom.V3s16{X: 1, Y: 1, Z: 1}) {
		t.Fatalf("ADDNODE pos %v", pos)
	}
}

func TestChatIsBroadcast(t *testing.T) {
	h := newHarness(t, func(c *config.GameConfig) { c.ChatMessageMaxSize = 10 })
	a := h.join("alice")
	b := h.join("bob")
	drain(t, a)
	drain(t, b)

	h.send(a, protocol.ChatMessageRequest("hi"))
	h.send(a, protocol.ChatMessageRequest(strings.Repeat("x", 11)))
	h.receive()

	for _, p := range []*loopback.Peer{a, b} {
		var lines []string
		for _, r := range only(drain(t, p), protocol.ToClientChatMessage) {
			rd := protocol.NewReader(r.payload)
			rd.U8()
			rd.U8()
			rd.String16()
			lines = append(lines, rd.String16())
		}
		if len(lines) == 0 || lines[0] != "<alice> hi" {
			t.Fatalf("peer %d chat: %q", p.ID(), lines)
		}
		if p == b && len(lines) != 1 {
			t.Fatalf("bob saw the refused message: %q", lines)
		}
	}
}

func TestShutdownKicksEveryone(t *testing.T) {
	h := newHarness(t, nil)
	p := h.join("alice")
	drain(t, p)

	h.s.RequestShutdown("bye", true, 0)
	if err := h.s.RunDedicated(context.Background()); err != nil {
		t.Fatalf("RunDedicated: %v", err)
	}

	got := only(drain(t, p), protocol.ToClientAccessDenied)
	if len(got) != 1 {
		t.Fatalf("ACCESS_DENIED: got %d", len(got))
	}
	r := protocol.NewReader(got[0].payload)
	code := protocol.AccessDeniedCode(r.U8())
	reason := r.String16()
	reconnect := r.Bool()
	if code != protocol.DenyShutdown || reason != "bye" || !reconnect {
		t.Fatalf("got code=%d reason=%q reconnect=%v", code, reason, reconnect)
	}
	if !p.Disconnected() {
		t.Fatalf("peer still connected")
	}
}

func TestAsyncFatalKicksWithCrash(t *testing.T) {
	h := newHarness(t, func(c *config.GameConfig) { c.AskReconnectOnCrash = true })
	p := h.join("alice")
	drain(t, p)

	boom := errors.New("boom")
	h.s.SetAsyncFatalError(boom)
	h.s.SetAsyncFatalError(errors.New("later"))
	if err := h.s.Step(0.1); !errors.Is(err, boom) {
		t.Fatalf("Step: got %v want boom", err)
	}

	got := only(drain(t, p), protocol.ToClientAccessDenied)
	if len(got) != 1 {
		t.Fatalf("ACCESS_DENIED: got %d", len(got))
	}
	r := protocol.NewReader(got[0].payload)
	if code := protocol.AccessDeniedCode(r.U8()); code != protocol.DenyCrash {
		t.Fatalf("code %d", code)
	}
	if reason := r.String16(); reason != h.s.cfg.KickMsgCrash {
		t.Fatalf("reason %q", reason)
	}
	if !r.Bool() {
		t.Fatalf("reconnect flag not set")
	}
}
