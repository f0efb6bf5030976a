package sound

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

type sendRecord struct {
	peer     transport.PeerID
	reliable bool
	pkt      *protocol.Packet
}

type recorder struct{ out []sendRecord }

func (r *recorder) SendOn(peer transport.PeerID, _ uint8, reliable bool, pkt *protocol.Packet) {
	r.out = append(r.out, sendRecord{peer, reliable, pkt})
}

func (r *recorder) peersFor(cmd uint16) []transport.PeerID {
	var out []transport.PeerID
	for _, s := range r.out {
		if s.pkt.Command == cmd {
			out = append(out, s.peer)
		}
	}
	return out
}

type positions map[uint16]geom.V3f

func (p positions) ObjectBasePosition(id uint16) (geom.V3f, bool) {
	v, ok := p[id]
	return v, ok
}

type fixture struct {
	table *session.Table
	pos   positions
	rec   *recorder
	reg   *Registry
}

func newFixture() *fixture {
	f := &fixture{table: session.NewTable(), pos: positions{}, rec: &recorder{}}
	f.reg = NewRegistry(f.table, f.pos, f.rec, logging.Discard(), nil)
	return f
}

func (f *fixture) join(t *testing.T, peer transport.PeerID, name string, proto uint16, at geom.V3f) *session.Client {
	t.Helper()
	c := session.New(peer, "test", time.Now())
	c.Name = name
	require.NoError(t, c.SetVersions(protocol.SerFmtVerHighest, proto))
	for _, s := range []session.State{session.InitSent, session.DefinitionsSent, session.Active} {
		require.NoError(t, c.Transition(s))
	}
	c.PlayerObject = uint16(100 + peer)
	f.pos[c.PlayerObject] = at
	require.True(t, f.table.Add(c))
	return c
}

func TestStopAfterPlayLeavesNoEntry(t *testing.T) {
	f := newFixture()
	f.join(t, 2, "alice", protocol.ProtocolVersionMax, geom.V3f{})

	h, ok := f.reg.PlaySound(Spec{Name: "default_dig", Gain: 1}, DefaultParams(), false)
	require.True(t, ok)
	_, tracked := f.reg.Get(h)
	require.True(t, tracked)

	f.reg.StopSound(h)
	_, tracked = f.reg.Get(h)
	assert.False(t, tracked)
	assert.Equal(t, 0, f.reg.Len())
	assert.Equal(t, []transport.PeerID{2}, f.rec.peersFor(protocol.ToClientStopSound))
}

func TestFadeAfterDisconnectReachesRemainingClient(t *testing.T) {
	f := newFixture()
	f.join(t, 2, "a", protocol.ProtocolVersionMax, geom.V3f{})
	f.join(t, 3, "b", protocol.ProtocolVersionMax, geom.V3f{})
	f.reg.nextID = 7

	h, ok := f.reg.PlaySound(Spec{Name: "music", Gain: 1}, DefaultParams(), false)
	require.True(t, ok)
	require.Equal(t, int32(7), h)

	f.reg.RemoveClient(2)
	f.reg.FadeSound(7, 0.5, 0.2)
	assert.Equal(t, []transport.PeerID{3}, f.rec.peersFor(protocol.ToClientFadeSound))

	ps, ok := f.reg.Get(7)
	require.True(t, ok)
	assert.Equal(t, float32(0.2), ps.Params.Gain)

	f.reg.FadeSound(7, 0.5, 0)
	_, ok = f.reg.Get(7)
	assert.False(t, ok, "fading to silence should end the sound")
}

func TestEphemeralSoundIsUntrackedAndUnreliable(t *testing.T) {
	f := newFixture()
	f.join(t, 2, "a", protocol.ProtocolVersionMax, geom.V3f{})

	h, ok := f.reg.PlaySound(Spec{Name: "click", Gain: 1}, DefaultParams(), true)
	require.True(t, ok)
	assert.Equal(t, EphemeralHandle, h)
	assert.Equal(t, 0, f.reg.Len())
	require.Len(t, f.rec.out, 1)
	assert.False(t, f.rec.out[0].reliable)
}

func TestLegacyClientsGetShortPacket(t *testing.T) {
	f := newFixture()
	f.join(t, 2, "new", protocol.ProtocolVersionMax, geom.V3f{})
	f.join(t, 3, "old", protocol.ProtocolVersionMin, geom.V3f{})

	_, ok := f.reg.PlaySound(Spec{Name: "x", Gain: 0.5}, DefaultParams(), false)
	require.True(t, ok)
	require.Len(t, f.rec.out, 2)
	modern, legacy := f.rec.out[0].pkt, f.rec.out[1].pkt
	assert.Equal(t, len(modern.Payload)-5, len(legacy.Payload))

	r := protocol.NewReader(modern.Payload)
	r.S32()
	assert.Equal(t, "x", r.String16())
	assert.Equal(t, float32(0.5), r.F32())
}

func TestHandleWrapsAndSkipsInUse(t *testing.T) {
	f := newFixture()
	f.join(t, 2, "a", protocol.ProtocolVersionMax, geom.V3f{})
	f.reg.playing[0] = &Playing{ID: 0, Clients: map[transport.PeerID]struct{}{2: {}}}
	f.reg.nextID = math.MaxInt32

	h, ok := f.reg.PlaySound(Spec{Name: "x", Gain: 1}, DefaultParams(), false)
	require.True(t, ok)
	assert.Equal(t, int32(math.MaxInt32), h)

	h, ok = f.reg.PlaySound(Spec{Name: "x", Gain: 1}, DefaultParams(), false)
	require.True(t, ok)
	assert.Equal(t, int32(1), h)
}

func TestDestinations(t *testing.T) {
	f := newFixture()
	f.join(t, 2, "near", protocol.ProtocolVersionMax, geom.V3f{X: 10})
	f.join(t, 3, "far", protocol.ProtocolVersionMax, geom.V3f{X: 10000})
	f.join(t, 4, "muted", protocol.ProtocolVersionMax, geom.V3f{})

	p := DefaultParams()
	p.Type = protocol.SoundPositional
	p.ExcludePlayer = "muted"
	_, ok := f.reg.PlaySound(Spec{Name: "boom", Gain: 1}, p, false)
	require.True(t, ok)
	assert.Equal(t, []transport.PeerID{2}, f.rec.peersFor(protocol.ToClientPlaySound))

	p = DefaultParams()
	p.ToPlayer = "nobody"
	_, ok = f.reg.PlaySound(Spec{Name: "boom", Gain: 1}, p, false)
	assert.False(t, ok)

	p = DefaultParams()
	p.Type = protocol.SoundObject
	p.Object = 999
	_, ok = f.reg.PlaySound(Spec{Name: "boom", Gain: 1}, p, false)
	assert.False(t, ok, "sound on a missing object must be cancelled")
}

func TestClientRemovedSounds(t *testing.T) {
	f := newFixture()
	f.join(t, 2, "a", protocol.ProtocolVersionMax, geom.V3f{})
	h, _ := f.reg.PlaySound(Spec{Name: "x", Gain: 1}, DefaultParams(), false)
	f.reg.ClientRemovedSounds(2, []int32{h, 12345})
	assert.Equal(t, 0, f.reg.Len())
}
