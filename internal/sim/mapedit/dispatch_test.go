package mapedit

import (
	"testing"
	"time"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

type sentPacket struct {
	peer transport.PeerID
	pkt  *protocol.Packet
}

type recordingSender struct{ sent []sentPacket }

func (r *recordingSender) Send(peer transport.PeerID, pkt *protocol.Packet) {
	r.sent = append(r.sent, sentPacket{peer, pkt})
}

func (r *recordingSender) to(peer transport.PeerID) []*protocol.Packet {
	var out []*protocol.Packet
	for _, s := range r.sent {
		if s.peer == peer {
			out = append(out, s.pkt)
		}
	}
	return out
}

type metaMap map[geom.V3s16]*mapblock.Metadata

func (m metaMap) NodeMetadata(p geom.V3s16) *mapblock.Metadata { return m[p] }

type memJournal struct{ batches [][]Event }

func (j *memJournal) Append(events []Event) error {
	j.batches = append(j.batches, events)
	return nil
}

func activeClient(t *testing.T, tb *session.Table, peer transport.PeerID, pos geom.V3f, proto uint16) *session.Client {
	t.Helper()
	c := session.New(peer, "test", time.Now())
	for _, s := range []session.State{session.InitSent, session.DefinitionsSent, session.Active} {
		if err := c.Transition(s); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	_ = c.SetVersions(protocol.SerFmtVerHighest, proto)
	c.CameraPos = pos
	tb.Add(c)
	return c
}

func TestAddNodeNearGetsPacketFarGetsInvalidation(t *testing.T) {
	tb := session.NewTable()
	x := activeClient(t, tb, 2, geom.V3f{}, 39)
	y := activeClient(t, tb, 3, geom.NodeToWorld(geom.V3s16{X: 200}), 39)
	block := geom.V3s16{}
	x.MarkBlockSent(block)
	y.MarkBlockSent(block)

	snd := &recordingSender{}
	d := NewDispatcher(tb, snd, metaMap{}, logging.Discard(), nil)
	st := d.Dispatch([]Event{AddNode(geom.V3s16{X: 1, Y: 2, Z: 3}, mapblock.Node{Param0: 4})})

	if got := snd.to(x.Peer); len(got) != 1 || got[0].Command != protocol.ToClientAddNode {
		t.Fatalf("near client packets: %+v", got)
	}
	if got := snd.to(y.Peer); len(got) != 0 {
		t.Fatalf("far client got packets: %+v", got)
	}
	if !x.KnowsBlock(block) || y.KnowsBlock(block) {
		t.Fatalf("known sets wrong: x=%v y=%v", x.KnowsBlock(block), y.KnowsBlock(block))
	}
	if st.Sent != 1 || st.Invalidated != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestClientWithoutBlockIsTreatedAsFar(t *testing.T) {
	tb := session.NewTable()
	x := activeClient(t, tb, 2, geom.V3f{}, 39)
	snd := &recordingSender{}
	NewDispatcher(tb, snd, metaMap{}, logging.Discard(), nil).Dispatch([]Event{RemoveNode(geom.V3s16{})})
	if len(snd.sent) != 0 || x.KnowsBlock(geom.V3s16{}) {
		t.Fatalf("client without the block must not receive the edit")
	}
}

func TestBusyQueueShrinksNearRadius(t *testing.T) {
	tb := session.NewTable()
	// 10 nodes away: near for a single edit, far once the queue is busy.
	x := activeClient(t, tb, 2, geom.NodeToWorld(geom.V3s16{X: 10}), 39)
	x.MarkBlockSent(geom.V3s16{})

	snd := &recordingSender{}
	d := NewDispatcher(tb, snd, metaMap{}, logging.Discard(), nil)
	d.Dispatch([]Event{AddNode(geom.V3s16{}, mapblock.Node{})})
	if len(snd.sent) != 1 {
		t.Fatalf("single edit not sent: %d", len(snd.sent))
	}

	snd.sent = nil
	var batch []Event
	for i := 0; i < BusyQueueLength; i++ {
		batch = append(batch, AddNode(geom.V3s16{Y: int16(i)}, mapblock.Node{}))
	}
	d.Dispatch(batch)
	if len(snd.sent) != 0 || x.KnowsBlock(geom.V3s16{}) {
		t.Fatalf("busy batch should invalidate instead of sending, sent=%d", len(snd.sent))
	}
}

func TestNearClientsGetEditsInFIFOOrder(t *testing.T) {
	tb := session.NewTable()
	x := activeClient(t, tb, 2, geom.V3f{}, 39)
	x.MarkBlockSent(geom.V3s16{})
	snd := &recordingSender{}
	d := NewDispatcher(tb, snd, metaMap{}, logging.Discard(), nil)
	d.Dispatch([]Event{
		AddNode(geom.V3s16{X: 1}, mapblock.Node{Param0: 1}),
		RemoveNode(geom.V3s16{X: 1}),
		SwapNode(geom.V3s16{X: 2}, mapblock.Node{Param0: 2}),
	})
	got := snd.to(x.Peer)
	want := []uint16{protocol.ToClientAddNode, protocol.ToClientRemoveNode, protocol.ToClientAddNode}
	if len(got) != len(want) {
		t.Fatalf("got %d packets", len(got))
	}
	for i := range want {
		if got[i].Command != want[i] {
			t.Fatalf("packet %d: %#x want %#x", i, got[i].Command, want[i])
		}
	}
	if keep := got[2].Payload[len(got[2].Payload)-1]; keep != 1 {
		t.Fatalf("swap must keep metadata, flag=%d", keep)
	}
}

func TestMetadataCoalescedPrivateSkippedLegacyInvalidated(t *testing.T) {
	tb := session.NewTable()
	modern := activeClient(t, tb, 2, geom.V3f{}, 39)
	legacy := activeClient(t, tb, 3, geom.V3f{}, 36)
	modern.MarkBlockSent(geom.V3s16{})
	legacy.MarkBlockSent(geom.V3s16{})

	m := mapblock.NewMetadata()
	m.Set("infotext", "hello", false)
	p, q := geom.V3s16{X: 1}, geom.V3s16{X: 2}
	metas := metaMap{p: m, q: m}

	snd := &recordingSender{}
	d := NewDispatcher(tb, snd, metas, logging.Discard(), nil)
	d.Dispatch([]Event{
		MetadataChanged(p, false),
		MetadataChanged(q, false),
		MetadataChanged(p, false),
		MetadataChanged(geom.V3s16{X: 3}, true),
	})

	got := snd.to(modern.Peer)
	if len(got) != 1 || got[0].Command != protocol.ToClientNodeMetaChanged {
		t.Fatalf("modern client packets: %+v", got)
	}
	r := protocol.NewReader(got[0].Payload)
	entries, err := mapblock.DeserializeMetaList([]byte(r.String32()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].Pos != q || entries[1].Pos != p {
		t.Fatalf("expected [q p] after coalescing, got %+v", entries)
	}
	if len(snd.to(legacy.Peer)) != 0 || legacy.KnowsBlock(geom.V3s16{}) {
		t.Fatalf("legacy client should be invalidated, not sent to")
	}
}

func TestBulkInvalidatesEveryone(t *testing.T) {
	tb := session.NewTable()
	a := activeClient(t, tb, 2, geom.V3f{}, 39)
	b := activeClient(t, tb, 3, geom.V3f{}, 39)
	blocks := []geom.V3s16{{}, {X: 1}}
	for _, c := range []*session.Client{a, b} {
		for _, bl := range blocks {
			c.MarkBlockSent(bl)
		}
	}
	j := &memJournal{}
	d := NewDispatcher(tb, &recordingSender{}, metaMap{}, logging.Discard(), nil)
	d.SetJournal(j)
	st := d.Dispatch([]Event{Bulk(blocks)})
	if st.Invalidated != 4 || a.KnownBlockCount() != 0 || b.KnownBlockCount() != 0 {
		t.Fatalf("bulk left blocks known: %+v", st)
	}
	if len(j.batches) != 1 || len(j.batches[0]) != 1 {
		t.Fatalf("journal not written: %+v", j.batches)
	}
}
