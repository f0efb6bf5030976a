package mapedit

import (
	"testing"

	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
)

func TestBusFIFO(t *testing.T) {
	b := NewBus()
	b.Push(AddNode(geom.V3s16{X: 1}, mapblock.Node{}))
	b.Push(RemoveNode(geom.V3s16{X: 2}))
	if b.Len() != 2 {
		t.Fatalf("len=%d", b.Len())
	}
	got := b.Drain()
	if len(got) != 2 || got[0].Kind != KindAddNode || got[1].Kind != KindRemoveNode {
		t.Fatalf("order lost: %+v", got)
	}
	if b.Len() != 0 || len(b.Drain()) != 0 {
		t.Fatalf("drain did not empty the queue")
	}
}

func TestIgnoreArea(t *testing.T) {
	b := NewBus()
	restore := b.IgnoreArea(geom.Box{Min: geom.V3s16{}, Max: geom.V3s16{X: 31, Y: 15, Z: 15}})
	if b.Push(AddNode(geom.V3s16{X: 20}, mapblock.Node{})) {
		t.Fatalf("event inside ignore area was queued")
	}
	if b.Push(Bulk([]geom.V3s16{{}, {X: 1}})) {
		t.Fatalf("bulk event inside ignore area was queued")
	}
	if !b.Push(AddNode(geom.V3s16{X: 40}, mapblock.Node{})) {
		t.Fatalf("event outside ignore area dropped")
	}
	restore()
	if !b.Push(AddNode(geom.V3s16{X: 20}, mapblock.Node{})) {
		t.Fatalf("ignore area still active after restore")
	}
}

func TestEventArea(t *testing.T) {
	a := Bulk([]geom.V3s16{{X: -1}, {Y: 1}}).Area()
	if a.Min != (geom.V3s16{X: -16}) || a.Max != (geom.V3s16{X: 15, Y: 31, Z: 15}) {
		t.Fatalf("bulk area %+v", a)
	}
	if !Bulk(nil).Area().Empty() {
		t.Fatalf("empty bulk should have an empty area")
	}
}
