// Package mapedit queues map modifications and fans them out to clients
// once per server step.
package mapedit

import (
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
)

type Kind uint8

const (
	KindAddNode Kind = iota
	KindSwapNode
	KindRemoveNode
	KindMetadataChanged
	KindBulk
)

var kindNames = [...]string{"add_node", "swap_node", "remove_node", "metadata_changed", "bulk"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is one map modification. Pos and Node are used by the node kinds,
// Private by KindMetadataChanged and Blocks by KindBulk.
type Event struct {
	Kind    Kind          `json:"kind"`
	Pos     geom.V3s16    `json:"pos"`
	Node    mapblock.Node `json:"node"`
	Private bool          `json:"private,omitempty"`
	Blocks  []geom.V3s16  `json:"blocks,omitempty"`
}

func AddNode(p geom.V3s16, n mapblock.Node) Event {
	return Event{Kind: KindAddNode, Pos: p, Node: n}
}

// SwapNode replaces a node but keeps its metadata.
func SwapNode(p geom.V3s16, n mapblock.Node) Event {
	return Event{Kind: KindSwapNode, Pos: p, Node: n}
}

func RemoveNode(p geom.V3s16) Event {
	return Event{Kind: KindRemoveNode, Pos: p}
}

func MetadataChanged(p geom.V3s16, private bool) Event {
	return Event{Kind: KindMetadataChanged, Pos: p, Private: private}
}

func Bulk(blocks []geom.V3s16) Event {
	return Event{Kind: KindBulk, Blocks: blocks}
}

// ModifiedBlocks lists the blocks touched by e.
func (e Event) ModifiedBlocks() []geom.V3s16 {
	if e.Kind == KindBulk {
		return e.Blocks
	}
	return []geom.V3s16{geom.NodeToBlock(e.Pos)}
}

// Area is the node box covered by e.
func (e Event) Area() geom.Box {
	if e.Kind != KindBulk {
		return geom.Box{Min: e.Pos, Max: e.Pos}
	}
	if len(e.Blocks) == 0 {
		return geom.Box{Min: geom.V3s16{X: 1}, Max: geom.V3s16{}}
	}
	lo, hi := e.Blocks[0], e.Blocks[0]
	for _, b := range e.Blocks[1:] {
		lo = geom.V3s16{X: min(lo.X, b.X), Y: min(lo.Y, b.Y), Z: min(lo.Z, b.Z)}
		hi = geom.V3s16{X: max(hi.X, b.X), Y: max(hi.Y, b.Y), Z: max(hi.Z, b.Z)}
	}
	last := geom.V3s16{X: geom.BlockSize - 1, Y: geom.BlockSize - 1, Z: geom.BlockSize - 1}
	return geom.Box{Min: geom.BlockOrigin(lo), Max: geom.BlockOrigin(hi).Add(last)}
}
