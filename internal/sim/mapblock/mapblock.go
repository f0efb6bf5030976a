// Package mapblock is the 16³ node container streamed to clients, plus its
// versioned wire/disk serialization.
package mapblock

import (
	"sort"

	"voxelsync.ai/internal/sim/geom"
)

const NodeCount = geom.BlockSize * geom.BlockSize * geom.BlockSize

// Content ids with fixed meaning.
const (
	ContentUnknown uint16 = 125
	ContentAir     uint16 = 126
	ContentIgnore  uint16 = 127
)

type Node struct {
	Param0 uint16
	Param1 uint8
	Param2 uint8
}

// Metadata is the key/value store attached to one node. Private fields are
// never sent to clients.
type Metadata struct {
	Fields  map[string]string
	Private map[string]bool
}

func NewMetadata() *Metadata {
	return &Metadata{Fields: map[string]string{}, Private: map[string]bool{}}
}

func (m *Metadata) Set(key, value string, private bool) {
	m.Fields[key] = value
	if private {
		m.Private[key] = true
	} else {
		delete(m.Private, key)
	}
}

func (m *Metadata) Empty() bool { return m == nil || len(m.Fields) == 0 }

func (m *Metadata) sortedKeys() []string {
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Block struct {
	Pos       geom.V3s16
	Nodes     [NodeCount]Node
	Meta      map[uint16]*Metadata
	Generated bool
	Timestamp uint32
}

// New returns a block filled with air.
func New(pos geom.V3s16) *Block {
	b := &Block{Pos: pos, Meta: map[uint16]*Metadata{}, Generated: true}
	for i := range b.Nodes {
		b.Nodes[i] = Node{Param0: ContentAir, Param1: 0}
	}
	return b
}

// Index maps a node position relative to the block origin to the flat
// node array index.
func Index(rel geom.V3s16) uint16 {
	return uint16(int(rel.Z)*geom.BlockSize*geom.BlockSize + int(rel.Y)*geom.BlockSize + int(rel.X))
}

// RelPos returns p relative to the origin of the block containing it.
func RelPos(p geom.V3s16) geom.V3s16 {
	return p.Sub(geom.BlockOrigin(geom.NodeToBlock(p)))
}

func (b *Block) GetNode(rel geom.V3s16) Node { return b.Nodes[Index(rel)] }

func (b *Block) SetNode(rel geom.V3s16, n Node) { b.Nodes[Index(rel)] = n }

func (b *Block) GetMeta(rel geom.V3s16) *Metadata { return b.Meta[Index(rel)] }

func (b *Block) SetMeta(rel geom.V3s16, m *Metadata) {
	if m.Empty() {
		delete(b.Meta, Index(rel))
		return
	}
	b.Meta[Index(rel)] = m
}
