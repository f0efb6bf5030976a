package env

import (
	"fmt"
	"sort"
	"sync"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
	"voxelsync.ai/internal/sim/mapedit"
)

// BlockStore persists serialized blocks.
type BlockStore interface {
	LoadBlock(pos geom.V3s16) ([]byte, bool, error)
	SaveBlock(pos geom.V3s16, data []byte) error
}

// Generator fills a block that exists neither in memory nor in the store.
// A nil Generator leaves such blocks absent.
type Generator func(pos geom.V3s16) *mapblock.Block

// FlatGenerator fills everything below y=0 with fill and leaves the rest
// as air.
func FlatGenerator(fill uint16) Generator {
	return func(pos geom.V3s16) *mapblock.Block {
		b := mapblock.New(pos)
		if pos.Y >= 0 {
			return b
		}
		for i := range b.Nodes {
			b.Nodes[i] = mapblock.Node{Param0: fill}
		}
		return b
	}
}

// Map is the in-memory block cache over a BlockStore. Edits emit
// mapedit events through the listener.
type Map struct {
	mu       sync.Mutex
	blocks   map[geom.V3s16]*mapblock.Block
	dirty    map[geom.V3s16]struct{}
	store    BlockStore
	gen      Generator
	listener func(mapedit.Event)
	log      *logging.Logger
}

func NewMap(store BlockStore, gen Generator) *Map {
	return &Map{
		blocks: map[geom.V3s16]*mapblock.Block{},
		dirty:  map[geom.V3s16]struct{}{},
		store:  store,
		gen:    gen,
	}
}

// SetListener registers the receiver of map edit events.
func (m *Map) SetListener(fn func(mapedit.Event)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

func (m *Map) SetLogger(l *logging.Logger) {
	m.mu.Lock()
	m.log = l
	m.mu.Unlock()
}

// GetBlock returns a loaded block, loading or generating it on a miss.
// Blocks the store fails to produce stay unloaded; they are never
// replaced by generated ones.
func (m *Map) GetBlock(pos geom.V3s16) (*mapblock.Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(pos)
}

func (m *Map) getLocked(pos geom.V3s16) (*mapblock.Block, bool) {
	if b, ok := m.blocks[pos]; ok {
		return b, true
	}
	if m.store != nil {
		data, ok, err := m.store.LoadBlock(pos)
		if err != nil {
			m.log.Errorf("map: load block %v: %v", pos, err)
			return nil, false
		}
		if ok {
			b, err := mapblock.Deserialize(pos, data, false)
			if err != nil {
				m.log.Errorf("map: block %v is corrupt: %v", pos, err)
				return nil, false
			}
			m.blocks[pos] = b
			return b, true
		}
	}
	if m.gen == nil {
		return nil, false
	}
	b := m.gen(pos)
	m.blocks[pos] = b
	m.dirty[pos] = struct{}{}
	return b, true
}

func (m *Map) GetNode(p geom.V3s16) (mapblock.Node, bool) {
	b, ok := m.GetBlock(geom.NodeToBlock(p))
	if !ok {
		return mapblock.Node{Param0: mapblock.ContentIgnore}, false
	}
	return b.GetNode(mapblock.RelPos(p)), true
}

func (m *Map) NodeMetadata(p geom.V3s16) *mapblock.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[geom.NodeToBlock(p)]
	if !ok {
		return nil
	}
	return b.GetMeta(mapblock.RelPos(p))
}

// SetNode places n at p and drops any metadata there.
func (m *Map) SetNode(p geom.V3s16, n mapblock.Node) error {
	return m.edit(p, func(b *mapblock.Block, rel geom.V3s16) mapedit.Event {
		b.SetNode(rel, n)
		b.SetMeta(rel, nil)
		if n.Param0 == mapblock.ContentAir {
			return mapedit.RemoveNode(p)
		}
		return mapedit.AddNode(p, n)
	})
}

// SwapNode replaces the node at p and keeps its metadata.
func (m *Map) SwapNode(p geom.V3s16, n mapblock.Node) error {
	return m.edit(p, func(b *mapblock.Block, rel geom.V3s16) mapedit.Event {
		b.SetNode(rel, n)
		return mapedit.SwapNode(p, n)
	})
}

func (m *Map) RemoveNode(p geom.V3s16) error {
	return m.SetNode(p, mapblock.Node{Param0: mapblock.ContentAir})
}

// SetMetadata sets one metadata field at p.
func (m *Map) SetMetadata(p geom.V3s16, key, value string, private bool) error {
	return m.edit(p, func(b *mapblock.Block, rel geom.V3s16) mapedit.Event {
		meta := b.GetMeta(rel)
		if meta == nil {
			meta = mapblock.NewMetadata()
		}
		if value == "" {
			delete(meta.Fields, key)
			delete(meta.Private, key)
		} else {
			meta.Set(key, value, private)
		}
		b.SetMeta(rel, meta)
		return mapedit.MetadataChanged(p, private)
	})
}

// FillBlocks overwrites every node of the given blocks and reports one
// bulk change.
func (m *Map) FillBlocks(blocks []geom.V3s16, n mapblock.Node) error {
	m.mu.Lock()
	for _, pos := range blocks {
		b, ok := m.getLocked(pos)
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("map: block %v not loaded", pos)
		}
		for i := range b.Nodes {
			b.Nodes[i] = n
		}
		b.Meta = map[uint16]*mapblock.Metadata{}
		m.dirty[pos] = struct{}{}
	}
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(mapedit.Bulk(blocks))
	}
	return nil
}

func (m *Map) edit(p geom.V3s16, apply func(b *mapblock.Block, rel geom.V3s16) mapedit.Event) error {
	pos := geom.NodeToBlock(p)
	m.mu.Lock()
	b, ok := m.getLocked(pos)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("map: block %v not loaded", pos)
	}
	ev := apply(b, mapblock.RelPos(p))
	m.dirty[pos] = struct{}{}
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
	return nil
}

// Save writes every dirty block to the store and returns how many were
// written.
func (m *Map) Save() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		m.dirty = map[geom.V3s16]struct{}{}
		return 0, nil
	}
	positions := make([]geom.V3s16, 0, len(m.dirty))
	for p := range m.dirty {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	n := 0
	for _, p := range positions {
		data, err := mapblock.Serialize(m.blocks[p], protocol.SerFmtVerHighest, false)
		if err != nil {
			return n, err
		}
		if err := m.store.SaveBlock(p, data); err != nil {
			return n, fmt.Errorf("map: save %v: %w", p, err)
		}
		delete(m.dirty, p)
		n++
	}
	return n, nil
}

func (m *Map) LoadedBlocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}
