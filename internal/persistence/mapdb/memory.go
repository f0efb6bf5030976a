package mapdb

import (
	"sync"

	"voxelsync.ai/internal/sim/geom"
)

// Memory is a volatile store for tests and throwaway worlds.
type Memory struct {
	mu     sync.RWMutex
	blocks map[geom.V3s16][]byte
}

func NewMemory() *Memory {
	return &Memory{blocks: map[geom.V3s16][]byte{}}
}

func (m *Memory) LoadBlock(pos geom.V3s16) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[pos]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *Memory) SaveBlock(pos geom.V3s16, data []byte) error {
	m.mu.Lock()
	m.blocks[pos] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

func (m *Memory) Close() error { return nil }
