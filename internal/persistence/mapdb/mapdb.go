// Package mapdb stores serialized map blocks. Backends: sqlite, badger and
// memory.
package mapdb

import (
	"fmt"

	"voxelsync.ai/internal/config"
	"voxelsync.ai/internal/sim/geom"
)

// Store is a block backend. It satisfies env.BlockStore.
type Store interface {
	LoadBlock(pos geom.V3s16) ([]byte, bool, error)
	SaveBlock(pos geom.V3s16, data []byte) error
	Close() error
}

// Open creates the backend selected by cfg.
func Open(cfg config.MapDBConfig) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		o, err := cfg.SQLiteOptions()
		if err != nil {
			return nil, err
		}
		return OpenSQLite(o.Path)
	case "badger":
		o, err := cfg.BadgerOptions()
		if err != nil {
			return nil, err
		}
		return OpenBadger(o.Dir, o.SyncWrites)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("mapdb: unknown backend %q", cfg.Type)
}

// BlockKey packs a block position the way classic map databases do:
// z*2^24 + y*2^12 + x.
func BlockKey(p geom.V3s16) int64 {
	return int64(p.Z)*0x1000000 + int64(p.Y)*0x1000 + int64(p.X)
}

// KeyToBlock reverses BlockKey.
func KeyToBlock(k int64) geom.V3s16 {
	x := unsignedToSigned(pythonModulo(k, 4096), 2048)
	k = (k - int64(x)) / 4096
	y := unsignedToSigned(pythonModulo(k, 4096), 2048)
	k = (k - int64(y)) / 4096
	z := unsignedToSigned(pythonModulo(k, 4096), 2048)
	return geom.V3s16{X: x, Y: y, Z: z}
}

func pythonModulo(i, mod int64) int64 {
	if i >= 0 {
		return i % mod
	}
	return mod - ((-i) % mod)
}

func unsignedToSigned(i, maxPositive int64) int16 {
	if i < maxPositive {
		return int16(i)
	}
	return int16(i - 2*maxPositive)
}
