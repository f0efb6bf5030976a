package mapdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"voxelsync.ai/internal/sim/geom"
)

const badgerBlockPrefix = "b:"

// Badger keeps blocks under "b:" + big-endian BlockKey.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens a store at dir. An empty dir keeps everything in
// memory.
func OpenBadger(dir string, syncWrites bool) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	// Blocks are already zstd-compressed.
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(syncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func badgerKey(p geom.V3s16) []byte {
	k := make([]byte, len(badgerBlockPrefix)+8)
	copy(k, badgerBlockPrefix)
	binary.BigEndian.PutUint64(k[len(badgerBlockPrefix):], uint64(BlockKey(p)))
	return k
}

func (b *Badger) LoadBlock(pos geom.V3s16) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(pos))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *Badger) SaveBlock(pos geom.V3s16, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(pos), data)
	})
}

func (b *Badger) Close() error { return b.db.Close() }
