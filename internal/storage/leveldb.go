package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBBackend stores cells in a LevelDB database. Values are the cell
// sequence (8 bytes, big endian) followed by the encoded cell.
//
// LevelDB has no native compare-and-swap, so writes are serialised by a
// process-local mutex. The database must not be shared between processes.
type LevelDBBackend struct {
	mu   sync.Mutex
	db   *leveldb.DB
	sync bool
}

// OpenLevelDB opens (or creates) a LevelDB database at path. With syncWrites
// every CompareAndSwap is fsynced before it returns.
func OpenLevelDB(path string, syncWrites bool) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBBackend{db: db, sync: syncWrites}, nil
}

// NewLevelDBInMemory opens a LevelDB database over volatile memory storage.
func NewLevelDBInMemory() (*LevelDBBackend, error) {
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return &LevelDBBackend{db: db}, nil
}

func decodeLevelDBValue(v []byte) (*Cell, error) {
	if len(v) < 8 {
		return nil, fmt.Errorf("decode cell: short value (%d bytes)", len(v))
	}
	return decodeCell(binary.BigEndian.Uint64(v[:8]), v[8:])
}

// Get implements Backend.
func (b *LevelDBBackend) Get(_ context.Context, key []byte) (*Cell, error) {
	v, err := b.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return decodeLevelDBValue(v)
}

// Scan implements Backend.
func (b *LevelDBBackend) Scan(ctx context.Context, r Range) ([]KeyedCell, error) {
	iter := b.db.NewIterator(&util.Range{Start: r.Start, Limit: r.End}, nil)
	defer iter.Release()

	next, ok := iter.Next, iter.First()
	if r.Reverse {
		next, ok = iter.Prev, iter.Last()
	}

	var out []KeyedCell
	for ; ok; ok = next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := decodeLevelDBValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", iter.Key(), err)
		}
		out = append(out, KeyedCell{Key: append([]byte(nil), iter.Key()...), Cell: c})
		if r.Limit > 0 && len(out) == r.Limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb scan: %w", err)
	}
	return out, nil
}

// CompareAndSwap implements Backend.
func (b *LevelDBBackend) CompareAndSwap(_ context.Context, key []byte, expectSeq uint64, c *Cell) error {
	body, err := encodeCell(c)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var seq uint64
	cur, err := b.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return fmt.Errorf("leveldb get: %w", err)
	case len(cur) < 8:
		return fmt.Errorf("leveldb cell %q is corrupt", key)
	default:
		seq = binary.BigEndian.Uint64(cur[:8])
	}
	if seq != expectSeq {
		return ErrSeqMismatch
	}

	v := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint64(v, expectSeq+1)
	v = append(v, body...)
	if err := b.db.Put(key, v, &opt.WriteOptions{Sync: b.sync}); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}
