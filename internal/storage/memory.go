package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory, thread-safe Backend. It is primarily useful
// for testing and for single-process deployments that do not need state to
// survive a restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	cells map[string]*Cell
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{cells: make(map[string]*Cell)}
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, key []byte) (*Cell, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cells[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return c.clone(), nil
}

// Scan implements Backend.
func (b *MemoryBackend) Scan(_ context.Context, r Range) ([]KeyedCell, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []KeyedCell
	for k, c := range b.cells {
		key := []byte(k)
		if r.Contains(key) {
			out = append(out, KeyedCell{Key: key, Cell: c.clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		c := bytes.Compare(out[i].Key, out[j].Key)
		if r.Reverse {
			return c > 0
		}
		return c < 0
	})
	if r.Limit > 0 && len(out) > r.Limit {
		out = out[:r.Limit]
	}
	return out, nil
}

// CompareAndSwap implements Backend.
func (b *MemoryBackend) CompareAndSwap(_ context.Context, key []byte, expectSeq uint64, c *Cell) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var seq uint64
	if cur, ok := b.cells[string(key)]; ok {
		seq = cur.Seq
	}
	if seq != expectSeq {
		return ErrSeqMismatch
	}
	next := c.clone()
	next.Seq = expectSeq + 1
	b.cells[string(key)] = next
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }
