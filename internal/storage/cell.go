package storage

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// CellState is the commit state of a stored cell.
type CellState uint8

const (
	CellCommitted CellState = iota + 1
	CellPrepared
)

// Image is the committed content of a cell before a prepared write.
type Image struct {
	Exists  bool   `json:"exists"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	TxID    string `json:"tx_id,omitempty"`
}

// Cell is what a backend stores under a key.
type Cell struct {
	// Seq is maintained by the backend: CompareAndSwap stores expected+1.
	Seq     uint64    `json:"-"`
	Value   []byte    `json:"value,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
	State   CellState `json:"state"`
	// TxID is the last transaction that wrote the cell.
	TxID       string `json:"tx_id"`
	PreparedAt int64  `json:"prepared_at,omitempty"`
	Before     *Image `json:"before,omitempty"`
}

func (c *Cell) prepared() bool { return c.State == CellPrepared }

// visible reports whether the committed content holds a value.
func (c *Cell) visible() bool { return !c.Deleted }

// image returns the committed content of c for use as a before image.
func (c *Cell) image() *Image {
	if c == nil {
		return &Image{}
	}
	return &Image{Exists: true, Value: c.Value, Deleted: c.Deleted, TxID: c.TxID}
}

// rolledForward is the committed cell c turns into once its holder commits.
func (c *Cell) rolledForward() *Cell {
	return &Cell{Value: c.Value, Deleted: c.Deleted, State: CellCommitted, TxID: c.TxID}
}

// rolledBack restores the before image. A cell that did not exist before
// becomes a tombstone.
func (c *Cell) rolledBack() *Cell {
	b := c.Before
	if b == nil || !b.Exists {
		return &Cell{Deleted: true, State: CellCommitted, TxID: c.TxID}
	}
	return &Cell{Value: b.Value, Deleted: b.Deleted, State: CellCommitted, TxID: b.TxID}
}

func (c *Cell) clone() *Cell {
	if c == nil {
		return nil
	}
	out := *c
	if c.Value != nil {
		out.Value = append([]byte(nil), c.Value...)
	}
	if c.Before != nil {
		b := *c.Before
		out.Before = &b
	}
	return &out
}

func encodeCell(c *Cell) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode cell: %w", err)
	}
	return b, nil
}

func decodeCell(seq uint64, b []byte) (*Cell, error) {
	c := &Cell{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("decode cell: %w", err)
	}
	c.Seq = seq
	return c, nil
}

// KeyedCell is a cell returned by a range scan.
type KeyedCell struct {
	Key  []byte
	Cell *Cell
}

// Backend is the durable layer under the consensus commit.
type Backend interface {
	// Get returns the cell at key or ErrNotFound.
	Get(ctx context.Context, key []byte) (*Cell, error)
	// Scan returns cells in key order within r.
	Scan(ctx context.Context, r Range) ([]KeyedCell, error)
	// CompareAndSwap stores c at key if the current sequence equals
	// expectSeq, where zero means the key must be absent. On success the
	// stored sequence is expectSeq+1. Otherwise it returns ErrSeqMismatch.
	CompareAndSwap(ctx context.Context, key []byte, expectSeq uint64, c *Cell) error
	Close() error
}
