// Package storage provides the transactional key-value store the ledger is
// built on.
//
// Transactions are optimistic. Reads are recorded with the sequence number
// they observed; on commit every write is prepared with a compare-and-swap
// against that sequence, a coordinator record decides the outcome, and the
// prepared cells are then flipped to committed. A crash between those steps
// leaves prepared cells behind; readers that hit one get a *ConflictError
// naming the holder, and Recover rolls the holder forward or back.
//
// Backends only need to provide single-key compare-and-swap and ordered
// range scans. Cells are never physically removed: deletes are tombstones.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a key has no visible value.
var ErrNotFound = errors.New("storage: key not found")

// ErrSeqMismatch is returned by Backend.CompareAndSwap when the stored
// sequence differs from the expected one.
var ErrSeqMismatch = errors.New("storage: sequence mismatch")

// ErrTxClosed is returned when a finished transaction is used again.
var ErrTxClosed = errors.New("storage: transaction already committed or aborted")

// ConflictError reports that a transaction could not proceed because other
// transactions touched the same keys.
type ConflictError struct {
	TxID string
	Keys []string
	// Holders are the ids of transactions that held prepared cells on Keys,
	// where known. Empty for plain write-write collisions.
	Holders []string
}

func (e *ConflictError) Error() string {
	if len(e.Holders) > 0 {
		return fmt.Sprintf("transaction %s conflicts on %s (held by %s)",
			e.TxID, strings.Join(e.Keys, ", "), strings.Join(e.Holders, ", "))
	}
	return fmt.Sprintf("transaction %s conflicts on %s", e.TxID, strings.Join(e.Keys, ", "))
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Range selects keys in [Start, End). A nil End is unbounded.
type Range struct {
	Start   []byte
	End     []byte
	Reverse bool
	// Limit caps the number of results; zero means no limit.
	Limit int
}

// PrefixRange returns the range covering every key that starts with prefix.
func PrefixRange(prefix []byte) Range {
	return Range{Start: prefix, End: prefixEnd(prefix)}
}

func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Contains reports whether key falls inside the range bounds.
func (r Range) Contains(key []byte) bool {
	if bytes.Compare(key, r.Start) < 0 {
		return false
	}
	return r.End == nil || bytes.Compare(key, r.End) < 0
}

// KV is a key and its visible value.
type KV struct {
	Key   []byte
	Value []byte
}

// Transaction is a single optimistic transaction. It is not safe for
// concurrent use.
type Transaction interface {
	ID() string
	// Get returns the visible value of key or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Scan returns visible values in range order, including this
	// transaction's own buffered writes.
	Scan(ctx context.Context, r Range) ([]KV, error)
	// Put buffers a write until Commit.
	Put(key, value []byte) error
	// Delete buffers a tombstone until Commit.
	Delete(key []byte) error
	Commit(ctx context.Context) error
	// Abort discards buffered writes and rolls back anything already
	// prepared. Aborting a finished transaction is a no-op.
	Abort(ctx context.Context) error
}

// TxState is the coordinator's view of a transaction.
type TxState int

const (
	TxUnknown TxState = iota
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxCommitted:
		return "COMMITTED"
	case TxAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// RecoveryAction is what Recover did to a key.
type RecoveryAction int

const (
	// RecoveryNone means the key held no prepared cell.
	RecoveryNone RecoveryAction = iota
	RecoveryRolledForward
	RecoveryRolledBack
	// RecoveryInProgress means the holder is undecided and not yet expired.
	RecoveryInProgress
)

func (a RecoveryAction) String() string {
	switch a {
	case RecoveryRolledForward:
		return "rolled_forward"
	case RecoveryRolledBack:
		return "rolled_back"
	case RecoveryInProgress:
		return "in_progress"
	default:
		return "none"
	}
}

// Recovery describes the outcome of Recover on one key.
type Recovery struct {
	Key    string
	Holder string
	Action RecoveryAction
}

// Manager starts transactions and repairs keys left prepared by abandoned
// ones.
type Manager interface {
	Begin(ctx context.Context) (Transaction, error)
	State(ctx context.Context, txID string) (TxState, error)
	Recover(ctx context.Context, key []byte) (Recovery, error)
	Close() error
}
