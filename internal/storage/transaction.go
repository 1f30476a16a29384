package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

type readEntry struct {
	seq   uint64
	value []byte
	found bool
	txID  string
}

type write struct {
	value   []byte
	deleted bool
}

// rollbackTimeout bounds the cleanup of a transaction whose caller has gone.
const rollbackTimeout = 5 * time.Second

type txStatus int

const (
	txActive txStatus = iota
	txPrepared
	txDone
)

// Tx is a consensus-commit transaction.
type Tx struct {
	m      *ConsensusCommit
	id     string
	reads  map[string]readEntry
	writes map[string]*write
	// prepared holds the sequence each prepared key was stored with.
	prepared map[string]uint64
	status   txStatus
}

// ID implements Transaction.
func (t *Tx) ID() string { return t.id }

func (t *Tx) conflict(keys []string, holders ...string) *ConflictError {
	return &ConflictError{TxID: t.id, Keys: keys, Holders: holders}
}

// observe folds a backend cell into the read set, failing if the cell is held
// by another transaction.
func (t *Tx) observe(key string, cell *Cell) (readEntry, error) {
	if cell.prepared() && cell.TxID != t.id {
		return readEntry{}, t.conflict([]string{key}, cell.TxID)
	}
	e := readEntry{seq: cell.Seq, found: cell.visible(), txID: cell.TxID}
	if e.found {
		e.value = cell.Value
	}
	t.reads[key] = e
	return e, nil
}

// Get implements Transaction.
func (t *Tx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.status != txActive {
		return nil, ErrTxClosed
	}
	k := string(key)
	if w, ok := t.writes[k]; ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return w.value, nil
	}
	if e, ok := t.reads[k]; ok {
		if !e.found {
			return nil, ErrNotFound
		}
		return e.value, nil
	}

	cell, err := t.m.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		t.reads[k] = readEntry{}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	e, err := t.observe(k, cell)
	if err != nil {
		return nil, err
	}
	if !e.found {
		return nil, ErrNotFound
	}
	return e.value, nil
}

// Scan implements Transaction.
func (t *Tx) Scan(ctx context.Context, r Range) ([]KV, error) {
	if t.status != txActive {
		return nil, ErrTxClosed
	}
	pending := false
	for k := range t.writes {
		if r.Contains([]byte(k)) {
			pending = true
			break
		}
	}
	page := r
	if pending {
		// Local writes may displace backend rows, so limit after merging.
		page.Limit = 0
	}

	// Tombstones come back from the backend but are not visible, so a
	// limited scan pages on until it has enough live rows.
	visible := make(map[string][]byte)
	for {
		cells, err := t.m.backend.Scan(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, kc := range cells {
			k := string(kc.Key)
			if _, ok := t.writes[k]; ok {
				continue
			}
			e, ok := t.reads[k]
			if !ok {
				if e, err = t.observe(k, kc.Cell); err != nil {
					return nil, err
				}
			}
			if e.found {
				visible[k] = e.value
			}
		}
		if page.Limit == 0 || len(cells) < page.Limit || len(visible) >= r.Limit {
			break
		}
		last := cells[len(cells)-1].Key
		if r.Reverse {
			page.End = bytes.Clone(last)
		} else {
			page.Start = append(bytes.Clone(last), 0)
		}
	}
	for k, w := range t.writes {
		if !r.Contains([]byte(k)) {
			continue
		}
		if w.deleted {
			delete(visible, k)
		} else {
			visible[k] = w.value
		}
	}

	out := make([]KV, 0, len(visible))
	for k, v := range visible {
		out = append(out, KV{Key: []byte(k), Value: v})
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

// Put implements Transaction.
func (t *Tx) Put(key, value []byte) error {
	if t.status != txActive {
		return ErrTxClosed
	}
	t.writes[string(key)] = &write{value: append([]byte(nil), value...)}
	return nil
}

// Delete implements Transaction.
func (t *Tx) Delete(key []byte) error {
	if t.status != txActive {
		return ErrTxClosed
	}
	t.writes[string(key)] = &write{deleted: true}
	return nil
}

func (t *Tx) sortedWrites() []string {
	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prepare writes every buffered value as a prepared cell. It is the first
// phase of Commit; a transaction abandoned after Prepare is what Recover
// repairs.
func (t *Tx) Prepare(ctx context.Context) error {
	if t.status != txActive {
		return ErrTxClosed
	}
	t.prepared = make(map[string]uint64, len(t.writes))
	now := t.m.now().UnixNano()

	for _, k := range t.sortedWrites() {
		key := []byte(k)
		var expect uint64
		var before *Image
		if e, ok := t.reads[k]; ok {
			expect = e.seq
			before = &Image{Exists: e.seq != 0, Value: e.value, Deleted: e.seq != 0 && !e.found, TxID: e.txID}
		} else {
			cur, err := t.m.backend.Get(ctx, key)
			switch {
			case errors.Is(err, ErrNotFound):
				before = &Image{}
			case err != nil:
				return t.failPrepare(ctx, fmt.Errorf("prepare %q: %w", k, err))
			case cur.prepared():
				return t.failPrepare(ctx, t.conflict([]string{k}, cur.TxID))
			default:
				expect = cur.Seq
				before = cur.image()
			}
		}

		w := t.writes[k]
		cell := &Cell{
			Value:      w.value,
			Deleted:    w.deleted,
			State:      CellPrepared,
			TxID:       t.id,
			PreparedAt: now,
			Before:     before,
		}
		err := t.m.backend.CompareAndSwap(ctx, key, expect, cell)
		if errors.Is(err, ErrSeqMismatch) {
			var holders []string
			if cur, gerr := t.m.backend.Get(ctx, key); gerr == nil && cur.prepared() {
				holders = append(holders, cur.TxID)
			}
			return t.failPrepare(ctx, t.conflict([]string{k}, holders...))
		}
		if err != nil {
			return t.failPrepare(ctx, fmt.Errorf("prepare %q: %w", k, err))
		}
		t.prepared[k] = expect + 1
	}
	t.status = txPrepared
	return nil
}

func (t *Tx) failPrepare(ctx context.Context, cause error) error {
	if err := t.rollback(ctx); err != nil {
		t.m.logger.Warn("rollback after failed prepare",
			zap.String("tx_id", t.id), zap.Error(err))
	}
	return cause
}

// validateReads re-reads every key that was read but not written and fails
// if any changed since it was observed.
func (t *Tx) validateReads(ctx context.Context) error {
	var changed []string
	var holders []string
	for k, e := range t.reads {
		if _, ok := t.writes[k]; ok {
			continue
		}
		cur, err := t.m.backend.Get(ctx, []byte(k))
		if errors.Is(err, ErrNotFound) {
			if e.seq != 0 {
				changed = append(changed, k)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("validate read %q: %w", k, err)
		}
		if cur.Seq != e.seq {
			changed = append(changed, k)
			if cur.prepared() {
				holders = append(holders, cur.TxID)
			}
		}
	}
	if len(changed) > 0 {
		sort.Strings(changed)
		return t.conflict(changed, holders...)
	}
	return nil
}

// Commit implements Transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if t.status == txDone {
		return ErrTxClosed
	}
	if len(t.writes) == 0 {
		t.status = txDone
		return nil
	}
	if t.status == txActive {
		if err := t.Prepare(ctx); err != nil {
			return err
		}
	}
	if t.m.validateReads {
		if err := t.validateReads(ctx); err != nil {
			return t.failPrepare(ctx, err)
		}
	}

	state, err := t.m.decide(ctx, t.id, stateCommitted)
	if err != nil {
		// The outcome is unknown to us; recovery settles it later.
		t.status = txDone
		return err
	}
	if state != TxCommitted {
		// Recovery aborted us while we were preparing.
		return t.failPrepare(ctx, t.conflict(t.sortedWrites()))
	}
	t.status = txDone

	for _, k := range t.sortedWrites() {
		w := t.writes[k]
		cell := &Cell{Value: w.value, Deleted: w.deleted, State: CellCommitted, TxID: t.id}
		if err := t.m.backend.CompareAndSwap(ctx, []byte(k), t.prepared[k], cell); err != nil {
			// Committed already; readers will roll this cell forward.
			t.m.logger.Debug("lazy commit of prepared cell",
				zap.String("tx_id", t.id), zap.String("key", k), zap.Error(err))
		}
	}
	return nil
}

// Abort implements Transaction.
func (t *Tx) Abort(ctx context.Context) error {
	if t.status == txDone {
		return nil
	}
	return t.rollback(ctx)
}

// rollback marks the transaction aborted and restores prepared cells. It
// runs even when ctx is already done, so cells are released without waiting
// for the recovery expiration.
func (t *Tx) rollback(ctx context.Context) error {
	prepared := t.prepared
	t.status = txDone
	if len(prepared) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if _, err := t.m.decide(ctx, t.id, stateAborted); err != nil {
		return err
	}
	var firstErr error
	for k, seq := range prepared {
		cur, err := t.m.backend.Get(ctx, []byte(k))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if cur.Seq != seq || cur.TxID != t.id {
			continue
		}
		if err := t.m.backend.CompareAndSwap(ctx, []byte(k), seq, cur.rolledBack()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("roll back %s: %w", t.id, firstErr)
	}
	return nil
}
