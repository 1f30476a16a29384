// Package ledger is the transactional asset ledger: a snapshot overlay of
// read and write sets over one storage transaction, committed as new
// hash-chained asset versions.
package ledger

import (
	"context"
	"errors"
	"sort"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// View is the ledger surface a contract executes against.
type View interface {
	// Get returns the latest visible version of id, including versions
	// staged by this view.
	Get(ctx context.Context, id string) (*asset.Record, bool, error)
	// Put stages new data for id at the next age.
	Put(ctx context.Context, id string, data []byte) error
	// Scan returns committed versions selected by the filter.
	Scan(ctx context.Context, f *AssetFilter) ([]*asset.Record, error)
}

// Execution carries the request fields every record written by a
// transaction is stamped with.
type Execution struct {
	Nonce      string
	ContractID string
	Argument   string
	Signature  []byte
}

// Transaction is a ledger snapshot bound to one storage transaction. It is
// not safe for concurrent use.
type Transaction struct {
	ns   string
	exec Execution
	tx   storage.Transaction
	// readSet maps an asset id to the latest version read from storage; a
	// nil value records that the asset did not exist.
	readSet  map[string]*asset.Record
	writeSet map[string][]byte
}

var _ View = (*Transaction)(nil)

func storageError(err error, format string, args ...any) error {
	if storage.IsConflict(err) {
		return status.Wrap(status.Conflict, err, format, args...)
	}
	return status.Wrap(status.DatabaseError, err, format, args...)
}

// ID returns the storage transaction id.
func (t *Transaction) ID() string { return t.tx.ID() }

// Namespace returns the ledger namespace.
func (t *Transaction) Namespace() string { return t.ns }

// Storage returns the underlying storage transaction. Writes made through it
// commit or abort together with the ledger writes.
func (t *Transaction) Storage() storage.Transaction { return t.tx }

// WrittenIDs returns the ids staged for commit in ascending order.
func (t *Transaction) WrittenIDs() []string {
	ids := make([]string, 0, len(t.writeSet))
	for id := range t.writeSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Transaction) nextAge(id string) uint32 {
	if prev := t.readSet[id]; prev != nil {
		return prev.Age + 1
	}
	return 0
}

// latest returns the newest committed version of id, memoised in the read set.
func (t *Transaction) latest(ctx context.Context, id string) (*asset.Record, error) {
	if rec, ok := t.readSet[id]; ok {
		return rec, nil
	}
	b, err := t.tx.Get(ctx, MetaKey(t.ns, id))
	if errors.Is(err, storage.ErrNotFound) {
		t.readSet[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err, "read metadata of asset %q", id)
	}
	age, err := decodeMeta(b)
	if err != nil {
		return nil, status.Wrap(status.DatabaseError, err, "asset %q", id)
	}
	rec, ok, err := t.Record(ctx, id, age)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, status.New(status.DatabaseError, "asset %q: metadata names missing age %d", id, age)
	}
	t.readSet[id] = rec
	return rec, nil
}

// Record reads one specific version without adding it to the read set.
func (t *Transaction) Record(ctx context.Context, id string, age uint32) (*asset.Record, bool, error) {
	b, err := t.tx.Get(ctx, RecordKey(t.ns, id, age))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError(err, "read asset %q age %d", id, age)
	}
	rec, err := DecodeRecord(b)
	if err != nil {
		return nil, false, status.Wrap(status.DatabaseError, err, "asset %q age %d", id, age)
	}
	return rec, true, nil
}

// Get implements View. A staged write is returned as an unsealed record that
// carries only id, age and data.
func (t *Transaction) Get(ctx context.Context, id string) (*asset.Record, bool, error) {
	if data, ok := t.writeSet[id]; ok {
		return &asset.Record{ID: id, Age: t.nextAge(id), ContractID: t.exec.ContractID, Data: data}, true, nil
	}
	rec, err := t.latest(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

// Put implements View. The current version is read first so the new age and
// the input dependency are known.
func (t *Transaction) Put(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return status.New(status.InvalidRequest, "asset id is required")
	}
	if _, err := t.latest(ctx, id); err != nil {
		return err
	}
	t.writeSet[id] = append([]byte(nil), data...)
	return nil
}

// Scan implements View. The scan is capped at the version this transaction
// observes as latest, which also becomes an input dependency. Staged writes
// are not returned.
func (t *Transaction) Scan(ctx context.Context, f *AssetFilter) ([]*asset.Record, error) {
	if f == nil || f.ID == "" {
		return nil, status.New(status.InvalidRequest, "scan requires an asset id")
	}
	head, err := t.latest(ctx, f.ID)
	if err != nil || head == nil {
		return nil, err
	}
	return t.scanUpTo(ctx, f, head.Age)
}

func (t *Transaction) scanUpTo(ctx context.Context, f *AssetFilter, age uint32) ([]*asset.Record, error) {
	r, ok := f.CappedAt(age).storageRange(t.ns)
	if !ok {
		return nil, nil
	}
	kvs, err := t.tx.Scan(ctx, r)
	if err != nil {
		return nil, storageError(err, "scan asset %q", f.ID)
	}
	out := make([]*asset.Record, 0, len(kvs))
	for _, kv := range kvs {
		rec, err := DecodeRecord(kv.Value)
		if err != nil {
			return nil, status.Wrap(status.DatabaseError, err, "scan asset %q", f.ID)
		}
		if got, err := ageFromKey(kv.Key); err != nil || got != rec.Age {
			return nil, status.New(status.DatabaseError, "asset %q: record stored under wrong key %q", f.ID, kv.Key)
		}
		out = append(out, rec)
	}
	return out, nil
}

// History scans committed versions without recording any dependency. It is
// meant for read-only transactions such as validation.
func (t *Transaction) History(ctx context.Context, f *AssetFilter) ([]*asset.Record, error) {
	if f == nil || f.ID == "" {
		return nil, status.New(status.InvalidRequest, "scan requires an asset id")
	}
	return t.scanUpTo(ctx, f, maxAge)
}

// Input returns the dependencies read so far.
func (t *Transaction) Input() asset.Input {
	in := asset.Input{}
	for id, rec := range t.readSet {
		if rec != nil {
			in[id] = rec.Age
		}
	}
	return in
}

// Commit seals every staged write into a hash-chained record and commits
// them together with any other writes on the storage transaction. It
// returns the new records in ascending id order.
func (t *Transaction) Commit(ctx context.Context) ([]*asset.Record, error) {
	input := t.Input().Encode()
	records := make([]*asset.Record, 0, len(t.writeSet))

	for _, id := range t.WrittenIDs() {
		f := asset.Fields{
			ID:         id,
			Nonce:      t.exec.Nonce,
			Argument:   t.exec.Argument,
			ContractID: t.exec.ContractID,
			Input:      input,
			Data:       t.writeSet[id],
			Signature:  t.exec.Signature,
		}
		if prev := t.readSet[id]; prev != nil {
			f.Age = prev.Age + 1
			f.PrevHash = prev.Hash
		}
		rec, err := asset.NewRecord(f)
		if err != nil {
			t.abortQuietly(ctx)
			return nil, status.Wrap(status.InvalidRequest, err, "seal asset %q", id)
		}
		b, err := EncodeRecord(rec)
		if err != nil {
			t.abortQuietly(ctx)
			return nil, status.Wrap(status.RuntimeError, err, "seal asset %q", id)
		}
		key := RecordKey(t.ns, id, rec.Age)
		if err := t.claim(ctx, key); err != nil {
			t.abortQuietly(ctx)
			return nil, err
		}
		if err := t.tx.Put(key, b); err != nil {
			t.abortQuietly(ctx)
			return nil, storageError(err, "stage asset %q", id)
		}
		if err := t.tx.Put(MetaKey(t.ns, id), encodeMeta(rec.Age)); err != nil {
			t.abortQuietly(ctx)
			return nil, storageError(err, "stage asset %q", id)
		}
		records = append(records, rec)
	}

	if err := t.tx.Commit(ctx); err != nil {
		t.abortQuietly(ctx)
		return nil, storageError(err, "commit ledger transaction %s", t.tx.ID())
	}
	return records, nil
}

// Abort discards every staged write.
func (t *Transaction) Abort(ctx context.Context) error {
	if err := t.tx.Abort(ctx); err != nil {
		return storageError(err, "abort ledger transaction %s", t.tx.ID())
	}
	return nil
}

// claim reads the slot of a new version so the commit fails if another
// writer got there first. Records are never overwritten.
func (t *Transaction) claim(ctx context.Context, key []byte) error {
	_, err := t.tx.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err == nil {
		err = &storage.ConflictError{TxID: t.tx.ID(), Keys: []string{string(key)}}
	}
	return storageError(err, "claim %q", key)
}

func (t *Transaction) abortQuietly(ctx context.Context) {
	_ = t.tx.Abort(ctx)
}

