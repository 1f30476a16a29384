package validation

import (
	"context"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// tracer is the ledger view a contract replays against. Reads resolve to
// exactly the versions named in the record's input; writes are captured
// and never persisted.
type tracer struct {
	tx         *ledger.Transaction
	input      asset.Input
	contractID string
	loaded     map[string]*asset.Record
	writes     map[string][]byte
}

var _ ledger.View = (*tracer)(nil)

func newTracer(tx *ledger.Transaction, input asset.Input, contractID string) *tracer {
	return &tracer{
		tx:         tx,
		input:      input,
		contractID: contractID,
		loaded:     make(map[string]*asset.Record),
		writes:     make(map[string][]byte),
	}
}

func (t *tracer) dependency(ctx context.Context, id string) (*asset.Record, bool, error) {
	age, ok := t.input[id]
	if !ok {
		return nil, false, nil
	}
	if rec, ok := t.loaded[id]; ok {
		return rec, true, nil
	}
	rec, ok, err := t.tx.Record(ctx, id, age)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, status.New(status.InconsistentStates, "input dependency %q age %d does not exist", id, age)
	}
	t.loaded[id] = rec
	return rec, true, nil
}

// Get returns a staged write the way ledger.Transaction does: unsealed, one
// age past the version it replaces.
func (t *tracer) Get(ctx context.Context, id string) (*asset.Record, bool, error) {
	if data, ok := t.writes[id]; ok {
		var age uint32
		if prev, ok := t.input[id]; ok {
			age = prev + 1
		}
		return &asset.Record{ID: id, Age: age, ContractID: t.contractID, Data: data}, true, nil
	}
	return t.dependency(ctx, id)
}

func (t *tracer) Put(_ context.Context, id string, data []byte) error {
	if id == "" {
		return status.New(status.InvalidRequest, "asset id is required")
	}
	t.writes[id] = append([]byte(nil), data...)
	return nil
}

// Scan is capped at the dependency age, as it was when the record was
// written.
func (t *tracer) Scan(ctx context.Context, f *ledger.AssetFilter) ([]*asset.Record, error) {
	if f == nil || f.ID == "" {
		return nil, status.New(status.InvalidRequest, "scan requires an asset id")
	}
	head, ok, err := t.dependency(ctx, f.ID)
	if err != nil || !ok {
		return nil, err
	}
	return t.tx.History(ctx, f.CappedAt(head.Age))
}

// output returns what the replay wrote for id.
func (t *tracer) output(id string) ([]byte, bool) {
	b, ok := t.writes[id]
	return b, ok
}
