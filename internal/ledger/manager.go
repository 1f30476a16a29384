package ledger

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// Recoverer repairs assets left contended by abandoned transactions.
type Recoverer interface {
	Recover(ctx context.Context, ids []string) ([]storage.Recovery, error)
}

// Manager starts ledger transactions in one namespace.
type Manager struct {
	store  storage.Manager
	ns     string
	logger *zap.Logger
}

var _ Recoverer = (*Manager)(nil)

// NewManager creates a Manager. An empty namespace selects DefaultNamespace.
func NewManager(store storage.Manager, namespace string, logger *zap.Logger) *Manager {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Manager{store: store, ns: namespace, logger: logger}
}

// Namespace returns the ledger namespace.
func (m *Manager) Namespace() string { return m.ns }

// Begin starts a transaction whose records are stamped with exec.
func (m *Manager) Begin(ctx context.Context, exec Execution) (*Transaction, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, storageError(err, "begin transaction")
	}
	return &Transaction{
		ns:       m.ns,
		exec:     exec,
		tx:       tx,
		readSet:  make(map[string]*asset.Record),
		writeSet: make(map[string][]byte),
	}, nil
}

// Read starts a transaction for reading history. It must be aborted.
func (m *Manager) Read(ctx context.Context) (*Transaction, error) {
	return m.Begin(ctx, Execution{})
}

// ContendedAssets returns the asset ids named by a conflict anywhere in
// err's chain.
func ContendedAssets(err error) []string {
	var ce *storage.ConflictError
	if !errors.As(err, &ce) {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, k := range ce.Keys {
		if id, ok := AssetIDFromKey([]byte(k)); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Recover implements Recoverer. For each id it settles the metadata cell and
// the record cells at the latest age and the one after it, which is where a
// prepared write of an abandoned transaction sits.
func (m *Manager) Recover(ctx context.Context, ids []string) ([]storage.Recovery, error) {
	var out []storage.Recovery
	for _, id := range ids {
		rec, err := m.store.Recover(ctx, MetaKey(m.ns, id))
		if err != nil {
			return out, status.Wrap(status.DatabaseError, err, "recover asset %q", id)
		}
		out = append(out, rec)
		if rec.Action == storage.RecoveryInProgress {
			continue
		}

		ages, err := m.candidateAges(ctx, id)
		if err != nil {
			return out, err
		}
		for _, age := range ages {
			rec, err := m.store.Recover(ctx, RecordKey(m.ns, id, age))
			if err != nil {
				return out, status.Wrap(status.DatabaseError, err, "recover asset %q age %d", id, age)
			}
			if rec.Action != storage.RecoveryNone {
				out = append(out, rec)
			}
		}
	}
	for _, rec := range out {
		if rec.Action == storage.RecoveryNone {
			continue
		}
		m.logger.Info("asset recovery",
			zap.String("key", rec.Key),
			zap.String("holder", rec.Holder),
			zap.Stringer("action", rec.Action),
		)
	}
	return out, nil
}

func (m *Manager) candidateAges(ctx context.Context, id string) ([]uint32, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, storageError(err, "begin recovery read")
	}
	defer tx.Abort(ctx) //nolint:errcheck

	b, err := tx.Get(ctx, MetaKey(m.ns, id))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return []uint32{0}, nil
	case storage.IsConflict(err):
		return nil, nil
	case err != nil:
		return nil, storageError(err, "read metadata of asset %q", id)
	}
	age, err := decodeMeta(b)
	if err != nil {
		return nil, status.Wrap(status.DatabaseError, err, "asset %q", id)
	}
	if age == maxAge {
		return []uint32{age}, nil
	}
	return []uint32{age, age + 1}, nil
}
