package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
)

var ctx = context.Background()

// backends runs fn against every in-process backend.
func backends(t *testing.T, fn func(t *testing.T, b storage.Backend)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, storage.NewMemoryBackend())
	})
	t.Run("leveldb", func(t *testing.T) {
		b, err := storage.NewLevelDBInMemory()
		require.NoError(t, err)
		defer b.Close()
		fn(t, b)
	})
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(b storage.Backend, opts ...storage.Option) *storage.ConsensusCommit {
	return storage.NewConsensusCommit(b, zap.NewNop(), opts...)
}

func put(t *testing.T, m storage.Manager, key, value string) {
	t.Helper()
	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte(key), []byte(value)))
	require.NoError(t, tx.Commit(ctx))
}

func get(t *testing.T, m storage.Manager, key string) (string, error) {
	t.Helper()
	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort(ctx) //nolint:errcheck
	v, err := tx.Get(ctx, []byte(key))
	return string(v), err
}

func TestCommit_visibleToLaterTransactions(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		m := newManager(b)
		put(t, m, "k", "v1")

		v, err := get(t, m, "k")
		require.NoError(t, err)
		assert.Equal(t, "v1", v, "committed value not visible")

		_, err = get(t, m, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestTransaction_readYourWrites(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		m := newManager(b)
		put(t, m, "k", "old")

		tx, err := m.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Put([]byte("k"), []byte("new")))

		v, err := tx.Get(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(v), "staged write not returned")

		require.NoError(t, tx.Delete([]byte("k")))
		_, err = tx.Get(ctx, []byte("k"))
		assert.ErrorIs(t, err, storage.ErrNotFound, "staged delete not honoured")
		require.NoError(t, tx.Abort(ctx))

		got, err := get(t, m, "k")
		require.NoError(t, err)
		assert.Equal(t, "old", got, "abort leaked a write")
	})
}

func TestDelete_leavesTombstone(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		m := newManager(b)
		put(t, m, "k", "v")

		tx, err := m.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Delete([]byte("k")))
		require.NoError(t, tx.Commit(ctx))

		_, err = get(t, m, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		cell, err := b.Get(ctx, []byte("k"))
		require.NoError(t, err, "tombstone must remain in the backend")
		assert.True(t, cell.Deleted)
	})
}

func TestScan_orderLimitAndLocalWrites(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		m := newManager(b)
		for _, k := range []string{"p/1", "p/2", "p/3", "q/1"} {
			put(t, m, k, k)
		}

		tx, err := m.Begin(ctx)
		require.NoError(t, err)
		defer tx.Abort(ctx) //nolint:errcheck

		kvs, err := tx.Scan(ctx, storage.PrefixRange([]byte("p/")))
		require.NoError(t, err)
		require.Len(t, kvs, 3)
		assert.Equal(t, "p/1", string(kvs[0].Key))

		r := storage.PrefixRange([]byte("p/"))
		r.Reverse, r.Limit = true, 2
		kvs, err = tx.Scan(ctx, r)
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		assert.Equal(t, "p/3", string(kvs[0].Key))
		assert.Equal(t, "p/2", string(kvs[1].Key))

		require.NoError(t, tx.Put([]byte("p/4"), []byte("p/4")))
		require.NoError(t, tx.Delete([]byte("p/3")))
		kvs, err = tx.Scan(ctx, r)
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		assert.Equal(t, "p/4", string(kvs[0].Key), "local write missing from scan")
		assert.Equal(t, "p/2", string(kvs[1].Key), "local delete still visible in scan")
	})
}

func TestScan_limitSkipsTombstones(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		m := newManager(b)
		for _, k := range []string{"p/1", "p/2", "p/3", "p/4", "p/5"} {
			put(t, m, k, k)
		}
		tx, err := m.Begin(ctx)
		require.NoError(t, err)
		for _, k := range []string{"p/1", "p/2", "p/5"} {
			require.NoError(t, tx.Delete([]byte(k)))
		}
		require.NoError(t, tx.Commit(ctx))

		tx, err = m.Begin(ctx)
		require.NoError(t, err)
		defer tx.Abort(ctx) //nolint:errcheck

		r := storage.PrefixRange([]byte("p/"))
		r.Limit = 2
		kvs, err := tx.Scan(ctx, r)
		require.NoError(t, err)
		require.Len(t, kvs, 2, "deleted rows counted against the limit")
		assert.Equal(t, "p/3", string(kvs[0].Key))
		assert.Equal(t, "p/4", string(kvs[1].Key))

		r.Reverse = true
		kvs, err = tx.Scan(ctx, r)
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		assert.Equal(t, "p/4", string(kvs[0].Key))
		assert.Equal(t, "p/3", string(kvs[1].Key))
	})
}

// cancelAfterBackend cancels the caller's context once a number of writes
// have landed and from then on fails calls made with it, as a network
// backend does.
type cancelAfterBackend struct {
	storage.Backend
	writes int
	cancel context.CancelFunc
}

func (b *cancelAfterBackend) Get(ctx context.Context, key []byte) (*storage.Cell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Backend.Get(ctx, key)
}

func (b *cancelAfterBackend) CompareAndSwap(ctx context.Context, key []byte, expectSeq uint64, c *storage.Cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Backend.CompareAndSwap(ctx, key, expectSeq, c); err != nil {
		return err
	}
	if b.writes--; b.writes == 0 {
		b.cancel()
	}
	return nil
}

func TestCommit_cancelledDuringPrepareStillRollsBack(t *testing.T) {
	mem := storage.NewMemoryBackend()
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := newManager(&cancelAfterBackend{Backend: mem, writes: 1, cancel: cancel})

	tx, err := m.Begin(cctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Put([]byte("b"), []byte("2")))
	require.ErrorIs(t, tx.Commit(cctx), context.Canceled)

	cell, err := mem.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, storage.CellCommitted, cell.State, "prepared cell left behind after cancellation")
	assert.True(t, cell.Deleted)

	state, err := m.State(ctx, tx.ID())
	require.NoError(t, err)
	assert.Equal(t, storage.TxAborted, state)
}

func TestCommit_writeWriteConflict(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		m := newManager(b)

		tx1, err := m.Begin(ctx)
		require.NoError(t, err)
		tx2, err := m.Begin(ctx)
		require.NoError(t, err)

		for _, tx := range []storage.Transaction{tx1, tx2} {
			_, err := tx.Get(ctx, []byte("k"))
			require.ErrorIs(t, err, storage.ErrNotFound)
			require.NoError(t, tx.Put([]byte("k"), []byte(tx.ID())))
		}

		require.NoError(t, tx1.Commit(ctx))
		err = tx2.Commit(ctx)
		require.Error(t, err)
		assert.True(t, storage.IsConflict(err), "expected conflict, got %v", err)

		var ce *storage.ConflictError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, []string{"k"}, ce.Keys)

		v, err := get(t, m, "k")
		require.NoError(t, err)
		assert.Equal(t, tx1.ID(), v, "loser overwrote winner")

		state, err := m.State(ctx, tx2.ID())
		require.NoError(t, err)
		assert.NotEqual(t, storage.TxCommitted, state)
	})
}

func TestCommit_serializableReadValidation(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		m := newManager(b)
		put(t, m, "src", "1")

		reader, err := m.Begin(ctx)
		require.NoError(t, err)
		_, err = reader.Get(ctx, []byte("src"))
		require.NoError(t, err)
		require.NoError(t, reader.Put([]byte("dst"), []byte("derived")))

		put(t, m, "src", "2")

		err = reader.Commit(ctx)
		assert.True(t, storage.IsConflict(err), "stale read must fail commit, got %v", err)

		_, err = get(t, m, "dst")
		assert.ErrorIs(t, err, storage.ErrNotFound, "failed commit left a write behind")
	})
}

func TestCommit_readValidationDisabled(t *testing.T) {
	m := newManager(storage.NewMemoryBackend(), storage.WithReadValidation(false))
	put(t, m, "src", "1")

	reader, err := m.Begin(ctx)
	require.NoError(t, err)
	_, err = reader.Get(ctx, []byte("src"))
	require.NoError(t, err)
	require.NoError(t, reader.Put([]byte("dst"), []byte("derived")))
	put(t, m, "src", "2")

	assert.NoError(t, reader.Commit(ctx))
}

func TestTransaction_closedAfterCommit(t *testing.T) {
	m := newManager(storage.NewMemoryBackend())
	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Put([]byte("k"), []byte("w")), storage.ErrTxClosed)
	_, err = tx.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, storage.ErrTxClosed)
	assert.ErrorIs(t, tx.Commit(ctx), storage.ErrTxClosed)
	assert.NoError(t, tx.Abort(ctx), "abort after commit is a no-op")
}

// abandon prepares a write and drops the transaction, as a crashed process
// would.
func abandon(t *testing.T, m *storage.ConsensusCommit, key, value string) string {
	t.Helper()
	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte(key), []byte(value)))
	require.NoError(t, tx.(*storage.Tx).Prepare(ctx))
	return tx.ID()
}

func TestRecover_abandonedTransactionRolledBackAfterExpiry(t *testing.T) {
	backends(t, func(t *testing.T, b storage.Backend) {
		clk := &clock{now: time.Unix(1_700_000_000, 0)}
		m := newManager(b, storage.WithClock(clk.Now), storage.WithRecoveryExpiration(time.Minute))
		put(t, m, "k", "committed")
		holder := abandon(t, m, "k", "abandoned")

		_, err := get(t, m, "k")
		var ce *storage.ConflictError
		require.True(t, errors.As(err, &ce), "reading a prepared cell must conflict, got %v", err)
		assert.Equal(t, []string{holder}, ce.Holders)

		rec, err := m.Recover(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, storage.RecoveryInProgress, rec.Action, "fresh holder must be left alone")

		clk.Advance(2 * time.Minute)
		rec, err = m.Recover(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, storage.RecoveryRolledBack, rec.Action)
		assert.Equal(t, holder, rec.Holder)

		state, err := m.State(ctx, holder)
		require.NoError(t, err)
		assert.Equal(t, storage.TxAborted, state)

		v, err := get(t, m, "k")
		require.NoError(t, err)
		assert.Equal(t, "committed", v, "before image not restored")

		put(t, m, "k", "next")
		v, err = get(t, m, "k")
		require.NoError(t, err)
		assert.Equal(t, "next", v)
	})
}

func TestRecover_newKeyRolledBackToTombstone(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	m := newManager(storage.NewMemoryBackend(), storage.WithClock(clk.Now), storage.WithRecoveryExpiration(time.Second))
	abandon(t, m, "fresh", "v")

	clk.Advance(time.Hour)
	rec, err := m.Recover(ctx, []byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, storage.RecoveryRolledBack, rec.Action)

	_, err = get(t, m, "fresh")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecover_committedHolderRolledForward(t *testing.T) {
	b := storage.NewMemoryBackend()
	m := newManager(b)
	put(t, m, "k", "v1")

	// Commit the coordinator record but leave the cell prepared, as a crash
	// between the decision and the final write would.
	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("v2")))
	require.NoError(t, tx.(*storage.Tx).Prepare(ctx))
	require.NoError(t, b.CompareAndSwap(ctx, []byte("\x00tx/"+tx.ID()), 0,
		&storage.Cell{Value: []byte("C"), State: storage.CellCommitted, TxID: tx.ID()}))

	rec, err := m.Recover(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, storage.RecoveryRolledForward, rec.Action)

	v, err := get(t, m, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestRecover_committedKeyIsNoop(t *testing.T) {
	m := newManager(storage.NewMemoryBackend())
	put(t, m, "k", "v")

	rec, err := m.Recover(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, storage.RecoveryNone, rec.Action)

	rec, err = m.Recover(ctx, []byte("absent"))
	require.NoError(t, err)
	assert.Equal(t, storage.RecoveryNone, rec.Action)
}

func TestCommit_abortedByRecoveryWhilePrepared(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	m := newManager(storage.NewMemoryBackend(), storage.WithClock(clk.Now), storage.WithRecoveryExpiration(time.Second))

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("slow")))
	require.NoError(t, tx.(*storage.Tx).Prepare(ctx))

	clk.Advance(time.Minute)
	_, err = m.Recover(ctx, []byte("k"))
	require.NoError(t, err)

	err = tx.Commit(ctx)
	assert.True(t, storage.IsConflict(err), "commit after recovery abort must conflict, got %v", err)
	_, err = get(t, m, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPrefixRange(t *testing.T) {
	r := storage.PrefixRange([]byte("a/"))
	assert.True(t, r.Contains([]byte("a/x")))
	assert.False(t, r.Contains([]byte("a0")))
	assert.False(t, r.Contains([]byte("b")))

	all := storage.PrefixRange([]byte{0xff})
	assert.Nil(t, all.End)
	assert.True(t, all.Contains([]byte{0xff, 0xff}))
}
