package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestRegistry_insertOnce(t *testing.T) {
	m := newManager(storage.NewMemoryBackend())
	reg := storage.NewRegistry[entry](m, "things")

	require.NoError(t, reg.Insert(ctx, "a", entry{Name: "a", Count: 1}))
	err := reg.Insert(ctx, "a", entry{Name: "a", Count: 2})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	got, err := reg.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count, "second insert replaced the first")

	_, err = reg.Lookup(ctx, "b")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegistry_listIsolatedByName(t *testing.T) {
	m := newManager(storage.NewMemoryBackend())
	things := storage.NewRegistry[entry](m, "things")
	others := storage.NewRegistry[entry](m, "others")

	require.NoError(t, things.Insert(ctx, "b", entry{Name: "b"}))
	require.NoError(t, things.Insert(ctx, "a", entry{Name: "a"}))
	require.NoError(t, others.Insert(ctx, "c", entry{Name: "c"}))

	list, err := things.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)
}

func TestRegistry_concurrentInsertLosesWithConflict(t *testing.T) {
	m := newManager(storage.NewMemoryBackend())

	// Two inserts that both passed the lookup: the store arbitrates.
	tx1, err := m.Begin(ctx)
	require.NoError(t, err)
	tx2, err := m.Begin(ctx)
	require.NoError(t, err)
	for _, tx := range []storage.Transaction{tx1, tx2} {
		_, err := tx.Get(ctx, []byte("r/things/k"))
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.NoError(t, tx.Put([]byte("r/things/k"), []byte(`{"name":"k"}`)))
	}
	require.NoError(t, tx1.Commit(ctx))
	assert.True(t, storage.IsConflict(tx2.Commit(ctx)))
}
