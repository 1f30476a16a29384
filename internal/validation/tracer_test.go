package validation

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
)

func TestTracer_stagedWriteMatchesTransaction(t *testing.T) {
	ctx := context.Background()
	store := storage.NewConsensusCommit(storage.NewMemoryBackend(), zap.NewNop())
	lm := ledger.NewManager(store, "test", zap.NewNop())
	exec := ledger.Execution{Nonce: "n0", ContractID: "c1", Argument: "a", Signature: []byte("sig")}

	tx, err := lm.Begin(ctx, exec)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Put(ctx, "x", []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	exec.Nonce = "n1"
	live, err := lm.Begin(ctx, exec)
	if err != nil {
		t.Fatal(err)
	}
	defer live.Abort(ctx) //nolint:errcheck
	read, err := lm.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer read.Abort(ctx) //nolint:errcheck
	replay := newTracer(read, asset.Input{"x": 0}, "c1")

	for name, v := range map[string]ledger.View{"transaction": live, "tracer": replay} {
		if err := v.Put(ctx, "x", []byte(`{"v":2}`)); err != nil {
			t.Fatalf("%s: Put(): %v", name, err)
		}
		rec, ok, err := v.Get(ctx, "x")
		if err != nil || !ok {
			t.Fatalf("%s: Get(): found=%v err=%v", name, ok, err)
		}
		if rec.Age != 1 || rec.ContractID != "c1" {
			t.Errorf("%s: staged write read back as age %d contract %q, want age 1 contract c1", name, rec.Age, rec.ContractID)
		}
	}

	fresh := newTracer(read, asset.Input{}, "c1")
	if err := fresh.Put(ctx, "y", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if rec, _, _ := fresh.Get(ctx, "y"); rec.Age != 0 {
		t.Errorf("new asset staged at age %d, want 0", rec.Age)
	}
}
