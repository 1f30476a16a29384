package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
)

type flaky struct {
	failures int
	calls    int
}

func (f *flaky) check(context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("down")
	}
	return nil
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	checker := New(Config{FailThreshold: 3}, zap.NewNop())
	checker.AddProbe("storage", func(context.Context) error { return errors.New("down") })

	var transitions []bool
	checker.SetStatusHook(func(name string, healthy bool) { transitions = append(transitions, healthy) })

	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	if !checker.Healthy() {
		t.Fatal("degraded before reaching the threshold")
	}
	checker.CheckAll(context.Background())
	if checker.Healthy() {
		t.Fatal("expected degraded after 3 failures")
	}
	if got := checker.Degraded(); len(got) != 1 || got[0] != "storage" {
		t.Errorf("degraded: got %v", got)
	}
	checker.CheckAll(context.Background())
	if len(transitions) != 1 || transitions[0] {
		t.Errorf("expected a single degraded transition, got %v", transitions)
	}
}

func TestCheckAll_recoversOnSuccess(t *testing.T) {
	f := &flaky{failures: 3}
	checker := New(Config{FailThreshold: 3}, zap.NewNop())
	checker.AddProbe("storage", f.check)

	var results []bool
	checker.SetMetricsRecord(func(ok bool) { results = append(results, ok) })

	for i := 0; i < 4; i++ {
		checker.CheckAll(context.Background())
	}
	if !checker.Healthy() {
		t.Error("expected healthy after recovery")
	}
	if len(results) != 4 || !results[3] {
		t.Errorf("metrics: got %v", results)
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	checker := New(Config{FailThreshold: 1, ProbeTimeout: 10 * time.Millisecond}, zap.NewNop())
	checker.AddProbe("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	checker.CheckAll(context.Background())
	if checker.Healthy() {
		t.Error("a probe that times out should count as failed")
	}
}

func TestStorageProbe(t *testing.T) {
	store := storage.NewConsensusCommit(storage.NewMemoryBackend(), zap.NewNop())
	if err := StorageProbe(store)(context.Background()); err != nil {
		t.Errorf("probe on an empty store: %v", err)
	}
	store.Close()
}
