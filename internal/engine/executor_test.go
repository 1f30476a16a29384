package engine_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/contract/samples"
	"github.com/jmerrifield20/NexusLedger/internal/engine"
	"github.com/jmerrifield20/NexusLedger/internal/function"
	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/internal/testenv"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

var ctx = context.Background()

func execute(t *testing.T, env *testenv.Env, req *request.ContractExecution) *engine.Result {
	t.Helper()
	res, err := env.Executor.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute(%s): %v", req.ContractID, err)
	}
	return res
}

func TestExecute_doublingBuildsHashChain(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "dbl", samples.Double, nil, "")

	want := []string{`{"v":2}`, `{"v":4}`, `{"v":8}`}
	for i := range want {
		res := execute(t, env, alice.Execution(t, fmt.Sprintf("n%d", i), "dbl", `{"asset_id":"x","v":1}`, nil, ""))
		if len(res.Proofs) != 1 {
			t.Fatalf("execution %d: got %d proofs, want 1", i, len(res.Proofs))
		}
		p := res.Proofs[0]
		if p.ID != "x" || p.Age != uint32(i) {
			t.Errorf("execution %d: proof for %s age %d", i, p.ID, p.Age)
		}
		if err := p.Verify(env.ProofValidator); err != nil {
			t.Errorf("execution %d: proof does not verify: %v", i, err)
		}
	}

	var prev []byte
	for age, data := range want {
		rec := env.Record(t, "x", uint32(age))
		if string(rec.Data) != data {
			t.Errorf("age %d data: got %s, want %s", age, rec.Data, data)
		}
		if age == 0 && rec.PrevHash != nil {
			t.Error("age 0 carries a prev_hash")
		}
		if age > 0 && string(rec.PrevHash) != string(prev) {
			t.Errorf("age %d prev_hash does not match age %d hash", age, age-1)
		}
		prev = rec.Hash
	}
}

func TestExecute_unknownCertificateRejectedBeforeLedger(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")

	issued, _ := identity.GenerateSelfSigned("mallory", 0)
	signer, _ := issued.Signer()
	mallory := &testenv.Client{Identity: request.Identity{EntityID: "mallory", KeyVersion: 1}, Signer: signer}

	_, err := env.Executor.Execute(ctx, mallory.Execution(t, "n1", "put", `{"asset_id":"x","data":{}}`, nil, ""))
	if !status.Is(err, status.CertificateNotFound) {
		t.Fatalf("got %v, want CERTIFICATE_NOT_FOUND", err)
	}
	tx, _ := env.Ledger.Read(ctx)
	defer tx.Abort(ctx) //nolint:errcheck
	if _, ok, _ := tx.Get(ctx, "x"); ok {
		t.Error("rejected request wrote to the ledger")
	}
}

func TestExecute_badSignature(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")

	req := alice.Execution(t, "n1", "put", `{"asset_id":"x","data":{}}`, nil, "")
	req.Argument = request.FormatArgument("n1", nil, `{"asset_id":"y","data":{}}`)
	if _, err := env.Executor.Execute(ctx, req); !status.Is(err, status.InvalidSignature) {
		t.Errorf("got %v, want INVALID_SIGNATURE", err)
	}
}

func TestExecute_contractOfAnotherEntity(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	bob := env.NewClient(t, "bob")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")

	_, err := env.Executor.Execute(ctx, bob.Execution(t, "n1", "put", `{"asset_id":"x","data":{}}`, nil, ""))
	if !status.Is(err, status.ContractNotFound) {
		t.Errorf("got %v, want CONTRACT_NOT_FOUND", err)
	}
}

func TestExecute_contextualErrorWritesNothing(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "open", samples.CreateAccount, nil, "")
	env.RegisterContract(t, alice, "transfer", samples.Transfer, nil, "")

	execute(t, env, alice.Execution(t, "n1", "open", `{"asset_id":"a","balance":10}`, nil, ""))
	execute(t, env, alice.Execution(t, "n2", "open", `{"asset_id":"b","balance":0}`, nil, ""))

	_, err := env.Executor.Execute(ctx, alice.Execution(t, "n3", "transfer", `{"from":"a","to":"b","amount":50}`, nil, ""))
	if !status.Is(err, status.ContractContextualError) {
		t.Fatalf("got %v, want CONTRACT_CONTEXTUAL_ERROR", err)
	}

	tx, _ := env.Ledger.Read(ctx)
	defer tx.Abort(ctx) //nolint:errcheck
	for _, id := range []string{"a", "b"} {
		rec, ok, err := tx.Get(ctx, id)
		if err != nil || !ok || rec.Age != 0 {
			t.Errorf("%s: expected age 0 to be latest, got %+v %v", id, rec, err)
		}
	}
}

func TestExecute_subCallJoinsWriteSet(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "open", samples.CreateAccount, nil, "")
	env.RegisterContract(t, alice, "transfer", samples.Transfer, []byte(`{"max_amount":100}`), "")
	env.RegisterContract(t, alice, "payroll", samples.Payroll, nil, `{"transfer_contract":"transfer"}`)

	for i, acct := range []string{`{"asset_id":"co","balance":100}`, `{"asset_id":"e1","balance":0}`, `{"asset_id":"e2","balance":0}`} {
		execute(t, env, alice.Execution(t, fmt.Sprintf("open%d", i), "open", acct, nil, ""))
	}

	res := execute(t, env, alice.Execution(t, "pay1", "payroll",
		`{"from":"co","payments":[{"to":"e1","amount":30},{"to":"e2","amount":20}]}`, nil, ""))
	if res.ContractResult != `{"paid":2}` {
		t.Errorf("contract result: got %s", res.ContractResult)
	}
	if len(res.Proofs) != 3 {
		t.Fatalf("got %d proofs, want 3", len(res.Proofs))
	}

	// Two transfers from co in one transaction produce a single new version.
	co := env.Record(t, "co", 1)
	if string(co.Data) != `{"balance":50}` {
		t.Errorf("co balance: got %s", co.Data)
	}
	if co.ContractID != "payroll" {
		t.Errorf("record contract id: got %q, want the root contract", co.ContractID)
	}
}

func TestExecute_functionsCommitWithLedger(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")
	env.RegisterContract(t, alice, "open", samples.CreateAccount, nil, "")
	if _, err := env.Functions.Register(ctx, &request.FunctionRegistration{FunctionID: "audit", BinaryName: samples.AuditLog}); err != nil {
		t.Fatal(err)
	}

	res := execute(t, env, alice.Execution(t, "n1", "put", `{"asset_id":"x","data":{"k":1}}`, []string{"audit"}, `{"key":"n1"}`))
	if res.FunctionResult != "audit/n1" {
		t.Errorf("function result: got %q", res.FunctionResult)
	}

	// The contract fails, so the function's row must not be written either.
	execute(t, env, alice.Execution(t, "n2", "open", `{"asset_id":"acct","balance":1}`, nil, ""))
	_, err := env.Executor.Execute(ctx, alice.Execution(t, "n3", "open", `{"asset_id":"acct","balance":1}`, []string{"audit"}, `{"key":"n3"}`))
	if !status.Is(err, status.ContractContextualError) {
		t.Fatalf("got %v, want CONTRACT_CONTEXTUAL_ERROR", err)
	}

	stx, _ := env.Store.Begin(ctx)
	defer stx.Abort(ctx) //nolint:errcheck
	rows, err := function.NewDatabase(stx).Scan(ctx, "audit", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Key != "n1" {
		t.Errorf("audit rows: got %+v, want only n1", rows)
	}

	_, err = env.Executor.Execute(ctx, alice.Execution(t, "n4", "put", `{"asset_id":"x","data":{}}`, []string{"missing"}, ""))
	if !status.Is(err, status.FunctionNotFound) {
		t.Errorf("unknown function: got %v, want FUNCTION_NOT_FOUND", err)
	}
}

func TestExecute_functionsDisabled(t *testing.T) {
	env := testenv.New(t, testenv.Options{DisableFunctions: true})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")

	_, err := env.Executor.Execute(ctx, alice.Execution(t, "n1", "put", `{"asset_id":"x","data":{}}`, []string{"audit"}, ""))
	if !status.Is(err, status.InvalidRequest) {
		t.Errorf("got %v, want INVALID_REQUEST", err)
	}
}

func TestExecute_auditorMode(t *testing.T) {
	env := testenv.New(t, testenv.Options{Auditor: true})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")

	req := alice.Execution(t, "n1", "put", `{"asset_id":"x","data":{}}`, nil, "")
	if _, err := env.Executor.Execute(ctx, req); !status.Is(err, status.InvalidAuditorConfiguration) {
		t.Fatalf("missing auditor signature: got %v", err)
	}

	req.AuditorSignature = []byte("garbage")
	if _, err := env.Executor.Execute(ctx, req); !status.Is(err, status.InvalidSignature) {
		t.Fatalf("bad auditor signature: got %v", err)
	}

	if err := req.SignAsAuditor(env.Auditor); err != nil {
		t.Fatal(err)
	}
	execute(t, env, req)

	plain := testenv.New(t, testenv.Options{})
	bob := plain.NewClient(t, "bob")
	plain.RegisterContract(t, bob, "put", samples.Put, nil, "")
	req = bob.Execution(t, "n1", "put", `{"asset_id":"x","data":{}}`, nil, "")
	req.AuditorSignature = []byte("unexpected")
	if _, err := plain.Executor.Execute(ctx, req); !status.Is(err, status.InvalidAuditorConfiguration) {
		t.Errorf("auditor signature without auditor: got %v", err)
	}
}

func TestExecute_legacyContractSeesNonce(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "legacy", samples.LegacyPut, nil, "")

	execute(t, env, alice.Execution(t, "nonce-1", "legacy", `{"asset_id":"x","data":"v"}`, nil, ""))
	if rec := env.Record(t, "x", 0); string(rec.Data) != `{"data":"v","nonce":"nonce-1"}` {
		t.Errorf("data: got %s", rec.Data)
	}
}

func TestExecute_proofsDisabled(t *testing.T) {
	env := testenv.New(t, testenv.Options{DisableProofs: true})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")

	res := execute(t, env, alice.Execution(t, "n1", "put", `{"asset_id":"x","data":{}}`, nil, ""))
	if res.Proofs != nil {
		t.Errorf("expected no proofs, got %v", res.Proofs)
	}
}

// gate holds its first two callers until both have read the asset, so
// their transactions overlap.
func gate(wg *sync.WaitGroup, calls *atomic.Int32) contract.Binding {
	return contract.BindObject(contract.Func[contract.Object](func(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
		a, err := env.Ledger.Get(ctx, "x")
		if err != nil {
			return nil, err
		}
		if calls.Add(1) <= 2 {
			wg.Done()
			wg.Wait()
		}
		n := 0.0
		if a != nil {
			n, _ = a.Data["n"].(float64)
		}
		return nil, env.Ledger.Put(ctx, "x", contract.Object{"n": n + 1})
	}))
}

func TestExecute_concurrentWritersOneCommitsThenRetrySucceeds(t *testing.T) {
	var wg sync.WaitGroup
	var calls atomic.Int32
	wg.Add(2)
	env := testenv.New(t, testenv.Options{Contracts: func(c *contract.Catalog) {
		c.MustAdd("test.gate", contract.Static(gate(&wg, &calls)))
	}})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "gate", "test.gate", nil, "")

	errs := make([]error, 2)
	var done sync.WaitGroup
	for i := range errs {
		i := i
		done.Add(1)
		go func() {
			defer done.Done()
			_, errs[i] = env.Executor.Execute(ctx, alice.Execution(t, fmt.Sprintf("c%d", i), "gate", `{}`, nil, ""))
		}()
	}
	done.Wait()

	committed, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case status.Is(err, status.Conflict):
			conflicted++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if committed != 1 || conflicted != 1 {
		t.Fatalf("committed %d, conflicted %d; want exactly one of each", committed, conflicted)
	}

	execute(t, env, alice.Execution(t, "retry", "gate", `{}`, nil, ""))
	if rec := env.Record(t, "x", 1); string(rec.Data) != `{"n":2}` {
		t.Errorf("after retry: got %s", rec.Data)
	}
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

func TestExecute_abandonedWriterRecoveredAfterExpiry(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	env := testenv.New(t, testenv.Options{StorageOptions: []storage.Option{
		storage.WithClock(clk.Now), storage.WithRecoveryExpiration(time.Minute),
	}})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "dbl", samples.Double, nil, "")

	// A writer that prepared the asset metadata and then vanished.
	stx, err := env.Store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := stx.Put(ledger.MetaKey(env.Ledger.Namespace(), "x"), []byte(`{"age":0}`)); err != nil {
		t.Fatal(err)
	}
	if err := stx.(*storage.Tx).Prepare(ctx); err != nil {
		t.Fatal(err)
	}

	_, err = env.Executor.Execute(ctx, alice.Execution(t, "n1", "dbl", `{"asset_id":"x","v":1}`, nil, ""))
	if !status.Is(err, status.Conflict) {
		t.Fatalf("got %v, want CONFLICT", err)
	}
	if !hasAction(env.Recoveries, storage.RecoveryInProgress) {
		t.Errorf("fresh holder should be left in progress, got %+v", env.Recoveries)
	}

	clk.Advance(2 * time.Minute)
	_, err = env.Executor.Execute(ctx, alice.Execution(t, "n2", "dbl", `{"asset_id":"x","v":1}`, nil, ""))
	if !status.Is(err, status.Conflict) {
		t.Fatalf("got %v, want CONFLICT", err)
	}
	if !hasAction(env.Recoveries, storage.RecoveryRolledBack) {
		t.Errorf("expired holder should be rolled back, got %+v", env.Recoveries)
	}

	execute(t, env, alice.Execution(t, "n3", "dbl", `{"asset_id":"x","v":1}`, nil, ""))
	if rec := env.Record(t, "x", 0); string(rec.Data) != `{"v":2}` {
		t.Errorf("data: got %s", rec.Data)
	}
}

func hasAction(rs []storage.Recovery, a storage.RecoveryAction) bool {
	for _, r := range rs {
		if r.Action == a {
			return true
		}
	}
	return false
}
