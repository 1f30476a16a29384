// Package testenv wires a complete in-memory ledger for tests.
package testenv

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/contract/samples"
	"github.com/jmerrifield20/NexusLedger/internal/engine"
	"github.com/jmerrifield20/NexusLedger/internal/function"
	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/internal/proof"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/internal/validation"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
)

// AuditorID is the entity id of the auditor in environments that have one.
const AuditorID = "auditor"

// Options select optional features.
type Options struct {
	Auditor          bool
	DisableFunctions bool
	DisableProofs    bool
	StorageOptions   []storage.Option
	// Contracts adds binaries to the contract catalog next to the samples.
	Contracts func(*contract.Catalog)
}

// Env is a wired ledger.
type Env struct {
	Store      *storage.ConsensusCommit
	Ledger     *ledger.Manager
	Certs      *identity.CertificateManager
	Secrets    *identity.SecretManager
	Keys       *identity.ClientKeyValidator
	Contracts  *contract.Manager
	Functions  *function.Manager
	Proofs     *proof.Composer
	Executor   *engine.Executor
	Validation *validation.Service

	// ProofValidator verifies proofs signed by this environment.
	ProofValidator identity.Validator
	// Auditor signs as the auditor when Options.Auditor is set.
	Auditor identity.Signer

	Recoveries []storage.Recovery
}

// New builds an Env over a memory backend.
func New(t testing.TB, opts Options) *Env {
	t.Helper()
	logger := zap.NewNop()
	e := &Env{}
	e.Store = storage.NewConsensusCommit(storage.NewMemoryBackend(), logger, opts.StorageOptions...)
	t.Cleanup(func() { e.Store.Close() })

	e.Ledger = ledger.NewManager(e.Store, "", logger)
	e.Certs = identity.NewCertificateManager(e.Store, identity.CacheConfig{}, logger)
	e.Secrets = identity.NewSecretManager(e.Store, identity.CacheConfig{}, nil, logger)

	var trust *identity.AuditorTrust
	if opts.Auditor {
		issued := mustSelfSigned(t, AuditorID)
		signer, err := issued.Signer()
		if err != nil {
			t.Fatal(err)
		}
		e.Auditor = signer
		trust = &identity.AuditorTrust{EntityID: AuditorID, KeyVersion: 1, CertPEM: issued.CertPEM}
	}
	e.Keys = identity.NewClientKeyValidator(identity.DigitalSignature, e.Certs, e.Secrets, trust)

	contracts, functions := samples.Catalogs()
	if opts.Contracts != nil {
		opts.Contracts(contracts)
	}
	e.Contracts = contract.NewManager(e.Store, contracts, e.Keys, logger)
	e.Functions = function.NewManager(e.Store, functions, logger)

	if !opts.DisableProofs {
		issued := mustSelfSigned(t, "ledger")
		signer, err := issued.Signer()
		if err != nil {
			t.Fatal(err)
		}
		e.ProofValidator, err = identity.NewDigitalSignatureValidator([]byte(issued.CertPEM))
		if err != nil {
			t.Fatal(err)
		}
		e.Proofs = proof.NewComposer(signer)
	} else {
		e.Proofs = proof.NewComposer(nil)
	}

	execOpts := []engine.Option{
		engine.WithRecoveryHook(func(r []storage.Recovery) { e.Recoveries = append(e.Recoveries, r...) }),
	}
	if !opts.DisableFunctions {
		execOpts = append(execOpts, engine.WithFunctions(e.Functions))
	}
	if opts.Auditor {
		execOpts = append(execOpts, engine.WithAuditor())
	}
	e.Executor = engine.NewExecutor(e.Ledger, e.Contracts, e.Keys, e.Proofs, logger, execOpts...)
	e.Validation = validation.NewService(e.Ledger, e.Contracts, e.Keys, e.Proofs, logger)
	return e
}

func mustSelfSigned(t testing.TB, entityID string) *identity.IssuedCert {
	t.Helper()
	issued, err := identity.GenerateSelfSigned(entityID, 0)
	if err != nil {
		t.Fatal(err)
	}
	return issued
}

// Client is an entity with a registered certificate.
type Client struct {
	request.Identity
	Signer identity.Signer
}

// NewClient registers a fresh certificate for entityID at key version 1.
func (e *Env) NewClient(t testing.TB, entityID string) *Client {
	t.Helper()
	issued := mustSelfSigned(t, entityID)
	id := identity.KeyID{EntityID: entityID, KeyVersion: 1}
	if err := e.Certs.Register(context.Background(), id, issued.CertPEM); err != nil {
		t.Fatalf("register certificate of %s: %v", entityID, err)
	}
	signer, err := issued.Signer()
	if err != nil {
		t.Fatal(err)
	}
	return &Client{Identity: request.Identity{EntityID: entityID, KeyVersion: 1}, Signer: signer}
}

// ContractRegistration returns a signed registration request.
func (c *Client) ContractRegistration(t testing.TB, id, binary string, payload []byte, properties string) *request.ContractRegistration {
	t.Helper()
	req := &request.ContractRegistration{
		Identity:   c.Identity,
		ContractID: id,
		BinaryName: binary,
		Payload:    payload,
		Properties: properties,
	}
	if err := req.Sign(c.Signer); err != nil {
		t.Fatal(err)
	}
	return req
}

// Execution returns a signed execution request.
func (c *Client) Execution(t testing.TB, nonce, contractID, argument string, functionIDs []string, functionArgument string) *request.ContractExecution {
	t.Helper()
	req, err := request.NewContractExecution(nonce, c.Identity, contractID, argument, functionIDs, functionArgument)
	if err != nil {
		t.Fatal(err)
	}
	if err := req.Sign(c.Signer); err != nil {
		t.Fatal(err)
	}
	return req
}

// Validation returns a signed request covering the full history of id.
func (c *Client) Validation(t testing.TB, id string) *request.LedgerValidation {
	t.Helper()
	req := request.NewLedgerValidation(id, c.Identity)
	if err := req.Sign(c.Signer); err != nil {
		t.Fatal(err)
	}
	return req
}

// RegisterContract registers a contract owned by c and fails the test on
// error.
func (e *Env) RegisterContract(t testing.TB, c *Client, id, binary string, payload []byte, properties string) {
	t.Helper()
	if _, err := e.Contracts.Register(context.Background(), c.ContractRegistration(t, id, binary, payload, properties)); err != nil {
		t.Fatalf("register contract %s: %v", id, err)
	}
}

// Record reads one stored version directly.
func (e *Env) Record(t testing.TB, id string, age uint32) *asset.Record {
	t.Helper()
	ctx := context.Background()
	tx, err := e.Ledger.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Abort(ctx) //nolint:errcheck
	rec, ok, err := tx.Record(ctx, id, age)
	if err != nil || !ok {
		t.Fatalf("read %s age %d: found=%v err=%v", id, age, ok, err)
	}
	return rec
}

// Tamper rewrites a stored record behind the ledger's back.
func (e *Env) Tamper(t testing.TB, id string, age uint32, mutate func(*asset.Record)) {
	t.Helper()
	ctx := context.Background()
	rec := e.Record(t, id, age)
	mutate(rec)
	b, err := ledger.EncodeRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Put(ledger.RecordKey(e.Ledger.Namespace(), id, age), b); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("tamper %s age %d: %v", id, age, err)
	}
}
