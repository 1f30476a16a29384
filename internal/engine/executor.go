// Package engine executes signed contract requests against the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/function"
	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/internal/proof"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// KeyResolver resolves request signers and the configured auditor.
type KeyResolver interface {
	Validator(ctx context.Context, entityID string, keyVersion uint32) (identity.Validator, error)
	AuditorValidator() (identity.Validator, error)
}

// Result is the outcome of a successful execution.
type Result struct {
	ContractResult string         `json:"contract_result,omitempty"`
	FunctionResult string         `json:"function_result,omitempty"`
	Proofs         []*asset.Proof `json:"proofs,omitempty"`
}

// Executor runs the execution flow: signature, auditor signature, begin,
// contract, functions, commit, proofs.
type Executor struct {
	ledger    *ledger.Manager
	contracts *contract.Manager
	functions *function.Manager
	keys      KeyResolver
	proofs    *proof.Composer
	auditor   bool
	onRecover func([]storage.Recovery)
	logger    *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithFunctions enables functions. Without it, requests that name
// functions are rejected.
func WithFunctions(m *function.Manager) Option {
	return func(e *Executor) { e.functions = m }
}

// WithAuditor requires every request to carry an auditor signature.
func WithAuditor() Option {
	return func(e *Executor) { e.auditor = true }
}

// WithRecoveryHook is called with the outcome of every recovery run.
func WithRecoveryHook(fn func([]storage.Recovery)) Option {
	return func(e *Executor) { e.onRecover = fn }
}

// NewExecutor creates an Executor.
func NewExecutor(lm *ledger.Manager, contracts *contract.Manager, keys KeyResolver, proofs *proof.Composer, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		ledger:    lm,
		contracts: contracts,
		keys:      keys,
		proofs:    proofs,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one signed request. Nothing touches the ledger until both
// signatures have been checked. A conflict triggers recovery of the
// contended assets and is then returned as CONFLICT; the caller may retry.
func (e *Executor) Execute(ctx context.Context, req *request.ContractExecution) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Wrap(status.InvalidRequest, err, "execution request")
	}
	arg, err := request.ParseArgument(req.Argument)
	if err != nil {
		return nil, status.Wrap(status.InvalidRequest, err, "execution request")
	}
	if len(arg.FunctionIDs) > 0 && e.functions == nil {
		return nil, status.New(status.InvalidRequest, "functions are disabled on this ledger")
	}

	if err := e.authenticate(ctx, req); err != nil {
		return nil, err
	}

	entry, err := e.contracts.Get(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	if !entry.OwnedBy(req.EntityID, req.KeyVersion) {
		return nil, status.New(status.ContractNotFound, "contract %q is not registered for %s/%d",
			req.ContractID, req.EntityID, req.KeyVersion)
	}
	inst, err := e.contracts.Instance(ctx, entry)
	if err != nil {
		return nil, err
	}
	fns, err := e.loadFunctions(ctx, arg.FunctionIDs)
	if err != nil {
		return nil, err
	}

	tx, err := e.ledger.Begin(ctx, ledger.Execution{
		Nonce:      arg.Nonce,
		ContractID: req.ContractID,
		Argument:   req.Argument,
		Signature:  req.Signature,
	})
	if err != nil {
		return nil, err
	}

	out, err := inst.Invoke(ctx, tx, arg, entry.Properties)
	if err != nil {
		return nil, e.fail(ctx, tx, err)
	}

	res := &Result{ContractResult: string(out)}
	if len(fns) > 0 {
		db := function.NewDatabase(tx.Storage())
		for i, fn := range fns {
			fr, err := fn.Invoke(ctx, db, req.FunctionArgument, arg.Raw, entry.Properties)
			if err != nil {
				return nil, e.fail(ctx, tx, fmt.Errorf("function %q: %w", arg.FunctionIDs[i], err))
			}
			if fr != "" {
				res.FunctionResult = fr
			}
		}
	}

	written := tx.WrittenIDs()
	records, err := tx.Commit(ctx)
	if err != nil {
		return nil, e.conflictOrErr(ctx, written, err)
	}
	if res.Proofs, err = e.proofs.CreateAll(e.ledger.Namespace(), records); err != nil {
		return nil, err
	}

	e.logger.Info("contract executed",
		zap.String("contract_id", req.ContractID),
		zap.String("nonce", arg.Nonce),
		zap.String("tx_id", tx.ID()),
		zap.Int("assets", len(records)),
	)
	return res, nil
}

func (e *Executor) authenticate(ctx context.Context, req *request.ContractExecution) error {
	v, err := e.keys.Validator(ctx, req.EntityID, req.KeyVersion)
	if err != nil {
		return err
	}
	if err := v.Verify(req.SigningBytes(), req.Signature); err != nil {
		return err
	}

	switch {
	case e.auditor && len(req.AuditorSignature) == 0:
		return status.New(status.InvalidAuditorConfiguration, "ledger requires an auditor signature")
	case !e.auditor && len(req.AuditorSignature) > 0:
		return status.New(status.InvalidAuditorConfiguration, "ledger is not configured with an auditor")
	case !e.auditor:
		return nil
	}
	av, err := e.keys.AuditorValidator()
	if err != nil {
		return err
	}
	if err := av.Verify(req.SigningBytes(), req.AuditorSignature); err != nil {
		return status.Wrap(status.InvalidSignature, err, "auditor signature")
	}
	return nil
}

func (e *Executor) loadFunctions(ctx context.Context, ids []string) ([]function.Function, error) {
	fns := make([]function.Function, 0, len(ids))
	for _, id := range ids {
		fn, err := e.functions.Instance(ctx, id)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

// fail aborts tx and classifies err. Conflicts recover the assets the
// transaction touched first.
func (e *Executor) fail(ctx context.Context, tx *ledger.Transaction, err error) error {
	written := tx.WrittenIDs()
	if abortErr := tx.Abort(ctx); abortErr != nil {
		e.logger.Warn("abort failed", zap.String("tx_id", tx.ID()), zap.Error(abortErr))
	}
	return e.conflictOrErr(ctx, written, err)
}

func (e *Executor) conflictOrErr(ctx context.Context, written []string, err error) error {
	err = classify(err)
	if !status.Is(err, status.Conflict) {
		return err
	}
	ids := mergeIDs(ledger.ContendedAssets(err), written)
	recoveries, rerr := e.ledger.Recover(ctx, ids)
	if rerr != nil {
		e.logger.Warn("recovery failed", zap.Strings("asset_ids", ids), zap.Error(rerr))
	}
	if e.onRecover != nil {
		e.onRecover(recoveries)
	}
	return err
}

// classify maps contract and function failures onto status codes.
func classify(err error) error {
	var se *status.Error
	var ce *contract.ContextualError
	switch {
	case errors.As(err, &ce):
		return status.Wrap(status.ContractContextualError, err, "contract rejected the request")
	case errors.As(err, &se):
		return err
	case storage.IsConflict(err):
		return status.Wrap(status.Conflict, err, "execution")
	default:
		return status.Wrap(status.RuntimeError, err, "execution")
	}
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string(nil), a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
