// Package validation replays asset history through the contracts that
// wrote it and checks every record against the hash chain.
package validation

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/internal/proof"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// DefaultParallelism bounds ValidateAssets.
const DefaultParallelism = 8

// KeyResolver resolves the validator of an entity's key.
type KeyResolver interface {
	Validator(ctx context.Context, entityID string, keyVersion uint32) (identity.Validator, error)
}

// Result is the outcome of validating one asset. On a finding, Age and
// Proof describe the offending record; otherwise they describe the last
// record validated.
type Result struct {
	AssetID string       `json:"asset_id"`
	Code    status.Code  `json:"status_code"`
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Age     uint32       `json:"age"`
	Proof   *asset.Proof `json:"proof,omitempty"`
}

// OK reports whether the history validated.
func (r *Result) OK() bool { return r.Code == status.OK }

// Service validates asset history.
type Service struct {
	ledger      *ledger.Manager
	contracts   *contract.Manager
	keys        KeyResolver
	proofs      *proof.Composer
	parallelism int
	logger      *zap.Logger
}

// NewService creates a Service.
func NewService(lm *ledger.Manager, contracts *contract.Manager, keys KeyResolver, proofs *proof.Composer, logger *zap.Logger) *Service {
	return &Service{
		ledger:      lm,
		contracts:   contracts,
		keys:        keys,
		proofs:      proofs,
		parallelism: DefaultParallelism,
		logger:      logger,
	}
}

// SetParallelism bounds the number of assets ValidateAssets works on at
// once. Values below one are ignored.
func (s *Service) SetParallelism(n int) {
	if n > 0 {
		s.parallelism = n
	}
}

func (s *Service) authenticate(ctx context.Context, id request.Identity, msg, sig []byte) error {
	v, err := s.keys.Validator(ctx, id.EntityID, id.KeyVersion)
	if err != nil {
		return err
	}
	return v.Verify(msg, sig)
}

// Validate handles a signed validation request.
func (s *Service) Validate(ctx context.Context, req *request.LedgerValidation) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Wrap(status.InvalidRequest, err, "validation request")
	}
	if err := s.authenticate(ctx, req.Identity, req.SigningBytes(), req.Signature); err != nil {
		return nil, err
	}
	return s.ValidateHistory(ctx, req.AssetID, req.StartAge, req.EndAge)
}

// ValidateHistory validates the versions of id in [start, end], oldest
// first. Tamper findings are reported in the Result; the error is reserved
// for failures that prevented validation.
func (s *Service) ValidateHistory(ctx context.Context, id string, start, end uint32) (*Result, error) {
	tx, err := s.ledger.Read(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Abort(ctx) //nolint:errcheck

	f := ledger.NewAssetFilter(id).WithStartAge(start, true).WithEndAge(end, true).WithAscendingOrder()
	records, err := tx.History(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &Result{AssetID: id, Code: status.AssetNotFound, Status: status.AssetNotFound.String(),
			Message: "no versions in range", Age: start}, nil
	}

	st := newRunState()
	for _, rec := range records {
		c, err := s.replay(ctx, tx, rec)
		if err != nil {
			return nil, err
		}
		for _, v := range chain {
			if ferr := v.check(ctx, s, st, c); ferr != nil {
				s.logger.Warn("ledger validation finding",
					zap.String("asset_id", id),
					zap.Uint32("age", rec.Age),
					zap.String("validator", v.name),
					zap.Error(ferr),
				)
				return s.result(rec, status.CodeOf(ferr), ferr.Error())
			}
		}
		st.advance(c)
	}
	return s.result(records[len(records)-1], status.OK, "")
}

// replay re-executes the record's contract. Replay failures are kept on
// the check and reported by the output validator, after the signature has
// been checked. A missing input dependency is reported first.
func (s *Service) replay(ctx context.Context, tx *ledger.Transaction, rec *asset.Record) (*check, error) {
	c := &check{rec: rec}
	arg, err := request.ParseArgument(rec.Argument)
	c.nonce, c.argErr = arg.Nonce, err

	entry, err := s.contracts.Get(ctx, rec.ContractID)
	if err != nil {
		c.loadErr = err
		return c, nil
	}
	c.entry = entry
	inst, err := s.contracts.Instance(ctx, entry)
	if err != nil {
		c.loadErr = err
		return c, nil
	}

	input, err := asset.DecodeInput(rec.Input)
	if err != nil {
		c.replayErr = err
		return c, nil
	}
	if c.argErr != nil {
		c.replayErr = c.argErr
		return c, nil
	}

	t := newTracer(tx, input, rec.ContractID)
	if _, err := inst.Invoke(ctx, t, arg, entry.Properties); err != nil {
		if status.Is(err, status.InconsistentStates) {
			c.inconsistent = err
			return c, nil
		}
		c.replayErr = err
		return c, nil
	}
	c.output, c.written = t.output(rec.ID)
	return c, nil
}

func (s *Service) result(rec *asset.Record, code status.Code, msg string) (*Result, error) {
	p, err := s.proofs.Create(s.ledger.Namespace(), rec)
	if err != nil {
		return nil, err
	}
	return &Result{
		AssetID: rec.ID,
		Code:    code,
		Status:  code.String(),
		Message: msg,
		Age:     rec.Age,
		Proof:   p,
	}, nil
}

// RetrieveProof handles a signed proof request. When proofs are disabled
// the returned proof is unsigned.
func (s *Service) RetrieveProof(ctx context.Context, req *request.AssetProofRetrieval) (*asset.Proof, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Wrap(status.InvalidRequest, err, "proof request")
	}
	if err := s.authenticate(ctx, req.Identity, req.SigningBytes(), req.Signature); err != nil {
		return nil, err
	}

	tx, err := s.ledger.Read(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Abort(ctx) //nolint:errcheck

	rec, ok, err := tx.Record(ctx, req.AssetID, req.Age)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, status.New(status.AssetNotFound, "asset %q has no age %d", req.AssetID, req.Age)
	}
	p, err := s.proofs.Create(s.ledger.Namespace(), rec)
	if err != nil || p != nil {
		return p, err
	}
	return asset.NewProof(s.ledger.Namespace(), rec), nil
}

// ValidateAssets validates the full history of every id concurrently. Each
// asset gets its own run state, and a finding on one asset does not stop
// the others. Results are in the order of ids.
func (s *Service) ValidateAssets(ctx context.Context, ids []string) ([]*Result, error) {
	results := make([]*Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			r, err := s.ValidateHistory(gctx, id, 0, request.AgeUnbounded)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
