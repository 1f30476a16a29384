package validation

import (
	"bytes"
	"context"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// runState is the state folded through one validation run. It is created
// per run and never shared.
type runState struct {
	// prevHash is the recomputed hash of the previous record that passed,
	// nil before the first.
	prevHash []byte
	checked  bool
	nonces   map[string]bool
}

func newRunState() *runState {
	return &runState{nonces: make(map[string]bool)}
}

// advance folds a record that passed every validator into the state.
func (s *runState) advance(c *check) {
	s.prevHash = c.hash
	s.checked = true
	s.nonces[c.nonce] = true
}

// check carries one record through the chain.
type check struct {
	rec *asset.Record

	// nonce is the one inside the signed argument.
	nonce  string
	argErr error

	// inconsistent is set when an input dependency is missing.
	inconsistent error

	entry   *contract.Entry
	loadErr error

	output    []byte
	written   bool
	replayErr error

	hash []byte
}

// validator inspects one record. A non-nil error carries the finding.
type validator struct {
	name  string
	check func(ctx context.Context, s *Service, st *runState, c *check) error
}

// chain is the fixed validator order. Later validators assume earlier ones
// passed.
var chain = []validator{
	{"input", validateInput},
	{"contract", validateContract},
	{"output", validateOutput},
	{"prev_hash", validatePrevHash},
	{"hash", validateHash},
	{"nonce", validateNonce},
}

// validateInput reports a replay that named an input version the ledger
// does not hold. Nothing else about the record can be judged then.
func validateInput(_ context.Context, _ *Service, _ *runState, c *check) error {
	return c.inconsistent
}

// validateContract checks that the record's contract still resolves and
// that the stored signature covers the stored execution.
func validateContract(ctx context.Context, s *Service, _ *runState, c *check) error {
	if c.loadErr != nil {
		return c.loadErr
	}
	v, err := s.keys.Validator(ctx, c.entry.EntityID, c.entry.KeyVersion)
	if err != nil {
		return err
	}
	msg := request.ExecutionSigningBytes(c.rec.ContractID, c.rec.Argument, c.entry.EntityID, c.entry.KeyVersion)
	if err := v.Verify(msg, c.rec.Signature); err != nil {
		return status.Wrap(status.InvalidSignature, err, "asset %q age %d", c.rec.ID, c.rec.Age)
	}
	return nil
}

func validateOutput(_ context.Context, _ *Service, _ *runState, c *check) error {
	if c.replayErr != nil {
		return status.Wrap(status.InvalidOutput, c.replayErr, "asset %q age %d: replay failed", c.rec.ID, c.rec.Age)
	}
	if !c.written {
		return status.New(status.InvalidOutput, "asset %q age %d: replay did not write the asset", c.rec.ID, c.rec.Age)
	}
	if !bytes.Equal(c.output, c.rec.Data) {
		return status.New(status.InvalidOutput, "asset %q age %d: replayed output differs from stored data", c.rec.ID, c.rec.Age)
	}
	return nil
}

// validatePrevHash compares against the hash recomputed in the previous
// iteration, not the previous record's stored hash. The first record of a
// range that starts above age 0 has no predecessor in the run and is only
// checked for carrying a prev_hash at all.
func validatePrevHash(_ context.Context, _ *Service, st *runState, c *check) error {
	switch {
	case c.rec.Age == 0 && len(c.rec.PrevHash) != 0:
		return status.New(status.InvalidPrevHash, "asset %q age 0 carries a prev_hash", c.rec.ID)
	case c.rec.Age == 0:
		return nil
	case !st.checked:
		if len(c.rec.PrevHash) == 0 {
			return status.New(status.InvalidPrevHash, "asset %q age %d has no prev_hash", c.rec.ID, c.rec.Age)
		}
		return nil
	case !bytes.Equal(c.rec.PrevHash, st.prevHash):
		return status.New(status.InvalidPrevHash, "asset %q age %d: prev_hash does not match age %d", c.rec.ID, c.rec.Age, c.rec.Age-1)
	}
	return nil
}

// validateHash hashes the replayed output rather than the stored data.
func validateHash(_ context.Context, _ *Service, _ *runState, c *check) error {
	c.hash = asset.ComputeHashWithOutput(c.rec, c.output)
	if !bytes.Equal(c.hash, c.rec.Hash) {
		return status.New(status.InvalidHash, "asset %q age %d: hash mismatch", c.rec.ID, c.rec.Age)
	}
	return nil
}

// validateNonce works on the nonce carried by the signed argument. The
// record's Nonce field is outside the hash and must agree with it.
func validateNonce(_ context.Context, _ *Service, st *runState, c *check) error {
	switch {
	case c.argErr != nil:
		return status.Wrap(status.InvalidNonce, c.argErr, "asset %q age %d", c.rec.ID, c.rec.Age)
	case c.rec.Nonce != c.nonce:
		return status.New(status.InvalidNonce, "asset %q age %d: stored nonce %q is not the signed nonce %q",
			c.rec.ID, c.rec.Age, c.rec.Nonce, c.nonce)
	case st.nonces[c.nonce]:
		return status.New(status.InvalidNonce, "asset %q age %d: nonce %q was already used", c.rec.ID, c.rec.Age, c.nonce)
	}
	return nil
}
