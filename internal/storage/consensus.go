package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// coordinatorPrefix sorts before every data key, so range scans over data
// never see coordinator records.
const coordinatorPrefix = "\x00tx/"

const (
	stateCommitted = "C"
	stateAborted   = "A"
)

// DefaultRecoveryExpiration is how long a prepared cell is left alone before
// Recover treats its undecided holder as abandoned.
const DefaultRecoveryExpiration = 15 * time.Second

func coordinatorKey(txID string) []byte {
	return []byte(coordinatorPrefix + txID)
}

// Option configures a ConsensusCommit.
type Option func(*ConsensusCommit)

// WithRecoveryExpiration sets the age after which an undecided holder is
// aborted by recovery.
func WithRecoveryExpiration(d time.Duration) Option {
	return func(c *ConsensusCommit) { c.expiration = d }
}

// WithReadValidation toggles re-checking the read set at commit time.
// Disabled, transactions are snapshot-isolated instead of serializable.
func WithReadValidation(enabled bool) Option {
	return func(c *ConsensusCommit) { c.validateReads = enabled }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *ConsensusCommit) { c.now = now }
}

// ConsensusCommit implements Manager over a Backend.
type ConsensusCommit struct {
	backend       Backend
	logger        *zap.Logger
	expiration    time.Duration
	validateReads bool
	now           func() time.Time
}

// NewConsensusCommit creates a transaction manager over backend.
func NewConsensusCommit(backend Backend, logger *zap.Logger, opts ...Option) *ConsensusCommit {
	c := &ConsensusCommit{
		backend:       backend,
		logger:        logger,
		expiration:    DefaultRecoveryExpiration,
		validateReads: true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin implements Manager.
func (c *ConsensusCommit) Begin(_ context.Context) (Transaction, error) {
	return c.begin(), nil
}

func (c *ConsensusCommit) begin() *Tx {
	return &Tx{
		m:      c,
		id:     uuid.NewString(),
		reads:  make(map[string]readEntry),
		writes: make(map[string]*write),
	}
}

// State implements Manager.
func (c *ConsensusCommit) State(ctx context.Context, txID string) (TxState, error) {
	cell, err := c.backend.Get(ctx, coordinatorKey(txID))
	if errors.Is(err, ErrNotFound) {
		return TxUnknown, nil
	}
	if err != nil {
		return TxUnknown, fmt.Errorf("read coordinator state of %s: %w", txID, err)
	}
	switch string(cell.Value) {
	case stateCommitted:
		return TxCommitted, nil
	case stateAborted:
		return TxAborted, nil
	default:
		return TxUnknown, fmt.Errorf("coordinator state of %s is corrupt: %q", txID, cell.Value)
	}
}

// decide records the outcome of txID. If another party already decided, the
// existing decision is returned instead.
func (c *ConsensusCommit) decide(ctx context.Context, txID, state string) (TxState, error) {
	cell := &Cell{Value: []byte(state), State: CellCommitted, TxID: txID}
	err := c.backend.CompareAndSwap(ctx, coordinatorKey(txID), 0, cell)
	if errors.Is(err, ErrSeqMismatch) {
		return c.State(ctx, txID)
	}
	if err != nil {
		return TxUnknown, fmt.Errorf("write coordinator state of %s: %w", txID, err)
	}
	if state == stateCommitted {
		return TxCommitted, nil
	}
	return TxAborted, nil
}

// Recover implements Manager. A prepared cell is rolled forward if its holder
// committed and rolled back if it aborted. An undecided holder older than the
// recovery expiration is aborted first.
func (c *ConsensusCommit) Recover(ctx context.Context, key []byte) (Recovery, error) {
	rec := Recovery{Key: string(key)}
	cell, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("recover %q: %w", key, err)
	}
	if !cell.prepared() {
		return rec, nil
	}
	rec.Holder = cell.TxID

	state, err := c.State(ctx, cell.TxID)
	if err != nil {
		return rec, err
	}
	if state == TxUnknown {
		age := c.now().Sub(time.Unix(0, cell.PreparedAt))
		if age < c.expiration {
			rec.Action = RecoveryInProgress
			return rec, nil
		}
		if state, err = c.decide(ctx, cell.TxID, stateAborted); err != nil {
			return rec, err
		}
		c.logger.Warn("aborted abandoned transaction",
			zap.String("tx_id", cell.TxID),
			zap.Duration("prepared_for", age),
		)
	}

	next := cell.rolledBack()
	rec.Action = RecoveryRolledBack
	if state == TxCommitted {
		next = cell.rolledForward()
		rec.Action = RecoveryRolledForward
	}
	err = c.backend.CompareAndSwap(ctx, key, cell.Seq, next)
	if errors.Is(err, ErrSeqMismatch) {
		// Someone else finished the cell first.
		rec.Action = RecoveryNone
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("recover %q: %w", key, err)
	}
	c.logger.Info("recovered prepared cell",
		zap.String("key", rec.Key),
		zap.String("holder", rec.Holder),
		zap.Stringer("action", rec.Action),
	)
	return rec, nil
}

// Close implements Manager.
func (c *ConsensusCommit) Close() error {
	return c.backend.Close()
}
