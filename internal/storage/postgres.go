package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresBackend stores cells in the ledger_cells table. The seq column
// carries the compare-and-swap sequence; body holds the encoded cell.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresBackend creates a PostgresBackend backed by the given pool.
// The schema is created by cmd/migrate.
func NewPostgresBackend(pool *pgxpool.Pool, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{pool: pool, logger: logger}
}

// Get implements Backend.
func (b *PostgresBackend) Get(ctx context.Context, key []byte) (*Cell, error) {
	var seq int64
	var body []byte
	err := b.pool.QueryRow(ctx,
		"SELECT seq, body FROM ledger_cells WHERE key = $1", key,
	).Scan(&seq, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cell: %w", err)
	}
	return decodeCell(uint64(seq), body)
}

// Scan implements Backend. bytea compares bytewise, which matches the key
// order of the other backends.
func (b *PostgresBackend) Scan(ctx context.Context, r Range) ([]KeyedCell, error) {
	var q strings.Builder
	args := []any{r.Start}
	q.WriteString("SELECT key, seq, body FROM ledger_cells WHERE key >= $1")
	if r.End != nil {
		args = append(args, r.End)
		q.WriteString(" AND key < $2")
	}
	if r.Reverse {
		q.WriteString(" ORDER BY key DESC")
	} else {
		q.WriteString(" ORDER BY key ASC")
	}
	if r.Limit > 0 {
		fmt.Fprintf(&q, " LIMIT %d", r.Limit)
	}

	if r.Start == nil {
		args[0] = []byte{}
	}
	rows, err := b.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("scan cells: %w", err)
	}
	defer rows.Close()

	var out []KeyedCell
	for rows.Next() {
		var key, body []byte
		var seq int64
		if err := rows.Scan(&key, &seq, &body); err != nil {
			return nil, fmt.Errorf("scan cell row: %w", err)
		}
		c, err := decodeCell(uint64(seq), body)
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", key, err)
		}
		out = append(out, KeyedCell{Key: key, Cell: c})
	}
	return out, rows.Err()
}

// CompareAndSwap implements Backend. A zero expectSeq inserts; anything else
// is a conditional update on seq.
func (b *PostgresBackend) CompareAndSwap(ctx context.Context, key []byte, expectSeq uint64, c *Cell) error {
	body, err := encodeCell(c)
	if err != nil {
		return err
	}

	var affected int64
	if expectSeq == 0 {
		tag, err := b.pool.Exec(ctx,
			`INSERT INTO ledger_cells (key, seq, body) VALUES ($1, 1, $2)
			 ON CONFLICT (key) DO NOTHING`, key, body)
		if err != nil {
			return fmt.Errorf("insert cell: %w", err)
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := b.pool.Exec(ctx,
			`UPDATE ledger_cells SET seq = $3, body = $4, updated_at = NOW()
			 WHERE key = $1 AND seq = $2`,
			key, int64(expectSeq), int64(expectSeq+1), body)
		if err != nil {
			return fmt.Errorf("update cell: %w", err)
		}
		affected = tag.RowsAffected()
	}
	if affected == 0 {
		b.logger.Debug("cell compare-and-swap lost",
			zap.ByteString("key", key), zap.Uint64("expect_seq", expectSeq))
		return ErrSeqMismatch
	}
	return nil
}

// Close implements Backend. The pool is owned by the caller.
func (b *PostgresBackend) Close() error { return nil }
