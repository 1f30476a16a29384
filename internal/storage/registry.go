package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrAlreadyExists is returned by Registry.Insert for a key that is taken.
var ErrAlreadyExists = errors.New("storage: key already exists")

// Registry is a write-once table of JSON values under a key prefix. It backs
// the certificate, secret, contract and function registries.
//
// Insert is a lookup followed by a put in one transaction. The pair is not
// linearizable on its own: two concurrent inserts of the same key both pass
// the lookup, and the loser only fails at commit with a *ConflictError
// rather than ErrAlreadyExists.
type Registry[T any] struct {
	m      Manager
	prefix string
}

// NewRegistry creates a registry storing its entries under "r/<name>/".
func NewRegistry[T any](m Manager, name string) *Registry[T] {
	return &Registry[T]{m: m, prefix: "r/" + name + "/"}
}

func (r *Registry[T]) key(k string) []byte { return []byte(r.prefix + k) }

// Insert stores v under k unless k is already present.
func (r *Registry[T]) Insert(ctx context.Context, k string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode registry entry %q: %w", k, err)
	}
	tx, err := r.m.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Abort(ctx) //nolint:errcheck

	_, err = tx.Get(ctx, r.key(k))
	switch {
	case err == nil:
		return ErrAlreadyExists
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if err := tx.Put(r.key(k), b); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Lookup returns the entry stored under k or ErrNotFound.
func (r *Registry[T]) Lookup(ctx context.Context, k string) (T, error) {
	var v T
	tx, err := r.m.Begin(ctx)
	if err != nil {
		return v, err
	}
	defer tx.Abort(ctx) //nolint:errcheck

	b, err := tx.Get(ctx, r.key(k))
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode registry entry %q: %w", k, err)
	}
	return v, nil
}

// List returns every entry in key order.
func (r *Registry[T]) List(ctx context.Context) ([]T, error) {
	tx, err := r.m.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Abort(ctx) //nolint:errcheck

	kvs, err := tx.Scan(ctx, PrefixRange([]byte(r.prefix)))
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(kvs))
	for _, kv := range kvs {
		var v T
		if err := json.Unmarshal(kv.Value, &v); err != nil {
			return nil, fmt.Errorf("decode registry entry %q: %w", kv.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
