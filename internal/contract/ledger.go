package contract

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/NexusLedger/internal/ledger"
)

// Asset is one version of an asset with its data decoded.
type Asset[T any] struct {
	ID   string
	Age  uint32
	Data T
}

// Ledger is a ledger view typed by a codec.
type Ledger[T any] struct {
	view  ledger.View
	codec Codec[T]
}

// NewLedger wraps view with codec.
func NewLedger[T any](view ledger.View, codec Codec[T]) *Ledger[T] {
	return &Ledger[T]{view: view, codec: codec}
}

// Get returns the latest version of id, or nil when the asset does not exist.
func (l *Ledger[T]) Get(ctx context.Context, id string) (*Asset[T], error) {
	rec, ok, err := l.view.Get(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	data, err := l.codec.Decode(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("asset %q age %d: %w", id, rec.Age, err)
	}
	return &Asset[T]{ID: rec.ID, Age: rec.Age, Data: data}, nil
}

// Put stages v as the next version of id.
func (l *Ledger[T]) Put(ctx context.Context, id string, v T) error {
	b, err := l.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("asset %q: %w", id, err)
	}
	return l.view.Put(ctx, id, b)
}

// Scan returns the versions selected by f.
func (l *Ledger[T]) Scan(ctx context.Context, f *ledger.AssetFilter) ([]*Asset[T], error) {
	recs, err := l.view.Scan(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*Asset[T], 0, len(recs))
	for _, rec := range recs {
		data, err := l.codec.Decode(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("asset %q age %d: %w", rec.ID, rec.Age, err)
		}
		out = append(out, &Asset[T]{ID: rec.ID, Age: rec.Age, Data: data})
	}
	return out, nil
}
