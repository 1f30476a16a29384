package ledger

import (
	"github.com/jmerrifield20/NexusLedger/internal/storage"
)

// Bound is one end of an age range.
type Bound struct {
	Age       uint32
	Inclusive bool
}

// AssetFilter selects versions of one asset.
type AssetFilter struct {
	ID        string
	Start     *Bound
	End       *Bound
	Ascending bool
	// Limit caps the number of records; zero means no limit.
	Limit int
}

// NewAssetFilter returns a filter over every version of id, newest first.
func NewAssetFilter(id string) *AssetFilter {
	return &AssetFilter{ID: id}
}

// WithStartAge sets the lower age bound.
func (f *AssetFilter) WithStartAge(age uint32, inclusive bool) *AssetFilter {
	f.Start = &Bound{Age: age, Inclusive: inclusive}
	return f
}

// WithEndAge sets the upper age bound.
func (f *AssetFilter) WithEndAge(age uint32, inclusive bool) *AssetFilter {
	f.End = &Bound{Age: age, Inclusive: inclusive}
	return f
}

// WithAscendingOrder orders results oldest first.
func (f *AssetFilter) WithAscendingOrder() *AssetFilter {
	f.Ascending = true
	return f
}

// WithLimit caps the number of results.
func (f *AssetFilter) WithLimit(n int) *AssetFilter {
	f.Limit = n
	return f
}

// CappedAt returns a copy of the filter whose upper bound is at most age.
func (f *AssetFilter) CappedAt(age uint32) *AssetFilter {
	out := *f
	if f.End == nil || f.End.Age > age || (f.End.Age == age && f.End.Inclusive) {
		out.End = &Bound{Age: age, Inclusive: true}
	}
	return &out
}

// storageRange converts the filter to a key range, or reports that the
// filter selects nothing.
func (f *AssetFilter) storageRange(ns string) (storage.Range, bool) {
	r := storage.PrefixRange([]byte(assetPrefix(ns, f.ID)))
	if f.Start != nil {
		age := uint64(f.Start.Age)
		if !f.Start.Inclusive {
			age++
		}
		if age > maxAge {
			return r, false
		}
		r.Start = RecordKey(ns, f.ID, uint32(age))
	}
	if f.End != nil {
		if f.End.Inclusive {
			if f.End.Age < maxAge {
				r.End = RecordKey(ns, f.ID, f.End.Age+1)
			}
		} else {
			if f.End.Age == 0 {
				return r, false
			}
			r.End = RecordKey(ns, f.ID, f.End.Age)
		}
	}
	r.Reverse = !f.Ascending
	r.Limit = f.Limit
	return r, true
}

const maxAge = 1<<32 - 1
