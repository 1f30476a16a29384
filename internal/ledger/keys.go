package ledger

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "default"

// Key layout:
//
//	a/<ns>/<id>/<age, 10 digits>   asset record
//	m/<ns>/<id>                    latest age of the asset
//
// Namespace and id are path-escaped so an id containing "/" cannot alias
// another asset's prefix. Ages are zero-padded so byte order is age order.
const (
	recordPrefix = "a/"
	metaPrefix   = "m/"
	ageDigits    = 10
)

// RecordKey returns the storage key of an asset version.
func RecordKey(ns, id string, age uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", assetPrefix(ns, id), age))
}

func assetPrefix(ns, id string) string {
	return recordPrefix + url.PathEscape(ns) + "/" + url.PathEscape(id) + "/"
}

// MetaKey returns the storage key holding an asset's latest age.
func MetaKey(ns, id string) []byte {
	return []byte(metaPrefix + url.PathEscape(ns) + "/" + url.PathEscape(id))
}

// AssetIDFromKey returns the asset id a record or metadata key belongs to.
func AssetIDFromKey(key []byte) (string, bool) {
	s := string(key)
	var rest string
	switch {
	case strings.HasPrefix(s, recordPrefix):
		rest = strings.TrimPrefix(s, recordPrefix)
		i := strings.LastIndexByte(rest, '/')
		if i < 0 || len(rest)-i-1 != ageDigits {
			return "", false
		}
		rest = rest[:i]
	case strings.HasPrefix(s, metaPrefix):
		rest = strings.TrimPrefix(s, metaPrefix)
	default:
		return "", false
	}
	_, escaped, ok := strings.Cut(rest, "/")
	if !ok {
		return "", false
	}
	id, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return id, true
}

func ageFromKey(key []byte) (uint32, error) {
	s := string(key)
	if len(s) < ageDigits {
		return 0, fmt.Errorf("record key %q too short", s)
	}
	n, err := strconv.ParseUint(s[len(s)-ageDigits:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("record key %q: %w", s, err)
	}
	return uint32(n), nil
}

type meta struct {
	Age uint32 `json:"age"`
}

func encodeMeta(age uint32) []byte {
	b, _ := json.Marshal(meta{Age: age})
	return b
}

func decodeMeta(b []byte) (uint32, error) {
	var m meta
	if err := json.Unmarshal(b, &m); err != nil {
		return 0, fmt.Errorf("decode asset metadata: %w", err)
	}
	return m.Age, nil
}

// EncodeRecord serialises a record for storage.
func EncodeRecord(r *asset.Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode asset record: %w", err)
	}
	return b, nil
}

// DecodeRecord parses a stored record.
func DecodeRecord(b []byte) (*asset.Record, error) {
	r := &asset.Record{}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("decode asset record: %w", err)
	}
	return r, nil
}
