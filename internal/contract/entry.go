// Package contract registers and runs deterministic contracts.
//
// Contracts are Go values produced by factories in a Catalog and addressed
// by binary name. A registration binds a contract id to a binary name, an
// opaque payload handed to the factory, optional properties and the
// identity that signed the registration. Each contract is written against
// one value encoding; the Binding returned by its factory records which.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jmerrifield20/NexusLedger/pkg/request"
)

// ErrNotFound is wrapped by the status error returned for unknown ids.
var ErrNotFound = errors.New("contract not found")

// Entry is a registered contract. Entries are immutable.
type Entry struct {
	ID           string    `json:"id"`
	BinaryName   string    `json:"binary_name"`
	EntityID     string    `json:"entity_id"`
	KeyVersion   uint32    `json:"key_version"`
	Payload      []byte    `json:"payload,omitempty"`
	Properties   string    `json:"properties,omitempty"`
	Signature    []byte    `json:"signature"`
	RegisteredAt time.Time `json:"registered_at"`
}

// EntryFromRequest builds the entry a registration request describes.
func EntryFromRequest(req *request.ContractRegistration, now time.Time) *Entry {
	return &Entry{
		ID:           req.ContractID,
		BinaryName:   req.BinaryName,
		EntityID:     req.EntityID,
		KeyVersion:   req.KeyVersion,
		Payload:      append([]byte(nil), req.Payload...),
		Properties:   req.Properties,
		Signature:    append([]byte(nil), req.Signature...),
		RegisteredAt: now.UTC(),
	}
}

// SigningBytes returns the bytes the registration signature covers.
func (e *Entry) SigningBytes() []byte {
	req := request.ContractRegistration{
		Identity:   request.Identity{EntityID: e.EntityID, KeyVersion: e.KeyVersion},
		ContractID: e.ID,
		BinaryName: e.BinaryName,
		Payload:    e.Payload,
		Properties: e.Properties,
	}
	return req.SigningBytes()
}

// OwnedBy reports whether the entry was registered with the given key.
func (e *Entry) OwnedBy(entityID string, keyVersion uint32) bool {
	return e.EntityID == entityID && e.KeyVersion == keyVersion
}

// cacheKey covers every signed field and the signature, so an entry that
// changed in storage misses the cache and is verified again.
func (e *Entry) cacheKey() string {
	h := sha256.New()
	h.Write(e.SigningBytes())
	h.Write(e.Signature)
	return e.ID + "\x00" + hex.EncodeToString(h.Sum(nil))
}
