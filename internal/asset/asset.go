// Package asset defines the versioned asset record, its hash chain, and the
// signed proof handed to clients.
//
// Every record is bound to its predecessor by PrevHash, the hash of the
// record at the previous age of the same asset. The age-0 record carries no
// PrevHash. ComputeHash is the only hash implementation in the module: the
// commit path and the validation path must agree byte for byte.
package asset

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Record is a single committed version of an asset.
type Record struct {
	ID         string `json:"id"`
	Age        uint32 `json:"age"`
	Nonce      string `json:"nonce"`
	Argument   string `json:"argument"`
	ContractID string `json:"contract_id"`
	Input      []byte `json:"input"`
	Data       []byte `json:"data"`
	Signature  []byte `json:"signature"`
	Hash       []byte `json:"hash"`
	PrevHash   []byte `json:"prev_hash,omitempty"`
}

// Fields are the caller-supplied parts of a new record. The hash is derived.
type Fields struct {
	ID         string
	Age        uint32
	Nonce      string
	Argument   string
	ContractID string
	Input      []byte
	Data       []byte
	Signature  []byte
	PrevHash   []byte
}

// NewRecord builds a record from fields and seals it with its hash.
func NewRecord(f Fields) (*Record, error) {
	if f.ID == "" {
		return nil, fmt.Errorf("asset id is required")
	}
	if f.ContractID == "" {
		return nil, fmt.Errorf("contract id is required for asset %q", f.ID)
	}
	if f.Age == 0 && len(f.PrevHash) != 0 {
		return nil, fmt.Errorf("asset %q: age 0 must not carry a prev_hash", f.ID)
	}
	if f.Age > 0 && len(f.PrevHash) == 0 {
		return nil, fmt.Errorf("asset %q: age %d requires a prev_hash", f.ID, f.Age)
	}
	r := &Record{
		ID:         f.ID,
		Age:        f.Age,
		Nonce:      f.Nonce,
		Argument:   f.Argument,
		ContractID: f.ContractID,
		Input:      f.Input,
		Data:       f.Data,
		Signature:  f.Signature,
		PrevHash:   f.PrevHash,
	}
	r.Hash = ComputeHash(r)
	return r, nil
}

// ComputeHash returns SHA-256 over the record's chained fields in the fixed
// order id, age, input, output, contract id, argument, signature, prev hash.
// The stored Hash is ignored.
func ComputeHash(r *Record) []byte {
	return hashFields(r.ID, r.Age, r.Input, r.Data, r.ContractID, r.Argument, r.Signature, r.PrevHash)
}

// ComputeHashWithOutput is ComputeHash with the output replaced, used by the
// validator to hash recomputed state instead of stored state.
func ComputeHashWithOutput(r *Record, output []byte) []byte {
	return hashFields(r.ID, r.Age, r.Input, output, r.ContractID, r.Argument, r.Signature, r.PrevHash)
}

func hashFields(id string, age uint32, input, output []byte, contractID, argument string, signature, prevHash []byte) []byte {
	h := sha256.New()
	h.Write([]byte(id))
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], age)
	h.Write(a[:])
	h.Write(input)
	h.Write(output)
	h.Write([]byte(contractID))
	h.Write([]byte(argument))
	h.Write(signature)
	h.Write(prevHash)
	return h.Sum(nil)
}

// ValidateChain reports whether r links to expectedPrevHash and its stored
// hash matches its fields. For age 0 expectedPrevHash must be empty.
func ValidateChain(r *Record, expectedPrevHash []byte) bool {
	if r.Age == 0 {
		if len(r.PrevHash) != 0 || len(expectedPrevHash) != 0 {
			return false
		}
	} else if !bytes.Equal(r.PrevHash, expectedPrevHash) {
		return false
	}
	return bytes.Equal(r.Hash, ComputeHash(r))
}
