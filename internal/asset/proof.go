package asset

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Verifier checks a signature over a byte string.
type Verifier interface {
	Verify(data, signature []byte) error
}

// Proof is a signed, externally verifiable summary of one asset version.
type Proof struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	Age       uint32 `json:"age"`
	Nonce     string `json:"nonce"`
	Input     []byte `json:"input"`
	Hash      []byte `json:"hash"`
	PrevHash  []byte `json:"prev_hash,omitempty"`
	Signature []byte `json:"signature"`
}

// NewProof builds an unsigned proof for r.
func NewProof(namespace string, r *Record) *Proof {
	return &Proof{
		Namespace: namespace,
		ID:        r.ID,
		Age:       r.Age,
		Nonce:     r.Nonce,
		Input:     r.Input,
		Hash:      r.Hash,
		PrevHash:  r.PrevHash,
	}
}

// SigningBytes returns namespace ‖ id ‖ age ‖ nonce ‖ input ‖ hash ‖ prev_hash.
func (p *Proof) SigningBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(p.Namespace)
	buf.WriteString(p.ID)
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], p.Age)
	buf.Write(a[:])
	buf.WriteString(p.Nonce)
	buf.Write(p.Input)
	buf.Write(p.Hash)
	buf.Write(p.PrevHash)
	return buf.Bytes()
}

// Verify checks the proof's signature with v.
func (p *Proof) Verify(v Verifier) error {
	if len(p.Signature) == 0 {
		return fmt.Errorf("proof for %q age %d is unsigned", p.ID, p.Age)
	}
	return v.Verify(p.SigningBytes(), p.Signature)
}

// Matches reports whether the proof describes r.
func (p *Proof) Matches(r *Record) bool {
	return p.ID == r.ID && p.Age == r.Age && bytes.Equal(p.Hash, r.Hash)
}
