// Package request defines the signed requests accepted by the ledger and the
// canonical byte strings their signatures cover.
//
// Signing bytes are a fixed, order-sensitive concatenation of each request's
// fields. Changing the order or the set of fields invalidates every signature
// issued before the change, including the ones stored in asset history.
package request

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Signer produces a signature over a byte string.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Identity names the key a request is signed with.
type Identity struct {
	EntityID   string `json:"entity_id"`
	KeyVersion uint32 `json:"key_version"`
}

func (id Identity) validate() error {
	if id.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if id.KeyVersion == 0 {
		return fmt.Errorf("key_version must be positive")
	}
	return nil
}

// canonical accumulates signing bytes.
type canonical struct {
	buf bytes.Buffer
}

func (c *canonical) str(s string) *canonical {
	c.buf.WriteString(s)
	return c
}

func (c *canonical) raw(b []byte) *canonical {
	c.buf.Write(b)
	return c
}

func (c *canonical) u32(v uint32) *canonical {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	c.buf.Write(b[:])
	return c
}

func (c *canonical) bytes() []byte { return c.buf.Bytes() }

// ExecutionSigningBytes returns the bytes a client signs to execute a contract.
// The function argument is deliberately absent: the stored history must be
// enough to re-verify every signature.
func ExecutionSigningBytes(contractID, argument, entityID string, keyVersion uint32) []byte {
	c := &canonical{}
	return c.str(contractID).str(argument).str(entityID).u32(keyVersion).bytes()
}

// ContractExecution asks the ledger to execute a registered contract.
type ContractExecution struct {
	Identity

	ContractID       string `json:"contract_id"`
	Argument         string `json:"argument"`
	FunctionArgument string `json:"function_argument,omitempty"`
	Signature        []byte `json:"signature"`
	AuditorSignature []byte `json:"auditor_signature,omitempty"`
}

// NewContractExecution builds an unsigned execution request. The nonce and
// function ids are folded into the argument envelope so they become part of
// the signed, hash-chained record.
func NewContractExecution(nonce string, id Identity, contractID, argument string, functionIDs []string, functionArgument string) (*ContractExecution, error) {
	if nonce == "" {
		return nil, fmt.Errorf("nonce is required")
	}
	if contractID == "" {
		return nil, fmt.Errorf("contract_id is required")
	}
	if err := id.validate(); err != nil {
		return nil, err
	}
	return &ContractExecution{
		Identity:         id,
		ContractID:       contractID,
		Argument:         FormatArgument(nonce, functionIDs, argument),
		FunctionArgument: functionArgument,
	}, nil
}

// SigningBytes returns the canonical bytes covered by Signature.
func (r *ContractExecution) SigningBytes() []byte {
	return ExecutionSigningBytes(r.ContractID, r.Argument, r.EntityID, r.KeyVersion)
}

// Sign fills in Signature.
func (r *ContractExecution) Sign(s Signer) error {
	sig, err := s.Sign(r.SigningBytes())
	if err != nil {
		return fmt.Errorf("sign execution request: %w", err)
	}
	r.Signature = sig
	return nil
}

// SignAsAuditor fills in AuditorSignature.
func (r *ContractExecution) SignAsAuditor(s Signer) error {
	sig, err := s.Sign(r.SigningBytes())
	if err != nil {
		return fmt.Errorf("auditor sign execution request: %w", err)
	}
	r.AuditorSignature = sig
	return nil
}

// Validate checks that all required fields are present.
func (r *ContractExecution) Validate() error {
	if r.ContractID == "" {
		return fmt.Errorf("contract_id is required")
	}
	if err := r.Identity.validate(); err != nil {
		return err
	}
	if len(r.Signature) == 0 {
		return fmt.Errorf("signature is required")
	}
	arg, err := ParseArgument(r.Argument)
	if err != nil {
		return err
	}
	if arg.Nonce == "" {
		return fmt.Errorf("argument carries no nonce")
	}
	return nil
}

// ContractRegistration registers executable contract logic under an id.
type ContractRegistration struct {
	Identity

	ContractID string `json:"contract_id"`
	BinaryName string `json:"binary_name"`
	Payload    []byte `json:"payload"`
	Properties string `json:"properties,omitempty"`
	Signature  []byte `json:"signature"`
}

// SigningBytes returns the canonical bytes covered by Signature.
func (r *ContractRegistration) SigningBytes() []byte {
	c := &canonical{}
	return c.str(r.ContractID).str(r.BinaryName).raw(r.Payload).str(r.Properties).
		str(r.EntityID).u32(r.KeyVersion).bytes()
}

// Sign fills in Signature.
func (r *ContractRegistration) Sign(s Signer) error {
	sig, err := s.Sign(r.SigningBytes())
	if err != nil {
		return fmt.Errorf("sign contract registration: %w", err)
	}
	r.Signature = sig
	return nil
}

// Validate checks that all required fields are present.
func (r *ContractRegistration) Validate() error {
	if r.ContractID == "" || r.BinaryName == "" {
		return fmt.Errorf("contract_id and binary_name are required")
	}
	if err := r.Identity.validate(); err != nil {
		return err
	}
	if len(r.Signature) == 0 {
		return fmt.Errorf("signature is required")
	}
	return nil
}

// FunctionRegistration registers a side-effecting function.
type FunctionRegistration struct {
	FunctionID string `json:"function_id"`
	BinaryName string `json:"binary_name"`
	Payload    []byte `json:"payload,omitempty"`
}

// Validate checks that all required fields are present.
func (r *FunctionRegistration) Validate() error {
	if r.FunctionID == "" || r.BinaryName == "" {
		return fmt.Errorf("function_id and binary_name are required")
	}
	return nil
}

// CertificateRegistration binds a certificate to (entity id, key version).
type CertificateRegistration struct {
	Identity

	CertPEM string `json:"cert_pem"`
}

// Validate checks that all required fields are present.
func (r *CertificateRegistration) Validate() error {
	if err := r.Identity.validate(); err != nil {
		return err
	}
	if r.CertPEM == "" {
		return fmt.Errorf("cert_pem is required")
	}
	return nil
}

// SecretRegistration binds an HMAC secret to (entity id, key version).
type SecretRegistration struct {
	Identity

	Secret string `json:"secret"`
}

// Validate checks that all required fields are present.
func (r *SecretRegistration) Validate() error {
	if err := r.Identity.validate(); err != nil {
		return err
	}
	if r.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	return nil
}

// AgeUnbounded is used for an open start or end of a validation range.
const AgeUnbounded = ^uint32(0)

// LedgerValidation asks the ledger to replay and verify an asset's history.
type LedgerValidation struct {
	Identity

	AssetID   string `json:"asset_id"`
	StartAge  uint32 `json:"start_age"`
	EndAge    uint32 `json:"end_age"`
	Signature []byte `json:"signature"`
}

// NewLedgerValidation builds an unsigned request covering the full history.
func NewLedgerValidation(assetID string, id Identity) *LedgerValidation {
	return &LedgerValidation{Identity: id, AssetID: assetID, StartAge: 0, EndAge: AgeUnbounded}
}

// SigningBytes returns the canonical bytes covered by Signature.
func (r *LedgerValidation) SigningBytes() []byte {
	c := &canonical{}
	return c.str(r.AssetID).u32(r.StartAge).u32(r.EndAge).str(r.EntityID).u32(r.KeyVersion).bytes()
}

// Sign fills in Signature.
func (r *LedgerValidation) Sign(s Signer) error {
	sig, err := s.Sign(r.SigningBytes())
	if err != nil {
		return fmt.Errorf("sign validation request: %w", err)
	}
	r.Signature = sig
	return nil
}

// Validate checks that all required fields are present.
func (r *LedgerValidation) Validate() error {
	if r.AssetID == "" {
		return fmt.Errorf("asset_id is required")
	}
	if r.StartAge > r.EndAge {
		return fmt.Errorf("start_age %d is after end_age %d", r.StartAge, r.EndAge)
	}
	if err := r.Identity.validate(); err != nil {
		return err
	}
	if len(r.Signature) == 0 {
		return fmt.Errorf("signature is required")
	}
	return nil
}

// AssetProofRetrieval asks for the proof of one asset version.
type AssetProofRetrieval struct {
	Identity

	AssetID   string `json:"asset_id"`
	Age       uint32 `json:"age"`
	Signature []byte `json:"signature"`
}

// SigningBytes returns the canonical bytes covered by Signature.
func (r *AssetProofRetrieval) SigningBytes() []byte {
	c := &canonical{}
	return c.str(r.AssetID).u32(r.Age).str(r.EntityID).u32(r.KeyVersion).bytes()
}

// Sign fills in Signature.
func (r *AssetProofRetrieval) Sign(s Signer) error {
	sig, err := s.Sign(r.SigningBytes())
	if err != nil {
		return fmt.Errorf("sign proof retrieval request: %w", err)
	}
	r.Signature = sig
	return nil
}

// Validate checks that all required fields are present.
func (r *AssetProofRetrieval) Validate() error {
	if r.AssetID == "" {
		return fmt.Errorf("asset_id is required")
	}
	if err := r.Identity.validate(); err != nil {
		return err
	}
	if len(r.Signature) == 0 {
		return fmt.Errorf("signature is required")
	}
	return nil
}
