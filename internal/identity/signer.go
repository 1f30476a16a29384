package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// Signer signs byte strings.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Validator verifies signatures over byte strings. A failed check returns a
// *status.Error with code INVALID_SIGNATURE.
type Validator interface {
	Verify(data, signature []byte) error
}

// DigitalSignatureSigner signs with an ECDSA P-256 key; signatures are
// ASN.1 DER over SHA-256.
type DigitalSignatureSigner struct {
	key *ecdsa.PrivateKey
}

// NewDigitalSignatureSigner loads a PEM encoded EC or PKCS#8 private key.
func NewDigitalSignatureSigner(keyPEM []byte) (*DigitalSignatureSigner, error) {
	key, err := parseECPrivateKey(keyPEM)
	if err != nil {
		return nil, status.Wrap(status.UnloadableKey, err, "load signing key")
	}
	return &DigitalSignatureSigner{key: key}, nil
}

// Sign implements Signer.
func (s *DigitalSignatureSigner) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, status.Wrap(status.RuntimeError, err, "sign")
	}
	return sig, nil
}

// DigitalSignatureValidator verifies against the public key of a certificate.
type DigitalSignatureValidator struct {
	pub *ecdsa.PublicKey
}

// NewDigitalSignatureValidator parses a PEM certificate carrying an ECDSA key.
func NewDigitalSignatureValidator(certPEM []byte) (*DigitalSignatureValidator, error) {
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, status.Wrap(status.UnloadableKey, err, "load certificate")
	}
	return newValidatorFromCert(cert)
}

func newValidatorFromCert(cert *x509.Certificate) (*DigitalSignatureValidator, error) {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, status.New(status.UnloadableKey, "certificate key is %T, want ECDSA", cert.PublicKey)
	}
	if pub.Curve != elliptic.P256() {
		return nil, status.New(status.UnloadableKey, "certificate key curve is %s, want P-256", pub.Curve.Params().Name)
	}
	return &DigitalSignatureValidator{pub: pub}, nil
}

// Verify implements Validator.
func (v *DigitalSignatureValidator) Verify(data, signature []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(v.pub, digest[:], signature) {
		return status.New(status.InvalidSignature, "signature verification failed")
	}
	return nil
}

// HMACSigner signs with HMAC-SHA256.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates an HMACSigner. The secret must not be empty.
func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, status.New(status.UnloadableKey, "empty HMAC secret")
	}
	return &HMACSigner{secret: append([]byte(nil), secret...)}, nil
}

// Sign implements Signer.
func (s *HMACSigner) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// HMACValidator verifies HMAC-SHA256 signatures.
type HMACValidator struct {
	signer *HMACSigner
}

// NewHMACValidator creates an HMACValidator.
func NewHMACValidator(secret []byte) (*HMACValidator, error) {
	s, err := NewHMACSigner(secret)
	if err != nil {
		return nil, err
	}
	return &HMACValidator{signer: s}, nil
}

// Verify implements Validator.
func (v *HMACValidator) Verify(data, signature []byte) error {
	want, _ := v.signer.Sign(data)
	if !hmac.Equal(want, signature) {
		return status.New(status.InvalidSignature, "signature verification failed")
	}
	return nil
}

func parseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

func parseECPrivateKey(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ECDSA", k)
	}
	return key, nil
}

func encodeECPrivateKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
