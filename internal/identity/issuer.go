package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"time"
)

// IssuedCert holds a freshly issued entity certificate and its key.
type IssuedCert struct {
	CertPEM string
	KeyPEM  string
	Serial  string
	Cert    *x509.Certificate
}

// Signer returns a DigitalSignatureSigner over the issued key.
func (ic *IssuedCert) Signer() (*DigitalSignatureSigner, error) {
	return NewDigitalSignatureSigner([]byte(ic.KeyPEM))
}

// Issuer issues entity signing certificates from a CAManager.
type Issuer struct {
	ca *CAManager
}

// NewIssuer creates an Issuer backed by the given CAManager.
func NewIssuer(ca *CAManager) *Issuer {
	return &Issuer{ca: ca}
}

// CACertPEM returns the CA certificate in PEM format.
func (i *Issuer) CACertPEM() string {
	return string(i.ca.CertPEM())
}

// IssueEntityCert issues a P-256 signing certificate for entityID. The
// subject common name is the entity id; validFor defaults to one year.
func (i *Issuer) IssueEntityCert(entityID string, validFor time.Duration) (*IssuedCert, error) {
	if i.ca == nil || i.ca.cert == nil || i.ca.key == nil {
		return nil, fmt.Errorf("CA not loaded; call LoadOrCreate first")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	if validFor == 0 {
		validFor = 365 * 24 * time.Hour
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate entity key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   entityID,
			Organization: []string{"Nexus Ledger"},
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.Add(validFor),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, i.ca.cert, &key.PublicKey, i.ca.key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse issued certificate: %w", err)
	}
	keyPEM, err := encodeECPrivateKey(key)
	if err != nil {
		return nil, err
	}

	return &IssuedCert{
		CertPEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})),
		KeyPEM:  string(keyPEM),
		Serial:  serial.Text(16),
		Cert:    cert,
	}, nil
}

// VerifyEntityCert checks that a PEM certificate chains to pool.
func VerifyEntityCert(pool *x509.CertPool, certPEM []byte) (*x509.Certificate, error) {
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	opts := x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return nil, fmt.Errorf("certificate not trusted: %w", err)
	}
	return cert, nil
}

// GenerateSelfSigned creates a self-signed P-256 certificate for entityID.
// It is what ledgerctl keygen produces when no CA directory is given.
func GenerateSelfSigned(entityID string, validFor time.Duration) (*IssuedCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate entity key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	if validFor == 0 {
		validFor = 365 * 24 * time.Hour
	}
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: entityID, Organization: []string{"Nexus Ledger"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	keyPEM, err := encodeECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &IssuedCert{
		CertPEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})),
		KeyPEM:  string(keyPEM),
		Serial:  serial.Text(16),
		Cert:    cert,
	}, nil
}
