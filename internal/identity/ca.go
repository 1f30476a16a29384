package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const (
	caCertFile = "ca.crt"
	caKeyFile  = "ca.key"
)

// CAManager manages a development certificate authority. It creates and
// persists a root CA on first use and reloads it afterwards. Entity
// certificates issued by ledgerctl keygen are signed by it, and the
// certificate manager can be configured to accept only certificates that
// chain to it.
type CAManager struct {
	dir  string
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// NewCAManager returns a CAManager that stores the CA files in dir.
func NewCAManager(dir string) *CAManager {
	return &CAManager{dir: dir}
}

// LoadOrCreate loads the CA from disk if it exists; creates a new one otherwise.
func (m *CAManager) LoadOrCreate() error {
	if err := m.Load(); err == nil {
		return nil
	}
	return m.Create()
}

// Load reads an existing CA cert and key from the configured directory.
func (m *CAManager) Load() error {
	certPEM, err := os.ReadFile(filepath.Join(m.dir, caCertFile))
	if err != nil {
		return fmt.Errorf("read CA cert: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(m.dir, caKeyFile))
	if err != nil {
		return fmt.Errorf("read CA key: %w", err)
	}
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return err
	}
	key, err := parseECPrivateKey(keyPEM)
	if err != nil {
		return err
	}
	m.cert = cert
	m.key = key
	return nil
}

// Create generates a new P-256 CA, saves it to disk, and activates it.
func (m *CAManager) Create() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create cert dir %q: %w", m.dir, err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Nexus Ledger Development CA",
			Organization: []string{"Nexus Ledger"},
		},
		NotBefore:             time.Now().UTC().Add(-time.Minute),
		NotAfter:              time.Now().UTC().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse CA certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM, err := encodeECPrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.dir, caCertFile), certPEM, 0o644); err != nil {
		return fmt.Errorf("write CA cert: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, caKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write CA key: %w", err)
	}

	m.cert = cert
	m.key = key
	return nil
}

// Cert returns the loaded CA certificate.
func (m *CAManager) Cert() *x509.Certificate { return m.cert }

// CertPEM returns the CA certificate encoded as PEM.
func (m *CAManager) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.cert.Raw})
}

// CertPool returns an x509.CertPool containing only this CA certificate.
func (m *CAManager) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(m.cert)
	return pool
}

// CertPoolFromPEM builds a pool from a PEM bundle, for deployments that
// pin registered certificates to an externally managed CA.
func CertPoolFromPEM(bundle []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(bundle) {
		return nil, fmt.Errorf("no valid certificates found in CA bundle")
	}
	return pool, nil
}

// randomSerial generates a cryptographically random 128-bit certificate serial.
func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}
	return serial, nil
}
