package client

import (
	"fmt"
	"os"

	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
)

// Credentials are the key an entity signs its requests with.
type Credentials struct {
	request.Identity
	Signer request.Signer
}

// LoadCertificateCredentials reads a PEM-encoded P-256 private key from
// keyPath. The matching certificate must be registered under
// (entityID, keyVersion).
func LoadCertificateCredentials(entityID string, keyVersion uint32, keyPath string) (*Credentials, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", keyPath, err)
	}
	signer, err := identity.NewDigitalSignatureSigner(keyPEM)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Identity: request.Identity{EntityID: entityID, KeyVersion: keyVersion},
		Signer:   signer,
	}, nil
}

// SecretCredentials signs with a registered HMAC secret.
func SecretCredentials(entityID string, keyVersion uint32, secret string) (*Credentials, error) {
	signer, err := identity.NewHMACSigner([]byte(secret))
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Identity: request.Identity{EntityID: entityID, KeyVersion: keyVersion},
		Signer:   signer,
	}, nil
}
