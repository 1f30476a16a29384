package identity

import (
	"context"
	"sync"

	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// AuditorTrust is the deployment's own record of the auditor key. It is
// not registered through the certificate or secret registry.
type AuditorTrust struct {
	EntityID   string
	KeyVersion uint32
	CertPEM    string
	Secret     string
}

// ClientKeyValidator resolves (entity id, key version) to a Validator.
type ClientKeyValidator struct {
	method  AuthenticationMethod
	certs   *CertificateManager
	secrets *SecretManager
	auditor *AuditorTrust

	mu               sync.Mutex
	auditorValidator Validator
}

// NewClientKeyValidator creates a ClientKeyValidator. auditor may be nil
// when the deployment runs without an auditor.
func NewClientKeyValidator(method AuthenticationMethod, certs *CertificateManager, secrets *SecretManager, auditor *AuditorTrust) *ClientKeyValidator {
	return &ClientKeyValidator{method: method, certs: certs, secrets: secrets, auditor: auditor}
}

// Method returns the configured authentication method.
func (v *ClientKeyValidator) Method() AuthenticationMethod { return v.method }

// IsAuditor reports whether entityID is the reserved auditor identity.
func (v *ClientKeyValidator) IsAuditor(entityID string) bool {
	return v.auditor != nil && v.auditor.EntityID != "" && entityID == v.auditor.EntityID
}

// Validator returns the validator for one key of an entity.
//
// Under PassThrough the relay holds no key material policy of its own, so
// a registered certificate is tried first and a registered secret second.
func (v *ClientKeyValidator) Validator(ctx context.Context, entityID string, keyVersion uint32) (Validator, error) {
	if v.IsAuditor(entityID) {
		return v.auditorKey(keyVersion)
	}
	id := KeyID{EntityID: entityID, KeyVersion: keyVersion}
	switch v.method {
	case DigitalSignature:
		return v.certs.Validator(ctx, id)
	case HMAC:
		return v.secrets.Validator(ctx, id)
	case PassThrough:
		val, err := v.certs.Validator(ctx, id)
		if status.Is(err, status.CertificateNotFound) && v.secrets != nil {
			return v.secrets.Validator(ctx, id)
		}
		return val, err
	default:
		return nil, status.New(status.InvalidRequest, "unsupported authentication method %s", v.method)
	}
}

// AuditorValidator returns the validator for the configured auditor key.
func (v *ClientKeyValidator) AuditorValidator() (Validator, error) {
	if v.auditor == nil || v.auditor.EntityID == "" {
		return nil, status.New(status.InvalidAuditorConfiguration, "no auditor is configured")
	}
	return v.auditorKey(v.auditor.KeyVersion)
}

func (v *ClientKeyValidator) auditorKey(keyVersion uint32) (Validator, error) {
	if keyVersion != v.auditor.KeyVersion {
		return nil, status.New(status.CertificateNotFound, "auditor key version %d is not configured", keyVersion)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.auditorValidator != nil {
		return v.auditorValidator, nil
	}

	var (
		val Validator
		err error
	)
	switch {
	case v.auditor.CertPEM != "":
		val, err = NewDigitalSignatureValidator([]byte(v.auditor.CertPEM))
	case v.auditor.Secret != "":
		val, err = NewHMACValidator([]byte(v.auditor.Secret))
	default:
		err = status.New(status.InvalidAuditorConfiguration, "auditor %s has neither a certificate nor a secret", v.auditor.EntityID)
	}
	if err != nil {
		return nil, err
	}
	v.auditorValidator = val
	return val, nil
}
