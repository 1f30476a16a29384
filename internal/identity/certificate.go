package identity

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// CacheConfig bounds a validator cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// DefaultCacheConfig is used for zero CacheConfig values.
var DefaultCacheConfig = CacheConfig{Size: 10_000, TTL: time.Hour}

func (c CacheConfig) orDefault() CacheConfig {
	if c.Size <= 0 {
		c.Size = DefaultCacheConfig.Size
	}
	if c.TTL <= 0 {
		c.TTL = DefaultCacheConfig.TTL
	}
	return c
}

func newValidatorCache(cfg CacheConfig) *expirable.LRU[KeyID, Validator] {
	cfg = cfg.orDefault()
	return expirable.NewLRU[KeyID, Validator](cfg.Size, nil, cfg.TTL)
}

// CertificateEntry is a registered certificate.
type CertificateEntry struct {
	EntityID     string    `json:"entity_id"`
	KeyVersion   uint32    `json:"key_version"`
	PEM          string    `json:"pem"`
	RegisteredAt time.Time `json:"registered_at"`
}

// CertificateManager registers certificates and serves validators built
// from them.
type CertificateManager struct {
	reg    *storage.Registry[CertificateEntry]
	cache  *expirable.LRU[KeyID, Validator]
	roots  *x509.CertPool
	now    func() time.Time
	logger *zap.Logger
}

// CertificateOption configures a CertificateManager.
type CertificateOption func(*CertificateManager)

// WithTrustedRoots rejects certificates that do not chain to pool.
func WithTrustedRoots(pool *x509.CertPool) CertificateOption {
	return func(m *CertificateManager) { m.roots = pool }
}

// NewCertificateManager creates a CertificateManager over store.
func NewCertificateManager(store storage.Manager, cache CacheConfig, logger *zap.Logger, opts ...CertificateOption) *CertificateManager {
	m := &CertificateManager{
		reg:    storage.NewRegistry[CertificateEntry](store, "certificate"),
		cache:  newValidatorCache(cache),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register stores certPEM under id. The certificate must parse and carry a
// P-256 key. A key that is already registered is never replaced.
func (m *CertificateManager) Register(ctx context.Context, id KeyID, certPEM string) error {
	if id.EntityID == "" || id.KeyVersion == 0 {
		return status.New(status.InvalidRequest, "entity id and a positive key version are required")
	}
	if m.roots != nil {
		if _, err := VerifyEntityCert(m.roots, []byte(certPEM)); err != nil {
			return status.Wrap(status.UnloadableKey, err, "certificate %s", id)
		}
	}
	if _, err := NewDigitalSignatureValidator([]byte(certPEM)); err != nil {
		return err
	}

	entry := CertificateEntry{
		EntityID:     id.EntityID,
		KeyVersion:   id.KeyVersion,
		PEM:          certPEM,
		RegisteredAt: m.now().UTC(),
	}
	err := m.reg.Insert(ctx, id.String(), entry)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return status.New(status.CertificateAlreadyRegistered, "certificate %s is already registered", id)
	case storage.IsConflict(err):
		return status.Wrap(status.Conflict, err, "register certificate %s", id)
	case err != nil:
		return status.Wrap(status.DatabaseError, err, "register certificate %s", id)
	}
	m.logger.Info("certificate registered", zap.String("entity_id", id.EntityID), zap.Uint32("key_version", id.KeyVersion))
	return nil
}

// Lookup returns the registered entry for id.
func (m *CertificateManager) Lookup(ctx context.Context, id KeyID) (*CertificateEntry, error) {
	entry, err := m.reg.Lookup(ctx, id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.New(status.CertificateNotFound, "certificate %s is not registered", id)
	}
	if err != nil {
		return nil, status.Wrap(status.DatabaseError, err, "look up certificate %s", id)
	}
	return &entry, nil
}

// Validator returns a cached validator for id, loading it on a miss.
func (m *CertificateManager) Validator(ctx context.Context, id KeyID) (Validator, error) {
	if v, ok := m.cache.Get(id); ok {
		return v, nil
	}
	entry, err := m.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := NewDigitalSignatureValidator([]byte(entry.PEM))
	if err != nil {
		return nil, err
	}
	m.cache.Add(id, v)
	return v, nil
}
