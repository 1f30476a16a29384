package identity

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// SecretEntry is a registered HMAC secret. Secret holds the sealed bytes
// when Sealed is set.
type SecretEntry struct {
	EntityID     string    `json:"entity_id"`
	KeyVersion   uint32    `json:"key_version"`
	Secret       []byte    `json:"secret"`
	Sealed       bool      `json:"sealed,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// SecretManager registers HMAC secrets and serves validators built from them.
type SecretManager struct {
	reg    *storage.Registry[SecretEntry]
	cache  *expirable.LRU[KeyID, Validator]
	sealer *Sealer
	now    func() time.Time
	logger *zap.Logger
}

// NewSecretManager creates a SecretManager over store. With a non-nil
// sealer, secrets are encrypted before they are stored.
func NewSecretManager(store storage.Manager, cache CacheConfig, sealer *Sealer, logger *zap.Logger) *SecretManager {
	return &SecretManager{
		reg:    storage.NewRegistry[SecretEntry](store, "secret"),
		cache:  newValidatorCache(cache),
		sealer: sealer,
		now:    time.Now,
		logger: logger,
	}
}

// Register stores secret under id. A key that is already registered is
// never replaced.
func (m *SecretManager) Register(ctx context.Context, id KeyID, secret string) error {
	if id.EntityID == "" || id.KeyVersion == 0 {
		return status.New(status.InvalidRequest, "entity id and a positive key version are required")
	}
	if secret == "" {
		return status.New(status.UnloadableKey, "empty secret")
	}

	entry := SecretEntry{
		EntityID:     id.EntityID,
		KeyVersion:   id.KeyVersion,
		Secret:       []byte(secret),
		RegisteredAt: m.now().UTC(),
	}
	if m.sealer != nil {
		sealed, err := m.sealer.Seal(entry.Secret)
		if err != nil {
			return status.Wrap(status.RuntimeError, err, "seal secret %s", id)
		}
		entry.Secret, entry.Sealed = sealed, true
	}

	err := m.reg.Insert(ctx, id.String(), entry)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return status.New(status.SecretAlreadyRegistered, "secret %s is already registered", id)
	case storage.IsConflict(err):
		return status.Wrap(status.Conflict, err, "register secret %s", id)
	case err != nil:
		return status.Wrap(status.DatabaseError, err, "register secret %s", id)
	}
	m.logger.Info("secret registered", zap.String("entity_id", id.EntityID), zap.Uint32("key_version", id.KeyVersion))
	return nil
}

// Validator returns a cached validator for id, loading it on a miss.
func (m *SecretManager) Validator(ctx context.Context, id KeyID) (Validator, error) {
	if v, ok := m.cache.Get(id); ok {
		return v, nil
	}
	entry, err := m.reg.Lookup(ctx, id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.New(status.SecretNotFound, "secret %s is not registered", id)
	}
	if err != nil {
		return nil, status.Wrap(status.DatabaseError, err, "look up secret %s", id)
	}

	secret := entry.Secret
	if entry.Sealed {
		if m.sealer == nil {
			return nil, status.New(status.UnloadableKey, "secret %s is sealed and no sealer is configured", id)
		}
		if secret, err = m.sealer.Open(secret); err != nil {
			return nil, status.Wrap(status.UnloadableKey, err, "unseal secret %s", id)
		}
	}
	v, err := NewHMACValidator(secret)
	if err != nil {
		return nil, err
	}
	m.cache.Add(id, v)
	return v, nil
}
