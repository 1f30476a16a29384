package contract

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// Validation cache bounds. A cached entry skips signature verification
// until it expires, so a revoked key stops working within the TTL.
const (
	DefaultValidationCacheSize = 1_000_000
	DefaultValidationCacheTTL  = 7 * 24 * time.Hour
)

// KeyResolver resolves the validator of an entity's key.
type KeyResolver interface {
	Validator(ctx context.Context, entityID string, keyVersion uint32) (identity.Validator, error)
}

// Instance is a loaded contract bound to the identity that registered it.
type Instance struct {
	entry   *Entry
	binding Binding
	m       *Manager
}

// Entry returns the registration the instance was loaded from.
func (i *Instance) Entry() *Entry { return i.entry }

// Encoding returns the contract's encoding.
func (i *Instance) Encoding() Encoding { return i.binding.encoding }

// Invoke runs the contract against view and returns its encoded result.
// Legacy contracts receive the request nonce inside their argument object.
func (i *Instance) Invoke(ctx context.Context, view ledger.View, argument request.Argument, properties string) ([]byte, error) {
	raw := []byte(argument.Raw)
	if i.binding.encoding == EncodingLegacy && !argument.Legacy {
		var err error
		if raw, err = withNonce(raw, argument.Nonce); err != nil {
			return nil, status.Wrap(status.InvalidRequest, err, "contract %q argument", i.entry.ID)
		}
	}
	inv := &invocation{
		contractID: i.entry.ID,
		view:       view,
		resolve:    i.m.resolve,
	}
	return i.binding.run(ctx, inv, raw, []byte(properties))
}

func withNonce(raw []byte, nonce string) ([]byte, error) {
	obj := Object{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
	}
	if _, ok := obj["nonce"]; !ok {
		obj["nonce"] = nonce
	}
	return json.Marshal(obj)
}

// Manager registers contracts and loads them for execution.
type Manager struct {
	reg       *storage.Registry[Entry]
	catalog   *Catalog
	keys      KeyResolver
	validated *expirable.LRU[string, *Instance]
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	cacheSize int
	cacheTTL  time.Duration
}

// WithValidationCache overrides the validation cache bounds.
func WithValidationCache(size int, ttl time.Duration) Option {
	return func(o *managerOptions) {
		o.cacheSize, o.cacheTTL = size, ttl
	}
}

// NewManager creates a Manager storing entries in store.
func NewManager(store storage.Manager, catalog *Catalog, keys KeyResolver, logger *zap.Logger, opts ...Option) *Manager {
	o := managerOptions{cacheSize: DefaultValidationCacheSize, cacheTTL: DefaultValidationCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		reg:       storage.NewRegistry[Entry](store, "contract"),
		catalog:   catalog,
		keys:      keys,
		validated: expirable.NewLRU[string, *Instance](o.cacheSize, nil, o.cacheTTL),
		now:       time.Now,
		logger:    logger,
	}
}

// Register validates and stores a contract registration. The signature is
// checked against the registering key and the payload must load.
//
// Registration is a lookup followed by an insert. Two concurrent
// registrations of the same id race: the loser fails with CONFLICT rather
// than CONTRACT_ALREADY_REGISTERED.
func (m *Manager) Register(ctx context.Context, req *request.ContractRegistration) (*Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Wrap(status.InvalidRequest, err, "contract registration")
	}
	entry := EntryFromRequest(req, m.now())

	if _, err := m.Get(ctx, entry.ID); err == nil {
		return nil, status.New(status.ContractAlreadyRegistered, "contract %q is already registered", entry.ID)
	} else if !status.Is(err, status.ContractNotFound) {
		return nil, err
	}

	if err := m.verify(ctx, entry); err != nil {
		return nil, err
	}
	if _, err := m.load(entry); err != nil {
		return nil, err
	}

	err := m.reg.Insert(ctx, entry.ID, *entry)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return nil, status.New(status.ContractAlreadyRegistered, "contract %q is already registered", entry.ID)
	case storage.IsConflict(err):
		return nil, status.Wrap(status.Conflict, err, "register contract %q", entry.ID)
	case err != nil:
		return nil, status.Wrap(status.DatabaseError, err, "register contract %q", entry.ID)
	}
	m.logger.Info("contract registered",
		zap.String("contract_id", entry.ID),
		zap.String("binary_name", entry.BinaryName),
		zap.String("entity_id", entry.EntityID),
		zap.Uint32("key_version", entry.KeyVersion),
	)
	return entry, nil
}

// Get returns the entry registered under id.
func (m *Manager) Get(ctx context.Context, id string) (*Entry, error) {
	entry, err := m.reg.Lookup(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Wrap(status.ContractNotFound, ErrNotFound, "contract %q", id)
	}
	if err != nil {
		return nil, status.Wrap(status.DatabaseError, err, "look up contract %q", id)
	}
	return &entry, nil
}

// List returns every registered entry in id order.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	entries, err := m.reg.List(ctx)
	if err != nil {
		return nil, status.Wrap(status.DatabaseError, err, "list contracts")
	}
	return entries, nil
}

// Instance loads entry after checking its registration signature. A
// successful check is cached for the validation cache TTL.
func (m *Manager) Instance(ctx context.Context, entry *Entry) (*Instance, error) {
	if inst, ok := m.validated.Get(entry.cacheKey()); ok {
		return inst, nil
	}
	if err := m.verify(ctx, entry); err != nil {
		if status.Is(err, status.InvalidSignature) {
			return nil, status.Wrap(status.InvalidContract, err, "contract %q", entry.ID)
		}
		return nil, err
	}
	inst, err := m.load(entry)
	if err != nil {
		return nil, err
	}
	m.validated.Add(entry.cacheKey(), inst)
	return inst, nil
}

func (m *Manager) verify(ctx context.Context, entry *Entry) error {
	v, err := m.keys.Validator(ctx, entry.EntityID, entry.KeyVersion)
	if err != nil {
		return err
	}
	return v.Verify(entry.SigningBytes(), entry.Signature)
}

func (m *Manager) load(entry *Entry) (*Instance, error) {
	factory, ok := m.catalog.Lookup(entry.BinaryName)
	if !ok {
		return nil, status.New(status.UnloadableContract, "binary %q is not in the catalog", entry.BinaryName)
	}
	b, err := factory(entry.Payload)
	if err != nil {
		return nil, status.Wrap(status.UnloadableContract, err, "load contract %q", entry.ID)
	}
	if b.run == nil {
		return nil, status.New(status.UnloadableContract, "binary %q produced an empty binding", entry.BinaryName)
	}
	return &Instance{entry: entry, binding: b, m: m}, nil
}

// resolve loads a sub-call target without checking its signature again.
func (m *Manager) resolve(ctx context.Context, id string) (*Instance, error) {
	entry, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst, ok := m.validated.Get(entry.cacheKey()); ok {
		return inst, nil
	}
	return m.load(entry)
}
