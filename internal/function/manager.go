package function

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// Manager registers functions and loads them for execution.
type Manager struct {
	reg     *storage.Registry[Entry]
	catalog *Catalog
	now     func() time.Time
	logger  *zap.Logger
}

// NewManager creates a Manager storing entries in store.
func NewManager(store storage.Manager, catalog *Catalog, logger *zap.Logger) *Manager {
	return &Manager{
		reg:     storage.NewRegistry[Entry](store, "function"),
		catalog: catalog,
		now:     time.Now,
		logger:  logger,
	}
}

// Register stores a function registration after checking that it loads.
func (m *Manager) Register(ctx context.Context, req *request.FunctionRegistration) (*Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Wrap(status.InvalidRequest, err, "function registration")
	}
	entry := &Entry{
		ID:           req.FunctionID,
		BinaryName:   req.BinaryName,
		Payload:      append([]byte(nil), req.Payload...),
		RegisteredAt: m.now().UTC(),
	}
	if _, err := m.load(entry); err != nil {
		return nil, err
	}

	err := m.reg.Insert(ctx, entry.ID, *entry)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return nil, status.New(status.FunctionAlreadyRegistered, "function %q is already registered", entry.ID)
	case storage.IsConflict(err):
		return nil, status.Wrap(status.Conflict, err, "register function %q", entry.ID)
	case err != nil:
		return nil, status.Wrap(status.DatabaseError, err, "register function %q", entry.ID)
	}
	m.logger.Info("function registered",
		zap.String("function_id", entry.ID),
		zap.String("binary_name", entry.BinaryName),
	)
	return entry, nil
}

// Get returns the entry registered under id.
func (m *Manager) Get(ctx context.Context, id string) (*Entry, error) {
	entry, err := m.reg.Lookup(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.New(status.FunctionNotFound, "function %q is not registered", id)
	}
	if err != nil {
		return nil, status.Wrap(status.DatabaseError, err, "look up function %q", id)
	}
	return &entry, nil
}

// Instance loads the function registered under id.
func (m *Manager) Instance(ctx context.Context, id string) (Function, error) {
	entry, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.load(entry)
}

func (m *Manager) load(entry *Entry) (Function, error) {
	factory, ok := m.catalog.Lookup(entry.BinaryName)
	if !ok {
		return nil, status.New(status.UnloadableFunction, "function binary %q is not in the catalog", entry.BinaryName)
	}
	fn, err := factory(entry.Payload)
	if err != nil {
		return nil, status.Wrap(status.UnloadableFunction, err, "load function %q", entry.ID)
	}
	return fn, nil
}
