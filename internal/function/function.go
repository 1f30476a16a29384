// Package function runs side-effecting functions next to a contract
// execution.
//
// A function writes to a plain mutable database of tables, never to the
// asset ledger. Its writes go through the same storage transaction as the
// ledger writes of the execution, so both commit or neither does. Function
// output is not hash-chained and is not replayed by validation.
package function

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Function is a side effect bound to a contract execution.
type Function interface {
	Invoke(ctx context.Context, db *Database, functionArgument, contractArgument, properties string) (string, error)
}

// Func adapts a function value to Function.
type Func func(ctx context.Context, db *Database, functionArgument, contractArgument, properties string) (string, error)

// Invoke implements Function.
func (f Func) Invoke(ctx context.Context, db *Database, functionArgument, contractArgument, properties string) (string, error) {
	return f(ctx, db, functionArgument, contractArgument, properties)
}

// Entry is a registered function.
type Entry struct {
	ID           string    `json:"id"`
	BinaryName   string    `json:"binary_name"`
	Payload      []byte    `json:"payload,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Factory builds a function from a registration payload.
type Factory func(payload []byte) (Function, error)

// Catalog maps binary names to factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Add registers f under name.
func (c *Catalog) Add(name string, f Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[name]; ok {
		return fmt.Errorf("function binary %q is already in the catalog", name)
	}
	c.factories[name] = f
	return nil
}

// MustAdd is Add that panics on a duplicate name.
func (c *Catalog) MustAdd(name string, f Factory) {
	if err := c.Add(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func (c *Catalog) Lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Names returns the binary names in ascending order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for n := range c.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
