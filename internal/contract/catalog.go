package contract

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a contract from a registration payload. It must reject a
// payload it cannot run; registration calls it once to check loadability.
type Factory func(payload []byte) (Binding, error)

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
		return fmt.Errorf("binary %q is already in the catalog", name)
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

// Static returns a factory that ignores the payload.
func Static(b Binding) Factory {
	return func([]byte) (Binding, error) { return b, nil }
}
