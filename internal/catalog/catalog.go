// Package catalog caches the sensor types available under a gateway for the
// duration of one discovery cycle.
package catalog

import "sync"

// Cache keeps the first non-empty catalog offered after a Reset. Later
// offers are ignored until the next Reset.
type Cache struct {
	mu    sync.Mutex
	types []string
}

func New() *Cache {
	return &Cache{types: []string{}}
}

func (c *Cache) Reset() {
	c.mu.Lock()
	c.types = []string{}
	c.mu.Unlock()
}

// Offer stores types if the cache is still empty and reports whether it did.
func (c *Cache) Offer(types []string) bool {
	if len(types) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.types) > 0 {
		return false
	}
	c.types = append([]string(nil), types...)
	return true
}

func (c *Cache) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.types))
	copy(out, c.types)
	return out
}
