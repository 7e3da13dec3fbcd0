package codetype

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/skdltmxn/dbgsym/symbol"
)

type typeKey struct {
	owner *Module
	id    symbol.TypeID
}

type nameKey struct {
	owner *Module
	name  string
}

// Cache holds resolved CodeTypes. One cache may be shared by the modules of
// a session; each entry is keyed by its owning Module. Resolution of a key
// runs at most once at a time, and successful results are kept until the
// owning module is closed or the cache is purged.
type Cache struct {
	mu    sync.RWMutex
	types map[typeKey]*CodeType
	names map[nameKey]symbol.TypeID
	group singleflight.Group
}

// NewCache creates an empty cache. sizeHint preallocates room for that
// many types.
func NewCache(sizeHint int) *Cache {
	return &Cache{
		types: make(map[typeKey]*CodeType, max(sizeHint, 0)),
		names: make(map[nameKey]symbol.TypeID),
	}
}

func (c *Cache) cachedType(k typeKey) (*CodeType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[k]
	return t, ok
}

func (c *Cache) cachedName(k nameKey) (symbol.TypeID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.names[k]
	return id, ok
}

func (c *Cache) typeByID(k typeKey, resolve func() (*CodeType, error)) (*CodeType, error) {
	if t, ok := c.cachedType(k); ok {
		return t, nil
	}
	v, err, _ := c.group.Do(fmt.Sprintf("id:%p:%d", k.owner, k.id), func() (any, error) {
		if t, ok := c.cachedType(k); ok {
			return t, nil
		}
		t, err := resolve()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.types[k] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CodeType), nil
}

func (c *Cache) typeID(k nameKey, resolve func() (symbol.TypeID, error)) (symbol.TypeID, error) {
	if id, ok := c.cachedName(k); ok {
		return id, nil
	}
	v, err, _ := c.group.Do(fmt.Sprintf("name:%p:%s", k.owner, k.name), func() (any, error) {
		if id, ok := c.cachedName(k); ok {
			return id, nil
		}
		id, err := resolve()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.names[k] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(symbol.TypeID), nil
}

// Len returns the number of cached types.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.types)
	clear(c.names)
}

func (c *Cache) evict(owner *Module) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.types {
		if k.owner == owner {
			delete(c.types, k)
			n++
		}
	}
	for k := range c.names {
		if k.owner == owner {
			delete(c.names, k)
		}
	}
	return n
}
