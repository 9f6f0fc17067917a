package cryptox

import (
	"encoding/hex"
	"sync"

	"github.com/calcwerk/vaultcore/internal/shared"
)

// keyCacheLimit bounds how many derived keys stay in memory at once,
// limiting the exposure window if memory is inspected.
const keyCacheLimit = 10

// keyCache is a bounded map from hex(salt) to derived key with explicit
// insertion-order tracking; when full, the oldest entry is evicted and wiped.
type keyCache struct {
	mu    sync.Mutex
	limit int
	keys  map[string][]byte
	order []string
}

func newKeyCache(limit int) *keyCache {
	return &keyCache{
		limit: limit,
		keys:  make(map[string][]byte, limit),
	}
}

func (c *keyCache) get(salt []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.keys[hex.EncodeToString(salt)]
	return k, ok
}

func (c *keyCache) put(salt, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := hex.EncodeToString(salt)
	if _, ok := c.keys[id]; ok {
		c.keys[id] = key
		return
	}

	if len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		shared.WipeByteArray(c.keys[oldest])
		delete(c.keys, oldest)
	}

	c.keys[id] = key
	c.order = append(c.order, id)
}

func (c *keyCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (c *keyCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, k := range c.keys {
		shared.WipeByteArray(k)
		delete(c.keys, id)
	}
	c.order = c.order[:0]
}
