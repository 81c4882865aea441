package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ammiranda/treestore/models"
)

type memoryEntry struct {
	tree   *models.TreeNode
	expiry time.Time
}

// MemoryCache implements CacheProvider using in-memory storage. A tree read after a
// miss is dropped by SetTree when an invalidation happened in between.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[Key]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	epoch  uint64
	missed map[Key]uint64
}

// NewMemoryCache creates a new in-memory cache provider
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		ttl:     DefaultTTL,
		entries: make(map[Key]memoryEntry),
		now:     time.Now,
		missed:  make(map[Key]uint64),
	}
}

// Initialize performs any necessary setup for the cache provider
func (c *MemoryCache) Initialize(ctx context.Context) error {
	return nil
}

// GetTree retrieves a tree from cache if available
func (c *MemoryCache) GetTree(ctx context.Context, key Key) (*models.TreeNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiry) {
		c.missed[key] = c.epoch
		return nil, false
	}
	return entry.tree, true
}

// SetTree stores a tree in cache
func (c *MemoryCache) SetTree(ctx context.Context, key Key, tree *models.TreeNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	epoch, ok := c.missed[key]
	delete(c.missed, key)
	if ok && epoch != c.epoch {
		return
	}
	c.entries[key] = memoryEntry{tree: tree, expiry: c.now().Add(c.ttl)}
}

// InvalidateCache removes all cached trees
func (c *MemoryCache) InvalidateCache(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]memoryEntry)
	c.epoch++
}

// SetCacheTTL sets the cache time-to-live duration
func (c *MemoryCache) SetCacheTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ttl = ttl
	// Update all existing expiries
	now := c.now()
	for key, entry := range c.entries {
		entry.expiry = now.Add(ttl)
		c.entries[key] = entry
	}
}
