package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ammiranda/treestore/models"
)

// MockCache is a cache provider that can be used for testing
type MockCache struct {
	mu              sync.RWMutex
	data            map[Key]*models.TreeNode
	ttl             time.Duration
	expiry          time.Time
	GetTreeCalls    int
	SetTreeCalls    int
	InvalidateCalls int
	SetTTLCalls     int
	InitCalls       int
	Hits            int
	ShouldFail      bool
}

// NewMockCache creates a new mock cache provider
func NewMockCache() *MockCache {
	return &MockCache{
		ttl:  DefaultTTL,
		data: make(map[Key]*models.TreeNode),
	}
}

// Initialize performs any necessary setup for the cache provider
func (c *MockCache) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InitCalls++
	if c.ShouldFail {
		return ErrCacheInitialization
	}
	return nil
}

// GetTree retrieves a tree from cache if available
func (c *MockCache) GetTree(ctx context.Context, key Key) (*models.TreeNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetTreeCalls++

	if c.ShouldFail || time.Now().After(c.expiry) {
		return nil, false
	}
	tree, ok := c.data[key]
	if ok {
		c.Hits++
	}
	return tree, ok
}

// SetTree stores a tree in cache
func (c *MockCache) SetTree(ctx context.Context, key Key, tree *models.TreeNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetTreeCalls++

	if !c.ShouldFail {
		c.data[key] = tree
		c.expiry = time.Now().Add(c.ttl)
	}
}

// InvalidateCache removes every cached tree
func (c *MockCache) InvalidateCache(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InvalidateCalls++

	if !c.ShouldFail {
		c.data = make(map[Key]*models.TreeNode)
		c.expiry = time.Time{}
	}
}

// SetCacheTTL sets the cache time-to-live duration
func (c *MockCache) SetCacheTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetTTLCalls++

	if !c.ShouldFail {
		c.ttl = ttl
		if len(c.data) > 0 {
			c.expiry = time.Now().Add(ttl)
		}
	}
}

// Reset resets all counters and state
func (c *MockCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetTreeCalls = 0
	c.SetTreeCalls = 0
	c.InvalidateCalls = 0
	c.SetTTLCalls = 0
	c.InitCalls = 0
	c.Hits = 0
	c.ShouldFail = false
	c.data = make(map[Key]*models.TreeNode)
	c.expiry = time.Time{}
}

// GetCallCounts returns the number of times each method was called
func (c *MockCache) GetCallCounts() (getTree, setTree, invalidate, setTTL, init int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.GetTreeCalls, c.SetTreeCalls, c.InvalidateCalls, c.SetTTLCalls, c.InitCalls
}

// HitCount returns the number of GetTree calls answered from cache
func (c *MockCache) HitCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Hits
}

// SetShouldFail makes the mock cache fail all operations
func (c *MockCache) SetShouldFail(shouldFail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ShouldFail = shouldFail
}

// ErrCacheInitialization is returned when the mock cache is configured to fail
var ErrCacheInitialization = errors.New("mock cache initialization failed")
