package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ammiranda/treestore/config"
	"github.com/ammiranda/treestore/models"
)

// DefaultTTL is used until SetCacheTTL is called
const DefaultTTL = 5 * time.Minute

// Key identifies one cached tree
type Key struct {
	RootID         models.NodeID
	IncludeDeleted bool
}

func (k Key) String() string {
	view := "live"
	if k.IncludeDeleted {
		view = "all"
	}
	return fmt.Sprintf("tree:%s:%s", k.RootID, view)
}

// CacheProvider defines the interface for cache implementations.
// It caches assembled trees as returned by the repository's FindTree.
type CacheProvider interface {
	// GetTree retrieves a tree from cache if available.
	// Parameters:
	//   - ctx: Context for the operation
	//   - key: The root id and view of the tree
	// Returns:
	//   - The cached tree
	//   - A boolean indicating whether the tree was found in cache
	GetTree(ctx context.Context, key Key) (*models.TreeNode, bool)

	// SetTree stores a tree in cache.
	// Parameters:
	//   - ctx: Context for the operation
	//   - key: The root id and view of the tree
	//   - tree: The assembled tree to cache
	SetTree(ctx context.Context, key Key, tree *models.TreeNode)

	// InvalidateCache removes all cached trees.
	// Any structural change or soft delete can affect any cached tree, so callers
	// invalidate everything after a successful mutation.
	InvalidateCache(ctx context.Context)

	// SetCacheTTL sets the cache time-to-live duration.
	// Parameters:
	//   - ttl: The duration after which cached data should expire
	SetCacheTTL(ttl time.Duration)

	// Initialize performs any necessary setup for the cache provider.
	// This may include establishing connections, creating tables,
	// or any other initialization required for the cache to function.
	// Returns an error if initialization fails.
	Initialize(ctx context.Context) error
}

// New creates and initializes the cache selected by cfg
func New(ctx context.Context, cfg *config.CacheConfig, logger *slog.Logger) (CacheProvider, error) {
	var provider CacheProvider
	switch cfg.Backend {
	case config.CacheNone:
		provider = NopCache{}
	case config.CacheMemory:
		provider = NewMemoryCache()
	case config.CacheRedis:
		provider = NewRedisCache(cfg.RedisAddr, logger)
	case config.CacheDynamoDB:
		c, err := NewDynamoDBCache(ctx, cfg.DynamoDBTable, logger)
		if err != nil {
			return nil, err
		}
		provider = c
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}

	provider.SetCacheTTL(cfg.TTL)
	if err := provider.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s cache: %w", cfg.Backend, err)
	}
	return provider, nil
}

// NopCache never holds anything
type NopCache struct{}

func (NopCache) GetTree(context.Context, Key) (*models.TreeNode, bool) { return nil, false }
func (NopCache) SetTree(context.Context, Key, *models.TreeNode)        {}
func (NopCache) InvalidateCache(context.Context)                       {}
func (NopCache) SetCacheTTL(time.Duration)                             {}
func (NopCache) Initialize(context.Context) error                      { return nil }
