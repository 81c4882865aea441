package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ammiranda/treestore/models"
)

// keyPattern matches every tree written by RedisCache. redisGenerationKey counts
// invalidations and lies outside the pattern.
const (
	keyPattern         = "tree:*"
	redisGenerationKey = "tree-generation"
)

// RedisCache implements CacheProvider using Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	missed map[Key]int64
}

// NewRedisCache creates a new Redis cache provider for the server at addr
func NewRedisCache(addr string, logger *slog.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	return NewRedisCacheWithClient(client, logger)
}

// NewRedisCacheWithClient creates a new Redis cache provider with a custom client
func NewRedisCacheWithClient(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		ttl:    DefaultTTL,
		logger: logger,
		missed: make(map[Key]int64),
	}
}

// Initialize checks that the server answers
func (c *RedisCache) Initialize(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetTree retrieves a tree from cache if available
func (c *RedisCache) GetTree(ctx context.Context, key Key) (*models.TreeNode, bool) {
	gen, genErr := c.generation(ctx, c.client)
	data, err := c.client.Get(ctx, key.String()).Bytes()
	if err == nil {
		var tree models.TreeNode
		if err := json.Unmarshal(data, &tree); err == nil {
			return &tree, true
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("redis cache read failed", "key", key.String(), "error", err)
	}

	if genErr == nil {
		c.mu.Lock()
		c.missed[key] = gen
		c.mu.Unlock()
	}
	return nil, false
}

func (c *RedisCache) generation(ctx context.Context, cmd redis.Cmdable) (int64, error) {
	gen, err := cmd.Get(ctx, redisGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetTree stores a tree in cache
func (c *RedisCache) SetTree(ctx context.Context, key Key, tree *models.TreeNode) {
	data, err := json.Marshal(tree)
	if err != nil {
		return
	}

	c.mu.Lock()
	gen, ok := c.missed[key]
	delete(c.missed, key)
	c.mu.Unlock()

	if !ok {
		err = c.client.Set(ctx, key.String(), data, c.ttl).Err()
	} else {
		// only store the tree if no invalidation ran since the miss
		err = c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := c.generation(ctx, tx)
			if err != nil || current != gen {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key.String(), data, c.ttl)
				return nil
			})
			return err
		}, redisGenerationKey)
		if errors.Is(err, redis.TxFailedErr) {
			// invalidated while writing
			err = nil
		}
	}
	if err != nil {
		c.logger.Warn("redis cache write failed", "key", key.String(), "error", err)
	}
}

// InvalidateCache removes every cached tree
func (c *RedisCache) InvalidateCache(ctx context.Context) {
	if err := c.client.Incr(ctx, redisGenerationKey).Err(); err != nil {
		c.logger.Warn("redis cache generation bump failed", "error", err)
	}
	iter := c.client.Scan(ctx, 0, keyPattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis cache scan failed", "error", err)
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("redis cache invalidation failed", "error", err)
	}
}

// SetCacheTTL sets the cache time-to-live duration
func (c *RedisCache) SetCacheTTL(ttl time.Duration) {
	c.ttl = ttl
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
