package config

import (
	"context"
	"regexp"
	"time"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

// Tree strategies, matching strategy.Kind values
var treeStrategies = map[string]bool{
	"adjacency":         true,
	"closure":           true,
	"nested_set":        true,
	"materialized_path": true,
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TreeConfig selects the storage strategy and its table layout
type TreeConfig struct {
	Strategy      string
	NodeTable     string
	ClosureTable  string
	PathDelimiter string
}

// DefaultTreeConfig returns the configuration used when nothing is set
func DefaultTreeConfig() *TreeConfig {
	return &TreeConfig{
		Strategy:      "adjacency",
		NodeTable:     "tree_nodes",
		ClosureTable:  "tree_closure",
		PathDelimiter: "/",
	}
}

// Validate checks the tree configuration
func (c *TreeConfig) Validate() error {
	if !treeStrategies[c.Strategy] {
		return &ValidationError{Field: "Strategy", Message: "unknown tree strategy " + c.Strategy}
	}
	if !identifierPattern.MatchString(c.NodeTable) {
		return &ValidationError{Field: "NodeTable", Message: "table name must be a plain SQL identifier"}
	}
	if !identifierPattern.MatchString(c.ClosureTable) {
		return &ValidationError{Field: "ClosureTable", Message: "table name must be a plain SQL identifier"}
	}
	if c.NodeTable == c.ClosureTable {
		return &ValidationError{Field: "ClosureTable", Message: "closure table must differ from node table"}
	}
	if c.PathDelimiter == "" {
		return &ValidationError{Field: "PathDelimiter", Message: "path delimiter cannot be empty"}
	}
	return nil
}

// GetTreeConfig reads TREE_* keys, falling back to DefaultTreeConfig
func GetTreeConfig(ctx context.Context, provider Provider) (*TreeConfig, error) {
	def := DefaultTreeConfig()
	cfg := &TreeConfig{
		Strategy:      stringOr(ctx, provider, "TREE_STRATEGY", def.Strategy),
		NodeTable:     stringOr(ctx, provider, "TREE_NODE_TABLE", def.NodeTable),
		ClosureTable:  stringOr(ctx, provider, "TREE_CLOSURE_TABLE", def.ClosureTable),
		PathDelimiter: stringOr(ctx, provider, "TREE_PATH_DELIMITER", def.PathDelimiter),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StoreConfig selects the backing store
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

// Validate checks the store configuration
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverPGX:
		return nil
	default:
		return &ValidationError{Field: "Driver", Message: "unsupported store driver " + c.Driver}
	}
}

// GetStoreConfig reads STORE_DRIVER and SQLITE_PATH. The driver defaults to sqlite3.
func GetStoreConfig(ctx context.Context, provider Provider) (*StoreConfig, error) {
	cfg := &StoreConfig{
		Driver:     stringOr(ctx, provider, "STORE_DRIVER", DriverSQLite),
		SQLitePath: stringOr(ctx, provider, "SQLITE_PATH", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Cache backends
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CacheDynamoDB = "dynamodb"
)

// CacheConfig selects the assembled-tree cache
type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	DynamoDBTable string
}

// GetCacheConfig reads CACHE_* keys. Without CACHE_BACKEND, a set REDIS_HOST selects redis,
// otherwise the in-memory cache is used.
func GetCacheConfig(ctx context.Context, provider Provider) (*CacheConfig, error) {
	cfg := &CacheConfig{
		TTL:           5 * time.Minute,
		RedisAddr:     stringOr(ctx, provider, "REDIS_HOST", "localhost") + ":" + stringOr(ctx, provider, "REDIS_PORT", "6379"),
		DynamoDBTable: stringOr(ctx, provider, "DYNAMODB_TABLE", "tree-cache"),
	}

	backend := stringOr(ctx, provider, "CACHE_BACKEND", "")
	if backend == "" {
		backend = CacheMemory
		if _, err := provider.GetString(ctx, "REDIS_HOST"); err == nil {
			backend = CacheRedis
		}
	}
	cfg.Backend = backend

	if raw := stringOr(ctx, provider, "CACHE_TTL", ""); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return nil, &ValidationError{Field: "CACHE_TTL", Message: "ttl must be a positive duration"}
		}
		cfg.TTL = ttl
	}

	switch cfg.Backend {
	case CacheNone, CacheMemory, CacheRedis, CacheDynamoDB:
	default:
		return nil, &ValidationError{Field: "CACHE_BACKEND", Message: "unsupported cache backend " + cfg.Backend}
	}
	return cfg, nil
}
