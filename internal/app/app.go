// Package app assembles a running tree service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ammiranda/treestore/cache"
	"github.com/ammiranda/treestore/config"
	"github.com/ammiranda/treestore/handlers"
	"github.com/ammiranda/treestore/metrics"
	"github.com/ammiranda/treestore/repository"
	"github.com/ammiranda/treestore/store"
	"github.com/ammiranda/treestore/strategy"
)

// App holds the wired components of the service
type App struct {
	Store      store.Store
	Strategy   strategy.Strategy
	Repository *repository.TreeRepository
	Cache      cache.CacheProvider
	Registry   *prometheus.Registry
	Logger     *slog.Logger
}

// NewLogger builds a JSON logger writing to stderr at the level named by LOG_LEVEL
func NewLogger(provider config.Provider) *slog.Logger {
	level := slog.LevelInfo
	raw, err := provider.GetString(context.Background(), "LOG_LEVEL")
	if err == nil {
		if err := level.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
			level = slog.LevelInfo
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Options tweak New
type Options struct {
	// WithoutCache skips the cache configuration entirely
	WithoutCache bool
	// Cache replaces the configured cache
	Cache cache.CacheProvider
}

// New reads the store, tree and cache configuration from provider and wires the service
func New(ctx context.Context, provider config.Provider, logger *slog.Logger, opts Options) (*App, error) {
	treeCfg, err := config.GetTreeConfig(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree config: %w", err)
	}
	storeCfg, err := config.GetStoreConfig(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get store config: %w", err)
	}

	kind, err := strategy.ParseKind(treeCfg.Strategy)
	if err != nil {
		return nil, err
	}
	st, err := strategy.New(kind, strategy.Layout{
		NodeTable:     treeCfg.NodeTable,
		ClosureTable:  treeCfg.ClosureTable,
		PathDelimiter: treeCfg.PathDelimiter,
	}, strategy.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var c cache.CacheProvider = cache.NopCache{}
	switch {
	case opts.Cache != nil:
		c = opts.Cache
	case !opts.WithoutCache:
		cacheCfg, err := config.GetCacheConfig(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("failed to get cache config: %w", err)
		}
		if c, err = cache.New(ctx, cacheCfg, logger); err != nil {
			return nil, err
		}
	}

	s, err := store.Open(ctx, storeCfg, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", storeCfg.Driver, err)
	}

	reg := prometheus.NewRegistry()
	repo := repository.New(s, st,
		repository.WithLogger(logger),
		repository.WithMetrics(metrics.NewPrometheus(reg)),
	)

	logger.Info("tree service ready",
		"strategy", string(kind),
		"store", storeCfg.Driver,
		"environment", string(provider.GetEnvironment()),
	)
	return &App{
		Store:      s,
		Strategy:   st,
		Repository: repo,
		Cache:      c,
		Registry:   reg,
		Logger:     logger,
	}, nil
}

// Router returns the gin engine serving the API and /metrics
func (a *App) Router() *gin.Engine {
	h := handlers.NewTreeHandler(a.Repository, a.Cache, a.Logger)
	return handlers.NewRouter(h, metrics.Handler(a.Registry), a.Logger)
}

// Handler is Router as a plain http.Handler
func (a *App) Handler() http.Handler {
	return a.Router()
}

// Close releases the store
func (a *App) Close() error {
	return a.Store.Close()
}
