package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ammiranda/treestore/config"
)

// Open builds the store selected by cfg. Postgres settings are read from provider.
func Open(ctx context.Context, cfg *config.StoreConfig, provider config.Provider, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	case config.DriverPostgres, config.DriverPGX:
		dbCfg, err := config.GetDatabaseConfig(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("failed to get database config: %w", err)
		}
		return NewPostgresStore(ctx, dbCfg, cfg.Driver, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
