package storage

import (
	"context"
	"fmt"
	"time"

	"carwatch/config"
	"carwatch/utils"
)

// Open connects to the configured store, waits for it to accept connections
// and runs migrations.
func Open(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*SQLStore, error) {
	var (
		store *SQLStore
		err   error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err = OpenPostgres(cfg.DSN())
	case config.DriverSQLite:
		store, err = OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	retry := &utils.RetryConfig{
		MaxAttempts: cfg.StoreConnectAttempts,
		BaseDelay:   500 * time.Millisecond,
		Logger:      logger,
	}
	if err := retry.Do(ctx, "store ping", func() error { return store.Ping(ctx) }); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("[storage] Connected to %s store", store.Dialect())
	return store, nil
}
