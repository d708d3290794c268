package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/internal/config"
	"github.com/xkilldash9x/keybridge/internal/settings"
	"github.com/xkilldash9x/keybridge/internal/store"
)

// ErrNoStore is returned when the postgres settings backend is selected
// without a database store.
var ErrNoStore = errors.New("postgres settings backend requires a database store")

// NewPoolConfig parses url and applies the pool limits keybridge runs with.
func NewPoolConfig(url string) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	// One session touches the database a handful of times per round.
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	return poolConfig, nil
}

// InitializeStore connects to the database, verifies the connection and
// applies the schema. The caller owns the returned pool.
func InitializeStore(ctx context.Context, url string, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	poolConfig, err := NewPoolConfig(url)
	if err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	dbStore, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := dbStore.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Debug("Database store initialized.")
	return dbStore, pool, nil
}

// NewSettingsBackend selects the persistence for user settings. dbStore may
// be nil when the file backend is configured.
func NewSettingsBackend(cfg config.SettingsConfig, dbStore settings.Repository) (settings.Backend, error) {
	switch cfg.Backend {
	case config.SettingsBackendFile, "":
		path, err := cfg.ResolvedPath()
		if err != nil {
			return nil, err
		}
		return settings.NewFileBackend(path), nil
	case config.SettingsBackendPostgres:
		if dbStore == nil {
			return nil, ErrNoStore
		}
		return settings.NewDBBackend(dbStore, cfg.Profile), nil
	default:
		return nil, fmt.Errorf("unknown settings backend %q", cfg.Backend)
	}
}

// InitializeSettings creates the settings store and starts loading it in
// the background. Rounds wait for the load through OnLoaded.
func InitializeSettings(ctx context.Context, cfg config.SettingsConfig, dbStore settings.Repository, logger *zap.Logger) (*settings.Store, error) {
	backend, err := NewSettingsBackend(cfg, dbStore)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings backend: %w", err)
	}
	st := settings.NewStore(logger, backend, cfg.Defaults)
	st.Start(context.WithoutCancel(ctx))
	return st, nil
}
