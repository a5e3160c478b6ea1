// Package storage opens the sequence store selected by configuration.
package storage

import (
	"context"
	"errors"
	"fmt"

	"barcodeseq/internal/config"
	"barcodeseq/internal/core/sequence"
	"barcodeseq/internal/infrastructure/storage/file"
	"barcodeseq/internal/infrastructure/storage/postgres"
	"barcodeseq/internal/infrastructure/storage/redisstore"
	"barcodeseq/internal/infrastructure/storage/sqlite"
)

// ErrNoMigrations is returned by Migrate for drivers without a schema.
var ErrNoMigrations = errors.New("driver has no schema to migrate")

// Handle is an opened sequence store with its lifecycle hooks.
type Handle struct {
	Store  sequence.Store
	Driver string

	// Info reports backend details for /health/info; may be nil.
	Info func() map[string]any

	migrate func(ctx context.Context) error
	close   func() error
}

// Setter returns the store's force-set capability, if any.
func (h *Handle) Setter() (sequence.Setter, bool) {
	s, ok := h.Store.(sequence.Setter)
	return s, ok
}

// Lister returns the store's enumeration capability, if any.
func (h *Handle) Lister() (sequence.Lister, bool) {
	l, ok := h.Store.(sequence.Lister)
	return l, ok
}

// Migrate applies the backend schema.
func (h *Handle) Migrate(ctx context.Context) error {
	if h.migrate == nil {
		return ErrNoMigrations
	}
	return h.migrate(ctx)
}

// Close releases the backend.
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects to the configured backend. Relational backends get their
// schema applied on open.
func Open(ctx context.Context, cfg config.StoreConfig) (*Handle, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, err
		}
		store := postgres.NewSequenceStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &Handle{
			Store:   store,
			Driver:  cfg.Driver,
			Info:    pool.Stats,
			migrate: store.Migrate,
			close:   func() error { pool.Close(); return nil },
		}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Handle{
			Store:   store,
			Driver:  cfg.Driver,
			Info:    func() map[string]any { return map[string]any{"path": cfg.SQLitePath} },
			migrate: store.Migrate,
			close:   store.Close,
		}, nil

	case config.DriverRedis:
		store, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &Handle{
			Store:  store,
			Driver: cfg.Driver,
			Info:   func() map[string]any { return map[string]any{"addr": cfg.RedisAddr} },
			close:  store.Close,
		}, nil

	case config.DriverFile:
		store, err := file.OpenSequenceStore(cfg.SequenceFile)
		if err != nil {
			return nil, err
		}
		return &Handle{
			Store:  store,
			Driver: cfg.Driver,
			Info:   func() map[string]any { return map[string]any{"path": cfg.SequenceFile} },
		}, nil

	case config.DriverMemory:
		return &Handle{Store: sequence.NewMemoryStore(), Driver: cfg.Driver}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
