package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcodeseq/internal/config"
	"barcodeseq/internal/core/sequence"
)

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name       string
		cfg        config.StoreConfig
		migratable bool
	}{
		{"memory", config.StoreConfig{Driver: config.DriverMemory}, false},
		{"file", config.StoreConfig{Driver: config.DriverFile, SequenceFile: filepath.Join(dir, "seq.json")}, false},
		{"sqlite", config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(dir, "seq.db")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Open(ctx, tt.cfg)
			require.NoError(t, err)
			defer h.Close()

			assert.Equal(t, tt.cfg.Driver, h.Driver)
			require.NoError(t, h.Store.Ping(ctx))

			setter, ok := h.Setter()
			require.True(t, ok)
			require.NoError(t, setter.Set(ctx, sequence.SimpleKey("LOT"), 7))

			rec, err := h.Store.Get(ctx, sequence.SimpleKey("LOT"))
			require.NoError(t, err)
			assert.Equal(t, 7, rec.LastNumber)

			lister, ok := h.Lister()
			require.True(t, ok)
			recs, err := lister.List(ctx)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, sequence.SimpleKey("LOT"), recs[0].Key)

			if tt.migratable {
				assert.NoError(t, h.Migrate(ctx))
			} else {
				assert.ErrorIs(t, h.Migrate(ctx), ErrNoMigrations)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}
