package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcodeseq/internal/core/sequence"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sequences.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestStore_CompareAndSet(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	key := sequence.SimpleKey("LOT")

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, sequence.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, key, 0, 3))
	assert.ErrorIs(t, store.Upsert(ctx, key, 0, 7), sequence.ErrConflict)
	assert.ErrorIs(t, store.Upsert(ctx, key, 1, 7), sequence.ErrConflict)
	require.NoError(t, store.Upsert(ctx, key, 3, 5))

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, 5, rec.LastNumber)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestStore_Highest(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sequence.CompoundKey("BX", "12", sequence.ModeNight, 5), 0, 999))
	require.NoError(t, store.Upsert(ctx, sequence.CompoundKey("BX", "12", sequence.ModeNight, 6), 0, 4))
	require.NoError(t, store.Upsert(ctx, sequence.CompoundKey("BX", "12", sequence.ModeDay, 3), 0, 9))

	rec, err := store.Highest(ctx, "BX", "12", sequence.ModeNight)
	require.NoError(t, err)
	assert.Equal(t, sequence.CompoundKey("BX", "12", sequence.ModeNight, 6), rec.Key)
	assert.Equal(t, 4, rec.LastNumber)

	rec, err = store.Highest(ctx, "BX", "12", sequence.ModeDay)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Key.Slot)

	_, err = store.Highest(ctx, "BX", "99", sequence.ModeDay)
	assert.ErrorIs(t, err, sequence.ErrNotFound)
}

func TestStore_List(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	lot := sequence.SimpleKey("LOT")
	bx := sequence.CompoundKey("BX", "12", sequence.ModeNight, 6)
	require.NoError(t, store.Upsert(ctx, lot, 0, 3))
	require.NoError(t, store.Upsert(ctx, bx, 0, 4))

	recs, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, lot, recs[0].Key)
	assert.Equal(t, 3, recs[0].LastNumber)
	assert.Equal(t, bx, recs[1].Key)
	assert.Equal(t, 4, recs[1].LastNumber)
}

func TestStore_RejectsOutOfRangeValues(t *testing.T) {
	store, _ := openTestStore(t)
	err := store.Upsert(context.Background(), sequence.SimpleKey("LOT"), 0, 1000)
	require.Error(t, err)
	assert.NotErrorIs(t, err, sequence.ErrConflict)
}

func TestStore_SetAndReopen(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()
	key := sequence.CompoundKey("P", "7", sequence.ModeDay, 2)

	require.NoError(t, store.Set(ctx, key, 997))
	require.NoError(t, store.Set(ctx, key, 10))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.LastNumber)
	require.NoError(t, reopened.Ping(ctx))
}
