package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcodeseq/internal/core/sequence"
)

func TestStore_Keys(t *testing.T) {
	s := New(nil, "")

	assert.Equal(t, "barcodeseq:seq:LOT-", s.recordKey(sequence.SimpleKey("LOT")))
	assert.Equal(t, "barcodeseq:seq:BX:12:B:6", s.recordKey(sequence.CompoundKey("BX", "12", sequence.ModeNight, 6)))
	assert.Equal(t, "barcodeseq:slots:BX:12:B", s.slotsKey("BX", "12", sequence.ModeNight))
}

func TestDecode(t *testing.T) {
	key := sequence.SimpleKey("LOT")
	ts := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	rec, err := decode(key, map[string]string{"last_number": "17", "updated_at": ts.Format(time.RFC3339Nano)})
	require.NoError(t, err)
	assert.Equal(t, 17, rec.LastNumber)
	assert.True(t, ts.Equal(rec.UpdatedAt))

	_, err = decode(key, map[string]string{"last_number": "seventeen"})
	assert.Error(t, err)
}

// openTestStore connects to TEST_REDIS_ADDR under a namespace unique to the test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ns := fmt.Sprintf("barcodeseq-test-%d", time.Now().UnixNano())
	s, err := Open(context.Background(), Config{Addr: addr, Namespace: ns})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := s.client.Keys(ctx, ns+":*").Result()
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		_ = s.Close()
	})
	return s
}

func TestKeyOf(t *testing.T) {
	key, err := keyOf(map[string]string{"prefix": "BX", "week": "12", "mode": "B", "slot": "6"})
	require.NoError(t, err)
	assert.Equal(t, sequence.CompoundKey("BX", "12", sequence.ModeNight, 6), key)

	key, err = keyOf(map[string]string{"prefix": "LOT-", "week": "", "mode": "", "slot": "0"})
	require.NoError(t, err)
	assert.Equal(t, sequence.SimpleKey("LOT"), key)

	_, err = keyOf(map[string]string{"last_number": "3"})
	assert.Error(t, err)
	_, err = keyOf(map[string]string{"prefix": "BX", "slot": "six"})
	assert.Error(t, err)
}

func TestStore_List(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	lot := sequence.SimpleKey("LOT")
	bx := sequence.CompoundKey("BX", "12", sequence.ModeNight, 6)
	require.NoError(t, s.Upsert(ctx, lot, 0, 3))
	require.NoError(t, s.Set(ctx, bx, 4))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	got := map[sequence.Key]int{}
	for _, r := range recs {
		got[r.Key] = r.LastNumber
	}
	assert.Equal(t, map[sequence.Key]int{lot: 3, bx: 4}, got)
}

func TestStore_CompareAndSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := sequence.SimpleKey("LOT")

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, sequence.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, key, 0, 3))
	assert.ErrorIs(t, s.Upsert(ctx, key, 0, 3), sequence.ErrConflict)
	require.NoError(t, s.Upsert(ctx, key, 3, 5))

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.LastNumber)
}

func TestStore_Highest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sequence.CompoundKey("BX", "12", sequence.ModeNight, 5), 0, 999))
	require.NoError(t, s.Upsert(ctx, sequence.CompoundKey("BX", "12", sequence.ModeNight, 6), 0, 1))

	rec, err := s.Highest(ctx, "BX", "12", sequence.ModeNight)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Key.Slot)
	assert.Equal(t, 1, rec.LastNumber)

	_, err = s.Highest(ctx, "BX", "12", sequence.ModeDay)
	assert.ErrorIs(t, err, sequence.ErrNotFound)
}
