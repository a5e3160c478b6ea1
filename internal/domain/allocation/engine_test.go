package allocation

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"barcodeseq/internal/core/apperror"
	appctx "barcodeseq/internal/core/context"
	"barcodeseq/internal/core/sequence"
	"barcodeseq/pkg/logger"
)

func newTestEngine(t *testing.T, store sequence.Store, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Timeout:       time.Second,
		SweepInterval: 5 * time.Millisecond,
		Logger:        logger.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e := New(store, cfg)
	e.Start()
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// blockingStore parks the first Upsert until release is closed.
func blockingStore() (store *sequence.MockStore, entered, release chan struct{}) {
	store = sequence.NewMockStore()
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	store.UpsertFunc = func(ctx context.Context, key sequence.Key, expected, next int) error {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		return store.Memory.Upsert(ctx, key, expected, next)
	}
	return store, entered, release
}

type allocResult struct {
	res Result
	err error
}

func allocateAsync(e *Engine, ctx context.Context, req Request) <-chan allocResult {
	ch := make(chan allocResult, 1)
	go func() {
		res, err := e.Allocate(ctx, req)
		ch <- allocResult{res, err}
	}()
	return ch
}

func TestAllocate_SimpleSequence(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMemoryStore()
	e := newTestEngine(t, store)

	res, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-1", "LOT-2", "LOT-3"}, res.Barcodes)

	rec, err := store.Get(ctx, sequence.SimpleKey("LOT"))
	require.NoError(t, err)
	assert.Equal(t, 3, rec.LastNumber)

	res, err = e.Allocate(ctx, Request{Prefix: "LOT-", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-4", "LOT-5"}, res.Barcodes)
	assert.Equal(t, 4, res.First)
	assert.Equal(t, 5, res.Last)

	rec, err = store.Get(ctx, sequence.SimpleKey("LOT"))
	require.NoError(t, err)
	assert.Equal(t, 5, rec.LastNumber)
}

func TestAllocate_SimpleRangeExhausted(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMemoryStore()
	key := sequence.SimpleKey("LOT")
	require.NoError(t, store.Set(ctx, key, 998))
	e := newTestEngine(t, store)

	_, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 2})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeRangeExhausted))

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 998, rec.LastNumber, "state must not change on exhaustion")

	res, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-999"}, res.Barcodes)
}

func TestAllocate_HugeCountRejectedBeforeQueue(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMockStore()
	var upserts atomic.Int32
	store.UpsertFunc = func(ctx context.Context, key sequence.Key, expected, next int) error {
		upserts.Add(1)
		return store.Memory.Upsert(ctx, key, expected, next)
	}
	e := newTestEngine(t, store)

	_, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)

	for _, req := range []Request{
		{Prefix: "LOT", Count: math.MaxInt},
		{Prefix: "BX", Week: "12", Mode: "A", Compound: true, Count: math.MaxInt},
	} {
		_, err = e.Allocate(ctx, req)
		require.Error(t, err)
		assert.True(t, apperror.Is(err, apperror.CodeRangeExhausted))
	}
	assert.Equal(t, int32(1), upserts.Load())

	rec, err := store.Get(ctx, sequence.SimpleKey("LOT"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.LastNumber)

	res, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-2"}, res.Barcodes)
}

func TestAllocate_PanicBecomesInternalError(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMockStore()
	var panicked atomic.Bool
	store.UpsertFunc = func(ctx context.Context, key sequence.Key, expected, next int) error {
		if panicked.CompareAndSwap(false, true) {
			panic("driver bug")
		}
		return store.Memory.Upsert(ctx, key, expected, next)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	e := newTestEngine(t, store, func(c *Config) { c.Logger = logger.FromCore(core) })

	_, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInternal))

	res, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-1"}, res.Barcodes)

	panics := logs.FilterMessage("allocation panicked").All()
	require.Len(t, panics, 1)
	assert.Equal(t, zapcore.ErrorLevel, panics[0].Level)
	assert.Equal(t, "driver bug", panics[0].ContextMap()["panic"])
}

func TestAllocate_LogsCarryRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := newTestEngine(t, sequence.NewMemoryStore(), func(c *Config) { c.Logger = logger.FromCore(core) })

	ctx := appctx.WithTrace(context.Background(), &appctx.TraceContext{RequestID: "req-7", TraceID: "trace-7"})
	_, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 2})
	require.NoError(t, err)

	// Without a request ID the engine assigns one.
	_, err = e.Allocate(context.Background(), Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("allocation fulfilled").Len() == 2
	}, time.Second, 5*time.Millisecond)

	entries := logs.FilterMessage("allocation fulfilled").All()
	first := entries[0].ContextMap()
	assert.Equal(t, "req-7", first[logger.KeyRequest])
	assert.Equal(t, "trace-7", first[logger.KeyTrace])
	assert.Equal(t, "LOT-", first["scope"])

	second := entries[1].ContextMap()
	assert.NotEmpty(t, second[logger.KeyRequest])
	assert.NotEqual(t, "req-7", second[logger.KeyRequest])
}

func TestAllocate_PanickingCommitHookKeepsWorker(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, sequence.NewMemoryStore(), func(c *Config) {
		c.OnCommit = func(sequence.Record) { panic("hook bug") }
	})

	res, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-1"}, res.Barcodes)

	res, err = e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-2"}, res.Barcodes)
}

func TestAllocate_ConcurrentRequestsPartitionOneBlock(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMemoryStore()
	e := newTestEngine(t, store)

	const callers = 40
	var (
		mu      sync.Mutex
		serials []int
		total   int
		wg      sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		count := i%5 + 1
		total += count
		wg.Add(1)
		go func(count int) {
			defer wg.Done()
			res, err := e.Allocate(ctx, Request{Prefix: "P", Count: count})
			if !assert.NoError(t, err) {
				return
			}
			assert.Len(t, res.Barcodes, count)
			mu.Lock()
			for s := res.First; s <= res.Last; s++ {
				serials = append(serials, s)
			}
			mu.Unlock()
		}(count)
	}
	wg.Wait()

	sort.Ints(serials)
	require.Len(t, serials, total)
	for i, s := range serials {
		assert.Equal(t, i+1, s, "serials must be contiguous without reuse")
	}

	rec, err := store.Get(ctx, sequence.SimpleKey("P"))
	require.NoError(t, err)
	assert.Equal(t, total, rec.LastNumber)
}

func TestAllocate_CompoundOpensBaseSlot(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, sequence.NewMemoryStore())

	res, err := e.Allocate(ctx, Request{Prefix: "BX", Week: "12", Mode: "B", Compound: true, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"BX-125-1", "BX-125-2", "BX-125-3"}, res.Barcodes)

	res, err = e.Allocate(ctx, Request{Prefix: "BX", Week: "12", Mode: "a", Compound: true, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"BX-120-1"}, res.Barcodes)
}

func TestAllocate_CompoundRolloverMovesWholeBlock(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMemoryStore()
	old := sequence.CompoundKey("P", "7", sequence.ModeDay, 2)
	require.NoError(t, store.Set(ctx, old, 997))
	e := newTestEngine(t, store)

	res, err := e.Allocate(ctx, Request{Prefix: "P", Week: "7", Mode: "A", Compound: true, Count: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Key.Slot)
	assert.Equal(t, []string{"P-73-1", "P-73-2", "P-73-3", "P-73-4", "P-73-5"}, res.Barcodes)

	rec, err := store.Get(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, 997, rec.LastNumber, "old slot is not topped up")

	rec, err = store.Get(ctx, sequence.CompoundKey("P", "7", sequence.ModeDay, 3))
	require.NoError(t, err)
	assert.Equal(t, 5, rec.LastNumber)
}

func TestAllocate_CompoundLastSlotExhausted(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMemoryStore()
	require.NoError(t, store.Set(ctx, sequence.CompoundKey("P", "7", sequence.ModeDay, 4), 997))
	e := newTestEngine(t, store)

	_, err := e.Allocate(ctx, Request{Prefix: "P", Week: "7", Mode: "A", Compound: true, Count: 5})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeRangeExhausted))
	assert.Equal(t, 1, store.Len(), "no slot beyond 4 may be opened for mode A")

	// The slot still has room for smaller blocks.
	res, err := e.Allocate(ctx, Request{Prefix: "P", Week: "7", Mode: "A", Compound: true, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"P-74-998", "P-74-999"}, res.Barcodes)
}

func TestAllocate_CompoundOversizedRequest(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMemoryStore()
	e := newTestEngine(t, store)
	req := Request{Prefix: "BX", Week: "12", Mode: "B", Compound: true}

	// Whole-block policy: 1000 serials never fit one slot.
	req.Count = 1000
	_, err := e.Allocate(ctx, req)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeRangeExhausted))
	assert.Equal(t, 0, store.Len())

	req.Count = 999
	res, err := e.Allocate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Key.Slot)
	assert.Equal(t, "BX-125-1", res.Barcodes[0])
	assert.Equal(t, "BX-125-999", res.Barcodes[998])

	req.Count = 1
	res, err = e.Allocate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"BX-126-1"}, res.Barcodes)
}

func TestAllocate_InvalidRequestsNeverReachStore(t *testing.T) {
	var calls atomic.Int32
	store := sequence.NewMockStore()
	store.GetFunc = func(ctx context.Context, key sequence.Key) (sequence.Record, error) {
		calls.Add(1)
		return sequence.Record{}, sequence.ErrNotFound
	}
	store.HighestFunc = func(ctx context.Context, prefix, week string, mode sequence.Mode) (sequence.Record, error) {
		calls.Add(1)
		return sequence.Record{}, sequence.ErrNotFound
	}
	e := newTestEngine(t, store)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty prefix", Request{Prefix: "  ", Count: 1}, "prefix"},
		{"zero count", Request{Prefix: "LOT", Count: 0}, "count"},
		{"negative count", Request{Prefix: "LOT", Count: -3}, "count"},
		{"compound without week", Request{Prefix: "BX", Mode: "A", Compound: true, Count: 1}, "week"},
		{"compound bad mode", Request{Prefix: "BX", Week: "3", Mode: "C", Compound: true, Count: 1}, "mode"},
		{"compound missing mode", Request{Prefix: "BX", Week: "3", Compound: true, Count: 1}, "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Allocate(context.Background(), tt.req)
			require.Error(t, err)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeInvalidRequest, appErr.Code)
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestAllocate_StoreFailureReleasesQueue(t *testing.T) {
	ctx := context.Background()
	store := sequence.NewMockStore()
	var failed atomic.Bool
	store.GetFunc = func(ctx context.Context, key sequence.Key) (sequence.Record, error) {
		if failed.CompareAndSwap(false, true) {
			return sequence.Record{}, errors.New("connection reset")
		}
		return store.Memory.Get(ctx, key)
	}
	e := newTestEngine(t, store)

	_, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeStoreUnavailable))

	res, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-1"}, res.Barcodes)
}

func TestAllocate_ConflictIsSurfaced(t *testing.T) {
	store := sequence.NewMockStore()
	store.UpsertFunc = func(ctx context.Context, key sequence.Key, expected, next int) error {
		return sequence.ErrConflict
	}
	e := newTestEngine(t, store)

	_, err := e.Allocate(context.Background(), Request{Prefix: "LOT", Count: 1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeConflict))
	assert.ErrorIs(t, err, sequence.ErrConflict)
}

func TestAllocate_TimeoutDoesNotRollBackInFlightWrite(t *testing.T) {
	ctx := context.Background()
	store, entered, release := blockingStore()
	e := newTestEngine(t, store, func(c *Config) { c.Timeout = 50 * time.Millisecond })

	first := allocateAsync(e, ctx, Request{Prefix: "LOT", Count: 2})
	<-entered
	second := allocateAsync(e, ctx, Request{Prefix: "LOT", Count: 1})

	r2 := <-second
	require.Error(t, r2.err)
	assert.True(t, apperror.Is(r2.err, apperror.CodeTimeout), "queued request times out")
	assert.Equal(t, 0, e.Depth(), "timed out request leaves the queue")

	r1 := <-first
	require.Error(t, r1.err)
	assert.True(t, apperror.Is(r1.err, apperror.CodeTimeout), "in-flight caller is answered at its deadline")

	close(release)

	// The in-flight write lands; the next request continues after it.
	r3, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"LOT-3"}, r3.Barcodes)
}

func TestAllocate_CallerCancelWithdrawsQueuedRequest(t *testing.T) {
	store, entered, release := blockingStore()
	e := newTestEngine(t, store)

	first := allocateAsync(e, context.Background(), Request{Prefix: "LOT", Count: 1})
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	second := allocateAsync(e, ctx, Request{Prefix: "LOT", Count: 1})
	require.Eventually(t, func() bool { return e.Depth() == 1 }, time.Second, time.Millisecond)
	cancel()

	r2 := <-second
	assert.True(t, apperror.Is(r2.err, apperror.CodeTimeout))
	assert.Equal(t, 0, e.Depth())

	close(release)
	r1 := <-first
	require.NoError(t, r1.err)
	assert.Equal(t, []string{"LOT-1"}, r1.res.Barcodes)
}

func TestAllocate_QueueFull(t *testing.T) {
	store, entered, release := blockingStore()
	e := newTestEngine(t, store, func(c *Config) { c.MaxQueue = 1 })
	ctx := context.Background()

	first := allocateAsync(e, ctx, Request{Prefix: "LOT", Count: 1})
	<-entered
	second := allocateAsync(e, ctx, Request{Prefix: "LOT", Count: 1})
	require.Eventually(t, func() bool { return e.Depth() == 1 }, time.Second, time.Millisecond)

	_, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeQueueFull))

	close(release)
	require.NoError(t, (<-first).err)
	require.NoError(t, (<-second).err)
}

func TestClose_RejectsQueuedAndDrainsInFlight(t *testing.T) {
	store, entered, release := blockingStore()
	e := newTestEngine(t, store)
	ctx := context.Background()

	first := allocateAsync(e, ctx, Request{Prefix: "LOT", Count: 1})
	<-entered
	queued := allocateAsync(e, ctx, Request{Prefix: "LOT", Count: 1})
	require.Eventually(t, func() bool { return e.Depth() == 1 }, time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- e.Close(ctx) }()

	rq := <-queued
	assert.True(t, apperror.Is(rq.err, apperror.CodeShuttingDown))

	close(release)
	require.NoError(t, <-closed)

	r1 := <-first
	require.NoError(t, r1.err, "in-flight request completes during shutdown")

	_, err := e.Allocate(ctx, Request{Prefix: "LOT", Count: 1})
	assert.True(t, apperror.Is(err, apperror.CodeShuttingDown))
}

func TestAllocate_OnCommitReceivesRecord(t *testing.T) {
	var (
		mu      sync.Mutex
		commits []sequence.Record
	)
	e := newTestEngine(t, sequence.NewMemoryStore(), func(c *Config) {
		c.OnCommit = func(rec sequence.Record) {
			mu.Lock()
			commits = append(commits, rec)
			mu.Unlock()
		}
	})

	_, err := e.Allocate(context.Background(), Request{Prefix: "BX", Week: "1", Mode: "B", Compound: true, Count: 4})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(commits) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, sequence.CompoundKey("BX", "1", sequence.ModeNight, 5), commits[0].Key)
	assert.Equal(t, 4, commits[0].LastNumber)
}

func TestAllocate_AdmissionRule(t *testing.T) {
	adm, err := NewAdmission(`count <= 10`)
	require.NoError(t, err)
	e := newTestEngine(t, sequence.NewMemoryStore(), func(c *Config) { c.Admission = adm })

	_, err = e.Allocate(context.Background(), Request{Prefix: "LOT", Count: 11})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidRequest))

	_, err = e.Allocate(context.Background(), Request{Prefix: "LOT", Count: 10})
	assert.NoError(t, err)
}
