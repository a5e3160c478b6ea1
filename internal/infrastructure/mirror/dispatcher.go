// Package mirror copies committed sequence state to an external backup
// after each allocation. Mirroring never affects allocation results: a
// full buffer drops the event and a failed push is only logged.
package mirror

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	appctx "barcodeseq/internal/core/context"
	"barcodeseq/internal/core/sequence"
	"barcodeseq/pkg/logger"
)

// Entry is one sequence in a snapshot.
type Entry struct {
	Prefix     string    `json:"prefix"`
	Week       string    `json:"week,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Slot       *int      `json:"slot,omitempty"`
	LastNumber int       `json:"last_number"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot is the document a Sink receives: every seeded or committed
// sequence at its latest value. Sinks overwrite one remote document, so a
// snapshot must always be complete.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Sequences   []Entry   `json:"sequences"`
}

// Sink stores a snapshot remotely. Errors wrapped with backoff.Permanent
// are not retried.
type Sink interface {
	Put(ctx context.Context, snap Snapshot) error
	Close() error
}

// Config holds dispatcher configuration.
type Config struct {
	// Buffer is the number of commits that may wait for the pusher.
	Buffer int

	// MaxElapsed bounds retries of a single push.
	MaxElapsed time.Duration

	// OnResult observes every push outcome (nil error on success).
	OnResult func(err error)

	// OnDrop observes commits dropped because the buffer was full.
	OnDrop func()

	Logger *logger.Logger
}

// Dispatcher coalesces commits and pushes snapshots from one goroutine.
type Dispatcher struct {
	sink   Sink
	cfg    Config
	log    *logger.Logger
	events chan sequence.Record
	now    func() time.Time

	// latest is owned by the run goroutine.
	latest map[sequence.Key]sequence.Record

	// ctx aborts in-flight retries when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	stop    chan struct{}
	done    chan struct{}
	closeMu sync.Once
}

// NewDispatcher creates a dispatcher. Call Start to begin pushing.
func NewDispatcher(sink Sink, cfg Config) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:    ctx,
		cancel: cancel,
		sink:   sink,
		cfg:    cfg,
		log:    log.WithComponent("mirror"),
		events: make(chan sequence.Record, cfg.Buffer),
		now:    time.Now,
		latest: make(map[sequence.Key]sequence.Record),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Seed loads the store's current records so the first push after a
// restart still carries sequences that have not been allocated since.
// It must be called before Start.
func (d *Dispatcher) Seed(recs []sequence.Record) {
	for _, rec := range recs {
		d.apply(rec)
	}
}

// Start launches the push loop.
func (d *Dispatcher) Start() {
	go d.run()
}

// Enqueue records a commit without blocking. It is safe to use as the
// allocation engine's commit hook.
func (d *Dispatcher) Enqueue(rec sequence.Record) {
	select {
	case <-d.stop:
		return
	default:
	}

	select {
	case d.events <- rec:
	default:
		d.log.Warnw("mirror buffer full, dropping commit", "key", rec.Key.String(), "last_number", rec.LastNumber)
		if d.cfg.OnDrop != nil {
			d.cfg.OnDrop()
		}
	}
}

// Close stops accepting commits, pushes what is pending and closes the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeMu.Do(func() { close(d.stop) })

	select {
	case <-d.done:
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
	d.cancel()
	return d.sink.Close()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case rec := <-d.events:
			d.apply(rec)
			d.drain()
			d.push(d.ctx)
		case <-d.stop:
			if d.drain() {
				d.push(d.ctx)
			}
			return
		}
	}
}

// drain folds every buffered commit into latest. Reports whether any was read.
func (d *Dispatcher) drain() bool {
	read := false
	for {
		select {
		case rec := <-d.events:
			d.apply(rec)
			read = true
		default:
			return read
		}
	}
}

func (d *Dispatcher) apply(rec sequence.Record) {
	// Commits for one key arrive in order; keep the highest regardless.
	if cur, ok := d.latest[rec.Key]; ok && cur.LastNumber > rec.LastNumber {
		return
	}
	d.latest[rec.Key] = rec
}

func (d *Dispatcher) snapshot() Snapshot {
	snap := Snapshot{GeneratedAt: d.now().UTC(), Sequences: make([]Entry, 0, len(d.latest))}
	for k, rec := range d.latest {
		e := Entry{Prefix: k.Prefix, LastNumber: rec.LastNumber, UpdatedAt: rec.UpdatedAt}
		if k.Compound() {
			slot := k.Slot
			e.Week, e.Mode, e.Slot = k.Week, string(k.Mode), &slot
		}
		snap.Sequences = append(snap.Sequences, e)
	}
	sort.Slice(snap.Sequences, func(i, j int) bool {
		a, b := snap.Sequences[i], snap.Sequences[j]
		if a.Prefix != b.Prefix {
			return a.Prefix < b.Prefix
		}
		if a.Week != b.Week {
			return a.Week < b.Week
		}
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		return a.Slot != nil && b.Slot != nil && *a.Slot < *b.Slot
	})
	return snap
}

func (d *Dispatcher) push(ctx context.Context) {
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())
	log := d.log.WithContext(ctx)
	snap := d.snapshot()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = d.cfg.MaxElapsed

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return d.sink.Put(ctx, snap)
	}, backoff.WithContext(policy, ctx))

	if d.cfg.OnResult != nil {
		d.cfg.OnResult(err)
	}

	if err != nil {
		log.Errorw("mirror push failed",
			"sequences", len(snap.Sequences),
			"attempts", attempts,
			"error", err,
		)
		return
	}
	log.Debugw("mirror pushed", "sequences", len(snap.Sequences), "attempts", attempts)
}
