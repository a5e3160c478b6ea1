package allocation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"barcodeseq/internal/core/apperror"
	appctx "barcodeseq/internal/core/context"
	"barcodeseq/internal/core/sequence"
	"barcodeseq/pkg/logger"
)

var tracer = otel.Tracer("barcodeseq/allocation")

// State is the lifecycle position of an admitted request.
type State int

const (
	StateQueued State = iota
	StateProcessing
	StateFulfilled
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateProcessing:
		return "processing"
	case StateFulfilled:
		return "fulfilled"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s >= StateFulfilled
}

// Metrics receives engine observations. See infrastructure/metrics.
type Metrics interface {
	ObserveAllocation(kind, code string, count int, took time.Duration)
	SetQueueDepth(depth int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAllocation(string, string, int, time.Duration) {}
func (nopMetrics) SetQueueDepth(int)                                    {}

// Config holds engine configuration and collaborators.
type Config struct {
	// Timeout bounds how long a caller waits from admission to response.
	Timeout time.Duration

	// StoreTimeout bounds one read-modify-write cycle against the store.
	// It is independent of the caller: a timed-out caller never cancels
	// a store operation already issued.
	StoreTimeout time.Duration

	// SweepInterval is how often queued deadlines are evaluated.
	SweepInterval time.Duration

	// MaxQueue caps waiting requests (0 = unbounded).
	MaxQueue int

	// Admission optionally filters requests before they are queued.
	Admission *Admission

	// OnCommit is called after every successful store write. It must not block.
	OnCommit func(sequence.Record)

	Logger  *logger.Logger
	Metrics Metrics
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		StoreTimeout:  30 * time.Second,
		SweepInterval: 100 * time.Millisecond,
	}
}

type outcome struct {
	result Result
	err    error
}

// pending is an admitted request with an explicit deadline.
type pending struct {
	req        Request
	admittedAt time.Time
	deadline   time.Time
	ctx        context.Context // caller values only, never its cancellation

	state State
	done  chan outcome
}

// Engine serializes allocations through a single FIFO.
//
// At most one request runs its read-modify-write cycle at a time. Deadlines
// are enforced by a sweeper independent of the worker: a request still
// queued at its deadline is removed and answered with TIMEOUT. A request
// already processing when its deadline passes is answered with TIMEOUT as
// well, but the worker finishes it (its store write may still land) and
// only then starts the next request.
//
// The queue serializes one process only. Two processes sharing a store are
// protected solely by the store's compare-and-set, which surfaces CONFLICT.
type Engine struct {
	store   sequence.Store
	cfg     Config
	log     *logger.Logger
	metrics Metrics
	now     func() time.Time

	mu      sync.Mutex
	queue   []*pending
	active  *pending
	closed  bool
	started bool

	signal chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine over store. Call Start before Allocate.
func New(store sequence.Store, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = nopMetrics{}
	}

	return &Engine{
		store:   store,
		cfg:     cfg,
		log:     log.WithComponent("allocation"),
		metrics: m,
		now:     time.Now,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker and the deadline sweeper.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.work()
	}()
	go func() {
		defer e.wg.Done()
		e.sweep()
	}()
}

// Close stops admission, rejects every queued request with SHUTTING_DOWN and
// waits for the in-flight one to finish or ctx to expire.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	rejected := e.queue
	e.queue = nil
	for _, p := range rejected {
		e.finishLocked(p, StateFailed, outcome{err: apperror.NewShuttingDown()})
	}
	e.metrics.SetQueueDepth(0)
	close(e.stop)
	e.mu.Unlock()

	if len(rejected) > 0 {
		e.log.Warnw("rejected queued allocations on shutdown", "count", len(rejected))
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Allocate validates req, queues it and waits for its outcome.
// Invalid requests fail before touching the queue or the store.
func (e *Engine) Allocate(ctx context.Context, req Request) (Result, error) {
	req = req.normalize()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if err := req.checkBlockSize(); err != nil {
		return Result{}, err
	}
	if err := e.cfg.Admission.Check(req); err != nil {
		return Result{}, err
	}

	p, err := e.admit(ctx, req)
	if err != nil {
		return Result{}, err
	}

	select {
	case o := <-p.done:
		return o.result, o.err
	case <-ctx.Done():
		e.expire(p, "caller gave up")
		o := <-p.done
		return o.result, o.err
	}
}

// Depth returns the number of queued requests, excluding the active one.
func (e *Engine) Depth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) admit(ctx context.Context, req Request) (*pending, error) {
	now := e.now()
	// Callers outside HTTP get their own request ID for the log lines.
	if appctx.GetRequestID(ctx) == "" {
		ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())
	}
	p := &pending{
		req:        req,
		admittedAt: now,
		deadline:   now.Add(e.cfg.Timeout),
		ctx:        context.WithoutCancel(ctx),
		state:      StateQueued,
		done:       make(chan outcome, 1),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, apperror.NewShuttingDown()
	}
	if e.cfg.MaxQueue > 0 && len(e.queue) >= e.cfg.MaxQueue {
		return nil, apperror.NewQueueFull(len(e.queue))
	}

	e.queue = append(e.queue, p)
	e.metrics.SetQueueDepth(len(e.queue))

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return p, nil
}

// finishLocked moves p to a terminal state and delivers its outcome once.
// Reports false when p already had an outcome.
func (e *Engine) finishLocked(p *pending, state State, o outcome) bool {
	if p.state.terminal() {
		return false
	}
	p.state = state
	p.done <- o
	return true
}

// expire answers p with TIMEOUT. A queued request is also removed from the
// queue; a processing one is left to the worker.
func (e *Engine) expire(p *pending, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(p, reason)
}

func (e *Engine) expireLocked(p *pending, reason string) {
	prev := p.state
	if prev.terminal() {
		return
	}
	if prev == StateQueued {
		e.removeLocked(p)
	}

	waited := e.now().Sub(p.admittedAt).Round(time.Millisecond)
	e.finishLocked(p, StateTimedOut, outcome{err: apperror.NewTimeout(waited.String())})
	e.metrics.ObserveAllocation(kindOf(p.req), apperror.CodeTimeout, p.req.Count, waited)

	e.log.WithContext(p.ctx).Warnw("allocation timed out",
		"scope", p.req.scope(),
		"count", p.req.Count,
		"state", prev.String(),
		"reason", reason,
		"waited", waited,
	)
}

func (e *Engine) removeLocked(p *pending) {
	for i, q := range e.queue {
		if q == p {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	e.metrics.SetQueueDepth(len(e.queue))
}

// sweep expires requests whose deadline passed.
func (e *Engine) sweep() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.expireOverdue()
		}
	}
}

func (e *Engine) expireOverdue() {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var overdue []*pending
	for _, p := range e.queue {
		if !now.Before(p.deadline) {
			overdue = append(overdue, p)
		}
	}
	if e.active != nil && !now.Before(e.active.deadline) {
		overdue = append(overdue, e.active)
	}
	for _, p := range overdue {
		e.expireLocked(p, "deadline passed")
	}
}

// work drains the queue one request at a time.
func (e *Engine) work() {
	for {
		p := e.next()
		if p == nil {
			return
		}
		started := e.now()
		result, err := e.processSafe(p)
		e.complete(p, result, err, e.now().Sub(started))
	}
}

// next blocks until a request can be processed. Returns nil once closed.
func (e *Engine) next() *pending {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			p := e.queue[0]
			e.queue = e.queue[1:]
			p.state = StateProcessing
			e.active = p
			e.metrics.SetQueueDepth(len(e.queue))
			e.mu.Unlock()
			return p
		}
		closed := e.closed
		e.mu.Unlock()

		if closed {
			return nil
		}
		select {
		case <-e.signal:
		case <-e.stop:
		}
	}
}

// processSafe runs process and turns a panic into an internal error, so the
// caller gets an answer and the worker keeps draining the queue.
func (e *Engine) processSafe(p *pending) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithContext(p.ctx).Errorw("allocation panicked",
						"scope", p.req.scope(),
				"count", p.req.Count,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result, err = Result{}, apperror.NewInternal(fmt.Errorf("allocation panic: %v", r))
		}
	}()
	return e.process(p)
}

func (e *Engine) process(p *pending) (Result, error) {
	ctx, cancel := context.WithTimeout(p.ctx, e.cfg.StoreTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "allocation.process",
		trace.WithAttributes(
			attribute.String("allocation.scope", p.req.scope()),
			attribute.Int("allocation.count", p.req.Count),
			attribute.Bool("allocation.compound", p.req.Compound),
		))
	defer span.End()

	var (
		result Result
		err    error
	)
	if p.req.Compound {
		result, err = e.allocateCompound(ctx, p.req)
	} else {
		result, err = e.allocateSimple(ctx, p.req)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperror.Code(err))
	}
	return result, err
}

func (e *Engine) complete(p *pending, result Result, err error, took time.Duration) {
	e.mu.Lock()
	e.active = nil
	state := StateFulfilled
	if err != nil {
		state = StateFailed
	}
	delivered := e.finishLocked(p, state, outcome{result: result, err: err})
	e.mu.Unlock()

	log := e.log.WithContext(p.ctx).With(
		"scope", p.req.scope(),
		"count", p.req.Count,
		"took_ms", took.Milliseconds(),
	)

	if delivered {
		e.metrics.ObserveAllocation(kindOf(p.req), codeOf(err), p.req.Count, e.now().Sub(p.admittedAt))
	}

	switch {
	case err == nil:
		if !delivered {
			log.Warnw("allocation committed after caller timed out",
				"key", result.Key.String(), "first", result.First, "last", result.Last)
		} else {
			log.Infow("allocation fulfilled",
				"key", result.Key.String(), "first", result.First, "last", result.Last)
		}
		e.notifyCommit(log, sequence.Record{Key: result.Key, LastNumber: result.Last, UpdatedAt: e.now().UTC()})
	case apperror.Is(err, apperror.CodeConflict):
		log.Errorw("allocation conflict: sequence changed outside this engine", "error", err)
	case apperror.Is(err, apperror.CodeStoreUnavailable):
		log.Errorw("allocation failed", "code", apperror.Code(err), "error", err)
	default:
		log.Warnw("allocation rejected", "code", apperror.Code(err), "error", err)
	}
}

// notifyCommit runs the commit hook. A panicking hook is logged; the
// allocation it reports is already committed and delivered.
func (e *Engine) notifyCommit(log *logger.Logger, rec sequence.Record) {
	if e.cfg.OnCommit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("commit hook panicked", "key", rec.Key.String(), "panic", r)
		}
	}()
	e.cfg.OnCommit(rec)
}

func kindOf(req Request) string {
	if req.Compound {
		return "compound"
	}
	return "simple"
}

func codeOf(err error) string {
	if err == nil {
		return "OK"
	}
	return apperror.Code(err)
}
