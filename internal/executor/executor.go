// Package executor implements the runtime's Operation Executor: a bounded
// concurrency pool wrapping every operation with progress tracking, the
// retry engine, notification emission, and rolling-window statistics.
package executor

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/dangerprep/syncrt/internal/notify"
	"github.com/dangerprep/syncrt/internal/progress"
	"github.com/dangerprep/syncrt/internal/retry"
	"github.com/dangerprep/syncrt/resilience"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Runner is the unit of work an operation executes, identical in shape to
// the retry engine's Runner so the two compose without adaptation.
type Runner = retry.Runner

// SubmitOptions customizes one Submit call.
type SubmitOptions struct {
	RetryPolicy    *retry.Policy
	ProgressConfig *progress.Config
	// Tracker, when supplied, is used as-is instead of building a fresh
	// one from ProgressConfig. Callers that hand the same tracker to
	// their runner (e.g. a Transferor expecting to drive it directly)
	// need this so Handle.CurrentProgress reflects the runner's own
	// updates rather than a second, disconnected tracker instance.
	Tracker *progress.Tracker
	// Timeout overrides the executor's default per-operation ceiling
	// (spec §6 operation_timeout). Zero keeps the executor default.
	Timeout time.Duration
}

// Handle is a live reference to a submitted operation.
type Handle struct {
	id       string
	name     string
	tracker  *progress.Tracker
	cancel   context.CancelFunc
	done     chan struct{}
	result   retry.Result
	resultMu sync.RWMutex
}

// ID returns the operation's unique id.
func (h *Handle) ID() string { return h.id }

// AwaitResult blocks until the operation completes or ctx is done,
// returning the runner's value and error.
func (h *Handle) AwaitResult(ctx context.Context) (interface{}, error) {
	select {
	case <-h.done:
		h.resultMu.RLock()
		defer h.resultMu.RUnlock()
		return h.result.Value, h.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel propagates a cancellation signal to the running operation. The
// runner must observe it at its next suspension point.
func (h *Handle) Cancel() { h.cancel() }

// CurrentProgress returns the operation's current progress snapshot.
func (h *Handle) CurrentProgress() progress.Snapshot {
	return h.tracker.Snapshot()
}

func (h *Handle) finish(result retry.Result) {
	h.resultMu.Lock()
	h.result = result
	h.resultMu.Unlock()
	close(h.done)
}

// BatchItem pairs an arbitrary payload with a stable identifier for result
// reporting.
type BatchItem struct {
	ID      string
	Payload interface{}
}

// BatchRunner executes one batch item.
type BatchRunner func(ctx context.Context, item BatchItem) (interface{}, error)

// BatchOptions customizes ExecuteBatch.
type BatchOptions struct {
	Concurrency   int
	OperationName string
	OnProgress    func(completed, total int)
}

// BatchResult is one item's outcome from ExecuteBatch.
type BatchResult struct {
	ItemID     string
	Success    bool
	Value      interface{}
	Error      error
	Attempts   int
	DurationMS int64
}

// OperationStats summarizes the runs recorded for one operation name. Avg,
// Min, Max, P95 and P99 cover a rolling window of the last 1000 durations;
// Count and ErrorRate cover every run recorded since the executor started.
type OperationStats struct {
	Count     int64
	Avg       time.Duration
	Min       time.Duration
	Max       time.Duration
	ErrorRate float64
	P95       time.Duration
	P99       time.Duration
}

const statsWindowSize = 1000

type operationStats struct {
	mu        sync.Mutex
	durations []time.Duration
	next      int
	filled    int
	errors    int64
	total     int64
}

func (s *operationStats) record(d time.Duration, isErr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) < statsWindowSize {
		s.durations = append(s.durations, d)
	} else {
		s.durations[s.next] = d
		s.next = (s.next + 1) % statsWindowSize
	}
	if s.filled < statsWindowSize {
		s.filled++
	}
	s.total++
	if isErr {
		s.errors++
	}
}

func (s *operationStats) snapshot() OperationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filled == 0 {
		return OperationStats{}
	}

	sorted := make([]time.Duration, s.filled)
	copy(sorted, s.durations[:s.filled])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return OperationStats{
		Count:     s.total,
		Avg:       sum / time.Duration(len(sorted)),
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		ErrorRate: float64(s.errors) / float64(s.total),
		P95:       percentile(sorted, 0.95),
		P99:       percentile(sorted, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Config configures an Executor.
type Config struct {
	Concurrency int
	Logger      core.Logger
	Hub         *notify.Hub
	Metrics     prometheus.Registerer // optional; nil disables Prometheus export

	// OperationTimeout bounds every submitted operation that doesn't
	// supply its own SubmitOptions.Timeout (spec §6 operation_timeout).
	// Zero disables the default ceiling.
	OperationTimeout time.Duration

	// CircuitBreakers, when true, wraps every distinct operation name in
	// its own resilience.CircuitBreaker so a persistently failing
	// transfer type stops consuming worker slots while open (spec §4.6
	// composes retry + progress + cancellation + notification; the
	// breaker sits alongside retry as an additional guard a caller can
	// opt into).
	CircuitBreakers bool
}

type job struct {
	id      string
	name    string
	ctx     context.Context
	cancel  context.CancelFunc
	runner  Runner
	policy  retry.Policy
	handle  *Handle
}

// Executor is the Operation Executor (spec §4.6): a fixed-size worker pool
// fed by an unbounded FIFO queue, so submission past capacity queues
// rather than rejects.
type Executor struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       *list.List
	concurrency int
	stopping    bool

	logger           core.Logger
	hub              *notify.Hub
	operationTimeout time.Duration
	breakersEnabled  bool

	statsMu sync.Mutex
	stats   map[string]*operationStats

	breakersMu sync.Mutex
	breakers   map[string]core.CircuitBreaker

	durationHist *prometheus.HistogramVec
	opCounter    *prometheus.CounterVec

	rootCtx    context.Context
	rootCancel context.CancelFunc
	workersWG  sync.WaitGroup
}

// New constructs an Executor and starts its worker pool.
func New(cfg Config) *Executor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = core.DefaultMaxConcurrentOps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())

	e := &Executor{
		queue:            list.New(),
		concurrency:      concurrency,
		logger:           logger,
		hub:              cfg.Hub,
		operationTimeout: cfg.OperationTimeout,
		breakersEnabled:  cfg.CircuitBreakers,
		stats:            make(map[string]*operationStats),
		breakers:         make(map[string]core.CircuitBreaker),
		rootCtx:          rootCtx,
		rootCancel:       rootCancel,
	}
	e.cond = sync.NewCond(&e.mu)

	if cfg.Metrics != nil {
		e.durationHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncrt_operation_duration_seconds",
			Help:    "Duration of executed operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"})
		e.opCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncrt_operations_total",
			Help: "Count of executed operations by outcome.",
		}, []string{"operation", "outcome"})
		cfg.Metrics.MustRegister(e.durationHist, e.opCounter)
	}

	for i := 0; i < concurrency; i++ {
		e.workersWG.Add(1)
		go e.worker()
	}

	return e
}

// Submit enqueues an operation and returns a Handle immediately. The
// operation itself runs on the next available worker.
func (e *Executor) Submit(ctx context.Context, operationName string, runner Runner, opts SubmitOptions) (*Handle, error) {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil, core.NewFrameworkError("Executor.Submit", "executor", core.ErrNotRunning)
	}
	e.mu.Unlock()

	id := uuid.NewString()
	timeout := e.operationTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	var opCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(e.rootCtx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(e.rootCtx)
	}

	tracker := opts.Tracker
	if tracker == nil {
		progCfg := progress.Config{OperationID: id}
		if opts.ProgressConfig != nil {
			progCfg = *opts.ProgressConfig
			progCfg.OperationID = id
		}
		tracker = progress.New(progCfg)
	}

	policy := retry.Policy{MaxAttempts: 1}
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}

	h := &Handle{id: id, name: operationName, tracker: tracker, cancel: cancel, done: make(chan struct{})}

	j := &job{id: id, name: operationName, ctx: opCtx, cancel: cancel, runner: runner, policy: policy, handle: h}

	e.mu.Lock()
	e.queue.PushBack(j)
	e.cond.Signal()
	e.mu.Unlock()

	return h, nil
}

func (e *Executor) worker() {
	defer e.workersWG.Done()
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && !e.stopping {
			e.cond.Wait()
		}
		if e.queue.Len() == 0 && e.stopping {
			e.mu.Unlock()
			return
		}
		front := e.queue.Front()
		e.queue.Remove(front)
		e.mu.Unlock()

		j := front.Value.(*job)
		e.runJob(j)
	}
}

func (e *Executor) runJob(j *job) {
	j.handle.tracker.Start()
	e.emit(j.ctx, notify.TypeOperationStarted, j.name, nil)

	start := time.Now()
	result := e.runWithBreaker(j)
	elapsed := time.Since(start)

	if result.Success {
		j.handle.tracker.Complete()
		e.emit(j.ctx, notify.TypeOperationComplete, j.name, nil)
	} else if result.Err != nil && errors.Is(result.Err, core.ErrOperationCancelled) && errors.Is(j.ctx.Err(), context.DeadlineExceeded) {
		// The executor's own per-operation deadline tripped, not an
		// explicit Handle.Cancel: spec §5 requires this recorded as a
		// failed operation with a timeout error, not a cancellation.
		result.Err = core.NewFrameworkError("Executor.runJob", "executor", core.ErrTimeout)
		j.handle.tracker.Fail(result.Err)
		e.emit(j.ctx, notify.TypeOperationFailed, j.name, result.Err)
	} else if result.Err != nil && errors.Is(result.Err, core.ErrOperationCancelled) {
		j.handle.tracker.Cancel()
		e.emit(j.ctx, notify.TypeOperationFailed, j.name, result.Err)
	} else {
		j.handle.tracker.Fail(result.Err)
		e.emit(j.ctx, notify.TypeOperationFailed, j.name, result.Err)
	}

	e.recordStats(j.name, elapsed, !result.Success)
	j.handle.finish(result)
}

// runWithBreaker executes j's retry loop directly, or through a per-
// operation-name circuit breaker when the executor was configured with
// CircuitBreakers: a persistently failing operation name trips its own
// breaker open and subsequent submissions of that name fail fast with
// core.ErrCircuitBreakerOpen instead of occupying a worker slot through a
// full retry cycle.
func (e *Executor) runWithBreaker(j *job) retry.Result {
	if !e.breakersEnabled {
		return retry.Execute(j.ctx, j.policy, j.runner)
	}

	cb := e.breakerFor(j.name)
	var result retry.Result
	started := make(chan struct{})
	finished := make(chan struct{})
	cbErr := cb.Execute(j.ctx, func() error {
		close(started)
		defer close(finished)
		result = retry.Execute(j.ctx, j.policy, j.runner)
		return result.Err
	})
	if errors.Is(cbErr, core.ErrCircuitBreakerOpen) {
		select {
		case <-started:
		default:
			return retry.Result{Err: cbErr}
		}
	}
	// The breaker can return as soon as j.ctx is done, before the retry loop
	// has produced its result; wait for that result.
	<-finished
	return result
}

// breakerFor returns the core.CircuitBreaker guarding operation name,
// creating one (backed by resilience.CircuitBreaker) on first use. The
// executor programs against the core interface so any core.CircuitBreaker
// implementation can stand in.
func (e *Executor) breakerFor(name string) core.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if cb, ok := e.breakers[name]; ok {
		return cb
	}
	cfg := resilience.DefaultConfig()
	cfg.Name = name
	cfg.Logger = e.logger
	cb, err := resilience.NewCircuitBreaker(cfg)
	if err != nil {
		// DefaultConfig() always validates; this is unreachable in
		// practice, but fall back to a breaker built from an unmodified
		// DefaultConfig() (name "default") rather than risk a nil
		// dereference on the hot path.
		cb, _ = resilience.NewCircuitBreaker(nil)
	}
	e.breakers[name] = cb
	return cb
}

func (e *Executor) emit(ctx context.Context, typ notify.Type, operationName string, err error) {
	if e.hub == nil {
		return
	}
	level := notify.LevelInfo
	msg := fmt.Sprintf("operation %s: %s", operationName, typ)
	if err != nil {
		level = notify.LevelError
		msg = fmt.Sprintf("operation %s failed: %v", operationName, err)
	}
	_, _ = e.hub.Emit(ctx, typ, level, msg, notify.EmitOptions{Source: "executor"})
}

func (e *Executor) recordStats(name string, d time.Duration, isErr bool) {
	e.statsMu.Lock()
	s, ok := e.stats[name]
	if !ok {
		s = &operationStats{}
		e.stats[name] = s
	}
	e.statsMu.Unlock()
	s.record(d, isErr)

	if e.durationHist != nil {
		e.durationHist.WithLabelValues(name).Observe(d.Seconds())
		outcome := "success"
		if isErr {
			outcome = "error"
		}
		e.opCounter.WithLabelValues(name, outcome).Inc()
	}
}

// Stats returns the statistics recorded for operationName (see
// OperationStats for which fields are windowed).
func (e *Executor) Stats(operationName string) OperationStats {
	e.statsMu.Lock()
	s, ok := e.stats[operationName]
	e.statsMu.Unlock()
	if !ok {
		return OperationStats{}
	}
	return s.snapshot()
}

// ExecuteBatch runs one operation per item, bounded by opts.Concurrency,
// and returns per-item results in item order (not completion order).
func (e *Executor) ExecuteBatch(ctx context.Context, items []BatchItem, runner BatchRunner, opts BatchOptions) []BatchResult {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = e.concurrency
	}
	operationName := opts.OperationName
	if operationName == "" {
		operationName = "batch"
	}

	results := make([]BatchResult, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var completed batchCounter

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			attemptResult := retry.Execute(ctx, retry.Policy{MaxAttempts: 1}, func(ctx context.Context) (interface{}, error) {
				return runner(ctx, item)
			})
			elapsed := time.Since(start)

			results[i] = BatchResult{
				ItemID:     item.ID,
				Success:    attemptResult.Success,
				Value:      attemptResult.Value,
				Error:      attemptResult.Err,
				Attempts:   attemptResult.Attempts,
				DurationMS: elapsed.Milliseconds(),
			}

			e.recordStats(operationName, elapsed, !attemptResult.Success)

			done := completed.add(1)
			if opts.OnProgress != nil {
				opts.OnProgress(done, len(items))
			}
		}(i, item)
	}
	wg.Wait()

	return results
}

// batchCounter is a tiny mutex-guarded counter local to ExecuteBatch.
type batchCounter struct {
	mu sync.Mutex
	n  int
}

func (c *batchCounter) add(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
	return c.n
}

// Shutdown stops accepting new submissions, cancels every in-flight and
// queued operation, and waits for workers to drain or ctx to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopping = true
	e.rootCancel()
	e.cond.Broadcast()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workersWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
