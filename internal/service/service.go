// Package service implements the Sync Service Host (spec §4.8): the
// lifecycle state machine that wires the Scheduler, Notification Hub,
// Health Aggregator, Operation Executor, and Transfer Planner to a
// plugged-in agent, and owns their configuration, logger, and shutdown.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/dangerprep/syncrt/internal/executor"
	"github.com/dangerprep/syncrt/internal/health"
	"github.com/dangerprep/syncrt/internal/notify"
	"github.com/dangerprep/syncrt/internal/planner"
	"github.com/dangerprep/syncrt/internal/progress"
	"github.com/dangerprep/syncrt/internal/retry"
	"github.com/dangerprep/syncrt/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// State is one of the Sync Service Host's lifecycle states (spec §4.8).
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// Transferor drives one PlannedTransfer to completion, reporting progress
// through the supplied tracker and honoring ctx cancellation (spec §6).
// limiter is non-nil when the content type carries a bandwidth cap (spec
// §1); a Transferor moving bytes in chunks should call limiter.WaitN(ctx,
// n) before sending each chunk.
type Transferor interface {
	Transfer(ctx context.Context, pt planner.PlannedTransfer, tracker *progress.Tracker, limiter *rate.Limiter) error
}

// TransferorFunc adapts a function to a Transferor.
type TransferorFunc func(ctx context.Context, pt planner.PlannedTransfer, tracker *progress.Tracker, limiter *rate.Limiter) error

func (f TransferorFunc) Transfer(ctx context.Context, pt planner.PlannedTransfer, tracker *progress.Tracker, limiter *rate.Limiter) error {
	return f(ctx, pt, tracker, limiter)
}

// Config wires an agent into the runtime. Executor, Scheduler,
// Notification Hub, and Health Aggregator are built and owned by the Host;
// the agent supplies content types, a SourceProvider, a Transferor, and
// optional extra components/probes/channels (spec §4.8's "concurrency
// surface exposed to agents": the host owns these, agents register into
// them, they never create their own).
type Config struct {
	Core *core.Config

	Logger    core.Logger
	Telemetry core.Telemetry

	ContentTypes []planner.ContentType
	Source       planner.SourceProvider
	Transferor   Transferor

	// Components are initialized, in order, during Start before health
	// probes and scheduled tasks are registered (spec §4.8 step
	// "initialize agent components").
	Components []core.Component

	// HealthProbes and Channels are registered during Start, after
	// Components are initialized.
	HealthProbes []health.Component
	Channels     []notify.Channel

	// ExecutorMetrics optionally wires the executor's Prometheus export;
	// nil disables it.
	ExecutorMetrics prometheus.Registerer
}

// Host is the Sync Service Host (spec §4.8).
type Host struct {
	mu    sync.Mutex
	state State

	cfg    *core.Config
	logger core.Logger
	tel    core.Telemetry

	contentTypes []planner.ContentType
	source       planner.SourceProvider
	transferor   Transferor
	components   []core.Component
	probes       []health.Component
	channels     []notify.Channel
	execMetrics  prometheus.Registerer

	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	hub       *notify.Hub
	aggreg    *health.Aggregator
	limiters  map[string]*rate.Limiter

	startedAt    time.Time
	healthStop   chan struct{}
	healthDone   chan struct{}
	cycleRunning map[string]bool
	cycleMu      sync.Mutex
}

// New constructs a Host in the created state. Nothing is started until
// Start is called.
func New(cfg Config) (*Host, error) {
	if cfg.Core == nil {
		cfg.Core = core.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	h := &Host{
		state:        StateCreated,
		cfg:          cfg.Core,
		logger:       logger,
		tel:          cfg.Telemetry,
		contentTypes: cfg.ContentTypes,
		source:       cfg.Source,
		transferor:   cfg.Transferor,
		components:   cfg.Components,
		probes:       cfg.HealthProbes,
		channels:     cfg.Channels,
		execMetrics:  cfg.ExecutorMetrics,
		cycleRunning: make(map[string]bool),
	}
	return h, nil
}

// State returns the Host's current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start validates configuration, builds and wires the Scheduler,
// Notification Hub, Health Aggregator, and Operation Executor, initializes
// agent components, registers health probes/notification channels/
// scheduled tasks, and finally transitions to running (spec §4.8). Any
// failure transitions to failed after emitting a service_error
// notification and tearing down whatever was partially started.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateCreated {
		h.mu.Unlock()
		return core.NewFrameworkError("Host.Start", "service", core.ErrAlreadyStarted)
	}
	h.state = StateInitializing
	h.mu.Unlock()

	// Built first so a failed validation can still emit service_error.
	h.hub = notify.New(notify.Config{
		RingCapacity:   h.cfg.Notify.RingCapacity,
		ChannelTimeout: h.cfg.Notify.ChannelTimeout,
		RetryAttempts:  h.cfg.Notify.RetryAttempts,
		Logger:         h.logger,
	})

	if err := h.cfg.Validate(); err != nil {
		return h.fail(ctx, err)
	}
	if len(h.contentTypes) > 0 && (h.source == nil || h.transferor == nil) {
		return h.fail(ctx, fmt.Errorf("%w: content types configured without a SourceProvider and Transferor", core.ErrMissingConfiguration))
	}

	h.aggreg = health.New(health.Config{
		ProbeTimeout: h.cfg.Health.ProbeTimeout,
		Logger:       h.logger,
		Hub:          h.hub,
	})

	h.scheduler = scheduler.New(h.logger)

	h.executor = executor.New(executor.Config{
		Concurrency:      h.cfg.Executor.MaxConcurrentOperations,
		Logger:           h.logger,
		Hub:              h.hub,
		OperationTimeout: h.cfg.Executor.OperationTimeout,
		CircuitBreakers:  true,
		Metrics:          h.execMetrics,
	})

	h.limiters = buildLimiters(h.contentTypes)

	for _, c := range h.components {
		if err := c.Initialize(ctx); err != nil {
			return h.fail(ctx, fmt.Errorf("initializing component %s: %w", c.Name(), err))
		}
	}

	for _, p := range h.probes {
		h.aggreg.Register(p)
	}

	if err := h.registerScheduledTasks(); err != nil {
		return h.fail(ctx, err)
	}

	for _, ch := range h.channels {
		h.hub.AddChannel(ch)
	}

	h.scheduler.Run()
	h.startHealthLoop(ctx)

	h.mu.Lock()
	h.state = StateRunning
	h.startedAt = time.Now()
	h.mu.Unlock()

	_, _ = h.hub.ServiceStarted(ctx, "service")
	return nil
}

// fail transitions to failed, emits service_error, and returns a wrapped
// error. Any already-started subsystems are torn down best-effort.
func (h *Host) fail(ctx context.Context, err error) error {
	h.mu.Lock()
	h.state = StateFailed
	h.mu.Unlock()

	if h.hub != nil {
		_, _ = h.hub.ServiceError(ctx, "service", err)
	}
	if h.scheduler != nil {
		h.scheduler.DestroyAll()
	}
	if h.executor != nil {
		_ = h.executor.Shutdown(context.Background())
	}
	return core.NewFrameworkError("Host.Start", "service", err)
}

// buildLimiters constructs one token-bucket limiter per content type
// carrying a bandwidth cap; burst is set equal to the per-second rate so a
// Transferor can send one second's worth of data before blocking.
func buildLimiters(contentTypes []planner.ContentType) map[string]*rate.Limiter {
	limiters := make(map[string]*rate.Limiter, len(contentTypes))
	for _, ct := range contentTypes {
		if ct.BandwidthLimitBytesSec <= 0 {
			continue
		}
		limiters[ct.Name] = rate.NewLimiter(rate.Limit(ct.BandwidthLimitBytesSec), int(ct.BandwidthLimitBytesSec))
	}
	return limiters
}

// registerScheduledTasks registers one scheduler task per content type
// carrying a non-empty Schedule, each running a sync cycle scoped to that
// content type alone (spec §3/§4.3/§4.8 data flow: "Scheduler fires a
// trigger -> Host consults Planner to build a plan").
func (h *Host) registerScheduledTasks() error {
	for _, ct := range h.contentTypes {
		if ct.Schedule == "" {
			continue
		}
		name := ct.Name
		err := h.scheduler.Schedule(name, ct.Schedule, func() {
			h.runCycle(context.Background(), name)
		}, scheduler.Options{Name: name})
		if err != nil {
			return fmt.Errorf("scheduling content type %s: %w", name, err)
		}
	}
	return nil
}

// startHealthLoop launches the periodic health.Check cadence (spec §4.5)
// until Stop or ctx is done.
func (h *Host) startHealthLoop(ctx context.Context) {
	h.healthStop = make(chan struct{})
	h.healthDone = make(chan struct{})
	interval := h.cfg.Health.CheckInterval
	if interval <= 0 {
		interval = core.DefaultHealthCheckInterval
	}

	go func() {
		defer close(h.healthDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.healthStop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.aggreg.Check(ctx)
			}
		}
	}()
}

// Stop transitions running -> stopping -> stopped: stops the scheduler
// (rejecting new fires), cancels all in-flight operations, waits up to the
// configured shutdown grace period for them to drain, closes the
// notification hub, and sets stopped (spec §4.8).
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return core.NewFrameworkError("Host.Stop", "service", core.ErrNotRunning)
	}
	h.state = StateStopping
	h.mu.Unlock()

	h.scheduler.DestroyAll()

	if h.healthStop != nil {
		close(h.healthStop)
		<-h.healthDone
	}

	grace := h.cfg.Service.ShutdownGracePeriod
	if grace <= 0 {
		grace = core.DefaultShutdownGrace
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	shutdownErr := h.executor.Shutdown(drainCtx)

	_, _ = h.hub.ServiceStopped(ctx, "service")
	h.hub.Close()

	h.mu.Lock()
	h.state = StateStopped
	h.mu.Unlock()

	return shutdownErr
}

// Submit exposes the Operation Executor to callers outside a scheduled
// sync cycle. Rejected while not running (spec §4.8: "while stopping or
// stopped, submit() is rejected").
func (h *Host) Submit(ctx context.Context, operationName string, runner executor.Runner, opts executor.SubmitOptions) (*executor.Handle, error) {
	h.mu.Lock()
	running := h.state == StateRunning
	h.mu.Unlock()
	if !running {
		return nil, core.NewFrameworkError("Host.Submit", "service", core.ErrNotRunning)
	}
	return h.executor.Submit(ctx, operationName, runner, opts)
}

// RunCycle plans and submits transfers for the named content types (all
// configured content types if names is empty), blocking until every
// submitted transfer has been handed to the executor queue (not until
// they complete). Used both by the scheduled-task path and for an
// on-demand cycle triggered by an agent's own API surface.
func (h *Host) RunCycle(ctx context.Context, names ...string) ([]*executor.Handle, error) {
	h.mu.Lock()
	running := h.state == StateRunning
	h.mu.Unlock()
	if !running {
		return nil, core.NewFrameworkError("Host.RunCycle", "service", core.ErrNotRunning)
	}

	selected := h.selectContentTypes(names)
	plan, err := planner.Plan(ctx, selected, h.source)
	if err != nil {
		return nil, err
	}
	for _, w := range plan.Warnings {
		h.logger.Warn("service: plan warning", map[string]interface{}{"warning": w})
	}

	handles := make([]*executor.Handle, 0, len(plan.Transfers))
	for _, pt := range plan.Transfers {
		handle, submitErr := h.submitTransfer(ctx, pt)
		if submitErr != nil {
			return handles, submitErr
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// submitTransfer builds one tracker for pt and shares it between the
// Transferor (which drives it directly) and the executor's Handle (so
// Handle.CurrentProgress reflects the Transferor's own updates).
func (h *Host) submitTransfer(ctx context.Context, pt planner.PlannedTransfer) (*executor.Handle, error) {
	tracker := progress.New(progress.Config{TotalBytes: pt.EstimatedBytes, Logger: h.logger})
	limiter := h.limiters[pt.ContentType]
	return h.executor.Submit(ctx, pt.ContentType, func(ctx context.Context) (interface{}, error) {
		return nil, h.transferor.Transfer(ctx, pt, tracker, limiter)
	}, executor.SubmitOptions{
		RetryPolicy: h.defaultRetryPolicy(),
		Tracker:     tracker,
	})
}

func (h *Host) defaultRetryPolicy() *retry.Policy {
	d := h.cfg.RetryDefaults
	return &retry.Policy{
		MaxAttempts: d.MaxAttempts,
		BaseDelay:   d.BaseDelay,
		MaxDelay:    d.MaxDelay,
		Strategy:    retry.Strategy(d.Strategy),
		Multiplier:  d.Multiplier,
		Jitter:      retry.Jitter(d.Jitter),
	}
}

func (h *Host) selectContentTypes(names []string) []planner.ContentType {
	if len(names) == 0 {
		return h.contentTypes
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make([]planner.ContentType, 0, len(names))
	for _, ct := range h.contentTypes {
		if want[ct.Name] {
			out = append(out, ct)
		}
	}
	return out
}

// runCycle is the scheduler-fired entry point: it runs synchronously and
// awaits every submitted transfer so the scheduler's drop-if-running
// collision policy (spec §4.3) applies to the whole cycle, not just
// enqueueing it. A cycle already running for this content type is skipped
// defensively even though the scheduler itself already enforces this via
// cron.SkipIfStillRunning.
func (h *Host) runCycle(ctx context.Context, name string) {
	h.cycleMu.Lock()
	if h.cycleRunning[name] {
		h.cycleMu.Unlock()
		return
	}
	h.cycleRunning[name] = true
	h.cycleMu.Unlock()
	defer func() {
		h.cycleMu.Lock()
		delete(h.cycleRunning, name)
		h.cycleMu.Unlock()
	}()

	handles, err := h.RunCycle(ctx, name)
	if err != nil {
		h.logger.Error("service: scheduled cycle failed", map[string]interface{}{"content_type": name, "error": err.Error()})
		return
	}
	for _, hd := range handles {
		_, _ = hd.AwaitResult(ctx)
	}
}

// Health returns the current health report, running a check on demand
// (spec "Observable surface: current health report").
func (h *Host) Health(ctx context.Context) health.Report {
	return h.aggreg.Check(ctx)
}

// HealthMetrics returns the Health Aggregator's aggregate check history.
func (h *Host) HealthMetrics() health.Metrics {
	return h.aggreg.Metrics()
}

// RecentNotifications returns up to limit most-recent notification events.
func (h *Host) RecentNotifications(limit int) []notify.Event {
	return h.hub.Recent(limit)
}

// RecentNotificationsFiltered applies filter criteria to the notification
// ring buffer.
func (h *Host) RecentNotificationsFiltered(filter notify.RecentFilter) []notify.Event {
	return h.hub.RecentFiltered(filter)
}

// ScheduledTasks returns the Scheduler's task statuses.
func (h *Host) ScheduledTasks() []scheduler.TaskStatus {
	return h.scheduler.Status()
}

// ExecutorStats returns the Operation Executor's statistics for the given
// operation (content type) name.
func (h *Host) ExecutorStats(operationName string) executor.OperationStats {
	return h.executor.Stats(operationName)
}

// Uptime returns how long the Host has been running; zero before Start
// completes.
func (h *Host) Uptime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startedAt.IsZero() {
		return 0
	}
	return time.Since(h.startedAt)
}
