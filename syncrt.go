// Package syncrt is a lightweight meta-package that re-exports the sync
// service runtime's public surface from its internal subpackages. Most
// callers only need this package: construct a Runtime with Options, wire in
// a SourceProvider/Transferor, and call Start/Stop.
package syncrt

import (
	"context"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/dangerprep/syncrt/internal/executor"
	"github.com/dangerprep/syncrt/internal/health"
	"github.com/dangerprep/syncrt/internal/notify"
	"github.com/dangerprep/syncrt/internal/planner"
	"github.com/dangerprep/syncrt/internal/progress"
	"github.com/dangerprep/syncrt/internal/scheduler"
	"github.com/dangerprep/syncrt/internal/service"
)

// Re-export configuration types.
type (
	Config               = core.Config
	Option                = core.Option
	ContentTypeConfig    = core.ContentTypeConfig
	RetryDefaultsConfig  = core.RetryDefaultsConfig
	ExecutorConfig       = core.ExecutorConfig
	HealthConfig         = core.HealthConfig
	NotifyConfig         = core.NotifyConfig
	ServiceConfig        = core.ServiceConfig
	LoggingConfig        = core.LoggingConfig
	DevelopmentConfig    = core.DevelopmentConfig
)

// Re-export ambient interfaces.
type (
	Logger    = core.Logger
	Telemetry = core.Telemetry
	Span      = core.Span
	Component = core.Component
)

// Re-export domain types from the component packages, so callers never
// need to import internal/* directly to use the public API.
type (
	Direction       = planner.Direction
	Filter          = planner.Filter
	PriorityRule    = planner.PriorityRule
	ContentType     = planner.ContentType
	Item            = planner.Item
	ItemMetadata    = planner.ItemMetadata
	PlannedTransfer = planner.PlannedTransfer
	Plan            = planner.Plan
	SourceProvider  = planner.SourceProvider

	Tracker  = progress.Tracker
	Status   = progress.Status
	Snapshot = progress.Snapshot

	Runner        = executor.Runner
	Handle        = executor.Handle
	SubmitOptions = executor.SubmitOptions
	OperationStats = executor.OperationStats

	HealthProbe = health.Component
	Report      = health.Report

	NotificationEvent = notify.Event
	NotificationType  = notify.Type
	Channel           = notify.Channel
	RecentFilter      = notify.RecentFilter

	TaskStatus = scheduler.TaskStatus

	// Transferor drives one PlannedTransfer to completion.
	Transferor = service.Transferor

	// TransferorFunc adapts a function to a Transferor.
	TransferorFunc = service.TransferorFunc

	// State is a Runtime's lifecycle state.
	State = service.State

	// RuntimeConfig wires content types, a source, and a transferor into
	// a Runtime.
	RuntimeConfig = service.Config
)

// Re-export lifecycle state constants.
const (
	StateCreated      = service.StateCreated
	StateInitializing = service.StateInitializing
	StateRunning      = service.StateRunning
	StateStopping     = service.StateStopping
	StateStopped      = service.StateStopped
	StateFailed       = service.StateFailed
)

// Re-export configuration constructors and options.
var (
	DefaultConfig = core.DefaultConfig
	NewConfig     = core.NewConfig

	WithName                     = core.WithName
	WithMaxConcurrentOperations  = core.WithMaxConcurrentOperations
	WithOperationTimeout         = core.WithOperationTimeout
	WithHealthCheckInterval      = core.WithHealthCheckInterval
	WithProbeTimeout             = core.WithProbeTimeout
	WithShutdownGracePeriod      = core.WithShutdownGracePeriod
	WithNotificationRingCapacity = core.WithNotificationRingCapacity
	WithChannelSendTimeout       = core.WithChannelSendTimeout
	WithChannelRetryAttempts     = core.WithChannelRetryAttempts
	WithRetryDefaults            = core.WithRetryDefaults
	WithContentType              = core.WithContentType
	WithLogLevel                 = core.WithLogLevel
	WithLogFormat                = core.WithLogFormat
	WithDevelopmentMode          = core.WithDevelopmentMode
	WithLogger                   = core.WithLogger
)

// Runtime is the Sync Service Host: the top-level object a program
// constructs, starts, and stops. It wraps internal/service.Host so that
// every other internal/* subpackage stays an implementation detail.
type Runtime struct {
	host *service.Host
}

// New constructs a Runtime in the created state. Call Start before
// submitting operations or running sync cycles.
func New(cfg RuntimeConfig) (*Runtime, error) {
	h, err := service.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Runtime{host: h}, nil
}

// Run is a convenience entry point for a standalone binary: it starts the
// runtime, blocks until ctx is done, then stops it within its configured
// shutdown grace period.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	rt, err := New(cfg)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return rt.Stop(context.Background())
}

func (r *Runtime) State() State { return r.host.State() }

func (r *Runtime) Start(ctx context.Context) error { return r.host.Start(ctx) }

func (r *Runtime) Stop(ctx context.Context) error { return r.host.Stop(ctx) }

func (r *Runtime) Submit(ctx context.Context, operationName string, runner Runner, opts SubmitOptions) (*Handle, error) {
	return r.host.Submit(ctx, operationName, runner, opts)
}

func (r *Runtime) RunCycle(ctx context.Context, names ...string) ([]*Handle, error) {
	return r.host.RunCycle(ctx, names...)
}

func (r *Runtime) Health(ctx context.Context) Report { return r.host.Health(ctx) }

func (r *Runtime) HealthMetrics() health.Metrics { return r.host.HealthMetrics() }

func (r *Runtime) RecentNotifications(limit int) []NotificationEvent {
	return r.host.RecentNotifications(limit)
}

func (r *Runtime) RecentNotificationsFiltered(filter RecentFilter) []NotificationEvent {
	return r.host.RecentNotificationsFiltered(filter)
}

func (r *Runtime) ScheduledTasks() []TaskStatus { return r.host.ScheduledTasks() }

func (r *Runtime) ExecutorStats(operationName string) OperationStats {
	return r.host.ExecutorStats(operationName)
}

func (r *Runtime) Uptime() time.Duration { return r.host.Uptime() }
