package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the sync service runtime. It supports
// three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("sync-runtime"),
//	    WithMaxConcurrentOperations(8),
//	    WithRetryDefaults(RetryDefaultsConfig{MaxAttempts: 5, Strategy: "exponential"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Name      string `json:"name" env:"SYNCRT_NAME"`
	ID        string `json:"id" env:"SYNCRT_ID"`
	Namespace string `json:"namespace" env:"SYNCRT_NAMESPACE" default:"default"`

	// Executor holds bounded-concurrency settings for the Operation Executor.
	Executor ExecutorConfig `json:"executor"`

	// Health holds the Health Aggregator's polling settings.
	Health HealthConfig `json:"health"`

	// Notify holds the Notification Hub's buffering and delivery settings.
	Notify NotifyConfig `json:"notify"`

	// Service holds Sync Service Host lifecycle settings.
	Service ServiceConfig `json:"service"`

	// RetryDefaults are applied to every Retry Engine policy that does not
	// explicitly override a field.
	RetryDefaults RetryDefaultsConfig `json:"retry_defaults"`

	// ContentTypes describes the transfer classes the Transfer Planner
	// operates over. Order determines planning priority precedence when
	// two content types carry the same weight.
	ContentTypes []ContentTypeConfig `json:"content_types"`

	// Logging configuration.
	Logging LoggingConfig `json:"logging"`

	// Development configuration.
	Development DevelopmentConfig `json:"development"`

	logger Logger `json:"-"`
}

// ExecutorConfig controls the Operation Executor's worker pool.
type ExecutorConfig struct {
	MaxConcurrentOperations int           `json:"max_concurrent_operations" env:"SYNCRT_MAX_CONCURRENT_OPERATIONS" default:"5"`
	OperationTimeout        time.Duration `json:"operation_timeout" env:"SYNCRT_OPERATION_TIMEOUT" default:"30m"`
}

// HealthConfig controls the Health Aggregator.
type HealthConfig struct {
	CheckInterval time.Duration `json:"check_interval" env:"SYNCRT_HEALTH_CHECK_INTERVAL" default:"5m"`
	ProbeTimeout  time.Duration `json:"probe_timeout" env:"SYNCRT_PROBE_TIMEOUT" default:"5s"`
}

// NotifyConfig controls the Notification Hub.
type NotifyConfig struct {
	RingCapacity    int           `json:"ring_capacity" env:"SYNCRT_NOTIFICATION_RING_CAPACITY" default:"1000"`
	ChannelTimeout  time.Duration `json:"channel_send_timeout" env:"SYNCRT_CHANNEL_SEND_TIMEOUT" default:"10s"`
	RetryAttempts   int           `json:"channel_retry_attempts" env:"SYNCRT_CHANNEL_RETRY_ATTEMPTS" default:"3"`
}

// ServiceConfig controls the Sync Service Host's lifecycle.
type ServiceConfig struct {
	ShutdownGracePeriod time.Duration `json:"shutdown_grace_period" env:"SYNCRT_SHUTDOWN_GRACE_PERIOD" default:"30s"`
}

// RetryDefaultsConfig is the Retry Engine's default Policy (spec §4.1),
// used by any Operation Executor submission that doesn't supply its own.
type RetryDefaultsConfig struct {
	Strategy    string        `json:"strategy" env:"SYNCRT_RETRY_STRATEGY" default:"exponential"`
	Jitter      string        `json:"jitter" env:"SYNCRT_RETRY_JITTER" default:"equal"`
	MaxAttempts int           `json:"max_attempts" env:"SYNCRT_RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `json:"base_delay" env:"SYNCRT_RETRY_BASE_DELAY" default:"1s"`
	MaxDelay    time.Duration `json:"max_delay" env:"SYNCRT_RETRY_MAX_DELAY" default:"30s"`
	Multiplier  float64       `json:"multiplier" env:"SYNCRT_RETRY_MULTIPLIER" default:"2.0"`
}

// ContentTypeConfig describes one content type the Transfer Planner plans
// for: which extensions it claims, its baseline priority weight, and an
// optional per-type bandwidth cap.
type ContentTypeConfig struct {
	Name                   string   `json:"name"`
	Extensions             []string `json:"extensions"`
	PriorityWeight         int      `json:"priority_weight"`
	BandwidthLimitBytesSec int64    `json:"bandwidth_limit_bytes_per_sec"`
	MaxSizeBytes           int64    `json:"max_size_bytes"`
	Schedule               string   `json:"schedule"`
	Direction              string   `json:"direction"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" env:"SYNCRT_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"SYNCRT_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"SYNCRT_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"SYNCRT_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.000Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
// WARNING: never enable development mode in production.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"SYNCRT_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"SYNCRT_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"SYNCRT_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring the runtime. Options are
// applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults. Running
// inside a container flips the logging format to JSON and disables
// development mode; a bare local run defaults to human-readable text logs
// and development mode enabled.
func DefaultConfig() *Config {
	cfg := &Config{
		Name:      "syncrt",
		Namespace: "default",
		Executor: ExecutorConfig{
			MaxConcurrentOperations: DefaultMaxConcurrentOps,
			OperationTimeout:        DefaultOperationTimeout,
		},
		Health: HealthConfig{
			CheckInterval: DefaultHealthCheckInterval,
			ProbeTimeout:  DefaultProbeTimeout,
		},
		Notify: NotifyConfig{
			RingCapacity:  DefaultNotificationRingCap,
			ChannelTimeout: DefaultChannelSendTimeout,
			RetryAttempts: DefaultChannelRetryAttempts,
		},
		Service: ServiceConfig{
			ShutdownGracePeriod: DefaultShutdownGrace,
		},
		RetryDefaults: RetryDefaultsConfig{
			Strategy:    "exponential",
			Jitter:      "equal",
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		},
		Development: DevelopmentConfig{},
	}

	cfg.DetectEnvironment()
	return cfg
}

// DetectEnvironment adjusts defaults based on the detected execution
// environment. Containerized environments (anything setting the
// conventional container marker env vars) get JSON logs and development
// mode off; everything else is treated as a local developer run.
func (c *Config) DetectEnvironment() {
	containerized := os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("container") != ""
	if containerized {
		c.Logging.Format = "json"
		c.Development.Enabled = false
		return
	}
	c.Logging.Format = "text"
	c.Development.Enabled = true
	c.Development.PrettyLogs = true
}

// LoadFromEnv overlays environment variable values onto the configuration.
// Values already set via functional options are not visited by LoadFromEnv
// directly; call it before applying options if options should win, or after
// if environment variables should win.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SYNCRT_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("SYNCRT_ID"); v != "" {
		c.ID = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvMaxConcurrentOps); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvMaxConcurrentOps, v))
		}
		c.Executor.MaxConcurrentOperations = n
	}
	if v := os.Getenv(EnvOperationTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvOperationTimeout, v))
		}
		c.Executor.OperationTimeout = d
	}
	if v := os.Getenv(EnvHealthCheckInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvHealthCheckInterval, v))
		}
		c.Health.CheckInterval = d
	}
	if v := os.Getenv(EnvProbeTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvProbeTimeout, v))
		}
		c.Health.ProbeTimeout = d
	}
	if v := os.Getenv(EnvShutdownGracePeriod); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvShutdownGracePeriod, v))
		}
		c.Service.ShutdownGracePeriod = d
	}
	if v := os.Getenv(EnvNotificationRingCap); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvNotificationRingCap, v))
		}
		c.Notify.RingCapacity = n
	}
	if v := os.Getenv(EnvChannelSendTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvChannelSendTimeout, v))
		}
		c.Notify.ChannelTimeout = d
	}
	if v := os.Getenv(EnvChannelRetryAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", "config", fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, EnvChannelRetryAttempts, v))
		}
		c.Notify.RetryAttempts = n
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.Enabled = parseBool(v)
	}
	return nil
}

// Validate checks the configuration for consistency, returning a
// *FrameworkError wrapping ErrInvalidConfiguration or ErrMissingConfiguration
// on the first problem found.
func (c *Config) Validate() error {
	if c.Name == "" {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: runtime name is required", ErrMissingConfiguration))
	}
	if c.Executor.MaxConcurrentOperations <= 0 {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: max_concurrent_operations must be positive, got %d", ErrInvalidConfiguration, c.Executor.MaxConcurrentOperations))
	}
	if c.Executor.OperationTimeout <= 0 {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: operation_timeout must be positive", ErrInvalidConfiguration))
	}
	if c.Notify.RingCapacity <= 0 {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: notification_ring_capacity must be positive", ErrInvalidConfiguration))
	}
	switch c.RetryDefaults.Strategy {
	case "fixed", "linear", "exponential":
	default:
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: unknown retry strategy %q", ErrInvalidConfiguration, c.RetryDefaults.Strategy))
	}
	switch c.RetryDefaults.Jitter {
	case "none", "full", "equal", "decorrelated":
	default:
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: unknown retry jitter %q", ErrInvalidConfiguration, c.RetryDefaults.Jitter))
	}
	if c.RetryDefaults.MaxAttempts < 1 {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalidConfiguration))
	}
	seen := make(map[string]bool, len(c.ContentTypes))
	for _, ct := range c.ContentTypes {
		if ct.Name == "" {
			return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: content type with empty name", ErrInvalidConfiguration))
		}
		if seen[ct.Name] {
			return NewFrameworkError("Config.Validate", "config", fmt.Errorf("%w: duplicate content type %q", ErrInvalidConfiguration, ct.Name))
		}
		seen[ct.Name] = true
	}
	return nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

// WithName sets the runtime's name, used in logs and telemetry resource
// attributes.
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidConfiguration)
		}
		c.Name = name
		return nil
	}
}

// WithMaxConcurrentOperations bounds the Operation Executor's worker pool.
func WithMaxConcurrentOperations(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max concurrent operations must be positive, got %d", ErrInvalidConfiguration, n)
		}
		c.Executor.MaxConcurrentOperations = n
		return nil
	}
}

// WithOperationTimeout sets the default per-operation deadline.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: operation timeout must be positive", ErrInvalidConfiguration)
		}
		c.Executor.OperationTimeout = d
		return nil
	}
}

// WithHealthCheckInterval sets how often the Health Aggregator polls probes.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: health check interval must be positive", ErrInvalidConfiguration)
		}
		c.Health.CheckInterval = d
		return nil
	}
}

// WithProbeTimeout sets the per-probe timeout used by the Health Aggregator.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: probe timeout must be positive", ErrInvalidConfiguration)
		}
		c.Health.ProbeTimeout = d
		return nil
	}
}

// WithShutdownGracePeriod sets how long Stop waits for in-flight operations
// before forcing cancellation.
func WithShutdownGracePeriod(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("%w: shutdown grace period must not be negative", ErrInvalidConfiguration)
		}
		c.Service.ShutdownGracePeriod = d
		return nil
	}
}

// WithNotificationRingCapacity sets the Notification Hub's ring buffer size.
func WithNotificationRingCapacity(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: notification ring capacity must be positive", ErrInvalidConfiguration)
		}
		c.Notify.RingCapacity = n
		return nil
	}
}

// WithChannelSendTimeout sets the per-channel delivery timeout.
func WithChannelSendTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: channel send timeout must be positive", ErrInvalidConfiguration)
		}
		c.Notify.ChannelTimeout = d
		return nil
	}
}

// WithChannelRetryAttempts sets how many delivery attempts the Notification
// Hub makes per channel for one event, counting the first send. Zero leaves
// the hub's default of DefaultChannelRetryAttempts.
func WithChannelRetryAttempts(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("%w: channel retry attempts must not be negative", ErrInvalidConfiguration)
		}
		c.Notify.RetryAttempts = n
		return nil
	}
}

// WithRetryDefaults overrides the runtime-wide default retry policy.
func WithRetryDefaults(defaults RetryDefaultsConfig) Option {
	return func(c *Config) error {
		c.RetryDefaults = defaults
		return nil
	}
}

// WithContentType appends a content type definition for the Transfer
// Planner.
func WithContentType(ct ContentTypeConfig) Option {
	return func(c *Config) error {
		if ct.Name == "" {
			return fmt.Errorf("%w: content type name must not be empty", ErrInvalidConfiguration)
		}
		c.ContentTypes = append(c.ContentTypes, ct)
		return nil
	}
}

// WithLogLevel sets the minimum logged level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the log output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		if format != "json" && format != "text" {
			return fmt.Errorf("%w: log format must be json or text, got %q", ErrInvalidConfiguration, format)
		}
		c.Logging.Format = format
		return nil
	}
}

// WithDevelopmentMode toggles development-friendly defaults.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
			c.Development.PrettyLogs = true
			c.Development.DebugLogging = true
		}
		return nil
	}
}

// WithLogger overrides the configuration-time logger (used for validation
// and startup diagnostics, separate from the runtime Logger each component
// receives).
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig builds a Config starting from DefaultConfig, applying
// environment variables, then applying opts in order. Returns the first
// validation error encountered.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, NewFrameworkError("NewConfig", "config", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProductionLogger is the default Logger/ComponentAwareLogger implementation:
// structured JSON in containerized environments, human-readable text
// locally, with an optional metrics layer enabled once telemetry registers
// itself via SetMetricsRegistry.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	l := &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       dev.DebugLogging || logging.Level == "debug",
		serviceName: serviceName,
		format:      logging.Format,
		output:      output,
	}
	trackLogger(l)
	return l
}

// EnableMetrics is called by the telemetry package once a MetricsRegistry
// is available.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

// WithComponent returns a logger tagged with the given component name,
// sharing this logger's output configuration.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	// Info/Warn/Error below the configured level are dropped; Debug output
	// stays governed by p.debug.
	ranks := map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}
	if min, ok := ranks[p.level]; ok && level != "DEBUG" && ranks[strings.ToLower(level)] < min {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)
	component := p.component
	if component == "" {
		component = "runtime"
	}

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": component,
			"message":   msg,
		}
		if ctx != nil && p.metricsEnabled {
			for k, v := range getContextBaggage(ctx) {
				logEntry["trace."+k] = v
			}
		}
		for k, v := range fields {
			logEntry[k] = v
		}
		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s%s\n",
			timestamp, level, p.serviceName, component, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitRuntimeMetric(level, component, ctx)
	}
}

func (p *ProductionLogger) emitRuntimeMetric(level, component string, ctx context.Context) {
	labels := []string{"level", level, "service", p.serviceName, "component", component}
	if ctx != nil {
		emitMetricWithContext(ctx, "syncrt.runtime.log_events", 1.0, labels...)
	} else {
		emitMetric("syncrt.runtime.log_events", 1.0, labels...)
	}
}

func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
