package core

import "time"

// Environment variable names. LoadFromEnv reads all of them except
// EnvBandwidthLimitBytesSec, which nothing in the module reads.
const (
	EnvDevMode                = "SYNCRT_DEV_MODE"
	EnvLogLevel               = "SYNCRT_LOG_LEVEL"
	EnvLogFormat              = "SYNCRT_LOG_FORMAT"
	EnvMaxConcurrentOps       = "SYNCRT_MAX_CONCURRENT_OPERATIONS"
	EnvOperationTimeout       = "SYNCRT_OPERATION_TIMEOUT"
	EnvHealthCheckInterval    = "SYNCRT_HEALTH_CHECK_INTERVAL"
	EnvShutdownGracePeriod    = "SYNCRT_SHUTDOWN_GRACE_PERIOD"
	EnvNotificationRingCap    = "SYNCRT_NOTIFICATION_RING_CAPACITY"
	EnvChannelSendTimeout     = "SYNCRT_CHANNEL_SEND_TIMEOUT"
	EnvChannelRetryAttempts   = "SYNCRT_CHANNEL_RETRY_ATTEMPTS"
	EnvProbeTimeout           = "SYNCRT_PROBE_TIMEOUT"
	EnvBandwidthLimitBytesSec = "SYNCRT_BANDWIDTH_LIMIT_BYTES_PER_SEC"
)

// Default timing constants, used when neither an Option nor an environment
// variable overrides them (spec §6).
const (
	DefaultOperationTimeout     = 30 * time.Minute
	DefaultHealthCheckInterval  = 5 * time.Minute
	DefaultShutdownGrace        = 30 * time.Second
	DefaultChannelSendTimeout   = 10 * time.Second
	DefaultProbeTimeout         = 5 * time.Second
	DefaultNotificationRingCap  = 1000
	DefaultChannelRetryAttempts = 3
	DefaultMaxConcurrentOps     = 5
)
