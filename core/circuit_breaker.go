// Circuit breaker pattern:
// 1. Closed: Normal operation, requests pass through
// 2. Open: Threshold exceeded, requests fail immediately
// 3. Half-Open: Testing if the downstream recovered, limited requests allowed
//
// Implementations wrap operations with Execute() or ExecuteWithTimeout() to
// automatically handle failures, timeouts, and state transitions.
package core

import (
	"context"
	"time"
)

// CircuitBreaker provides circuit breaker functionality for fault tolerance.
// Implementations should protect against cascading failures by temporarily
// blocking requests when a threshold of failures is reached.
type CircuitBreaker interface {
	// Execute runs the provided function with circuit breaker protection.
	// If the circuit is open, it returns ErrCircuitBreakerOpen immediately.
	Execute(ctx context.Context, fn func() error) error

	// ExecuteWithTimeout runs the function with both circuit breaker protection
	// and a timeout.
	ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error

	// GetState returns the current circuit breaker state: "closed", "open",
	// or "half-open".
	GetState() string

	// GetMetrics returns current metrics about the circuit breaker.
	GetMetrics() map[string]interface{}

	// Reset manually resets the circuit breaker to closed state.
	Reset()

	// CanExecute returns true if the circuit breaker would allow execution.
	CanExecute() bool
}

// CircuitBreakerConfig holds the basic threshold/timeout settings shared by
// CircuitBreaker implementations. The resilience package's richer
// CircuitBreakerConfig (sliding window, half-open request budget) is the
// production implementation; this smaller struct is what callers wire
// through CircuitBreakerParams when they only need the coarse knobs.
type CircuitBreakerConfig struct {
	Enabled          bool
	Threshold        int
	Timeout          time.Duration
	HalfOpenRequests int
}

// CircuitBreakerParams provides parameters for circuit breaker
// implementations: the basic config plus implementation-specific
// dependencies like Logger and Telemetry.
type CircuitBreakerParams struct {
	Name string

	Config CircuitBreakerConfig

	Logger    Logger
	Telemetry Telemetry
}

// DefaultCircuitBreakerParams returns sensible defaults for circuit breaker
// parameters.
func DefaultCircuitBreakerParams(name string) CircuitBreakerParams {
	return CircuitBreakerParams{
		Name: name,
		Config: CircuitBreakerConfig{
			Enabled:          true,
			Threshold:        5,
			Timeout:          30 * time.Second,
			HalfOpenRequests: 3,
		},
	}
}
