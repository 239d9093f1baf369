package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"timeout is transient", ErrTimeout, ClassTransient},
		{"circuit breaker open is transient", ErrCircuitBreakerOpen, ClassTransient},
		{"invalid config is configuration", ErrInvalidConfiguration, ClassConfiguration},
		{"missing config is configuration", ErrMissingConfiguration, ClassConfiguration},
		{"invalid cron is configuration", ErrInvalidCronExpression, ClassConfiguration},
		{"cancelled is precondition", ErrOperationCancelled, ClassPrecondition},
		{"queue full is precondition", ErrQueueFull, ClassPrecondition},
		{"duplicate task id is precondition", ErrDuplicateTaskID, ClassPrecondition},
		{"checksum mismatch is integrity", ErrChecksumMismatch, ClassIntegrity},
		{"truncated transfer is integrity", ErrTruncatedTransfer, ClassIntegrity},
		{"disk full is system", ErrDiskFull, ClassSystem},
		{"permission denied is system", ErrPermissionDenied, ClassSystem},
		{"custom error is unknown", errors.New("boom"), ClassUnknown},
		{"nil is unknown", nil, ClassUnknown},
		{"wrapped transient stays transient", fmt.Errorf("op failed: %w", ErrTimeout), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassifiedErrorOverridesSentinelTable(t *testing.T) {
	base := errors.New("weird upstream blip")
	wrapped := NewClassifiedError(ClassTransient, base)

	if Classify(wrapped) != ClassTransient {
		t.Fatalf("explicit classification should win")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("Unwrap should expose the base error to errors.Is")
	}
}

func TestIsRetryableDefault(t *testing.T) {
	if !IsRetryableDefault(ErrTimeout) {
		t.Error("transient errors must be retryable by default")
	}
	if !IsRetryableDefault(ErrDiskFull) {
		t.Error("system errors must be retryable by default")
	}
	if IsRetryableDefault(ErrInvalidConfiguration) {
		t.Error("configuration errors must never be retryable")
	}
	if IsRetryableDefault(errors.New("unclassified")) {
		t.Error("unclassified errors must never be retried (spec §4.1)")
	}
	if IsRetryableDefault(nil) {
		t.Error("nil is not retryable")
	}
}

func TestIsConfigurationError(t *testing.T) {
	if !IsConfigurationError(ErrInvalidConfiguration) {
		t.Error("expected configuration error")
	}
	if !IsConfigurationError(fmt.Errorf("wrapped: %w", ErrMissingConfiguration)) {
		t.Error("expected wrapped configuration error to be detected")
	}
	if IsConfigurationError(ErrTimeout) {
		t.Error("timeout is not a configuration error")
	}
}

func TestIsStateError(t *testing.T) {
	if !IsStateError(ErrAlreadyStarted) {
		t.Error("expected state error")
	}
	if !IsStateError(ErrNotRunning) {
		t.Error("expected state error")
	}
	if IsStateError(ErrTimeout) {
		t.Error("timeout is not a state error")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrOperationNotFound) {
		t.Error("expected not-found error")
	}
	if !IsNotFound(fmt.Errorf("wrapped: %w", ErrOperationNotFound)) {
		t.Error("expected wrapped not-found error to be detected")
	}
	if IsNotFound(ErrTimeout) {
		t.Error("timeout is not a not-found error")
	}
}

func TestFrameworkErrorFormatting(t *testing.T) {
	err := NewFrameworkError("Scheduler.Schedule", "scheduler", ErrInvalidCronExpression)
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
	if !errors.Is(err, ErrInvalidCronExpression) {
		t.Error("FrameworkError must unwrap to its underlying error")
	}

	withID := &FrameworkError{Op: "Executor.Submit", Kind: "executor", ID: "op-1", Err: ErrQueueFull}
	if withID.Error() == "" {
		t.Error("expected non-empty message with id")
	}
}
