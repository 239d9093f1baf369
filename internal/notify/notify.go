// Package notify implements the runtime's Notification Hub: a ring-buffered
// event log fanned out concurrently to pluggable channels, each isolated by
// its own timeout and retry policy.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/google/uuid"
)

// Level is the severity of a notification event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Type is the event's kind, used for filtering (spec §4.4 recent_filtered).
type Type string

const (
	TypeServiceStarted    Type = "service_started"
	TypeServiceStopped    Type = "service_stopped"
	TypeServiceError      Type = "service_error"
	TypeOperationStarted  Type = "operation_started"
	TypeOperationComplete Type = "operation_completed"
	TypeOperationFailed   Type = "operation_failed"
	TypeHealthChanged     Type = "health_status_changed"
	TypeGeneric           Type = "generic"
)

// DeliveryStatus records one channel's outcome for one event.
type DeliveryStatus struct {
	Channel string
	Success bool
	Error   string
	Attempts int
}

// Event is an immutable notification record.
type Event struct {
	ID        string
	Type      Type
	Level     Level
	Message   string
	Source    string
	Timestamp time.Time
	Metadata  map[string]interface{}

	Deliveries []DeliveryStatus
}

// Channel is a pluggable notification sink. Send must honor ctx
// cancellation/deadline; the hub applies its own per-attempt timeout via
// the context it passes in.
type Channel interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// EmitOptions customizes one emit() call.
type EmitOptions struct {
	Source    string
	Metadata  map[string]interface{}
	// Channels restricts delivery to the named channels. Empty means all
	// currently registered channels.
	Channels []string
}

// Config configures a Hub.
type Config struct {
	RingCapacity   int
	ChannelTimeout time.Duration
	RetryAttempts  int
	Logger         core.Logger
}

// Hub is the Notification Hub (spec §4.4).
type Hub struct {
	mu       sync.Mutex
	capacity int
	timeout  time.Duration
	retries  int
	logger   core.Logger

	ring     []Event
	ringHead int // index of oldest element when full
	ringLen  int

	channels map[string]Channel
	closed   bool
}

// New constructs a Hub. Zero-value Config fields fall back to the core
// defaults: capacity DefaultNotificationRingCap (1000), channel timeout
// DefaultChannelSendTimeout (10s), and DefaultChannelRetryAttempts (3)
// delivery attempts.
func New(cfg Config) *Hub {
	capacity := cfg.RingCapacity
	if capacity <= 0 {
		capacity = core.DefaultNotificationRingCap
	}
	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = core.DefaultChannelRetryAttempts
	}
	timeout := cfg.ChannelTimeout
	if timeout <= 0 {
		timeout = core.DefaultChannelSendTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	return &Hub{
		capacity: capacity,
		timeout:  timeout,
		retries:  retries,
		logger:   logger,
		ring:     make([]Event, 0, capacity),
		channels: make(map[string]Channel),
	}
}

// AddChannel registers a delivery channel. Re-registering a name already in
// use replaces it.
func (h *Hub) AddChannel(ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[ch.Name()] = ch
}

// RemoveChannel unregisters a channel by name.
func (h *Hub) RemoveChannel(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, name)
}

// HasAvailableChannel reports whether at least one channel is registered.
func (h *Hub) HasAvailableChannel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels) > 0
}

// Close marks the hub closed; further Emit calls are rejected. Already
// in-flight deliveries are not interrupted.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// Emit builds an event, appends it to the ring buffer, and fans it out
// concurrently to the target channels, waiting for every channel attempt to
// settle before returning. A failing channel never aborts delivery to
// others (spec §4.4 guarantee).
func (h *Hub) Emit(ctx context.Context, typ Type, level Level, message string, opts EmitOptions) (Event, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Event{}, core.NewFrameworkError("NotificationHub.Emit", "notify", core.ErrNotRunning)
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Level:     level,
		Message:   message,
		Source:    opts.Source,
		Timestamp: time.Now(),
		Metadata:  opts.Metadata,
	}

	targets := h.selectChannelsLocked(opts.Channels)
	h.pushRingLocked(event)
	timeout := h.timeout
	retries := h.retries
	h.mu.Unlock()

	event.Deliveries = h.fanOut(ctx, event, targets, timeout, retries)

	h.mu.Lock()
	h.recordDeliveriesLocked(event)
	h.mu.Unlock()

	return event, nil
}

func (h *Hub) selectChannelsLocked(names []string) []Channel {
	if len(names) == 0 {
		out := make([]Channel, 0, len(h.channels))
		for _, ch := range h.channels {
			out = append(out, ch)
		}
		return out
	}
	out := make([]Channel, 0, len(names))
	for _, n := range names {
		if ch, ok := h.channels[n]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (h *Hub) pushRingLocked(event Event) {
	if len(h.ring) < h.capacity {
		h.ring = append(h.ring, event)
		return
	}
	h.ring[h.ringHead] = event
	h.ringHead = (h.ringHead + 1) % h.capacity
}

// recordDeliveriesLocked patches the ring-buffered copy of event with its
// final delivery results, found by id (the event may have wrapped past
// this slot already on a very small ring, in which case the patch is
// simply skipped).
func (h *Hub) recordDeliveriesLocked(event Event) {
	for i := range h.ring {
		if h.ring[i].ID == event.ID {
			h.ring[i].Deliveries = event.Deliveries
			return
		}
	}
}

// fanOut delivers event to every channel in targets concurrently, making up
// to retries attempts per channel (first send included) with exponential
// backoff between them (1s, capped at 32s). timeout bounds each attempt
// separately, not the delivery as a whole.
func (h *Hub) fanOut(ctx context.Context, event Event, targets []Channel, timeout time.Duration, retries int) []DeliveryStatus {
	results := make([]DeliveryStatus, len(targets))
	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = h.deliverWithRetry(ctx, ch, event, timeout, retries)
		}(i, ch)
	}
	wg.Wait()
	return results
}

func (h *Hub) deliverWithRetry(ctx context.Context, ch Channel, event Event, timeout time.Duration, retries int) DeliveryStatus {
	status := DeliveryStatus{Channel: ch.Name()}
	delay := time.Second
	const maxDelay = 32 * time.Second

	for attempt := 1; attempt <= retries; attempt++ {
		status.Attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := ch.Send(attemptCtx, event)
		cancel()

		if err == nil {
			status.Success = true
			status.Error = ""
			return status
		}
		status.Error = err.Error()

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			status.Error = ctx.Err().Error()
			return status
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	h.logger.Warn("notify: channel delivery failed after all retries", map[string]interface{}{
		"channel":  ch.Name(),
		"event_id": event.ID,
		"attempts": status.Attempts,
		"error":    status.Error,
	})
	return status
}

// Recent returns up to limit most-recent events, newest last. limit <= 0
// returns everything currently buffered.
func (h *Hub) Recent(limit int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ordered := h.orderedLocked()
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// RecentFilter narrows RecentFiltered's result set.
type RecentFilter struct {
	Types   []Type
	Levels  []Level
	Sources []string
	Since   time.Time
}

// RecentFiltered returns buffered events matching every non-empty filter
// criterion, newest last.
func (h *Hub) RecentFiltered(filter RecentFilter) []Event {
	h.mu.Lock()
	ordered := h.orderedLocked()
	h.mu.Unlock()

	typeSet := toSet(filter.Types)
	levelSet := toSet(filter.Levels)
	sourceSet := toSet(filter.Sources)

	out := make([]Event, 0, len(ordered))
	for _, e := range ordered {
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		if len(levelSet) > 0 && !levelSet[e.Level] {
			continue
		}
		if len(sourceSet) > 0 && !sourceSet[e.Source] {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func toSet[T comparable](items []T) map[T]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[T]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func (h *Hub) orderedLocked() []Event {
	if len(h.ring) < h.capacity {
		out := make([]Event, len(h.ring))
		copy(out, h.ring)
		return out
	}
	out := make([]Event, 0, h.capacity)
	out = append(out, h.ring[h.ringHead:]...)
	out = append(out, h.ring[:h.ringHead]...)
	return out
}

// Convenience sugar over Emit with fixed type/level (spec §4.4).

func (h *Hub) Info(ctx context.Context, source, message string) (Event, error) {
	return h.Emit(ctx, TypeGeneric, LevelInfo, message, EmitOptions{Source: source})
}

func (h *Hub) Warn(ctx context.Context, source, message string) (Event, error) {
	return h.Emit(ctx, TypeGeneric, LevelWarn, message, EmitOptions{Source: source})
}

func (h *Hub) Error(ctx context.Context, source, message string) (Event, error) {
	return h.Emit(ctx, TypeGeneric, LevelError, message, EmitOptions{Source: source})
}

func (h *Hub) Critical(ctx context.Context, source, message string) (Event, error) {
	return h.Emit(ctx, TypeGeneric, LevelCritical, message, EmitOptions{Source: source})
}

func (h *Hub) ServiceStarted(ctx context.Context, source string) (Event, error) {
	return h.Emit(ctx, TypeServiceStarted, LevelInfo, fmt.Sprintf("%s started", source), EmitOptions{Source: source})
}

func (h *Hub) ServiceStopped(ctx context.Context, source string) (Event, error) {
	return h.Emit(ctx, TypeServiceStopped, LevelInfo, fmt.Sprintf("%s stopped", source), EmitOptions{Source: source})
}

func (h *Hub) ServiceError(ctx context.Context, source string, err error) (Event, error) {
	return h.Emit(ctx, TypeServiceError, LevelError, err.Error(), EmitOptions{Source: source})
}
