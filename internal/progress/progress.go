// Package progress implements the runtime's Progress Tracker: per-operation
// phase/item/byte state, rate and ETA estimation, and listener fan-out.
package progress

import (
	"sync"
	"time"

	"github.com/dangerprep/syncrt/core"
)

// Status is the lifecycle state of a tracked operation.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Metrics is the quantitative part of a Snapshot.
type Metrics struct {
	TotalItems        int64
	CompletedItems    int64
	TotalBytes        int64
	ProcessedBytes    int64
	InstantaneousRate float64
	AverageRate       float64
	ETASeconds        float64
	ElapsedSeconds    float64
	StartedAt         time.Time
	LastUpdateAt      time.Time
}

// Snapshot is an immutable value copy of a tracker's state at a point in
// time. Listeners must treat it as read-only.
type Snapshot struct {
	OperationID     string
	Status          Status
	ProgressPercent float64
	CurrentPhase    string
	CurrentItem     string
	Metrics         Metrics
	Timestamp       time.Time
	Message         string
}

// Phase is a weighted sub-step of an operation.
type Phase struct {
	ID         string
	Name       string
	Weight     float64
	Progress   float64 // 0-100
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Listener receives every snapshot emitted by a tracker. Panics raised by a
// listener are recovered and logged; they never abort delivery to the
// remaining listeners.
type Listener func(Snapshot)

// ListenerHandle identifies a previously registered Listener for removal.
type ListenerHandle int

// Config configures a new Tracker. Phases, if supplied, are consulted only
// when TotalItems is zero (spec §4.2): item-based progress always wins.
type Config struct {
	OperationID    string
	TotalItems     int64
	TotalBytes     int64
	Phases         []Phase
	UpdateInterval time.Duration
	Logger         core.Logger
}

// Tracker is the per-operation progress state machine. One Tracker
// exclusively owns the state for a single operation; it is shared by
// reference with listeners, which never own it.
type Tracker struct {
	mu sync.Mutex

	cfg    Config
	logger core.Logger

	status Status

	completedItems int64
	processedBytes int64
	currentItem    string
	message        string

	phases     map[string]*Phase
	phaseOrder []string
	currentPhase string

	startedAt    time.Time
	lastUpdateAt time.Time

	lastPercent float64

	prevCompletedItems int64
	prevProcessedBytes int64
	prevSampleAt       time.Time

	listeners    map[ListenerHandle]Listener
	nextHandle   ListenerHandle

	stopTicker chan struct{}
	tickerDone chan struct{}
}

// New constructs a Tracker in the not_started state.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	t := &Tracker{
		cfg:        cfg,
		logger:     logger,
		status:     StatusNotStarted,
		phases:     make(map[string]*Phase, len(cfg.Phases)),
		phaseOrder: make([]string, 0, len(cfg.Phases)),
		listeners:  make(map[ListenerHandle]Listener),
	}
	for _, p := range cfg.Phases {
		phase := p
		t.phases[phase.ID] = &phase
		t.phaseOrder = append(t.phaseOrder, phase.ID)
	}
	return t
}

// AddListener registers l and returns a handle for later removal. Listeners
// are invoked sequentially in registration order.
func (t *Tracker) AddListener(l Listener) ListenerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.nextHandle
	t.nextHandle++
	t.listeners[h] = l
	return h
}

// RemoveListener unregisters the listener identified by h.
func (t *Tracker) RemoveListener(h ListenerHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, h)
}

// Start transitions the tracker to in_progress and, if UpdateInterval > 0,
// begins periodic listener emission.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		t.logger.Warn("progress: start on terminal tracker ignored", map[string]interface{}{"operation_id": t.cfg.OperationID})
		return
	}
	now := time.Now()
	t.status = StatusInProgress
	t.startedAt = now
	t.lastUpdateAt = now
	t.prevSampleAt = now
	if t.cfg.UpdateInterval > 0 && t.stopTicker == nil {
		t.stopTicker = make(chan struct{})
		t.tickerDone = make(chan struct{})
		go t.runTicker(t.stopTicker, t.tickerDone)
	}
	t.mu.Unlock()
	t.emit()
}

func (t *Tracker) runTicker(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			status := t.status
			t.mu.Unlock()
			if status.IsTerminal() {
				return
			}
			if status == StatusInProgress {
				t.emit()
			}
		}
	}
}

func (t *Tracker) stopTickerLocked() {
	if t.stopTicker != nil {
		close(t.stopTicker)
		t.stopTicker = nil
	}
}

// Pause suspends update processing. A no-op on terminal or already-paused
// trackers.
func (t *Tracker) Pause() {
	t.mu.Lock()
	if t.status.IsTerminal() || t.status == StatusPaused {
		t.mu.Unlock()
		return
	}
	t.status = StatusPaused
	t.mu.Unlock()
	t.emit()
}

// Resume continues a paused tracker. A no-op otherwise.
func (t *Tracker) Resume() {
	t.mu.Lock()
	if t.status != StatusPaused {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	t.status = StatusInProgress
	t.prevSampleAt = now
	t.prevCompletedItems = t.completedItems
	t.prevProcessedBytes = t.processedBytes
	t.mu.Unlock()
	t.emit()
}

// Complete marks the operation as successfully finished. Progress percent
// is forced to 100 regardless of reported totals (spec §8 boundary case:
// zero-item, zero-phase operations still reach 100% on completion).
func (t *Tracker) Complete() {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		t.logger.Warn("progress: complete on terminal tracker ignored", map[string]interface{}{"operation_id": t.cfg.OperationID})
		return
	}
	t.status = StatusCompleted
	t.lastPercent = 100
	t.lastUpdateAt = time.Now()
	t.stopTickerLocked()
	t.mu.Unlock()
	t.emit()
}

// Fail marks the operation as failed.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.status = StatusFailed
	if err != nil {
		t.message = err.Error()
	}
	t.lastUpdateAt = time.Now()
	t.stopTickerLocked()
	t.mu.Unlock()
	t.emit()
}

// Cancel marks the operation as cancelled.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.status = StatusCancelled
	t.lastUpdateAt = time.Now()
	t.stopTickerLocked()
	t.mu.Unlock()
	t.emit()
}

// Update records progress. Paused trackers ignore updates entirely (no
// state change, no listener emission); terminal trackers log a warning and
// no-op. Inputs are clamped to [0, total].
func (t *Tracker) Update(completedItems int64, processedBytes *int64, currentItem string) {
	t.mu.Lock()
	if t.status == StatusPaused {
		t.mu.Unlock()
		return
	}
	if t.status.IsTerminal() {
		t.mu.Unlock()
		t.logger.Warn("progress: update on terminal tracker ignored", map[string]interface{}{"operation_id": t.cfg.OperationID})
		return
	}

	t.completedItems = clamp(completedItems, t.cfg.TotalItems)
	if processedBytes != nil {
		t.processedBytes = clamp(*processedBytes, t.cfg.TotalBytes)
	}
	if currentItem != "" {
		t.currentItem = currentItem
	}
	t.lastUpdateAt = time.Now()
	t.mu.Unlock()
	t.emit()
}

// SetPhase marks id as the current phase, stamping its StartedAt if unset.
func (t *Tracker) SetPhase(id string) {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	if ph, ok := t.phases[id]; ok {
		if ph.StartedAt == nil {
			now := time.Now()
			ph.StartedAt = &now
		}
		t.currentPhase = id
	}
	t.mu.Unlock()
	t.emit()
}

// UpdatePhaseProgress sets the named phase's completion percent (0-100).
func (t *Tracker) UpdatePhaseProgress(id string, percent float64) {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	if ph, ok := t.phases[id]; ok {
		ph.Progress = clampPercent(percent)
		if ph.Progress >= 100 && ph.FinishedAt == nil {
			now := time.Now()
			ph.FinishedAt = &now
		}
	}
	t.mu.Unlock()
	t.emit()
}

// Snapshot returns a value-copy of the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	now := time.Now()
	elapsed := 0.0
	if !t.startedAt.IsZero() {
		elapsed = now.Sub(t.startedAt).Seconds()
	}

	percent := t.computePercentLocked()
	if percent > t.lastPercent {
		t.lastPercent = percent
	}

	instRate, avgRate, eta := t.computeRatesLocked(now, elapsed)

	return Snapshot{
		OperationID:     t.cfg.OperationID,
		Status:          t.status,
		ProgressPercent: t.lastPercent,
		CurrentPhase:    t.currentPhase,
		CurrentItem:     t.currentItem,
		Message:         t.message,
		Timestamp:       now,
		Metrics: Metrics{
			TotalItems:        t.cfg.TotalItems,
			CompletedItems:    t.completedItems,
			TotalBytes:        t.cfg.TotalBytes,
			ProcessedBytes:    t.processedBytes,
			InstantaneousRate: instRate,
			AverageRate:       avgRate,
			ETASeconds:        eta,
			ElapsedSeconds:    elapsed,
			StartedAt:         t.startedAt,
			LastUpdateAt:      t.lastUpdateAt,
		},
	}
}

func (t *Tracker) computePercentLocked() float64 {
	if t.status == StatusCompleted {
		return 100
	}
	if t.cfg.TotalItems > 0 {
		return clampPercent(float64(t.completedItems) / float64(t.cfg.TotalItems) * 100)
	}
	if len(t.phaseOrder) > 0 {
		var weighted, totalWeight float64
		for _, id := range t.phaseOrder {
			ph := t.phases[id]
			weighted += ph.Progress * ph.Weight
			totalWeight += ph.Weight
		}
		if totalWeight > 0 {
			return clampPercent(weighted / totalWeight)
		}
	}
	return 0
}

// computeRatesLocked implements the instantaneous/average rate contract:
// average_rate is the cumulative items-per-second since Start (bytes per
// second when TotalItems is zero and TotalBytes is set); instantaneous
// is measured over the window since the last sample, addressing the
// spec's open question about a true short-window instantaneous rate.
func (t *Tracker) computeRatesLocked(now time.Time, elapsed float64) (instantaneous, average, eta float64) {
	if elapsed <= 0 {
		return 0, 0, 0
	}

	useBytes := t.cfg.TotalItems == 0 && t.cfg.TotalBytes > 0
	var completed, total int64
	if useBytes {
		completed, total = t.processedBytes, t.cfg.TotalBytes
	} else {
		completed, total = t.completedItems, t.cfg.TotalItems
	}

	average = float64(completed) / elapsed

	window := now.Sub(t.prevSampleAt).Seconds()
	if window > 0 {
		var delta int64
		if useBytes {
			delta = t.processedBytes - t.prevProcessedBytes
		} else {
			delta = t.completedItems - t.prevCompletedItems
		}
		instantaneous = float64(delta) / window
	} else {
		instantaneous = average
	}

	t.prevSampleAt = now
	t.prevCompletedItems = t.completedItems
	t.prevProcessedBytes = t.processedBytes

	if total > 0 && average > 0 {
		remaining := total - completed
		if remaining < 0 {
			remaining = 0
		}
		eta = float64(remaining) / average
	}
	return instantaneous, average, eta
}

func (t *Tracker) emit() {
	t.mu.Lock()
	snap := t.snapshotLocked()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, h := range sortedHandles(t.listeners) {
		listeners = append(listeners, t.listeners[h])
	}
	t.mu.Unlock()

	for _, l := range listeners {
		t.invokeListener(l, snap)
	}
}

func (t *Tracker) invokeListener(l Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("progress: listener panicked", map[string]interface{}{
				"operation_id": snap.OperationID,
				"panic":        r,
			})
		}
	}()
	l(snap)
}

func sortedHandles(m map[ListenerHandle]Listener) []ListenerHandle {
	handles := make([]ListenerHandle, 0, len(m))
	for h := range m {
		handles = append(handles, h)
	}
	for i := 1; i < len(handles); i++ {
		for j := i; j > 0 && handles[j-1] > handles[j]; j-- {
			handles[j-1], handles[j] = handles[j], handles[j-1]
		}
	}
	return handles
}

func clamp(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
