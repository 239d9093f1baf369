package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemBasedProgressMonotonic(t *testing.T) {
	tr := New(Config{OperationID: "op-1", TotalItems: 10})
	tr.Start()

	tr.Update(3, nil, "file-3")
	s := tr.Snapshot()
	assert.InDelta(t, 30, s.ProgressPercent, 0.001)

	tr.Update(7, nil, "file-7")
	s = tr.Snapshot()
	assert.InDelta(t, 70, s.ProgressPercent, 0.001)
}

func TestProgressNeverRewinds(t *testing.T) {
	tr := New(Config{OperationID: "op-2", TotalItems: 10})
	tr.Start()
	tr.Update(8, nil, "")
	assert.InDelta(t, 80, tr.Snapshot().ProgressPercent, 0.001)

	// Pause/resume must never present a lower percent than previously seen,
	// even though completedItems itself is never decreased by Update.
	tr.Pause()
	assert.InDelta(t, 80, tr.Snapshot().ProgressPercent, 0.001)
	tr.Resume()
	assert.InDelta(t, 80, tr.Snapshot().ProgressPercent, 0.001)
}

func TestPausedTrackerIgnoresUpdates(t *testing.T) {
	tr := New(Config{OperationID: "op-3", TotalItems: 10})
	tr.Start()
	tr.Update(5, nil, "")
	tr.Pause()
	tr.Update(9, nil, "should be ignored")

	s := tr.Snapshot()
	assert.InDelta(t, 50, s.ProgressPercent, 0.001)
	assert.Equal(t, int64(5), s.Metrics.CompletedItems)
}

func TestPhaseWeightedProgressOnlyWithoutItemTotal(t *testing.T) {
	tr := New(Config{
		OperationID: "op-4",
		Phases: []Phase{
			{ID: "scan", Name: "Scanning", Weight: 1},
			{ID: "copy", Name: "Copying", Weight: 3},
		},
	})
	tr.Start()
	tr.SetPhase("scan")
	tr.UpdatePhaseProgress("scan", 100)
	tr.SetPhase("copy")
	tr.UpdatePhaseProgress("copy", 50)

	s := tr.Snapshot()
	// (100*1 + 50*3) / 4 = 62.5
	assert.InDelta(t, 62.5, s.ProgressPercent, 0.001)
	assert.Equal(t, "copy", s.CurrentPhase)
}

func TestCompleteForcesHundredPercentEvenWithoutTotals(t *testing.T) {
	tr := New(Config{OperationID: "op-5"})
	tr.Start()
	tr.Complete()

	s := tr.Snapshot()
	assert.Equal(t, StatusCompleted, s.Status)
	assert.InDelta(t, 100, s.ProgressPercent, 0.001)
}

func TestTerminalStateAbsorbsFurtherUpdates(t *testing.T) {
	tr := New(Config{OperationID: "op-6", TotalItems: 10})
	tr.Start()
	tr.Update(10, nil, "")
	tr.Complete()

	tr.Update(1, nil, "ignored")
	tr.Pause()
	tr.Fail(errors.New("too late"))

	s := tr.Snapshot()
	assert.Equal(t, StatusCompleted, s.Status)
}

func TestFailRecordsMessage(t *testing.T) {
	tr := New(Config{OperationID: "op-7", TotalItems: 5})
	tr.Start()
	tr.Fail(errors.New("disk full"))

	s := tr.Snapshot()
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "disk full", s.Message)
}

func TestListenersReceiveSnapshotsAndCanBeRemoved(t *testing.T) {
	tr := New(Config{OperationID: "op-8", TotalItems: 4})

	var mu sync.Mutex
	var received []Snapshot
	handle := tr.AddListener(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, s)
	})

	tr.Start()
	tr.Update(2, nil, "")
	tr.RemoveListener(handle)
	tr.Update(4, nil, "")

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(received), 2)
	// last received snapshot predates removal, so it must not reflect the
	// post-removal update to 4/4.
	last := received[len(received)-1]
	assert.Less(t, last.Metrics.CompletedItems, int64(4))
}

func TestListenerPanicDoesNotBlockOthers(t *testing.T) {
	tr := New(Config{OperationID: "op-9", TotalItems: 1})

	var secondCalled bool
	tr.AddListener(func(s Snapshot) { panic("boom") })
	tr.AddListener(func(s Snapshot) { secondCalled = true })

	tr.Start()

	assert.True(t, secondCalled)
}

func TestRatesAndETA(t *testing.T) {
	tr := New(Config{OperationID: "op-10", TotalItems: 100})
	tr.Start()
	time.Sleep(20 * time.Millisecond)
	tr.Update(50, nil, "")

	s := tr.Snapshot()
	assert.Greater(t, s.Metrics.AverageRate, 0.0)
	assert.GreaterOrEqual(t, s.Metrics.ETASeconds, 0.0)
}

func TestByteBasedRateWhenNoItemTotal(t *testing.T) {
	tr := New(Config{OperationID: "op-11", TotalBytes: 1000})
	tr.Start()
	time.Sleep(10 * time.Millisecond)
	processed := int64(400)
	tr.Update(0, &processed, "")

	s := tr.Snapshot()
	assert.Equal(t, int64(400), s.Metrics.ProcessedBytes)
	assert.Greater(t, s.Metrics.AverageRate, 0.0)
}

func TestUpdateClampsToTotals(t *testing.T) {
	tr := New(Config{OperationID: "op-12", TotalItems: 10, TotalBytes: 100})
	tr.Start()
	over := int64(500)
	tr.Update(99, &over, "")

	s := tr.Snapshot()
	assert.Equal(t, int64(10), s.Metrics.CompletedItems)
	assert.Equal(t, int64(100), s.Metrics.ProcessedBytes)
}

func TestCancel(t *testing.T) {
	tr := New(Config{OperationID: "op-13", TotalItems: 1})
	tr.Start()
	tr.Cancel()

	s := tr.Snapshot()
	assert.Equal(t, StatusCancelled, s.Status)
}

func TestPeriodicTickerEmitsWhileInProgress(t *testing.T) {
	tr := New(Config{OperationID: "op-14", TotalItems: 5, UpdateInterval: 10 * time.Millisecond})

	var mu sync.Mutex
	count := 0
	tr.AddListener(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	tr.Start()
	time.Sleep(45 * time.Millisecond)
	tr.Complete()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 3)
}
