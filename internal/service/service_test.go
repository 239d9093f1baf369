package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/dangerprep/syncrt/internal/executor"
	"github.com/dangerprep/syncrt/internal/planner"
	"github.com/dangerprep/syncrt/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeSource struct {
	items map[string][]planner.Item
}

func (f *fakeSource) Enumerate(ctx context.Context, contentType string) ([]planner.Item, error) {
	return f.items[contentType], nil
}

type fakeTransferor struct {
	delay     time.Duration
	transfers atomic.Int64
	limiters  atomic.Int64
}

func (f *fakeTransferor) Transfer(ctx context.Context, pt planner.PlannedTransfer, tracker *progress.Tracker, limiter *rate.Limiter) error {
	f.transfers.Add(1)
	if limiter != nil {
		f.limiters.Add(1)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return core.ErrOperationCancelled
		}
	}
	tracker.Update(1, nil, pt.SourceRef)
	return nil
}

func testConfig(source planner.SourceProvider, transferor Transferor, cts []planner.ContentType) Config {
	cfg := core.DefaultConfig()
	cfg.Executor.MaxConcurrentOperations = 2
	return Config{
		Core:         cfg,
		ContentTypes: cts,
		Source:       source,
		Transferor:   transferor,
	}
}

func TestStartThenStopEmitsServiceStartedThenStopped(t *testing.T) {
	h, err := New(testConfig(&fakeSource{}, &fakeTransferor{}, nil))
	require.NoError(t, err)

	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, StateRunning, h.State())

	require.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, StateStopped, h.State())

	events := h.RecentNotifications(0)
	require.Len(t, events, 2)
	assert.Equal(t, "service_started", string(events[0].Type))
	assert.Equal(t, "service_stopped", string(events[1].Type))
}

func TestStartRejectsSecondStart(t *testing.T) {
	h, err := New(testConfig(&fakeSource{}, &fakeTransferor{}, nil))
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop(context.Background())

	assert.Error(t, h.Start(context.Background()))
}

func TestStartFailsWithoutSourceOrTransferorWhenContentTypesConfigured(t *testing.T) {
	cts := []planner.ContentType{{Name: "movies", MaxSizeBytes: 100}}
	h, err := New(testConfig(nil, nil, cts))
	require.NoError(t, err)

	err = h.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateFailed, h.State())
}

func TestSubmitRejectedBeforeStartAndAfterStop(t *testing.T) {
	h, err := New(testConfig(&fakeSource{}, &fakeTransferor{}, nil))
	require.NoError(t, err)

	_, err = h.Submit(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, executor.SubmitOptions{})
	assert.Error(t, err)

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(context.Background()))
	_, err = h.Submit(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, executor.SubmitOptions{})
	assert.Error(t, err)
}

func TestRunCyclePlansAndTransfersItems(t *testing.T) {
	source := &fakeSource{items: map[string][]planner.Item{
		"movies": {
			{Ref: "a.mp4", EstimatedBytes: 10, Metadata: planner.ItemMetadata{Name: "a.mp4"}},
			{Ref: "b.mp4", EstimatedBytes: 10, Metadata: planner.ItemMetadata{Name: "b.mp4"}},
		},
	}}
	transferor := &fakeTransferor{}
	cts := []planner.ContentType{{Name: "movies", MaxSizeBytes: 1000, Priority: 1}}

	h, err := New(testConfig(source, transferor, cts))
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop(context.Background())

	handles, err := h.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, handles, 2)

	for _, handle := range handles {
		_, err := handle.AwaitResult(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), transferor.transfers.Load())

	stats := h.ExecutorStats("movies")
	assert.Equal(t, int64(2), stats.Count)
}

func TestRunCyclePassesLimiterForBandwidthCappedContentType(t *testing.T) {
	source := &fakeSource{items: map[string][]planner.Item{
		"movies": {{Ref: "a.mp4", EstimatedBytes: 10}},
	}}
	transferor := &fakeTransferor{}
	cts := []planner.ContentType{{Name: "movies", MaxSizeBytes: 1000, BandwidthLimitBytesSec: 1024}}

	h, err := New(testConfig(source, transferor, cts))
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop(context.Background())

	handles, err := h.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, handles, 1)
	_, err = handles[0].AwaitResult(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), transferor.limiters.Load())
}

func TestGracefulShutdownCancelsInFlightOperations(t *testing.T) {
	source := &fakeSource{items: map[string][]planner.Item{
		"movies": {
			{Ref: "a.mp4", EstimatedBytes: 10},
		},
	}}
	transferor := &fakeTransferor{delay: 5 * time.Second}
	cts := []planner.ContentType{{Name: "movies", MaxSizeBytes: 1000}}

	cfg := testConfig(source, transferor, cts)
	cfg.Core.Service.ShutdownGracePeriod = 100 * time.Millisecond

	h, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))

	handles, err := h.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, handles, 1)

	start := time.Now()
	require.NoError(t, h.Stop(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, resultErr := handles[0].AwaitResult(context.Background())
	assert.ErrorIs(t, resultErr, core.ErrOperationCancelled)
}
