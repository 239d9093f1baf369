package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/dangerprep/syncrt/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(ctx context.Context) error { return nil }

func down(ctx context.Context) error { return errors.New("boom") }

func TestZeroComponentsIsHealthy(t *testing.T) {
	a := New(Config{})
	report := a.Check(context.Background())
	assert.Equal(t, core.HealthHealthy, report.Overall)
}

func TestAllUpIsHealthy(t *testing.T) {
	a := New(Config{})
	a.Register(Component{Name: "a", Probe: up})
	a.Register(Component{Name: "b", Probe: up})

	report := a.Check(context.Background())
	assert.Equal(t, core.HealthHealthy, report.Overall)
	require.Len(t, report.Components, 2)
}

func TestCriticalDownIsUnhealthy(t *testing.T) {
	a := New(Config{})
	a.Register(Component{Name: "crit", Critical: true, Probe: down})
	a.Register(Component{Name: "other", Probe: up})

	report := a.Check(context.Background())
	assert.Equal(t, core.HealthUnhealthy, report.Overall)
}

func TestNonCriticalDownIsDegraded(t *testing.T) {
	a := New(Config{})
	a.Register(Component{Name: "noncrit", Probe: down})
	a.Register(Component{Name: "other", Probe: up})

	report := a.Check(context.Background())
	assert.Equal(t, core.HealthDegraded, report.Overall)
}

func TestTimeoutYieldsDownWithoutCancellingOthers(t *testing.T) {
	a := New(Config{ProbeTimeout: 20 * time.Millisecond})
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var otherRan bool
	fast := func(ctx context.Context) error { otherRan = true; return nil }

	a.Register(Component{Name: "slow", Probe: slow})
	a.Register(Component{Name: "fast", Probe: fast})

	report := a.Check(context.Background())
	assert.True(t, otherRan)

	var slowResult ComponentResult
	for _, c := range report.Components {
		if c.Name == "slow" {
			slowResult = c
		}
	}
	assert.Equal(t, ProbeDown, slowResult.Status)
	assert.Equal(t, "timeout", slowResult.Error)
}

func TestPanicInProbeYieldsDown(t *testing.T) {
	a := New(Config{})
	a.Register(Component{Name: "panics", Probe: func(ctx context.Context) error {
		panic("boom")
	}})

	report := a.Check(context.Background())
	require.Len(t, report.Components, 1)
	assert.Equal(t, ProbeDown, report.Components[0].Status)
}

func TestUnregisterRemovesComponent(t *testing.T) {
	a := New(Config{})
	a.Register(Component{Name: "a", Probe: up})
	a.Unregister("a")

	report := a.Check(context.Background())
	assert.Empty(t, report.Components)
}

func TestMetricsAccumulate(t *testing.T) {
	a := New(Config{})
	a.Register(Component{Name: "a", Probe: up})

	a.Check(context.Background())
	a.Check(context.Background())
	a.Check(context.Background())

	m := a.Metrics()
	assert.Equal(t, int64(3), m.TotalChecks)
	assert.Equal(t, int64(3), m.Healthy)
	assert.Equal(t, int64(3), m.ConsecutiveSameStatus)
}

func TestStatusChangeEmitsNotification(t *testing.T) {
	hub := notify.New(notify.Config{RingCapacity: 10, ChannelTimeout: time.Second, RetryAttempts: 1})
	a := New(Config{Hub: hub})

	healthyProbe := up
	unhealthyProbe := down
	useDown := false
	a.Register(Component{Name: "flappy", Critical: true, Probe: func(ctx context.Context) error {
		if useDown {
			return unhealthyProbe(ctx)
		}
		return healthyProbe(ctx)
	}})

	a.Check(context.Background())
	useDown = true
	a.Check(context.Background())

	events := hub.RecentFiltered(notify.RecentFilter{Types: []notify.Type{notify.TypeHealthChanged}})
	require.Len(t, events, 1)
	assert.Equal(t, notify.LevelError, events[0].Level)
}

func TestNoStatusChangeNoNotification(t *testing.T) {
	hub := notify.New(notify.Config{RingCapacity: 10, ChannelTimeout: time.Second, RetryAttempts: 1})
	a := New(Config{Hub: hub})
	a.Register(Component{Name: "steady", Probe: up})

	a.Check(context.Background())
	a.Check(context.Background())

	events := hub.RecentFiltered(notify.RecentFilter{Types: []notify.Type{notify.TypeHealthChanged}})
	assert.Empty(t, events)
}
