package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderStartsAndEndsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{ServiceName: "syncrt-test", ServiceVersion: "0.0.0", Writer: &buf})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, span := p.StartSpan(context.Background(), "unit-test-span")
	span.SetAttribute("key", "value")
	span.SetAttribute("count", 3)
	span.End()
	_ = ctx

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "unit-test-span")
}

func TestMetricsRegistryAdapterRecordsThroughToPrometheus(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{ServiceName: "syncrt-test", Writer: &buf, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	adapter := NewMetricsRegistryAdapter(p)
	adapter.Counter("test_event")
	adapter.Gauge("test_gauge", 42)
	adapter.Histogram("test_hist", 0.5)
	adapter.EmitWithContext(context.Background(), "test_emit", 1.0)

	mfs, err := p.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["syncrt_runtime_events_total"])
	assert.True(t, names["syncrt_runtime_gauge"])
	assert.True(t, names["syncrt_runtime_histogram_seconds"])
}
