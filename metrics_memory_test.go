package mqttd

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMetrics(t *testing.T) {
	t.Run("counter operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		counter := metrics.Counter("test_counter", nil)

		counter.Inc()
		assert.Equal(t, float64(1), counter.Value())

		counter.Add(5)
		assert.Equal(t, float64(6), counter.Value())

		counter.Add(0.5)
		assert.Equal(t, float64(6.5), counter.Value())
	})

	t.Run("gauge operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		gauge := metrics.Gauge("test_gauge", nil)

		gauge.Set(100)
		assert.Equal(t, float64(100), gauge.Value())

		gauge.Inc()
		assert.Equal(t, float64(101), gauge.Value())

		gauge.Dec()
		assert.Equal(t, float64(100), gauge.Value())

		gauge.Add(-30)
		assert.Equal(t, float64(70), gauge.Value())
	})

	t.Run("histogram operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		h := metrics.Histogram("test_histogram", nil)

		h.Observe(1)
		h.Observe(2.5)
		h.ObserveDuration(500 * time.Millisecond)

		assert.Equal(t, uint64(3), h.Count())
		assert.InDelta(t, 4.0, h.Sum(), 1e-9)
	})

	t.Run("same name and labels share a metric", func(t *testing.T) {
		metrics := NewMemoryMetrics()

		metrics.Counter("c", MetricLabels{"a": "1", "b": "2"}).Inc()
		metrics.Counter("c", MetricLabels{"b": "2", "a": "1"}).Inc()
		metrics.Counter("c", MetricLabels{"a": "2"}).Inc()

		assert.Equal(t, float64(2), metrics.CounterValue("c", MetricLabels{"a": "1", "b": "2"}))
		assert.Equal(t, float64(1), metrics.CounterValue("c", MetricLabels{"a": "2"}))
	})

	t.Run("untouched metrics read zero", func(t *testing.T) {
		metrics := NewMemoryMetrics()

		assert.Zero(t, metrics.CounterValue("missing", nil))
		assert.Zero(t, metrics.GaugeValue("missing", nil))
		assert.Empty(t, metrics.Snapshot())
	})

	t.Run("snapshot", func(t *testing.T) {
		metrics := NewMemoryMetrics()

		metrics.Counter("requests", MetricLabels{"code": "ok"}).Add(3)
		metrics.Gauge("active", nil).Set(7)
		metrics.Histogram("latency", nil).Observe(0.1)

		assert.Equal(t, map[string]float64{
			"requests|code=ok": 3,
			"active":           7,
			"latency:count":    1,
		}, metrics.Snapshot())
	})
}

func TestLabelsKey(t *testing.T) {
	tests := []struct {
		name   string
		labels MetricLabels
		want   string
	}{
		{"no labels", nil, "m"},
		{"empty labels", MetricLabels{}, "m"},
		{"one label", MetricLabels{"qos": "1"}, "m|qos=1"},
		{"sorted", MetricLabels{"z": "1", "a": "2"}, "m|a=2|z=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labelsKey("m", tt.labels))
		})
	}
}

func TestMemoryMetricsConcurrency(t *testing.T) {
	metrics := NewMemoryMetrics()

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 1000 {
				metrics.Counter("hits", nil).Inc()
				metrics.Gauge("level", nil).Add(0.5)
				metrics.Histogram("obs", nil).Observe(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, float64(8000), metrics.CounterValue("hits", nil))
	assert.Equal(t, float64(4000), metrics.GaugeValue("level", nil))
	assert.Equal(t, uint64(8000), metrics.Histogram("obs", nil).Count())
}

func TestMemoryMetricsLogSnapshots(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		runFor   time.Duration
		minLines int
	}{
		{"final snapshot on shutdown", time.Hour, 0, 1},
		{"periodic snapshots", 10 * time.Millisecond, 100 * time.Millisecond, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := NewMemoryMetrics()
			metrics.Counter("packets", MetricLabels{"type": "PUBLISH"}).Add(4)
			metrics.Gauge("sessions", nil).Set(2)

			buf := &bytes.Buffer{}
			ctx, cancel := context.WithTimeout(context.Background(), tt.runFor)
			defer cancel()

			metrics.LogSnapshots(ctx, NewZerologLogger(buf, LogLevelInfo), tt.interval)

			lines := decodeLogLines(t, buf)
			require.GreaterOrEqual(t, len(lines), tt.minLines)
			for _, line := range lines {
				assert.Equal(t, "metrics snapshot", line[zerolog.MessageFieldName])
				assert.Equal(t, 4.0, line["packets|type=PUBLISH"])
				assert.Equal(t, 2.0, line["sessions"])
			}
		})
	}
}
