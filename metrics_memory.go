package mqttd

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics keeps metrics in memory. LogSnapshots writes it to a logger
// periodically; tests read it directly.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*memoryValue
	gauges     map[string]*memoryValue
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryValue),
		gauges:     make(map[string]*memoryValue),
		histograms: make(map[string]*memoryHistogram),
	}
}

// labelsKey builds a stable key from a name and its labels.
func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

func lookup[T any](m *MemoryMetrics, store map[string]*T, key string) *T {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := store[key]; ok {
		return v
	}
	v := new(T)
	store[key] = v
	return v
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return lookup(m, m.counters, labelsKey(name, labels))
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return lookup(m, m.gauges, labelsKey(name, labels))
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return lookup(m, m.histograms, labelsKey(name, labels))
}

// CounterValue returns the value of a counter, zero if it was never touched.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.counters[labelsKey(name, labels)]; ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the value of a gauge, zero if it was never touched.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if g, ok := m.gauges[labelsKey(name, labels)]; ok {
		return g.Value()
	}
	return 0
}

// Snapshot returns every counter and gauge keyed by name and labels.
// Histograms contribute their count under "<key>:count".
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.counters)+len(m.gauges)+len(m.histograms))
	for k, v := range m.counters {
		out[k] = v.Value()
	}
	for k, v := range m.gauges {
		out[k] = v.Value()
	}
	for k, v := range m.histograms {
		out[k+":count"] = float64(v.Count())
	}
	return out
}

// LogSnapshots logs a snapshot every interval until ctx is done, then logs a
// final one.
func (m *MemoryMetrics) LogSnapshots(ctx context.Context, logger Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logSnapshot(logger)
			return
		case <-ticker.C:
			m.logSnapshot(logger)
		}
	}
}

func (m *MemoryMetrics) logSnapshot(logger Logger) {
	snap := m.Snapshot()
	fields := make(LogFields, len(snap))
	for k, v := range snap {
		fields[k] = v
	}
	logger.Info("metrics snapshot", fields)
}

// memoryValue is a float64 stored as bits. It serves as counter and gauge.
type memoryValue struct {
	bits atomic.Uint64
}

func (v *memoryValue) Set(value float64) {
	v.bits.Store(math.Float64bits(value))
}

func (v *memoryValue) Inc() { v.Add(1) }

func (v *memoryValue) Dec() { v.Add(-1) }

func (v *memoryValue) Add(delta float64) {
	for {
		old := v.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if v.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (v *memoryValue) Value() float64 {
	return math.Float64frombits(v.bits.Load())
}

type memoryHistogram struct {
	count atomic.Uint64
	sum   memoryValue
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.Add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *memoryHistogram) Count() uint64 {
	return h.count.Load()
}

func (h *memoryHistogram) Sum() float64 {
	return h.sum.Value()
}
