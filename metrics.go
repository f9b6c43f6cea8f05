package mqttd

import (
	"strconv"
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics is the sink the server and its sessions report to.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

// Counter returns a no-op counter.
func (NoOpMetrics) Counter(_ string, _ MetricLabels) Counter { return noOpMetric{} }

// Gauge returns a no-op gauge.
func (NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge { return noOpMetric{} }

// Histogram returns a no-op histogram.
func (NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpMetric{} }

type noOpMetric struct{}

func (noOpMetric) Inc()                            {}
func (noOpMetric) Dec()                            {}
func (noOpMetric) Set(_ float64)                   {}
func (noOpMetric) Add(_ float64)                   {}
func (noOpMetric) Value() float64                  { return 0 }
func (noOpMetric) Observe(_ float64)               {}
func (noOpMetric) ObserveDuration(_ time.Duration) {}
func (noOpMetric) Count() uint64                   { return 0 }
func (noOpMetric) Sum() float64                    { return 0 }

// Metric names.
const (
	// MetricConnections is the current number of open sessions.
	MetricConnections = "mqtt_connections"

	// MetricConnectionsTotal is the total number of accepted connections.
	MetricConnectionsTotal = "mqtt_connections_total"

	// MetricConnectionsRejected counts connections dropped by the accept rate limit.
	MetricConnectionsRejected = "mqtt_connections_rejected_total"

	// MetricPacketsReceived is the total number of decoded packets.
	MetricPacketsReceived = "mqtt_packets_received_total"

	// MetricPacketsSent is the total number of written packets.
	MetricPacketsSent = "mqtt_packets_sent_total"

	// MetricBytesReceived is the total bytes read from clients.
	MetricBytesReceived = "mqtt_bytes_received_total"

	// MetricBytesSent is the total bytes written to clients.
	MetricBytesSent = "mqtt_bytes_sent_total"

	// MetricMessagesReceived counts PUBLISH packets from clients.
	MetricMessagesReceived = "mqtt_messages_received_total"

	// MetricMessagesSent counts PUBLISH packets delivered to subscribers.
	MetricMessagesSent = "mqtt_messages_sent_total"

	// MetricSubscriptions is the current number of subscriptions.
	MetricSubscriptions = "mqtt_subscriptions"

	// MetricKeepAliveTimeouts counts sessions closed for silence.
	MetricKeepAliveTimeouts = "mqtt_keepalive_timeouts_total"

	// MetricProtocolErrors counts sessions closed for malformed input or violations.
	MetricProtocolErrors = "mqtt_protocol_errors_total"

	// MetricDispatchLatency is the time spent in the handler per packet.
	MetricDispatchLatency = "mqtt_dispatch_latency_seconds"
)

// Metric labels.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
)

// ServerMetrics wraps a Metrics sink with the events the server reports.
// A nil *ServerMetrics discards everything.
type ServerMetrics struct {
	metrics Metrics
}

// NewServerMetrics creates a ServerMetrics. A nil sink selects NoOpMetrics.
func NewServerMetrics(m Metrics) *ServerMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &ServerMetrics{metrics: m}
}

// ConnectionOpened records a new session.
func (b *ServerMetrics) ConnectionOpened() {
	if b == nil {
		return
	}
	b.metrics.Gauge(MetricConnections, nil).Inc()
	b.metrics.Counter(MetricConnectionsTotal, nil).Inc()
}

// ConnectionClosed records a closed session.
func (b *ServerMetrics) ConnectionClosed() {
	if b == nil {
		return
	}
	b.metrics.Gauge(MetricConnections, nil).Dec()
}

// ConnectionRejected records a connection refused before a session was created.
func (b *ServerMetrics) ConnectionRejected() {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricConnectionsRejected, nil).Inc()
}

// PacketReceived records a decoded packet.
func (b *ServerMetrics) PacketReceived(t PacketType) {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: t.String()}).Inc()
}

// PacketSent records a written packet.
func (b *ServerMetrics) PacketSent(t PacketType) {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Inc()
}

// BytesReceived records bytes read from a client.
func (b *ServerMetrics) BytesReceived(n int) {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

// BytesSent records bytes written to a client.
func (b *ServerMetrics) BytesSent(n int) {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

// MessageReceived records a PUBLISH from a client.
func (b *ServerMetrics) MessageReceived(qos QoS) {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricMessagesReceived, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
}

// MessageSent records a PUBLISH delivered to a subscriber.
func (b *ServerMetrics) MessageSent(qos QoS) {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricMessagesSent, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
}

// SubscriptionAdded records a new subscription.
func (b *ServerMetrics) SubscriptionAdded() {
	if b == nil {
		return
	}
	b.metrics.Gauge(MetricSubscriptions, nil).Inc()
}

// SubscriptionsRemoved records n removed subscriptions.
func (b *ServerMetrics) SubscriptionsRemoved(n int) {
	if b == nil || n == 0 {
		return
	}
	b.metrics.Gauge(MetricSubscriptions, nil).Add(-float64(n))
}

// KeepAliveTimeout records a session closed for silence.
func (b *ServerMetrics) KeepAliveTimeout() {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricKeepAliveTimeouts, nil).Inc()
}

// ProtocolError records a session closed for malformed input or a violation.
func (b *ServerMetrics) ProtocolError() {
	if b == nil {
		return
	}
	b.metrics.Counter(MetricProtocolErrors, nil).Inc()
}

// DispatchLatency records time spent in the handler.
func (b *ServerMetrics) DispatchLatency(d time.Duration) {
	if b == nil {
		return
	}
	b.metrics.Histogram(MetricDispatchLatency, nil).ObserveDuration(d)
}
