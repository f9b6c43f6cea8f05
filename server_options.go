package mqttd

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxPacketSize bounds the remaining length of a packet.
	DefaultMaxPacketSize = 256 * 1024

	// DefaultConnectTimeout is how long a new connection may take to send CONNECT.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a single write to a client.
	DefaultWriteTimeout = 5 * time.Second

	// acceptBackoff is the pause after a failed Accept.
	acceptBackoff = 100 * time.Millisecond
)

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	logger            Logger
	metrics           Metrics
	auth              Authenticator
	clock             Clock
	keepAliveGrace    float64
	keepAliveOverride uint16
	sharedPacketIDs   bool
	maxPacketSize     uint32
	maxConnections    int
	connectRate       rate.Limit
	connectBurst      int
	connectTimeout    time.Duration
	writeTimeout      time.Duration
	maxQoS            QoS
	readBufferSize    int
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		logger:         NewNoOpLogger(),
		metrics:        NoOpMetrics{},
		clock:          NewRealClock(),
		keepAliveGrace: DefaultKeepAliveGrace,
		maxPacketSize:  DefaultMaxPacketSize,
		maxConnections: 0, // unlimited
		connectRate:    rate.Inf,
		connectTimeout: DefaultConnectTimeout,
		writeTimeout:   DefaultWriteTimeout,
		maxQoS:         QoS2,
		readBufferSize: DefaultReadBufferSize,
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) ServerOption {
	return func(c *serverConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) ServerOption {
	return func(c *serverConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithAuthenticator sets the authenticator. Without one every client is accepted.
func WithAuthenticator(auth Authenticator) ServerOption {
	return func(c *serverConfig) {
		c.auth = auth
	}
}

// WithClock sets the clock that drives keep-alive and CONNECT timers.
func WithClock(clock Clock) ServerOption {
	return func(c *serverConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithKeepAliveGrace sets the multiple of the keep-alive interval a client may
// stay silent. Values below 1 are raised to 1.
func WithKeepAliveGrace(factor float64) ServerOption {
	return func(c *serverConfig) {
		c.keepAliveGrace = max(factor, 1.0)
	}
}

// WithServerKeepAlive sets the server keep-alive override.
// When set, clients are supervised with this value instead of their requested value.
func WithServerKeepAlive(seconds uint16) ServerOption {
	return func(c *serverConfig) {
		c.keepAliveOverride = seconds
	}
}

// WithSharedPacketIDs makes every session draw outbound packet identifiers
// from one process-wide allocator instead of its own.
func WithSharedPacketIDs() ServerOption {
	return func(c *serverConfig) {
		c.sharedPacketIDs = true
	}
}

// WithMaxPacketSize sets the maximum remaining length of a packet in either
// direction. Values above the protocol limit are clamped.
func WithMaxPacketSize(size uint32) ServerOption {
	return func(c *serverConfig) {
		c.maxPacketSize = min(size, maxVarint)
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
// 0 means unlimited.
func WithMaxConnections(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxConnections = max(n, 0)
	}
}

// WithConnectRateLimit limits accepted connections to r per second with the
// given burst. Connections over the limit are closed immediately.
func WithConnectRateLimit(r float64, burst int) ServerOption {
	return func(c *serverConfig) {
		if r <= 0 {
			c.connectRate = rate.Inf
			c.connectBurst = 0
			return
		}
		c.connectRate = rate.Limit(r)
		c.connectBurst = max(burst, 1)
	}
}

// WithConnectTimeout sets how long a connection may stay open without CONNECT.
// 0 disables the timeout.
func WithConnectTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.connectTimeout = max(d, 0)
	}
}

// WithWriteTimeout sets how long a single write to a client may block. A client
// that stops reading is disconnected once a write to it times out.
// 0 disables the timeout.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.writeTimeout = max(d, 0)
	}
}

// WithMaxQoS caps the QoS granted to subscriptions.
func WithMaxQoS(qos QoS) ServerOption {
	return func(c *serverConfig) {
		if qos.Valid() {
			c.maxQoS = qos
		}
	}
}

// WithReadBufferSize sets the size of the buffers sessions read into.
func WithReadBufferSize(size int) ServerOption {
	return func(c *serverConfig) {
		if size > 0 {
			c.readBufferSize = size
		}
	}
}
