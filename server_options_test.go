package mqttd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestDefaultServerConfig(t *testing.T) {
	c := defaultServerConfig()

	assert.IsType(t, &NoOpLogger{}, c.logger)
	assert.Equal(t, NoOpMetrics{}, c.metrics)
	assert.Nil(t, c.auth)
	assert.NotNil(t, c.clock)
	assert.Equal(t, DefaultKeepAliveGrace, c.keepAliveGrace)
	assert.Zero(t, c.keepAliveOverride)
	assert.False(t, c.sharedPacketIDs)
	assert.Equal(t, uint32(DefaultMaxPacketSize), c.maxPacketSize)
	assert.Zero(t, c.maxConnections)
	assert.Equal(t, rate.Inf, c.connectRate)
	assert.Equal(t, DefaultConnectTimeout, c.connectTimeout)
	assert.Equal(t, DefaultWriteTimeout, c.writeTimeout)
	assert.Equal(t, QoS2, c.maxQoS)
	assert.Equal(t, DefaultReadBufferSize, c.readBufferSize)
}

func TestServerOptions(t *testing.T) {
	apply := func(opts ...ServerOption) *serverConfig {
		c := defaultServerConfig()
		for _, opt := range opts {
			opt(c)
		}
		return c
	}

	t.Run("logger", func(t *testing.T) {
		logger := NewZerologLogger(nil, LogLevelInfo)
		assert.Same(t, logger, apply(WithLogger(logger)).logger)
		assert.IsType(t, &NoOpLogger{}, apply(WithLogger(nil)).logger)
	})

	t.Run("metrics", func(t *testing.T) {
		m := NewMemoryMetrics()
		assert.Same(t, m, apply(WithMetrics(m)).metrics)
		assert.Equal(t, NoOpMetrics{}, apply(WithMetrics(nil)).metrics)
	})

	t.Run("authenticator", func(t *testing.T) {
		assert.Equal(t, DenyAllAuthenticator{}, apply(WithAuthenticator(DenyAllAuthenticator{})).auth)
	})

	t.Run("clock", func(t *testing.T) {
		clock := newManualClock()
		assert.Same(t, clock, apply(WithClock(clock)).clock)
		assert.NotNil(t, apply(WithClock(nil)).clock)
	})

	t.Run("keep-alive grace", func(t *testing.T) {
		assert.Equal(t, 1.5, apply(WithKeepAliveGrace(1.5)).keepAliveGrace)
		assert.Equal(t, 1.0, apply(WithKeepAliveGrace(0.2)).keepAliveGrace)
	})

	t.Run("server keep-alive", func(t *testing.T) {
		assert.Equal(t, uint16(30), apply(WithServerKeepAlive(30)).keepAliveOverride)
	})

	t.Run("shared packet ids", func(t *testing.T) {
		assert.True(t, apply(WithSharedPacketIDs()).sharedPacketIDs)
	})

	t.Run("max packet size", func(t *testing.T) {
		assert.Equal(t, uint32(1024), apply(WithMaxPacketSize(1024)).maxPacketSize)
		assert.Equal(t, uint32(maxVarint), apply(WithMaxPacketSize(maxVarint+10)).maxPacketSize)
	})

	t.Run("max connections", func(t *testing.T) {
		assert.Equal(t, 10, apply(WithMaxConnections(10)).maxConnections)
		assert.Zero(t, apply(WithMaxConnections(-5)).maxConnections)
	})

	t.Run("connect rate limit", func(t *testing.T) {
		c := apply(WithConnectRateLimit(5, 0))
		assert.Equal(t, rate.Limit(5), c.connectRate)
		assert.Equal(t, 1, c.connectBurst)

		c = apply(WithConnectRateLimit(5, 10), WithConnectRateLimit(0, 10))
		assert.Equal(t, rate.Inf, c.connectRate)
		assert.Zero(t, c.connectBurst)
	})

	t.Run("connect timeout", func(t *testing.T) {
		assert.Equal(t, time.Second, apply(WithConnectTimeout(time.Second)).connectTimeout)
		assert.Zero(t, apply(WithConnectTimeout(-time.Second)).connectTimeout)
	})

	t.Run("write timeout", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, apply(WithWriteTimeout(2*time.Second)).writeTimeout)
		assert.Zero(t, apply(WithWriteTimeout(0)).writeTimeout)
		assert.Zero(t, apply(WithWriteTimeout(-time.Second)).writeTimeout)
	})

	t.Run("max qos", func(t *testing.T) {
		assert.Equal(t, QoS1, apply(WithMaxQoS(QoS1)).maxQoS)
		assert.Equal(t, QoS2, apply(WithMaxQoS(QoS(3))).maxQoS)
	})

	t.Run("read buffer size", func(t *testing.T) {
		assert.Equal(t, 512, apply(WithReadBufferSize(512)).readBufferSize)
		assert.Equal(t, DefaultReadBufferSize, apply(WithReadBufferSize(0)).readBufferSize)
	})
}
