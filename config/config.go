// Package config loads mqttd server settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/zer0mqtt/mqttd"
)

// Listener types.
const (
	ListenerTCP       = "tcp"
	ListenerUnix      = "unix"
	ListenerWebSocket = "ws"
)

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config errors.
var (
	ErrNoListeners         = errors.New("at least one listener is required")
	ErrUnknownListenerType = errors.New("unknown listener type")
	ErrEmptyAddress        = errors.New("listener address is required")
	ErrInvalidMaxQoS       = errors.New("max_qos must be 0, 1 or 2")
	ErrUnknownLogFormat    = errors.New("unknown log format")
	ErrNegativeInterval    = errors.New("metrics log_interval must not be negative")
)

// Config is the top-level configuration file.
type Config struct {
	Listeners []Listener `yaml:"listeners"`
	Limits    Limits     `yaml:"limits"`
	KeepAlive KeepAlive  `yaml:"keep_alive"`
	Auth      *Auth      `yaml:"auth"`
	Logging   Logging    `yaml:"logging"`
	Metrics   Metrics    `yaml:"metrics"`
}

// Listener describes one endpoint clients connect to.
type Listener struct {
	Type    string `yaml:"type"`
	Address string `yaml:"address"`

	// Path is the HTTP path WebSocket upgrades are served on.
	Path string `yaml:"path,omitempty"`

	// AllowedOrigins is passed to the WebSocket origin check.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// TrustForwardedFor takes the WebSocket client address from X-Forwarded-For.
	TrustForwardedFor bool `yaml:"trust_forwarded_for,omitempty"`
}

// Limits bound resource use per server.
type Limits struct {
	MaxConnections  int           `yaml:"max_connections"`
	MaxPacketSize   uint32        `yaml:"max_packet_size"`
	MaxQoS          int           `yaml:"max_qos"`
	ConnectRate     float64       `yaml:"connect_rate"`
	ConnectBurst    int           `yaml:"connect_burst"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	SharedPacketIDs bool          `yaml:"shared_packet_ids"`
}

// KeepAlive tunes keep-alive supervision.
type KeepAlive struct {
	// Grace is the multiple of the client interval tolerated before disconnecting.
	Grace float64 `yaml:"grace"`

	// Override replaces the interval requested by clients when non-zero.
	Override uint16 `yaml:"override"`
}

// Auth configures the credential ledger. Passwords are bcrypt hashes.
type Auth struct {
	AllowAnonymous bool                      `yaml:"allow_anonymous"`
	Users          map[string]mqttd.UserRule `yaml:"users"`
}

// Logging selects the log level and output format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics controls the in-memory metrics snapshot written to the log.
type Metrics struct {
	// LogInterval is the period between snapshots. 0 disables them.
	LogInterval time.Duration `yaml:"log_interval"`
}

// Default returns the configuration used when no file is given: one TCP
// listener on the standard port.
func Default() *Config {
	return &Config{
		Listeners: []Listener{{Type: ListenerTCP, Address: ":1883"}},
		Limits: Limits{
			MaxPacketSize:  mqttd.DefaultMaxPacketSize,
			MaxQoS:         int(mqttd.QoS2),
			ConnectTimeout: mqttd.DefaultConnectTimeout,
			WriteTimeout:   mqttd.DefaultWriteTimeout,
			ReadBufferSize: mqttd.DefaultReadBufferSize,
		},
		KeepAlive: KeepAlive{Grace: mqttd.DefaultKeepAliveGrace},
		Logging:   Logging{Level: "info", Format: FormatJSON},
		Metrics:   Metrics{LogInterval: time.Minute},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks the configuration for values the server cannot use.
func (c *Config) Validate() error {
	if len(c.Listeners) == 0 {
		return ErrNoListeners
	}

	for i, l := range c.Listeners {
		switch l.Type {
		case ListenerTCP, ListenerUnix, ListenerWebSocket:
		default:
			return fmt.Errorf("listener %d: %w: %q", i, ErrUnknownListenerType, l.Type)
		}
		if l.Address == "" {
			return fmt.Errorf("listener %d: %w", i, ErrEmptyAddress)
		}
	}

	if c.Limits.MaxQoS < 0 || !mqttd.QoS(c.Limits.MaxQoS).Valid() {
		return ErrInvalidMaxQoS
	}

	if _, err := mqttd.ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Metrics.LogInterval < 0 {
		return ErrNegativeInterval
	}

	switch c.Logging.Format {
	case "", FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLogFormat, c.Logging.Format)
	}

	return nil
}

// Logger builds the logger described by the logging section, writing to w.
func (c *Config) Logger(w io.Writer) (mqttd.Logger, error) {
	level, err := mqttd.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	if c.Logging.Format == FormatConsole {
		zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		return mqttd.NewZerologLoggerFrom(zl, level), nil
	}

	return mqttd.NewZerologLogger(w, level), nil
}

// Authenticator builds the credential ledger, nil when no auth section is set.
func (c *Config) Authenticator() (mqttd.Authenticator, error) {
	if c.Auth == nil {
		return nil, nil
	}

	ledger := mqttd.NewLedgerAuthenticator(c.Auth.AllowAnonymous)
	for name, rule := range c.Auth.Users {
		if err := ledger.AddUserRule(name, rule); err != nil {
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
	}

	return ledger, nil
}

// ServerOptions converts the configuration into server options.
func (c *Config) ServerOptions(logger mqttd.Logger) ([]mqttd.ServerOption, error) {
	auth, err := c.Authenticator()
	if err != nil {
		return nil, err
	}

	opts := []mqttd.ServerOption{
		mqttd.WithLogger(logger),
		mqttd.WithMaxConnections(c.Limits.MaxConnections),
		mqttd.WithMaxQoS(mqttd.QoS(c.Limits.MaxQoS)),
		mqttd.WithConnectRateLimit(c.Limits.ConnectRate, c.Limits.ConnectBurst),
		mqttd.WithConnectTimeout(c.Limits.ConnectTimeout),
		mqttd.WithWriteTimeout(c.Limits.WriteTimeout),
		mqttd.WithReadBufferSize(c.Limits.ReadBufferSize),
		mqttd.WithKeepAliveGrace(c.KeepAlive.Grace),
		mqttd.WithServerKeepAlive(c.KeepAlive.Override),
	}

	if c.Limits.MaxPacketSize > 0 {
		opts = append(opts, mqttd.WithMaxPacketSize(c.Limits.MaxPacketSize))
	}
	if c.Limits.SharedPacketIDs {
		opts = append(opts, mqttd.WithSharedPacketIDs())
	}
	if auth != nil {
		opts = append(opts, mqttd.WithAuthenticator(auth))
	}

	return opts, nil
}

// OpenListeners opens every configured listener. On failure the listeners
// opened so far are closed.
func (c *Config) OpenListeners() ([]mqttd.Listener, error) {
	listeners := make([]mqttd.Listener, 0, len(c.Listeners))

	for _, lc := range c.Listeners {
		l, err := lc.open(c.Limits.MaxConnections)
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return nil, fmt.Errorf("listen %s %s: %w", lc.Type, lc.Address, err)
		}
		listeners = append(listeners, l)
	}

	return listeners, nil
}

func (l Listener) open(maxConns int) (mqttd.Listener, error) {
	switch l.Type {
	case ListenerTCP:
		return mqttd.NewTCPListener(l.Address, maxConns)
	case ListenerUnix:
		return mqttd.NewUnixListener(l.Address, maxConns)
	case ListenerWebSocket:
		ws, err := mqttd.NewWSListener(l.Address, l.Path, maxConns)
		if err != nil {
			return nil, err
		}
		ws.Handler().AllowedOrigins = l.AllowedOrigins
		ws.Handler().TrustForwardedFor = l.TrustForwardedFor
		return ws, nil
	default:
		return nil, ErrUnknownListenerType
	}
}
