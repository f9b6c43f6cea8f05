package mqttd

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Server accepts MQTT connections on any number of listeners and runs one
// Session per connection with a shared Processor.
type Server struct {
	config    *serverConfig
	logger    Logger
	metrics   *ServerMetrics
	processor *Processor
	limiter   *rate.Limiter
	pool      BufferPool
	sharedIDs *PacketIDAllocator

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	listeners []Listener
	sessions  map[uint64]*Session
	nextKey   atomic.Uint64
	wg        sync.WaitGroup
}

// NewServer creates a new MQTT server.
func NewServer(opts ...ServerOption) *Server {
	config := defaultServerConfig()
	for _, opt := range opts {
		opt(config)
	}

	metrics := NewServerMetrics(config.metrics)

	keepAlive := NewKeepAliveSupervisor(config.clock)
	keepAlive.SetGraceFactor(config.keepAliveGrace)
	keepAlive.SetServerOverride(config.keepAliveOverride)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:  config,
		logger:  config.logger,
		metrics: metrics,
		processor: NewProcessor(
			WithProcessorAuthenticator(config.auth),
			WithProcessorKeepAlive(keepAlive),
			WithProcessorMetrics(metrics),
			WithProcessorMaxQoS(config.maxQoS),
		),
		pool:     NewBufferPool(config.readBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[uint64]*Session),
	}

	if config.connectRate != rate.Inf {
		s.limiter = rate.NewLimiter(config.connectRate, config.connectBurst)
	}
	if config.sharedPacketIDs {
		s.sharedIDs = NewPacketIDAllocator()
	}

	return s
}

// Processor returns the handler sessions dispatch to.
func (s *Server) Processor() *Processor {
	return s.processor
}

// ListenAndServe listens on the TCP address and serves until Close.
func (s *Server) ListenAndServe(address string) error {
	l, err := NewTCPListener(address, s.config.maxConnections)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close. It always returns a non-nil
// error; after Close the error is ErrServerClosed.
func (s *Server) Serve(l Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	s.logger.Info("listening", LogFields{LogFieldListener: l.Addr().String()})

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			s.logger.Warn("accept failed", LogFields{LogFieldError: err.Error()})
			select {
			case <-s.ctx.Done():
				return ErrServerClosed
			case <-time.After(acceptBackoff):
			}
			continue
		}

		if !s.admit(conn) {
			continue
		}

		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// admit applies the connection limits and registers the connection with the
// wait group. A rejected connection is closed.
func (s *Server) admit(conn Conn) bool {
	reason := ""
	switch {
	case s.limiter != nil && !s.limiter.Allow():
		reason = "connect rate exceeded"
	case s.config.maxConnections > 0 && s.SessionCount() >= s.config.maxConnections:
		reason = "too many connections"
	}

	if reason == "" {
		s.mu.Lock()
		if s.closed {
			reason = "server closed"
		} else {
			s.wg.Add(1)
		}
		s.mu.Unlock()
	}

	if reason != "" {
		s.metrics.ConnectionRejected()
		s.logger.Debug("connection rejected", LogFields{
			LogFieldRemoteAddr: conn.RemoteAddr().String(),
			"reason":           reason,
		})
		conn.Close()
		return false
	}

	return true
}

// ServeConn runs a session on an accepted connection and blocks until it closes.
func (s *Server) ServeConn(conn Conn) error {
	opts := []SessionOption{
		WithSessionKey(s.nextKey.Add(1)),
		WithSessionLogger(s.logger),
		WithSessionMetrics(s.metrics),
		WithSessionBufferPool(s.pool),
		WithSessionMaxPacketSize(s.config.maxPacketSize),
		WithSessionWriteTimeout(s.config.writeTimeout),
		WithSessionOnClose(s.untrack),
	}
	if s.sharedIDs != nil {
		opts = append(opts, WithSessionPacketIDs(s.sharedIDs))
	}

	session := NewSession(conn, s.processor, opts...)
	if !s.track(session) {
		session.Close()
		return ErrServerClosed
	}
	s.metrics.ConnectionOpened()
	session.Logger().Debug("connection accepted", nil)

	if s.config.connectTimeout > 0 {
		timer := s.config.clock.AfterFunc(s.config.connectTimeout, func() {
			if !session.Connected() {
				session.Logger().Info("no CONNECT received", nil)
				session.Close()
			}
		})
		defer timer.Stop()
	}

	return session.Serve(s.ctx)
}

func (s *Server) track(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.sessions[session.Key()] = session
	return true
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	_, ok := s.sessions[session.Key()]
	delete(s.sessions, session.Key())
	s.mu.Unlock()

	if ok {
		s.metrics.ConnectionClosed()
	}
}

// Publish routes a server-originated message to matching subscribers and
// returns the number of sessions it was written to.
func (s *Server) Publish(pub *PublishPacket) (int, error) {
	if s.isClosed() {
		return 0, ErrServerClosed
	}
	if err := ValidateTopicName(pub.Topic); err != nil {
		return 0, err
	}
	if !pub.QoS.Valid() {
		return 0, ErrInvalidQoS
	}
	return s.processor.Publish(pub), nil
}

// SessionCount returns the number of open connections, connected or not.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// ClientCount returns the number of clients that completed CONNECT.
func (s *Server) ClientCount() int {
	return s.processor.SessionCount()
}

// Addrs returns the addresses of the listeners being served.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Close stops every listener, closes every session and waits for the
// connection goroutines to return. It is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	s.cancel()

	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	for _, session := range sessions {
		session.Close()
	}

	s.wg.Wait()
	s.processor.KeepAlive().Close()

	s.logger.Info("server closed", nil)
	return errors.Join(errs...)
}
