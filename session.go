package mqttd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Session errors.
var (
	ErrSessionClosed = errors.New("mqttd: session closed")
	ErrHandlerPanic  = errors.New("mqttd: handler panic")
)

// SessionState is the position of a session in its read/dispatch/write cycle.
type SessionState int32

// Session states.
const (
	StateIdle SessionState = iota
	StateReading
	StateDecoding
	StateDispatching
	StateWriting
	StateClosed
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDecoding:
		return "decoding"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session attribute keys set once CONNECT is accepted.
const (
	AttrClientID     = "client_id"
	AttrKeepAlive    = "keep_alive"
	AttrCleanSession = "clean_session"
	AttrUsername     = "username"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionKey sets the server-assigned connection index.
func WithSessionKey(key uint64) SessionOption {
	return func(s *Session) {
		s.key = key
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionMetrics sets the metrics sink.
func WithSessionMetrics(m *ServerMetrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithSessionBufferPool sets the pool read buffers come from.
func WithSessionBufferPool(pool BufferPool) SessionOption {
	return func(s *Session) {
		if pool != nil {
			s.pool = pool
		}
	}
}

// WithSessionPacketIDs sets the allocator outbound packet identifiers come from.
func WithSessionPacketIDs(ids *PacketIDAllocator) SessionOption {
	return func(s *Session) {
		if ids != nil {
			s.packetIDs = ids
		}
	}
}

// WithSessionMaxPacketSize bounds the remaining length of packets in both directions.
func WithSessionMaxPacketSize(size uint32) SessionOption {
	return func(s *Session) {
		s.maxPacketSize = size
	}
}

// WithSessionWriteTimeout bounds each write to the connection. A write that
// does not finish in time closes the session. 0 disables the bound.
func WithSessionWriteTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.writeTimeout = max(d, 0)
	}
}

// WithSessionOnClose sets the owner callback run once when the session closes.
func WithSessionOnClose(fn func(*Session)) SessionOption {
	return func(s *Session) {
		s.onClose = fn
	}
}

// Session is the server side of one client connection. A single goroutine
// runs Serve; WritePacket and Deliver may be called from any goroutine.
type Session struct {
	key           uint64
	conn          Conn
	handler       Handler
	encoder       *Encoder
	decoder       *Decoder
	pool          BufferPool
	metrics       *ServerMetrics
	packetIDs     *PacketIDAllocator
	maxPacketSize uint32
	writeTimeout  time.Duration
	onClose       func(*Session)

	state           atomic.Int32
	closed          atomic.Bool
	connected       atomic.Bool
	cleanDisconnect atomic.Bool
	done            chan struct{}
	writeMu         sync.Mutex // serialises writes to conn

	mu         sync.RWMutex
	logger     Logger
	attrs      map[string]any
	keepAlive  *KeepAlive
	will       *PublishPacket
	inflight   map[uint16]*PublishPacket
	lastPacket Packet
}

// NewSession creates a session for conn that dispatches to handler.
func NewSession(conn Conn, handler Handler, opts ...SessionOption) *Session {
	s := &Session{
		conn:         conn,
		handler:      handler,
		logger:       NewNoOpLogger(),
		packetIDs:    NewPacketIDAllocator(),
		writeTimeout: DefaultWriteTimeout,
		attrs:        make(map[string]any),
		inflight:     make(map[uint16]*PublishPacket),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.pool == nil {
		s.pool = NewBufferPool(DefaultReadBufferSize)
	}
	s.encoder = NewEncoder(s.maxPacketSize)
	s.decoder = NewDecoder(s.maxPacketSize)

	fields := LogFields{LogFieldSession: s.key}
	if addr := conn.RemoteAddr(); addr != nil {
		fields[LogFieldRemoteAddr] = addr.String()
	}
	s.logger = s.logger.WithFields(fields)

	return s
}

// Serve runs the read, decode, dispatch cycle until the session closes.
// Cancelling ctx closes the session. The session is always closed on return;
// a clean end (DISCONNECT, peer EOF, Close from elsewhere) returns nil.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	err := s.serve(ctx)
	s.Close()
	return err
}

func (s *Session) serve(ctx context.Context) error {
	for {
		if s.IsClosed() {
			return nil
		}

		s.setState(StateReading)
		buf := s.pool.Acquire()
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.decoder.Feed(buf[:n])
			s.metrics.BytesReceived(n)
		}
		s.pool.Release(buf)

		if n > 0 {
			if derr := s.decodeAndDispatch(ctx); derr != nil {
				return derr
			}
		}

		if err != nil {
			if s.IsClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Logger().Debug("read failed", LogFields{LogFieldError: err.Error()})
			return err
		}

		s.setState(StateIdle)
	}
}

// decodeAndDispatch dispatches every complete packet in the decoder. Bytes of
// an incomplete trailing frame stay buffered for the next read.
func (s *Session) decodeAndDispatch(ctx context.Context) error {
	for !s.IsClosed() {
		s.setState(StateDecoding)

		packet, err := s.decoder.Next()
		if err != nil {
			s.metrics.ProtocolError()
			s.Logger().Warn("malformed packet", LogFields{LogFieldError: err.Error()})
			return err
		}
		if packet == nil {
			return nil
		}

		if err := s.dispatch(ctx, packet); err != nil {
			return err
		}
	}
	return nil
}

// dispatch hands one packet to the handler. Handler errors and panics are
// returned so that the caller closes the session.
func (s *Session) dispatch(ctx context.Context, packet Packet) (err error) {
	if packet == nil {
		s.Logger().Warn("nil packet skipped", nil)
		return nil
	}

	s.setState(StateDispatching)

	s.mu.Lock()
	s.lastPacket = packet
	ka := s.keepAlive
	s.mu.Unlock()

	ka.Reset()
	s.metrics.PacketReceived(packet.Type())

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			s.Logger().Error("handler panic", LogFields{
				LogFieldPacketType: packet.Type().String(),
				LogFieldError:      err.Error(),
			})
		}
		s.metrics.DispatchLatency(time.Since(start))
	}()

	if perr := s.handler.Process(ctx, packet, s); perr != nil {
		if errors.Is(perr, ErrProtocolViolation) {
			s.metrics.ProtocolError()
		}
		s.Logger().Warn("handler failed", LogFields{
			LogFieldPacketType: packet.Type().String(),
			LogFieldError:      perr.Error(),
		})
		return perr
	}

	return nil
}

// WritePacket encodes packet and writes it to the connection. Encoding errors
// are returned without closing the session; transport errors close it.
func (s *Session) WritePacket(packet Packet) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}

	buf := getEncodeBuffer()
	defer putEncodeBuffer(buf)

	if err := s.encoder.Encode(buf, packet); err != nil {
		fields := LogFields{LogFieldError: err.Error()}
		if packet != nil {
			fields[LogFieldPacketType] = packet.Type().String()
		}
		s.Logger().Error("encode failed", fields)
		return err
	}

	writing := s.state.CompareAndSwap(int32(StateDispatching), int32(StateWriting))

	n, err := s.write(buf.Bytes())

	if writing {
		s.state.CompareAndSwap(int32(StateWriting), int32(StateDispatching))
	}

	if n > 0 {
		s.metrics.BytesSent(n)
	}

	if err != nil {
		if s.IsClosed() {
			return ErrSessionClosed
		}
		fields := LogFields{
			LogFieldPacketType: packet.Type().String(),
			LogFieldError:      err.Error(),
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			s.Logger().Warn("write timed out", fields)
		} else {
			s.Logger().Debug("write failed", fields)
		}
		s.Close()
		return err
	}

	s.metrics.PacketSent(packet.Type())
	return nil
}

// write runs on whichever goroutine sends the packet, often a publisher's, so
// a peer that stops reading must not hold it past writeTimeout.
func (s *Session) write(b []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return 0, err
		}
	}

	return s.conn.Write(b)
}

// Deliver sends an application message to the client. QoS 1 and 2 messages get
// a packet identifier from the session's allocator and stay in flight until
// Acknowledge releases them.
func (s *Session) Deliver(pub *PublishPacket) error {
	if pub.QoS == QoS0 {
		if err := s.WritePacket(pub); err != nil {
			return err
		}
		s.metrics.MessageSent(pub.QoS)
		return nil
	}

	id, err := s.packetIDs.Allocate()
	if err != nil {
		s.Logger().Error("cannot allocate packet identifier", LogFields{LogFieldError: err.Error()})
		return err
	}
	pub.PacketID = id

	s.mu.Lock()
	if s.IsClosed() {
		s.mu.Unlock()
		s.packetIDs.Release(id)
		return ErrSessionClosed
	}
	s.inflight[id] = pub
	s.mu.Unlock()

	if err := s.WritePacket(pub); err != nil {
		s.Acknowledge(id)
		return err
	}

	s.metrics.MessageSent(pub.QoS)
	return nil
}

// Acknowledge completes an in-flight delivery and releases its packet
// identifier. It returns false if id was not in flight.
func (s *Session) Acknowledge(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[id]; !ok {
		return false
	}
	delete(s.inflight, id)
	s.packetIDs.Release(id)
	return true
}

// InFlight reports whether id is an outstanding delivery.
func (s *Session) InFlight(id uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.inflight[id]
	return ok
}

// InFlightCount returns the number of outstanding deliveries.
func (s *Session) InFlightCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.inflight)
}

// Close closes the session. Only the first call has an effect: it stops the
// keep-alive timer, releases in-flight packet identifiers, closes the
// connection and notifies the handler and the owner.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.state.Store(int32(StateClosed))

	s.mu.Lock()
	ka := s.keepAlive
	s.keepAlive = nil
	for id := range s.inflight {
		s.packetIDs.Release(id)
	}
	clear(s.inflight)
	s.mu.Unlock()

	ka.Stop()
	err := s.conn.Close()
	close(s.done)

	if h, ok := s.handler.(SessionCloseHandler); ok {
		h.SessionClosed(s)
	}
	if s.onClose != nil {
		s.onClose(s)
	}

	s.Logger().Debug("session closed", nil)
	return err
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done returns a channel that is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// setState moves to st unless the session is closed.
func (s *Session) setState(st SessionState) {
	for {
		cur := s.state.Load()
		if cur == int32(StateClosed) {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Key returns the server-assigned connection index.
func (s *Session) Key() uint64 {
	return s.key
}

// RemoteAddr returns the client's network address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LastPacket returns the most recently dispatched packet.
func (s *Session) LastPacket() Packet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastPacket
}

// Buffered returns the number of received bytes waiting for a complete frame.
// It must only be called from the goroutine running Serve.
func (s *Session) Buffered() int {
	return s.decoder.Buffered()
}

// PacketIDs returns the allocator outbound packet identifiers come from.
func (s *Session) PacketIDs() *PacketIDAllocator {
	return s.packetIDs
}

// Logger returns the session's logger.
func (s *Session) Logger() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.logger
}

// AddLogFields attaches fields to every later log line of the session.
func (s *Session) AddLogFields(fields LogFields) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger = s.logger.WithFields(fields)
}

// SetAttr stores a connection-scoped value.
func (s *Session) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attrs[key] = value
}

// Attr returns a connection-scoped value.
func (s *Session) Attr(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.attrs[key]
	return v, ok
}

// ClientID returns the AttrClientID attribute.
func (s *Session) ClientID() string {
	v, _ := s.Attr(AttrClientID)
	id, _ := v.(string)
	return id
}

// Username returns the AttrUsername attribute.
func (s *Session) Username() string {
	v, _ := s.Attr(AttrUsername)
	name, _ := v.(string)
	return name
}

// KeepAliveInterval returns the AttrKeepAlive attribute in seconds.
func (s *Session) KeepAliveInterval() uint16 {
	v, _ := s.Attr(AttrKeepAlive)
	k, _ := v.(uint16)
	return k
}

// CleanSession returns the AttrCleanSession attribute.
func (s *Session) CleanSession() bool {
	v, _ := s.Attr(AttrCleanSession)
	clean, _ := v.(bool)
	return clean
}

// SetKeepAlive installs the keep-alive handle, stopping any previous one.
// A handle installed after Close is stopped immediately.
func (s *Session) SetKeepAlive(k *KeepAlive) {
	s.mu.Lock()
	old := s.keepAlive
	closed := s.IsClosed()
	if !closed {
		s.keepAlive = k
	}
	s.mu.Unlock()

	if old != nil && old != k {
		old.Stop()
	}
	if closed {
		k.Stop()
	}
}

// KeepAlive returns the keep-alive handle, nil before CONNECT.
func (s *Session) KeepAlive() *KeepAlive {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.keepAlive
}

// SetWill stores the message published if the session ends without DISCONNECT.
func (s *Session) SetWill(will *PublishPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.will = will
}

// Will returns the will message, nil if there is none.
func (s *Session) Will() *PublishPacket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.will
}

// MarkCleanDisconnect records that the client sent DISCONNECT and discards the will.
func (s *Session) MarkCleanDisconnect() {
	s.cleanDisconnect.Store(true)
	s.SetWill(nil)
}

// CleanDisconnect reports whether the client sent DISCONNECT.
func (s *Session) CleanDisconnect() bool {
	return s.cleanDisconnect.Load()
}

// SetConnected marks the session as having completed CONNECT.
func (s *Session) SetConnected() {
	s.connected.Store(true)
}

// Connected reports whether CONNECT has been accepted.
func (s *Session) Connected() bool {
	return s.connected.Load()
}
