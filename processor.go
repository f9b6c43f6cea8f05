package mqttd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/xid"
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorAuthenticator sets the authenticator. Nil accepts every client.
func WithProcessorAuthenticator(auth Authenticator) ProcessorOption {
	return func(p *Processor) {
		p.auth = auth
	}
}

// WithProcessorKeepAlive sets the keep-alive supervisor.
func WithProcessorKeepAlive(sup *KeepAliveSupervisor) ProcessorOption {
	return func(p *Processor) {
		if sup != nil {
			p.keepAlive = sup
		}
	}
}

// WithProcessorSubscriptions sets the subscription manager.
func WithProcessorSubscriptions(subs *SubscriptionManager) ProcessorOption {
	return func(p *Processor) {
		if subs != nil {
			p.subs = subs
		}
	}
}

// WithProcessorMetrics sets the metrics sink.
func WithProcessorMetrics(m *ServerMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithProcessorMaxQoS caps the QoS granted to subscriptions.
func WithProcessorMaxQoS(qos QoS) ProcessorOption {
	return func(p *Processor) {
		if qos.Valid() {
			p.maxQoS = qos
		}
	}
}

// Processor is the default Handler. It runs the CONNECT handshake, routes
// PUBLISH packets to subscribers and answers the acknowledgement flows.
// Connected sessions are registered by client ID.
type Processor struct {
	auth      Authenticator
	keepAlive *KeepAliveSupervisor
	subs      *SubscriptionManager
	metrics   *ServerMetrics
	maxQoS    QoS

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewProcessor creates a Processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{
		subs:     NewSubscriptionManager(),
		maxQoS:   QoS2,
		sessions: make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.keepAlive == nil {
		p.keepAlive = NewKeepAliveSupervisor(nil)
	}

	return p
}

// Subscriptions returns the subscription manager.
func (p *Processor) Subscriptions() *SubscriptionManager {
	return p.subs
}

// KeepAlive returns the keep-alive supervisor.
func (p *Processor) KeepAlive() *KeepAliveSupervisor {
	return p.keepAlive
}

// Session returns the connected session of clientID.
func (p *Processor) Session(clientID string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.sessions[clientID]
	return s, ok
}

// SessionCount returns the number of connected clients.
func (p *Processor) SessionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.sessions)
}

// Process implements Handler.
func (p *Processor) Process(ctx context.Context, packet Packet, s *Session) error {
	if !s.Connected() {
		connect, ok := packet.(*ConnectPacket)
		if !ok {
			return fmt.Errorf("%w: %s before CONNECT", ErrProtocolViolation, packet.Type())
		}
		return p.handleConnect(ctx, connect, s)
	}

	switch pk := packet.(type) {
	case *ConnectPacket:
		return fmt.Errorf("%w: second CONNECT", ErrProtocolViolation)

	case *PublishPacket:
		return p.handlePublish(pk, s)

	case *PubackPacket:
		p.acknowledge(s, PacketPUBACK, pk.PacketID)
		return nil

	case *PubrecPacket:
		return s.WritePacket(NewPubrelPacket(pk.PacketID))

	case *PubrelPacket:
		return s.WritePacket(NewPubcompPacket(pk.PacketID))

	case *PubcompPacket:
		p.acknowledge(s, PacketPUBCOMP, pk.PacketID)
		return nil

	case *SubscribePacket:
		return p.handleSubscribe(pk, s)

	case *UnsubscribePacket:
		return p.handleUnsubscribe(pk, s)

	case *PingreqPacket:
		return s.WritePacket(&PingrespPacket{})

	case *DisconnectPacket:
		s.MarkCleanDisconnect()
		s.Logger().Debug("client sent DISCONNECT", nil)
		return s.Close()

	default:
		return fmt.Errorf("%w: %s from client", ErrProtocolViolation, packet.Type())
	}
}

// MQTT v3.1.1 spec: Section 3.1.4
func (p *Processor) handleConnect(ctx context.Context, c *ConnectPacket, s *Session) error {
	if err := c.Validate(); err != nil {
		if errors.Is(err, ErrInvalidProtocolVersion) {
			return p.refuse(s, ConnackUnacceptableProtocolVersion)
		}
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	clientID := c.ClientID
	if clientID == "" {
		if !c.CleanSession {
			return p.refuse(s, ConnackIdentifierRejected)
		}
		clientID = xid.New().String()
	}

	var will *PublishPacket
	if c.WillFlag {
		if err := ValidateTopicName(c.WillTopic); err != nil {
			return fmt.Errorf("%w: will topic: %w", ErrProtocolViolation, err)
		}
		will = &PublishPacket{Topic: c.WillTopic, Payload: c.WillPayload}
		will.QoS = c.WillQoS
		will.Retain = c.WillRetain
	}

	if p.auth != nil {
		code, err := p.auth.Authenticate(ctx, &AuthContext{
			ClientID:     clientID,
			UsernameFlag: c.UsernameFlag,
			PasswordFlag: c.PasswordFlag,
			Username:     c.Username,
			Password:     c.Password,
			RemoteAddr:   s.RemoteAddr(),
		})
		if err != nil {
			s.Logger().Error("authentication failed", LogFields{LogFieldError: err.Error()})
			code = ConnackServerUnavailable
		}
		if code != ConnackAccepted {
			return p.refuse(s, code)
		}
	}

	s.SetAttr(AttrClientID, clientID)
	s.SetAttr(AttrKeepAlive, c.KeepAlive)
	s.SetAttr(AttrCleanSession, c.CleanSession)
	if c.UsernameFlag {
		s.SetAttr(AttrUsername, c.Username)
	}
	s.AddLogFields(LogFields{LogFieldClientID: clientID})

	p.mu.Lock()
	old := p.sessions[clientID]
	p.sessions[clientID] = s
	p.mu.Unlock()

	if old != nil && old != s {
		s.Logger().Info("session taken over", LogFields{LogFieldSession: old.Key()})
		old.Close()
	}

	if c.CleanSession || (old != nil && old.CleanSession()) {
		p.metrics.SubscriptionsRemoved(p.subs.UnsubscribeAll(clientID))
	}
	sessionPresent := !c.CleanSession && p.subs.HasSubscriptions(clientID)

	s.SetWill(will)
	s.SetConnected()

	ka := p.keepAlive.Add(clientID, c.KeepAlive, func() {
		p.metrics.KeepAliveTimeout()
		s.Logger().Info("keep-alive expired", nil)
		s.Close()
	})
	s.SetKeepAlive(ka)

	if err := s.WritePacket(&ConnackPacket{SessionPresent: sessionPresent, ReturnCode: ConnackAccepted}); err != nil {
		return err
	}

	s.Logger().Info("client connected", LogFields{
		"keep_alive":      ka.Interval(),
		"clean_session":   c.CleanSession,
		"session_present": sessionPresent,
	})
	return nil
}

// refuse sends a negative CONNACK and returns an error that closes the session.
func (p *Processor) refuse(s *Session, code ConnackCode) error {
	s.Logger().Info("connection refused", LogFields{LogFieldReturnCode: code.String()})
	if err := s.WritePacket(&ConnackPacket{ReturnCode: code}); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrConnectionRefused, code)
}

// MQTT v3.1.1 spec: Section 3.3.4
func (p *Processor) handlePublish(pub *PublishPacket, s *Session) error {
	if err := pub.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	p.metrics.MessageReceived(pub.QoS)

	switch pub.QoS {
	case QoS1:
		if err := s.WritePacket(NewPubackPacket(pub.PacketID)); err != nil {
			return err
		}
	case QoS2:
		if err := s.WritePacket(NewPubrecPacket(pub.PacketID)); err != nil {
			return err
		}
	}

	p.Publish(pub)
	return nil
}

// Publish routes a message to every connected subscriber whose filter matches
// its topic, at the lower of the message QoS and the granted QoS. Subscribers
// that are not connected miss the message. It returns the number of sessions
// the message was written to.
func (p *Processor) Publish(pub *PublishPacket) int {
	targets := p.subs.MatchForDelivery(pub.Topic)

	delivered := 0
	for clientID, granted := range targets {
		p.mu.RLock()
		target := p.sessions[clientID]
		p.mu.RUnlock()

		if target == nil || !target.Connected() {
			continue
		}

		out := &PublishPacket{Topic: pub.Topic, Payload: pub.Payload}
		out.QoS = min(pub.QoS, granted)

		if err := target.Deliver(out); err != nil {
			target.Logger().Debug("delivery failed", LogFields{
				LogFieldTopic: pub.Topic,
				LogFieldError: err.Error(),
			})
			continue
		}
		delivered++
	}

	return delivered
}

func (p *Processor) acknowledge(s *Session, t PacketType, id uint16) {
	if !s.Acknowledge(id) {
		s.Logger().Debug("acknowledgement for unknown packet identifier", LogFields{
			LogFieldPacketType: t.String(),
			LogFieldPacketID:   id,
		})
	}
}

// MQTT v3.1.1 spec: Section 3.8.4
func (p *Processor) handleSubscribe(sub *SubscribePacket, s *Session) error {
	clientID := s.ClientID()
	codes := make([]byte, len(sub.Subscriptions))

	for i, req := range sub.Subscriptions {
		granted := min(req.QoS, p.maxQoS)

		added, err := p.subs.Subscribe(clientID, Subscription{TopicFilter: req.TopicFilter, QoS: granted})
		if err != nil {
			s.Logger().Debug("subscription rejected", LogFields{
				LogFieldTopic: req.TopicFilter,
				LogFieldError: err.Error(),
			})
			codes[i] = SubackFailure
			continue
		}
		if added {
			p.metrics.SubscriptionAdded()
		}
		codes[i] = byte(granted)
	}

	return s.WritePacket(&SubackPacket{PacketID: sub.PacketID, ReturnCodes: codes})
}

// MQTT v3.1.1 spec: Section 3.10.4
func (p *Processor) handleUnsubscribe(unsub *UnsubscribePacket, s *Session) error {
	clientID := s.ClientID()

	removed := 0
	for _, filter := range unsub.TopicFilters {
		if p.subs.Unsubscribe(clientID, filter) {
			removed++
		}
	}
	p.metrics.SubscriptionsRemoved(removed)

	return s.WritePacket(NewUnsubackPacket(unsub.PacketID))
}

// SessionClosed implements SessionCloseHandler. It unregisters the session,
// drops the subscriptions of a clean session and publishes the will of a
// client that went away without DISCONNECT.
func (p *Processor) SessionClosed(s *Session) {
	if !s.Connected() {
		return
	}

	clientID := s.ClientID()

	p.mu.Lock()
	current := p.sessions[clientID] == s
	if current {
		delete(p.sessions, clientID)
	}
	p.mu.Unlock()

	if current && s.CleanSession() {
		p.metrics.SubscriptionsRemoved(p.subs.UnsubscribeAll(clientID))
	}

	if will := s.Will(); will != nil && !s.CleanDisconnect() {
		n := p.Publish(will)
		s.Logger().Debug("will published", LogFields{
			LogFieldTopic: will.Topic,
			"receivers":   n,
		})
	}

	s.Logger().Info("client disconnected", LogFields{"clean": s.CleanDisconnect()})
}
