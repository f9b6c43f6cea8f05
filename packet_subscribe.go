package mqttd

import (
	"bytes"
	"errors"
	"io"
)

// SUBSCRIBE packet errors.
var (
	ErrNoSubscriptions = errors.New("SUBSCRIBE must contain at least one topic filter")
	ErrNoTopicFilters  = errors.New("UNSUBSCRIBE must contain at least one topic filter")
)

// Subscription is a topic filter with the QoS requested for it.
// MQTT v3.1.1 spec: Section 3.8.3
type Subscription struct {
	TopicFilter string
	QoS         QoS
}

// SubscribePacket represents an MQTT SUBSCRIBE packet.
// MQTT v3.1.1 spec: Section 3.8
type SubscribePacket struct {
	FixedHeader

	PacketID      uint16
	Subscriptions []Subscription
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// Header returns the packet's fixed header.
func (p *SubscribePacket) Header() *FixedHeader {
	return normalizeHeader(&p.FixedHeader, PacketSUBSCRIBE)
}

// RequiresPacketID reports whether the packet carries a packet identifier.
func (p *SubscribePacket) RequiresPacketID() bool { return true }

// GetPacketID returns the packet identifier.
func (p *SubscribePacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

// Length returns the size of the variable header and payload in bytes.
func (p *SubscribePacket) Length() int {
	n := 2
	for _, sub := range p.Subscriptions {
		n += stringSize(sub.TopicFilter) + 1
	}
	return n
}

// Encode always fails: SUBSCRIBE is only sent by clients.
func (p *SubscribePacket) Encode(_ io.Writer) (int, error) {
	return 0, ErrUnsupportedDirection
}

func (p *SubscribePacket) encodeBody(buf *bytes.Buffer) error {
	if err := p.Validate(); err != nil {
		return err
	}

	encodeUint16(buf, p.PacketID)
	for _, sub := range p.Subscriptions {
		if _, err := encodeString(buf, sub.TopicFilter); err != nil {
			return err
		}
		buf.WriteByte(byte(sub.QoS))
	}
	return nil
}

// Decode reads the packet from the reader.
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(PacketSUBSCRIBE, header); err != nil {
		return 0, err
	}
	p.FixedHeader = header

	var totalRead int

	id, n, err := decodePacketID(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.PacketID = id

	// Payload: subscriptions
	p.Subscriptions = nil
	for totalRead < int(header.RemainingLength) {
		var sub Subscription

		sub.TopicFilter, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		var optBuf [1]byte
		n, err = io.ReadFull(r, optBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		// Upper six bits are reserved
		if optBuf[0]&0xFC != 0 {
			return totalRead, ErrMalformedPacket
		}
		sub.QoS = QoS(optBuf[0])
		if !sub.QoS.Valid() {
			return totalRead, ErrInvalidQoS
		}

		p.Subscriptions = append(p.Subscriptions, sub)
	}

	if len(p.Subscriptions) == 0 {
		return totalRead, ErrNoSubscriptions
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}
	for _, sub := range p.Subscriptions {
		if !sub.QoS.Valid() {
			return ErrInvalidQoS
		}
	}
	return nil
}
