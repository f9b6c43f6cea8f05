package mqttd

import (
	"bytes"
	"errors"
	"io"
)

// PUBLISH packet errors.
var (
	ErrTopicNameEmpty   = errors.New("topic name cannot be empty")
	ErrInvalidQoS       = errors.New("invalid QoS level")
	ErrPacketIDRequired = errors.New("packet identifier required for QoS > 0")
)

// PublishPacket represents an MQTT PUBLISH packet. Dup, QoS and Retain live in
// the embedded fixed header.
// MQTT v3.1.1 spec: Section 3.3
type PublishPacket struct {
	FixedHeader

	// Topic is the topic name.
	Topic string

	// PacketID is the packet identifier (only for QoS > 0).
	PacketID uint16

	// Payload is the application message.
	Payload []byte
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

// Header returns the packet's fixed header.
func (p *PublishPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketPUBLISH) }

// RequiresPacketID reports whether the packet carries a packet identifier.
// Only QoS 1 and 2 messages do.
func (p *PublishPacket) RequiresPacketID() bool { return p.QoS > QoS0 }

// GetPacketID returns the packet identifier.
func (p *PublishPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *PublishPacket) SetPacketID(id uint16) { p.PacketID = id }

// Length returns the size of the variable header and payload in bytes.
func (p *PublishPacket) Length() int {
	n := stringSize(p.Topic) + len(p.Payload)
	if p.RequiresPacketID() {
		n += 2
	}
	return n
}

// Encode writes the packet to the writer.
func (p *PublishPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

func (p *PublishPacket) encodeBody(buf *bytes.Buffer) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if _, err := encodeString(buf, p.Topic); err != nil {
		return err
	}

	if p.RequiresPacketID() {
		if _, err := encodePacketID(buf, p.PacketID); err != nil {
			return err
		}
	}

	buf.Write(p.Payload)
	return nil
}

// Decode reads the packet from the reader.
func (p *PublishPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(PacketPUBLISH, header); err != nil {
		return 0, err
	}
	p.FixedHeader = header

	var totalRead int

	// Topic Name
	var n int
	var err error
	p.Topic, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Packet Identifier (only for QoS > 0)
	if p.RequiresPacketID() {
		p.PacketID, n, err = decodePacketID(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	// Payload - read remaining bytes
	payloadLen := int(header.RemainingLength) - totalRead
	if payloadLen < 0 {
		return totalRead, ErrMalformedPacket
	}
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		n, err = io.ReadFull(r, p.Payload)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *PublishPacket) Validate() error {
	if !p.QoS.Valid() {
		return ErrInvalidQoS
	}

	// DUP must be 0 for QoS 0
	if p.QoS == QoS0 && p.Dup {
		return ErrInvalidPacketFlags
	}

	if p.QoS > QoS0 && p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	return ValidateTopicName(p.Topic)
}
