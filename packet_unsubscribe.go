package mqttd

import (
	"bytes"
	"io"
)

// UnsubscribePacket represents an MQTT UNSUBSCRIBE packet.
// MQTT v3.1.1 spec: Section 3.10
type UnsubscribePacket struct {
	FixedHeader

	PacketID     uint16
	TopicFilters []string
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

// Header returns the packet's fixed header.
func (p *UnsubscribePacket) Header() *FixedHeader {
	return normalizeHeader(&p.FixedHeader, PacketUNSUBSCRIBE)
}

// RequiresPacketID reports whether the packet carries a packet identifier.
func (p *UnsubscribePacket) RequiresPacketID() bool { return true }

// GetPacketID returns the packet identifier.
func (p *UnsubscribePacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *UnsubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

// Length returns the size of the variable header and payload in bytes.
func (p *UnsubscribePacket) Length() int {
	n := 2
	for _, filter := range p.TopicFilters {
		n += stringSize(filter)
	}
	return n
}

// Encode always fails: UNSUBSCRIBE is only sent by clients.
func (p *UnsubscribePacket) Encode(_ io.Writer) (int, error) {
	return 0, ErrUnsupportedDirection
}

func (p *UnsubscribePacket) encodeBody(buf *bytes.Buffer) error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.TopicFilters) == 0 {
		return ErrNoTopicFilters
	}

	encodeUint16(buf, p.PacketID)
	for _, filter := range p.TopicFilters {
		if _, err := encodeString(buf, filter); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads the packet from the reader.
func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(PacketUNSUBSCRIBE, header); err != nil {
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

	p.TopicFilters = nil
	for totalRead < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		p.TopicFilters = append(p.TopicFilters, filter)
	}

	if len(p.TopicFilters) == 0 {
		return totalRead, ErrNoTopicFilters
	}

	return totalRead, nil
}
