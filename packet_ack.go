package mqttd

import (
	"bytes"
	"io"
)

// ackPacket is the shared body of the acknowledgment packets
// (PUBACK, PUBREC, PUBREL, PUBCOMP, UNSUBACK): a packet identifier and nothing else.
type ackPacket struct {
	FixedHeader

	PacketID uint16
}

// GetPacketID returns the packet identifier.
func (p *ackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *ackPacket) SetPacketID(id uint16) { p.PacketID = id }

// RequiresPacketID reports whether the packet carries a packet identifier.
func (p *ackPacket) RequiresPacketID() bool { return true }

// Length returns the size of the variable header in bytes.
func (p *ackPacket) Length() int { return 2 }

func (p *ackPacket) encodeBody(buf *bytes.Buffer) error {
	_, err := encodePacketID(buf, p.PacketID)
	return err
}

// decodeAck decodes an acknowledgment packet of type t.
func (p *ackPacket) decodeAck(r io.Reader, t PacketType, header FixedHeader) (int, error) {
	if err := checkHeader(t, header); err != nil {
		return 0, err
	}
	if header.RemainingLength != 2 {
		return 0, ErrMalformedPacket
	}
	p.FixedHeader = header

	id, n, err := decodePacketID(r)
	if err != nil {
		return n, err
	}
	p.PacketID = id
	return n, nil
}
