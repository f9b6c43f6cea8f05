package mqttd

import "io"

// PubrelPacket represents an MQTT PUBREL packet.
// MQTT v3.1.1 spec: Section 3.6
type PubrelPacket struct {
	ackPacket
}

// NewPubrelPacket returns a PUBREL for the given packet identifier.
func NewPubrelPacket(id uint16) *PubrelPacket {
	p := &PubrelPacket{}
	p.PacketID = id
	return p
}

// Type returns the packet type.
func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

// Header returns the packet's fixed header.
func (p *PubrelPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketPUBREL) }

// Encode writes the packet to the writer.
func (p *PubrelPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

// Decode reads the packet from the reader.
func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return p.decodeAck(r, PacketPUBREL, header)
}
