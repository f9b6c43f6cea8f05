package mqttd

import "io"

// PubrecPacket represents an MQTT PUBREC packet.
// MQTT v3.1.1 spec: Section 3.5
type PubrecPacket struct {
	ackPacket
}

// NewPubrecPacket returns a PUBREC for the given packet identifier.
func NewPubrecPacket(id uint16) *PubrecPacket {
	p := &PubrecPacket{}
	p.PacketID = id
	return p
}

// Type returns the packet type.
func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

// Header returns the packet's fixed header.
func (p *PubrecPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketPUBREC) }

// Encode writes the packet to the writer.
func (p *PubrecPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

// Decode reads the packet from the reader.
func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return p.decodeAck(r, PacketPUBREC, header)
}
