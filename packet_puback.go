package mqttd

import "io"

// PubackPacket represents an MQTT PUBACK packet.
// MQTT v3.1.1 spec: Section 3.4
type PubackPacket struct {
	ackPacket
}

// NewPubackPacket returns a PUBACK for the given packet identifier.
func NewPubackPacket(id uint16) *PubackPacket {
	p := &PubackPacket{}
	p.PacketID = id
	return p
}

// Type returns the packet type.
func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

// Header returns the packet's fixed header.
func (p *PubackPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketPUBACK) }

// Encode writes the packet to the writer.
func (p *PubackPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

// Decode reads the packet from the reader.
func (p *PubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return p.decodeAck(r, PacketPUBACK, header)
}
