package mqttd

import "io"

// UnsubackPacket represents an MQTT UNSUBACK packet.
// MQTT v3.1.1 spec: Section 3.11
type UnsubackPacket struct {
	ackPacket
}

// NewUnsubackPacket returns an UNSUBACK for the given packet identifier.
func NewUnsubackPacket(id uint16) *UnsubackPacket {
	p := &UnsubackPacket{}
	p.PacketID = id
	return p
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

// Header returns the packet's fixed header.
func (p *UnsubackPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketUNSUBACK) }

// Encode writes the packet to the writer.
func (p *UnsubackPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

// Decode reads the packet from the reader.
func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return p.decodeAck(r, PacketUNSUBACK, header)
}
