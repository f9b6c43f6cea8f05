package mqttd

import "io"

// PubcompPacket represents an MQTT PUBCOMP packet.
// MQTT v3.1.1 spec: Section 3.7
type PubcompPacket struct {
	ackPacket
}

// NewPubcompPacket returns a PUBCOMP for the given packet identifier.
func NewPubcompPacket(id uint16) *PubcompPacket {
	p := &PubcompPacket{}
	p.PacketID = id
	return p
}

// Type returns the packet type.
func (p *PubcompPacket) Type() PacketType { return PacketPUBCOMP }

// Header returns the packet's fixed header.
func (p *PubcompPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketPUBCOMP) }

// Encode writes the packet to the writer.
func (p *PubcompPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

// Decode reads the packet from the reader.
func (p *PubcompPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return p.decodeAck(r, PacketPUBCOMP, header)
}
