package mqttd

import "io"

// DisconnectPacket represents an MQTT DISCONNECT packet. It has no variable
// header or payload; only clients send it.
// MQTT v3.1.1 spec: Section 3.14
type DisconnectPacket struct {
	emptyPacket
}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

// Header returns the packet's fixed header.
func (p *DisconnectPacket) Header() *FixedHeader {
	return normalizeHeader(&p.FixedHeader, PacketDISCONNECT)
}

// Encode always fails: the server never sends DISCONNECT.
func (p *DisconnectPacket) Encode(_ io.Writer) (int, error) {
	return 0, ErrUnsupportedDirection
}

// Decode consumes nothing and keeps the parsed header.
func (p *DisconnectPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return p.decodeEmpty(PacketDISCONNECT, header)
}
