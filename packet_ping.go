package mqttd

import (
	"bytes"
	"io"
)

// emptyPacket is the shared body of packets without a variable header or payload.
type emptyPacket struct {
	FixedHeader
}

// RequiresPacketID reports whether the packet carries a packet identifier.
func (p *emptyPacket) RequiresPacketID() bool { return false }

// Length returns the size of the variable header and payload in bytes.
func (p *emptyPacket) Length() int { return 0 }

func (p *emptyPacket) encodeBody(_ *bytes.Buffer) error { return nil }

// decodeEmpty consumes nothing. A non-zero remaining length is malformed.
func (p *emptyPacket) decodeEmpty(t PacketType, header FixedHeader) (int, error) {
	if err := checkHeader(t, header); err != nil {
		return 0, err
	}
	if header.RemainingLength != 0 {
		return 0, ErrMalformedPacket
	}
	p.FixedHeader = header
	return 0, nil
}

// PingreqPacket represents an MQTT PINGREQ packet.
// MQTT v3.1.1 spec: Section 3.12
type PingreqPacket struct {
	emptyPacket
}

// Type returns the packet type.
func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

// Header returns the packet's fixed header.
func (p *PingreqPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketPINGREQ) }

// Encode always fails: PINGREQ is only sent by clients.
func (p *PingreqPacket) Encode(_ io.Writer) (int, error) {
	return 0, ErrUnsupportedDirection
}

// Decode reads the packet from the reader.
func (p *PingreqPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return p.decodeEmpty(PacketPINGREQ, header)
}

// PingrespPacket represents an MQTT PINGRESP packet.
// MQTT v3.1.1 spec: Section 3.13
type PingrespPacket struct {
	emptyPacket
}

// Type returns the packet type.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

// Header returns the packet's fixed header.
func (p *PingrespPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketPINGRESP) }

// Encode writes the packet to the writer.
func (p *PingrespPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

// Decode reads the packet from the reader.
func (p *PingrespPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return p.decodeEmpty(PacketPINGRESP, header)
}
