package mqttd

import (
	"bytes"
	"errors"
	"io"
)

// SubackFailure is the SUBACK return code for a rejected subscription.
const SubackFailure byte = 0x80

// ErrInvalidSubackCode is returned for SUBACK return codes other than 0, 1, 2 and 0x80.
var ErrInvalidSubackCode = errors.New("invalid SUBACK return code")

// SubackPacket represents an MQTT SUBACK packet.
// MQTT v3.1.1 spec: Section 3.9
type SubackPacket struct {
	FixedHeader

	PacketID uint16

	// ReturnCodes holds the granted QoS, or SubackFailure, per requested filter
	// in request order.
	ReturnCodes []byte
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// Header returns the packet's fixed header.
func (p *SubackPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketSUBACK) }

// RequiresPacketID reports whether the packet carries a packet identifier.
func (p *SubackPacket) RequiresPacketID() bool { return true }

// GetPacketID returns the packet identifier.
func (p *SubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

// Length returns the size of the variable header and payload in bytes.
func (p *SubackPacket) Length() int { return 2 + len(p.ReturnCodes) }

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

func (p *SubackPacket) encodeBody(buf *bytes.Buffer) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if _, err := encodePacketID(buf, p.PacketID); err != nil {
		return err
	}
	buf.Write(p.ReturnCodes)
	return nil
}

// Decode reads the packet from the reader.
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(PacketSUBACK, header); err != nil {
		return 0, err
	}
	if header.RemainingLength < 3 {
		return 0, ErrMalformedPacket
	}
	p.FixedHeader = header

	id, n, err := decodePacketID(r)
	if err != nil {
		return n, err
	}
	p.PacketID = id

	p.ReturnCodes = make([]byte, int(header.RemainingLength)-n)
	n2, err := io.ReadFull(r, p.ReturnCodes)
	n += n2
	if err != nil {
		return n, err
	}

	return n, p.Validate()
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.ReturnCodes) == 0 {
		return ErrMalformedPacket
	}
	for _, code := range p.ReturnCodes {
		if code != SubackFailure && !QoS(code).Valid() {
			return ErrInvalidSubackCode
		}
	}
	return nil
}
