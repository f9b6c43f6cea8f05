package mqttd

import (
	"bytes"
	"fmt"
	"io"
)

// Packet is the interface that all MQTT control packets implement.
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Header returns the packet's fixed header.
	Header() *FixedHeader

	// Encode writes the complete packet (fixed header, variable header and payload)
	// to the writer. The remaining length is derived from the encoded body.
	// Returns the number of bytes written.
	Encode(w io.Writer) (int, error)

	// Decode reads exactly header.RemainingLength bytes from the reader.
	// The fixed header must already be decoded.
	// Returns the number of bytes read.
	Decode(r io.Reader, header FixedHeader) (int, error)

	// Length returns the size of the variable header and payload in bytes.
	Length() int

	// RequiresPacketID reports whether the packet carries a packet identifier.
	RequiresPacketID() bool
}

// PacketWithID is implemented by packets that have a packet identifier.
type PacketWithID interface {
	Packet

	// GetPacketID returns the packet identifier.
	GetPacketID() uint16

	// SetPacketID sets the packet identifier.
	SetPacketID(id uint16)
}

// bodyEncoder is implemented by every packet type. encodeBody serialises the
// variable header and payload only.
type bodyEncoder interface {
	Packet
	encodeBody(buf *bytes.Buffer) error
}

// encodePacket frames a server-originated packet.
func encodePacket(w io.Writer, p bodyEncoder) (int, error) {
	if !ServerMaySend(p.Type()) {
		return 0, ErrUnsupportedDirection
	}
	return framePacket(w, p)
}

// framePacket encodes the body of p first, then writes the fixed header with the
// derived remaining length followed by the body. It applies no direction rule.
func framePacket(w io.Writer, p bodyEncoder) (int, error) {
	buf := getEncodeBuffer()
	defer putEncodeBuffer(buf)

	if err := p.encodeBody(buf); err != nil {
		return 0, err
	}

	return writePacket(w, p.Header(), buf.Bytes())
}

// normalizeHeader stamps the packet type on h. Every type except PUBLISH also gets
// its reserved flag bits.
func normalizeHeader(h *FixedHeader, t PacketType) *FixedHeader {
	if t == PacketPUBLISH {
		h.Type = t
		return h
	}

	length := h.RemainingLength
	*h = newFixedHeader(t)
	h.RemainingLength = length
	return h
}

// writePacket writes the fixed header followed by body. The remaining length
// of h is overwritten with the body length.
func writePacket(w io.Writer, h *FixedHeader, body []byte) (int, error) {
	h.RemainingLength = uint32(len(body))

	total, err := h.Encode(w)
	if err != nil {
		return total, err
	}

	if len(body) == 0 {
		return total, nil
	}

	n, err := w.Write(body)
	return total + n, err
}

// checkHeader verifies that the decoded header belongs to the packet being decoded.
func checkHeader(want PacketType, header FixedHeader) error {
	if header.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPacketType, want, header.Type)
	}
	return header.ValidateFlags()
}

// newPacket returns an empty packet for the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrInvalidPacketType
	}
}

// ServerMaySend reports whether the server is allowed to send packets of type t.
func ServerMaySend(t PacketType) bool {
	switch t {
	case PacketCONNECT, PacketSUBSCRIBE, PacketUNSUBSCRIBE, PacketPINGREQ, PacketDISCONNECT:
		return false
	default:
		return t.Valid()
	}
}

// ClientMaySend reports whether a client is allowed to send packets of type t.
func ClientMaySend(t PacketType) bool {
	switch t {
	case PacketCONNACK, PacketSUBACK, PacketUNSUBACK, PacketPINGRESP:
		return false
	default:
		return t.Valid()
	}
}
