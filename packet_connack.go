package mqttd

import (
	"bytes"
	"errors"
	"io"
)

// ConnackCode is the return code of a CONNACK packet.
type ConnackCode byte

// CONNACK return codes.
// MQTT v3.1.1 spec: Section 3.2.2.3
const (
	ConnackAccepted                    ConnackCode = 0x00
	ConnackUnacceptableProtocolVersion ConnackCode = 0x01
	ConnackIdentifierRejected          ConnackCode = 0x02
	ConnackServerUnavailable           ConnackCode = 0x03
	ConnackBadUsernameOrPassword       ConnackCode = 0x04
	ConnackNotAuthorized               ConnackCode = 0x05
)

// String returns the string representation of the return code.
func (c ConnackCode) String() string {
	switch c {
	case ConnackAccepted:
		return "accepted"
	case ConnackUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ConnackIdentifierRejected:
		return "identifier rejected"
	case ConnackServerUnavailable:
		return "server unavailable"
	case ConnackBadUsernameOrPassword:
		return "bad user name or password"
	case ConnackNotAuthorized:
		return "not authorized"
	default:
		return "unknown"
	}
}

// Valid returns true for the return codes defined by MQTT 3.1.1.
func (c ConnackCode) Valid() bool {
	return c <= ConnackNotAuthorized
}

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")
	ErrInvalidConnackCode  = errors.New("invalid CONNACK return code")
)

// ConnackPacket represents an MQTT CONNACK packet.
// MQTT v3.1.1 spec: Section 3.2
type ConnackPacket struct {
	FixedHeader

	// SessionPresent indicates if a session exists from a previous connection.
	SessionPresent bool

	// ReturnCode is the connection result.
	ReturnCode ConnackCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

// Header returns the packet's fixed header.
func (p *ConnackPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketCONNACK) }

// RequiresPacketID reports whether the packet carries a packet identifier.
func (p *ConnackPacket) RequiresPacketID() bool { return false }

// Length returns the size of the variable header in bytes.
func (p *ConnackPacket) Length() int { return 2 }

// Encode writes the packet to the writer.
func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	return encodePacket(w, p)
}

func (p *ConnackPacket) encodeBody(buf *bytes.Buffer) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(p.ReturnCode))
	return nil
}

// Decode reads the packet from the reader.
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(PacketCONNACK, header); err != nil {
		return 0, err
	}
	p.FixedHeader = header

	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, err
	}

	// Reserved bits must be 0
	if buf[0]&0xFE != 0 {
		return n, ErrInvalidConnackFlags
	}

	p.SessionPresent = buf[0]&0x01 != 0
	p.ReturnCode = ConnackCode(buf[1])

	return n, p.Validate()
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	if !p.ReturnCode.Valid() {
		return ErrInvalidConnackCode
	}

	// A refused connection never has a session
	if p.ReturnCode != ConnackAccepted && p.SessionPresent {
		return ErrInvalidConnackFlags
	}

	return nil
}
