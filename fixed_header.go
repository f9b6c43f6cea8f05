package mqttd

import (
	"errors"
	"io"
)

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT 3.1.1 control packet types.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
)

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	switch p {
	case PacketCONNECT:
		return "CONNECT"
	case PacketCONNACK:
		return "CONNACK"
	case PacketPUBLISH:
		return "PUBLISH"
	case PacketPUBACK:
		return "PUBACK"
	case PacketPUBREC:
		return "PUBREC"
	case PacketPUBREL:
		return "PUBREL"
	case PacketPUBCOMP:
		return "PUBCOMP"
	case PacketSUBSCRIBE:
		return "SUBSCRIBE"
	case PacketSUBACK:
		return "SUBACK"
	case PacketUNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case PacketUNSUBACK:
		return "UNSUBACK"
	case PacketPINGREQ:
		return "PINGREQ"
	case PacketPINGRESP:
		return "PINGRESP"
	case PacketDISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true if the packet type is defined by MQTT 3.1.1.
// Types 0 and 15 are reserved.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketDISCONNECT
}

// Fixed header errors.
var (
	ErrInvalidPacketType        = errors.New("invalid packet type")
	ErrInvalidPacketFlags       = errors.New("invalid packet flags")
	ErrMalformedRemainingLength = errors.New("malformed remaining length")
	ErrRemainingLengthTooLarge  = errors.New("remaining length too large")
)

// QoS is the delivery guarantee requested for a message.
type QoS byte

// Quality of service levels.
const (
	QoS0 QoS = 0 // at most once
	QoS1 QoS = 1 // at least once
	QoS2 QoS = 2 // exactly once
)

// Valid returns true for QoS 0, 1 and 2.
func (q QoS) Valid() bool {
	return q <= QoS2
}

// FixedHeader is the first 2-5 bytes of every MQTT control packet.
type FixedHeader struct {
	// Type is the packet type from bits 7-4 of the control byte.
	Type PacketType

	// Dup marks a redelivery (bit 3).
	Dup bool

	// QoS is the quality of service (bits 2-1).
	QoS QoS

	// Retain is the retain flag (bit 0).
	Retain bool

	// RemainingLength is the number of bytes following the fixed header.
	RemainingLength uint32
}

// EncodeControlByte packs the header flags into the first byte of a packet.
func EncodeControlByte(h FixedHeader) byte {
	b := byte(h.Type) << 4
	if h.Dup {
		b |= 0x08
	}
	b |= (byte(h.QoS) & 0x03) << 1
	if h.Retain {
		b |= 0x01
	}
	return b
}

// DecodeControlByte unpacks the first byte of a packet. RemainingLength is left at zero.
func DecodeControlByte(b byte) FixedHeader {
	return FixedHeader{
		Type:   PacketType(b >> 4),
		Dup:    b&0x08 != 0,
		QoS:    QoS((b & 0x06) >> 1),
		Retain: b&0x01 != 0,
	}
}

// Encode writes the control byte and the remaining length to the writer.
// Returns the number of bytes written.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if !h.Type.Valid() {
		return 0, ErrInvalidPacketType
	}

	var buf [5]byte
	buf[0] = EncodeControlByte(*h)

	n, err := putVarint(buf[1:], h.RemainingLength)
	if err != nil {
		return 0, err
	}

	return w.Write(buf[:1+n])
}

// Decode reads the fixed header from a blocking reader.
// Returns the number of bytes read.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, err
	}

	*h = DecodeControlByte(buf[0])
	if !h.Type.Valid() {
		return n, ErrInvalidPacketType
	}

	length, n2, err := decodeVarint(r)
	n += n2
	if err != nil {
		// the control byte is already consumed
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	}

	h.RemainingLength = length
	return n, nil
}

// ParseFixedHeader decodes a fixed header from the start of buf.
//
// When buf does not yet hold the whole header, complete is false and err is nil:
// the caller should wait for more bytes. n is the header size in bytes when complete.
func ParseFixedHeader(buf []byte) (h FixedHeader, n int, complete bool, err error) {
	if len(buf) == 0 {
		return h, 0, false, nil
	}

	h = DecodeControlByte(buf[0])
	if !h.Type.Valid() {
		return h, 0, false, ErrInvalidPacketType
	}

	length, vn, complete, err := parseVarint(buf[1:])
	if err != nil || !complete {
		return h, 0, false, err
	}

	h.RemainingLength = length
	return h, 1 + vn, true, nil
}

// Size returns the encoded size of the fixed header in bytes.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// ValidateFlags checks the reserved flag bits for the packet type.
func (h *FixedHeader) ValidateFlags() error {
	flags := EncodeControlByte(*h) & 0x0F

	switch h.Type {
	case PacketPUBLISH:
		if !h.QoS.Valid() {
			return ErrInvalidPacketFlags
		}
		if h.QoS == QoS0 && h.Dup {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		if flags != 0x02 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketCONNECT, PacketCONNACK, PacketPUBACK, PacketPUBREC,
		PacketPUBCOMP, PacketSUBACK, PacketUNSUBACK, PacketPINGREQ,
		PacketPINGRESP, PacketDISCONNECT:
		if flags != 0x00 {
			return ErrInvalidPacketFlags
		}
		return nil

	default:
		return ErrInvalidPacketType
	}
}

// newFixedHeader returns a header with the reserved flags required for the packet type.
func newFixedHeader(t PacketType) FixedHeader {
	h := FixedHeader{Type: t}
	if t == PacketPUBREL || t == PacketSUBSCRIBE || t == PacketUNSUBSCRIBE {
		h.QoS = QoS1
	}
	return h
}
