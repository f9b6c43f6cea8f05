package mqttd

import (
	"bytes"
	"errors"
	"io"
)

// Protocol names and levels accepted in CONNECT.
const (
	ProtocolName311 = "MQTT"
	ProtocolName31  = "MQIsdp"

	ProtocolLevel311 byte = 4
	ProtocolLevel31  byte = 3
)

// Connect flag bit positions.
const (
	connectFlagReserved     = 0x01
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
)

// ConnectPacket represents an MQTT CONNECT packet.
// MQTT v3.1.1 spec: Section 3.1
type ConnectPacket struct {
	FixedHeader

	// ProtocolName is "MQTT" for 3.1.1 and "MQIsdp" for 3.1.
	ProtocolName string

	// ProtocolLevel is 4 for 3.1.1 and 3 for 3.1.
	ProtocolLevel byte

	// CleanSession asks the server to discard any previous session state.
	CleanSession bool

	// KeepAlive is the keep alive interval in seconds. Zero disables it.
	KeepAlive uint16

	// ClientID is the client identifier.
	ClientID string

	// Will message configuration.
	WillFlag    bool
	WillQoS     QoS
	WillRetain  bool
	WillTopic   string
	WillPayload []byte

	// Credentials. The flags are kept separately so that an empty
	// username or password still round-trips.
	UsernameFlag bool
	Username     string
	PasswordFlag bool
	Password     []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

// Header returns the packet's fixed header.
func (p *ConnectPacket) Header() *FixedHeader { return normalizeHeader(&p.FixedHeader, PacketCONNECT) }

// RequiresPacketID reports whether the packet carries a packet identifier.
func (p *ConnectPacket) RequiresPacketID() bool { return false }

// connectFlags returns the connect flags byte.
func (p *ConnectPacket) connectFlags() byte {
	var flags byte

	if p.CleanSession {
		flags |= connectFlagCleanSession
	}

	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= (byte(p.WillQoS) & 0x03) << 3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}

	if p.PasswordFlag {
		flags |= connectFlagPasswordFlag
	}

	if p.UsernameFlag {
		flags |= connectFlagUsernameFlag
	}

	return flags
}

// setConnectFlags parses the connect flags byte.
func (p *ConnectPacket) setConnectFlags(flags byte) error {
	// Reserved bit must be 0
	if flags&connectFlagReserved != 0 {
		return ErrInvalidConnectFlags
	}

	p.CleanSession = flags&connectFlagCleanSession != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = QoS((flags >> 3) & 0x03)
	p.WillRetain = flags&connectFlagWillRetain != 0
	p.UsernameFlag = flags&connectFlagUsernameFlag != 0
	p.PasswordFlag = flags&connectFlagPasswordFlag != 0

	return p.validateFlags()
}

func (p *ConnectPacket) validateFlags() error {
	if !p.WillQoS.Valid() {
		return ErrInvalidConnectFlags
	}

	// Will QoS and Will Retain must be 0 if Will Flag is 0
	if !p.WillFlag && (p.WillQoS != QoS0 || p.WillRetain) {
		return ErrInvalidConnectFlags
	}

	// A password cannot be sent without a username
	if p.PasswordFlag && !p.UsernameFlag {
		return ErrInvalidConnectFlags
	}

	return nil
}

// Encode always fails: CONNECT is only sent by clients.
func (p *ConnectPacket) Encode(_ io.Writer) (int, error) {
	return 0, ErrUnsupportedDirection
}

// encodeBody serialises CONNECT the way a client sends it. The server never
// writes one; it backs the client streams built in tests.
func (p *ConnectPacket) encodeBody(buf *bytes.Buffer) error {
	if err := p.validateFlags(); err != nil {
		return err
	}

	name, level := p.ProtocolName, p.ProtocolLevel
	if name == "" {
		name, level = ProtocolName311, ProtocolLevel311
	}

	if _, err := encodeString(buf, name); err != nil {
		return err
	}
	buf.WriteByte(level)
	buf.WriteByte(p.connectFlags())
	encodeUint16(buf, p.KeepAlive)

	if _, err := encodeString(buf, p.ClientID); err != nil {
		return err
	}

	if p.WillFlag {
		if _, err := encodeString(buf, p.WillTopic); err != nil {
			return err
		}
		if _, err := encodeBinary(buf, p.WillPayload); err != nil {
			return err
		}
	}

	if p.UsernameFlag {
		if _, err := encodeString(buf, p.Username); err != nil {
			return err
		}
	}

	if p.PasswordFlag {
		if _, err := encodeBinary(buf, p.Password); err != nil {
			return err
		}
	}

	return nil
}

// Decode reads the packet from the reader.
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(PacketCONNECT, header); err != nil {
		return 0, err
	}
	p.FixedHeader = header

	var totalRead int

	// Protocol Name
	name, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ProtocolName = name

	// Protocol Level
	var levelBuf [1]byte
	n, err = io.ReadFull(r, levelBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ProtocolLevel = levelBuf[0]

	// Connect Flags
	var flagsBuf [1]byte
	n, err = io.ReadFull(r, flagsBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if err := p.setConnectFlags(flagsBuf[0]); err != nil {
		return totalRead, err
	}

	// Keep Alive
	p.KeepAlive, n, err = decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Payload

	p.ClientID, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	if p.WillFlag {
		p.WillTopic, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		p.WillPayload, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	if p.UsernameFlag {
		p.Username, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	if p.PasswordFlag {
		p.Password, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Length returns the size of the variable header and payload in bytes.
func (p *ConnectPacket) Length() int {
	name := p.ProtocolName
	if name == "" {
		name = ProtocolName311
	}

	// name + level + flags + keep alive
	n := stringSize(name) + 1 + 1 + 2
	n += stringSize(p.ClientID)

	if p.WillFlag {
		n += stringSize(p.WillTopic) + 2 + len(p.WillPayload)
	}
	if p.UsernameFlag {
		n += stringSize(p.Username)
	}
	if p.PasswordFlag {
		n += 2 + len(p.Password)
	}

	return n
}

// Validate checks the protocol name and level. A name mismatch returns
// ErrInvalidProtocolName, an unsupported level ErrInvalidProtocolVersion.
func (p *ConnectPacket) Validate() error {
	switch p.ProtocolName {
	case ProtocolName311:
		if p.ProtocolLevel != ProtocolLevel311 {
			return ErrInvalidProtocolVersion
		}
	case ProtocolName31:
		if p.ProtocolLevel != ProtocolLevel31 {
			return ErrInvalidProtocolVersion
		}
	default:
		return ErrInvalidProtocolName
	}

	return p.validateFlags()
}
