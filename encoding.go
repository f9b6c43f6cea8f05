package mqttd

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong      = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrInvalidPacketID    = errors.New("packet identifier must be non-zero")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	maxVarintBytes    = 4
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// putVarint writes value as a variable byte integer into buf.
// Returns the number of bytes used.
func putVarint(buf []byte, value uint32) (int, error) {
	if value > maxVarint {
		return 0, ErrRemainingLengthTooLarge
	}

	n := 0
	for {
		encodedByte := byte(value & varintValueMask)
		value >>= 7

		if value > 0 {
			encodedByte |= varintContinueBit
		}

		buf[n] = encodedByte
		n++

		if value == 0 {
			return n, nil
		}
	}
}

// encodeVarint writes a variable byte integer to w.
// Returns the number of bytes written.
func encodeVarint(w io.Writer, value uint32) (int, error) {
	var buf [maxVarintBytes]byte
	n, err := putVarint(buf[:], value)
	if err != nil {
		return 0, err
	}
	return w.Write(buf[:n])
}

// decodeVarint reads a variable byte integer from r.
// Returns the value, number of bytes read, and any error.
func decodeVarint(r io.Reader) (uint32, int, error) {
	var value uint32
	var multiplier uint32 = 1
	var buf [1]byte

	for i := 0; i < maxVarintBytes; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, i, err
		}

		value += uint32(buf[0]&varintValueMask) * multiplier
		if buf[0]&varintContinueBit == 0 {
			return value, i + 1, nil
		}

		multiplier *= 128
	}

	return 0, maxVarintBytes, ErrMalformedRemainingLength
}

// parseVarint decodes a variable byte integer from an in-memory buffer.
// complete is false when buf ends before the terminating byte.
func parseVarint(buf []byte) (value uint32, n int, complete bool, err error) {
	var multiplier uint32 = 1

	for n < maxVarintBytes {
		if n >= len(buf) {
			return 0, 0, false, nil
		}

		b := buf[n]
		n++

		value += uint32(b&varintValueMask) * multiplier
		if b&varintContinueBit == 0 {
			return value, n, true, nil
		}

		multiplier *= 128
	}

	return 0, 0, false, ErrMalformedRemainingLength
}

// varintSize returns the number of bytes needed to encode a variable byte integer.
func varintSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}

// encodeUint16 writes a big-endian two byte integer to w.
func encodeUint16(w io.Writer, v uint16) (int, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return w.Write(buf[:])
}

// decodeUint16 reads a big-endian two byte integer from r.
func decodeUint16(r io.Reader) (uint16, int, error) {
	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(buf[:]), n, nil
}

// encodePacketID writes a packet identifier. Zero is never a valid identifier.
func encodePacketID(w io.Writer, id uint16) (int, error) {
	if id == 0 {
		return 0, ErrInvalidPacketID
	}
	return encodeUint16(w, id)
}

// decodePacketID reads a packet identifier and rejects zero.
func decodePacketID(r io.Reader) (uint16, int, error) {
	id, n, err := decodeUint16(r)
	if err != nil {
		return 0, n, err
	}
	if id == 0 {
		return 0, n, ErrInvalidPacketID
	}
	return id, n, nil
}

// validateString checks the MQTT UTF-8 string rules.
func validateString(s string) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}

	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}

	for i := range len(s) {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}

	return nil
}

// encodeString writes a UTF-8 string with 2-byte length prefix to w.
// Returns the number of bytes written.
func encodeString(w io.Writer, s string) (int, error) {
	if err := validateString(s); err != nil {
		return 0, err
	}

	n, err := encodeUint16(w, uint16(len(s)))
	if err != nil {
		return n, err
	}

	n2, err := io.WriteString(w, s)
	return n + n2, err
}

// decodeString reads a UTF-8 string with 2-byte length prefix from r.
func decodeString(r io.Reader) (string, int, error) {
	buf, n, err := decodeBinary(r)
	if err != nil {
		return "", n, err
	}

	if !utf8.Valid(buf) {
		return "", n, ErrInvalidUTF8
	}

	for i := range len(buf) {
		if buf[i] == 0 {
			return "", n, ErrStringContainsNull
		}
	}

	return string(buf), n, nil
}

// encodeBinary writes binary data with 2-byte length prefix to w.
// Returns the number of bytes written.
func encodeBinary(w io.Writer, data []byte) (int, error) {
	if len(data) > maxUint16 {
		return 0, ErrBinaryTooLong
	}

	n, err := encodeUint16(w, uint16(len(data)))
	if err != nil {
		return n, err
	}

	n2, err := w.Write(data)
	return n + n2, err
}

// decodeBinary reads binary data with 2-byte length prefix from r.
// The returned slice is always a fresh copy.
func decodeBinary(r io.Reader) ([]byte, int, error) {
	length, n, err := decodeUint16(r)
	if err != nil {
		return nil, n, err
	}

	if length == 0 {
		return nil, n, nil
	}

	buf := make([]byte, length)
	n2, err := io.ReadFull(r, buf)
	n += n2
	if err != nil {
		return nil, n, err
	}

	return buf, n, nil
}

// stringSize returns the encoded size of a length-prefixed string or binary field.
func stringSize(s string) int {
	return 2 + len(s)
}
