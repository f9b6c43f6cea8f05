package mqttd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrPacketTooLarge is returned when a packet exceeds the configured maximum size.
var ErrPacketTooLarge = errors.New("mqttd: packet exceeds maximum size")

// Decoder turns a byte stream into packets. Bytes are fed as they arrive;
// an incomplete frame stays buffered until a later Feed completes it.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	maxSize uint32
}

// NewDecoder creates a Decoder. If maxSize is greater than 0, frames whose
// remaining length exceeds it fail with ErrPacketTooLarge.
func NewDecoder(maxSize uint32) *Decoder {
	return &Decoder{maxSize: maxSize}
}

// Feed appends data to the decoder's buffer. The data is copied.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next decodes the next complete packet from the buffered bytes.
// It returns nil, nil when no complete packet is available yet. Any error
// leaves the stream unusable and the connection should be closed.
func (d *Decoder) Next() (Packet, error) {
	header, n, complete, err := ParseFixedHeader(d.buf)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, nil
	}

	if d.maxSize > 0 && header.RemainingLength > d.maxSize {
		return nil, ErrPacketTooLarge
	}

	frameLen := n + int(header.RemainingLength)
	if len(d.buf) < frameLen {
		return nil, nil
	}

	packet, err := decodeFrame(header, d.buf[n:frameLen])
	if err != nil {
		return nil, err
	}

	d.consume(frameLen)
	return packet, nil
}

// consume drops the first n buffered bytes, compacting what is left.
func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	if rest == 0 && cap(d.buf) > maxPooledBufferCap {
		d.buf = nil
	}
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}

// decodeFrame decodes the body of a single frame. The body must be exactly
// header.RemainingLength bytes long and must be consumed completely.
func decodeFrame(header FixedHeader, body []byte) (Packet, error) {
	if err := header.ValidateFlags(); err != nil {
		return nil, err
	}

	packet, err := newPacket(header.Type)
	if err != nil {
		return nil, err
	}

	reader := getBytesReader(body)
	defer putBytesReader(reader)

	n, err := packet.Decode(reader, header)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s truncated", ErrMalformedPacket, header.Type)
		}
		return nil, err
	}

	if n != len(body) {
		return nil, fmt.Errorf("%w: %s has %d trailing bytes", ErrMalformedPacket, header.Type, len(body)-n)
	}

	return packet, nil
}

// Encoder writes server-originated packets. It is stateless and safe for
// concurrent use; callers serialise writes to a shared writer themselves.
type Encoder struct {
	maxSize uint32
}

// NewEncoder creates an Encoder. If maxSize is greater than 0, packets whose
// encoded size exceeds it fail with ErrPacketTooLarge.
func NewEncoder(maxSize uint32) *Encoder {
	return &Encoder{maxSize: maxSize}
}

// Encode appends the framed packet to buf. On error buf is left as it was.
func (e *Encoder) Encode(buf *bytes.Buffer, packet Packet) error {
	if packet == nil {
		return ErrMalformedPacket
	}

	start := buf.Len()
	n, err := packet.Encode(buf)
	if err == nil && e.maxSize > 0 && uint32(n) > e.maxSize {
		err = ErrPacketTooLarge
	}
	if err != nil {
		buf.Truncate(start)
		return err
	}

	return nil
}

// ReadPacket reads a complete MQTT packet from a blocking reader.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	// Check max size
	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	// Read remaining bytes
	remaining := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := decodeFrame(header, remaining)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	buf := getEncodeBuffer()
	defer putEncodeBuffer(buf)

	if err := NewEncoder(maxSize).Encode(buf, packet); err != nil {
		return 0, err
	}

	return w.Write(buf.Bytes())
}

// bytesReader wraps a byte slice for io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
