package mqttd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublish(topic string, qos QoS, id uint16, payload string) *PublishPacket {
	p := &PublishPacket{Topic: topic, PacketID: id}
	p.QoS = qos
	if payload != "" {
		p.Payload = []byte(payload)
	}
	return p
}

func TestPublishPacketEncode(t *testing.T) {
	tests := []struct {
		name   string
		packet *PublishPacket
		want   []byte
	}{
		{
			name:   "qos0",
			packet: newTestPublish("a/b", QoS0, 0, "hi"),
			want:   []byte{0x30, 0x07, 0x00, 0x03, 'a', '/', 'b', 'h', 'i'},
		},
		{
			name:   "qos1",
			packet: newTestPublish("a/b", QoS1, 10, "hi"),
			want:   []byte{0x32, 0x09, 0x00, 0x03, 'a', '/', 'b', 0x00, 0x0A, 'h', 'i'},
		},
		{
			name:   "qos2 empty payload",
			packet: newTestPublish("t", QoS2, 0x0102, ""),
			want:   []byte{0x34, 0x05, 0x00, 0x01, 't', 0x01, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.packet.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
			assert.Equal(t, tt.want, buf.Bytes())
		})
	}
}

func TestPublishPacketRoundTrip(t *testing.T) {
	retained := newTestPublish("sport/tennis/player1", QoS1, 7, "score")
	retained.Retain = true

	dup := newTestPublish("x", QoS2, 65535, "again")
	dup.Dup = true

	large := newTestPublish("big", QoS0, 0, "")
	large.Payload = bytes.Repeat([]byte{0xAB}, 20000)

	packets := []*PublishPacket{
		newTestPublish("a", QoS0, 0, "payload"),
		retained,
		dup,
		large,
	}

	for _, want := range packets {
		t.Run(want.Topic, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := want.Encode(&buf)
			require.NoError(t, err)

			got, ok := decodeForTest(t, buf.Bytes()).(*PublishPacket)
			require.True(t, ok)
			assert.Equal(t, want.Topic, got.Topic)
			assert.Equal(t, want.PacketID, got.PacketID)
			assert.Equal(t, want.QoS, got.QoS)
			assert.Equal(t, want.Dup, got.Dup)
			assert.Equal(t, want.Retain, got.Retain)
			assert.Equal(t, want.Payload, got.Payload)
			assert.Equal(t, uint32(want.Length()), got.RemainingLength)
		})
	}
}

func TestPublishPacketValidate(t *testing.T) {
	dupQoS0 := newTestPublish("a", QoS0, 0, "")
	dupQoS0.Dup = true

	tests := []struct {
		name    string
		packet  *PublishPacket
		wantErr error
	}{
		{"valid", newTestPublish("a/b", QoS1, 1, ""), nil},
		{"qos3", newTestPublish("a", 3, 1, ""), ErrInvalidQoS},
		{"dup at qos0", dupQoS0, ErrInvalidPacketFlags},
		{"missing packet id", newTestPublish("a", QoS1, 0, ""), ErrPacketIDRequired},
		{"wildcard topic", newTestPublish("a/+", QoS0, 0, ""), ErrInvalidTopicName},
		{"empty topic", newTestPublish("", QoS0, 0, ""), ErrEmptyTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.packet.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = tt.packet.Encode(&bytes.Buffer{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPublishPacketDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"qos3 flags", []byte{0x36, 0x03, 0x00, 0x01, 'a'}, ErrInvalidPacketFlags},
		{"zero packet id", []byte{0x32, 0x05, 0x00, 0x01, 'a', 0x00, 0x00}, ErrInvalidPacketID},
		{"topic longer than frame", []byte{0x30, 0x03, 0x00, 0x05, 'a'}, ErrMalformedPacket},
		{"missing packet id", []byte{0x32, 0x03, 0x00, 0x01, 'a'}, ErrMalformedPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(0)
			dec.Feed(tt.data)
			_, err := dec.Next()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
