package mqttd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePacketDecode(t *testing.T) {
	data := []byte{
		0x82, 0x0E,
		0x00, 0x0A,
		0x00, 0x03, 'a', '/', 'b', 0x01,
		0x00, 0x03, 'c', '/', '#', 0x02,
	}

	got, ok := decodeForTest(t, data).(*SubscribePacket)
	require.True(t, ok)
	assert.Equal(t, uint16(10), got.PacketID)
	assert.Equal(t, []Subscription{
		{TopicFilter: "a/b", QoS: QoS1},
		{TopicFilter: "c/#", QoS: QoS2},
	}, got.Subscriptions)
	assert.Equal(t, int(got.RemainingLength), got.Length())
}

func TestSubscribePacketRoundTrip(t *testing.T) {
	want := &SubscribePacket{
		PacketID: 300,
		Subscriptions: []Subscription{
			{TopicFilter: "sport/+/player1", QoS: QoS0},
			{TopicFilter: "#", QoS: QoS2},
			{TopicFilter: "$SYS/broker/load", QoS: QoS1},
		},
	}

	got, ok := decodeForTest(t, frameForTest(t, want)).(*SubscribePacket)
	require.True(t, ok)
	assert.Equal(t, want.PacketID, got.PacketID)
	assert.Equal(t, want.Subscriptions, got.Subscriptions)
}

func TestSubscribePacketDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"no filters", []byte{0x82, 0x02, 0x00, 0x01}, ErrNoSubscriptions},
		{"requested qos3", []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x03}, ErrInvalidQoS},
		{"reserved option bits", []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x04}, ErrMalformedPacket},
		{"missing qos byte", []byte{0x82, 0x05, 0x00, 0x01, 0x00, 0x01, 'a'}, ErrMalformedPacket},
		{"zero packet id", []byte{0x82, 0x06, 0x00, 0x00, 0x00, 0x01, 'a', 0x00}, ErrInvalidPacketID},
		{"flags 0000", []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x00}, ErrInvalidPacketFlags},
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

func TestSubackPacketEncode(t *testing.T) {
	p := &SubackPacket{PacketID: 10, ReturnCodes: []byte{0x00, 0x01, 0x02, SubackFailure}}

	var buf bytes.Buffer
	n, err := p.Encode(&buf)
	require.NoError(t, err)
	want := []byte{0x90, 0x06, 0x00, 0x0A, 0x00, 0x01, 0x02, 0x80}
	assert.Equal(t, want, buf.Bytes())
	assert.Equal(t, len(want), n)

	got, ok := decodeForTest(t, want).(*SubackPacket)
	require.True(t, ok)
	assert.Equal(t, p.PacketID, got.PacketID)
	assert.Equal(t, p.ReturnCodes, got.ReturnCodes)
}

func TestSubackPacketValidate(t *testing.T) {
	tests := []struct {
		name    string
		packet  SubackPacket
		wantErr error
	}{
		{"valid", SubackPacket{PacketID: 1, ReturnCodes: []byte{SubackFailure}}, nil},
		{"zero packet id", SubackPacket{ReturnCodes: []byte{0}}, ErrInvalidPacketID},
		{"no codes", SubackPacket{PacketID: 1}, ErrMalformedPacket},
		{"bad code", SubackPacket{PacketID: 1, ReturnCodes: []byte{0x03}}, ErrInvalidSubackCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.packet.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
