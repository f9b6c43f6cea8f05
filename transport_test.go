package mqttd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPListenerAccept(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := net.Dial("tcp", listener.Addr().String())
		if err == nil {
			conn.Write([]byte{0xC0, 0x00})
			conn.Close()
		}
	}()

	conn, err := listener.Accept()
	require.NoError(t, err)
	defer conn.Close()

	p, _, err := ReadPacket(conn, 0)
	require.NoError(t, err)
	assert.IsType(t, &PingreqPacket{}, p)
	<-done
}

func TestTCPListenerClose(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0", 0)
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	_, err = listener.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestNewTCPListenerInvalidAddress(t *testing.T) {
	_, err := NewTCPListener("256.0.0.1:99999", 0)
	assert.Error(t, err)
}

func TestNewListenerWrapsExisting(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	listener := NewListener(inner, 0)
	defer listener.Close()
	assert.Equal(t, inner.Addr(), listener.Addr())

	go func() {
		if conn, err := net.Dial("tcp", inner.Addr().String()); err == nil {
			conn.Close()
		}
	}()

	conn, err := listener.Accept()
	require.NoError(t, err)
	conn.Close()
}

func TestListenerMaxConnections(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer listener.Close()

	addr := listener.Addr().String()

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()

	first, err := listener.Accept()
	require.NoError(t, err)

	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err, "the kernel backlog takes the second client")
	defer c2.Close()

	accepted := make(chan Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	select {
	case <-accepted:
		t.Fatal("second connection accepted while the slot was taken")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.Close())

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(testIOTimeout):
		t.Fatal("second connection not accepted after the slot was freed")
	}
}

func TestLimitListenerUnlimited(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer inner.Close()

	assert.Same(t, inner, limitListener(inner, 0))
	assert.Same(t, inner, limitListener(inner, -1))
	assert.NotSame(t, inner, limitListener(inner, 10))
}
