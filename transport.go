package mqttd

import (
	"net"

	"golang.org/x/net/netutil"
)

// Conn represents a network connection for MQTT communication.
type Conn interface {
	net.Conn
}

// Listener accepts incoming MQTT connections.
type Listener interface {
	// Accept waits for and returns the next connection.
	Accept() (Conn, error)

	// Close closes the listener.
	Close() error

	// Addr returns the listener's network address.
	Addr() net.Addr
}

// limitListener caps concurrent connections on l when maxConns is positive.
func limitListener(l net.Listener, maxConns int) net.Listener {
	if maxConns <= 0 {
		return l
	}
	return netutil.LimitListener(l, maxConns)
}

// TCPListener wraps net.Listener for TCP connections.
type TCPListener struct {
	listener net.Listener
}

// NewTCPListener creates a new TCP listener on the given address.
// A positive maxConns bounds the number of simultaneously open connections;
// further clients wait in the kernel backlog until a slot frees up.
func NewTCPListener(address string, maxConns int) (*TCPListener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: limitListener(l, maxConns)}, nil
}

// NewListener wraps an existing net.Listener.
func NewListener(l net.Listener, maxConns int) *TCPListener {
	return &TCPListener{listener: limitListener(l, maxConns)}
}

// Accept waits for and returns the next connection.
func (l *TCPListener) Accept() (Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the listener.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}
