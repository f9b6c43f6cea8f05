package mqttd

import (
	"errors"
	"io/fs"
	"net"
	"os"
)

// UnixListener listens for MQTT connections on a Unix domain socket.
type UnixListener struct {
	listener net.Listener
	path     string
}

// NewUnixListener creates a new Unix socket listener.
// The path is the socket file path (e.g., "/var/run/mqtt.sock"). A stale
// socket file left behind by a previous run is removed first.
func NewUnixListener(path string, maxConns int) (*UnixListener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &UnixListener{
		listener: limitListener(listener, maxConns),
		path:     path,
	}, nil
}

// Accept waits for and returns the next connection.
func (l *UnixListener) Accept() (Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the listener and removes the socket file.
func (l *UnixListener) Close() error {
	err := l.listener.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// Addr returns the listener's network address.
func (l *UnixListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Path returns the socket file path.
func (l *UnixListener) Path() string {
	return l.path
}
