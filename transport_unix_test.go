//go:build unix

package mqttd

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortSocketPath stays under the sun_path limit that long t.TempDir paths
// can exceed.
func shortSocketPath(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "mqttd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestUnixListener(t *testing.T) {
	t.Run("accept and dial", func(t *testing.T) {
		path := shortSocketPath(t)

		listener, err := NewUnixListener(path, 0)
		require.NoError(t, err)
		defer listener.Close()

		assert.Equal(t, path, listener.Path())
		assert.Equal(t, "unix", listener.Addr().Network())

		go func() {
			if conn, err := net.Dial("unix", path); err == nil {
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
	})

	t.Run("close removes socket file", func(t *testing.T) {
		path := shortSocketPath(t)

		listener, err := NewUnixListener(path, 0)
		require.NoError(t, err)
		_, err = os.Stat(path)
		require.NoError(t, err)

		require.NoError(t, listener.Close())
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("stale socket file replaced", func(t *testing.T) {
		path := shortSocketPath(t)
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		listener, err := NewUnixListener(path, 0)
		require.NoError(t, err)
		require.NoError(t, listener.Close())
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := NewUnixListener(filepath.Join(shortSocketPath(t), "nested", "s.sock"), 0)
		assert.Error(t, err)
	})
}

func TestServerOverUnixSocket(t *testing.T) {
	path := shortSocketPath(t)
	listener, err := NewUnixListener(path, 0)
	require.NoError(t, err)

	srv := NewServer()
	defer srv.Close()
	go srv.Serve(listener)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	c := &testClient{t: t, conn: conn}
	assert.Equal(t, ConnackAccepted, c.connect(testConnect("local", true)).ReturnCode)
}
