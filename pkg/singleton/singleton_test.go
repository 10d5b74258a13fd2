package singleton

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverStaleLock_RemovesLockWhenPortNotListening(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{StateDir: dir, Host: "127.0.0.1", Port: 1, StartWait: time.Second, StopGrace: time.Second}, nil)
	require.NoError(t, os.Mkdir(c.lockPath(), 0o700))
	require.NoError(t, c.writePID(os.Getpid()))

	c.recoverStaleLock()

	_, err := os.Stat(c.lockPath())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(c.pidPath())
	assert.True(t, os.IsNotExist(err))
}

func TestStart_SecondCallerWaitsForFirstLockHolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o700))

	c := New(Options{StateDir: dir, Host: "127.0.0.1", Port: 0, StartWait: 300 * time.Millisecond, StopGrace: time.Second}, nil)
	require.NoError(t, os.Mkdir(c.lockPath(), 0o700))

	err := c.Start()
	assert.Error(t, err) // no one ever opens the port, so the wait times out
	_, statErr := os.Stat(c.lockPath())
	assert.NoError(t, statErr) // the second caller never owned the lock, so it must not remove it
}

func TestStart_SpawnFailurePropagatesError(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{
		StateDir:  dir,
		Host:      "127.0.0.1",
		Port:      getFreePort(t),
		StartWait: 200 * time.Millisecond,
		StopGrace: time.Second,
		Spawn: func(logFile *os.File) (*os.Process, error) {
			return nil, assert.AnError
		},
	}, nil)

	err := c.Start()
	assert.Error(t, err)
	_, statErr := os.Stat(c.lockPath())
	assert.True(t, os.IsNotExist(statErr)) // lock always released on exit
}

func TestStopIfNoPeers_ReturnsWithoutStoppingWhenPeerPresent(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{StateDir: dir, Host: "127.0.0.1", Port: 1, StartWait: time.Second, StopGrace: 2 * time.Second}, nil)
	require.NoError(t, c.writePID(os.Getpid()))

	err := c.StopIfNoPeers(func() bool { return true })
	require.NoError(t, err)

	// PID file must survive since hasPeer short-circuited Stop entirely.
	_, err = os.Stat(c.pidPath())
	assert.NoError(t, err)
}

func TestStop_NoOpWhenPIDDoesNotOwnPort(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{StateDir: dir, Host: "127.0.0.1", Port: getFreePort(t), StartWait: time.Second, StopGrace: time.Second}, nil)
	require.NoError(t, c.writePID(os.Getpid()))

	require.NoError(t, c.Stop())
	_, err := os.Stat(c.pidPath())
	assert.True(t, os.IsNotExist(err))
}

func TestWritePIDAndReadPID_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{StateDir: dir}, nil)
	require.NoError(t, c.writePID(4242))
	assert.Equal(t, 4242, c.readPID())
}

func TestReadPID_MissingFileReturnsZero(t *testing.T) {
	c := New(Options{StateDir: t.TempDir()}, nil)
	assert.Equal(t, 0, c.readPID())
}

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
