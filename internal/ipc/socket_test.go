package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	mu     sync.Mutex
	calls  int
	status *Status
	err    error
}

func (m *mockHandler) HandleStatusQuery() (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.status, m.err
}

func startServer(t *testing.T, h MessageHandler) *SocketServer {
	t.Helper()
	s := NewSocketServer(SocketPath(t.TempDir(), "wayland-1"), h)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/run/user/1000/waydisplay-wayland-1.ctl", SocketPath("/run/user/1000", "wayland-1"))
}

func TestSocketServerStartStop(t *testing.T) {
	s := NewSocketServer(filepath.Join(t.TempDir(), "test.ctl"), &mockHandler{})
	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "starting twice is a no-op")

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	s.Stop()
	s.Stop()
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestClientStatus(t *testing.T) {
	h := &mockHandler{status: &Status{State: "running", Socket: "wayland-1", Sequence: 9}}
	s := startServer(t, h)

	c := NewClient(s.Path())
	got, err := c.SendStatus()
	require.NoError(t, err)
	assert.Equal(t, h.status, got)
	assert.True(t, c.IsRunning())
	assert.Equal(t, 2, h.calls)
}

func TestClientServerError(t *testing.T) {
	s := startServer(t, &mockHandler{err: errors.New("display stopped")})

	_, err := NewClient(s.Path()).SendStatus()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display stopped")
}

func TestClientNotRunning(t *testing.T) {
	c := NewClientWithTimeout(filepath.Join(t.TempDir(), "missing.ctl"), time.Second)
	_, err := c.SendStatus()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.False(t, c.IsRunning())
}

func TestConnectionServesSeveralRequests(t *testing.T) {
	s := startServer(t, &mockHandler{status: &Status{State: "running"}})

	conn, err := net.Dial("unix", s.Path())
	require.NoError(t, err)
	defer conn.Close()

	for range 3 {
		require.NoError(t, writeMessage(conn, NewStatusQuery()))
		resp, err := readMessage(conn)
		require.NoError(t, err)
		assert.Equal(t, "running", resp.Status.State)
	}

	// Unknown types get an error reply on the same connection.
	require.NoError(t, writeMessage(conn, &Message{Type: 77}))
	resp, err := readMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, MessageError, resp.Type)
}

func TestReadMessageLimits(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(maxMessageSize+1))
	_, err := readMessage(&buf)
	assert.Error(t, err)
}

func TestStopClosesIdleConnections(t *testing.T) {
	s := NewSocketServer(filepath.Join(t.TempDir(), "test.ctl"), &mockHandler{})
	require.NoError(t, s.Start())

	conn, err := net.Dial("unix", s.Path())
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an idle connection")
	}
}
