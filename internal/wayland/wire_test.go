package wayland

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventArgsRoundTrip(t *testing.T) {
	e := newEvent(7, 3).
		Uint(42).
		Int(-5).
		Fixed(-1.5).
		String("seat-0").
		Array(uint32Array(4, 2)).
		String("")
	b := e.bytes()

	require.Zero(t, len(b)%4, "messages are 32-bit aligned")
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(b))
	assert.Equal(t, uint32(len(b))<<16|3, binary.LittleEndian.Uint32(b[4:]))

	a := newArgs(b[headerSize:])
	assert.Equal(t, uint32(42), a.Uint())
	assert.Equal(t, int32(-5), a.Int())
	assert.Equal(t, -1.5, a.Fixed())
	assert.Equal(t, "seat-0", a.String())
	assert.Equal(t, uint32Array(4, 2), a.Array())
	assert.Equal(t, "", a.String())
	require.NoError(t, a.Err())
}

func TestStringPadding(t *testing.T) {
	tests := []struct {
		s    string
		size int
	}{
		{"", 8},
		{"abc", 8},
		{"abcd", 12},
		{"wl_compositor", 20},
	}
	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			b := newEvent(1, 0).String(tt.s).bytes()
			assert.Equal(t, headerSize+tt.size, len(b))
		})
	}
}

func TestArgsErrors(t *testing.T) {
	a := newArgs([]byte{1, 0})
	a.Uint()
	assert.ErrorIs(t, a.Err(), errShortMessage)
	// The first error sticks.
	_ = a.String()
	assert.ErrorIs(t, a.Err(), errShortMessage)

	unterminated := newEvent(1, 0).Uint(4).bytes()
	unterminated = append(unterminated, 'a', 'b', 'c', 'd')
	a = newArgs(unterminated[headerSize:])
	_ = a.String()
	assert.Error(t, a.Err())
}

func TestListenLockAndCleanup(t *testing.T) {
	dir := t.TempDir()

	first, err := Listen(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "wayland-1", first.Name())
	assert.FileExists(t, filepath.Join(dir, "wayland-1.lock"))

	second, err := Listen(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "wayland-2", second.Name(), "a locked display is skipped")

	require.NoError(t, first.Close())
	_, err = os.Stat(first.Path())
	assert.True(t, os.IsNotExist(err), "socket removed on close")
	_, err = os.Stat(first.Path() + ".lock")
	assert.True(t, os.IsNotExist(err), "lock removed on close")

	require.NoError(t, second.Close())
}

func TestListenReplacesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "wayland-1")
	require.NoError(t, os.WriteFile(stale, nil, 0600))

	s, err := Listen(dir, "")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "wayland-1", s.Name())
}

func TestListenNeedsRuntimeDir(t *testing.T) {
	_, err := Listen("", "")
	assert.ErrorIs(t, err, ErrNoSocket)
}
