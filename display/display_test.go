package display

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initSoftware(t *testing.T, opts ...Option) (*Display, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithRuntimeDir(dir)}, opts...)
	d, err := Init("software", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Finish() })
	return d, dir
}

func TestInitAndFinishRemovesSocket(t *testing.T) {
	d, dir := initSoftware(t)
	assert.Equal(t, StateRunning, d.State())

	info := VideoInfo{Width: 1280, Height: 720, Format: "RGBx", FramerateNum: 60, FramerateDen: 1}
	require.NoError(t, d.SetVideoInfo(info))
	assert.Equal(t, StateRunning, d.State())

	start := time.Now()
	buf, err := d.Frame()
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1280, buf.Width)
	assert.Equal(t, 720, buf.Height)
	assert.Equal(t, Format("RGBx"), buf.Format)
	assert.Len(t, buf.Data, 1280*4*720)

	socket := filepath.Join(dir, "wayland-1")
	assert.FileExists(t, socket)
	require.NoError(t, d.Finish())
	assert.Equal(t, StateStopped, d.State())

	_, err = os.Stat(socket)
	assert.True(t, os.IsNotExist(err), "socket removed")
	_, err = os.Stat(socket + ".lock")
	assert.True(t, os.IsNotExist(err), "lock removed")
}

func TestInitFailures(t *testing.T) {
	tests := []struct {
		name string
		node string
		opts []Option
	}{
		{"missing node", "/nonexistent/renderD128", nil},
		{"not a device", "/dev/null", nil},
		{"bad default caps", "software", []Option{WithVideoInfo(VideoInfo{Width: 1, Height: 1, Format: "YUY2", FramerateNum: 1, FramerateDen: 1})}},
		{"no runtime dir", "software", []Option{WithRuntimeDir("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithRuntimeDir(t.TempDir())}, tt.opts...)
			d, err := Init(tt.node, opts...)
			assert.Nil(t, d)
			assert.ErrorIs(t, err, ErrInitialization)
		})
	}
}

func TestAddMissingInputDevice(t *testing.T) {
	d, _ := initSoftware(t)

	err := d.AddInputDevice("/dev/input/eventNONEXISTENT")
	assert.ErrorIs(t, err, ErrDevice)
	assert.Equal(t, StateRunning, d.State())
	assert.Empty(t, d.Stats().Inputs)
}

func TestRejectedVideoInfoKeepsMode(t *testing.T) {
	d, _ := initSoftware(t)
	before := d.Stats().VideoInfo

	for _, info := range []VideoInfo{
		{Width: 640, Height: 480, Format: "NV12", FramerateNum: 30, FramerateDen: 1},
		{Width: 320, Height: 240, Format: "RGBx", FramerateNum: 2000000000, FramerateDen: 1},
		{Width: 20000, Height: 240, Format: "RGBx", FramerateNum: 30, FramerateDen: 1},
	} {
		err := d.SetVideoInfo(info)
		assert.ErrorIs(t, err, ErrConfiguration, info.String())
		assert.Equal(t, StateRunning, d.State())
		assert.Equal(t, before, d.Stats().VideoInfo)
	}

	buf, err := d.Frame()
	require.NoError(t, err)
	assert.Equal(t, before.Width, buf.Width)
	assert.Equal(t, before.Format, buf.Format)
}

func TestFramesFollowVideoInfo(t *testing.T) {
	d, _ := initSoftware(t, WithQueue(2, false))

	require.NoError(t, d.SetVideoInfo(VideoInfo{Width: 64, Height: 48, Format: "RGB", FramerateNum: 120, FramerateDen: 1}))

	var last uint64
	for range 5 {
		buf, err := d.Frame()
		require.NoError(t, err)
		assert.Equal(t, 64, buf.Width)
		assert.Equal(t, 48, buf.Height)
		assert.Equal(t, Format("RGB"), buf.Format)
		assert.Equal(t, 64*3, buf.Stride)
		assert.Greater(t, buf.Seq, last)
		last = buf.Seq
	}
}

func TestDevicesAndEnvVarsAreStable(t *testing.T) {
	d, dir := initSoftware(t)

	devices, err := d.Devices()
	require.NoError(t, err)
	assert.Empty(t, devices)

	env, err := d.EnvVars()
	require.NoError(t, err)
	assert.Equal(t, []string{"WAYLAND_DISPLAY=wayland-1", "XDG_RUNTIME_DIR=" + dir}, env)

	d.AddInputDevice("/dev/input/eventNONEXISTENT")
	again, err := d.EnvVars()
	require.NoError(t, err)
	assert.Equal(t, env, again)

	// Callers get copies.
	env[0] = "mutated"
	again, _ = d.EnvVars()
	assert.Equal(t, "WAYLAND_DISPLAY=wayland-1", again[0])
}

func TestFinishTwiceReleasesFrameCallers(t *testing.T) {
	d, _ := initSoftware(t, WithVideoInfo(VideoInfo{Width: 32, Height: 32, Format: "RGBx", FramerateNum: 1, FramerateDen: 1}))

	// Drain the first frame so the next Frame call blocks for about a second.
	_, err := d.Frame()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := d.Frame(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	require.NoError(t, d.Finish())
	require.NoError(t, d.Finish())
	wg.Wait()
	close(errs)

	n := 0
	for err := range errs {
		assert.ErrorIs(t, err, ErrTerminated)
		n++
	}
	assert.Equal(t, 3, n)

	_, err = d.Frame()
	assert.ErrorIs(t, err, ErrTerminated)
	_, err = d.Devices()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, d.AddInputDevice("/dev/null"), ErrInvalidState)
	assert.ErrorIs(t, d.SetVideoInfo(VideoInfo{Width: 32, Height: 32, Format: "RGBx", FramerateNum: 1, FramerateDen: 1}), ErrInvalidState)
}

func TestStats(t *testing.T) {
	d, _ := initSoftware(t)

	_, err := d.Frame()
	require.NoError(t, err)

	s := d.Stats()
	assert.Equal(t, StateRunning, s.State)
	assert.Equal(t, "wayland-1", s.Socket)
	assert.NotZero(t, s.Sequence)
	assert.NotZero(t, s.Pushed)
	assert.Len(t, s.Digest, 64)
	assert.Zero(t, s.Clients)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
		live  bool
	}{
		{StateUninitialized, "uninitialized", false},
		{StateRunning, "running", true},
		{StateReconfiguring, "reconfiguring", true},
		{StateErrorStopped, "error-stopped", false},
		{State(42), "unknown", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
		assert.Equal(t, tt.live, tt.state.Live())
	}
}
