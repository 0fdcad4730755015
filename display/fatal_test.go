package display

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/waydisplay/internal/compositor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPipelineGone = errors.New("pipeline gone")

func TestFatalErrorStopsDisplay(t *testing.T) {
	var lost atomic.Bool
	d, dir := initSoftware(t, WithHealthCheck(func() error {
		if lost.Load() {
			return errPipelineGone
		}
		return nil
	}))

	const callers = 3
	errs := make(chan error, callers)
	for range callers {
		go func() {
			for {
				if _, err := d.Frame(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	lost.Store(true)

	for range callers {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrTerminated)
			assert.ErrorIs(t, err, ErrFatalRuntime)
			assert.ErrorIs(t, err, errPipelineGone)
		case <-time.After(5 * time.Second):
			t.Fatal("Frame caller not released after a fatal error")
		}
	}

	require.Eventually(t, func() bool { return d.State() == StateErrorStopped }, 2*time.Second, 5*time.Millisecond)

	_, err := d.Frame()
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, err, ErrFatalRuntime)

	assert.ErrorIs(t, d.AddInputDevice("/dev/input/event0"), ErrInvalidState)
	info := VideoInfo{Width: 64, Height: 48, Format: "RGBx", FramerateNum: 30, FramerateDen: 1}
	assert.ErrorIs(t, d.SetVideoInfo(info), ErrInvalidState)
	_, err = d.Devices()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = d.EnvVars()
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = os.Stat(filepath.Join(dir, "wayland-1"))
	assert.True(t, os.IsNotExist(err), "socket must be released after a fatal error")

	assert.NoError(t, d.Finish())
	assert.Equal(t, StateErrorStopped, d.State())
}

func TestFinishTimeout(t *testing.T) {
	var stall atomic.Bool
	stalled := make(chan struct{}, 1)
	release := make(chan struct{})

	d, _ := initSoftware(t,
		WithShutdownTimeout(100*time.Millisecond),
		WithHealthCheck(func() error {
			if stall.Load() {
				select {
				case stalled <- struct{}{}:
				default:
				}
				<-release
			}
			return nil
		}))
	t.Cleanup(func() {
		close(release)
		<-d.comp.Done()
	})

	stall.Store(true)
	select {
	case <-stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never reached the stalled check")
	}

	start := time.Now()
	err := d.Finish()
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, ErrFatalRuntime)
	assert.ErrorIs(t, err, compositor.ErrShutdownTimeout)
	assert.Equal(t, StateErrorStopped, d.State())

	_, err = d.Frame()
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, err, ErrFatalRuntime)

	assert.NoError(t, d.Finish(), "second Finish is a no-op")
}
