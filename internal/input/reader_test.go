package input

import (
	"encoding/binary"
	"os"
	"syscall"
	"testing"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeDevice attaches a pipe-backed pointer to inj the way Add attaches a
// real node. The read end goes through Fd first, as the evdev ioctls do.
func pipeDevice(t *testing.T, inj *Injector) (*Device, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	r.Fd()
	dev := &evdev.InputDevice{Fn: "pipe", Name: "pipe pointer", File: r}
	require.NoError(t, pollable(dev))

	d := &Device{path: "pipe", name: dev.Name, kinds: KindPointer, dev: dev, abs: map[uint16]absRange{}}
	inj.mu.Lock()
	inj.start("pipe", d)
	inj.mu.Unlock()
	return d, w
}

func writeEvents(t *testing.T, w *os.File, evs ...evdev.InputEvent) {
	t.Helper()
	for i := range evs {
		// Read drops events with a zero timestamp.
		evs[i].Time = syscall.Timeval{Sec: 1}
	}
	require.NoError(t, binary.Write(w, binary.LittleEndian, evs))
}

// closeWithin runs inj.Close and fails if it does not return in time.
func closeWithin(t *testing.T, inj *Injector, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		inj.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("Injector.Close blocked for %v", d)
	}
}

func TestCloseInterruptsIdleReader(t *testing.T) {
	inj := NewInjector(4)
	d, _ := pipeDevice(t, inj)

	// Give the reader time to park in Read.
	time.Sleep(50 * time.Millisecond)
	closeWithin(t, inj, 2*time.Second)

	assert.Equal(t, StateActive, d.info().State, "closing is not a device loss")
	_, open := <-inj.Frames()
	assert.False(t, open)
}

func TestReaderForwardsFrames(t *testing.T) {
	inj := NewInjector(4)
	_, w := pipeDevice(t, inj)

	writeEvents(t, w, raw(evdev.EV_REL, evdev.REL_X, 5), raw(evdev.EV_REL, evdev.REL_Y, -1), syn())

	select {
	case f := <-inj.Frames():
		assert.Equal(t, "pipe", f.Device)
		assert.Equal(t, []Event{{Type: EventMotion, DX: 5, DY: -1}}, f.Events)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame forwarded")
	}

	closeWithin(t, inj, 2*time.Second)
}

func TestReaderMarksLostDevice(t *testing.T) {
	inj := NewInjector(4)
	d, w := pipeDevice(t, inj)

	// EOF on the node is what an unplugged device looks like to the reader.
	require.NoError(t, w.Close())

	assert.Eventually(t, func() bool {
		return d.info().State == StateLost
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateLost, inj.Devices()[0].State)

	closeWithin(t, inj, 2*time.Second)
}
