package input

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"unsafe"

	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"
)

// Kind is a set of seat capabilities a device provides.
type Kind uint8

const (
	KindPointer Kind = 1 << iota
	KindKeyboard
	KindTouch
)

func (k Kind) Has(o Kind) bool { return k&o != 0 }

func (k Kind) String() string {
	var parts []string
	if k.Has(KindPointer) {
		parts = append(parts, "pointer")
	}
	if k.Has(KindKeyboard) {
		parts = append(parts, "keyboard")
	}
	if k.Has(KindTouch) {
		parts = append(parts, "touch")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// State of a virtual input device.
type State int32

const (
	StateActive State = iota
	StateLost
)

func (s State) String() string {
	if s == StateLost {
		return "lost"
	}
	return "active"
}

// DeviceInfo describes an added device.
type DeviceInfo struct {
	Path  string
	Name  string
	Kinds Kind
	State State
}

// Device is an opened evdev node forwarding into the seat.
type Device struct {
	path  string
	name  string
	kinds Kind
	dev   *evdev.InputDevice
	abs   map[uint16]absRange
	state atomic.Int32
}

func (d *Device) info() DeviceInfo {
	return DeviceInfo{Path: d.path, Name: d.name, Kinds: d.kinds, State: State(d.state.Load())}
}

// Classify derives the seat capabilities from an evdev capability map keyed
// by event type, as evdev.InputDevice.CapabilitiesFlat reports it.
func Classify(caps map[int][]int) Kind {
	has := func(evType int, codes ...int) bool {
		set := caps[evType]
		for _, want := range codes {
			found := false
			for _, c := range set {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	hasRange := func(evType, lo, hi int) bool {
		for _, c := range caps[evType] {
			if c >= lo && c <= hi {
				return true
			}
		}
		return false
	}

	var k Kind
	if has(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, evdev.ABS_MT_POSITION_Y) {
		k |= KindTouch
	}
	buttons := hasRange(evdev.EV_KEY, evdev.BTN_LEFT, evdev.BTN_TASK)
	if has(evdev.EV_REL, evdev.REL_X, evdev.REL_Y) ||
		(buttons && has(evdev.EV_ABS, evdev.ABS_X, evdev.ABS_Y)) {
		k |= KindPointer
	}
	if hasRange(evdev.EV_KEY, evdev.KEY_Q, evdev.KEY_P) &&
		hasRange(evdev.EV_KEY, evdev.KEY_A, evdev.KEY_L) &&
		hasRange(evdev.EV_KEY, evdev.KEY_Z, evdev.KEY_M) {
		k |= KindKeyboard
	}
	return k
}

// absRange is the part of struct input_absinfo used for normalisation.
type absRange struct {
	min, max int32
}

func (r absRange) normalize(v int32) float64 {
	if r.max <= r.min {
		return 0
	}
	f := float64(v-r.min) / float64(r.max-r.min)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// inputAbsinfo mirrors struct input_absinfo.
type inputAbsinfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// eviocgabs returns the ioctl request for EVIOCGABS(abs).
func eviocgabs(abs uint16) uintptr {
	const iocRead = 2
	size := unsafe.Sizeof(inputAbsinfo{})
	return uintptr(iocRead<<30 | size<<16 | uintptr('E')<<8 | uintptr(0x40+abs))
}

func readAbsRange(fd uintptr, abs uint16) (absRange, error) {
	var info inputAbsinfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, eviocgabs(abs), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return absRange{}, fmt.Errorf("EVIOCGABS(%d): %w", abs, errno)
	}
	return absRange{min: info.Minimum, max: info.Maximum}, nil
}

// absAxes lists the absolute axes whose range is queried for normalisation.
var absAxes = []uint16{evdev.ABS_X, evdev.ABS_Y, evdev.ABS_MT_POSITION_X, evdev.ABS_MT_POSITION_Y}

// pollable moves the device fd under the runtime poller so that closing the
// file interrupts a pending Read. File.Fd, which the ioctls go through,
// leaves the descriptor in blocking mode, and a blocking read(2) does not
// return on close. Fd must not be called on the new file.
func pollable(dev *evdev.InputDevice) error {
	nfd, err := unix.Dup(int(dev.File.Fd()))
	if err != nil {
		return fmt.Errorf("dup: %w", err)
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return fmt.Errorf("set nonblock: %w", err)
	}
	unix.CloseOnExec(nfd)

	name := dev.File.Name()
	dev.File.Close()
	dev.File = os.NewFile(uintptr(nfd), name)
	return nil
}
