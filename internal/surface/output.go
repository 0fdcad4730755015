package surface

import (
	"fmt"
	"time"
)

// Mode describes the virtual output.
type Mode struct {
	Width  int
	Height int
	// Refresh in millihertz, as wl_output.mode reports it.
	Refresh int
	// Format is the caps pixel format name, e.g. "RGBx".
	Format string
}

// FrameInterval returns the tick period for the mode. It is never shorter
// than a millisecond.
func (m Mode) FrameInterval() time.Duration {
	if m.Refresh <= 0 {
		return time.Second / 60
	}
	return max(time.Duration(int64(time.Second)*1000/int64(m.Refresh)), time.Millisecond)
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d.%03dHz %s", m.Width, m.Height, m.Refresh/1000, m.Refresh%1000, m.Format)
}

// Valid reports whether the mode can back a render target.
func (m Mode) Valid() bool {
	return m.Width > 0 && m.Height > 0 && m.Refresh > 0
}

// Output is the single virtual output. Its mode is only ever replaced as a
// whole.
type Output struct {
	Name  string
	Make  string
	Model string

	mode   Mode
	serial uint64
}

// NewOutput returns the headless output with an initial mode.
func NewOutput(initial Mode) (*Output, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("invalid initial output mode %s", initial)
	}
	return &Output{
		Name:   "HEADLESS-1",
		Make:   "Virtual",
		Model:  "waydisplay",
		mode:   initial,
		serial: 1,
	}, nil
}

// Mode returns the live mode.
func (o *Output) Mode() Mode {
	return o.mode
}

// Serial increments on every accepted negotiation.
func (o *Output) Serial() uint64 {
	return o.serial
}

// Negotiate swaps in a new mode. The old mode stays live when next is invalid.
func (o *Output) Negotiate(next Mode) error {
	if !next.Valid() {
		return fmt.Errorf("invalid output mode %s", next)
	}
	o.mode = next
	o.serial++
	return nil
}

// Clamp bounds a pointer position to the output, keeping it two pixels
// inside the right and bottom edges.
func (o *Output) Clamp(x, y float64) (float64, float64) {
	maxX := float64(o.mode.Width - 2)
	maxY := float64(o.mode.Height - 2)
	if x < 0 {
		x = 0
	} else if x > maxX {
		x = maxX
	}
	if y < 0 {
		y = 0
	} else if y > maxY {
		y = maxY
	}
	return x, y
}
