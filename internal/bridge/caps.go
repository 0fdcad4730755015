// Package bridge turns composited frames into buffers in the format the
// downstream media pipeline asked for.
package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/waydisplay/internal/surface"
)

// ErrUnsupportedCaps is returned for caps the bridge cannot produce.
var ErrUnsupportedCaps = errors.New("unsupported caps")

// Format is a raw video format name as GStreamer spells it.
type Format string

const (
	RGBx Format = "RGBx"
	BGRx Format = "BGRx"
	XRGB Format = "xRGB"
	XBGR Format = "xBGR"
	RGBA Format = "RGBA"
	BGRA Format = "BGRA"
	ARGB Format = "ARGB"
	ABGR Format = "ABGR"
	RGB  Format = "RGB"
	BGR  Format = "BGR"
)

// layouts gives, for each output byte of a pixel, the RGBA8 channel it is
// taken from. -1 is a padding byte written as 0xff.
var layouts = map[Format][]int{
	RGBx: {0, 1, 2, -1},
	BGRx: {2, 1, 0, -1},
	XRGB: {-1, 0, 1, 2},
	XBGR: {-1, 2, 1, 0},
	RGBA: {0, 1, 2, 3},
	BGRA: {2, 1, 0, 3},
	ARGB: {3, 0, 1, 2},
	ABGR: {3, 2, 1, 0},
	RGB:  {0, 1, 2},
	BGR:  {2, 1, 0},
}

// Formats returns the fixed capability list in preference order.
func Formats() []Format {
	return []Format{RGBx, BGRx, XRGB, XBGR, RGBA, BGRA, ARGB, ABGR, RGB, BGR}
}

// BytesPerPixel returns the pixel size of f, or 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	return len(layouts[f])
}

// Stride returns the row size for width pixels, rounded up to four bytes.
func (f Format) Stride(width int) int {
	return (width*f.BytesPerPixel() + 3) &^ 3
}

// Limits accepted by Validate. A rate above MaxFramerate would tick faster
// than once per millisecond.
const (
	MaxDimension = 16384
	MaxFramerate = 1000
)

// Caps is the negotiated raw video description.
type Caps struct {
	Width        int
	Height       int
	Format       Format
	FramerateNum int
	FramerateDen int
}

func (c Caps) String() string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		c.Format, c.Width, c.Height, c.FramerateNum, c.FramerateDen)
}

// Validate checks c against the capability list.
func (c Caps) Validate() error {
	if c.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("%w: format %q", ErrUnsupportedCaps, c.Format)
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width > MaxDimension || c.Height > MaxDimension {
		return fmt.Errorf("%w: size %dx%d", ErrUnsupportedCaps, c.Width, c.Height)
	}
	if c.FramerateNum <= 0 || c.FramerateDen <= 0 {
		return fmt.Errorf("%w: framerate %d/%d", ErrUnsupportedCaps, c.FramerateNum, c.FramerateDen)
	}
	num, den := int64(c.FramerateNum), int64(c.FramerateDen)
	if num > MaxFramerate*den || num*1000 < den {
		return fmt.Errorf("%w: framerate %d/%d outside 1/1000..%d", ErrUnsupportedCaps, c.FramerateNum, c.FramerateDen, MaxFramerate)
	}
	return nil
}

// FrameDuration is the duration stamped on every buffer.
func (c Caps) FrameDuration() time.Duration {
	if c.FramerateNum <= 0 || c.FramerateDen <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(c.FramerateDen) / int64(c.FramerateNum))
}

// Mode returns the output mode implied by c. Refresh is in millihertz.
func (c Caps) Mode() surface.Mode {
	refresh := 0
	if c.FramerateDen > 0 {
		refresh = int(int64(c.FramerateNum) * 1000 / int64(c.FramerateDen))
	}
	return surface.Mode{Width: c.Width, Height: c.Height, Refresh: refresh, Format: string(c.Format)}
}

// ParseFramerate parses "num/den" or a bare integer rate.
func ParseFramerate(s string) (num, den int, err error) {
	n, d, found := strings.Cut(strings.TrimSpace(s), "/")
	num, err = strconv.Atoi(n)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid framerate %q: %w", s, err)
	}
	den = 1
	if found {
		den, err = strconv.Atoi(d)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid framerate %q: %w", s, err)
		}
	}
	if num <= 0 || den <= 0 {
		return 0, 0, fmt.Errorf("invalid framerate %q: must be positive", s)
	}
	return num, den, nil
}
