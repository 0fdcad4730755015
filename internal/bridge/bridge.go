package bridge

import (
	"encoding/hex"
	"fmt"
	"image"
	"time"

	"github.com/bnema/waydisplay/internal/render"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/draw"
)

// Buffer is one exported video buffer. The caller owns Data.
type Buffer struct {
	Data     []byte
	Width    int
	Height   int
	Stride   int
	Format   Format
	Seq      uint64
	PTS      time.Duration
	Duration time.Duration
}

// Digest returns the BLAKE2b-256 digest of the pixel bytes in hex.
func (b *Buffer) Digest() string {
	sum := blake2b.Sum256(b.Data)
	return hex.EncodeToString(sum[:])
}

// Bridge converts frames to the current caps and stamps timing. It is used
// from the loop goroutine only.
type Bridge struct {
	caps Caps
	base time.Time
}

// New returns a bridge producing caps.
func New(caps Caps) (*Bridge, error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	return &Bridge{caps: caps}, nil
}

// Caps returns the caps buffers are currently produced in.
func (b *Bridge) Caps() Caps {
	return b.caps
}

// SetCaps switches to new caps. Invalid caps leave the bridge unchanged.
func (b *Bridge) SetCaps(c Caps) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b.caps = c
	return nil
}

// Export converts f to the current caps. PTS is the time since the first
// exported frame.
func (b *Bridge) Export(f render.Frame) (*Buffer, error) {
	data, stride, err := Convert(f, b.caps)
	if err != nil {
		return nil, err
	}
	if b.base.IsZero() {
		b.base = f.Time
	}
	pts := f.Time.Sub(b.base)
	if pts < 0 {
		pts = 0
	}
	return &Buffer{
		Data:     data,
		Width:    b.caps.Width,
		Height:   b.caps.Height,
		Stride:   stride,
		Format:   b.caps.Format,
		Seq:      f.Seq,
		PTS:      pts,
		Duration: b.caps.FrameDuration(),
	}, nil
}

// Convert scales f to the caps size with nearest-neighbour sampling when the
// sizes differ, then swizzles it into the caps format. The output depends on
// the pixel data and caps only.
func Convert(f render.Frame, caps Caps) ([]byte, int, error) {
	if err := caps.Validate(); err != nil {
		return nil, 0, err
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*4 {
		return nil, 0, fmt.Errorf("malformed frame %d: %dx%d with %d bytes", f.Seq, f.Width, f.Height, len(f.Pix))
	}

	src := &image.RGBA{Pix: f.Pix, Stride: f.Width * 4, Rect: image.Rect(0, 0, f.Width, f.Height)}
	if f.Width != caps.Width || f.Height != caps.Height {
		dst := image.NewRGBA(image.Rect(0, 0, caps.Width, caps.Height))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		src = dst
	}

	layout := layouts[caps.Format]
	bpp := len(layout)
	stride := caps.Format.Stride(caps.Width)
	out := make([]byte, stride*caps.Height)
	for y := 0; y < caps.Height; y++ {
		in := src.Pix[y*src.Stride : y*src.Stride+caps.Width*4]
		row := out[y*stride:]
		for x := 0; x < caps.Width; x++ {
			p := in[x*4 : x*4+4]
			o := row[x*bpp : x*bpp+bpp]
			for i, ch := range layout {
				if ch < 0 {
					o[i] = 0xff
				} else {
					o[i] = p[ch]
				}
			}
		}
	}
	return out, stride, nil
}

// Image unpacks the buffer into RGBA. Formats without alpha come out opaque.
func (b *Buffer) Image() (*image.RGBA, error) {
	layout, ok := layouts[b.Format]
	if !ok {
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedCaps, b.Format)
	}
	bpp := len(layout)
	if b.Stride < b.Width*bpp || len(b.Data) < b.Stride*b.Height {
		return nil, fmt.Errorf("buffer %d too short for %dx%d %s", b.Seq, b.Width, b.Height, b.Format)
	}

	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		row := b.Data[y*b.Stride:]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < b.Width; x++ {
			px := out[x*4 : x*4+4]
			px[3] = 0xff
			for i, ch := range layout {
				if ch >= 0 {
					px[ch] = row[x*bpp+i]
				}
			}
		}
	}
	return img, nil
}
