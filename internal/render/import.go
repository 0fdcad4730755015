package render

import (
	"errors"
	"fmt"

	"github.com/bnema/waydisplay/internal/surface"
	"github.com/gogpu/gg"
)

// ErrUnsupportedFormat is returned when a surface buffer uses a pixel format
// the engine cannot sample.
var ErrUnsupportedFormat = errors.New("unsupported buffer format")

// importBuffer converts a committed client buffer into an RGBA8 image in
// surface orientation. shm alpha is premultiplied while gg blends straight
// alpha, so translucent pixels are unpremultiplied on the way in.
func importBuffer(b *surface.Buffer, t surface.Transform) (*gg.ImageBuf, error) {
	if !b.Format.Supported() {
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnsupportedFormat, uint32(b.Format))
	}
	if b.Width <= 0 || b.Height <= 0 || b.Stride < b.Width*4 {
		return nil, fmt.Errorf("invalid buffer geometry %dx%d stride %d", b.Width, b.Height, b.Stride)
	}
	if len(b.Pixels) < b.Stride*(b.Height-1)+b.Width*4 {
		return nil, fmt.Errorf("buffer holds %d bytes, need %dx%d stride %d", len(b.Pixels), b.Width, b.Height, b.Stride)
	}
	if !t.Valid() {
		return nil, fmt.Errorf("invalid buffer transform %d", t)
	}

	w, h := b.Width, b.Height
	if t.SwapsAxes() {
		w, h = h, w
	}
	img, err := gg.NewImageBuf(w, h, gg.FormatRGBA8)
	if err != nil {
		return nil, err
	}

	// Byte order in memory: ARGB/XRGB little-endian is B,G,R,A.
	ri, bi := 2, 0
	if b.Format == surface.FormatABGR8888 || b.Format == surface.FormatXBGR8888 {
		ri, bi = 0, 2
	}
	opaque := b.Format.Opaque()

	dst := img.Data()
	dstStride := img.Stride()
	for y := 0; y < h; y++ {
		row := dst[y*dstStride:]
		for x := 0; x < w; x++ {
			bx, by := bufferCoords(t, x, y, w, h)
			p := b.Pixels[by*b.Stride+bx*4:]
			r, g, bl, a := p[ri], p[1], p[bi], p[3]
			if opaque {
				a = 0xff
			} else if a == 0 {
				r, g, bl = 0, 0, 0
			} else if a != 0xff {
				r = unpremul(r, a)
				g = unpremul(g, a)
				bl = unpremul(bl, a)
			}
			o := x * 4
			row[o], row[o+1], row[o+2], row[o+3] = r, g, bl, a
		}
	}
	return img, nil
}

// bufferCoords maps a pixel of the transformed surface image (size w x h)
// back to the buffer pixel it shows. The buffer holds the surface content
// with the transform already applied: flipped variants mirror around the
// vertical axis first, then rotate counter-clockwise.
func bufferCoords(t surface.Transform, x, y, w, h int) (int, int) {
	if t >= surface.TransformFlipped {
		x = w - 1 - x
	}
	switch t &^ surface.TransformFlipped {
	case surface.Transform90:
		return y, w - 1 - x
	case surface.Transform180:
		return w - 1 - x, h - 1 - y
	case surface.Transform270:
		return h - 1 - y, x
	default:
		return x, y
	}
}

func unpremul(c, a uint8) uint8 {
	v := (uint32(c)*255 + uint32(a)/2) / uint32(a)
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
