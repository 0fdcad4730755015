package render

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/bnema/waydisplay/internal/logger"
	"github.com/bnema/waydisplay/internal/surface"
	"github.com/charmbracelet/log"
	"github.com/gogpu/gg"
)

// Frame is one composited output image. Pix is RGBA8 with a stride of
// Width*4 and belongs to the receiver.
type Frame struct {
	Seq    uint64
	Mode   surface.Mode
	Width  int
	Height int
	Pix    []byte
	Time   time.Time
}

type imported struct {
	buf       *surface.Buffer
	transform surface.Transform
	img       *gg.ImageBuf // nil when the import failed
}

// Engine draws the surface tree into an offscreen target sized to the
// output mode. It is owned by the loop goroutine.
type Engine struct {
	dev  *Device
	ctx  *gg.Context
	mode surface.Mode
	seq  uint64

	cache map[surface.ID]*imported
	log   *log.Logger
}

// NewEngine allocates a render target for mode.
func NewEngine(dev *Device, mode surface.Mode) (*Engine, error) {
	if dev == nil {
		return nil, errors.New("render engine needs a device")
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid render mode %s", mode)
	}
	if err := dev.Check(); err != nil {
		return nil, err
	}

	e := &Engine{
		dev:   dev,
		ctx:   gg.NewContext(mode.Width, mode.Height),
		mode:  mode,
		cache: make(map[surface.ID]*imported),
		log:   logger.With("component", "render", "device", dev.Path()),
	}
	e.log.Info("Render engine ready", "accelerator", AcceleratorName(), "mode", mode)
	if !dev.IsSoftware() && gg.Accelerator() == nil {
		e.log.Warn("No GPU accelerator available, falling back to the CPU rasterizer")
	}
	return e, nil
}

// AcceleratorName names the gg accelerator in use, or "cpu" when gg
// rasterizes on the CPU.
func AcceleratorName() string {
	if a := gg.Accelerator(); a != nil {
		return a.Name()
	}
	return "cpu"
}

// Mode returns the mode frames are currently rendered at.
func (e *Engine) Mode() surface.Mode {
	return e.mode
}

// Seq returns the sequence number of the last rendered frame.
func (e *Engine) Seq() uint64 {
	return e.seq
}

// Reconfigure reallocates the render target for a new mode.
func (e *Engine) Reconfigure(mode surface.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid render mode %s", mode)
	}
	if err := e.ctx.Resize(mode.Width, mode.Height); err != nil {
		return err
	}
	e.log.Debug("render target reconfigured", "mode", mode)
	e.mode = mode
	return nil
}

// Render composites one full frame. Surfaces whose buffer cannot be imported
// are skipped for this frame. A lost device returns ErrContextLost.
func (e *Engine) Render(tree *surface.Tree, cursor *Cursor, now time.Time) (Frame, error) {
	if err := e.dev.Check(); err != nil {
		return Frame{}, err
	}

	e.ctx.ClearWithColor(gg.Black)

	seen := make(map[surface.ID]struct{}, len(e.cache))
	tree.Walk(func(p surface.Placed) {
		seen[p.Surface.ID] = struct{}{}
		e.draw(p.Surface, p.Origin)
	})

	if cursor.Visible(now) {
		if s := tree.Get(cursor.Surface); s != nil && s.Buffer != nil {
			seen[s.ID] = struct{}{}
			e.draw(s, cursor.Position.Sub(cursor.Hotspot))
		} else if err := drawArrow(e.ctx, cursor.Position); err != nil {
			e.log.Debug("cursor draw failed", "err", err)
		}
	}

	for id := range e.cache {
		if _, ok := seen[id]; !ok {
			delete(e.cache, id)
		}
	}

	if err := e.ctx.FlushGPU(); err != nil {
		e.log.Warn("GPU flush failed", "err", err)
	}
	if err := e.dev.Check(); err != nil {
		return Frame{}, err
	}

	target := e.ctx.ResizeTarget()
	pix := make([]byte, len(target.Data()))
	copy(pix, target.Data())

	e.seq++
	return Frame{
		Seq:    e.seq,
		Mode:   e.mode,
		Width:  target.Width(),
		Height: target.Height(),
		Pix:    pix,
		Time:   now,
	}, nil
}

func (e *Engine) draw(s *surface.Surface, at image.Point) {
	img := e.image(s)
	if img == nil {
		return
	}
	// gg reads a zero Interpolation as unset, so nearest cannot be requested.
	// At integer offsets and 1:1 scale bilinear samples texel centres.
	e.ctx.DrawImageEx(img, gg.DrawImageOptions{
		X:             float64(at.X),
		Y:             float64(at.Y),
		Interpolation: gg.InterpBilinear,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
}

// image returns the cached import of the surface's current buffer. A failed
// import is remembered until the client commits another buffer.
func (e *Engine) image(s *surface.Surface) *gg.ImageBuf {
	c, ok := e.cache[s.ID]
	if ok && c.buf == s.Buffer && c.transform == s.Transform {
		return c.img
	}

	img, err := importBuffer(s.Buffer, s.Transform)
	c = &imported{buf: s.Buffer, transform: s.Transform, img: img}
	e.cache[s.ID] = c
	if err != nil {
		e.log.Warn("surface dropped from compositing", "surface", s.ID, "err", err)
		return nil
	}
	return img
}

// Close releases the render target. The device is closed by its owner.
func (e *Engine) Close() error {
	clear(e.cache)
	return e.ctx.Close()
}
