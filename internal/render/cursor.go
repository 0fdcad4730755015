package render

import (
	"image"
	"time"

	"github.com/bnema/waydisplay/internal/surface"
	"github.com/gogpu/gg"
)

// CursorTimeout is how long the cursor stays visible after pointer activity.
const CursorTimeout = 5 * time.Second

// Cursor is the software cursor state kept by the seat.
type Cursor struct {
	Position image.Point
	// Surface is the client cursor image. Nil falls back to the built-in
	// arrow.
	Surface surface.ID
	Hotspot image.Point
	// Hidden is set when the focused client unset its cursor image.
	Hidden       bool
	LastActivity time.Time
}

// Visible reports whether the cursor should be drawn at now.
func (c *Cursor) Visible(now time.Time) bool {
	if c == nil || c.Hidden || c.LastActivity.IsZero() {
		return false
	}
	return now.Sub(c.LastActivity) < CursorTimeout
}

// arrow outline in cursor-local coordinates, tip at the origin.
var arrow = []struct{ x, y float64 }{
	{0, 0}, {0, 17}, {4, 13}, {7, 20}, {10, 19}, {7, 12}, {12, 12},
}

func drawArrow(ctx *gg.Context, at image.Point) error {
	ox, oy := float64(at.X)+0.5, float64(at.Y)+0.5
	ctx.ClearPath()
	for i, p := range arrow {
		if i == 0 {
			ctx.MoveTo(ox+p.x, oy+p.y)
			continue
		}
		ctx.LineTo(ox+p.x, oy+p.y)
	}
	ctx.ClosePath()
	ctx.SetRGB(1, 1, 1)
	if err := ctx.FillPreserve(); err != nil {
		return err
	}
	ctx.SetRGB(0, 0, 0)
	ctx.SetLineWidth(1)
	return ctx.Stroke()
}
