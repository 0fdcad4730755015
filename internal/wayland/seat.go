package wayland

import (
	"image"
	"math"
	"time"

	"github.com/bnema/waydisplay/internal/input"
	"github.com/bnema/waydisplay/internal/render"
	"github.com/bnema/waydisplay/internal/surface"
	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"
)

const (
	seatName = "seat-0"

	seatCapPointer  = 1
	seatCapKeyboard = 2
	seatCapTouch    = 4

	evSeatCapabilities = 0
	evSeatName         = 1

	evPointerEnter  = 0
	evPointerLeave  = 1
	evPointerMotion = 2
	evPointerButton = 3
	evPointerAxis   = 4
	evPointerFrame  = 5

	evKeyboardKeymap     = 0
	evKeyboardEnter      = 1
	evKeyboardLeave      = 2
	evKeyboardKey        = 3
	evKeyboardModifiers  = 4
	evKeyboardRepeatInfo = 5

	evTouchDown   = 0
	evTouchUp     = 1
	evTouchMotion = 2
	evTouchFrame  = 3

	keymapFormatXKBv1 = 1

	repeatRate  = 25
	repeatDelay = 200

	errPointerRole = 0
)

// keymap is resolved by the client's xkbcommon from its own include path.
const keymap = `xkb_keymap {
	xkb_keycodes  { include "evdev+aliases(qwerty)" };
	xkb_types     { include "complete" };
	xkb_compat    { include "complete" };
	xkb_symbols   { include "pc+us+inet(evdev)" };
	xkb_geometry  { include "pc(pc105)" };
};
`

// xkb modifier masks of the keymap above.
const (
	modShift = 1 << 0
	modCtrl  = 1 << 2
	modAlt   = 1 << 3
	modLogo  = 1 << 6
)

var modifierKeys = map[uint32]uint32{
	evdev.KEY_LEFTSHIFT:  modShift,
	evdev.KEY_RIGHTSHIFT: modShift,
	evdev.KEY_LEFTCTRL:   modCtrl,
	evdev.KEY_RIGHTCTRL:  modCtrl,
	evdev.KEY_LEFTALT:    modAlt,
	evdev.KEY_RIGHTALT:   modAlt,
	evdev.KEY_LEFTMETA:   modLogo,
	evdev.KEY_RIGHTMETA:  modLogo,
}

type touchPoint struct {
	surface surface.ID
	origin  image.Point
}

// seat routes injected input to the surfaces under the pointer and to the
// keyboard focus.
type seat struct {
	srv *Server

	x, y          float64
	pointerFocus  surface.ID
	pointerOrigin image.Point
	buttons       int

	keyboardFocus surface.ID
	keysDown      []uint32
	mods          uint32
	suppressed    map[uint32]bool

	touches map[int32]touchPoint
	cursor  render.Cursor

	constraints map[surface.ID]*constraint
}

func newSeat(s *Server) *seat {
	st := &seat{
		srv:        s,
		suppressed: make(map[uint32]bool),
		touches:    make(map[int32]touchPoint),

		constraints: make(map[surface.ID]*constraint),
	}
	st.center()
	return st
}

// Cursor returns the software cursor state for the next frame.
func (s *Server) Cursor() *render.Cursor {
	c := s.seat.cursor
	return &c
}

func (st *seat) center() {
	m := st.srv.output.Mode()
	st.x, st.y = float64(m.Width)/2, float64(m.Height)/2
	st.cursor.Position = image.Pt(int(st.x), int(st.y))
}

// recenter runs after a mode change.
func (st *seat) recenter() {
	st.center()
	st.updatePointerFocus()
}

func (st *seat) point() image.Point {
	return image.Pt(int(math.Floor(st.x)), int(math.Floor(st.y)))
}

// owner returns the live client and wl_surface object of a tree surface.
func (st *seat) owner(id surface.ID) (*Client, *surfaceRes) {
	sf := st.srv.tree.Get(id)
	if sf == nil {
		return nil, nil
	}
	c := st.srv.clients[sf.Owner]
	if c == nil || c.gone {
		return nil, nil
	}
	return c, c.surfaces[id]
}

func eachObject[T object](c *Client, fn func(T)) {
	for _, o := range c.objects {
		if r, ok := o.(T); ok {
			fn(r)
		}
	}
}

func (st *seat) surfaceUnder(p image.Point) (surface.ID, image.Point) {
	id, origin := surface.Nil, image.Point{}
	st.srv.tree.Walk(func(pl surface.Placed) {
		r := image.Rectangle{Min: pl.Origin, Max: pl.Origin.Add(pl.Surface.Size())}
		if p.In(r) {
			id, origin = pl.Surface.ID, pl.Origin
		}
	})
	return id, origin
}

// ApplyInput feeds one device frame into the seat.
func (s *Server) ApplyInput(f input.Frame) {
	st := s.seat
	ms := uint32(f.Time.Sub(s.start).Milliseconds())
	pointer := false
	for _, ev := range f.Events {
		switch ev.Type {
		case input.EventMotion:
			st.moveBy(ev.DX, ev.DY, ms, f.Time)
			st.relativeMotion(ev.DX, ev.DY, f.Time)
			pointer = true
		case input.EventMotionAbsolute:
			// Absolute devices warp the pointer even when it is constrained.
			m := s.output.Mode()
			x, y := st.x, st.y
			st.moveTo(ev.X*float64(m.Width), ev.Y*float64(m.Height), ms, f.Time)
			st.relativeMotion(st.x-x, st.y-y, f.Time)
			pointer = true
		case input.EventButton:
			st.button(ev.Code, ev.Pressed, ms, f.Time)
			pointer = true
		case input.EventAxis:
			st.axis(ev.Axis, ev.Value, ms, f.Time)
			pointer = true
		case input.EventKey:
			st.key(ev.Code, ev.Pressed, ms)
		case input.EventTouchDown:
			st.touchDown(ev, ms)
		case input.EventTouchMotion:
			st.touchMotion(ev, ms)
		case input.EventTouchUp:
			st.touchUp(ev.Slot, ms)
		case input.EventTouchFrame:
			st.touchFrame()
		}
	}
	if pointer {
		st.pointerFrame()
	}
	s.flush()
}

func (st *seat) moveTo(x, y float64, ms uint32, now time.Time) {
	st.x, st.y = st.srv.output.Clamp(x, y)
	st.cursor.Position = st.point()
	st.cursor.LastActivity = now
	st.updatePointerFocus()

	c, _ := st.owner(st.pointerFocus)
	if c == nil {
		return
	}
	if con := st.activeConstraint(); con != nil && con.kind == kindLock {
		return
	}
	sx, sy := st.x-float64(st.pointerOrigin.X), st.y-float64(st.pointerOrigin.Y)
	eachObject(c, func(p *pointerRes) {
		c.send(newEvent(p.id, evPointerMotion).Uint(ms).Fixed(sx).Fixed(sy))
	})
}

// updatePointerFocus moves pointer focus to the surface under the pointer.
// While a button is held the focus stays where the press happened.
func (st *seat) updatePointerFocus() {
	defer st.updateConstraint()
	if st.buttons > 0 && st.srv.tree.Get(st.pointerFocus) != nil {
		return
	}
	id, origin := st.surfaceUnder(st.point())
	if id == st.pointerFocus {
		st.pointerOrigin = origin
		return
	}

	if c, res := st.owner(st.pointerFocus); c != nil && res != nil {
		serial := st.srv.nextSerial()
		eachObject(c, func(p *pointerRes) {
			c.send(newEvent(p.id, evPointerLeave).Uint(serial).Uint(res.id))
			if p.version >= 5 {
				c.send(newEvent(p.id, evPointerFrame))
			}
		})
	}

	st.pointerFocus, st.pointerOrigin = id, origin
	st.cursor.Surface, st.cursor.Hotspot, st.cursor.Hidden = surface.Nil, image.Point{}, false

	if c, res := st.owner(id); c != nil && res != nil {
		serial := st.srv.nextSerial()
		sx, sy := st.x-float64(origin.X), st.y-float64(origin.Y)
		eachObject(c, func(p *pointerRes) {
			c.send(newEvent(p.id, evPointerEnter).Uint(serial).Uint(res.id).Fixed(sx).Fixed(sy))
		})
	}
}

func (st *seat) button(code uint32, pressed bool, ms uint32, now time.Time) {
	st.cursor.LastActivity = now
	state := uint32(0)
	if pressed {
		state = 1
		st.buttons++
		if root := st.srv.tree.Root(st.pointerFocus); !root.IsNil() {
			st.srv.tree.Raise(root)
			st.setKeyboardFocus(root)
		}
	} else if st.buttons > 0 {
		st.buttons--
	}

	if c, _ := st.owner(st.pointerFocus); c != nil {
		serial := st.srv.nextSerial()
		eachObject(c, func(p *pointerRes) {
			c.send(newEvent(p.id, evPointerButton).Uint(serial).Uint(ms).Uint(code).Uint(state))
		})
	}
	if !pressed && st.buttons == 0 {
		st.updatePointerFocus()
	}
}

func (st *seat) axis(axis input.Axis, value float64, ms uint32, now time.Time) {
	st.cursor.LastActivity = now
	c, _ := st.owner(st.pointerFocus)
	if c == nil {
		return
	}
	eachObject(c, func(p *pointerRes) {
		c.send(newEvent(p.id, evPointerAxis).Uint(ms).Uint(uint32(axis)).Fixed(value))
	})
}

func (st *seat) pointerFrame() {
	c, _ := st.owner(st.pointerFocus)
	if c == nil {
		return
	}
	eachObject(c, func(p *pointerRes) {
		if p.version >= 5 {
			c.send(newEvent(p.id, evPointerFrame))
		}
	})
}

func (st *seat) key(code uint32, pressed bool, ms uint32) {
	if mask, ok := modifierKeys[code]; ok {
		if pressed {
			st.mods |= mask
		} else {
			st.mods &^= mask
		}
	}

	if pressed && st.mods&(modCtrl|modShift) == modCtrl|modShift && st.mods&(modAlt|modLogo) == 0 {
		if st.shortcut(code) {
			st.suppressed[code] = true
			return
		}
	}
	if !pressed && st.suppressed[code] {
		delete(st.suppressed, code)
		return
	}

	if pressed {
		st.keysDown = append(st.keysDown, code)
	} else {
		st.keysDown = removeKey(st.keysDown, code)
	}

	c, _ := st.owner(st.keyboardFocus)
	if c == nil {
		return
	}
	state := uint32(0)
	if pressed {
		state = 1
	}
	serial := st.srv.nextSerial()
	eachObject(c, func(k *keyboardRes) {
		c.send(newEvent(k.id, evKeyboardKey).Uint(serial).Uint(ms).Uint(code).Uint(state))
	})
	if _, ok := modifierKeys[code]; ok {
		st.sendModifiers(c)
	}
}

// shortcut handles the compositor key bindings: Ctrl+Shift+Tab cycles the
// windows, Ctrl+Shift+Q closes the focused one.
func (st *seat) shortcut(code uint32) bool {
	switch code {
	case evdev.KEY_TAB:
		tree := st.srv.tree
		for _, id := range tree.Toplevels() {
			if s := tree.Get(id); s != nil && s.Buffer != nil {
				tree.Raise(id)
				st.setKeyboardFocus(id)
				st.updatePointerFocus()
				return true
			}
		}
	case evdev.KEY_Q:
		c, res := st.owner(st.keyboardFocus)
		if c == nil || res == nil {
			return false
		}
		if xs, ok := res.role.(*xdgSurfaceRes); ok && xs.toplevel != nil {
			xs.toplevel.close(c)
			return true
		}
	}
	return false
}

func (st *seat) sendModifiers(c *Client) {
	serial := st.srv.nextSerial()
	eachObject(c, func(k *keyboardRes) {
		c.send(newEvent(k.id, evKeyboardModifiers).Uint(serial).Uint(st.mods).Uint(0).Uint(0).Uint(0))
	})
}

func (st *seat) setKeyboardFocus(id surface.ID) {
	if id == st.keyboardFocus {
		return
	}
	old := st.keyboardFocus
	st.keyboardFocus = id

	if c, res := st.owner(old); c != nil && res != nil {
		serial := st.srv.nextSerial()
		eachObject(c, func(k *keyboardRes) {
			c.send(newEvent(k.id, evKeyboardLeave).Uint(serial).Uint(res.id))
		})
		st.reconfigure(c, res)
	}
	if c, res := st.owner(id); c != nil && res != nil {
		eachObject(c, func(k *keyboardRes) { st.keyboardEnter(c, k, res) })
		st.reconfigure(c, res)
	}
}

func (st *seat) keyboardEnter(c *Client, k *keyboardRes, res *surfaceRes) {
	serial := st.srv.nextSerial()
	c.send(newEvent(k.id, evKeyboardEnter).Uint(serial).Uint(res.id).Array(uint32Array(st.keysDown...)))
	c.send(newEvent(k.id, evKeyboardModifiers).Uint(serial).Uint(st.mods).Uint(0).Uint(0).Uint(0))
}

// reconfigure resends the toplevel configure so the activated state follows
// keyboard focus.
func (st *seat) reconfigure(c *Client, res *surfaceRes) {
	if xs, ok := res.role.(*xdgSurfaceRes); ok && xs.toplevel != nil && xs.sent {
		xs.toplevel.configure(c)
	}
}

// focusToplevel raises and focuses a newly mapped window.
func (st *seat) focusToplevel(id surface.ID) {
	st.srv.tree.Raise(id)
	st.setKeyboardFocus(id)
	st.updatePointerFocus()
}

// topmost returns the highest mapped toplevel other than skip.
func (st *seat) topmost(skip surface.ID) surface.ID {
	tops := st.srv.tree.Toplevels()
	for i := len(tops) - 1; i >= 0; i-- {
		if tops[i] == skip {
			continue
		}
		if s := st.srv.tree.Get(tops[i]); s != nil && s.Buffer != nil {
			return tops[i]
		}
	}
	return surface.Nil
}

// surfaceGone drops every reference to a surface that is being destroyed or
// unmapped.
func (st *seat) surfaceGone(id surface.ID) {
	if st.cursor.Surface == id {
		st.cursor.Surface, st.cursor.Hotspot = surface.Nil, image.Point{}
	}
	for slot, tp := range st.touches {
		if tp.surface == id {
			delete(st.touches, slot)
		}
	}
	if st.keyboardFocus == id {
		st.setKeyboardFocus(st.topmost(id))
	}
	if con := st.constraints[id]; con != nil && con.active {
		st.deactivate(con)
	}
	if st.pointerFocus == id {
		if c, res := st.owner(id); c != nil && res != nil {
			serial := st.srv.nextSerial()
			eachObject(c, func(p *pointerRes) {
				c.send(newEvent(p.id, evPointerLeave).Uint(serial).Uint(res.id))
			})
		}
		st.pointerFocus = surface.Nil
		st.buttons = 0
	}
}

// forget runs after a client's surfaces were destroyed.
func (st *seat) forget(c *Client) {
	tree := st.srv.tree
	for sid, con := range st.constraints {
		if con.client == c {
			delete(st.constraints, sid)
		}
	}
	if tree.Get(st.cursor.Surface) == nil {
		st.cursor.Surface, st.cursor.Hotspot = surface.Nil, image.Point{}
	}
	for slot, tp := range st.touches {
		if tree.Get(tp.surface) == nil {
			delete(st.touches, slot)
		}
	}
	if tree.Get(st.pointerFocus) == nil {
		st.pointerFocus = surface.Nil
		st.buttons = 0
		st.updatePointerFocus()
	}
	if tree.Get(st.keyboardFocus) == nil {
		st.keyboardFocus = surface.Nil
		st.setKeyboardFocus(st.topmost(surface.Nil))
	}
}

func (st *seat) touchDown(ev input.Event, ms uint32) {
	m := st.srv.output.Mode()
	x, y := ev.X*float64(m.Width), ev.Y*float64(m.Height)
	id, origin := st.surfaceUnder(image.Pt(int(x), int(y)))
	if id.IsNil() {
		return
	}
	st.touches[ev.Slot] = touchPoint{surface: id, origin: origin}
	c, res := st.owner(id)
	if c == nil || res == nil {
		return
	}
	if root := st.srv.tree.Root(id); !root.IsNil() {
		st.srv.tree.Raise(root)
		st.setKeyboardFocus(root)
	}
	serial := st.srv.nextSerial()
	eachObject(c, func(t *touchRes) {
		c.send(newEvent(t.id, evTouchDown).Uint(serial).Uint(ms).Uint(res.id).Int(ev.Slot).
			Fixed(x - float64(origin.X)).Fixed(y - float64(origin.Y)))
	})
}

func (st *seat) touchMotion(ev input.Event, ms uint32) {
	tp, ok := st.touches[ev.Slot]
	if !ok {
		return
	}
	c, _ := st.owner(tp.surface)
	if c == nil {
		return
	}
	m := st.srv.output.Mode()
	x, y := ev.X*float64(m.Width)-float64(tp.origin.X), ev.Y*float64(m.Height)-float64(tp.origin.Y)
	eachObject(c, func(t *touchRes) {
		c.send(newEvent(t.id, evTouchMotion).Uint(ms).Int(ev.Slot).Fixed(x).Fixed(y))
	})
}

func (st *seat) touchUp(slot int32, ms uint32) {
	tp, ok := st.touches[slot]
	if !ok {
		return
	}
	delete(st.touches, slot)
	c, _ := st.owner(tp.surface)
	if c == nil {
		return
	}
	serial := st.srv.nextSerial()
	eachObject(c, func(t *touchRes) {
		c.send(newEvent(t.id, evTouchUp).Uint(serial).Uint(ms).Int(slot))
	})
}

func (st *seat) touchFrame() {
	sent := map[*Client]bool{}
	for _, tp := range st.touches {
		c, _ := st.owner(tp.surface)
		if c == nil || sent[c] {
			continue
		}
		sent[c] = true
		eachObject(c, func(t *touchRes) { c.send(newEvent(t.id, evTouchFrame)) })
	}
}

func removeKey(keys []uint32, code uint32) []uint32 {
	for i, k := range keys {
		if k == code {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

type seatRes struct{ resource }

func bindSeat(_ *Client, id, version uint32) object {
	return &seatRes{resource{id: id, version: version}}
}

func (*seatRes) iface() string { return ifaceSeat }

func (r *seatRes) bound(c *Client) {
	c.send(newEvent(r.id, evSeatCapabilities).Uint(seatCapPointer | seatCapKeyboard | seatCapTouch))
	if r.version >= 2 {
		c.send(newEvent(r.id, evSeatName).String(seatName))
	}
}

func (r *seatRes) dispatch(c *Client, op uint16, a *args) error {
	st := c.srv.seat
	switch op {
	case 0: // get_pointer
		id := a.Uint()
		p := &pointerRes{resource{id: id, version: r.version}}
		if err := c.register(id, p); err != nil {
			return err
		}
		if c2, res := st.owner(st.pointerFocus); c2 == c && res != nil {
			sx, sy := st.x-float64(st.pointerOrigin.X), st.y-float64(st.pointerOrigin.Y)
			c.send(newEvent(id, evPointerEnter).Uint(st.srv.nextSerial()).Uint(res.id).Fixed(sx).Fixed(sy))
		}
	case 1: // get_keyboard
		id := a.Uint()
		k := &keyboardRes{resource{id: id, version: r.version}}
		if err := c.register(id, k); err != nil {
			return err
		}
		k.sendKeymap(c)
		if r.version >= 4 {
			c.send(newEvent(id, evKeyboardRepeatInfo).Int(repeatRate).Int(repeatDelay))
		}
		if c2, res := st.owner(st.keyboardFocus); c2 == c && res != nil {
			st.keyboardEnter(c, k, res)
		}
	case 2: // get_touch
		id := a.Uint()
		return c.register(id, &touchRes{resource{id: id, version: r.version}})
	case 3: // release
		c.destroy(r.id)
	default:
		return protocolErr(r.id, errInvalidMethod, "wl_seat has no request %d", op)
	}
	return nil
}

type pointerRes struct{ resource }

func (*pointerRes) iface() string { return ifacePointer }

func (p *pointerRes) dispatch(c *Client, op uint16, a *args) error {
	st := c.srv.seat
	switch op {
	case 0: // set_cursor
		a.Uint() // serial
		sid := a.Uint()
		hx, hy := a.Int(), a.Int()
		if focus, _ := st.owner(st.pointerFocus); focus != c {
			return nil
		}
		if sid == 0 {
			st.cursor.Hidden = true
			st.cursor.Surface = surface.Nil
			return nil
		}
		s, ok := surfaceArg(c, sid)
		if !ok {
			return protocolErr(p.id, errInvalidObject, "%d is not a wl_surface", sid)
		}
		if err := c.srv.tree.SetRole(s.sid, surface.RoleCursor); err != nil {
			return protocolErr(p.id, errPointerRole, "%v", err)
		}
		st.cursor.Surface = s.sid
		st.cursor.Hotspot = image.Pt(int(hx), int(hy))
		st.cursor.Hidden = false
	case 1: // release
		c.destroy(p.id)
	default:
		return protocolErr(p.id, errInvalidMethod, "wl_pointer has no request %d", op)
	}
	return nil
}

type keyboardRes struct{ resource }

func (*keyboardRes) iface() string { return ifaceKeyboard }

func (k *keyboardRes) dispatch(c *Client, op uint16, _ *args) error {
	if op != 0 {
		return protocolErr(k.id, errInvalidMethod, "wl_keyboard has no request %d", op)
	}
	c.destroy(k.id)
	return nil
}

func (k *keyboardRes) sendKeymap(c *Client) {
	fd, size, err := keymapFD()
	if err != nil {
		c.log.Warn("Cannot share keymap", "err", err)
		return
	}
	c.send(newEvent(k.id, evKeyboardKeymap).Uint(keymapFormatXKBv1).FD(fd).Uint(size))
}

// keymapFD returns a sealed memfd holding the NUL terminated keymap.
func keymapFD() (int, uint32, error) {
	fd, err := unix.MemfdCreate("waydisplay-keymap", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, 0, err
	}
	data := append([]byte(keymap), 0)
	if _, err := unix.Write(fd, data); err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	seals := unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, seals); err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	return fd, uint32(len(data)), nil
}

type touchRes struct{ resource }

func (*touchRes) iface() string { return ifaceTouch }

func (t *touchRes) dispatch(c *Client, op uint16, _ *args) error {
	if op != 0 {
		return protocolErr(t.id, errInvalidMethod, "wl_touch has no request %d", op)
	}
	c.destroy(t.id)
	return nil
}
