package wayland

import (
	"github.com/bnema/waydisplay/internal/surface"
)

// xdg_wm_base error codes.
const (
	errWmBaseRole                = 0
	errWmBaseInvalidSurfaceState = 4
)

// xdg_surface error codes.
const (
	errXdgSurfaceNotConstructed     = 1
	errXdgSurfaceAlreadyConstructed = 2
	errXdgSurfaceUnconfiguredBuffer = 3
	errXdgSurfaceInvalidSize        = 5
)

const (
	evXdgSurfaceConfigure = 0
	evToplevelConfigure   = 0
	evToplevelClose       = 1
	evPopupDone           = 1

	toplevelStateActivated = 4
)

type wmBaseRes struct{ resource }

func bindWmBase(_ *Client, id, version uint32) object {
	return &wmBaseRes{resource{id: id, version: version}}
}

func (*wmBaseRes) iface() string { return ifaceWmBase }

func (r *wmBaseRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0:
		c.destroy(r.id)
	case 1: // create_positioner
		id := a.Uint()
		return c.register(id, &positionerRes{resource{id: id, version: r.version}})
	case 2: // get_xdg_surface
		id, sid := a.Uint(), a.Uint()
		s, ok := surfaceArg(c, sid)
		if !ok {
			return protocolErr(r.id, errInvalidObject, "%d is not a wl_surface", sid)
		}
		st := c.srv.tree.Get(s.sid)
		if s.role != nil || st == nil || (st.Role != surface.RoleNone && st.Role != surface.RoleToplevel) {
			return protocolErr(r.id, errWmBaseRole, "%s already has a role", s.sid)
		}
		if st.Buffer != nil || s.pending.buffer != nil {
			return protocolErr(r.id, errWmBaseInvalidSurfaceState, "%s already has a buffer", s.sid)
		}
		xs := &xdgSurfaceRes{resource: resource{id: id, version: r.version}, surface: s}
		if err := c.register(id, xs); err != nil {
			return err
		}
		s.role = xs
	case 3: // pong
		a.Uint()
	default:
		return protocolErr(r.id, errInvalidMethod, "xdg_wm_base has no request %d", op)
	}
	return nil
}

// positionerRes is accepted so popups can be requested; popups are
// dismissed right away, so the geometry is never used.
type positionerRes struct{ resource }

func (*positionerRes) iface() string { return ifacePositioner }

func (r *positionerRes) dispatch(c *Client, op uint16, _ *args) error {
	if op == 0 {
		c.destroy(r.id)
	}
	return nil
}

type xdgSurfaceRes struct {
	resource
	surface  *surfaceRes
	toplevel *toplevelRes
	popup    *popupRes

	sent     bool // initial configure sent
	lastSent uint32
	acked    bool
}

func (*xdgSurfaceRes) iface() string { return ifaceXdgSurface }

func (r *xdgSurfaceRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0: // destroy
		if r.surface.role == r {
			r.surface.role = nil
		}
		c.destroy(r.id)
	case 1: // get_toplevel
		id := a.Uint()
		if r.toplevel != nil || r.popup != nil {
			return protocolErr(r.id, errXdgSurfaceAlreadyConstructed, "role object already created")
		}
		if err := c.srv.tree.SetRole(r.surface.sid, surface.RoleToplevel); err != nil {
			return protocolErr(r.id, errXdgSurfaceAlreadyConstructed, "%v", err)
		}
		t := &toplevelRes{resource: resource{id: id, version: r.version}, xdg: r}
		if err := c.register(id, t); err != nil {
			return err
		}
		r.toplevel = t
	case 2: // get_popup
		id := a.Uint()
		a.Uint() // parent
		a.Uint() // positioner
		if r.toplevel != nil || r.popup != nil {
			return protocolErr(r.id, errXdgSurfaceAlreadyConstructed, "role object already created")
		}
		p := &popupRes{resource{id: id, version: r.version}}
		if err := c.register(id, p); err != nil {
			return err
		}
		r.popup = p
		c.send(newEvent(id, evPopupDone))
	case 3: // set_window_geometry
		a.Int()
		a.Int()
		if w, h := a.Int(), a.Int(); w <= 0 || h <= 0 {
			return protocolErr(r.id, errXdgSurfaceInvalidSize, "window geometry %dx%d", w, h)
		}
	case 4: // ack_configure
		if serial := a.Uint(); serial <= r.lastSent {
			r.acked = true
		}
	default:
		return protocolErr(r.id, errInvalidMethod, "xdg_surface has no request %d", op)
	}
	return nil
}

func (r *xdgSurfaceRes) beforeCommit(c *Client, s *surfaceRes) error {
	if r.toplevel == nil && r.popup == nil {
		return protocolErr(r.id, errXdgSurfaceNotConstructed, "commit before a role object was created")
	}
	if s.pending.buffer != nil && !r.acked {
		return protocolErr(r.id, errXdgSurfaceUnconfiguredBuffer, "buffer attached before the first configure was acked")
	}
	return nil
}

func (r *xdgSurfaceRes) afterCommit(c *Client, s *surfaceRes, wasMapped bool) {
	if r.toplevel == nil {
		return
	}
	if !r.sent {
		r.toplevel.configure(c)
		return
	}
	mapped := c.srv.tree.Get(s.sid).Buffer != nil
	switch {
	case mapped && !wasMapped:
		c.log.Info("Window mapped", "surface", s.sid, "title", r.toplevel.title, "app_id", r.toplevel.appID)
		c.srv.seat.focusToplevel(s.sid)
	case !mapped && wasMapped:
		c.srv.seat.surfaceGone(s.sid)
	}
}

type toplevelRes struct {
	resource
	xdg   *xdgSurfaceRes
	title string
	appID string
	maxW  int32
	maxH  int32
}

func (*toplevelRes) iface() string { return ifaceToplevel }

func (t *toplevelRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0: // destroy
		sid := t.xdg.surface.sid
		c.srv.seat.surfaceGone(sid)
		if st := c.srv.tree.Get(sid); st != nil {
			st.Buffer = nil
		}
		t.xdg.toplevel = nil
		c.destroy(t.id)
	case 2:
		t.title = a.String()
	case 3:
		t.appID = a.String()
	case 7: // set_max_size
		w, h := a.Int(), a.Int()
		if w < 0 || h < 0 {
			return protocolErr(t.id, errInvalidMethod, "negative max size %dx%d", w, h)
		}
		t.maxW, t.maxH = w, h
	case 1, 4, 5, 6, 8, 9, 10, 11, 12, 13:
		// Placement and state requests: every window fills the output.
	default:
		return protocolErr(t.id, errInvalidMethod, "xdg_toplevel has no request %d", op)
	}
	return nil
}

// size is the output size limited by the client's max size.
func (t *toplevelRes) size(c *Client) (int32, int32) {
	m := c.srv.output.Mode()
	w, h := int32(m.Width), int32(m.Height)
	if t.maxW > 0 && t.maxW < w {
		w = t.maxW
	}
	if t.maxH > 0 && t.maxH < h {
		h = t.maxH
	}
	return w, h
}

func (t *toplevelRes) configure(c *Client) {
	w, h := t.size(c)
	var states []uint32
	if c.srv.seat.keyboardFocus == t.xdg.surface.sid {
		states = append(states, toplevelStateActivated)
	}
	serial := c.srv.nextSerial()
	c.send(newEvent(t.id, evToplevelConfigure).Int(w).Int(h).Array(uint32Array(states...)))
	c.send(newEvent(t.xdg.id, evXdgSurfaceConfigure).Uint(serial))
	t.xdg.sent = true
	t.xdg.lastSent = serial
}

func (t *toplevelRes) close(c *Client) {
	c.send(newEvent(t.id, evToplevelClose))
}

type popupRes struct{ resource }

func (*popupRes) iface() string { return ifacePopup }

func (p *popupRes) dispatch(c *Client, op uint16, _ *args) error {
	if op == 0 {
		c.destroy(p.id)
	}
	return nil
}
