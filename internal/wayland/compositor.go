package wayland

import (
	"errors"
	"image"

	"github.com/bnema/waydisplay/internal/surface"
)

// wl_surface error codes.
const (
	errSurfaceInvalidScale     = 0
	errSurfaceInvalidTransform = 1
)

// wl_subcompositor error codes.
const (
	errSubcompositorBadSurface = 0
	errSubcompositorBadParent  = 1
)

const (
	evSurfaceEnter = 0
	evSurfaceLeave = 1
)

type compositorRes struct{ resource }

func bindCompositor(_ *Client, id, version uint32) object {
	return &compositorRes{resource{id: id, version: version}}
}

func (*compositorRes) iface() string { return ifaceCompositor }

func (r *compositorRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0: // create_surface
		id := a.Uint()
		s := &surfaceRes{resource: resource{id: id, version: r.version}, sid: c.srv.tree.Create(c.id)}
		if err := c.register(id, s); err != nil {
			c.srv.tree.Destroy(s.sid)
			return err
		}
		c.surfaces[s.sid] = s
	case 1: // create_region
		id := a.Uint()
		return c.register(id, &regionRes{resource: resource{id: id, version: r.version}})
	default:
		return protocolErr(r.id, errInvalidMethod, "wl_compositor has no request %d", op)
	}
	return nil
}

// region is a sequence of rectangle additions and subtractions in surface
// coordinates. A point is inside when the last rectangle holding it was added.
type region []regionOp

type regionOp struct {
	rect image.Rectangle
	add  bool
}

func (r region) contains(p image.Point) bool {
	in := false
	for _, op := range r {
		if p.In(op.rect) {
			in = op.add
		}
	}
	return in
}

// regionRes records region updates. Input and opaque regions do not change
// what is composited; only pointer constraints read them.
type regionRes struct {
	resource
	ops region
}

func (*regionRes) iface() string { return ifaceRegion }

// snapshot copies the region so later requests on the object do not alter it.
func (r *regionRes) snapshot() region {
	return append(region{}, r.ops...)
}

func (r *regionRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0:
		c.destroy(r.id)
	case 1, 2: // add, subtract
		x, y, w, h := a.Int(), a.Int(), a.Int(), a.Int()
		if w > 0 && h > 0 {
			r.ops = append(r.ops, regionOp{rect: image.Rect(int(x), int(y), int(x+w), int(y+h)), add: op == 1})
		}
	default:
		return protocolErr(r.id, errInvalidMethod, "wl_region has no request %d", op)
	}
	return nil
}

// surfaceRole is the commit behaviour a role object adds to its surface.
type surfaceRole interface {
	// beforeCommit may reject the pending state.
	beforeCommit(c *Client, s *surfaceRes) error
	afterCommit(c *Client, s *surfaceRes, wasMapped bool)
}

type pendingState struct {
	attached     bool
	buffer       *bufferRes
	damage       []image.Rectangle
	transform    surface.Transform
	setTransform bool
	callbacks    []uint32
}

type surfaceRes struct {
	resource
	sid     surface.ID
	pending pendingState
	role    surfaceRole
	entered bool
}

func (*surfaceRes) iface() string { return ifaceSurface }

// surfaceArg resolves a wl_surface argument.
func surfaceArg(c *Client, id uint32) (*surfaceRes, bool) {
	s, ok := c.objects[id].(*surfaceRes)
	return s, ok
}

func (s *surfaceRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0: // destroy
		c.srv.seat.surfaceGone(s.sid)
		c.srv.seat.dropConstraint(s.sid)
		c.srv.tree.Destroy(s.sid)
		delete(c.surfaces, s.sid)
		c.destroy(s.id)
	case 1: // attach
		bid := a.Uint()
		a.Int()
		a.Int()
		s.pending.attached = true
		s.pending.buffer = nil
		if bid != 0 {
			b, ok := c.objects[bid].(*bufferRes)
			if !ok {
				return protocolErr(s.id, errInvalidObject, "attach: %d is not a wl_buffer", bid)
			}
			s.pending.buffer = b
		}
	case 2, 9: // damage, damage_buffer
		x, y, w, h := a.Int(), a.Int(), a.Int(), a.Int()
		if w > 0 && h > 0 {
			s.pending.damage = append(s.pending.damage, image.Rect(int(x), int(y), int(x+w), int(y+h)))
		}
	case 3: // frame
		id := a.Uint()
		if err := c.register(id, &callback{resource{id: id, version: 1}}); err != nil {
			return err
		}
		s.pending.callbacks = append(s.pending.callbacks, id)
	case 4, 5: // set_opaque_region, set_input_region
		a.Uint()
	case 6:
		return s.commit(c)
	case 7: // set_buffer_transform
		t := surface.Transform(a.Int())
		if !t.Valid() {
			return protocolErr(s.id, errSurfaceInvalidTransform, "transform %d", t)
		}
		s.pending.transform, s.pending.setTransform = t, true
	case 8: // set_buffer_scale
		if scale := a.Int(); scale < 1 {
			return protocolErr(s.id, errSurfaceInvalidScale, "scale %d", scale)
		}
	default:
		return protocolErr(s.id, errInvalidMethod, "wl_surface has no request %d", op)
	}
	return nil
}

func (s *surfaceRes) commit(c *Client) error {
	st := c.srv.tree.Get(s.sid)
	if st == nil {
		return nil
	}
	if s.role != nil {
		if err := s.role.beforeCommit(c, s); err != nil {
			return err
		}
	}
	wasMapped := st.Buffer != nil

	p := &s.pending
	if p.attached {
		if p.buffer == nil || p.buffer.destroyed {
			st.Buffer = nil
		} else {
			buf, err := p.buffer.snapshot()
			if err != nil {
				c.log.Warn("Surface buffer unreadable, keeping previous content", "surface", s.sid, "err", err)
			} else {
				st.Buffer = buf
			}
			// The content was copied, the client may reuse the buffer.
			c.send(newEvent(p.buffer.id, evBufferRelease))
		}
	}
	if p.setTransform {
		st.Transform = p.transform
	}
	st.Damage = append(st.Damage, p.damage...)
	for _, id := range p.callbacks {
		c.srv.callbacks = append(c.srv.callbacks, frameCallback{client: c, id: id})
	}
	s.pending = pendingState{damage: p.damage[:0]}

	if s.role != nil {
		s.role.afterCommit(c, s, wasMapped)
	}
	for _, child := range st.Children {
		if cs := c.surfaces[child]; cs != nil {
			if sub, ok := cs.role.(*subsurfaceRes); ok {
				sub.applyPosition(c)
			}
		}
	}
	c.srv.seat.commitConstraint(s.sid)
	if st.Buffer != nil && !s.entered {
		s.entered = true
		for _, o := range c.objects {
			if out, ok := o.(*outputRes); ok {
				c.send(newEvent(s.id, evSurfaceEnter).Uint(out.id))
			}
		}
	}
	return nil
}

type subcompositorRes struct{ resource }

func bindSubcompositor(_ *Client, id, version uint32) object {
	return &subcompositorRes{resource{id: id, version: version}}
}

func (*subcompositorRes) iface() string { return ifaceSubcompositor }

func (r *subcompositorRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0:
		c.destroy(r.id)
	case 1: // get_subsurface
		id, sid, pid := a.Uint(), a.Uint(), a.Uint()
		s, ok := surfaceArg(c, sid)
		if !ok {
			return protocolErr(r.id, errSubcompositorBadSurface, "%d is not a wl_surface", sid)
		}
		parent, ok := surfaceArg(c, pid)
		if !ok {
			return protocolErr(r.id, errSubcompositorBadParent, "%d is not a wl_surface", pid)
		}
		if err := c.srv.tree.SetParent(s.sid, parent.sid); err != nil {
			if errors.Is(err, surface.ErrBadParent) {
				return protocolErr(r.id, errSubcompositorBadParent, "%v", err)
			}
			return protocolErr(r.id, errSubcompositorBadSurface, "%v", err)
		}
		sub := &subsurfaceRes{resource: resource{id: id, version: r.version}, surface: s}
		if err := c.register(id, sub); err != nil {
			return err
		}
		s.role = sub
	default:
		return protocolErr(r.id, errInvalidMethod, "wl_subcompositor has no request %d", op)
	}
	return nil
}

// subsurfaceRes positions a child surface. Every subsurface behaves as
// desynchronized: its buffer state applies on its own commit, a new position
// on its own or its parent's commit.
type subsurfaceRes struct {
	resource
	surface  *surfaceRes
	position *image.Point
}

func (*subsurfaceRes) iface() string { return ifaceSubsurface }

func (r *subsurfaceRes) dispatch(c *Client, op uint16, a *args) error {
	tree := c.srv.tree
	switch op {
	case 0: // destroy
		tree.Detach(r.surface.sid)
		r.surface.role = nil
		c.destroy(r.id)
	case 1: // set_position
		p := image.Pt(int(a.Int()), int(a.Int()))
		r.position = &p
	case 2, 3: // place_above, place_below
		sibID := a.Uint()
		sib, ok := surfaceArg(c, sibID)
		if !ok {
			return protocolErr(r.id, errSubcompositorBadSurface, "%d is not a wl_surface", sibID)
		}
		if err := tree.PlaceRelative(r.surface.sid, sib.sid, op == 2); err != nil {
			return protocolErr(r.id, errSubcompositorBadSurface, "%v", err)
		}
	case 4, 5: // set_sync, set_desync
	default:
		return protocolErr(r.id, errInvalidMethod, "wl_subsurface has no request %d", op)
	}
	return nil
}

func (r *subsurfaceRes) beforeCommit(*Client, *surfaceRes) error { return nil }

func (r *subsurfaceRes) afterCommit(c *Client, _ *surfaceRes, _ bool) {
	r.applyPosition(c)
}

func (r *subsurfaceRes) applyPosition(c *Client) {
	if r.position == nil {
		return
	}
	if st := c.srv.tree.Get(r.surface.sid); st != nil {
		st.Position = *r.position
	}
	r.position = nil
}
