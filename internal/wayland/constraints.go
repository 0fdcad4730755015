package wayland

import (
	"image"
	"math"
	"time"

	"github.com/bnema/waydisplay/internal/surface"
)

const (
	ifaceRelativePointerManager = "zwp_relative_pointer_manager_v1"
	ifaceRelativePointer        = "zwp_relative_pointer_v1"
	ifacePointerConstraints     = "zwp_pointer_constraints_v1"
	ifaceLockedPointer          = "zwp_locked_pointer_v1"
	ifaceConfinedPointer        = "zwp_confined_pointer_v1"

	evRelativeMotion = 0

	// locked/confined and unlocked/unconfined share opcodes.
	evConstraintActive   = 0
	evConstraintInactive = 1

	errAlreadyConstrained = 1

	lifetimeOneshot    = 1
	lifetimePersistent = 2
)

type constraintKind int

const (
	kindLock constraintKind = iota
	kindConfine
)

func (k constraintKind) String() string {
	if k == kindLock {
		return "lock"
	}
	return "confine"
}

// constraint is a pointer lock or confinement a client placed on one of its
// surfaces. It is active while the pointer focuses that surface inside the
// region.
type constraint struct {
	kind    constraintKind
	client  *Client
	id      uint32
	sid     surface.ID
	oneshot bool

	// region is nil for the whole surface.
	region     region
	pending    region
	setPending bool

	hint, pendingHint       image.Point
	hasHint, setPendingHint bool

	active bool
	// dead oneshot constraints never activate again.
	dead bool
}

// allows reports whether a surface-local point satisfies the constraint.
func (con *constraint) allows(size, p image.Point) bool {
	if !p.In(image.Rectangle{Max: size}) {
		return false
	}
	return con.region == nil || con.region.contains(p)
}

func (st *seat) constrain(con *constraint) {
	st.constraints[con.sid] = con
	st.updateConstraint()
}

// activeConstraint returns the constraint acting on the pointer, if any.
func (st *seat) activeConstraint() *constraint {
	if con := st.constraints[st.pointerFocus]; con != nil && con.active {
		return con
	}
	return nil
}

// updateConstraint activates the constraint of the focused surface once the
// pointer is inside its region and ends those whose surface lost focus.
func (st *seat) updateConstraint() {
	for sid, con := range st.constraints {
		if con.active && sid != st.pointerFocus {
			st.deactivate(con)
		}
	}
	con := st.constraints[st.pointerFocus]
	if con == nil || con.active || con.dead {
		return
	}
	sf := st.srv.tree.Get(con.sid)
	if sf == nil || !con.allows(sf.Size(), st.point().Sub(st.pointerOrigin)) {
		return
	}
	con.active = true
	if !con.client.gone {
		con.client.send(newEvent(con.id, evConstraintActive))
	}
	con.client.log.Debug("Pointer constraint active", "kind", con.kind, "surface", con.sid)
}

func (st *seat) deactivate(con *constraint) {
	con.active = false
	if con.oneshot {
		con.dead = true
	}
	if !con.client.gone {
		con.client.send(newEvent(con.id, evConstraintInactive))
	}
}

// removeConstraint runs when the constraint object is destroyed. A lock
// that ends on the focused surface moves the pointer to its position hint.
func (st *seat) removeConstraint(con *constraint) {
	if st.constraints[con.sid] != con {
		return
	}
	delete(st.constraints, con.sid)
	if con.active && con.kind == kindLock && con.hasHint && con.sid == st.pointerFocus {
		st.x, st.y = st.srv.output.Clamp(
			float64(st.pointerOrigin.X+con.hint.X), float64(st.pointerOrigin.Y+con.hint.Y))
		st.cursor.Position = st.point()
	}
}

// dropConstraint forgets the constraint of a destroyed surface.
func (st *seat) dropConstraint(sid surface.ID) {
	delete(st.constraints, sid)
}

// commitConstraint applies the double-buffered region and hint of the
// surface's constraint.
func (st *seat) commitConstraint(sid surface.ID) {
	con := st.constraints[sid]
	if con == nil {
		return
	}
	if con.setPending {
		con.region, con.pending, con.setPending = con.pending, nil, false
	}
	if con.setPendingHint {
		con.hint, con.hasHint, con.setPendingHint = con.pendingHint, true, false
	}
	st.updateConstraint()
}

// moveBy applies relative device motion. A lock keeps the pointer in place,
// a confinement keeps it inside the region, sliding along the edge when
// only one axis is blocked.
func (st *seat) moveBy(dx, dy float64, ms uint32, now time.Time) {
	con := st.activeConstraint()
	if con == nil {
		st.moveTo(st.x+dx, st.y+dy, ms, now)
		return
	}
	if con.kind == kindLock {
		st.cursor.LastActivity = now
		return
	}
	sf := st.srv.tree.Get(con.sid)
	if sf == nil {
		st.moveTo(st.x+dx, st.y+dy, ms, now)
		return
	}
	size := sf.Size()
	inside := func(x, y float64) bool {
		p := image.Pt(int(math.Floor(x)), int(math.Floor(y))).Sub(st.pointerOrigin)
		return con.allows(size, p)
	}
	x, y := st.x+dx, st.y+dy
	switch {
	case inside(x, y):
	case inside(x, st.y):
		y = st.y
	case inside(st.x, y):
		x = st.x
	default:
		x, y = st.x, st.y
	}
	st.moveTo(x, y, ms, now)
}

// relativeMotion reports unaccelerated device motion to the focused client.
func (st *seat) relativeMotion(dx, dy float64, now time.Time) {
	if dx == 0 && dy == 0 {
		return
	}
	c, _ := st.owner(st.pointerFocus)
	if c == nil {
		return
	}
	us := uint64(max(now.Sub(st.srv.start).Microseconds(), 0))
	eachObject(c, func(r *relPointerRes) {
		c.send(newEvent(r.id, evRelativeMotion).Uint(uint32(us >> 32)).Uint(uint32(us)).
			Fixed(dx).Fixed(dy).Fixed(dx).Fixed(dy))
	})
}

type relPointerManagerRes struct{ resource }

func bindRelativePointerManager(_ *Client, id, version uint32) object {
	return &relPointerManagerRes{resource{id: id, version: version}}
}

func (*relPointerManagerRes) iface() string { return ifaceRelativePointerManager }

func (r *relPointerManagerRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0:
		c.destroy(r.id)
	case 1: // get_relative_pointer
		id, pid := a.Uint(), a.Uint()
		if _, ok := c.objects[pid].(*pointerRes); !ok {
			return protocolErr(r.id, errInvalidObject, "%d is not a wl_pointer", pid)
		}
		return c.register(id, &relPointerRes{resource{id: id, version: r.version}})
	default:
		return protocolErr(r.id, errInvalidMethod, "%s has no request %d", ifaceRelativePointerManager, op)
	}
	return nil
}

type relPointerRes struct{ resource }

func (*relPointerRes) iface() string { return ifaceRelativePointer }

func (r *relPointerRes) dispatch(c *Client, op uint16, _ *args) error {
	if op != 0 {
		return protocolErr(r.id, errInvalidMethod, "%s has no request %d", ifaceRelativePointer, op)
	}
	c.destroy(r.id)
	return nil
}

type constraintsRes struct{ resource }

func bindPointerConstraints(_ *Client, id, version uint32) object {
	return &constraintsRes{resource{id: id, version: version}}
}

func (*constraintsRes) iface() string { return ifacePointerConstraints }

func (r *constraintsRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0:
		c.destroy(r.id)
		return nil
	case 1, 2: // lock_pointer, confine_pointer
	default:
		return protocolErr(r.id, errInvalidMethod, "%s has no request %d", ifacePointerConstraints, op)
	}

	id, sid, pid, rid, lifetime := a.Uint(), a.Uint(), a.Uint(), a.Uint(), a.Uint()
	s, ok := surfaceArg(c, sid)
	if !ok {
		return protocolErr(r.id, errInvalidObject, "%d is not a wl_surface", sid)
	}
	if _, ok := c.objects[pid].(*pointerRes); !ok {
		return protocolErr(r.id, errInvalidObject, "%d is not a wl_pointer", pid)
	}
	if _, ok := c.srv.seat.constraints[s.sid]; ok {
		return protocolErr(r.id, errAlreadyConstrained, "surface %d already has a pointer constraint", sid)
	}
	reg, err := regionArg(c, r.id, rid)
	if err != nil {
		return err
	}
	if lifetime != lifetimeOneshot && lifetime != lifetimePersistent {
		return protocolErr(r.id, errInvalidObject, "invalid constraint lifetime %d", lifetime)
	}

	con := &constraint{client: c, id: id, sid: s.sid, region: reg, oneshot: lifetime == lifetimeOneshot}
	var o object = &lockedPointerRes{resource{id: id, version: r.version}, con}
	if op == 2 {
		con.kind = kindConfine
		o = &confinedPointerRes{resource{id: id, version: r.version}, con}
	}
	if err := c.register(id, o); err != nil {
		return err
	}
	c.srv.seat.constrain(con)
	return nil
}

// regionArg resolves a nullable wl_region argument.
func regionArg(c *Client, from, id uint32) (region, error) {
	if id == 0 {
		return nil, nil
	}
	reg, ok := c.objects[id].(*regionRes)
	if !ok {
		return nil, protocolErr(from, errInvalidObject, "%d is not a wl_region", id)
	}
	return reg.snapshot(), nil
}

type lockedPointerRes struct {
	resource
	con *constraint
}

func (*lockedPointerRes) iface() string { return ifaceLockedPointer }

func (l *lockedPointerRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0:
		c.srv.seat.removeConstraint(l.con)
		c.destroy(l.id)
	case 1: // set_cursor_position_hint
		x, y := a.Fixed(), a.Fixed()
		l.con.pendingHint = image.Pt(int(math.Floor(x)), int(math.Floor(y)))
		l.con.setPendingHint = true
	case 2: // set_region
		return setConstraintRegion(c, l.id, l.con, a.Uint())
	default:
		return protocolErr(l.id, errInvalidMethod, "%s has no request %d", ifaceLockedPointer, op)
	}
	return nil
}

type confinedPointerRes struct {
	resource
	con *constraint
}

func (*confinedPointerRes) iface() string { return ifaceConfinedPointer }

func (p *confinedPointerRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0:
		c.srv.seat.removeConstraint(p.con)
		c.destroy(p.id)
	case 1: // set_region
		return setConstraintRegion(c, p.id, p.con, a.Uint())
	default:
		return protocolErr(p.id, errInvalidMethod, "%s has no request %d", ifaceConfinedPointer, op)
	}
	return nil
}

func setConstraintRegion(c *Client, from uint32, con *constraint, rid uint32) error {
	reg, err := regionArg(c, from, rid)
	if err != nil {
		return err
	}
	con.pending, con.setPending = reg, true
	return nil
}
