// Package surface models the client surfaces the compositor displays and the
// single virtual output they are shown on.
//
// Surfaces live in an arena addressed by ID. Parent and child links are IDs,
// never pointers, so tearing the tree down is a single Clear.
package surface

import (
	"errors"
	"fmt"
	"image"
)

// ID addresses a surface in a Tree. The zero ID is never allocated.
type ID struct {
	index uint32
	gen   uint32
}

// Nil is the zero ID.
var Nil ID

// IsNil reports whether id is the zero ID.
func (id ID) IsNil() bool { return id == Nil }

func (id ID) String() string {
	return fmt.Sprintf("surface#%d.%d", id.index, id.gen)
}

// Role is the job a client gave a surface.
type Role int

const (
	RoleNone Role = iota
	RoleToplevel
	RoleSubsurface
	RoleCursor
)

func (r Role) String() string {
	switch r {
	case RoleToplevel:
		return "toplevel"
	case RoleSubsurface:
		return "subsurface"
	case RoleCursor:
		return "cursor"
	default:
		return "none"
	}
}

var (
	ErrUnknownSurface = errors.New("unknown surface")
	ErrRoleAssigned   = errors.New("surface already has a role")
	ErrBadParent      = errors.New("invalid parent surface")
)

// Surface is the committed state of one client surface.
type Surface struct {
	ID     ID
	Owner  uint32 // client that created the surface
	Role   Role
	Buffer *Buffer
	// Damage accumulated since the last frame, in surface coordinates.
	Damage []image.Rectangle
	// Transform is a wl_output transform value (0..7).
	Transform Transform
	// Position relative to the parent (subsurfaces) or the output (toplevels).
	Position image.Point

	Parent   ID
	Children []ID // stacking order, bottom to top
}

// Size returns the surface size after the buffer transform.
func (s *Surface) Size() image.Point {
	if s.Buffer == nil {
		return image.Point{}
	}
	w, h := s.Buffer.Width, s.Buffer.Height
	if s.Transform.SwapsAxes() {
		w, h = h, w
	}
	return image.Pt(w, h)
}

type slot struct {
	gen     uint32
	surface *Surface
}

// Tree is the arena of surfaces plus the stacking order of toplevels.
//
// Tree is not safe for concurrent use: only the loop goroutine touches it.
type Tree struct {
	slots     []slot
	free      []uint32
	toplevels []ID // bottom to top
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Create allocates a surface owned by client.
func (t *Tree) Create(owner uint32) ID {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.gen++
	id := ID{index: idx + 1, gen: s.gen}
	s.surface = &Surface{ID: id, Owner: owner}
	return id
}

// Get returns the surface for id or nil when it no longer exists.
func (t *Tree) Get(id ID) *Surface {
	if id.index == 0 || int(id.index) > len(t.slots) {
		return nil
	}
	s := t.slots[id.index-1]
	if s.gen != id.gen || s.surface == nil {
		return nil
	}
	return s.surface
}

// Len returns the number of live surfaces.
func (t *Tree) Len() int {
	return len(t.slots) - len(t.free)
}

// Destroy removes a surface. Children are detached and stay alive until
// their own destroy request; they are no longer visible.
func (t *Tree) Destroy(id ID) {
	s := t.Get(id)
	if s == nil {
		return
	}
	for _, c := range s.Children {
		if child := t.Get(c); child != nil {
			child.Parent = Nil
		}
	}
	if p := t.Get(s.Parent); p != nil {
		p.Children = removeID(p.Children, id)
	}
	t.toplevels = removeID(t.toplevels, id)

	t.slots[id.index-1].surface = nil
	t.free = append(t.free, id.index-1)
}

// DestroyOwned removes every surface created by a client.
func (t *Tree) DestroyOwned(owner uint32) int {
	var ids []ID
	for i := range t.slots {
		if s := t.slots[i].surface; s != nil && s.Owner == owner {
			ids = append(ids, s.ID)
		}
	}
	for _, id := range ids {
		t.Destroy(id)
	}
	return len(ids)
}

// Clear drops every surface.
func (t *Tree) Clear() {
	t.slots = nil
	t.free = nil
	t.toplevels = nil
}

// SetRole assigns a role once. Toplevels are stacked on top.
func (t *Tree) SetRole(id ID, role Role) error {
	s := t.Get(id)
	if s == nil {
		return ErrUnknownSurface
	}
	if s.Role != RoleNone && s.Role != role {
		return fmt.Errorf("%w: %s is a %s", ErrRoleAssigned, id, s.Role)
	}
	s.Role = role
	if role == RoleToplevel && !containsID(t.toplevels, id) {
		t.toplevels = append(t.toplevels, id)
	}
	return nil
}

// SetParent makes id a subsurface of parent, stacked above its siblings.
func (t *Tree) SetParent(id, parent ID) error {
	s, p := t.Get(id), t.Get(parent)
	if s == nil || p == nil {
		return ErrUnknownSurface
	}
	if id == parent || t.isAncestor(id, parent) {
		return fmt.Errorf("%w: %s cannot be a child of %s", ErrBadParent, id, parent)
	}
	if err := t.SetRole(id, RoleSubsurface); err != nil {
		return err
	}
	if old := t.Get(s.Parent); old != nil {
		old.Children = removeID(old.Children, id)
	}
	s.Parent = parent
	p.Children = append(p.Children, id)
	return nil
}

// Detach unlinks a subsurface from its parent. The surface keeps its role
// and is no longer visible.
func (t *Tree) Detach(id ID) {
	s := t.Get(id)
	if s == nil {
		return
	}
	if p := t.Get(s.Parent); p != nil {
		p.Children = removeID(p.Children, id)
	}
	s.Parent = Nil
}

// Root returns the toplevel a surface belongs to, or Nil when it is not
// attached to one.
func (t *Tree) Root(id ID) ID {
	for s := t.Get(id); s != nil; s = t.Get(s.Parent) {
		if s.Parent.IsNil() {
			if s.Role == RoleToplevel {
				return s.ID
			}
			return Nil
		}
	}
	return Nil
}

// PlaceRelative restacks a subsurface directly above or below a sibling.
// A sibling equal to the parent moves id to the bottom or top of the list.
func (t *Tree) PlaceRelative(id, sibling ID, above bool) error {
	s := t.Get(id)
	if s == nil {
		return ErrUnknownSurface
	}
	p := t.Get(s.Parent)
	if p == nil {
		return ErrBadParent
	}
	children := removeID(p.Children, id)
	if sibling == s.Parent {
		if above {
			p.Children = append(children, id)
		} else {
			p.Children = append([]ID{id}, children...)
		}
		return nil
	}
	at := indexOf(children, sibling)
	if at < 0 {
		return fmt.Errorf("%w: %s is not a sibling of %s", ErrBadParent, sibling, id)
	}
	if above {
		at++
	}
	children = append(children, Nil)
	copy(children[at+1:], children[at:])
	children[at] = id
	p.Children = children
	return nil
}

// Raise moves a toplevel to the top of the stack.
func (t *Tree) Raise(id ID) {
	if !containsID(t.toplevels, id) {
		return
	}
	t.toplevels = append(removeID(t.toplevels, id), id)
}

// Toplevels returns the toplevel stack, bottom to top.
func (t *Tree) Toplevels() []ID {
	out := make([]ID, len(t.toplevels))
	copy(out, t.toplevels)
	return out
}

// Placed is a surface together with its absolute output position.
type Placed struct {
	Surface *Surface
	Origin  image.Point
}

// Walk visits visible surfaces back to front: toplevels bottom to top, each
// followed by its subsurfaces in stacking order. Surfaces without a buffer
// hide their subtree.
func (t *Tree) Walk(fn func(Placed)) {
	for _, id := range t.toplevels {
		t.walk(id, image.Point{}, fn)
	}
}

func (t *Tree) walk(id ID, base image.Point, fn func(Placed)) {
	s := t.Get(id)
	if s == nil || s.Buffer == nil {
		return
	}
	origin := base.Add(s.Position)
	fn(Placed{Surface: s, Origin: origin})
	for _, c := range s.Children {
		t.walk(c, origin, fn)
	}
}

// SurfaceAt returns the topmost toplevel containing p together with the
// toplevel's origin.
func (t *Tree) SurfaceAt(p image.Point) (ID, image.Point, bool) {
	for i := len(t.toplevels) - 1; i >= 0; i-- {
		s := t.Get(t.toplevels[i])
		if s == nil || s.Buffer == nil {
			continue
		}
		r := image.Rectangle{Min: s.Position, Max: s.Position.Add(s.Size())}
		if p.In(r) {
			return s.ID, s.Position, true
		}
	}
	return Nil, image.Point{}, false
}

// TakeDamage returns and resets the accumulated damage of every surface.
func (t *Tree) TakeDamage() []image.Rectangle {
	var out []image.Rectangle
	t.Walk(func(p Placed) {
		for _, r := range p.Surface.Damage {
			out = append(out, r.Add(p.Origin))
		}
		p.Surface.Damage = p.Surface.Damage[:0]
	})
	return out
}

func (t *Tree) isAncestor(candidate, of ID) bool {
	for cur := t.Get(of); cur != nil; cur = t.Get(cur.Parent) {
		if cur.Parent == candidate {
			return true
		}
	}
	return false
}

func indexOf(ids []ID, id ID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func containsID(ids []ID, id ID) bool {
	return indexOf(ids, id) >= 0
}

func removeID(ids []ID, id ID) []ID {
	if i := indexOf(ids, id); i >= 0 {
		return append(ids[:i:i], ids[i+1:]...)
	}
	return ids
}
