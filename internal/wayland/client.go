package wayland

import (
	"errors"
	"net"
	"time"

	"github.com/bnema/waydisplay/internal/surface"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

const (
	displayID = 1
	// Client allocated ids stay below this, server allocated ones start here.
	serverIDBase = 0xff000000

	writeTimeout = time.Second
	flushAt      = 32 * 1024
)

// Interface names as they appear on the wire.
const (
	ifaceDisplay       = "wl_display"
	ifaceRegistry      = "wl_registry"
	ifaceCallback      = "wl_callback"
	ifaceCompositor    = "wl_compositor"
	ifaceSurface       = "wl_surface"
	ifaceRegion        = "wl_region"
	ifaceSubcompositor = "wl_subcompositor"
	ifaceSubsurface    = "wl_subsurface"
	ifaceShm           = "wl_shm"
	ifaceShmPool       = "wl_shm_pool"
	ifaceBuffer        = "wl_buffer"
	ifaceOutput        = "wl_output"
	ifaceSeat          = "wl_seat"
	ifacePointer       = "wl_pointer"
	ifaceKeyboard      = "wl_keyboard"
	ifaceTouch         = "wl_touch"
	ifaceWmBase        = "xdg_wm_base"
	ifacePositioner    = "xdg_positioner"
	ifaceXdgSurface    = "xdg_surface"
	ifaceToplevel      = "xdg_toplevel"
	ifacePopup         = "xdg_popup"
)

// Event opcodes used across files.
const (
	evDisplayError    = 0
	evDisplayDeleteID = 1
	evRegistryGlobal  = 0
	evCallbackDone    = 0
)

// object is a protocol resource owned by a client.
type object interface {
	iface() string
	dispatch(c *Client, op uint16, a *args) error
}

// releaser is implemented by resources holding something outside the Go
// heap (mappings, descriptors) that must be freed on disconnect.
type releaser interface {
	release()
}

type resource struct {
	id      uint32
	version uint32
}

// Client is one connection to the display socket.
type Client struct {
	id   uint32
	pid  int32
	conn *net.UnixConn
	srv  *Server

	objects map[uint32]object
	// surfaces maps tree ids back to the client's wl_surface objects.
	surfaces map[surface.ID]*surfaceRes
	// fds holds received descriptors not yet consumed by a request.
	fds []int

	out    []byte
	outFDs []int
	gone   bool
	broken bool
	log    *log.Logger
}

func (c *Client) dispatch(m Message) error {
	o, ok := c.objects[m.Object]
	if !ok {
		// Requests racing with a destroy are harmless.
		if m.Object != 0 && m.Object < serverIDBase {
			c.log.Debug("Request for unknown object", "object", m.Object, "opcode", m.Opcode)
			return nil
		}
		return protocolErr(displayID, errInvalidObject, "invalid object %d", m.Object)
	}
	a := newArgs(m.Args)
	if err := o.dispatch(c, m.Opcode, a); err != nil {
		return err
	}
	if err := a.Err(); err != nil {
		return protocolErr(m.Object, errInvalidMethod, "%s@%d.%d: %v", o.iface(), m.Object, m.Opcode, err)
	}
	return nil
}

// register binds a client chosen id to a new object.
func (c *Client) register(id uint32, o object) error {
	if id == 0 || id >= serverIDBase {
		return protocolErr(displayID, errInvalidObject, "invalid new id %d for %s", id, o.iface())
	}
	if _, taken := c.objects[id]; taken {
		return protocolErr(displayID, errInvalidObject, "id %d already in use", id)
	}
	c.objects[id] = o
	return nil
}

// destroy removes an object and confirms the id to the client.
func (c *Client) destroy(id uint32) {
	delete(c.objects, id)
	c.send(newEvent(displayID, evDisplayDeleteID).Uint(id))
}

// takeFD pops the oldest received descriptor.
func (c *Client) takeFD() (int, error) {
	if len(c.fds) == 0 {
		return -1, errors.New("request expects a file descriptor but none was received")
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, nil
}

func (c *Client) send(e *event) {
	if c.gone || c.broken {
		closeFDs(e.fds)
		return
	}
	c.out = append(c.out, e.bytes()...)
	c.outFDs = append(c.outFDs, e.fds...)
	if len(c.out) >= flushAt {
		c.flush()
	}
}

func (c *Client) flush() {
	defer func() {
		closeFDs(c.outFDs)
		c.outFDs = c.outFDs[:0]
	}()
	if len(c.out) == 0 || c.gone || c.broken {
		c.out = c.out[:0]
		return
	}
	var oob []byte
	if len(c.outFDs) > 0 {
		oob = unix.UnixRights(c.outFDs...)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, _, err := c.conn.WriteMsgUnix(c.out, oob, nil); err != nil {
		c.log.Debug("Write to client failed", "err", err)
		c.broken = true
	}
	c.out = c.out[:0]
}

func (c *Client) postError(e *ProtocolError) {
	c.send(newEvent(displayID, evDisplayError).Uint(e.Object).Uint(e.Code).String(e.Message))
	c.flush()
}

type display struct{ resource }

func (*display) iface() string { return ifaceDisplay }

func (d *display) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0: // sync
		id := a.Uint()
		if err := c.register(id, &callback{resource{id: id, version: 1}}); err != nil {
			return err
		}
		c.send(newEvent(id, evCallbackDone).Uint(c.srv.nextSerial()))
		c.destroy(id)
	case 1: // get_registry
		id := a.Uint()
		if err := c.register(id, &registry{resource{id: id, version: 1}}); err != nil {
			return err
		}
		for _, g := range c.srv.globals {
			c.send(newEvent(id, evRegistryGlobal).Uint(g.name).String(g.iface).Uint(g.version))
		}
	default:
		return protocolErr(d.id, errInvalidMethod, "wl_display has no request %d", op)
	}
	return nil
}

type registry struct{ resource }

func (*registry) iface() string { return ifaceRegistry }

func (r *registry) dispatch(c *Client, op uint16, a *args) error {
	if op != 0 {
		return protocolErr(r.id, errInvalidMethod, "wl_registry has no request %d", op)
	}
	name := a.Uint()
	iface := a.String()
	version := a.Uint()
	id := a.Uint()
	if err := a.Err(); err != nil {
		return protocolErr(r.id, errInvalidMethod, "bind: %v", err)
	}

	for _, g := range c.srv.globals {
		if g.name != name {
			continue
		}
		if g.iface != iface {
			return protocolErr(r.id, errInvalidObject, "global %d is %s, not %s", name, g.iface, iface)
		}
		if version == 0 || version > g.version {
			return protocolErr(r.id, errInvalidObject, "%s version %d unsupported (max %d)", iface, version, g.version)
		}
		o := g.bind(c, id, version)
		if err := c.register(id, o); err != nil {
			return err
		}
		if b, ok := o.(interface{ bound(*Client) }); ok {
			b.bound(c)
		}
		c.log.Debug("Global bound", "iface", iface, "version", version, "id", id)
		return nil
	}
	return protocolErr(r.id, errInvalidObject, "no global %d", name)
}

// callback only carries events.
type callback struct{ resource }

func (*callback) iface() string { return ifaceCallback }

func (cb *callback) dispatch(c *Client, op uint16, a *args) error {
	return protocolErr(cb.id, errInvalidMethod, "wl_callback has no requests")
}
