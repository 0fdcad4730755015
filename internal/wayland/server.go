// Package wayland is the protocol server clients connect to. It speaks the
// core wire protocol over the display socket and keeps the surface tree,
// output and seat up to date with what clients request.
//
// Only Handle, ApplyInput, FramePresented and ModeChanged mutate state, and
// they must all be called from the same goroutine. Socket and client reads
// run on their own goroutines and only forward onto the Events channel.
package wayland

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bnema/waydisplay/internal/logger"
	"github.com/bnema/waydisplay/internal/surface"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// ErrListener reports that the display socket stopped accepting clients.
var ErrListener = errors.New("display socket failed")

// Config selects where the display socket is created.
type Config struct {
	RuntimeDir string
	// Prefix of the socket name, "wayland" when empty.
	Prefix string
	// Backlog of the event channel.
	Backlog int
}

// Event is produced by the socket and client goroutines and consumed by
// Handle.
type Event struct {
	client *Client
	conn   *net.UnixConn
	batch  batch
	err    error
}

type global struct {
	name    uint32
	iface   string
	version uint32
	bind    func(c *Client, id, version uint32) object
}

type frameCallback struct {
	client *Client
	id     uint32
}

// Server owns the clients and the protocol side of the compositor state.
type Server struct {
	socket *Socket
	tree   *surface.Tree
	output *surface.Output
	seat   *seat

	globals   []global
	clients   map[uint32]*Client
	nextID    uint32
	serial    uint32
	start     time.Time
	callbacks []frameCallback

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	log    *log.Logger
}

// New creates the display socket and starts accepting clients.
func New(cfg Config, output *surface.Output) (*Server, error) {
	if output == nil {
		return nil, errors.New("wayland server needs an output")
	}
	sock, err := Listen(cfg.RuntimeDir, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if cfg.Backlog < 1 {
		cfg.Backlog = 64
	}

	s := &Server{
		socket:  sock,
		tree:    surface.NewTree(),
		output:  output,
		clients: make(map[uint32]*Client),
		start:   time.Now(),
		events:  make(chan Event, cfg.Backlog),
		done:    make(chan struct{}),
		log:     logger.With("component", "wayland", "socket", sock.Name()),
	}
	s.seat = newSeat(s)
	s.globals = []global{
		{name: 1, iface: ifaceCompositor, version: 4, bind: bindCompositor},
		{name: 2, iface: ifaceSubcompositor, version: 1, bind: bindSubcompositor},
		{name: 3, iface: ifaceShm, version: 1, bind: bindShm},
		{name: 4, iface: ifaceOutput, version: 4, bind: bindOutput},
		{name: 5, iface: ifaceSeat, version: 5, bind: bindSeat},
		{name: 6, iface: ifaceWmBase, version: 2, bind: bindWmBase},
		{name: 7, iface: ifaceRelativePointerManager, version: 1, bind: bindRelativePointerManager},
		{name: 8, iface: ifacePointerConstraints, version: 1, bind: bindPointerConstraints},
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// SocketName is the WAYLAND_DISPLAY value for clients.
func (s *Server) SocketName() string { return s.socket.Name() }

// SocketPath is where the display socket lives.
func (s *Server) SocketPath() string { return s.socket.Path() }

// Events delivers accepted connections and client requests.
func (s *Server) Events() <-chan Event { return s.events }

// Tree is the committed surface state read by the render engine.
func (s *Server) Tree() *surface.Tree { return s.tree }

// Clients returns the number of connected clients.
func (s *Server) Clients() int { return len(s.clients) }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.socket.accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.emit(Event{err: fmt.Errorf("%w: %v", ErrListener, err)})
			return
		}
		if !s.emit(Event{conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (s *Server) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) readLoop(c *Client) {
	defer s.wg.Done()
	r := newReader(c.conn)
	for {
		b, err := r.next()
		if len(b.msgs) > 0 || len(b.fds) > 0 {
			if !s.emit(Event{client: c, batch: b}) {
				closeFDs(b.fds)
				return
			}
		}
		if err != nil {
			s.emit(Event{client: c, err: err})
			return
		}
	}
}

// Handle applies one event. The returned error is fatal for the server;
// client faults are handled by disconnecting the client.
func (s *Server) Handle(ev Event) error {
	switch {
	case ev.conn != nil:
		s.accept(ev.conn)
		return nil
	case ev.client == nil:
		return ev.err
	}

	c := ev.client
	if c.gone {
		closeFDs(ev.batch.fds)
		return nil
	}
	c.fds = append(c.fds, ev.batch.fds...)
	for _, m := range ev.batch.msgs {
		if err := c.dispatch(m); err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				c.log.Warn("Disconnecting client after protocol error", "err", perr)
				c.postError(perr)
			} else {
				c.log.Warn("Disconnecting client", "err", err)
			}
			s.disconnect(c)
			return nil
		}
		if c.gone {
			return nil
		}
	}
	if ev.err != nil {
		c.log.Debug("Client connection closed", "err", ev.err)
		s.disconnect(c)
		return nil
	}
	s.flush()
	return nil
}

func (s *Server) accept(conn *net.UnixConn) {
	s.nextID++
	c := &Client{
		id:       s.nextID,
		conn:     conn,
		srv:      s,
		objects:  make(map[uint32]object),
		surfaces: make(map[surface.ID]*surfaceRes),
		log:      s.log.With("client", s.nextID),
	}
	if cred, err := peerCred(conn); err == nil {
		c.pid = cred.Pid
		c.log = c.log.With("pid", cred.Pid)
	}
	c.objects[displayID] = &display{resource{id: displayID, version: 1}}
	s.clients[c.id] = c
	c.log.Info("Client connected")

	s.wg.Add(1)
	go s.readLoop(c)
}

func peerCred(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	return cred, credErr
}

// disconnect drops a client with all its surfaces and resources.
func (s *Server) disconnect(c *Client) {
	if c.gone {
		return
	}
	c.flush()
	c.gone = true
	c.conn.Close()

	for _, o := range c.objects {
		if r, ok := o.(releaser); ok {
			r.release()
		}
	}
	clear(c.objects)
	clear(c.surfaces)
	closeFDs(c.fds)
	c.fds = nil

	n := s.tree.DestroyOwned(c.id)
	s.seat.forget(c)
	kept := s.callbacks[:0]
	for _, cb := range s.callbacks {
		if cb.client != c {
			kept = append(kept, cb)
		}
	}
	s.callbacks = kept
	delete(s.clients, c.id)
	c.log.Info("Client disconnected", "surfaces", n)
}

func (s *Server) flush() {
	for _, c := range s.clients {
		c.flush()
	}
	for _, c := range s.clients {
		if c.broken {
			s.disconnect(c)
		}
	}
}

func (s *Server) nextSerial() uint32 {
	s.serial++
	return s.serial
}

// now is the protocol timestamp in milliseconds.
func (s *Server) now() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

// FramePresented fires the frame callbacks of every surface committed
// before the frame was rendered.
func (s *Server) FramePresented(at time.Time) {
	if len(s.callbacks) == 0 {
		return
	}
	ms := uint32(at.Sub(s.start).Milliseconds())
	for _, cb := range s.callbacks {
		if cb.client.gone {
			continue
		}
		cb.client.send(newEvent(cb.id, evCallbackDone).Uint(ms))
		cb.client.destroy(cb.id)
	}
	s.callbacks = s.callbacks[:0]
	s.flush()
}

// ModeChanged tells clients about a newly negotiated output mode: every
// bound wl_output gets mode and done, every toplevel a new configure.
func (s *Server) ModeChanged() {
	for _, c := range s.clients {
		for _, o := range c.objects {
			switch r := o.(type) {
			case *outputRes:
				r.sendMode(c)
				r.sendDone(c)
			case *toplevelRes:
				r.configure(c)
			}
		}
	}
	s.seat.recenter()
	s.flush()
}

// Close disconnects every client and removes the display socket.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.socket.Close()
		for _, c := range s.clients {
			c.gone = true
			c.conn.Close()
			closeFDs(c.fds)
			for _, o := range c.objects {
				if r, ok := o.(releaser); ok {
					r.release()
				}
			}
		}
		s.wg.Wait()
		s.drain()
		clear(s.clients)
		s.tree.Clear()
		s.log.Debug("Protocol server stopped")
	})
	return err
}

// drain releases descriptors and connections still queued after shutdown.
func (s *Server) drain() {
	for {
		select {
		case ev := <-s.events:
			closeFDs(ev.batch.fds)
			if ev.conn != nil {
				ev.conn.Close()
			}
		default:
			return
		}
	}
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
