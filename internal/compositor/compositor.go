// Package compositor runs the compositor loop: one goroutine, locked to its
// OS thread, owning the render engine, the protocol server, the surface tree
// and the seat. Callers talk to it through a command channel and pull
// frames from the queue.
package compositor

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/bnema/waydisplay/internal/bridge"
	"github.com/bnema/waydisplay/internal/devices"
	"github.com/bnema/waydisplay/internal/input"
	"github.com/bnema/waydisplay/internal/logger"
	"github.com/bnema/waydisplay/internal/queue"
	"github.com/bnema/waydisplay/internal/render"
	"github.com/bnema/waydisplay/internal/surface"
	"github.com/bnema/waydisplay/internal/wayland"
	"github.com/charmbracelet/log"
	"github.com/gogpu/gg"
)

var (
	// ErrStopped is returned for commands sent after the loop exited.
	ErrStopped = errors.New("compositor stopped")
	// ErrShutdownTimeout is returned when the loop did not exit in time.
	ErrShutdownTimeout = errors.New("compositor shutdown timed out")
)

// Options configures a compositor.
type Options struct {
	// RenderNode is a DRM render node path or "software".
	RenderNode   string
	RuntimeDir   string
	SocketPrefix string
	// Caps are used until the first SetVideoInfo.
	Caps bridge.Caps

	QueueCapacity int
	BlockProducer bool
	InputBacklog  int

	// Check runs on the loop before every frame. An error stops the loop
	// the same way a lost render device does.
	Check func() error
}

// Stats is a snapshot for status reporting.
type Stats struct {
	Seq     uint64
	Mode    surface.Mode
	Caps    bridge.Caps
	Clients int
	Queue   queue.Stats
	Inputs  []input.DeviceInfo
	// Digest of the newest exported frame.
	Digest string
}

type cmdKind int

const (
	cmdAddInput cmdKind = iota
	cmdSetCaps
)

type command struct {
	kind  cmdKind
	path  string
	caps  bridge.Caps
	reply chan error
}

// Compositor is the handle to a running loop.
type Compositor struct {
	opts     Options
	registry *devices.Registry
	queue    *queue.Queue[*bridge.Buffer]
	injector *input.Injector

	cmds     chan command
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	err      error // fatal loop error, readable after done is closed

	mu    sync.Mutex
	stats Stats
	last  *bridge.Buffer

	log *log.Logger
}

// state is owned by the loop goroutine.
type state struct {
	dev    *render.Device
	engine *render.Engine
	bridge *bridge.Bridge
	output *surface.Output
	server *wayland.Server
	ticker *time.Ticker
}

// Start launches the loop and waits for its first frame. Every resource is
// released again when startup fails.
func Start(opts Options) (*Compositor, error) {
	if err := opts.Caps.Validate(); err != nil {
		return nil, fmt.Errorf("default caps: %w", err)
	}
	if opts.InputBacklog < 1 {
		opts.InputBacklog = 256
	}
	mode := queue.DropOldest
	if opts.BlockProducer {
		mode = queue.BlockProducer
	}
	gg.SetLogger(logger.Slog())

	c := &Compositor{
		opts:     opts,
		queue:    queue.New[*bridge.Buffer](opts.QueueCapacity, mode),
		injector: input.NewInjector(opts.InputBacklog),
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      logger.With("component", "compositor"),
	}

	ready := make(chan error, 1)
	go c.loop(ready)
	if err := <-ready; err != nil {
		<-c.done
		return nil, err
	}
	return c, nil
}

func (c *Compositor) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)

	st, err := c.setup()
	if err != nil {
		ready <- err
		return
	}
	defer c.teardown(st)

	if err := c.tick(st, time.Now()); err != nil {
		c.err = err
		ready <- err
		return
	}
	ready <- nil
	c.log.Info("Compositor running", "socket", st.server.SocketName(), "mode", st.output.Mode())

	for {
		select {
		case <-c.quit:
			return
		case now := <-st.ticker.C:
			if err := c.tick(st, now); err != nil {
				c.fail(err)
				return
			}
		case ev := <-st.server.Events():
			if err := st.server.Handle(ev); err != nil {
				c.fail(err)
				return
			}
		case f, ok := <-c.injector.Frames():
			if ok {
				st.server.ApplyInput(f)
			}
		case cmd := <-c.cmds:
			cmd.reply <- c.execute(st, cmd)
		}
	}
}

func (c *Compositor) setup() (_ *state, err error) {
	st := &state{}
	defer func() {
		if err != nil {
			c.teardown(st)
		}
	}()

	if st.dev, err = render.Open(c.opts.RenderNode); err != nil {
		return nil, err
	}
	if st.bridge, err = bridge.New(c.opts.Caps); err != nil {
		return nil, err
	}
	if st.output, err = surface.NewOutput(c.opts.Caps.Mode()); err != nil {
		return nil, err
	}
	if st.engine, err = render.NewEngine(st.dev, st.output.Mode()); err != nil {
		return nil, err
	}
	st.server, err = wayland.New(wayland.Config{
		RuntimeDir: c.opts.RuntimeDir,
		Prefix:     c.opts.SocketPrefix,
	}, st.output)
	if err != nil {
		return nil, err
	}
	if c.registry, err = devices.Discover(c.opts.RenderNode, st.server.SocketName(), c.opts.RuntimeDir); err != nil {
		return nil, err
	}
	st.ticker = time.NewTicker(st.output.Mode().FrameInterval())
	c.updateStats(st, nil)
	return st, nil
}

func (c *Compositor) teardown(st *state) {
	if st.ticker != nil {
		st.ticker.Stop()
	}
	c.queue.Close()
	c.injector.Close()
	if st.server != nil {
		if err := st.server.Close(); err != nil {
			c.log.Warn("Closing display socket", "err", err)
		}
	}
	if st.engine != nil {
		st.engine.Close()
	}
	if st.dev != nil {
		st.dev.Close()
	}
	c.log.Debug("Compositor resources released")
}

// tick renders, exports and enqueues one frame, then lets clients draw the
// next one.
func (c *Compositor) tick(st *state, now time.Time) error {
	if c.opts.Check != nil {
		if err := c.opts.Check(); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
	}
	frame, err := st.engine.Render(st.server.Tree(), st.server.Cursor(), now)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	buf, err := st.bridge.Export(frame)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	c.queue.Push(buf)
	st.server.FramePresented(now)
	c.updateStats(st, buf)
	return nil
}

func (c *Compositor) execute(st *state, cmd command) error {
	switch cmd.kind {
	case cmdAddInput:
		return c.injector.Add(cmd.path)
	case cmdSetCaps:
		return c.reconfigure(st, cmd.caps)
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}

// reconfigure switches every stage to new caps. Nothing changes when the
// caps are rejected.
func (c *Compositor) reconfigure(st *state, caps bridge.Caps) error {
	if err := caps.Validate(); err != nil {
		return err
	}
	mode := caps.Mode()
	if err := st.engine.Reconfigure(mode); err != nil {
		return fmt.Errorf("render target: %w", err)
	}
	if err := st.output.Negotiate(mode); err != nil {
		st.engine.Reconfigure(st.output.Mode())
		return err
	}
	if err := st.bridge.SetCaps(caps); err != nil {
		return err
	}
	flushed := c.queue.Flush()
	st.ticker.Reset(mode.FrameInterval())
	st.server.ModeChanged()
	c.updateStats(st, nil)
	c.log.Info("Output reconfigured", "caps", caps, "flushed", flushed)
	return nil
}

func (c *Compositor) fail(err error) {
	c.err = err
	c.log.Error("Compositor loop failed", "err", err)
}

func (c *Compositor) updateStats(st *state, buf *bridge.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Seq = st.engine.Seq()
	c.stats.Mode = st.output.Mode()
	c.stats.Caps = st.bridge.Caps()
	c.stats.Clients = st.server.Clients()
	if buf != nil {
		c.last = buf
	}
}

func (c *Compositor) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrStopped
	}
}

// AddInput attaches an evdev node on the loop.
func (c *Compositor) AddInput(path string) error {
	return c.send(command{kind: cmdAddInput, path: path})
}

// SetCaps renegotiates output, render target and export format.
func (c *Compositor) SetCaps(caps bridge.Caps) error {
	return c.send(command{kind: cmdSetCaps, caps: caps})
}

// Frames is the queue exported buffers are delivered on.
func (c *Compositor) Frames() *queue.Queue[*bridge.Buffer] {
	return c.queue
}

// Registry is the device registry computed at startup.
func (c *Compositor) Registry() *devices.Registry {
	return c.registry
}

// Done is closed when the loop has exited.
func (c *Compositor) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the loop, nil after a requested stop.
func (c *Compositor) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Stats returns the latest counters.
func (c *Compositor) Stats() Stats {
	c.mu.Lock()
	s, last := c.stats, c.last
	c.mu.Unlock()
	if last != nil {
		s.Digest = last.Digest()
	}
	s.Queue = c.queue.Stats()
	s.Inputs = c.injector.Devices()
	return s
}

// Stop asks the loop to exit and waits up to timeout for it. The queue is
// closed first so a producer blocked on it is released.
func (c *Compositor) Stop(timeout time.Duration) error {
	c.quitOnce.Do(func() {
		close(c.quit)
		c.queue.Close()
	})
	if timeout <= 0 {
		<-c.done
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return nil
	case <-t.C:
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}
