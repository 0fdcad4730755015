// Package display embeds a headless Wayland compositor. Clients connect to
// its private socket, their surfaces are composited onto one virtual output,
// and the result is handed out frame by frame as raw video buffers.
//
//	d, err := display.Init("/dev/dri/renderD128")
//	if err != nil {
//		return err
//	}
//	defer d.Finish()
//	env, _ := d.EnvVars() // WAYLAND_DISPLAY, XDG_RUNTIME_DIR for the client
//	for {
//		buf, err := d.Frame()
//		if errors.Is(err, display.ErrTerminated) {
//			return nil
//		}
//		...
//	}
package display

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/waydisplay/internal/bridge"
	"github.com/bnema/waydisplay/internal/compositor"
	"github.com/bnema/waydisplay/internal/input"
	"github.com/bnema/waydisplay/internal/logger"
)

// Buffer is one exported frame. The caller owns it.
type Buffer = bridge.Buffer

// VideoInfo is the raw video description frames are produced in.
type VideoInfo = bridge.Caps

// Format is a raw video format name such as "RGBx".
type Format = bridge.Format

// Formats lists the formats SetVideoInfo accepts, in preference order.
func Formats() []Format {
	return bridge.Formats()
}

// InputDevice describes an added input device.
type InputDevice struct {
	Path  string
	Name  string
	Kinds string
	Lost  bool
}

// Stats is a status snapshot.
type Stats struct {
	State     State
	Socket    string
	VideoInfo VideoInfo
	Sequence  uint64
	Pushed    uint64
	Dropped   uint64
	Flushed   uint64
	Queued    int
	Clients   int
	Inputs    []InputDevice
	// Digest of the newest frame, empty before the first one.
	Digest string
}

// Display is a running compositor instance. All methods are safe for
// concurrent use.
type Display struct {
	opts options
	comp *compositor.Compositor

	// devices and env are computed once during Init.
	devices []string
	env     []string
	socket  string

	mu     sync.Mutex
	state  State
	fatal  error
	finish sync.Once
	// finished is closed once Finish has settled the final state.
	finished chan struct{}
}

// Init starts a compositor rendering for renderNode, a DRM render node path
// or "software". It returns once the first frame has been produced.
func Init(renderNode string, opts ...Option) (*Display, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Display{opts: o, state: StateInitializing, finished: make(chan struct{})}

	if err := o.caps.Validate(); err != nil {
		return nil, fmt.Errorf("%w: default video info: %w", ErrInitialization, err)
	}

	comp, err := startWithin(compositor.Options{
		RenderNode:    renderNode,
		RuntimeDir:    o.runtimeDir,
		SocketPrefix:  o.socketPrefix,
		Caps:          o.caps,
		QueueCapacity: o.queueCapacity,
		BlockProducer: o.blockProducer,
		InputBacklog:  o.inputBacklog,
		Check:         o.healthCheck,
	}, o.initTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	d.comp = comp
	d.devices = comp.Registry().Paths()
	d.env = comp.Registry().Env()
	d.socket = socketFromEnv(d.env)
	d.state = StateRunning
	go d.watch()

	logger.Info("Display initialized", "node", renderNode, "socket", d.socket, "caps", o.caps)
	return d, nil
}

// startWithin bounds compositor startup. A compositor that comes up after
// the deadline is stopped again.
func startWithin(opts compositor.Options, timeout time.Duration) (*compositor.Compositor, error) {
	if timeout <= 0 {
		return compositor.Start(opts)
	}
	type result struct {
		c   *compositor.Compositor
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := compositor.Start(opts)
		ch <- result{c, err}
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-ch:
		return r.c, r.err
	case <-t.C:
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Stop(0)
			}
		}()
		return nil, fmt.Errorf("no frame rendered within %s", timeout)
	}
}

// watch moves the display to ErrorStopped when the loop dies on its own.
func (d *Display) watch() {
	<-d.comp.Done()
	err := d.comp.Err()
	if err == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Terminal() {
		return
	}
	d.fatal = err
	d.state = StateErrorStopped
	logger.Error("Display stopped on a fatal error", "err", err)
}

// State returns the current lifecycle state.
func (d *Display) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Display) requireLive(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveLocked(op)
}

func (d *Display) liveLocked(op string) error {
	if d.state.Live() {
		return nil
	}
	if d.fatal != nil {
		return fmt.Errorf("%w: %s after fatal error: %w", ErrInvalidState, op, d.fatal)
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, d.state)
}

// AddInputDevice attaches an evdev node; its events drive the seat.
func (d *Display) AddInputDevice(path string) error {
	if err := d.requireLive("add input device"); err != nil {
		return err
	}
	err := d.comp.AddInput(path)
	switch {
	case err == nil:
		logger.Info("Input device added", "path", path)
		return nil
	case errors.Is(err, compositor.ErrStopped):
		return d.requireLive("add input device")
	default:
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}
}

// SetVideoInfo switches every subsequent frame to info. Rejected info
// leaves the current caps in place.
func (d *Display) SetVideoInfo(info VideoInfo) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	d.mu.Lock()
	if err := d.liveLocked("set video info"); err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = StateReconfiguring
	d.mu.Unlock()

	err := d.comp.SetCaps(info)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateReconfiguring {
		d.state = StateRunning
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, compositor.ErrStopped):
		return d.liveLocked("set video info")
	default:
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
}

// Devices returns the device nodes a client needs access to.
func (d *Display) Devices() ([]string, error) {
	if err := d.requireLive("list devices"); err != nil {
		return nil, err
	}
	return append([]string(nil), d.devices...), nil
}

// EnvVars returns the KEY=VALUE bindings a client needs to connect.
func (d *Display) EnvVars() ([]string, error) {
	if err := d.requireLive("list environment"); err != nil {
		return nil, err
	}
	return append([]string(nil), d.env...), nil
}

// Frame blocks until the next frame is ready. It keeps blocking across a
// reconfiguration and returns ErrTerminated once the display is finished
// or has failed.
func (d *Display) Frame() (*Buffer, error) {
	d.mu.Lock()
	state, fatal := d.state, d.fatal
	d.mu.Unlock()
	if !state.Live() {
		return nil, terminated(state, fatal)
	}

	buf, ok := d.comp.Frames().Pop()
	if ok {
		return buf, nil
	}
	// The queue closes during teardown, before the loop error is
	// published. A Finish that times out never sees the loop exit.
	select {
	case <-d.comp.Done():
	case <-d.finished:
	}
	d.mu.Lock()
	state, fatal = d.state, d.fatal
	d.mu.Unlock()
	if fatal == nil {
		fatal = d.comp.Err()
	}
	return nil, terminated(state, fatal)
}

func terminated(state State, fatal error) error {
	if fatal != nil {
		return fmt.Errorf("%w: %w: %w", ErrTerminated, ErrFatalRuntime, fatal)
	}
	return fmt.Errorf("%w (%s)", ErrTerminated, state)
}

// Finish stops the compositor, releases blocked Frame callers and removes
// the socket. Calling it again is a no-op.
func (d *Display) Finish() error {
	var err error
	d.finish.Do(func() {
		defer close(d.finished)
		d.mu.Lock()
		if d.state == StateErrorStopped {
			d.mu.Unlock()
			// The loop already exited; wait for it to release everything.
			d.comp.Stop(0)
			return
		}
		d.state = StateShuttingDown
		d.mu.Unlock()

		stopErr := d.comp.Stop(d.opts.shutdownTimeout)

		d.mu.Lock()
		defer d.mu.Unlock()
		if stopErr != nil {
			d.state = StateErrorStopped
			d.fatal = stopErr
			err = fmt.Errorf("%w: %w", ErrFatalRuntime, stopErr)
			logger.Error("Display shutdown failed", "err", stopErr)
			return
		}
		d.state = StateStopped
		logger.Info("Display finished", "socket", d.socket)
	})
	return err
}

// Stats returns counters for status reporting.
func (d *Display) Stats() Stats {
	s := d.comp.Stats()
	return Stats{
		State:     d.State(),
		Socket:    d.socket,
		VideoInfo: s.Caps,
		Sequence:  s.Seq,
		Pushed:    s.Queue.Pushed,
		Dropped:   s.Queue.Dropped,
		Flushed:   s.Queue.Flushed,
		Queued:    s.Queue.Len,
		Clients:   s.Clients,
		Inputs:    inputDevices(s.Inputs),
		Digest:    s.Digest,
	}
}

func inputDevices(infos []input.DeviceInfo) []InputDevice {
	out := make([]InputDevice, 0, len(infos))
	for _, i := range infos {
		out = append(out, InputDevice{
			Path:  i.Path,
			Name:  i.Name,
			Kinds: i.Kinds.String(),
			Lost:  i.State == input.StateLost,
		})
	}
	return out
}

func socketFromEnv(env []string) string {
	for _, kv := range env {
		if name, ok := strings.CutPrefix(kv, "WAYLAND_DISPLAY="); ok {
			return name
		}
	}
	return ""
}
