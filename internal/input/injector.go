// Package input reads evdev device nodes and turns their event streams into
// seat events for the compositor.
package input

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/bnema/waydisplay/internal/logger"
	evdev "github.com/gvalkov/golang-evdev"
)

// ErrDevice is returned when a node cannot be opened, classified, or is
// already attached.
var ErrDevice = errors.New("input device error")

// Injector owns the added devices and their reader goroutines. Frames from
// every device are delivered on a single channel; per-device order is kept.
type Injector struct {
	mu      sync.Mutex
	devices map[string]*Device
	order   []string
	closed  bool

	frames chan Frame
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewInjector returns an injector whose frame channel buffers up to
// backlog frames.
func NewInjector(backlog int) *Injector {
	return &Injector{
		devices: make(map[string]*Device),
		frames:  make(chan Frame, backlog),
		done:    make(chan struct{}),
	}
}

// Frames is consumed by the compositor loop.
func (i *Injector) Frames() <-chan Frame {
	return i.frames
}

// Add opens path, classifies it and starts forwarding its events. Stable
// udev links are accepted and deduplicated against the node they name. On
// error the injector is left as it was.
func (i *Injector) Add(path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return fmt.Errorf("%w: injector closed", ErrDevice)
	}
	node, err := ResolveLink(path)
	if err != nil {
		return err
	}
	if _, ok := i.devices[node]; ok {
		return fmt.Errorf("%w: %s already added", ErrDevice, path)
	}

	dev, err := evdev.Open(node)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrDevice, path, err)
	}
	kinds := Classify(dev.CapabilitiesFlat)
	if kinds == 0 {
		dev.File.Close()
		return fmt.Errorf("%w: %s (%s) is not a pointer, keyboard or touch device", ErrDevice, path, dev.Name)
	}

	abs := make(map[uint16]absRange)
	for _, axis := range absAxes {
		if r, err := readAbsRange(dev.File.Fd(), axis); err == nil {
			abs[axis] = r
		}
	}
	if err := pollable(dev); err != nil {
		dev.File.Close()
		return fmt.Errorf("%w: %s: %v", ErrDevice, path, err)
	}

	i.start(node, &Device{path: path, name: dev.Name, kinds: kinds, dev: dev, abs: abs})

	logger.Info("Input device added", "path", path, "name", dev.Name, "kinds", kinds)
	return nil
}

// start registers d under node and runs its reader. Callers hold i.mu.
func (i *Injector) start(node string, d *Device) {
	i.devices[node] = d
	i.order = append(i.order, node)

	i.wg.Add(1)
	go i.read(d)
}

// Devices lists the added devices in the order they were added.
func (i *Injector) Devices() []DeviceInfo {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]DeviceInfo, 0, len(i.order))
	for _, p := range i.order {
		out = append(out, i.devices[p].info())
	}
	return out
}

// Close stops every reader and waits for them to exit. The frame channel is
// closed afterwards.
func (i *Injector) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.done)
	for _, d := range i.devices {
		d.dev.File.Close()
	}
	i.mu.Unlock()

	i.wg.Wait()
	close(i.frames)
}

func (i *Injector) read(d *Device) {
	defer i.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Input reader panic for %s: %v", d.path, r)
			d.state.Store(int32(StateLost))
		}
	}()

	log := logger.With("device", d.path)
	log.Debug("Starting input reader")
	tr := newTranslator(d.kinds, d.abs)

	for {
		events, err := d.dev.Read()
		if err != nil {
			select {
			case <-i.done:
				return
			default:
			}
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if errors.Is(err, os.ErrClosed) {
				return
			}
			d.state.Store(int32(StateLost))
			log.Warn("Input device lost, forwarding disabled", "err", err)
			return
		}

		for _, ev := range events {
			out, ok := tr.feed(ev)
			if !ok {
				continue
			}
			select {
			case i.frames <- Frame{Device: d.path, Time: time.Now(), Events: out}:
			case <-i.done:
				return
			}
		}
	}
}
