// Package vinput creates uinput virtual devices. They give the injector real
// evdev nodes to read from when no physical or pipeline-provided devices
// exist, which is how the run command smoke tests input end to end.
package vinput

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThomasT75/uinput"
	"github.com/bnema/waydisplay/internal/logger"
)

// DefaultUinput is the uinput control node.
const DefaultUinput = "/dev/uinput"

// ErrNodeNotFound is returned when the event node of a created device does
// not show up in time.
var ErrNodeNotFound = errors.New("event node not found")

// Roots locate sysfs and /dev.
type Roots struct {
	Sys string
	Dev string
}

// DefaultRoots are the live system paths.
var DefaultRoots = Roots{Sys: "/sys", Dev: "/dev"}

// Devices is a virtual mouse and keyboard pair.
type Devices struct {
	Mouse    uinput.Mouse
	Keyboard uinput.Keyboard

	MouseNode    string
	KeyboardNode string
}

// Create makes a mouse and a keyboard named "<name> Mouse" and
// "<name> Keyboard" and waits up to timeout for their event nodes.
func Create(uinputPath, name string, timeout time.Duration) (*Devices, error) {
	if uinputPath == "" {
		uinputPath = DefaultUinput
	}
	d := &Devices{}

	mouseName := name + " Mouse"
	mouse, err := uinput.CreateMouse(uinputPath, []byte(mouseName))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}
	d.Mouse = mouse

	keyboardName := name + " Keyboard"
	keyboard, err := uinput.CreateKeyboard(uinputPath, []byte(keyboardName))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}
	d.Keyboard = keyboard

	if d.MouseNode, err = WaitEventNode(DefaultRoots, mouseName, timeout); err != nil {
		d.Close()
		return nil, err
	}
	if d.KeyboardNode, err = WaitEventNode(DefaultRoots, keyboardName, timeout); err != nil {
		d.Close()
		return nil, err
	}

	logger.Debug("Virtual input devices created", "mouse", d.MouseNode, "keyboard", d.KeyboardNode)
	return d, nil
}

// Nodes returns the event node paths.
func (d *Devices) Nodes() []string {
	return []string{d.MouseNode, d.KeyboardNode}
}

// Close destroys both devices.
func (d *Devices) Close() error {
	var errs []error
	if d.Mouse != nil {
		errs = append(errs, d.Mouse.Close())
		d.Mouse = nil
	}
	if d.Keyboard != nil {
		errs = append(errs, d.Keyboard.Close())
		d.Keyboard = nil
	}
	return errors.Join(errs...)
}

// FindEventNode returns the /dev/input/eventN node of the input device
// called name, or "" if there is none.
func FindEventNode(roots Roots, name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(roots.Sys, "class", "input", "event*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		b, err := os.ReadFile(filepath.Join(m, "device", "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == name {
			return filepath.Join(roots.Dev, "input", filepath.Base(m)), nil
		}
	}
	return "", nil
}

// WaitEventNode polls FindEventNode until the node exists in /dev.
func WaitEventNode(roots Roots, name string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		node, err := FindEventNode(roots, name)
		if err != nil {
			return "", err
		}
		if node != "" {
			if _, err := os.Stat(node); err == nil {
				return node, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: %q after %s", ErrNodeNotFound, name, timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Nudge moves the pointer out and back, which is enough to see the cursor
// appear in the next frames.
func (d *Devices) Nudge(step int32) error {
	if d.Mouse == nil {
		return errors.New("mouse closed")
	}
	if err := d.Mouse.Move(step, step); err != nil {
		return fmt.Errorf("move virtual mouse: %w", err)
	}
	return d.Mouse.Move(-step, -step)
}

// Tap presses and releases an evdev key code on the virtual keyboard.
func (d *Devices) Tap(code int) error {
	if d.Keyboard == nil {
		return errors.New("keyboard closed")
	}
	return d.Keyboard.KeyPress(code)
}
