// Package render composites the surface tree into full-output frames.
package render

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Software selects the CPU-only device instead of a DRM render node.
const Software = "software"

// drmMajor is the character device major of every DRM node.
const drmMajor = 226

// renderMinorBase is the first minor number used by render nodes. Lower
// minors are primary (card) nodes.
const renderMinorBase = 128

var (
	// ErrContextLost means the render device disappeared. It is not
	// recoverable.
	ErrContextLost = errors.New("render device lost")
	// ErrNotRenderNode is returned by Open for paths that are not DRM nodes.
	ErrNotRenderNode = errors.New("not a DRM render node")
)

// Device is the GPU node frames are rendered for.
type Device struct {
	path     string
	file     *os.File
	rdev     uint64
	software bool
}

// Open opens a DRM render node, or a software device when node is Software
// or empty.
func Open(node string) (*Device, error) {
	if node == "" || node == Software {
		return &Device{path: Software, software: true}, nil
	}

	f, err := os.OpenFile(node, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open render node %s: %w", node, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, fmt.Errorf("stat render node %s: %w", node, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR || unix.Major(uint64(st.Rdev)) != drmMajor {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotRenderNode, node)
	}
	if unix.Minor(uint64(st.Rdev)) < renderMinorBase {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a primary node", ErrNotRenderNode, node)
	}

	return &Device{path: node, file: f, rdev: uint64(st.Rdev)}, nil
}

// Path returns the node path or Software.
func (d *Device) Path() string {
	return d.path
}

// IsSoftware reports whether the device renders on the CPU only.
func (d *Device) IsSoftware() bool {
	return d.software
}

// Rdev returns the device number of the render node, zero for software.
func (d *Device) Rdev() uint64 {
	return d.rdev
}

// Check reports ErrContextLost once the node is closed or no longer refers
// to the device that was opened.
func (d *Device) Check() error {
	if d.IsSoftware() {
		return nil
	}
	if d.file == nil {
		return ErrContextLost
	}
	var st unix.Stat_t
	if err := unix.Stat(d.path, &st); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrContextLost, d.path, err)
	}
	if uint64(st.Rdev) != d.rdev {
		return fmt.Errorf("%w: %s now refers to another device", ErrContextLost, d.path)
	}
	return nil
}

// Close releases the node.
func (d *Device) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
