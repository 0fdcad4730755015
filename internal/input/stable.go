package input

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	evdev "github.com/gvalkov/golang-evdev"
)

// DefaultInputDir is where the kernel exposes evdev nodes.
const DefaultInputDir = "/dev/input"

// Candidate is an evdev node that could be added to a display.
type Candidate struct {
	Path   string
	Name   string
	Kinds  Kind
	Stable string // by-id or by-path link, empty when udev created none
}

// StableLink returns the udev link under dir that resolves to eventPath,
// preferring by-id over by-path. Links survive replugging while eventN
// numbers do not.
func StableLink(dir, eventPath string) string {
	event := filepath.Base(eventPath)
	for _, sub := range []string{"by-id", "by-path"} {
		linkDir := filepath.Join(dir, sub)
		entries, err := os.ReadDir(linkDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.Contains(e.Name(), "event") {
				continue
			}
			link := filepath.Join(linkDir, e.Name())
			target, err := os.Readlink(link)
			if err == nil && filepath.Base(target) == event {
				return link
			}
		}
	}
	return ""
}

// ResolveLink follows a stable link to the event node it currently names.
// Plain event paths are returned unchanged.
func ResolveLink(path string) (string, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDevice, err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return path, nil
	}
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDevice, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Clean(target), nil
}

// Candidates lists the readable evdev nodes in dir that provide at least
// one seat capability. Nodes the caller may not open are skipped.
func Candidates(dir string) ([]Candidate, error) {
	devs, err := evdev.ListInputDevices(filepath.Join(dir, "event*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list input devices: %w", err)
	}

	var out []Candidate
	for _, dev := range devs {
		kinds := Classify(dev.CapabilitiesFlat)
		dev.File.Close()
		if kinds == 0 {
			continue
		}
		out = append(out, Candidate{
			Path:   dev.Fn,
			Name:   dev.Name,
			Kinds:  kinds,
			Stable: StableLink(dir, dev.Fn),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
