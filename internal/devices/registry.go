// Package devices lists the GPU device nodes and environment a client
// process needs to talk to the compositor.
package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Role of a DRM node.
type Role string

const (
	RoleRender  Role = "render"
	RolePrimary Role = "primary"
)

// Entry is one device node a client should be given access to.
type Entry struct {
	Path   string
	Role   Role
	Vendor string // PCI vendor id from sysfs, e.g. "0x8086"; empty if unknown
}

// Registry is the immutable result of discovery.
type Registry struct {
	entries []Entry
	env     []string
}

// Roots locate sysfs and /dev. Tests point them at fixture trees.
type Roots struct {
	Sys string
	Dev string
}

// DefaultRoots are the live system paths.
var DefaultRoots = Roots{Sys: "/sys", Dev: "/dev"}

// Discover builds the registry for a render node. A software node yields no
// device entries.
func Discover(renderNode, socketName, runtimeDir string) (*Registry, error) {
	entries, err := DiscoverNodes(renderNode, DefaultRoots)
	if err != nil {
		return nil, err
	}
	return &Registry{entries: entries, env: Env(socketName, runtimeDir)}, nil
}

// DiscoverNodes returns the render node followed by the primary node of the
// same DRM device.
func DiscoverNodes(renderNode string, roots Roots) ([]Entry, error) {
	if renderNode == "" || renderNode == "software" {
		return []Entry{}, nil
	}

	var st unix.Stat_t
	if err := unix.Stat(renderNode, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", renderNode, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%s is not a character device", renderNode)
	}
	return nodesFor(renderNode, unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)), roots)
}

func nodesFor(renderNode string, major, minor uint32, roots Roots) ([]Entry, error) {
	devDir := filepath.Join(roots.Sys, "dev", "char", fmt.Sprintf("%d:%d", major, minor), "device")
	vendor := readTrimmed(filepath.Join(devDir, "vendor"))

	entries := []Entry{{Path: renderNode, Role: RoleRender, Vendor: vendor}}
	seen := map[string]bool{renderNode: true}
	if resolved, err := filepath.EvalSymlinks(renderNode); err == nil {
		seen[resolved] = true
	}

	names, err := os.ReadDir(filepath.Join(devDir, "drm"))
	if err != nil {
		// No sysfs view of the device; the render node alone still works.
		return entries, nil
	}

	var cards []string
	for _, n := range names {
		if strings.HasPrefix(n.Name(), "card") {
			cards = append(cards, n.Name())
		}
	}
	sort.Strings(cards)
	for _, c := range cards {
		p := filepath.Join(roots.Dev, "dri", c)
		if seen[p] {
			continue
		}
		seen[p] = true
		entries = append(entries, Entry{Path: p, Role: RolePrimary, Vendor: vendor})
	}
	return entries, nil
}

// Env returns the ordered KEY=VALUE bindings a client needs to connect.
func Env(socketName, runtimeDir string) []string {
	return []string{
		"WAYLAND_DISPLAY=" + socketName,
		"XDG_RUNTIME_DIR=" + runtimeDir,
	}
}

// Entries returns a copy of the discovered nodes.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Paths returns the node paths in registry order.
func (r *Registry) Paths() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Path)
	}
	return out
}

// Env returns a copy of the environment bindings.
func (r *Registry) Env() []string {
	out := make([]string, len(r.env))
	copy(out, r.env)
	return out
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
