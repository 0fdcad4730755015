package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs lays out /sys/dev/char/226:128/device with the given drm children.
func fakeSysfs(t *testing.T, vendor string, drm ...string) Roots {
	t.Helper()
	root := t.TempDir()
	dev := filepath.Join(root, "sys", "dev", "char", "226:128", "device")
	require.NoError(t, os.MkdirAll(filepath.Join(dev, "drm"), 0755))
	for _, n := range drm {
		require.NoError(t, os.MkdirAll(filepath.Join(dev, "drm", n), 0755))
	}
	if vendor != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dev, "vendor"), []byte(vendor+"\n"), 0644))
	}
	return Roots{Sys: filepath.Join(root, "sys"), Dev: "/dev"}
}

func TestNodesFor(t *testing.T) {
	tests := []struct {
		name   string
		drm    []string
		vendor string
		want   []Entry
	}{
		{
			name:   "render and card",
			drm:    []string{"renderD128", "card1"},
			vendor: "0x1002",
			want: []Entry{
				{Path: "/dev/dri/renderD128", Role: RoleRender, Vendor: "0x1002"},
				{Path: "/dev/dri/card1", Role: RolePrimary, Vendor: "0x1002"},
			},
		},
		{
			name: "render only",
			drm:  []string{"renderD128"},
			want: []Entry{{Path: "/dev/dri/renderD128", Role: RoleRender}},
		},
		{
			name:   "cards sorted",
			drm:    []string{"card2", "renderD128", "card0"},
			vendor: "0x8086",
			want: []Entry{
				{Path: "/dev/dri/renderD128", Role: RoleRender, Vendor: "0x8086"},
				{Path: "/dev/dri/card0", Role: RolePrimary, Vendor: "0x8086"},
				{Path: "/dev/dri/card2", Role: RolePrimary, Vendor: "0x8086"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roots := fakeSysfs(t, tt.vendor, tt.drm...)
			got, err := nodesFor("/dev/dri/renderD128", 226, 128, roots)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := nodesFor("/dev/dri/renderD128", 226, 128, roots)
			require.NoError(t, err)
			assert.Equal(t, got, again, "discovery must be stable")
		})
	}
}

func TestNodesForWithoutSysfs(t *testing.T) {
	got, err := nodesFor("/dev/dri/renderD129", 226, 129, Roots{Sys: t.TempDir(), Dev: "/dev"})
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Path: "/dev/dri/renderD129", Role: RoleRender}}, got)
}

func TestSoftwareHasNoNodes(t *testing.T) {
	reg, err := Discover("software", "wayland-1", "/run/user/1000")
	require.NoError(t, err)
	assert.Empty(t, reg.Paths())
	assert.Equal(t, []string{"WAYLAND_DISPLAY=wayland-1", "XDG_RUNTIME_DIR=/run/user/1000"}, reg.Env())
}

func TestRegistryCopies(t *testing.T) {
	reg := &Registry{
		entries: []Entry{{Path: "/dev/dri/renderD128", Role: RoleRender}},
		env:     Env("wayland-2", "/tmp/rt"),
	}
	env := reg.Env()
	env[0] = "mutated"
	assert.Equal(t, "WAYLAND_DISPLAY=wayland-2", reg.Env()[0])

	paths := reg.Paths()
	paths[0] = "mutated"
	assert.Equal(t, "/dev/dri/renderD128", reg.Paths()[0])
}

func TestDiscoverRejectsRegularFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "not-a-node")
	require.NoError(t, os.WriteFile(f, nil, 0644))
	_, err := DiscoverNodes(f, DefaultRoots)
	assert.Error(t, err)
}

func TestDiscoverRenderNode(t *testing.T) {
	const node = "/dev/dri/renderD128"
	if _, err := os.Stat(node); err != nil {
		t.Skipf("%s not available", node)
	}
	entries, err := DiscoverNodes(node, DefaultRoots)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, node, entries[0].Path)
	assert.Equal(t, RoleRender, entries[0].Role)
}
