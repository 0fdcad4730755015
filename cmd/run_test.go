package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bnema/waydisplay/display"
	"github.com/bnema/waydisplay/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// softwareConfig writes a config running the software renderer in a private
// runtime dir.
func softwareConfig(t *testing.T) (path, runtimeDir string) {
	t.Helper()
	runtimeDir = t.TempDir()
	path = filepath.Join(t.TempDir(), "waydisplay.toml")
	content := fmt.Sprintf(`[display]
render_node = "software"
runtime_dir = %q
width = 64
height = 48
format = "BGRx"
framerate = "120/1"

[ipc]
enabled = false
`, runtimeDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path, runtimeDir
}

func TestRunPullsFramesAndSnapshots(t *testing.T) {
	isolate(t)
	path, runtimeDir := softwareConfig(t)
	snapshots := t.TempDir()
	t.Cleanup(func() {
		snapshotDir, snapshotEvery, maxFrames = "", 60, 0
	})

	out, err := executeCommand(rootCmd, "--config", path, "run",
		"--frames", "4", "--snapshot-dir", snapshots, "--snapshot-every", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "WAYLAND_DISPLAY=wayland-1")
	assert.Contains(t, out, "XDG_RUNTIME_DIR="+runtimeDir)

	pngs, err := filepath.Glob(filepath.Join(snapshots, "frame-*.png"))
	require.NoError(t, err)
	assert.Len(t, pngs, 2)

	// The display is gone once run returns.
	_, err = os.Stat(filepath.Join(runtimeDir, "wayland-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunRejectsBadCaps(t *testing.T) {
	isolate(t)
	path, _ := softwareConfig(t)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(content), `"BGRx"`, `"NV12"`, 1)), 0644))

	_, err = executeCommand(rootCmd, "--config", path, "run", "--frames", "1")
	assert.Error(t, err)
}

func TestStatusQueriesRunningDisplay(t *testing.T) {
	isolate(t)
	path, runtimeDir := softwareConfig(t)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	d, err := display.Init("software", display.WithRuntimeDir(runtimeDir))
	require.NoError(t, err)
	defer d.Finish()
	_, err = d.Frame()
	require.NoError(t, err)

	srv := ipc.NewSocketServer(ipc.SocketPath(runtimeDir, "wayland-1"), &statusHandler{d: d})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	out, err := executeCommand(rootCmd, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Display wayland-1")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "format=RGBx")
}

func TestStatusWithoutDisplays(t *testing.T) {
	isolate(t)
	path, runtimeDir := softwareConfig(t)

	out, err := executeCommand(rootCmd, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "no display running in "+runtimeDir)
}

func TestDevicesSoftware(t *testing.T) {
	isolate(t)

	out, err := executeCommand(rootCmd, "devices", "software")
	require.NoError(t, err)
	assert.Contains(t, out, "none (software rendering)")
}

func TestInputsEmptyDir(t *testing.T) {
	isolate(t)
	old := inputDir
	inputDir = t.TempDir()
	t.Cleanup(func() { inputDir = old })

	out, err := executeCommand(rootCmd, "inputs")
	require.NoError(t, err)
	assert.Contains(t, out, "none readable")
}
