package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs root with args and returns what it printed.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// isolate points HOME and the working directory at empty temp dirs so no
// real config file is picked up.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	viper.Reset()
	configPath = ""
}

func TestConfigInit(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "waydisplay", "waydisplay.toml")

	t.Run("creates config file when it doesn't exist", func(t *testing.T) {
		viper.Reset()
		_, err := executeCommand(rootCmd, "--config", path, "config", "init")
		require.NoError(t, err)
		assert.FileExists(t, path)
	})

	t.Run("doesn't overwrite existing config without force", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("# mine\n"), 0644))
		viper.Reset()

		_, err := executeCommand(rootCmd, "--config", path, "config", "init")
		require.NoError(t, err)
		content, _ := os.ReadFile(path)
		assert.Equal(t, "# mine\n", string(content))
	})

	t.Run("overwrites with force flag", func(t *testing.T) {
		viper.Reset()

		_, err := executeCommand(rootCmd, "--config", path, "config", "init", "--force")
		require.NoError(t, err)
		content, _ := os.ReadFile(path)
		assert.Contains(t, string(content), "render_node")
	})
}

func TestConfigShow(t *testing.T) {
	isolate(t)

	out, err := executeCommand(rootCmd, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/dri/renderD128")
	assert.Contains(t, out, "1920x1080")
	assert.Contains(t, out, "$XDG_RUNTIME_DIR")
}

func TestConfigPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[queue]\ncapacity = 2\n"), 0644))

	out, err := executeCommand(rootCmd, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))
}

func TestInvalidConfigFails(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[display\nwidth = 1"), 0644))

	_, err := executeCommand(rootCmd, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestVersion(t *testing.T) {
	isolate(t)

	out, err := executeCommand(rootCmd, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "waydisplay "+Version)
}
