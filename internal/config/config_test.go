package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/waydisplay/internal/bridge"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		viper.Reset()
		SetConfigPath("")

		oldWd, _ := os.Getwd()
		require.NoError(t, os.Chdir(t.TempDir()))
		defer os.Chdir(oldWd)
		t.Setenv("HOME", t.TempDir())

		require.NoError(t, Init())

		c := Get()
		require.NotNil(t, c)
		assert.Equal(t, "/dev/dri/renderD128", c.Display.RenderNode)
		assert.Equal(t, 1, c.Queue.Capacity)
		assert.Equal(t, "RGBx", c.Display.Format)
		assert.Equal(t, 5*time.Second, c.Display.ShutdownTimeout)
	})

	t.Run("reads overrides from an explicit file", func(t *testing.T) {
		viper.Reset()
		path := filepath.Join(t.TempDir(), "waydisplay.toml")
		content := `[display]
render_node = "software"
width = 1280
height = 720
shutdown_timeout = "2s"

[queue]
capacity = 3
block_producer = true
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		SetConfigPath(path)
		defer SetConfigPath("")

		require.NoError(t, Init())

		c := Get()
		assert.Equal(t, "software", c.Display.RenderNode)
		assert.Equal(t, 1280, c.Display.Width)
		assert.Equal(t, 720, c.Display.Height)
		assert.Equal(t, 2*time.Second, c.Display.ShutdownTimeout)
		assert.Equal(t, 3, c.Queue.Capacity)
		assert.True(t, c.Queue.BlockProducer)
		assert.Equal(t, path, GetConfigPath())
	})

	t.Run("rejects invalid TOML", func(t *testing.T) {
		viper.Reset()
		path := filepath.Join(t.TempDir(), "waydisplay.toml")
		require.NoError(t, os.WriteFile(path, []byte("[display\nwidth = 1"), 0644))
		SetConfigPath(path)
		defer SetConfigPath("")

		assert.Error(t, Init())
	})

	t.Run("rejects a zero queue capacity", func(t *testing.T) {
		viper.Reset()
		path := filepath.Join(t.TempDir(), "waydisplay.toml")
		require.NoError(t, os.WriteFile(path, []byte("[queue]\ncapacity = 0\n"), 0644))
		SetConfigPath(path)
		defer SetConfigPath("")

		err := Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue.capacity")
	})
}

func TestResolveRuntimeDir(t *testing.T) {
	tests := []struct {
		name    string
		cfgDir  string
		envDir  string
		want    string
		wantErr bool
	}{
		{name: "config wins", cfgDir: "/custom", envDir: "/run/user/1000", want: "/custom"},
		{name: "environment fallback", envDir: "/run/user/1000", want: "/run/user/1000"},
		{name: "nothing set", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_RUNTIME_DIR", tt.envDir)
			dc := DisplayConfig{RuntimeDir: tt.cfgDir}
			got, err := dc.ResolveRuntimeDir()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisplayCaps(t *testing.T) {
	tests := []struct {
		name    string
		display DisplayConfig
		want    bridge.Caps
		wantErr bool
	}{
		{
			name:    "defaults",
			display: DefaultConfig.Display,
			want:    bridge.Caps{Width: 1920, Height: 1080, Format: bridge.RGBx, FramerateNum: 60, FramerateDen: 1},
		},
		{
			name:    "fractional rate",
			display: DisplayConfig{Width: 1280, Height: 720, Format: "BGRx", Framerate: "30000/1001"},
			want:    bridge.Caps{Width: 1280, Height: 720, Format: bridge.BGRx, FramerateNum: 30000, FramerateDen: 1001},
		},
		{name: "bad rate", display: DisplayConfig{Width: 1, Height: 1, Format: "RGBx", Framerate: "fast"}, wantErr: true},
		{name: "bad format", display: DisplayConfig{Width: 1, Height: 1, Format: "I420", Framerate: "30"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.display.Caps()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
