// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/waydisplay/internal/bridge"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Display DisplayConfig `mapstructure:"display"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Input   InputConfig   `mapstructure:"input"`
	IPC     IPCConfig     `mapstructure:"ipc"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DisplayConfig contains compositor and output settings
type DisplayConfig struct {
	// RenderNode is a DRM render node path or "software"
	RenderNode   string `mapstructure:"render_node"`
	RuntimeDir   string `mapstructure:"runtime_dir"`   // Empty means $XDG_RUNTIME_DIR
	SocketPrefix string `mapstructure:"socket_prefix"` // Socket names are <prefix>-<n>

	// Default caps used until the first accepted video info
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	Format    string `mapstructure:"format"`
	Framerate string `mapstructure:"framerate"` // "num/den"

	InitTimeout     time.Duration `mapstructure:"init_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig contains frame hand-off settings
type QueueConfig struct {
	Capacity      int  `mapstructure:"capacity"`
	BlockProducer bool `mapstructure:"block_producer"`
}

// InputConfig lists evdev nodes added on startup by the run command
type InputConfig struct {
	Devices []string `mapstructure:"devices"`
}

// IPCConfig contains control socket settings
type IPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Display: DisplayConfig{
			RenderNode:      "/dev/dri/renderD128",
			RuntimeDir:      "",
			SocketPrefix:    "wayland",
			Width:           1920,
			Height:          1080,
			Format:          "RGBx",
			Framerate:       "60/1",
			InitTimeout:     5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Capacity:      1,
			BlockProducer: false,
		},
		Input: InputConfig{
			Devices: []string{},
		},
		IPC: IPCConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("waydisplay")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath("/etc/waydisplay")
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "waydisplay"))
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("WAYDISPLAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("display.render_node", DefaultConfig.Display.RenderNode)
	viper.SetDefault("display.runtime_dir", DefaultConfig.Display.RuntimeDir)
	viper.SetDefault("display.socket_prefix", DefaultConfig.Display.SocketPrefix)
	viper.SetDefault("display.width", DefaultConfig.Display.Width)
	viper.SetDefault("display.height", DefaultConfig.Display.Height)
	viper.SetDefault("display.format", DefaultConfig.Display.Format)
	viper.SetDefault("display.framerate", DefaultConfig.Display.Framerate)
	viper.SetDefault("display.init_timeout", DefaultConfig.Display.InitTimeout)
	viper.SetDefault("display.shutdown_timeout", DefaultConfig.Display.ShutdownTimeout)

	viper.SetDefault("queue.capacity", DefaultConfig.Queue.Capacity)
	viper.SetDefault("queue.block_producer", DefaultConfig.Queue.BlockProducer)

	viper.SetDefault("input.devices", DefaultConfig.Input.Devices)

	viper.SetDefault("ipc.enabled", DefaultConfig.IPC.Enabled)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	// A missing file, searched or explicit, means defaults.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	return nil
}

// Validate checks values that would otherwise only fail deep inside the
// compositor.
func (c *Config) Validate() error {
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1, got %d", c.Queue.Capacity)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.ShutdownTimeout <= 0 {
		return fmt.Errorf("display.shutdown_timeout must be positive")
	}
	if c.Display.InitTimeout <= 0 {
		return fmt.Errorf("display.init_timeout must be positive")
	}
	if c.Display.SocketPrefix == "" {
		return fmt.Errorf("display.socket_prefix must not be empty")
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		d := DefaultConfig
		return &d
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if os.Getuid() == 0 {
		return "/etc/waydisplay/waydisplay.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/waydisplay/waydisplay.toml"
	}

	return filepath.Join(home, ".config", "waydisplay", "waydisplay.toml")
}

// ResolveRuntimeDir returns the directory holding the display socket and its lock.
func (c *DisplayConfig) ResolveRuntimeDir() (string, error) {
	if c.RuntimeDir != "" {
		return c.RuntimeDir, nil
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR not set in the environment and display.runtime_dir is empty")
	}
	return dir, nil
}

// Caps returns the default video info described by the display section.
func (c *DisplayConfig) Caps() (bridge.Caps, error) {
	num, den, err := bridge.ParseFramerate(c.Framerate)
	if err != nil {
		return bridge.Caps{}, err
	}
	caps := bridge.Caps{
		Width:        c.Width,
		Height:       c.Height,
		Format:       bridge.Format(c.Format),
		FramerateNum: num,
		FramerateDen: den,
	}
	if err := caps.Validate(); err != nil {
		return bridge.Caps{}, fmt.Errorf("display section: %w", err)
	}
	return caps, nil
}
