package cmd

import (
	"fmt"

	"github.com/bnema/waydisplay/internal/config"
	"github.com/bnema/waydisplay/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "waydisplay",
		Short: "waydisplay - headless Wayland compositor for media pipelines",
		Long: `waydisplay runs a headless Wayland compositor on a private socket.
Clients connect with the printed WAYLAND_DISPLAY, their windows are composited
onto one virtual output, and every frame is handed out as a raw video buffer.
Input is injected from evdev device nodes.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search /etc/waydisplay, ~/.config/waydisplay, .)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	config.SetConfigPath(configPath)
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level := config.Get().Logging.LogLevel; level != "" {
		logger.SetLevel(level)
	}
	return nil
}
