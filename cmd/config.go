package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/bnema/waydisplay/internal/config"
	"github.com/bnema/waydisplay/internal/logger"
	"github.com/bnema/waydisplay/internal/ui"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage waydisplay configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, ui.FormatField("config file", config.GetConfigPath()))
		fmt.Fprintln(out)

		fmt.Fprintln(out, ui.FormatHeader("[display]"))
		fmt.Fprintln(out, ui.FormatField("render_node", cfg.Display.RenderNode))
		fmt.Fprintln(out, ui.FormatField("runtime_dir", orDefault(cfg.Display.RuntimeDir, "$XDG_RUNTIME_DIR")))
		fmt.Fprintln(out, ui.FormatField("socket_prefix", cfg.Display.SocketPrefix))
		fmt.Fprintln(out, ui.FormatField("size", fmt.Sprintf("%dx%d", cfg.Display.Width, cfg.Display.Height)))
		fmt.Fprintln(out, ui.FormatField("format", cfg.Display.Format))
		fmt.Fprintln(out, ui.FormatField("framerate", cfg.Display.Framerate))
		fmt.Fprintln(out, ui.FormatField("init_timeout", cfg.Display.InitTimeout))
		fmt.Fprintln(out, ui.FormatField("shutdown", cfg.Display.ShutdownTimeout))

		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.FormatHeader("[queue]"))
		fmt.Fprintln(out, ui.FormatField("capacity", cfg.Queue.Capacity))
		fmt.Fprintln(out, ui.FormatField("block", cfg.Queue.BlockProducer))

		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.FormatHeader("[input]"))
		if len(cfg.Input.Devices) == 0 {
			fmt.Fprintln(out, ui.FormatListItem("no devices", true))
		}
		for _, d := range cfg.Input.Devices {
			fmt.Fprintln(out, ui.FormatListItem(d, false))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.FormatHeader("[ipc] [logging]"))
		fmt.Fprintln(out, ui.FormatField("ipc", cfg.IPC.Enabled))
		fmt.Fprintln(out, ui.FormatField("log_level", orDefault(cfg.Logging.LogLevel, "$LOG_LEVEL")))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetConfigPath()
		if _, err := os.Stat(path); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", path)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return err
		}

		logger.Infof("Configuration initialized at: %s", path)
		return nil
	},
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
