package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bnema/waydisplay/internal/config"
	"github.com/bnema/waydisplay/internal/ipc"
	"github.com/bnema/waydisplay/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [socket]",
	Short: "Show the status of running displays",
	Long: `Query the control socket of a running display. Without an argument every
display in the runtime directory is queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runtimeDir, err := config.Get().Display.ResolveRuntimeDir()
		if err != nil {
			return err
		}

		var paths []string
		if len(args) == 1 {
			paths = []string{ipc.SocketPath(runtimeDir, args[0])}
		} else {
			paths, err = filepath.Glob(filepath.Join(runtimeDir, "waydisplay-*.ctl"))
			if err != nil {
				return err
			}
			sort.Strings(paths)
		}

		out := cmd.OutOrStdout()
		if len(paths) == 0 {
			fmt.Fprintln(out, ui.FormatState("")+" no display running in "+runtimeDir)
			return nil
		}

		for i, path := range paths {
			if i > 0 {
				fmt.Fprintln(out)
			}
			status, err := ipc.NewClient(path).SendStatus()
			if err != nil {
				fmt.Fprintln(out, ui.FormatResult(false, filepath.Base(path), err.Error()))
				continue
			}
			printStatus(out, status)
		}
		return nil
	},
}

func printStatus(out io.Writer, s *ipc.Status) {
	fmt.Fprintln(out, ui.FormatHeader("Display "+s.Socket))
	fmt.Fprintln(out, ui.FormatField("state", ui.FormatState(s.State)))
	fmt.Fprintln(out, ui.FormatField("caps", s.Caps))
	fmt.Fprintln(out, ui.FormatField("frames", fmt.Sprintf("%d rendered, %d queued, %d dropped", s.Sequence, s.Pushed, s.Dropped)))
	fmt.Fprintln(out, ui.FormatField("clients", s.Clients))
	if s.Digest != "" {
		fmt.Fprintln(out, ui.FormatField("last frame", s.Digest[:min(16, len(s.Digest))]))
	}

	fmt.Fprintln(out, ui.FormatField("devices", len(s.Devices)))
	for _, d := range s.Devices {
		fmt.Fprintln(out, ui.FormatListItem(d, false))
	}
	fmt.Fprintln(out, ui.FormatField("inputs", len(s.Inputs)))
	for _, in := range s.Inputs {
		item := fmt.Sprintf("%s (%s, %s)", in.Path, in.Name, in.Kinds)
		fmt.Fprintln(out, ui.FormatListItem(item, in.Lost))
	}
	if len(s.Env) > 0 {
		fmt.Fprintln(out, ui.FormatField("env", strings.Join(s.Env, " ")))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
