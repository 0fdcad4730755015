package cmd

import (
	"fmt"

	"github.com/bnema/waydisplay/internal/config"
	"github.com/bnema/waydisplay/internal/devices"
	"github.com/bnema/waydisplay/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices [render-node]",
	Short: "List the device nodes a client would be given",
	Long: `Resolve a render node to the DRM nodes a client process needs, without
starting the compositor. Defaults to display.render_node.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		node := config.Get().Display.RenderNode
		if len(args) == 1 {
			node = args[0]
		}

		entries, err := devices.DiscoverNodes(node, devices.DefaultRoots)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.FormatHeader("Devices for "+node))
		if len(entries) == 0 {
			fmt.Fprintln(out, ui.FormatListItem("none (software rendering)", true))
			return nil
		}
		for _, e := range entries {
			item := fmt.Sprintf("%-24s %s", e.Path, e.Role)
			if e.Vendor != "" {
				item += " vendor " + e.Vendor
			}
			fmt.Fprintln(out, ui.FormatListItem(item, false))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
