package cmd

import (
	"fmt"

	"github.com/bnema/waydisplay/internal/input"
	"github.com/bnema/waydisplay/internal/ui"
	"github.com/spf13/cobra"
)

var inputDir = input.DefaultInputDir

var inputsCmd = &cobra.Command{
	Use:   "inputs",
	Short: "List input devices that can be attached to a display",
	Long: `List the readable evdev nodes that provide pointer, keyboard or touch
events. The stable link is preferred in [input] devices since event numbers
change when devices are replugged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		candidates, err := input.Candidates(inputDir)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.FormatHeader("Input devices in "+inputDir))
		if len(candidates) == 0 {
			fmt.Fprintln(out, ui.FormatListItem("none readable (check the input group)", true))
			return nil
		}
		for _, c := range candidates {
			fmt.Fprintln(out, ui.FormatListItem(fmt.Sprintf("%-20s %s (%s)", c.Path, c.Name, c.Kinds), false))
			if c.Stable != "" {
				fmt.Fprintln(out, ui.FormatField("  stable", c.Stable))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inputsCmd)
}
