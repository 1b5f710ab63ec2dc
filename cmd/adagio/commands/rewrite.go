package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"adagio/lazy"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [file|-]",
	Short: "Rewrite markup so every image defers its load",
	Long: `Rewrite reads HTML from a file or stdin and prints the deferred form:
real sources moved to data-lazy-src, visible sources replaced with an inline
placeholder pixel, marker classes added for discovery. Rewriting already
deferred markup changes nothing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		markup, err := readInput(args)
		if err != nil {
			return err
		}
		fmt.Print(lazy.Rewrite(markup))
		return nil
	},
}
