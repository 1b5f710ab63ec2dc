package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"adagio/lazy"
)

var (
	extractBase string
	extractJSON bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file|-]",
	Short: "List the image URLs a block of markup references",
	Long: `Extract parses HTML from a file or stdin and prints the image URLs it
references, deduplicated, in first-occurrence order. With --base, relative
URLs are resolved against it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		markup, err := readInput(args)
		if err != nil {
			return err
		}
		refs := lazy.Extract(markup)
		if extractBase != "" {
			for i := range refs {
				refs[i].URL = lazy.AbsoluteURL(extractBase, refs[i].URL)
			}
		}
		if extractJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(refs)
		}
		for _, r := range refs {
			fmt.Printf("%d\t%s\n", r.Ordinal, r.URL)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractBase, "base", "", "base URL for resolving relative references")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "emit JSON instead of tab-separated lines")
}
