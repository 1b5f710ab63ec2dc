package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"adagio/internal/audit"
)

var (
	auditURL    string
	auditScroll bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify a rewritten page in headless Chrome",
	Long: `Audit fetches a page, rewrites it, serves both variants locally, and
drives headless Chrome at each while counting image-type network requests.
A correct rewrite issues zero image requests on initial render. With
--scroll, a minimal promotion script runs in the page and the report
includes how many images promoted while scrolling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := audit.NewAuditor()
		if err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer a.Close()

		rep, err := a.Run(cmd.Context(), auditURL, audit.Options{Scroll: auditScroll})
		if err != nil {
			return err
		}
		fmt.Printf("url:                 %s\n", rep.URL)
		fmt.Printf("markers:             %d\n", rep.Markers)
		fmt.Printf("image requests:      %d original, %d rewritten\n",
			rep.OriginalImageRequests, rep.RewrittenImageRequests)
		if auditScroll {
			fmt.Printf("promoted on scroll:  %d\n", rep.Promoted)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditURL, "url", "", "page to audit")
	auditCmd.Flags().BoolVar(&auditScroll, "scroll", false, "scroll the rewritten page and count promotions")
	auditCmd.MarkFlagRequired("url")
}
