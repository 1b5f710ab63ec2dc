package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"adagio/lazy"
)

var (
	warmBase    string
	warmTimeout time.Duration
)

var warmCmd = &cobra.Command{
	Use:   "warm [file|url]",
	Short: "Preload every image a page references",
	Long: `Warm extracts image references from a local file or a fetched URL,
schedules them on the idle preload scheduler (driven by a timer idle source),
waits for the queue to drain, and prints a warm/failed summary. Relative
references are resolved against --base, or against the page URL itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		src := args[0]
		base := warmBase
		var markup string
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			markup, err = fetchMarkup(cmd.Context(), src, cfg.UserAgent)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", src, err)
			}
			if base == "" {
				base = src
			}
		} else {
			markup, err = readInput(args)
			if err != nil {
				return err
			}
		}

		refs := lazy.Extract(markup)
		urls := make([]string, 0, len(refs))
		for _, r := range refs {
			if u := lazy.AbsoluteURL(base, r.URL); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			fmt.Println("no image references found")
			return nil
		}

		s := lazy.NewScheduler(cfg, nil, nil, nil)
		defer s.Close()
		batch, err := s.Schedule(urls)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"batch": batch.ID(), "tasks": batch.Size()}).Info("warming")

		ctx, cancel := context.WithTimeout(cmd.Context(), warmTimeout)
		defer cancel()
		if err := s.Wait(ctx); err != nil {
			return fmt.Errorf("wait for preloads: %w", err)
		}

		warmed := 0
		for _, u := range urls {
			if s.Cache().Warmed(u) {
				warmed++
			} else {
				fmt.Printf("failed\t%s\n", u)
			}
		}
		fmt.Printf("warmed %d of %d images\n", warmed, len(urls))
		return nil
	},
}

func fetchMarkup(ctx context.Context, url, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func init() {
	warmCmd.Flags().StringVar(&warmBase, "base", "", "base URL for resolving relative references")
	warmCmd.Flags().DurationVar(&warmTimeout, "timeout", 2*time.Minute, "overall preload deadline")
}
