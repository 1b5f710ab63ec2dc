// Package commands implements the adagio CLI.
package commands

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"adagio/lazy"
)

var (
	// Version is injected at build time.
	Version = "dev"

	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "adagio",
	Short: "Deferred image loading for server-rendered HTML",
	Long: `adagio rewrites image-heavy HTML so browsers defer every image fetch,
warms an image cache during idle time, and verifies the result in a real
browser.

Use "adagio [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		log.SetLevel(lvl)
		return nil
	},
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig applies defaults, the optional --config file, and environment
// overrides.
func loadConfig() (lazy.Config, error) {
	cfg, err := lazy.LoadConfig(cfgFile)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// readInput returns the contents of the named file, or stdin for "-" or no
// argument.
func readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(b), nil
}
