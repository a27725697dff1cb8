// package main is the entry point for the robocat merge-request bot.
package main

import (
	"fmt"
	"os"

	"github.com/nx/robocat/cmd/process"
	"github.com/nx/robocat/cmd/serve"
	"github.com/nx/robocat/cmd/validateconfig"
	"github.com/nx/robocat/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string
	var secretsDir string
	var repoDir string
	var adminAddr string
	var logLevel string
	var logFormat string
	var parallelism int

	rootCmd := &cobra.Command{
		Use:   "robocat",
		Short: "An event-driven merge-request automation bot",
		Long: `robocat evaluates merge requests against a configured rule pipeline,
enforces merge-readiness, drives merges, and opens cherry-pick follow-up
merge requests, one actor per merge request at a time.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			_, err := logging.New(logging.Config{Level: logLevel, Format: logFormat})
			return err
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "robocat.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&secretsDir, "secrets-dir", "/var/run/secrets/robocat", "Directory of mounted credential files")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo-dir", ".", "Local checkout the engine owns for rebase/cherry-pick/push")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().IntVarP(&parallelism, "parallelism", "p", 2, "Max concurrent MR actors")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", ":8080", "Address the /health and /metrics admin server listens on")

	rootCmd.AddCommand(serve.NewServeCmd(&configFile, &secretsDir, &repoDir, &adminAddr, &parallelism))
	rootCmd.AddCommand(process.NewProcessCmd(&configFile, &secretsDir, &repoDir, &parallelism))
	rootCmd.AddCommand(validateconfig.NewValidateConfigCmd(&configFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
