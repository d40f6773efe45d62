// Package main provides the entry point for the Encybara recommendation service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quyetvm183/Encybara/internal/config"
)

// appConfig is loaded once before any subcommand runs
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "encybara",
	Short: "Adaptive course recommendation engine",
	Long:  "Encybara computes per-skill difficulty bands for each learner, ranks catalog courses against them and keeps a small set of inactive recommended enrollments up to date.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		setupLogging(cfg.Log)
		appConfig = cfg
		return nil
	},
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
