package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild recommendations once and exit",
	Long:  "Rebuilds recommended enrollments for one learner (--user) or, without --user, runs a single bulk refresh cycle over every learner.",
	RunE:  runRefresh,
}

var (
	refreshUser      string
	refreshBaseLevel float64
)

func init() {
	refreshCmd.Flags().StringVarP(&refreshUser, "user", "u", "", "Learner to refresh (default: every learner)")
	refreshCmd.Flags().Float64Var(&refreshBaseLevel, "base-level", 0, "Rebuild around a freshly assessed level in [1, 7] (requires --user)")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	baseLevelSet := cmd.Flags().Changed("base-level")
	if baseLevelSet && refreshUser == "" {
		return fmt.Errorf("--base-level requires --user")
	}

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	if refreshUser == "" {
		summary := a.scheduler.RefreshAll(ctx)
		return json.NewEncoder(os.Stdout).Encode(summary)
	}

	var n int
	if baseLevelSet {
		n, err = a.scheduler.RefreshFromLevel(ctx, refreshUser, refreshBaseLevel)
	} else {
		n, err = a.scheduler.RefreshOne(ctx, refreshUser)
	}
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", refreshUser, err)
	}

	slog.Info("learner refreshed", "user_id", refreshUser, "materialized", n)
	return nil
}
