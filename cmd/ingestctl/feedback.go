package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kirillkom/fiscal-ingest/internal/bootstrap"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Inspect classification feedback",
}

var feedbackStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Classifier accuracy from confirmed and corrected batches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			stats, err := app.Feedback.AccuracyStats(ctx, tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var feedbackTrainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Export corrected samples once enough have been collected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		minEntries, _ := cmd.Flags().GetInt("min")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			samples, err := app.Feedback.TrainingData(ctx, minEntries)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), samples)
		})
	},
}

func init() {
	feedbackStatsCmd.Flags().String("tenant", "", "restrict to one tenant")
	feedbackTrainingCmd.Flags().Int("min", 0, "minimum corrected entries; 0 uses the configured floor")
	feedbackCmd.AddCommand(feedbackStatsCmd, feedbackTrainingCmd)
	rootCmd.AddCommand(feedbackCmd)
}
