package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kirillkom/fiscal-ingest/internal/bootstrap"
)

var reportCmd = &cobra.Command{
	Use:   "report <batch-id>",
	Short: "Show batch status, item counts and failed items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withTimeline, _ := cmd.Flags().GetBool("timeline")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			report, err := app.ReviewUC.BatchReport(ctx, args[0])
			if err != nil {
				return err
			}
			if !withTimeline {
				return printJSON(cmd.OutOrStdout(), report)
			}
			timeline, err := app.Trail.Timeline(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"report": report, "timeline": timeline})
		})
	},
}

var correctCmd = &cobra.Command{
	Use:   "correct <item-id>",
	Short: "Set one canonical field of an item and re-validate it",
	Long: `Sets a canonical field by path, for example bank_tx.value_date or
totals.total. The value is read as JSON when it parses, otherwise as text.

Examples:
  ingestctl correct 3f1c... --field bank_tx.value_date --value 2025-01-17
  ingestctl correct 3f1c... --field totals.total --value 112.5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, _ := cmd.Flags().GetString("field")
		raw, _ := cmd.Flags().GetString("value")
		actor, _ := cmd.Flags().GetString("actor")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			item, err := app.ReviewUC.CorrectItem(ctx, args[0], field, parseValue(raw), actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <item-id>",
	Short: "List corrections applied to an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			history, err := app.Trail.ItemHistory(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), history)
		})
	},
}

func init() {
	reportCmd.Flags().Bool("timeline", false, "include the batch audit timeline")

	f := correctCmd.Flags()
	f.String("field", "", "canonical field path (required)")
	f.String("value", "", "new value")
	f.String("actor", "cli", "who corrected")
	_ = correctCmd.MarkFlagRequired("field")

	rootCmd.AddCommand(reportCmd, correctCmd, historyCmd)
}

// parseValue keeps numbers and booleans typed; anything else is text.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
