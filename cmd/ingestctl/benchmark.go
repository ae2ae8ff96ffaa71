package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/fiscal-ingest/internal/bootstrap"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/quality"
)

// exitBlocked is returned when the benchmark says a deployment must not ship.
const exitBlocked = 2

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Evaluate recorded quality metrics against deployment thresholds",
	Long: `Aggregates quality samples recorded in the window and evaluates them.
Exits with status 2 when the report is FAILED, so CI can block a rollout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		docType, _ := cmd.Flags().GetString("doc-type")
		window, _ := cmd.Flags().GetDuration("window")

		var dt domain.DocType
		if docType != "" {
			parsed, ok := domain.ParseDocType(docType)
			if !ok {
				return fmt.Errorf("unknown doc type %q", docType)
			}
			dt = parsed
		}
		var since time.Time
		if window > 0 {
			since = time.Now().UTC().Add(-window)
		}

		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			report, err := app.QualityUC.Benchmark(ctx, tenant, dt, since)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if quality.ShouldBlockDeployment(report) {
				return &exitError{code: exitBlocked, msg: "deployment blocked: " + report.Reasoning}
			}
			return nil
		})
	},
}

func init() {
	f := benchmarkCmd.Flags()
	f.String("tenant", "", "restrict to one tenant")
	f.String("doc-type", "", "restrict to one doc type")
	f.Duration("window", 30*24*time.Hour, "how far back to aggregate; 0 means all")
	rootCmd.AddCommand(benchmarkCmd)
}
