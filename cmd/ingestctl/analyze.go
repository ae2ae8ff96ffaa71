package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillkom/fiscal-ingest/internal/bootstrap"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>...",
	Short: "Classify files without persisting anything",
	Long: `Runs the classifier over one or more files and prints the analysis with its
decision log. Uses neither the database nor the queue.

Examples:
  ingestctl analyze extracto.csv
  ingestctl analyze --tenant acme facturas.xlsx factura.xml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("tenant", "", "tenant whose learned corrections apply")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	analysis, err := bootstrap.NewAnalysis(cfg)
	if err != nil {
		return err
	}

	reqs := make([]domain.AnalyzeRequest, 0, len(args))
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		reqs = append(reqs, domain.AnalyzeRequest{
			Content:     content,
			Filename:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			TenantID:    tenant,
		})
	}
	results, err := analysis.Analyzer.AnalyzeMany(cmd.Context(), reqs)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), results)
}
