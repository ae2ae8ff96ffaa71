package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillkom/fiscal-ingest/internal/bootstrap"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Store a file, classify it and open an import batch",
	Long: `Uploads a file for a tenant. Confident classifications are queued for the
worker right away; the rest wait for "confirm".`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <batch-id>",
	Short: "Confirm or correct the parser of a pending batch and queue it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parser, _ := cmd.Flags().GetString("parser")
		docType, _ := cmd.Flags().GetString("doc-type")
		actor, _ := cmd.Flags().GetString("actor")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			batch, err := app.IngestUC.ConfirmBatch(ctx, args[0], parser, domain.DocType(docType), actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), batch)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <batch-id>",
	Short: "Run the import of a batch in-process instead of through the worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			progress, err := app.ImportUC.ImportFile(ctx, args[0])
			if err != nil {
				return err
			}
			if progress.Status.Terminal() || progress.Status == domain.BatchError {
				if _, err := app.QualityUC.RecordBatch(ctx, args[0]); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), progress)
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <batch-id>",
	Short: "Promote validated items of a finished batch to domain tables",
	Long: `Promotes every OK item of a READY or PARTIAL batch. With --item only that
item is promoted. Promotion is idempotent; re-running reports skipped items.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, _ := cmd.Flags().GetString("item")
		actor, _ := cmd.Flags().GetString("actor")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if itemID != "" {
				res, err := app.PromoteUC.PromoteItem(ctx, itemID, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			summary, err := app.PromoteUC.PromoteBatch(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		})
	},
}

func init() {
	f := uploadCmd.Flags()
	f.String("tenant", "", "tenant id (required)")
	f.String("source-type", "upload", "source type recorded on the batch")
	f.String("origin", "", "free-form origin, e.g. the mailbox or integration")
	_ = uploadCmd.MarkFlagRequired("tenant")

	f = confirmCmd.Flags()
	f.String("parser", "", "parser id to use (required)")
	f.String("doc-type", "", "expected doc type; defaults to the parser's")
	f.String("actor", "cli", "who confirmed")
	_ = confirmCmd.MarkFlagRequired("parser")

	f = promoteCmd.Flags()
	f.String("item", "", "promote a single item")
	f.String("actor", "cli", "who promoted")

	rootCmd.AddCommand(uploadCmd, confirmCmd, importCmd, promoteCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	sourceType, _ := cmd.Flags().GetString("source-type")
	origin, _ := cmd.Flags().GetString("origin")

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		batch, analysis, err := app.IngestUC.Upload(ctx, ports.UploadRequest{
			TenantID:    tenant,
			Filename:    filepath.Base(args[0]),
			ContentType: mime.TypeByExtension(filepath.Ext(args[0])),
			SourceType:  sourceType,
			Origin:      origin,
			Body:        f,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"batch": batch, "analysis": analysis})
	})
}
