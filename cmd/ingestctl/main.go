package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/fiscal-ingest/internal/bootstrap"
	"github.com/kirillkom/fiscal-ingest/internal/config"
	"github.com/kirillkom/fiscal-ingest/internal/observability/logging"
)

const serviceName = "ingestctl"

var cfg config.Config

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Fiscal document ingestion pipeline",
	Long:          "Classifies uploaded files, imports them into staged batches, promotes validated rows to domain tables and reports on quality.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg = config.Load()
		slog.SetDefault(logging.New(os.Stderr, serviceName, cfg.LogLevel))
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, exitErr.msg)
		os.Exit(exitErr.code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// withApp runs fn against a fully wired pipeline.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	app, err := bootstrap.New(cmd.Context(), cfg, serviceName)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(cmd.Context(), app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
