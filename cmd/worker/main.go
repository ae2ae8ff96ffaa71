package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/bootstrap"
	"github.com/kirillkom/fiscal-ingest/internal/config"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/observability/logging"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux(app),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSSubject, "auto_promote", cfg.AutoPromote, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeImportRequested(ctx, func(taskCtx context.Context, batchID string) error {
		return handleImport(taskCtx, app, batchID)
	})
	if err != nil {
		logger.Error("worker subscribe error", "error", err)
		os.Exit(1)
	}
}

func metricsMux(app *bootstrap.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleImport runs one import task, then the optional promotion and the
// quality sample. Follow-up failures are logged; the import result stands.
func handleImport(ctx context.Context, app *bootstrap.App, batchID string) error {
	logger := slog.Default().With("batch_id", batchID)
	if batch, err := app.Batches.GetBatch(ctx, batchID); err == nil {
		logger = logging.ForBatch(slog.Default(), batch)
		app.Metrics.ObserveQueueLag(time.Since(batch.CreatedAt))
	}

	start := time.Now()
	app.Metrics.StartImport()
	progress, err := app.ImportUC.ImportFile(ctx, batchID)
	app.Metrics.FinishImport(progress, time.Since(start), err)
	if err != nil {
		return err
	}
	logger.Info("import task finished", "status", progress.Status, "processed", progress.Processed, "failed", progress.Failed)
	if !progress.Status.Terminal() && progress.Status != domain.BatchError {
		return nil
	}

	if app.Config.AutoPromote && progress.Status.Terminal() {
		summary, err := app.PromoteUC.PromoteBatch(ctx, batchID)
		if err != nil {
			logger.Error("auto promote failed", "error", err)
		} else {
			app.Metrics.RecordPromotion(summary)
		}
	}
	if _, err := app.QualityUC.RecordBatch(ctx, batchID); err != nil {
		logger.Warn("quality sample not recorded", "error", err)
	}
	return nil
}
