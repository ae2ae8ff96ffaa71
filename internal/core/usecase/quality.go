package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/audit"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/core/quality"
)

// QualityUseCase turns finished batches into quality samples and evaluates
// the deployment benchmark over a window of them.
type QualityUseCase struct {
	batches   ports.BatchRepository
	items     ports.ItemRepository
	trail     *audit.Trail
	collector *quality.Collector
	benchmark *quality.Benchmark
	logger    *slog.Logger
}

func NewQualityUseCase(
	batches ports.BatchRepository,
	items ports.ItemRepository,
	trail *audit.Trail,
	collector *quality.Collector,
	benchmark *quality.Benchmark,
) *QualityUseCase {
	return &QualityUseCase{
		batches:   batches,
		items:     items,
		trail:     trail,
		collector: collector,
		benchmark: benchmark,
		logger:    slog.Default().With("component", "quality"),
	}
}

// RecordBatch samples a READY, PARTIAL or ERROR batch. An ERROR batch with
// no persisted items records nothing, as do batches still in flight.
func (uc *QualityUseCase) RecordBatch(ctx context.Context, batchID string) ([]domain.QualityMetric, error) {
	batch, err := uc.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	if !batch.Status.Terminal() && batch.Status != domain.BatchError {
		return nil, nil
	}
	counts, err := uc.items.CountItemsByStatus(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	corrected, err := uc.trail.CorrectedItems(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	parserCorrected, err := uc.trail.ParserCorrected(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	return uc.collector.RecordBatch(ctx, quality.BatchOutcome{
		TenantID:        batch.TenantID,
		BatchID:         batch.ID,
		DocType:         batch.DocType,
		Counts:          counts,
		ParserCorrected: parserCorrected,
		CorrectedItems:  corrected,
	})
}

// Benchmark aggregates samples recorded since the given time and evaluates
// them. Empty tenant or doc type means all.
func (uc *QualityUseCase) Benchmark(ctx context.Context, tenantID string, docType domain.DocType, since time.Time) (domain.BenchmarkReport, error) {
	values, sizes, err := uc.collector.Aggregate(ctx, tenantID, docType, since)
	if err != nil {
		return domain.BenchmarkReport{}, err
	}
	report := uc.benchmark.Evaluate(values, sizes)
	uc.logger.Info("quality benchmark evaluated",
		"tenant_id", tenantID,
		"doc_type", docType,
		"status", report.Status,
		"block_deployment", quality.ShouldBlockDeployment(report),
	)
	return report, nil
}
