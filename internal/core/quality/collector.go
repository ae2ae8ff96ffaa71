package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

// BatchOutcome is what a finished import contributes to quality telemetry.
type BatchOutcome struct {
	TenantID        string
	BatchID         string
	DocType         domain.DocType
	Counts          domain.ItemCounts
	ParserCorrected bool
	CorrectedItems  int
}

type Collector struct {
	repo   ports.QualityRepository
	now    func() time.Time
	logger *slog.Logger
}

func NewCollector(repo ports.QualityRepository) *Collector {
	return &Collector{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "quality-collector"),
	}
}

// RecordBatch stores one sample per metric for the batch. Batches without
// items record nothing.
func (c *Collector) RecordBatch(ctx context.Context, outcome BatchOutcome) ([]domain.QualityMetric, error) {
	total := outcome.Counts.Total - outcome.Counts.Skipped
	if total <= 0 {
		return nil, nil
	}
	now := c.now()
	accuracy := 1.0
	if outcome.ParserCorrected {
		accuracy = 0
	}
	metric := func(name string, value float64, samples int) domain.QualityMetric {
		return domain.QualityMetric{
			TenantID:   outcome.TenantID,
			DocType:    outcome.DocType,
			Name:       name,
			Value:      value,
			SampleSize: samples,
			BatchID:    outcome.BatchID,
			RecordedAt: now,
		}
	}
	metrics := []domain.QualityMetric{
		metric(domain.MetricParserAccuracy, accuracy, 1),
		metric(domain.MetricValidationPassRate, float64(outcome.Counts.Validated())/float64(total), total),
		metric(domain.MetricManualCorrectionRate, float64(outcome.CorrectedItems)/float64(total), total),
	}
	if err := c.repo.RecordMetrics(ctx, metrics); err != nil {
		return nil, fmt.Errorf("record quality metrics: %w", err)
	}
	c.logger.Info("quality metrics recorded",
		"tenant_id", outcome.TenantID,
		"batch_id", outcome.BatchID,
		"doc_type", outcome.DocType,
		"validation_pass_rate", metrics[1].Value,
	)
	return metrics, nil
}

// Aggregate returns sample-weighted averages and total sample sizes per
// metric for the window. Empty tenant or doc type means all.
func (c *Collector) Aggregate(ctx context.Context, tenantID string, docType domain.DocType, since time.Time) (map[string]float64, map[string]int, error) {
	samples, err := c.repo.ListMetrics(ctx, ports.QualityFilter{TenantID: tenantID, DocType: docType, Since: since})
	if err != nil {
		return nil, nil, fmt.Errorf("list quality metrics: %w", err)
	}
	weighted := map[string]float64{}
	sizes := map[string]int{}
	for _, m := range samples {
		if m.SampleSize <= 0 {
			continue
		}
		weighted[m.Name] += m.Value * float64(m.SampleSize)
		sizes[m.Name] += m.SampleSize
	}
	values := make(map[string]float64, len(weighted))
	for name, sum := range weighted {
		values[name] = sum / float64(sizes[name])
	}
	return values, sizes, nil
}
