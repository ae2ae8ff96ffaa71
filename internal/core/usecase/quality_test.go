package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/quality"
)

func TestQualityRecordsFinishedBatchAndBenchmarks(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	uc := NewQualityUseCase(p.store, p.store, p.trail, quality.NewCollector(p.store), quality.NewBenchmark(quality.DefaultThresholds()))

	pending := p.seedBatch(t, "b-pending", bankFile, "csv_bank_tx", domain.DocTypeBankTx)
	if metrics, err := uc.RecordBatch(ctx, pending.ID); err != nil || metrics != nil {
		t.Fatalf("pending batch: metrics=%v err=%v", metrics, err)
	}

	batch := importBatch(t, p, "b1", "fecha;concepto;importe\n2025-02-01;Cuota;-10.00\n")
	metrics, err := uc.RecordBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RecordBatch() error = %v", err)
	}
	if len(metrics) != 3 {
		t.Fatalf("expected three samples, got %+v", metrics)
	}
	byName := map[string]float64{}
	for _, m := range metrics {
		byName[m.Name] = m.Value
	}
	if byName[domain.MetricValidationPassRate] != 1 || byName[domain.MetricParserAccuracy] != 1 || byName[domain.MetricManualCorrectionRate] != 0 {
		t.Fatalf("unexpected values: %+v", byName)
	}

	report, err := uc.Benchmark(ctx, "tenant-1", domain.DocTypeBankTx, time.Time{})
	if err != nil {
		t.Fatalf("Benchmark() error = %v", err)
	}
	if report.Status != domain.BenchmarkWarning || quality.ShouldBlockDeployment(report) {
		t.Fatalf("small samples must warn without blocking: %+v", report)
	}
}

func TestQualitySamplesFailedBatchWithItems(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	uc := NewQualityUseCase(p.store, p.store, p.trail, quality.NewCollector(p.store), quality.NewBenchmark(quality.DefaultThresholds()))

	var file strings.Builder
	file.WriteString("fecha;concepto;importe\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&file, "ayer;fila %d;abc\n", i)
	}
	batch := importBatch(t, p, "b-bad", file.String())
	stored, err := p.store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if stored.Status != domain.BatchError {
		t.Fatalf("expected ERROR batch, got %s", stored.Status)
	}

	metrics, err := uc.RecordBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RecordBatch() error = %v", err)
	}
	if len(metrics) != 3 {
		t.Fatalf("expected three samples for failed batch, got %+v", metrics)
	}
	for _, m := range metrics {
		if m.Name == domain.MetricValidationPassRate && (m.Value != 0 || m.SampleSize != 40) {
			t.Fatalf("unexpected pass rate sample: %+v", m)
		}
	}

	report, err := uc.Benchmark(ctx, "tenant-1", domain.DocTypeBankTx, time.Time{})
	if err != nil {
		t.Fatalf("Benchmark() error = %v", err)
	}
	if !quality.ShouldBlockDeployment(report) {
		t.Fatalf("all-failed batch must block deployment: %+v", report)
	}
}

func TestQualitySkipsFailedBatchWithoutItems(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	uc := NewQualityUseCase(p.store, p.store, p.trail, quality.NewCollector(p.store), quality.NewBenchmark(quality.DefaultThresholds()))

	batch := importBatch(t, p, "b-empty", "fecha;concepto;importe\n")
	metrics, err := uc.RecordBatch(ctx, batch.ID)
	if err != nil || metrics != nil {
		t.Fatalf("empty failed batch: metrics=%v err=%v", metrics, err)
	}
}
