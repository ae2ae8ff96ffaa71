package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/audit"
	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/classifier"
	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/learning"
	"github.com/kirillkom/fiscal-ingest/internal/core/parsing"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/core/routing"
	"github.com/kirillkom/fiscal-ingest/internal/core/scoring"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/delimited"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/repository/memory"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/storage/localfs"
)

const bankFile = "fecha;concepto;importe\n2025-01-15;Recibo luz;-45.10\n2025-01-16;Nomina;1200.00\n"

type queueFake struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (q *queueFake) PublishImportRequested(_ context.Context, batchID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, batchID)
	return nil
}

func (q *queueFake) SubscribeImportRequested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type pipeline struct {
	store    *memory.Store
	storage  *localfs.Storage
	queue    *queueFake
	trail    *audit.Trail
	ingest   *IngestUseCase
	importer *ImportUseCase
	promoter *PromoteUseCase
	review   *ReviewUseCase
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	parsers := make([]ports.Parser, 0, 5)
	for _, dt := range domain.DocTypes() {
		if dt != domain.DocTypeOther {
			parsers = append(parsers, delimited.New(dt))
		}
	}
	reg, err := parsing.NewRegistry(parsers...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	packs, err := countrypack.Default()
	if err != nil {
		t.Fatalf("countrypack.Default() error = %v", err)
	}
	storage, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}

	store := memory.NewStore()
	queue := &queueFake{}
	trail := audit.NewTrail(store, nil)
	mapper := canonical.NewMapper(packs)
	validator := canonical.NewValidator(packs)
	router := routing.NewRouter(store)
	feedback := learning.NewFeedbackService(store, 0)
	analyzer := classifier.NewSmartRouter(reg, scoring.NewEngine(scoring.DefaultThresholds()), mapper, nil, nil, feedback,
		classifier.Config{EscalationThreshold: 0.3})

	return &pipeline{
		store:    store,
		storage:  storage,
		queue:    queue,
		trail:    trail,
		ingest:   NewIngestUseCase(store, storage, analyzer, queue, trail, feedback, reg, 0),
		importer: NewImportUseCase(store, store, storage, reg, mapper, validator, router, trail, 1),
		promoter: NewPromoteUseCase(store, store, store, router, validator, trail),
		review:   NewReviewUseCase(store, store, packs, validator, router, trail),
	}
}

// seedBatch stores content and opens a PENDING batch for parserID without
// going through classification.
func (p *pipeline) seedBatch(t *testing.T, id, content, parserID string, docType domain.DocType) *domain.ImportBatch {
	t.Helper()
	ctx := context.Background()
	key := FileKey([]byte(content), "seed.csv")
	if err := p.storage.Save(ctx, key, strings.NewReader(content)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	now := time.Now().UTC()
	batch := &domain.ImportBatch{
		ID:         id,
		TenantID:   "tenant-1",
		SourceType: "upload",
		Filename:   "seed.csv",
		FileKey:    key,
		ParserID:   parserID,
		DocType:    docType,
		Confidence: 0.9,
		Status:     domain.BatchPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	return batch
}

func TestUploadStoresClassifiesAndQueues(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	batch, analysis, err := p.ingest.Upload(ctx, ports.UploadRequest{
		TenantID: "tenant-1",
		Filename: "extracto enero.csv",
		Body:     strings.NewReader(bankFile),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if analysis.SuggestedParser != "csv_bank_tx" {
		t.Fatalf("expected csv_bank_tx, got %q", analysis.SuggestedParser)
	}
	if batch.Status != domain.BatchPending || batch.SourceType != "upload" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if !strings.HasSuffix(batch.FileKey, "_extracto_enero.csv") || len(batch.FileKey) != 16+len("_extracto_enero.csv") {
		t.Fatalf("unexpected file key %q", batch.FileKey)
	}
	if ok, _ := p.storage.Exists(ctx, batch.FileKey); !ok {
		t.Fatalf("uploaded file not stored")
	}
	if len(p.queue.published) != 1 || p.queue.published[0] != batch.ID {
		t.Fatalf("expected batch queued, got %v", p.queue.published)
	}

	timeline, err := p.trail.Timeline(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if len(timeline) != 2 || timeline[0].Type != domain.EventImportStarted || timeline[1].Type != domain.EventFileAnalyzed {
		t.Fatalf("unexpected audit timeline: %+v", timeline)
	}
}

func TestUploadSameContentReusesFileKey(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	first, _, err := p.ingest.Upload(ctx, ports.UploadRequest{TenantID: "tenant-1", Filename: "a.csv", Body: strings.NewReader(bankFile)})
	if err != nil {
		t.Fatalf("first Upload() error = %v", err)
	}
	second, _, err := p.ingest.Upload(ctx, ports.UploadRequest{TenantID: "tenant-1", Filename: "a.csv", Body: strings.NewReader(bankFile)})
	if err != nil {
		t.Fatalf("second Upload() error = %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("each upload opens its own batch")
	}
	if first.FileKey != second.FileKey {
		t.Fatalf("file keys differ: %q vs %q", first.FileKey, second.FileKey)
	}
}

func TestUploadRejectsInvalidRequests(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	cases := []ports.UploadRequest{
		{Filename: "a.csv", Body: strings.NewReader(bankFile)},
		{TenantID: "tenant-1", Body: strings.NewReader(bankFile)},
		{TenantID: "tenant-1", Filename: "a.csv"},
	}
	for i, req := range cases {
		if _, _, err := p.ingest.Upload(ctx, req); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}

	small := NewIngestUseCase(p.store, p.storage, nil, p.queue, nil, nil, nil, 8)
	_, _, err := small.Upload(ctx, ports.UploadRequest{TenantID: "tenant-1", Filename: "a.csv", Body: strings.NewReader(bankFile)})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestUploadQueueError(t *testing.T) {
	p := newPipeline(t)
	p.queue.err = errors.New("nats unavailable")

	_, _, err := p.ingest.Upload(context.Background(), ports.UploadRequest{TenantID: "tenant-1", Filename: "a.csv", Body: strings.NewReader(bankFile)})
	if err == nil || !strings.Contains(err.Error(), "publish import task") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestLowConfidenceUploadWaitsForConfirmation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	batch, analysis, err := p.ingest.Upload(ctx, ports.UploadRequest{
		TenantID: "tenant-1",
		Filename: "data.csv",
		Body:     strings.NewReader("col1,col2\na,b\n"),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !analysis.RequiresConfirmation || !batch.RequiresConfirmation {
		t.Fatalf("expected confirmation to be required: %+v", analysis)
	}
	if len(p.queue.published) != 0 {
		t.Fatalf("unconfirmed batch must not be queued")
	}
	if _, err := p.importer.ImportFile(ctx, batch.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for unconfirmed batch, got %v", err)
	}

	if _, err := p.ingest.ConfirmBatch(ctx, batch.ID, "csv_product", domain.DocTypeInvoice, "ana"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected doc type mismatch, got %v", err)
	}
	if _, err := p.ingest.ConfirmBatch(ctx, batch.ID, "csv_nope", "", "ana"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected unknown parser, got %v", err)
	}

	confirmed, err := p.ingest.ConfirmBatch(ctx, batch.ID, "csv_product", "", "ana")
	if err != nil {
		t.Fatalf("ConfirmBatch() error = %v", err)
	}
	if confirmed.ParserID != "csv_product" || confirmed.DocType != domain.DocTypeProduct || confirmed.RequiresConfirmation {
		t.Fatalf("unexpected confirmed batch: %+v", confirmed)
	}
	if len(p.queue.published) != 1 || p.queue.published[0] != batch.ID {
		t.Fatalf("confirmed batch must be queued, got %v", p.queue.published)
	}

	entries, err := p.store.ListFeedback(ctx, ports.FeedbackFilter{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("ListFeedback() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one feedback entry, got %d", len(entries))
	}
	if entries[0].CorrectedParser != "csv_product" || entries[0].Actor != "ana" {
		t.Fatalf("unexpected feedback entry: %+v", entries[0])
	}
	if len(entries[0].Headers) != 2 || entries[0].Headers[0] != "col1" {
		t.Fatalf("expected peeked headers, got %v", entries[0].Headers)
	}

	if _, err := p.ingest.ConfirmBatch(ctx, batch.ID, "csv_product", "", "ana"); err != nil {
		t.Fatalf("batch is still pending, confirm again: %v", err)
	}
	if err := p.store.UpdateBatchStatus(ctx, batch.ID, domain.BatchReady, ""); err != nil {
		t.Fatalf("UpdateBatchStatus() error = %v", err)
	}
	if _, err := p.ingest.ConfirmBatch(ctx, batch.ID, "csv_product", "", "ana"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on imported batch, got %v", err)
	}
}
