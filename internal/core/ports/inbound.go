package ports

import (
	"context"
	"io"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// DocumentAnalyzer is the inbound contract for file classification.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, req domain.AnalyzeRequest) (domain.AnalysisResult, error)
}

type UploadRequest struct {
	TenantID    string
	Filename    string
	ContentType string
	SourceType  string
	Origin      string
	Body        io.Reader
}

// BatchUploader stores an upload, classifies it and opens a batch.
type BatchUploader interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.ImportBatch, *domain.AnalysisResult, error)
	ConfirmBatch(ctx context.Context, batchID, parserID string, docType domain.DocType, actor string) (*domain.ImportBatch, error)
}

// BatchImporter drives a batch through the import state machine.
type BatchImporter interface {
	ImportFile(ctx context.Context, batchID string) (domain.ImportProgress, error)
}

// BatchPromoter projects validated items into domain tables.
type BatchPromoter interface {
	PromoteBatch(ctx context.Context, batchID string) (domain.PromoteSummary, error)
}

// BatchReader is the read model for batch state.
type BatchReader interface {
	BatchReport(ctx context.Context, batchID string) (*domain.BatchReport, error)
}
