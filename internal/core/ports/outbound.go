package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// BatchRepository persists import batch state.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *domain.ImportBatch) error
	GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error)
	UpdateBatchStatus(ctx context.Context, id string, status domain.BatchStatus, errMessage string) error
	UpdateBatchParser(ctx context.Context, id, parserID string, docType domain.DocType) error
	UpdateBatchItemCount(ctx context.Context, id string, itemCount int) error
}

// ItemRepository persists import items. InsertItems must be transactional and
// ignore rows whose (batch_id, index) already exist.
type ItemRepository interface {
	InsertItems(ctx context.Context, items []domain.ImportItem) error
	CountItems(ctx context.Context, batchID string) (int, error)
	CountItemsByStatus(ctx context.Context, batchID string) (domain.ItemCounts, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]domain.ImportItem, error)
	GetItem(ctx context.Context, id string) (*domain.ImportItem, error)
	UpdateItem(ctx context.Context, item *domain.ImportItem) error
	MarkItemPromoted(ctx context.Context, id, target, domainID string, at time.Time) error
}

type ItemFilter struct {
	BatchID    string
	Status     domain.ItemStatus
	AfterIndex int
	Limit      int
}

// PromotionLedger records consumed idempotency keys under a unique
// (tenant_id, idempotency_key) constraint.
type PromotionLedger interface {
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.PromotionRecord, error)
	FindByDedupeHash(ctx context.Context, tenantID, hash string) (*domain.PromotionRecord, error)
	// Claim inserts rec unless the key is taken; on conflict it returns the
	// existing record and claimed=false.
	Claim(ctx context.Context, rec domain.PromotionRecord) (*domain.PromotionRecord, bool, error)
}

// DomainWriter writes promoted documents into destination tables.
type DomainWriter interface {
	Upsert(ctx context.Context, table, tenantID, domainID string, doc *domain.CanonicalDocument) (bool, error)
}

// FeedbackRepository is the append-only feedback log.
type FeedbackRepository interface {
	AppendFeedback(ctx context.Context, entry *domain.FeedbackEntry) error
	ListFeedback(ctx context.Context, filter FeedbackFilter) ([]domain.FeedbackEntry, error)
}

type FeedbackFilter struct {
	TenantID      string
	CorrectedOnly bool
	Limit         int
}

// QualityRepository stores quality telemetry samples.
type QualityRepository interface {
	RecordMetrics(ctx context.Context, metrics []domain.QualityMetric) error
	ListMetrics(ctx context.Context, filter QualityFilter) ([]domain.QualityMetric, error)
}

type QualityFilter struct {
	TenantID string
	DocType  domain.DocType
	Since    time.Time
}

// AuditRepository is the durable audit log.
type AuditRepository interface {
	AppendEvents(ctx context.Context, events []domain.AuditEvent) error
	ListEvents(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, error)
}

type AuditFilter struct {
	BatchID string
	ItemID  string
	Types   []domain.AuditEventType
}

// AuditSink forwards audit events to downstream consumers.
type AuditSink interface {
	PublishEvents(ctx context.Context, events []domain.AuditEvent) error
}

// ObjectStorage stores uploaded source files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// ImportQueue publishes/consumes batch import tasks.
type ImportQueue interface {
	PublishImportRequested(ctx context.Context, batchID string) error
	SubscribeImportRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// ClassificationCache is a read-through cache for classification results.
// Implementations must treat their own failures as misses.
type ClassificationCache interface {
	GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error)
}

// AIOracle re-scores low-confidence files.
type AIOracle interface {
	Name() string
	ClassifyDocument(ctx context.Context, text string, availableParsers []string, metadata map[string]string) (domain.OracleSuggestion, error)
}

// CorrectionHints exposes learned tenant corrections to the classifier.
type CorrectionHints interface {
	HintFor(ctx context.Context, tenantID string, headers []string) (ParserHint, bool)
}

type ParserHint struct {
	ParserID string
	DocType  domain.DocType
	Support  int
}

// AuditRecorder appends audit events. Sink failures are not reported.
type AuditRecorder interface {
	Record(ctx context.Context, events ...domain.AuditEvent) error
}

// FeedbackRecorder stores classification confirmations and corrections.
type FeedbackRecorder interface {
	Record(ctx context.Context, entry domain.FeedbackEntry) (*domain.FeedbackEntry, error)
}
