package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/parsing"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

const (
	defaultSourceType     = "upload"
	defaultMaxUploadBytes = 64 << 20
)

type IngestUseCase struct {
	batches  ports.BatchRepository
	storage  ports.ObjectStorage
	analyzer ports.DocumentAnalyzer
	queue    ports.ImportQueue
	audit    ports.AuditRecorder
	feedback ports.FeedbackRecorder
	parsers  *parsing.Registry

	maxUploadBytes int64
	now            func() time.Time
	logger         *slog.Logger
}

func NewIngestUseCase(
	batches ports.BatchRepository,
	storage ports.ObjectStorage,
	analyzer ports.DocumentAnalyzer,
	queue ports.ImportQueue,
	audit ports.AuditRecorder,
	feedback ports.FeedbackRecorder,
	parsers *parsing.Registry,
	maxUploadBytes int64,
) *IngestUseCase {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &IngestUseCase{
		batches:        batches,
		storage:        storage,
		analyzer:       analyzer,
		queue:          queue,
		audit:          audit,
		feedback:       feedback,
		parsers:        parsers,
		maxUploadBytes: maxUploadBytes,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         slog.Default().With("component", "ingest"),
	}
}

// Upload stores the file content-addressed, classifies it and opens a
// PENDING batch. The import task is published only when the classification
// does not need a human confirmation.
func (uc *IngestUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.ImportBatch, *domain.AnalysisResult, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("tenant_id is required"))
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("filename is required"))
	}
	if req.Body == nil {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("body is required"))
	}

	content, err := io.ReadAll(io.LimitReader(req.Body, uc.maxUploadBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read upload body: %w", err)
	}
	if int64(len(content)) > uc.maxUploadBytes {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("file exceeds %d bytes", uc.maxUploadBytes))
	}

	fileKey := FileKey(content, req.Filename)
	exists, err := uc.storage.Exists(ctx, fileKey)
	if err != nil {
		return nil, nil, fmt.Errorf("check object storage: %w", err)
	}
	if !exists {
		if err := uc.storage.Save(ctx, fileKey, bytes.NewReader(content)); err != nil {
			return nil, nil, fmt.Errorf("save to object storage: %w", err)
		}
	}

	analysis, err := uc.analyzer.Analyze(ctx, domain.AnalyzeRequest{
		Content:     content,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		TenantID:    req.TenantID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("analyze upload: %w", err)
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = defaultSourceType
	}
	now := uc.now()
	batch := &domain.ImportBatch{
		ID:                   uuid.NewString(),
		TenantID:             req.TenantID,
		SourceType:           sourceType,
		Origin:               req.Origin,
		Filename:             req.Filename,
		ContentType:          req.ContentType,
		FileKey:              fileKey,
		ParserID:             analysis.SuggestedParser,
		DocType:              analysis.SuggestedDocType,
		Confidence:           analysis.Confidence,
		RequiresConfirmation: analysis.RequiresConfirmation,
		Status:               domain.BatchPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := uc.batches.CreateBatch(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("create import batch: %w", err)
	}

	uc.record(ctx,
		domain.AuditEvent{
			TenantID: batch.TenantID,
			BatchID:  batch.ID,
			Type:     domain.EventImportStarted,
			Details: map[string]any{
				"filename":    batch.Filename,
				"file_key":    batch.FileKey,
				"source_type": batch.SourceType,
				"size":        len(content),
				"reused_file": exists,
			},
		},
		domain.AuditEvent{
			TenantID: batch.TenantID,
			BatchID:  batch.ID,
			Type:     domain.EventFileAnalyzed,
			Details: map[string]any{
				"parser_id":             analysis.SuggestedParser,
				"doc_type":              analysis.SuggestedDocType,
				"confidence":            analysis.Confidence,
				"requires_confirmation": analysis.RequiresConfirmation,
				"ai_enhanced":           analysis.AIEnhanced,
			},
		},
	)

	uc.logger.Info("upload accepted",
		"batch_id", batch.ID,
		"tenant_id", batch.TenantID,
		"parser_id", batch.ParserID,
		"doc_type", batch.DocType,
		"confidence", batch.Confidence,
		"requires_confirmation", batch.RequiresConfirmation,
	)

	if !batch.RequiresConfirmation && batch.ParserID != "" {
		if err := uc.queue.PublishImportRequested(ctx, batch.ID); err != nil {
			return nil, nil, fmt.Errorf("publish import task: %w", err)
		}
	}
	return batch, &analysis, nil
}

// ConfirmBatch fixes the parser of a PENDING batch, records the
// human decision as feedback and schedules the import.
func (uc *IngestUseCase) ConfirmBatch(ctx context.Context, batchID, parserID string, docType domain.DocType, actor string) (*domain.ImportBatch, error) {
	batch, err := uc.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	if batch.Status != domain.BatchPending {
		return nil, domain.WrapError(domain.ErrConflict, "confirm batch", fmt.Errorf("batch %s is %s", batch.ID, batch.Status))
	}
	parser, ok := uc.parsers.Get(parserID)
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "confirm batch", fmt.Errorf("unknown parser %q", parserID))
	}
	desc := parser.Descriptor()
	if docType == "" {
		docType = desc.DocType
	}
	if docType != desc.DocType {
		return nil, domain.WrapError(domain.ErrInvalidInput, "confirm batch",
			fmt.Errorf("parser %s produces %s, not %s", parserID, desc.DocType, docType))
	}

	if err := uc.batches.UpdateBatchParser(ctx, batch.ID, parserID, docType); err != nil {
		return nil, fmt.Errorf("update batch parser: %w", err)
	}
	entry := domain.FeedbackEntry{
		TenantID:           batch.TenantID,
		BatchID:            batch.ID,
		Filename:           batch.Filename,
		Headers:            uc.peekHeaders(ctx, parser, batch.FileKey),
		OriginalParser:     batch.ParserID,
		OriginalDocType:    batch.DocType,
		OriginalConfidence: batch.Confidence,
		CorrectedParser:    parserID,
		CorrectedDocType:   docType,
		Actor:              actor,
	}
	if uc.feedback != nil {
		if _, err := uc.feedback.Record(ctx, entry); err != nil {
			uc.logger.Warn("feedback not recorded", "batch_id", batch.ID, "error", err)
		}
	}
	uc.record(ctx, domain.AuditEvent{
		TenantID: batch.TenantID,
		BatchID:  batch.ID,
		Type:     domain.EventFileAnalyzed,
		Actor:    actor,
		Field:    "parser_id",
		OldValue: batch.ParserID,
		NewValue: parserID,
		Details:  map[string]any{"confirmed": true, "corrected": entry.WasCorrected()},
	})

	batch.ParserID = parserID
	batch.DocType = docType
	batch.RequiresConfirmation = false
	batch.UpdatedAt = uc.now()

	if err := uc.queue.PublishImportRequested(ctx, batch.ID); err != nil {
		return nil, fmt.Errorf("publish import task: %w", err)
	}
	return batch, nil
}

// peekHeaders reads the stored file headers for learning. Failures yield none.
func (uc *IngestUseCase) peekHeaders(ctx context.Context, parser ports.Parser, fileKey string) []string {
	rc, err := uc.storage.Open(ctx, fileKey)
	if err != nil {
		return []string{}
	}
	defer rc.Close()
	peek, err := parser.Peek(ctx, rc, 1)
	if err != nil || peek.Headers == nil {
		return []string{}
	}
	return peek.Headers
}

func (uc *IngestUseCase) record(ctx context.Context, events ...domain.AuditEvent) {
	recordAudit(ctx, uc.audit, uc.logger, events...)
}

// FileKey is the content address of an upload: the first 16 hex digits of
// its SHA-256 followed by the sanitised filename.
func FileKey(content []byte, filename string) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16] + "_" + sanitizeFilename(filename)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}

// recordAudit writes events; failures are logged, never returned.
func recordAudit(ctx context.Context, audit ports.AuditRecorder, logger *slog.Logger, events ...domain.AuditEvent) {
	if audit == nil || len(events) == 0 {
		return
	}
	if err := audit.Record(ctx, events...); err != nil {
		logger.Warn("audit events not recorded", "batch_id", events[0].BatchID, "type", events[0].Type, "error", err)
	}
}
