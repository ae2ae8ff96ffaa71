package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/parsing"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/core/routing"
	"github.com/kirillkom/fiscal-ingest/internal/core/scoring"
)

const (
	DefaultImportBatchSize = 1000
	listPageSize           = 500
)

var (
	errNoRows         = errors.New("file produced no rows")
	errAllItemsFailed = errors.New("every item failed validation")
)

// ImportUseCase parses a batch file into validated items. Runs are resumable:
// rows below the persisted item count are skipped.
type ImportUseCase struct {
	batches   ports.BatchRepository
	items     ports.ItemRepository
	storage   ports.ObjectStorage
	parsers   *parsing.Registry
	mapper    *canonical.Mapper
	validator *canonical.Validator
	router    *routing.Router
	audit     ports.AuditRecorder

	chunkSize int
	now       func() time.Time
	logger    *slog.Logger
}

func NewImportUseCase(
	batches ports.BatchRepository,
	items ports.ItemRepository,
	storage ports.ObjectStorage,
	parsers *parsing.Registry,
	mapper *canonical.Mapper,
	validator *canonical.Validator,
	router *routing.Router,
	audit ports.AuditRecorder,
	chunkSize int,
) *ImportUseCase {
	if chunkSize <= 0 {
		chunkSize = DefaultImportBatchSize
	}
	return &ImportUseCase{
		batches:   batches,
		items:     items,
		storage:   storage,
		parsers:   parsers,
		mapper:    mapper,
		validator: validator,
		router:    router,
		audit:     audit,
		chunkSize: chunkSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "import"),
	}
}

// importRun carries the state of one ImportFile call.
type importRun struct {
	batch    *domain.ImportBatch
	progress domain.ImportProgress
	buffer   []domain.ImportItem
	seen     map[string]int
}

// ImportFile drives the batch PENDING -> PARSING -> READY|PARTIAL|ERROR.
// Terminal batches are returned unchanged.
func (uc *ImportUseCase) ImportFile(ctx context.Context, batchID string) (domain.ImportProgress, error) {
	batch, err := uc.batches.GetBatch(ctx, batchID)
	if err != nil {
		return domain.ImportProgress{}, fmt.Errorf("fetch batch: %w", err)
	}
	if batch.Status.Terminal() {
		uc.logger.Info("batch already imported", "batch_id", batch.ID, "status", batch.Status)
		return uc.finalProgress(ctx, batch, domain.ImportProgress{BatchID: batch.ID, Resumed: batch.ItemCount})
	}
	if batch.ParserID == "" || batch.RequiresConfirmation {
		return domain.ImportProgress{}, domain.WrapError(domain.ErrConflict, "import file", fmt.Errorf("batch %s awaits parser confirmation", batch.ID))
	}
	parser, ok := uc.parsers.Get(batch.ParserID)
	if !ok {
		return uc.fail(ctx, batch, domain.ImportProgress{BatchID: batch.ID},
			domain.WrapError(domain.ErrUnsupported, "import file", fmt.Errorf("parser %s is not registered", batch.ParserID)))
	}

	if err := uc.markStatus(ctx, batch, domain.BatchParsing, ""); err != nil {
		return domain.ImportProgress{}, fmt.Errorf("set status=parsing: %w", err)
	}
	idxBase, err := uc.items.CountItems(ctx, batch.ID)
	if err != nil {
		return domain.ImportProgress{}, fmt.Errorf("count persisted items: %w", err)
	}
	run := &importRun{
		batch:    batch,
		progress: domain.ImportProgress{BatchID: batch.ID, Resumed: idxBase, Status: domain.BatchParsing},
		buffer:   make([]domain.ImportItem, 0, uc.chunkSize),
	}
	if run.seen, err = uc.persistedHashes(ctx, batch.ID); err != nil {
		return run.progress, err
	}
	uc.record(ctx, domain.AuditEvent{
		TenantID: batch.TenantID,
		BatchID:  batch.ID,
		Type:     domain.EventBatchParsing,
		Details:  map[string]any{"parser_id": batch.ParserID, "resume_from": idxBase},
	})

	rc, err := uc.storage.Open(ctx, batch.FileKey)
	if err != nil {
		return uc.fail(ctx, batch, run.progress, fmt.Errorf("open stored file: %w", err))
	}
	defer rc.Close()

	parseErr := parser.Parse(ctx, rc, func(row ports.Row) error {
		if row.Index < idxBase {
			return nil
		}
		uc.appendItem(run, row)
		if len(run.buffer) >= uc.chunkSize {
			return uc.flush(ctx, run)
		}
		return nil
	})
	if parseErr == nil {
		parseErr = uc.flush(ctx, run)
	}
	if parseErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return run.progress, ctxErr
		}
		return uc.fail(ctx, batch, run.progress, fmt.Errorf("parse %s: %w", batch.ParserID, parseErr))
	}
	return uc.complete(ctx, batch, run.progress)
}

// appendItem maps, validates and fingerprints one row into the buffer.
func (uc *ImportUseCase) appendItem(run *importRun, row ports.Row) {
	batch := run.batch
	now := uc.now()
	item := domain.ImportItem{
		ID:             uuid.NewString(),
		BatchID:        batch.ID,
		TenantID:       batch.TenantID,
		Index:          row.Index,
		Raw:            row.Fields,
		IdempotencyKey: domain.IdempotencyKey(batch.TenantID, batch.FileKey, row.Index),
		Status:         domain.ItemOK,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if item.Raw == nil {
		item.Raw = map[string]any{}
	}

	mapped := uc.mapper.Map(batch.DocType, item.Raw, canonical.MapContext{
		Source:     batch.SourceType,
		Confidence: batch.Confidence,
	})
	errs := append([]domain.ImportError{}, mapped.Errors...)
	for _, msg := range row.Errors {
		errs = append(errs, domain.ImportError{
			Category: domain.CategoryValidation,
			Severity: domain.SeverityError,
			Message:  msg,
		})
	}
	errs = append(errs, uc.validator.Validate(mapped.Doc).Errors...)

	item.Normalized = mapped.Normalized
	item.CanonicalDoc = mapped.Doc
	if mapped.Doc != nil {
		uc.router.Propose(mapped.Doc)
		if hash, err := scoring.FingerprintDocument(mapped.Doc); err == nil {
			item.DedupeHash = hash
		}
	}

	switch {
	case domain.HasBlocking(errs):
		item.Status = domain.ItemErrorValidation
	case item.DedupeHash != "":
		if first, dup := run.seen[item.DedupeHash]; dup {
			item.Status = domain.ItemSkipped
			errs = append(errs, domain.ImportError{
				Category:   domain.CategoryValidation,
				Severity:   domain.SeverityWarning,
				Message:    fmt.Sprintf("duplicate of row %d in this file", first+1),
				Suggestion: "remove the repeated row or correct one of them",
			})
		} else {
			run.seen[item.DedupeHash] = row.Index
		}
	}
	item.Errors = domain.WithRow(errs, row.Index+1)
	run.buffer = append(run.buffer, item)
}

// flush commits the buffered items as one chunk, records one ITEM_VALIDATED
// event per committed item and logs progress. A failed chunk records nothing.
func (uc *ImportUseCase) flush(ctx context.Context, run *importRun) error {
	if len(run.buffer) == 0 {
		return nil
	}
	if err := uc.items.InsertItems(ctx, run.buffer); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	events := make([]domain.AuditEvent, 0, len(run.buffer))
	for i := range run.buffer {
		events = append(events, itemValidatedEvent(&run.buffer[i]))
	}
	uc.record(ctx, events...)

	for _, item := range run.buffer {
		run.progress.Processed++
		run.progress.Created++
		switch item.Status {
		case domain.ItemOK:
			run.progress.Validated++
		case domain.ItemErrorValidation:
			run.progress.Failed++
		case domain.ItemSkipped:
			run.progress.Skipped++
		}
	}
	run.buffer = run.buffer[:0]
	if err := uc.batches.UpdateBatchItemCount(ctx, run.batch.ID, run.progress.Resumed+run.progress.Created); err != nil {
		return fmt.Errorf("update item count: %w", err)
	}
	uc.logger.Info("import progress",
		"batch_id", run.batch.ID,
		"processed", run.progress.Processed,
		"created", run.progress.Created,
		"validated", run.progress.Validated,
		"failed", run.progress.Failed,
	)
	return nil
}

// complete derives the final status from every persisted item, including
// those of earlier runs.
func (uc *ImportUseCase) complete(ctx context.Context, batch *domain.ImportBatch, progress domain.ImportProgress) (domain.ImportProgress, error) {
	counts, err := uc.items.CountItemsByStatus(ctx, batch.ID)
	if err != nil {
		return progress, fmt.Errorf("count items: %w", err)
	}
	if err := uc.batches.UpdateBatchItemCount(ctx, batch.ID, counts.Total); err != nil {
		return progress, fmt.Errorf("update item count: %w", err)
	}

	switch {
	case counts.Total == 0:
		return uc.fail(ctx, batch, progress, errNoRows)
	case counts.Validated() == 0 && counts.Failed > 0:
		return uc.fail(ctx, batch, progress, errAllItemsFailed)
	}
	status := domain.BatchReady
	if counts.Failed > 0 {
		status = domain.BatchPartial
	}
	if err := uc.markStatus(ctx, batch, status, ""); err != nil {
		return progress, fmt.Errorf("set status=%s: %w", status, err)
	}
	progress.Status = status
	uc.record(ctx, domain.AuditEvent{
		TenantID: batch.TenantID,
		BatchID:  batch.ID,
		Type:     domain.EventBatchCompleted,
		Details: map[string]any{
			"status":    status,
			"total":     counts.Total,
			"validated": counts.Validated(),
			"failed":    counts.Failed,
			"skipped":   counts.Skipped,
		},
	})
	uc.logger.Info("import finished", "batch_id", batch.ID, "status", status, "total", counts.Total, "failed", counts.Failed)
	return progress, nil
}

// fail marks the batch ERROR. The message is kept on the batch; a later run
// resumes from the persisted offset. Empty files and all-failed batches are
// outcomes and return no error.
func (uc *ImportUseCase) fail(ctx context.Context, batch *domain.ImportBatch, progress domain.ImportProgress, cause error) (domain.ImportProgress, error) {
	progress.Status = domain.BatchError
	if err := uc.markStatus(ctx, batch, domain.BatchError, cause.Error()); err != nil {
		return progress, fmt.Errorf("%w; mark failed status: %v", cause, err)
	}
	uc.record(ctx, domain.AuditEvent{
		TenantID: batch.TenantID,
		BatchID:  batch.ID,
		Type:     domain.EventBatchFailed,
		Details:  map[string]any{"error": cause.Error()},
	})
	uc.logger.Warn("import failed", "batch_id", batch.ID, "parser_id", batch.ParserID, "error", cause)
	if errors.Is(cause, errNoRows) || errors.Is(cause, errAllItemsFailed) {
		return progress, nil
	}
	return progress, cause
}

func (uc *ImportUseCase) finalProgress(ctx context.Context, batch *domain.ImportBatch, progress domain.ImportProgress) (domain.ImportProgress, error) {
	counts, err := uc.items.CountItemsByStatus(ctx, batch.ID)
	if err != nil {
		return progress, fmt.Errorf("count items: %w", err)
	}
	progress.Validated = counts.Validated()
	progress.Failed = counts.Failed
	progress.Skipped = counts.Skipped
	progress.Status = batch.Status
	return progress, nil
}

// persistedHashes loads dedupe hashes of items stored by earlier runs so a
// resumed import still detects duplicates across the resume point.
func (uc *ImportUseCase) persistedHashes(ctx context.Context, batchID string) (map[string]int, error) {
	seen := map[string]int{}
	after := -1
	for {
		page, err := uc.items.ListItems(ctx, ports.ItemFilter{BatchID: batchID, AfterIndex: after, Limit: listPageSize})
		if err != nil {
			return nil, fmt.Errorf("list persisted items: %w", err)
		}
		for _, item := range page {
			if item.DedupeHash != "" && item.Status != domain.ItemErrorValidation && item.Status != domain.ItemSkipped {
				if _, ok := seen[item.DedupeHash]; !ok {
					seen[item.DedupeHash] = item.Index
				}
			}
			after = item.Index
		}
		if len(page) < listPageSize {
			return seen, nil
		}
	}
}

func (uc *ImportUseCase) markStatus(ctx context.Context, batch *domain.ImportBatch, status domain.BatchStatus, errMessage string) error {
	if err := uc.batches.UpdateBatchStatus(ctx, batch.ID, status, errMessage); err != nil {
		return err
	}
	batch.Status = status
	batch.ErrorMessage = errMessage
	return nil
}

func itemValidatedEvent(item *domain.ImportItem) domain.AuditEvent {
	return domain.AuditEvent{
		TenantID: item.TenantID,
		BatchID:  item.BatchID,
		ItemID:   item.ID,
		Type:     domain.EventItemValidated,
		Details: map[string]any{
			"index":  item.Index,
			"status": item.Status,
			"errors": len(item.Errors),
		},
	}
}

func (uc *ImportUseCase) record(ctx context.Context, events ...domain.AuditEvent) {
	recordAudit(ctx, uc.audit, uc.logger, events...)
}
