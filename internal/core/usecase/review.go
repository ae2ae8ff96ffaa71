package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/core/routing"
	"github.com/kirillkom/fiscal-ingest/internal/core/scoring"
)

// ReviewUseCase serves operators: batch reports and manual item corrections.
type ReviewUseCase struct {
	batches   ports.BatchRepository
	items     ports.ItemRepository
	packs     *countrypack.Registry
	validator *canonical.Validator
	router    *routing.Router
	audit     ports.AuditRecorder

	now    func() time.Time
	logger *slog.Logger
}

func NewReviewUseCase(
	batches ports.BatchRepository,
	items ports.ItemRepository,
	packs *countrypack.Registry,
	validator *canonical.Validator,
	router *routing.Router,
	audit ports.AuditRecorder,
) *ReviewUseCase {
	return &ReviewUseCase{
		batches:   batches,
		items:     items,
		packs:     packs,
		validator: validator,
		router:    router,
		audit:     audit,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "review"),
	}
}

// CorrectItem sets one canonical field of a non-promoted item, re-validates
// it and records the change with old and new values.
func (uc *ReviewUseCase) CorrectItem(ctx context.Context, itemID, field string, value any, actor string) (*domain.ImportItem, error) {
	item, err := uc.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("fetch item: %w", err)
	}
	if item.Status == domain.ItemPromoted {
		return nil, domain.WrapError(domain.ErrConflict, "correct item", fmt.Errorf("item %s is already promoted", item.ID))
	}
	if item.CanonicalDoc == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "correct item", errors.New("item has no canonical document"))
	}

	doc := item.CanonicalDoc.Clone()
	oldValue, _ := canonical.GetField(doc, field)
	if err := canonical.SetField(doc, field, value, uc.pack(doc.Country)); err != nil {
		return nil, err
	}
	newValue, _ := canonical.GetField(doc, field)

	result := uc.validator.Validate(doc)
	uc.router.Propose(doc)
	item.CanonicalDoc = doc
	item.Errors = domain.WithRow(result.Errors, item.Index+1)
	if hash, err := scoring.FingerprintDocument(doc); err == nil {
		item.DedupeHash = hash
	}
	if item.Normalized == nil {
		item.Normalized = map[string]any{}
	}
	item.Normalized[field] = newValue
	switch {
	case !result.Valid:
		item.Status = domain.ItemErrorValidation
	case item.Status == domain.ItemErrorValidation:
		item.Status = domain.ItemOK
	}
	item.UpdatedAt = uc.now()
	if err := uc.items.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	recordAudit(ctx, uc.audit, uc.logger, domain.AuditEvent{
		TenantID: item.TenantID,
		BatchID:  item.BatchID,
		ItemID:   item.ID,
		Type:     domain.EventItemCorrected,
		Actor:    actor,
		Field:    field,
		OldValue: oldValue,
		NewValue: newValue,
		Details:  map[string]any{"status": item.Status, "valid": result.Valid},
	}, itemValidatedEvent(item))
	if err := uc.refreshBatchStatus(ctx, item.BatchID); err != nil {
		uc.logger.Warn("batch status not refreshed", "batch_id", item.BatchID, "error", err)
	}
	return item, nil
}

// refreshBatchStatus moves a finished batch between READY and PARTIAL after
// a correction changed its failure count.
func (uc *ReviewUseCase) refreshBatchStatus(ctx context.Context, batchID string) error {
	batch, err := uc.batches.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.Status.Terminal() {
		return nil
	}
	counts, err := uc.items.CountItemsByStatus(ctx, batchID)
	if err != nil {
		return err
	}
	status := domain.BatchReady
	if counts.Failed > 0 {
		status = domain.BatchPartial
	}
	if status == batch.Status {
		return nil
	}
	return uc.batches.UpdateBatchStatus(ctx, batchID, status, "")
}

// BatchReport returns the batch, its item counts and every failed item.
func (uc *ReviewUseCase) BatchReport(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	batch, err := uc.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	counts, err := uc.items.CountItemsByStatus(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	report := &domain.BatchReport{Batch: *batch, Counts: counts, FailedItems: []domain.ImportItem{}}
	after := -1
	for {
		page, err := uc.items.ListItems(ctx, ports.ItemFilter{BatchID: batchID, Status: domain.ItemErrorValidation, AfterIndex: after, Limit: listPageSize})
		if err != nil {
			return nil, fmt.Errorf("list failed items: %w", err)
		}
		report.FailedItems = append(report.FailedItems, page...)
		if len(page) < listPageSize {
			return report, nil
		}
		after = page[len(page)-1].Index
	}
}

func (uc *ReviewUseCase) pack(country string) *countrypack.Pack {
	if uc.packs == nil || country == "" {
		return nil
	}
	if p, ok := uc.packs.Get(country); ok {
		return p
	}
	return nil
}
