package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/core/routing"
)

const systemActor = "system"

// PromoteUseCase projects validated items into domain tables exactly once
// per idempotency key.
type PromoteUseCase struct {
	batches   ports.BatchRepository
	items     ports.ItemRepository
	ledger    ports.PromotionLedger
	router    *routing.Router
	validator *canonical.Validator
	audit     ports.AuditRecorder

	pageSize int
	now      func() time.Time
	logger   *slog.Logger
}

func NewPromoteUseCase(
	batches ports.BatchRepository,
	items ports.ItemRepository,
	ledger ports.PromotionLedger,
	router *routing.Router,
	validator *canonical.Validator,
	audit ports.AuditRecorder,
) *PromoteUseCase {
	return &PromoteUseCase{
		batches:   batches,
		items:     items,
		ledger:    ledger,
		router:    router,
		validator: validator,
		audit:     audit,
		pageSize:  listPageSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "promote"),
	}
}

// PromoteBatch promotes every OK item of a READY or PARTIAL batch, serially
// and page by page. Temporary failures abort the run so it can be retried;
// other item failures are counted and skipped.
func (uc *PromoteUseCase) PromoteBatch(ctx context.Context, batchID string) (domain.PromoteSummary, error) {
	summary := domain.PromoteSummary{BatchID: batchID, ByTarget: map[string]int{}}
	batch, err := uc.batches.GetBatch(ctx, batchID)
	if err != nil {
		return summary, fmt.Errorf("fetch batch: %w", err)
	}
	if !batch.Status.Terminal() {
		return summary, domain.WrapError(domain.ErrConflict, "promote batch", fmt.Errorf("batch %s is %s", batch.ID, batch.Status))
	}

	after := -1
	for {
		page, err := uc.items.ListItems(ctx, ports.ItemFilter{BatchID: batch.ID, Status: domain.ItemOK, AfterIndex: after, Limit: uc.pageSize})
		if err != nil {
			return summary, fmt.Errorf("list promotable items: %w", err)
		}
		for i := range page {
			item := &page[i]
			after = item.Index
			res, err := uc.promote(ctx, batch, item, systemActor)
			if err != nil {
				if ctx.Err() != nil || domain.IsKind(err, domain.ErrTemporary) {
					return summary, err
				}
				summary.Failed++
				uc.logger.Warn("item not promoted", "batch_id", batch.ID, "item_id", item.ID, "error", err)
				continue
			}
			switch {
			case res.Target == routing.TargetUnknown || res.Target == routing.TargetUnmapped:
				summary.Unmapped++
			case res.Skipped:
				summary.Skipped++
			default:
				summary.Promoted++
				summary.ByTarget[res.Target]++
			}
		}
		if len(page) < uc.pageSize {
			break
		}
	}

	uc.logger.Info("batch promoted",
		"batch_id", batch.ID,
		"promoted", summary.Promoted,
		"skipped", summary.Skipped,
		"unmapped", summary.Unmapped,
		"failed", summary.Failed,
	)
	return summary, nil
}

// PromoteItem promotes a single item on behalf of actor.
func (uc *PromoteUseCase) PromoteItem(ctx context.Context, itemID, actor string) (domain.PromoteResult, error) {
	item, err := uc.items.GetItem(ctx, itemID)
	if err != nil {
		return domain.PromoteResult{}, fmt.Errorf("fetch item: %w", err)
	}
	batch, err := uc.batches.GetBatch(ctx, item.BatchID)
	if err != nil {
		return domain.PromoteResult{}, fmt.Errorf("fetch batch: %w", err)
	}
	if actor == "" {
		actor = systemActor
	}
	return uc.promote(ctx, batch, item, actor)
}

func (uc *PromoteUseCase) promote(ctx context.Context, batch *domain.ImportBatch, item *domain.ImportItem, actor string) (domain.PromoteResult, error) {
	switch item.Status {
	case domain.ItemPromoted:
		return domain.PromoteResult{DomainID: item.PromotedID, Target: item.PromotedTarget, Skipped: true}, nil
	case domain.ItemOK:
	default:
		return domain.PromoteResult{}, domain.WrapError(domain.ErrConflict, "promote item", fmt.Errorf("item %s is %s", item.ID, item.Status))
	}

	doc := item.CanonicalDoc
	result := uc.validator.Validate(doc)
	if !result.Valid {
		item.Status = domain.ItemErrorValidation
		item.Errors = domain.WithRow(result.Errors, item.Index+1)
		item.UpdatedAt = uc.now()
		if err := uc.items.UpdateItem(ctx, item); err != nil {
			return domain.PromoteResult{}, fmt.Errorf("store revalidation errors: %w", err)
		}
		return domain.PromoteResult{}, domain.WrapError(domain.ErrInvalidInput, "promote item", errors.New("canonical document no longer validates"))
	}

	prior, err := uc.priorPromotion(ctx, item)
	if err != nil {
		return domain.PromoteResult{}, err
	}
	if prior != nil {
		res := domain.PromoteResult{DomainID: prior.DomainID, Target: prior.Target, Skipped: true}
		return res, uc.markPromoted(ctx, batch, item, res, actor, "ledger")
	}

	res, err := uc.router.PromoteCanonical(ctx, doc, "", routing.PromoteContext{TenantID: item.TenantID, ItemID: item.ID, Actor: actor})
	if err != nil {
		return domain.PromoteResult{}, fmt.Errorf("promote canonical: %w", err)
	}
	if res.DomainID == "" {
		return res, nil
	}

	winner, claimed, err := uc.ledger.Claim(ctx, domain.PromotionRecord{
		TenantID:       item.TenantID,
		IdempotencyKey: item.IdempotencyKey,
		DedupeHash:     item.DedupeHash,
		ItemID:         item.ID,
		Target:         res.Target,
		DomainID:       res.DomainID,
		CreatedAt:      uc.now(),
	})
	if err != nil {
		return domain.PromoteResult{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	reason := "domain_row_exists"
	if !claimed && winner != nil {
		res = domain.PromoteResult{DomainID: winner.DomainID, Target: winner.Target, Skipped: true}
		reason = "lost_claim"
	}
	if !res.Skipped {
		reason = ""
	}
	return res, uc.markPromoted(ctx, batch, item, res, actor, reason)
}

// priorPromotion looks the item up in the ledger by idempotency key, then by
// dedupe hash.
func (uc *PromoteUseCase) priorPromotion(ctx context.Context, item *domain.ImportItem) (*domain.PromotionRecord, error) {
	rec, err := uc.ledger.FindByIdempotencyKey(ctx, item.TenantID, item.IdempotencyKey)
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("ledger lookup by key: %w", err)
	}
	if rec != nil {
		return rec, nil
	}
	if item.DedupeHash == "" {
		return nil, nil
	}
	rec, err = uc.ledger.FindByDedupeHash(ctx, item.TenantID, item.DedupeHash)
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("ledger lookup by hash: %w", err)
	}
	return rec, nil
}

func (uc *PromoteUseCase) markPromoted(ctx context.Context, batch *domain.ImportBatch, item *domain.ImportItem, res domain.PromoteResult, actor, reason string) error {
	now := uc.now()
	if err := uc.items.MarkItemPromoted(ctx, item.ID, res.Target, res.DomainID, now); err != nil {
		return fmt.Errorf("mark item promoted: %w", err)
	}
	item.Status = domain.ItemPromoted
	item.PromotedTarget = res.Target
	item.PromotedID = res.DomainID
	item.PromotedAt = &now

	eventType := domain.EventItemPromoted
	details := map[string]any{"target": res.Target, "domain_id": res.DomainID}
	if res.Skipped {
		eventType = domain.EventItemSkipped
		details["reason"] = reason
	}
	recordAudit(ctx, uc.audit, uc.logger, domain.AuditEvent{
		TenantID: batch.TenantID,
		BatchID:  batch.ID,
		ItemID:   item.ID,
		Type:     eventType,
		Actor:    actor,
		Details:  details,
	})
	return nil
}
