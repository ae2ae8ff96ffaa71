// Package audit keeps the append-only history of every batch and item.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

// Trail writes events to the durable log and forwards them to an optional
// sink. Sink failures never fail the caller.
type Trail struct {
	repo   ports.AuditRepository
	sink   ports.AuditSink
	now    func() time.Time
	logger *slog.Logger
}

func NewTrail(repo ports.AuditRepository, sink ports.AuditSink) *Trail {
	return &Trail{
		repo:   repo,
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "audit"),
	}
}

func (t *Trail) Record(ctx context.Context, events ...domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := t.now()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].OccurredAt.IsZero() {
			events[i].OccurredAt = now
		}
	}
	if err := t.repo.AppendEvents(ctx, events); err != nil {
		return fmt.Errorf("append audit events: %w", err)
	}
	if t.sink != nil {
		if err := t.sink.PublishEvents(ctx, events); err != nil {
			t.logger.Warn("audit sink publish failed", "batch_id", events[0].BatchID, "events", len(events), "error", err)
		}
	}
	return nil
}

// ItemHistory lists the corrections applied to an item, oldest first.
func (t *Trail) ItemHistory(ctx context.Context, itemID string) ([]domain.Correction, error) {
	events, err := t.repo.ListEvents(ctx, ports.AuditFilter{ItemID: itemID, Types: []domain.AuditEventType{domain.EventItemCorrected}})
	if err != nil {
		return nil, fmt.Errorf("list item events: %w", err)
	}
	sortChronologically(events)
	out := make([]domain.Correction, 0, len(events))
	for _, e := range events {
		out = append(out, domain.Correction{
			ItemID:     e.ItemID,
			Field:      e.Field,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			Actor:      e.Actor,
			OccurredAt: e.OccurredAt,
		})
	}
	return out, nil
}

// Timeline returns every event of a batch in the order it happened.
func (t *Trail) Timeline(ctx context.Context, batchID string) ([]domain.AuditEvent, error) {
	events, err := t.repo.ListEvents(ctx, ports.AuditFilter{BatchID: batchID})
	if err != nil {
		return nil, fmt.Errorf("list batch events: %w", err)
	}
	sortChronologically(events)
	return events, nil
}

// CorrectedItems counts distinct items of a batch that received corrections.
func (t *Trail) CorrectedItems(ctx context.Context, batchID string) (int, error) {
	events, err := t.repo.ListEvents(ctx, ports.AuditFilter{BatchID: batchID, Types: []domain.AuditEventType{domain.EventItemCorrected}})
	if err != nil {
		return 0, fmt.Errorf("list corrections: %w", err)
	}
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		seen[e.ItemID] = struct{}{}
	}
	return len(seen), nil
}

// ParserCorrected reports whether a reviewer confirmed the batch with a
// parser other than the one the classifier suggested.
func (t *Trail) ParserCorrected(ctx context.Context, batchID string) (bool, error) {
	events, err := t.repo.ListEvents(ctx, ports.AuditFilter{BatchID: batchID, Types: []domain.AuditEventType{domain.EventFileAnalyzed}})
	if err != nil {
		return false, fmt.Errorf("list analysis events: %w", err)
	}
	for _, e := range events {
		if corrected, _ := e.Details["corrected"].(bool); corrected {
			return true, nil
		}
	}
	return false, nil
}

func sortChronologically(events []domain.AuditEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].Seq < events[j].Seq
	})
}
