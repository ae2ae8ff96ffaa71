package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

// AuditRepository is append-only: events are never updated or deleted.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) AppendEvents(ctx context.Context, events []domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, e := range events {
		oldValue, err := marshalValue(e.OldValue)
		if err != nil {
			return fmt.Errorf("marshal old value: %w", err)
		}
		newValue, err := marshalValue(e.NewValue)
		if err != nil {
			return fmt.Errorf("marshal new value: %w", err)
		}
		details, err := marshalJSON(e.Details, "{}")
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_events (id, tenant_id, batch_id, item_id, type, actor, field, old_value, new_value, details, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, e.ID, e.TenantID, e.BatchID, e.ItemID, string(e.Type), e.Actor, e.Field, oldValue, newValue, details, e.OccurredAt); err != nil {
			return fmt.Errorf("insert audit event %s: %w", e.Type, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// marshalValue keeps SQL NULL for absent correction values.
func marshalValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return marshalJSON(v, "null")
}

func (r *AuditRepository) ListEvents(ctx context.Context, filter ports.AuditFilter) ([]domain.AuditEvent, error) {
	var sb strings.Builder
	sb.WriteString(`
SELECT seq, id, tenant_id, batch_id, item_id, type, actor, field, old_value, new_value, details, occurred_at
FROM audit_events
WHERE TRUE`)
	args := make([]any, 0, 2+len(filter.Types))
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		fmt.Fprintf(&sb, " AND batch_id = $%d", len(args))
	}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		fmt.Fprintf(&sb, " AND item_id = $%d", len(args))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			args = append(args, string(t))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		sb.WriteString(" AND type IN (" + strings.Join(placeholders, ", ") + ")")
	}
	sb.WriteString(" ORDER BY occurred_at, seq")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var e domain.AuditEvent
		var eventType string
		var oldValue, newValue, details []byte
		if err := rows.Scan(&e.Seq, &e.ID, &e.TenantID, &e.BatchID, &e.ItemID, &eventType, &e.Actor, &e.Field,
			&oldValue, &newValue, &details, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = domain.AuditEventType(eventType)
		if err := unmarshalJSON(oldValue, &e.OldValue); err != nil {
			return nil, fmt.Errorf("unmarshal old value: %w", err)
		}
		if err := unmarshalJSON(newValue, &e.NewValue); err != nil {
			return nil, fmt.Errorf("unmarshal new value: %w", err)
		}
		if err := unmarshalJSON(details, &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
