package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

type ItemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, batch_id, tenant_id, idx, raw, normalized, canonical_doc, idempotency_key, dedupe_hash,
	status, errors, promoted_target, promoted_id, promoted_at, created_at, updated_at`

// InsertItems writes one buffer in a single transaction. Rows already stored
// for the same (batch_id, idx) are left untouched.
func (r *ItemRepository) InsertItems(ctx context.Context, items []domain.ImportItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin items tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO import_items (`+itemColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (batch_id, idx) DO NOTHING
`)
	if err != nil {
		return fmt.Errorf("prepare item insert: %w", err)
	}
	defer stmt.Close()

	for i := range items {
		args, err := itemArgs(&items[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert item %d: %w", items[i].Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit items tx: %w", err)
	}
	return nil
}

func itemArgs(item *domain.ImportItem) ([]any, error) {
	raw, err := marshalJSON(item.Raw, "{}")
	if err != nil {
		return nil, fmt.Errorf("marshal raw: %w", err)
	}
	normalized, err := marshalJSON(item.Normalized, "{}")
	if err != nil {
		return nil, fmt.Errorf("marshal normalized: %w", err)
	}
	var doc any
	if item.CanonicalDoc != nil {
		if doc, err = marshalJSON(item.CanonicalDoc, "null"); err != nil {
			return nil, fmt.Errorf("marshal canonical doc: %w", err)
		}
	}
	errs, err := marshalJSON(item.Errors, "[]")
	if err != nil {
		return nil, fmt.Errorf("marshal errors: %w", err)
	}
	return []any{
		item.ID, item.BatchID, item.TenantID, item.Index, raw, normalized, doc, item.IdempotencyKey, item.DedupeHash,
		string(item.Status), errs, item.PromotedTarget, item.PromotedID, item.PromotedAt, item.CreatedAt, item.UpdatedAt,
	}, nil
}

func (r *ItemRepository) CountItems(ctx context.Context, batchID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_items WHERE batch_id = $1`, batchID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func (r *ItemRepository) CountItemsByStatus(ctx context.Context, batchID string) (domain.ItemCounts, error) {
	var counts domain.ItemCounts
	rows, err := r.db.QueryContext(ctx, `
SELECT status, COUNT(*)
FROM import_items
WHERE batch_id = $1
GROUP BY status
`, batchID)
	if err != nil {
		return counts, fmt.Errorf("count items by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan status count: %w", err)
		}
		counts.Total += n
		switch domain.ItemStatus(status) {
		case domain.ItemOK:
			counts.OK = n
		case domain.ItemErrorValidation:
			counts.Failed = n
		case domain.ItemPromoted:
			counts.Promoted = n
		case domain.ItemSkipped:
			counts.Skipped = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// ListItems returns items with idx > AfterIndex in index order.
func (r *ItemRepository) ListItems(ctx context.Context, filter ports.ItemFilter) ([]domain.ImportItem, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + itemColumns + ` FROM import_items WHERE batch_id = $1 AND idx > $2`)
	args := []any{filter.BatchID, filter.AfterIndex}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	sb.WriteString(" ORDER BY idx")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ImportItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func (r *ItemRepository) GetItem(ctx context.Context, id string) (*domain.ImportItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM import_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("import item", id)
		}
		return nil, err
	}
	return &item, nil
}

// UpdateItem rewrites the mutable columns of a non-promoted item.
func (r *ItemRepository) UpdateItem(ctx context.Context, item *domain.ImportItem) error {
	normalized, err := marshalJSON(item.Normalized, "{}")
	if err != nil {
		return fmt.Errorf("marshal normalized: %w", err)
	}
	doc, err := marshalJSON(item.CanonicalDoc, "null")
	if err != nil {
		return fmt.Errorf("marshal canonical doc: %w", err)
	}
	errs, err := marshalJSON(item.Errors, "[]")
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE import_items
SET normalized = $2, canonical_doc = $3, dedupe_hash = $4, status = $5, errors = $6, updated_at = $7
WHERE id = $1 AND status <> 'PROMOTED'
`, item.ID, normalized, doc, item.DedupeHash, string(item.Status), errs, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetItem(ctx, item.ID); err != nil {
		return err
	}
	return domain.WrapError(domain.ErrConflict, "update item", fmt.Errorf("item %s is promoted", item.ID))
}

func (r *ItemRepository) MarkItemPromoted(ctx context.Context, id, target, domainID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE import_items
SET status = 'PROMOTED', promoted_target = $2, promoted_id = $3, promoted_at = $4, updated_at = $4
WHERE id = $1
`, id, target, domainID, at)
	if err != nil {
		return fmt.Errorf("mark item promoted: %w", err)
	}
	return requireAffected(res, "import item", id)
}

func scanItem(s scanner) (domain.ImportItem, error) {
	var item domain.ImportItem
	var raw, normalized, doc, errs []byte
	var status string
	var promotedAt sql.NullTime
	err := s.Scan(
		&item.ID, &item.BatchID, &item.TenantID, &item.Index, &raw, &normalized, &doc, &item.IdempotencyKey, &item.DedupeHash,
		&status, &errs, &item.PromotedTarget, &item.PromotedID, &promotedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return item, err
		}
		return item, fmt.Errorf("scan item: %w", err)
	}
	item.Status = domain.ItemStatus(status)
	if promotedAt.Valid {
		t := promotedAt.Time
		item.PromotedAt = &t
	}
	if err := unmarshalJSON(raw, &item.Raw); err != nil {
		return item, fmt.Errorf("unmarshal raw: %w", err)
	}
	if err := unmarshalJSON(normalized, &item.Normalized); err != nil {
		return item, fmt.Errorf("unmarshal normalized: %w", err)
	}
	if len(doc) > 0 && string(doc) != "null" {
		item.CanonicalDoc = &domain.CanonicalDocument{}
		if err := unmarshalJSON(doc, item.CanonicalDoc); err != nil {
			return item, fmt.Errorf("unmarshal canonical doc: %w", err)
		}
	}
	if err := unmarshalJSON(errs, &item.Errors); err != nil {
		return item, fmt.Errorf("unmarshal errors: %w", err)
	}
	return item, nil
}
