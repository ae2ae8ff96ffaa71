package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

type FeedbackRepository struct {
	db *sql.DB
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) AppendFeedback(ctx context.Context, e *domain.FeedbackEntry) error {
	headers, err := marshalJSON(e.Headers, "[]")
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO parser_feedback (
	id, tenant_id, batch_id, filename, headers, original_parser, original_doc_type, original_confidence,
	corrected_parser, corrected_doc_type, actor, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		e.ID, e.TenantID, e.BatchID, e.Filename, headers, e.OriginalParser, string(e.OriginalDocType), e.OriginalConfidence,
		e.CorrectedParser, string(e.CorrectedDocType), e.Actor, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// ListFeedback returns entries newest first.
func (r *FeedbackRepository) ListFeedback(ctx context.Context, filter ports.FeedbackFilter) ([]domain.FeedbackEntry, error) {
	var sb strings.Builder
	sb.WriteString(`
SELECT id, tenant_id, batch_id, filename, headers, original_parser, original_doc_type, original_confidence,
	corrected_parser, corrected_doc_type, actor, created_at
FROM parser_feedback
WHERE TRUE`)
	args := make([]any, 0, 2)
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		fmt.Fprintf(&sb, " AND tenant_id = $%d", len(args))
	}
	if filter.CorrectedOnly {
		sb.WriteString(" AND (original_parser <> corrected_parser OR original_doc_type <> corrected_doc_type)")
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FeedbackEntry, 0)
	for rows.Next() {
		var e domain.FeedbackEntry
		var headers []byte
		var originalDocType, correctedDocType string
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.BatchID, &e.Filename, &headers, &e.OriginalParser, &originalDocType, &e.OriginalConfidence,
			&e.CorrectedParser, &correctedDocType, &e.Actor, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if err := unmarshalJSON(headers, &e.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
		e.OriginalDocType = domain.DocType(originalDocType)
		e.CorrectedDocType = domain.DocType(correctedDocType)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}
