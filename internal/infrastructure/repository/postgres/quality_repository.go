package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

type QualityRepository struct {
	db *sql.DB
}

func NewQualityRepository(db *sql.DB) *QualityRepository {
	return &QualityRepository{db: db}
}

func (r *QualityRepository) RecordMetrics(ctx context.Context, metrics []domain.QualityMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, m := range metrics {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO quality_metrics (tenant_id, doc_type, name, value, sample_size, batch_id, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, m.TenantID, string(m.DocType), m.Name, m.Value, m.SampleSize, m.BatchID, m.RecordedAt); err != nil {
			return fmt.Errorf("insert metric %s: %w", m.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics tx: %w", err)
	}
	return nil
}

func (r *QualityRepository) ListMetrics(ctx context.Context, filter ports.QualityFilter) ([]domain.QualityMetric, error) {
	var sb strings.Builder
	sb.WriteString(`
SELECT tenant_id, doc_type, name, value, sample_size, batch_id, recorded_at
FROM quality_metrics
WHERE TRUE`)
	args := make([]any, 0, 3)
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		fmt.Fprintf(&sb, " AND tenant_id = $%d", len(args))
	}
	if filter.DocType != "" {
		args = append(args, string(filter.DocType))
		fmt.Fprintf(&sb, " AND doc_type = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		fmt.Fprintf(&sb, " AND recorded_at >= $%d", len(args))
	}
	sb.WriteString(" ORDER BY recorded_at")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QualityMetric, 0)
	for rows.Next() {
		var m domain.QualityMetric
		var docType string
		if err := rows.Scan(&m.TenantID, &docType, &m.Name, &m.Value, &m.SampleSize, &m.BatchID, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.DocType = domain.DocType(docType)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}
