package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, tenant_id, source_type, origin, filename, content_type, file_key, parser_id, doc_type,
	confidence, requires_confirmation, status, error_message, item_count, created_at, updated_at`

func (r *BatchRepository) CreateBatch(ctx context.Context, b *domain.ImportBatch) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO import_batches (`+batchColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		b.ID, b.TenantID, b.SourceType, b.Origin, b.Filename, b.ContentType, b.FileKey, b.ParserID, string(b.DocType),
		b.Confidence, b.RequiresConfirmation, string(b.Status), b.ErrorMessage, b.ItemCount, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)

	var b domain.ImportBatch
	var docType, status string
	err := row.Scan(
		&b.ID, &b.TenantID, &b.SourceType, &b.Origin, &b.Filename, &b.ContentType, &b.FileKey, &b.ParserID, &docType,
		&b.Confidence, &b.RequiresConfirmation, &status, &b.ErrorMessage, &b.ItemCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("import batch", id)
		}
		return nil, fmt.Errorf("scan import batch: %w", err)
	}
	b.DocType = domain.DocType(docType)
	b.Status = domain.BatchStatus(status)
	return &b, nil
}

func (r *BatchRepository) UpdateBatchStatus(ctx context.Context, id string, status domain.BatchStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE import_batches
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return requireAffected(res, "import batch", id)
}

func (r *BatchRepository) UpdateBatchParser(ctx context.Context, id, parserID string, docType domain.DocType) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE import_batches
SET parser_id = $2, doc_type = $3, requires_confirmation = FALSE, updated_at = $4
WHERE id = $1
`, id, parserID, string(docType), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch parser: %w", err)
	}
	return requireAffected(res, "import batch", id)
}

func (r *BatchRepository) UpdateBatchItemCount(ctx context.Context, id string, itemCount int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE import_batches
SET item_count = $2, updated_at = $3
WHERE id = $1
`, id, itemCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch item count: %w", err)
	}
	return requireAffected(res, "import batch", id)
}
