package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/routing"
)

// LedgerRepository is the promotion ledger plus the destination tables it
// guards.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `tenant_id, idempotency_key, dedupe_hash, item_id, target, domain_id, created_at`

func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.PromotionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+ledgerColumns+`
FROM promotion_ledger
WHERE tenant_id = $1 AND idempotency_key = $2
`, tenantID, key)
	return scanLedger(row)
}

// FindByDedupeHash returns the earliest promotion of identical content.
func (r *LedgerRepository) FindByDedupeHash(ctx context.Context, tenantID, hash string) (*domain.PromotionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+ledgerColumns+`
FROM promotion_ledger
WHERE tenant_id = $1 AND dedupe_hash = $2
ORDER BY created_at
LIMIT 1
`, tenantID, hash)
	return scanLedger(row)
}

func (r *LedgerRepository) Claim(ctx context.Context, rec domain.PromotionRecord) (*domain.PromotionRecord, bool, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO promotion_ledger (`+ledgerColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
`, rec.TenantID, rec.IdempotencyKey, rec.DedupeHash, rec.ItemID, rec.Target, rec.DomainID, rec.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return &rec, true, nil
	}
	winner, err := r.FindByIdempotencyKey(ctx, rec.TenantID, rec.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, domain.WrapError(domain.ErrTemporary, "claim idempotency key", errors.New("conflicting ledger row vanished"))
	}
	return winner, false, nil
}

func scanLedger(row *sql.Row) (*domain.PromotionRecord, error) {
	var rec domain.PromotionRecord
	err := row.Scan(&rec.TenantID, &rec.IdempotencyKey, &rec.DedupeHash, &rec.ItemID, &rec.Target, &rec.DomainID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ledger row: %w", err)
	}
	return &rec, nil
}

var domainTables = map[string]bool{
	routing.TargetInvoices:      true,
	routing.TargetExpenses:      true,
	routing.TargetBankMovements: true,
	routing.TargetInventory:     true,
}

// Upsert inserts a promoted document. It reports false when the row already
// exists; existing rows are never overwritten.
func (r *LedgerRepository) Upsert(ctx context.Context, table, tenantID, domainID string, doc *domain.CanonicalDocument) (bool, error) {
	if !domainTables[table] {
		return false, domain.WrapError(domain.ErrInvalidInput, "upsert domain row", fmt.Errorf("unknown table %q", table))
	}
	payload, err := marshalJSON(doc, "null")
	if err != nil {
		return false, fmt.Errorf("marshal document: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO `+table+` (tenant_id, id, payload, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (tenant_id, id) DO NOTHING
`, tenantID, domainID, payload, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert %s row: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
