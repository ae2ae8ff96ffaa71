package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS import_batches (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	source_type TEXT NOT NULL,
	origin TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	file_key TEXT NOT NULL,
	parser_id TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	requires_confirmation BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	item_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_batches_tenant ON import_batches(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_import_batches_status ON import_batches(status);

CREATE TABLE IF NOT EXISTS import_items (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES import_batches(id),
	tenant_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	raw JSONB NOT NULL DEFAULT '{}'::jsonb,
	normalized JSONB NOT NULL DEFAULT '{}'::jsonb,
	canonical_doc JSONB,
	idempotency_key TEXT NOT NULL,
	dedupe_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	errors JSONB NOT NULL DEFAULT '[]'::jsonb,
	promoted_target TEXT NOT NULL DEFAULT '',
	promoted_id TEXT NOT NULL DEFAULT '',
	promoted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (batch_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_import_items_status ON import_items(batch_id, status, idx);
CREATE INDEX IF NOT EXISTS idx_import_items_dedupe ON import_items(tenant_id, dedupe_hash);

CREATE TABLE IF NOT EXISTS promotion_ledger (
	tenant_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	dedupe_hash TEXT NOT NULL DEFAULT '',
	item_id TEXT NOT NULL DEFAULT '',
	target TEXT NOT NULL,
	domain_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_promotion_ledger_dedupe ON promotion_ledger(tenant_id, dedupe_hash, created_at);

CREATE TABLE IF NOT EXISTS invoices (
	tenant_id TEXT NOT NULL,
	id TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE TABLE IF NOT EXISTS expenses (
	tenant_id TEXT NOT NULL,
	id TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE TABLE IF NOT EXISTS bank_movements (
	tenant_id TEXT NOT NULL,
	id TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE TABLE IF NOT EXISTS inventory (
	tenant_id TEXT NOT NULL,
	id TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS parser_feedback (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL,
	headers JSONB NOT NULL DEFAULT '[]'::jsonb,
	original_parser TEXT NOT NULL DEFAULT '',
	original_doc_type TEXT NOT NULL DEFAULT '',
	original_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	corrected_parser TEXT NOT NULL,
	corrected_doc_type TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_parser_feedback_tenant ON parser_feedback(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS quality_metrics (
	id BIGSERIAL PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	name TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	sample_size INTEGER NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quality_metrics_lookup ON quality_metrics(tenant_id, doc_type, recorded_at);

CREATE TABLE IF NOT EXISTS audit_events (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	tenant_id TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	item_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	field TEXT NOT NULL DEFAULT '',
	old_value JSONB,
	new_value JSONB,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_batch ON audit_events(batch_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_item ON audit_events(item_id, occurred_at);
`

// EnsureSchema creates every table the ingest pipeline writes to.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker and CLI startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func notFound(what, id string) error {
	return domain.WrapError(domain.ErrNotFound, "postgres", fmt.Errorf("%s not found: %s", what, id))
}

// requireAffected maps a zero-row UPDATE to ErrNotFound.
func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

// marshalJSON encodes v, substituting fallback for nil values so NOT NULL
// JSONB columns get an empty object or array.
func marshalJSON(v any, fallback string) ([]byte, error) {
	if v == nil {
		return []byte(fallback), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return []byte(fallback), nil
	}
	return raw, nil
}

func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

type scanner interface {
	Scan(dest ...any) error
}
