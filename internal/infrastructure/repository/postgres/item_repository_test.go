package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

var itemColumnNames = []string{"id", "batch_id", "tenant_id", "idx", "raw", "normalized", "canonical_doc", "idempotency_key",
	"dedupe_hash", "status", "errors", "promoted_target", "promoted_id", "promoted_at", "created_at", "updated_at"}

func TestInsertItemsUsesOneTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewItemRepository(db)
	now := time.Now().UTC()
	items := []domain.ImportItem{
		{ID: "i-0", BatchID: "b-1", TenantID: "t-1", Index: 0, IdempotencyKey: "t-1:k:0", Status: domain.ItemOK, CreatedAt: now, UpdatedAt: now},
		{ID: "i-1", BatchID: "b-1", TenantID: "t-1", Index: 1, IdempotencyKey: "t-1:k:1", Status: domain.ItemErrorValidation, CreatedAt: now, UpdatedAt: now},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("ON CONFLICT \\(batch_id, idx\\) DO NOTHING")
	prep.ExpectExec().WithArgs("i-0", "b-1", "t-1", 0, []byte("{}"), []byte("{}"), sqlmock.AnyArg(), "t-1:k:0", "",
		"OK", []byte("[]"), "", "", sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("i-1", "b-1", "t-1", 1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "t-1:k:1", "",
		"ERROR_VALIDATION", sqlmock.AnyArg(), "", "", sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.InsertItems(context.Background(), items); err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestListItemsBuildsFilteredQuery(t *testing.T) {
	db, mock := newMock(t)
	repo := NewItemRepository(db)
	now := time.Now().UTC()

	doc := `{"doc_type":"bank_tx","bank_tx":{"amount":45.1,"direction":"debit","value_date":"2025-01-15"}}`
	rows := sqlmock.NewRows(itemColumnNames).
		AddRow("i-3", "b-1", "t-1", 3, []byte(`{"importe":"-45.10"}`), []byte(`{}`), []byte(doc), "t-1:k:3", "abc",
			"OK", []byte(`[]`), "", "", nil, now, now)
	mock.ExpectQuery("WHERE batch_id = \\$1 AND idx > \\$2 AND status = \\$3 ORDER BY idx LIMIT \\$4").
		WithArgs("b-1", 2, "OK", 10).
		WillReturnRows(rows)

	items, err := repo.ListItems(context.Background(), ports.ItemFilter{BatchID: "b-1", Status: domain.ItemOK, AfterIndex: 2, Limit: 10})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 1 || items[0].Index != 3 || items[0].PromotedAt != nil {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].CanonicalDoc == nil || items[0].CanonicalDoc.BankTx == nil || items[0].CanonicalDoc.BankTx.ValueDate != "2025-01-15" {
		t.Fatalf("canonical doc not decoded: %+v", items[0].CanonicalDoc)
	}
	if items[0].Raw["importe"] != "-45.10" {
		t.Fatalf("raw not decoded: %+v", items[0].Raw)
	}
	expectationsMet(t, mock)
}

func TestCountItemsByStatusAggregates(t *testing.T) {
	db, mock := newMock(t)
	repo := NewItemRepository(db)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("OK", 5).
		AddRow("ERROR_VALIDATION", 2).
		AddRow("PROMOTED", 3).
		AddRow("SKIPPED", 1)
	mock.ExpectQuery("GROUP BY status").WithArgs("b-1").WillReturnRows(rows)

	counts, err := repo.CountItemsByStatus(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("CountItemsByStatus() error = %v", err)
	}
	if counts.Total != 11 || counts.Validated() != 8 || counts.Failed != 2 || counts.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	expectationsMet(t, mock)
}

func TestUpdateItemRefusesPromotedItem(t *testing.T) {
	db, mock := newMock(t)
	repo := NewItemRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec("WHERE id = \\$1 AND status <> 'PROMOTED'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM import_items WHERE id = \\$1").
		WithArgs("i-1").
		WillReturnRows(sqlmock.NewRows(itemColumnNames).
			AddRow("i-1", "b-1", "t-1", 1, []byte(`{}`), []byte(`{}`), nil, "t-1:k:1", "", "PROMOTED", []byte(`[]`),
				"bank_movements", "d-1", now, now, now))

	err := repo.UpdateItem(context.Background(), &domain.ImportItem{ID: "i-1", Status: domain.ItemOK, UpdatedAt: now})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateItemMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewItemRepository(db)

	mock.ExpectExec("UPDATE import_items").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM import_items WHERE id = \\$1").WithArgs("gone").WillReturnError(sql.ErrNoRows)

	err := repo.UpdateItem(context.Background(), &domain.ImportItem{ID: "gone"})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}
