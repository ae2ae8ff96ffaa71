package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

func TestAppendEventsWritesNullForMissingValues(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAuditRepository(db)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("e-1", "t-1", "b-1", "", "IMPORT_STARTED", "", "", nil, nil, []byte(`{"filename":"a.csv"}`), at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("e-2", "t-1", "b-1", "i-1", "ITEM_CORRECTED", "ana", "bank_tx.value_date", []byte(`"2025-01-01"`), []byte(`"2025-01-17"`), []byte(`{}`), at).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repo.AppendEvents(context.Background(), []domain.AuditEvent{
		{ID: "e-1", TenantID: "t-1", BatchID: "b-1", Type: domain.EventImportStarted, Details: map[string]any{"filename": "a.csv"}, OccurredAt: at},
		{ID: "e-2", TenantID: "t-1", BatchID: "b-1", ItemID: "i-1", Type: domain.EventItemCorrected, Actor: "ana",
			Field: "bank_tx.value_date", OldValue: "2025-01-01", NewValue: "2025-01-17", OccurredAt: at},
	})
	if err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestListEventsFiltersByTypes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAuditRepository(db)
	at := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"seq", "id", "tenant_id", "batch_id", "item_id", "type", "actor", "field",
		"old_value", "new_value", "details", "occurred_at"}).
		AddRow(int64(7), "e-2", "t-1", "b-1", "i-1", "ITEM_CORRECTED", "ana", "bank_tx.value_date",
			nil, []byte(`"2025-01-17"`), []byte(`{"valid":true}`), at)
	mock.ExpectQuery("AND item_id = \\$1 AND type IN \\(\\$2, \\$3\\) ORDER BY occurred_at, seq").
		WithArgs("i-1", "ITEM_CORRECTED", "ITEM_PROMOTED").
		WillReturnRows(rows)

	events, err := repo.ListEvents(context.Background(), ports.AuditFilter{
		ItemID: "i-1",
		Types:  []domain.AuditEventType{domain.EventItemCorrected, domain.EventItemPromoted},
	})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Seq != 7 || events[0].OldValue != nil || events[0].NewValue != "2025-01-17" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Details["valid"] != true {
		t.Fatalf("details not decoded: %+v", events[0].Details)
	}
	expectationsMet(t, mock)
}

func TestListFeedbackCorrectedOnly(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFeedbackRepository(db)
	at := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "batch_id", "filename", "headers", "original_parser", "original_doc_type",
		"original_confidence", "corrected_parser", "corrected_doc_type", "actor", "created_at"}).
		AddRow("f-1", "t-1", "b-1", "data.csv", []byte(`["col1","col2"]`), "", "other", 0.1, "csv_product", "product", "ana", at)
	mock.ExpectQuery("AND tenant_id = \\$1 AND \\(original_parser <> corrected_parser").
		WithArgs("t-1", 20).
		WillReturnRows(rows)

	entries, err := repo.ListFeedback(context.Background(), ports.FeedbackFilter{TenantID: "t-1", CorrectedOnly: true, Limit: 20})
	if err != nil {
		t.Fatalf("ListFeedback() error = %v", err)
	}
	if len(entries) != 1 || len(entries[0].Headers) != 2 || entries[0].CorrectedDocType != domain.DocTypeProduct {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	expectationsMet(t, mock)
}

func TestListMetricsSince(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQualityRepository(db)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"tenant_id", "doc_type", "name", "value", "sample_size", "batch_id", "recorded_at"}).
		AddRow("t-1", "bank_tx", "validation_pass_rate", 0.97, 120, "b-1", since.Add(time.Hour))
	mock.ExpectQuery("AND doc_type = \\$1 AND recorded_at >= \\$2").
		WithArgs("bank_tx", since).
		WillReturnRows(rows)

	metrics, err := repo.ListMetrics(context.Background(), ports.QualityFilter{DocType: domain.DocTypeBankTx, Since: since})
	if err != nil {
		t.Fatalf("ListMetrics() error = %v", err)
	}
	if len(metrics) != 1 || metrics[0].SampleSize != 120 || metrics[0].DocType != domain.DocTypeBankTx {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	expectationsMet(t, mock)
}
