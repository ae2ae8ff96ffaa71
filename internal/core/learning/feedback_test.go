package learning

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

type feedbackRepoFake struct {
	entries []domain.FeedbackEntry
	listErr error
}

func (f *feedbackRepoFake) AppendFeedback(_ context.Context, entry *domain.FeedbackEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *feedbackRepoFake) ListFeedback(_ context.Context, filter ports.FeedbackFilter) ([]domain.FeedbackEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.FeedbackEntry, 0, len(f.entries))
	for _, e := range f.entries {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.CorrectedOnly && !e.WasCorrected() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func entry(tenant, original, corrected string, originalType, correctedType domain.DocType, headers ...string) domain.FeedbackEntry {
	return domain.FeedbackEntry{
		TenantID:         tenant,
		Filename:         "file.csv",
		Headers:          headers,
		OriginalParser:   original,
		OriginalDocType:  originalType,
		CorrectedParser:  corrected,
		CorrectedDocType: correctedType,
	}
}

func TestRecordFillsIdentity(t *testing.T) {
	repo := &feedbackRepoFake{}
	svc := NewFeedbackService(repo, 0)

	got, err := svc.Record(context.Background(), entry("t1", "csv_invoice", "csv_expense", domain.DocTypeInvoice, domain.DocTypeExpense))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got.ID == "" || got.CreatedAt.IsZero() || len(repo.entries) != 1 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	svc := NewFeedbackService(&feedbackRepoFake{}, 0)
	cases := []domain.FeedbackEntry{
		entry("", "a", "b", domain.DocTypeInvoice, domain.DocTypeInvoice),
		entry("t1", "a", "", domain.DocTypeInvoice, domain.DocTypeInvoice),
		entry("t1", "a", "b", domain.DocTypeInvoice, "receipt"),
	}
	for i, c := range cases {
		if _, err := svc.Record(context.Background(), c); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestAccuracyStats(t *testing.T) {
	repo := &feedbackRepoFake{entries: []domain.FeedbackEntry{
		entry("t1", "csv_invoice", "csv_invoice", domain.DocTypeInvoice, domain.DocTypeInvoice),
		entry("t1", "csv_invoice", "csv_expense", domain.DocTypeInvoice, domain.DocTypeExpense),
		entry("t1", "csv_bank_tx", "csv_bank_tx", domain.DocTypeBankTx, domain.DocTypeBankTx),
		entry("t1", "csv_product", "csv_expense", domain.DocTypeProduct, domain.DocTypeExpense),
		entry("t2", "csv_invoice", "csv_expense", domain.DocTypeInvoice, domain.DocTypeExpense),
	}}
	svc := NewFeedbackService(repo, 0)

	stats, err := svc.AccuracyStats(context.Background(), "t1")
	if err != nil {
		t.Fatalf("AccuracyStats() error = %v", err)
	}
	if stats.Total != 4 || stats.Correct != 2 || stats.Corrected != 2 || stats.AccuracyRate != 0.5 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if inv := stats.ByDocType[domain.DocTypeInvoice]; inv.Total != 2 || inv.Corrected != 1 || inv.AccuracyRate != 0.5 {
		t.Fatalf("unexpected invoice accuracy: %+v", inv)
	}
	if len(stats.MostCorrectedParsers) != 2 || stats.MostCorrectedParsers[0].ParserID != "csv_invoice" {
		t.Fatalf("unexpected most corrected: %+v", stats.MostCorrectedParsers)
	}

	all, _ := svc.AccuracyStats(context.Background(), "")
	if all.Total != 5 || all.MostCorrectedParsers[0].Count != 2 {
		t.Fatalf("unexpected global stats: %+v", all)
	}
}

func TestTrainingDataFloor(t *testing.T) {
	repo := &feedbackRepoFake{}
	for i := 0; i < 49; i++ {
		repo.entries = append(repo.entries, entry(fmt.Sprintf("t%d", i%3), "csv_invoice", "csv_expense", domain.DocTypeInvoice, domain.DocTypeExpense, "concepto"))
	}
	for i := 0; i < 10; i++ {
		repo.entries = append(repo.entries, entry("t1", "csv_invoice", "csv_invoice", domain.DocTypeInvoice, domain.DocTypeInvoice, "numero"))
	}
	svc := NewFeedbackService(repo, 50)

	samples, err := svc.TrainingData(context.Background(), 0)
	if err != nil {
		t.Fatalf("TrainingData() error = %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("confirmations must not count toward the floor, got %d samples", len(samples))
	}

	repo.entries = append(repo.entries, entry("t1", "csv_invoice", "csv_bank_tx", domain.DocTypeInvoice, domain.DocTypeBankTx, "fecha"))
	samples, _ = svc.TrainingData(context.Background(), 50)
	if len(samples) != 50 {
		t.Fatalf("expected 50 corrected samples, got %d", len(samples))
	}
	for _, s := range samples {
		if s.Parser == "csv_invoice" {
			t.Fatalf("confirmed entries must not become samples: %+v", s)
		}
	}
	if last := samples[49]; last.Parser != "csv_bank_tx" || last.DocType != domain.DocTypeBankTx {
		t.Fatalf("samples must carry the corrected label: %+v", last)
	}
}

func TestHintFor(t *testing.T) {
	repo := &feedbackRepoFake{entries: []domain.FeedbackEntry{
		entry("t1", "csv_invoice", "csv_expense", domain.DocTypeInvoice, domain.DocTypeExpense, "Concepto", "Importe"),
		entry("t1", "csv_invoice", "csv_expense", domain.DocTypeInvoice, domain.DocTypeExpense, "importe", "concepto"),
		entry("t1", "csv_invoice", "csv_invoice", domain.DocTypeInvoice, domain.DocTypeInvoice, "concepto", "importe"),
		entry("t1", "csv_bank_tx", "csv_bank_tx", domain.DocTypeBankTx, domain.DocTypeBankTx, "fecha", "importe"),
		entry("t2", "csv_invoice", "csv_product", domain.DocTypeInvoice, domain.DocTypeProduct, "concepto", "importe"),
	}}
	svc := NewFeedbackService(repo, 0)

	hint, ok := svc.HintFor(context.Background(), "t1", []string{"IMPORTE", "Concepto"})
	if !ok || hint.ParserID != "csv_expense" || hint.DocType != domain.DocTypeExpense || hint.Support != 2 {
		t.Fatalf("unexpected hint: %+v %v", hint, ok)
	}
	if _, ok := svc.HintFor(context.Background(), "t3", []string{"concepto", "importe"}); ok {
		t.Fatalf("unknown tenant must have no hint")
	}

	repo.listErr = errors.New("db down")
	if _, ok := svc.HintFor(context.Background(), "t1", []string{"concepto", "importe"}); ok {
		t.Fatalf("repository failure must yield no hint")
	}
}
