package scoring

import (
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

type orderedA struct {
	B string `json:"b"`
	A string `json:"a"`
}

type orderedB struct {
	A string `json:"a"`
	B string `json:"b"`
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	first, err := Fingerprint(orderedA{B: "2", A: "1"})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	second, err := Fingerprint(orderedB{A: "1", B: "2"})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if first != second {
		t.Fatalf("expected equal fingerprints, got %s vs %s", first, second)
	}

	nested, _ := Fingerprint(map[string]any{"x": map[string]any{"b": 2, "a": 1}})
	nestedStruct, _ := Fingerprint(map[string]any{"x": orderedA{B: "2", A: "1"}})
	if nested == nestedStruct {
		t.Fatalf("different values must not collide")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256, got %q", first)
	}
}

func TestFingerprintSliceOrderIsSignificant(t *testing.T) {
	a, _ := Fingerprint([]int{1, 2})
	b, _ := Fingerprint([]int{2, 1})
	if a == b {
		t.Fatalf("slice order must change the fingerprint")
	}
}

func TestFingerprintDocumentIgnoresProvenance(t *testing.T) {
	first, _ := domain.NewBankTxDocument(domain.Envelope{Source: "a.csv", Confidence: 0.9}, domain.BankTx{
		Amount: domain.Float(10), Direction: domain.DirectionDebit, ValueDate: "2025-01-01",
	})
	second := first.Clone()
	second.Source = "b.xlsx"
	second.Confidence = 0.4
	second.RoutingProposal = &domain.RoutingProposal{Target: "bank_movements"}

	h1, err := FingerprintDocument(first)
	if err != nil {
		t.Fatalf("FingerprintDocument() error = %v", err)
	}
	h2, _ := FingerprintDocument(second)
	if h1 != h2 {
		t.Fatalf("provenance must not change the fingerprint")
	}

	second.BankTx.Amount = domain.Float(11)
	h3, _ := FingerprintDocument(second)
	if h3 == h1 {
		t.Fatalf("content change must change the fingerprint")
	}
	if first.Source != "a.csv" {
		t.Fatalf("fingerprinting must not mutate the input")
	}
}

func TestFingerprintKeepsLargeIntegers(t *testing.T) {
	a, err := Fingerprint(map[string]any{"n": int64(9007199254740993)})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, err := Fingerprint(map[string]any{"n": int64(9007199254740992)})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if a == b {
		t.Fatalf("integers beyond float64 precision must not collide")
	}
}
