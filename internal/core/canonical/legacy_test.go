package canonical

import (
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func TestConvertLegacyInvoice(t *testing.T) {
	m := NewMapper(testRegistry(t))
	doc, err := m.ConvertLegacyToCanonical(map[string]any{
		"documentoTipo": "factura",
		"fecha":         "15/01/2025",
		"numeroFactura": "A-17",
		"proveedor":     "Suministros SL",
		"nif":           "B12345674",
		"base":          "100,00",
		"iva":           "21,00",
		"importe":       "121,00",
		"moneda":        "eur",
		"pais":          "es",
	})
	if err != nil {
		t.Fatalf("ConvertLegacyToCanonical() error = %v", err)
	}
	if doc.DocType != domain.DocTypeInvoice || doc.InvoiceNumber != "A-17" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if doc.IssueDate != "2025-01-15" || doc.Currency != "EUR" || doc.Country != "ES" {
		t.Fatalf("unexpected envelope: %+v", doc.Envelope)
	}
	if *doc.Totals.Subtotal != 100 || *doc.Totals.Tax != 21 || *doc.Totals.Total != 121 {
		t.Fatalf("unexpected totals: %+v", doc.Totals)
	}
	if res := NewValidator(testRegistry(t)).Validate(doc); !res.Valid {
		t.Fatalf("expected converted invoice to validate, got %+v", res.Errors)
	}
}

func TestConvertLegacyMovementNegativeIsDebit(t *testing.T) {
	m := NewMapper(testRegistry(t))
	doc, err := m.ConvertLegacyToCanonical(map[string]any{
		"documentoTipo": "movimiento",
		"fecha":         "2025-03-01",
		"concepto":      "Comision mantenimiento",
		"importe":       -4.5,
	})
	if err != nil {
		t.Fatalf("ConvertLegacyToCanonical() error = %v", err)
	}
	if doc.BankTx.Direction != domain.DirectionDebit || *doc.BankTx.Amount != 4.5 {
		t.Fatalf("unexpected tx: %+v", doc.BankTx)
	}
	if doc.BankTx.ValueDate != "2025-03-01" || doc.BankTx.Narrative != "Comision mantenimiento" {
		t.Fatalf("unexpected tx fields: %+v", doc.BankTx)
	}
}

func TestDetectAndConvert(t *testing.T) {
	m := NewMapper(testRegistry(t))

	doc, converted, err := m.DetectAndConvert(map[string]any{"documentoTipo": "gasto", "importe": "9.99", "concepto": "Taxi"})
	if err != nil || !converted {
		t.Fatalf("expected legacy conversion, converted=%v err=%v", converted, err)
	}
	if doc.DocType != domain.DocTypeExpense || doc.Expense.Description != "Taxi" {
		t.Fatalf("unexpected doc: %+v", doc)
	}

	doc, converted, err = m.DetectAndConvert(map[string]any{
		"doc_type":       "invoice",
		"invoice_number": "X-1",
	})
	if err != nil || converted {
		t.Fatalf("expected canonical passthrough, converted=%v err=%v", converted, err)
	}
	if doc.InvoiceFields == nil || doc.InvoiceNumber != "X-1" {
		t.Fatalf("unexpected canonical doc: %+v", doc)
	}

	if _, _, err := m.DetectAndConvert(map[string]any{"foo": "bar"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestResolveDocTypeAliases(t *testing.T) {
	cases := map[string]domain.DocType{
		"Factura":  domain.DocTypeInvoice,
		"ticket":   domain.DocTypeExpenseReceipt,
		"Extracto": domain.DocTypeBankTx,
		"artículo": domain.DocTypeProduct,
		"bank_tx":  domain.DocTypeBankTx,
	}
	for in, want := range cases {
		got, ok := ResolveDocType(in)
		if !ok || got != want {
			t.Fatalf("ResolveDocType(%q) = %s,%v want %s", in, got, ok, want)
		}
	}
}
