package canonical

import (
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"Número de Factura": "numero_de_factura",
		"numeroFactura":     "numero_factura",
		" Fecha-Valor ":     "fecha_valor",
		"IVA":               "iva",
		"Base Imponible":    "base_imponible",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseAmountLocales(t *testing.T) {
	cases := []struct {
		in           string
		decimalComma bool
		want         string
	}{
		{"1.234,56", true, "1234.56"},
		{"1,234.56", false, "1234.56"},
		{"(200)", false, "-200"},
		{"200-", false, "-200"},
		{"$ 15.00", false, "15"},
		{"€1.500", true, "1500"},
		{"12,5", true, "12.5"},
		{"1,234", false, "1234"},
		{"S/ 45.90", false, "45.9"},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in, tc.decimalComma)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error = %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseAmount(%q) = %s, want %s", tc.in, got.String(), tc.want)
		}
	}
	if _, err := ParseAmount("abc", false); err == nil {
		t.Fatalf("expected error for non-numeric amount")
	}
}

func TestMapBankRowDerivesDirectionFromSign(t *testing.T) {
	m := NewMapper(testRegistry(t))
	res := m.Map(domain.DocTypeBankTx, map[string]any{
		"Fecha":    "15/01/2025",
		"Concepto": "Pago proveedor",
		"Importe":  "-1.234,56",
	}, MapContext{Country: "ES", Source: "extracto.csv", Confidence: 0.9})

	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	tx := res.Doc.BankTx
	if tx == nil || tx.Amount == nil {
		t.Fatalf("expected bank tx amount, got %+v", res.Doc)
	}
	if *tx.Amount != 1234.56 || tx.Direction != domain.DirectionDebit {
		t.Fatalf("unexpected amount/direction: %v %s", *tx.Amount, tx.Direction)
	}
	if tx.ValueDate != "2025-01-15" || res.Doc.IssueDate != "2025-01-15" {
		t.Fatalf("unexpected dates: %q %q", tx.ValueDate, res.Doc.IssueDate)
	}
	if res.Doc.Currency != "EUR" || res.Doc.Country != "ES" {
		t.Fatalf("expected pack defaults, got %s/%s", res.Doc.Country, res.Doc.Currency)
	}
	if res.Normalized["bank_tx.narrative"] != "Pago proveedor" {
		t.Fatalf("unexpected normalized view: %+v", res.Normalized)
	}
}

func TestMapBankRowSplitColumns(t *testing.T) {
	m := NewMapper(testRegistry(t))
	res := m.Map(domain.DocTypeBankTx, map[string]any{
		"fecha": "2025-02-01",
		"cargo": "",
		"abono": "250.00",
	}, MapContext{})
	tx := res.Doc.BankTx
	if tx.Amount == nil || *tx.Amount != 250 || tx.Direction != domain.DirectionCredit {
		t.Fatalf("unexpected tx: %+v", tx)
	}
}

func TestMapExplicitDirectionWins(t *testing.T) {
	m := NewMapper(testRegistry(t))
	res := m.Map(domain.DocTypeBankTx, map[string]any{
		"date":   "2025-02-01",
		"amount": "80",
		"type":   "DR",
	}, MapContext{})
	if res.Doc.BankTx.Direction != domain.DirectionDebit || *res.Doc.BankTx.Amount != 80 {
		t.Fatalf("unexpected tx: %+v", res.Doc.BankTx)
	}
}

func TestMapReportsTypeMismatch(t *testing.T) {
	m := NewMapper(testRegistry(t))
	res := m.Map(domain.DocTypeInvoice, map[string]any{
		"numero": "F-1",
		"total":  "doce",
		"fecha":  "yesterday",
	}, MapContext{Country: "EC"})
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 coercion errors, got %+v", res.Errors)
	}
	for _, e := range res.Errors {
		if e.Category != domain.CategoryTypeMismatch {
			t.Fatalf("unexpected category %s", e.Category)
		}
	}
	if res.Doc.InvoiceNumber != "F-1" {
		t.Fatalf("expected invoice number to survive, got %q", res.Doc.InvoiceNumber)
	}
}

func TestMapUsesCountryAliases(t *testing.T) {
	m := NewMapper(testRegistry(t))
	res := m.Map(domain.DocTypeInvoice, map[string]any{
		"secuencial":    "001-001-000000042",
		"razon_social":  "Comercial Andes",
		"importe_total": "112.00",
		"fecha_emision": "15/01/2025",
	}, MapContext{Country: "EC"})
	if res.Doc.InvoiceNumber != "001-001-000000042" {
		t.Fatalf("expected secuencial alias, got %+v", res.Doc.InvoiceFields)
	}
	if res.Doc.Vendor == nil || res.Doc.Vendor.Name != "Comercial Andes" {
		t.Fatalf("expected vendor name alias, got %+v", res.Doc.Vendor)
	}
	if res.Doc.IssueDate != "2025-01-15" {
		t.Fatalf("unexpected issue date %q", res.Doc.IssueDate)
	}
}

func TestSuggestMapping(t *testing.T) {
	m := NewMapper(testRegistry(t))
	got := m.SuggestMapping(domain.DocTypeProduct, []string{"SKU", "Nombre", "Precio", "Color"}, "")
	if got["SKU"] != "product.sku" || got["Nombre"] != "product.name" || got["Precio"] != "product.unit_price" {
		t.Fatalf("unexpected mapping: %+v", got)
	}
	if _, ok := got["Color"]; ok {
		t.Fatalf("unknown header must not be mapped")
	}
}

func TestSetFieldRejectsForeignPath(t *testing.T) {
	doc, _ := domain.NewProductDocument(domain.Envelope{}, domain.Product{Name: "x"})
	if err := SetField(doc, "invoice_number", "1", nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if doc.InvoiceFields != nil {
		t.Fatalf("foreign path must not create invoice fields")
	}
}
