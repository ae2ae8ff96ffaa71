package countrypack

import (
	"strings"
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	return reg
}

func TestDefaultRegistryCurrencies(t *testing.T) {
	reg := mustDefault(t)

	es, ok := reg.Get("ES")
	if !ok {
		t.Fatalf("expected ES pack")
	}
	if es.Currency() != "EUR" {
		t.Fatalf("expected ES currency EUR, got %s", es.Currency())
	}
	ec, ok := reg.Get("ec")
	if !ok {
		t.Fatalf("expected case-insensitive lookup for ec")
	}
	if ec.Currency() != "USD" {
		t.Fatalf("expected EC currency USD, got %s", ec.Currency())
	}
	if !reg.SupportsCurrency("gbp") {
		t.Fatalf("expected extra supported currency GBP")
	}
	if reg.SupportsCountry("ZZ") {
		t.Fatalf("unexpected support for ZZ")
	}
}

func TestValidateTaxID(t *testing.T) {
	reg := mustDefault(t)
	cases := []struct {
		country string
		id      string
		want    bool
	}{
		{"EC", "1234567890", true},
		{"EC", "1234567890001", true},
		{"EC", "invalid", false},
		{"EC", "", false},
		{"ES", "12345678Z", true},
		{"ES", "B-1234567-4", true},
		{"ES", "X1234567L", true},
		{"ES", "1234", false},
		{"MX", "XAXX010101000", true},
		{"PE", "20123456789", true},
		{"PE", "30123456789", false},
	}
	for _, tc := range cases {
		pack, ok := reg.Get(tc.country)
		if !ok {
			t.Fatalf("missing pack %s", tc.country)
		}
		if got := pack.ValidateTaxID(tc.id); got != tc.want {
			t.Fatalf("%s.ValidateTaxID(%q) = %v, want %v", tc.country, tc.id, got, tc.want)
		}
	}
}

func TestNormalizeDateUsesCountryLayouts(t *testing.T) {
	reg := mustDefault(t)
	es, _ := reg.Get("ES")

	got, ok := es.NormalizeDate("15/01/2025")
	if !ok || got != "2025-01-15" {
		t.Fatalf("expected 2025-01-15, got %q ok=%v", got, ok)
	}
	if _, ok := es.NormalizeDate("2025/15/01"); ok {
		t.Fatalf("expected unsupported layout to fail")
	}

	us, _ := reg.Get("US")
	got, ok = us.NormalizeDate("01/15/2025")
	if !ok || got != "2025-01-15" {
		t.Fatalf("expected US month-first layout, got %q ok=%v", got, ok)
	}
}

func TestValidateFiscalFieldsCollectsEveryDefect(t *testing.T) {
	reg := mustDefault(t)
	ec, _ := reg.Get("EC")

	doc, err := domain.NewInvoiceDocument(domain.Envelope{
		Country:   "EC",
		Currency:  "EUR",
		IssueDate: "2025-13-45",
	}, domain.InvoiceFields{
		InvoiceNumber: "001-001-000000123",
		Vendor:        &domain.Party{Name: "ACME", TaxID: "invalid"},
		Buyer:         &domain.Party{Name: "Foreign Co", TaxID: "whatever", Country: "US"},
		Totals: &domain.Totals{TaxBreakdown: []domain.TaxBreakdownEntry{
			{Code: "IVA", Rate: domain.Float(21), Amount: domain.Float(21)},
		}},
	})
	if err != nil {
		t.Fatalf("NewInvoiceDocument() error = %v", err)
	}

	errs := ec.ValidateFiscalFields(doc)
	fields := make(map[string]domain.Severity)
	for _, e := range errs {
		fields[e.CanonicalField] = e.Severity
	}
	if fields["currency"] != domain.SeverityWarning {
		t.Fatalf("expected currency warning, got %+v", errs)
	}
	if fields["issue_date"] != domain.SeverityError {
		t.Fatalf("expected issue_date error, got %+v", errs)
	}
	if fields["vendor.tax_id"] != domain.SeverityError {
		t.Fatalf("expected vendor tax id error, got %+v", errs)
	}
	if _, ok := fields["buyer.tax_id"]; ok {
		t.Fatalf("foreign buyer must not be checked against EC rules")
	}
	if fields["totals.tax_breakdown.rate"] != domain.SeverityWarning {
		t.Fatalf("expected non-standard rate warning, got %+v", errs)
	}
}

func TestLoadRejectsDuplicatePacks(t *testing.T) {
	const raw = `
packs:
  - code: EC
    currency: USD
  - code: ec
    currency: USD
`
	_, err := Load(strings.NewReader(raw))
	if err == nil || !strings.Contains(err.Error(), "registered twice") {
		t.Fatalf("expected duplicate pack error, got %v", err)
	}
}

func TestLoadRejectsBadPattern(t *testing.T) {
	const raw = `
packs:
  - code: EC
    currency: USD
    tax_id:
      patterns: ['([']
`
	if _, err := Load(strings.NewReader(raw)); err == nil {
		t.Fatalf("expected compile error")
	}
}
