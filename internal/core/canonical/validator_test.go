package canonical

import (
	"strings"
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func testRegistry(t *testing.T) *countrypack.Registry {
	t.Helper()
	reg, err := countrypack.Default()
	if err != nil {
		t.Fatalf("countrypack.Default() error = %v", err)
	}
	return reg
}

func TestInvoiceValidityDependsOnInvoiceNumber(t *testing.T) {
	v := NewValidator(testRegistry(t))

	withNumber, _ := domain.NewInvoiceDocument(domain.Envelope{}, domain.InvoiceFields{InvoiceNumber: "F-001"})
	if ok, errs := v.ValidateCanonical(withNumber); !ok {
		t.Fatalf("expected invoice with number to be valid, got %+v", errs)
	}

	withoutNumber, _ := domain.NewInvoiceDocument(domain.Envelope{}, domain.InvoiceFields{})
	ok, errs := v.ValidateCanonical(withoutNumber)
	if ok {
		t.Fatalf("expected invoice without number to be invalid")
	}
	if errs[0].CanonicalField != "invoice_number" || errs[0].Category != domain.CategoryMissingField {
		t.Fatalf("unexpected error: %+v", errs[0])
	}
}

func TestValidateTotals(t *testing.T) {
	cases := []struct {
		name  string
		total float64
		valid bool
	}{
		{name: "exact", total: 112, valid: true},
		{name: "mismatch", total: 120, valid: false},
		{name: "within tolerance", total: 112.005, valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := ValidateTotals(&domain.Totals{
				Subtotal: domain.Float(100),
				Tax:      domain.Float(12),
				Total:    domain.Float(tc.total),
			})
			if (len(errs) == 0) != tc.valid {
				t.Fatalf("ValidateTotals(total=%v) errors = %+v, want valid=%v", tc.total, errs, tc.valid)
			}
			if !tc.valid {
				msg := errs[0].Message
				if !strings.Contains(msg, "no cuadra") || !strings.Contains(msg, "mismatch") {
					t.Fatalf("unexpected message %q", msg)
				}
			}
		})
	}
}

func TestValidateTotalsSkipsPartialTotals(t *testing.T) {
	if errs := ValidateTotals(&domain.Totals{Total: domain.Float(10)}); len(errs) != 0 {
		t.Fatalf("expected no errors for partial totals, got %+v", errs)
	}
}

func TestValidateTaxBreakdownRequiresCodeAndAmount(t *testing.T) {
	errs := ValidateTaxBreakdown([]domain.TaxBreakdownEntry{
		{Code: "IVA", Amount: domain.Float(12)},
		{Rate: domain.Float(12)},
	})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %+v", errs)
	}
	if errs[0].FieldName != "totals.tax_breakdown[1].code" {
		t.Fatalf("unexpected field name %q", errs[0].FieldName)
	}
}

func TestValidateBankTxDirection(t *testing.T) {
	v := NewValidator(testRegistry(t))
	doc, _ := domain.NewBankTxDocument(domain.Envelope{}, domain.BankTx{
		Amount:    domain.Float(10),
		Direction: "sideways",
		ValueDate: "2025-01-15",
	})
	ok, errs := v.ValidateCanonical(doc)
	if ok {
		t.Fatalf("expected invalid direction to fail")
	}
	found := false
	for _, e := range errs {
		if e.CanonicalField == "bank_tx.direction" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected direction error, got %+v", errs)
	}
}

func TestValidateRejectsUnsupportedCountryAndCurrency(t *testing.T) {
	v := NewValidator(testRegistry(t))
	doc, _ := domain.NewExpenseDocument(domain.Envelope{Country: "ZZ", Currency: "XXX"}, domain.Expense{Amount: domain.Float(3)})
	ok, errs := v.ValidateCanonical(doc)
	if ok {
		t.Fatalf("expected unsupported enumerations to fail")
	}
	if len(errs) != 2 {
		t.Fatalf("expected country and currency errors, got %+v", errs)
	}
}

func TestValidateAllowsAbsentCountryAndCurrency(t *testing.T) {
	v := NewValidator(testRegistry(t))
	doc, _ := domain.NewProductDocument(domain.Envelope{}, domain.Product{Name: "Widget"})
	if res := v.Validate(doc); !res.Valid {
		t.Fatalf("expected valid product, got %+v", res.Errors)
	}
}

func TestValidateConcatenatesCountryChecks(t *testing.T) {
	v := NewValidator(testRegistry(t))
	doc, _ := domain.NewInvoiceDocument(domain.Envelope{Country: "EC", Currency: "USD", IssueDate: "2025-01-15"}, domain.InvoiceFields{
		Vendor: &domain.Party{Name: "ACME", TaxID: "invalid"},
	})
	res := v.Validate(doc)
	if res.Valid {
		t.Fatalf("expected invalid document")
	}
	var generic, country bool
	for _, e := range res.Errors {
		switch e.CanonicalField {
		case "invoice_number":
			generic = true
		case "vendor.tax_id":
			country = true
		}
	}
	if !generic || !country {
		t.Fatalf("expected generic and country errors, got %+v", res.Errors)
	}
}

func TestValidateUnknownDocType(t *testing.T) {
	v := NewValidator(testRegistry(t))
	ok, errs := v.ValidateCanonical(&domain.CanonicalDocument{Envelope: domain.Envelope{DocType: "memo"}})
	if ok || len(errs) != 1 {
		t.Fatalf("expected a single doc_type error, got %+v", errs)
	}
}
