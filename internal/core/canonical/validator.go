package canonical

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

var totalsTolerance = decimal.RequireFromString("0.01")

type ValidationResult struct {
	Valid  bool                 `json:"valid"`
	Errors []domain.ImportError `json:"errors"`
}

// Validator runs the generic canonical checks and the country pack checks.
type Validator struct {
	packs *countrypack.Registry
}

func NewValidator(packs *countrypack.Registry) *Validator {
	return &Validator{packs: packs}
}

// Validate concatenates generic and country errors. Neither stage stops the other.
func (v *Validator) Validate(doc *domain.CanonicalDocument) ValidationResult {
	_, errs := v.ValidateCanonical(doc)
	if doc != nil && doc.Country != "" && v.packs != nil {
		if pack, ok := v.packs.Get(doc.Country); ok {
			errs = append(errs, pack.ValidateFiscalFields(doc)...)
		}
	}
	return ValidationResult{Valid: !domain.HasBlocking(errs), Errors: errs}
}

// ValidateCanonical checks shape only: doc type, enumerations, date format,
// required fields per doc type, field validators, totals and tax breakdown.
func (v *Validator) ValidateCanonical(doc *domain.CanonicalDocument) (bool, []domain.ImportError) {
	errs := make([]domain.ImportError, 0)
	if doc == nil {
		errs = append(errs, missing("doc_type", "document is empty"))
		return false, errs
	}
	if doc.DocType == "" {
		errs = append(errs, missing("doc_type", "doc_type is required"))
		return false, errs
	}
	if !doc.DocType.Valid() {
		errs = append(errs, invalid("doc_type", fmt.Sprintf("unknown doc_type %q", doc.DocType), "use one of invoice, expense_receipt, bank_tx, product, expense, other"))
		return false, errs
	}

	if doc.Country != "" && v.packs != nil && !v.packs.SupportsCountry(doc.Country) {
		errs = append(errs, invalid("country", fmt.Sprintf("country %q is not supported", doc.Country), "supported: "+strings.Join(v.packs.Codes(), ", ")))
	}

	if payloadName, missingPayload := v.missingPayload(doc); missingPayload {
		errs = append(errs, missing(payloadName, fmt.Sprintf("%s payload is required for doc_type %s", payloadName, doc.DocType)))
	}

	schema := SchemaFor(doc.DocType)
	for _, field := range schema.Fields() {
		value, present := GetField(doc, field.Path)
		if !present {
			if field.Required {
				errs = append(errs, missing(field.Path, fmt.Sprintf("%s is required for %s", field.Path, doc.DocType)))
			}
			continue
		}
		errs = append(errs, v.runChecks(field, value)...)
	}

	if doc.InvoiceFields != nil && doc.Totals != nil {
		errs = append(errs, ValidateTotals(doc.Totals)...)
		errs = append(errs, ValidateTaxBreakdown(doc.Totals.TaxBreakdown)...)
	}
	return !domain.HasBlocking(errs), errs
}

func (v *Validator) missingPayload(doc *domain.CanonicalDocument) (string, bool) {
	switch doc.DocType {
	case domain.DocTypeInvoice, domain.DocTypeExpenseReceipt:
		return "invoice_fields", doc.InvoiceFields == nil
	case domain.DocTypeBankTx:
		return "bank_tx", doc.BankTx == nil
	case domain.DocTypeProduct:
		return "product", doc.Product == nil
	case domain.DocTypeExpense:
		return "expense", doc.Expense == nil
	case domain.DocTypeOther:
		return "", false
	}
	return "", false
}

func (v *Validator) runChecks(field FieldSpec, value any) []domain.ImportError {
	var errs []domain.ImportError
	for _, check := range field.Validators {
		switch check {
		case CheckISODate:
			s, _ := value.(string)
			if _, err := time.Parse("2006-01-02", s); err != nil {
				errs = append(errs, invalid(field.Path, fmt.Sprintf("%s %q is not a YYYY-MM-DD date", field.Path, s), "use YYYY-MM-DD"))
			}
		case CheckCurrency:
			s, _ := value.(string)
			if v.packs != nil && !v.packs.SupportsCurrency(s) {
				errs = append(errs, invalid(field.Path, fmt.Sprintf("currency %q is not supported", s), "supported: "+strings.Join(v.packs.Currencies(), ", ")))
			}
		case CheckDirection:
			s, _ := value.(string)
			if !domain.BankDirection(s).Valid() {
				errs = append(errs, invalid(field.Path, fmt.Sprintf("direction %q must be debit or credit", s), "use debit or credit"))
			}
		case CheckNonNegative:
			if f, ok := value.(float64); ok && f < 0 {
				errs = append(errs, invalid(field.Path, fmt.Sprintf("%s must not be negative", field.Path), ""))
			}
		}
	}
	return errs
}

// ValidateTotals checks |subtotal + tax - total| <= 0.01 when all three are present.
func ValidateTotals(t *domain.Totals) []domain.ImportError {
	if t == nil || t.Subtotal == nil || t.Tax == nil || t.Total == nil {
		return nil
	}
	subtotal := decimal.NewFromFloat(*t.Subtotal)
	tax := decimal.NewFromFloat(*t.Tax)
	total := decimal.NewFromFloat(*t.Total)
	sum := subtotal.Add(tax)
	if sum.Sub(total).Abs().LessThanOrEqual(totalsTolerance) {
		return nil
	}
	return []domain.ImportError{invalid(
		"totals.total",
		fmt.Sprintf("totals mismatch: subtotal + tax = %s no cuadra con total %s", sum.StringFixed(2), total.StringFixed(2)),
		fmt.Sprintf("expected total %s", sum.StringFixed(2)),
	)}
}

// ValidateTaxBreakdown requires a code and an amount on every entry.
func ValidateTaxBreakdown(entries []domain.TaxBreakdownEntry) []domain.ImportError {
	var errs []domain.ImportError
	for i, entry := range entries {
		field := fmt.Sprintf("totals.tax_breakdown[%d]", i)
		if strings.TrimSpace(entry.Code) == "" {
			e := missing("totals.tax_breakdown.code", field+".code is required")
			e.FieldName = field + ".code"
			errs = append(errs, e)
		}
		if entry.Amount == nil {
			e := missing("totals.tax_breakdown.amount", field+".amount is required")
			e.FieldName = field + ".amount"
			errs = append(errs, e)
		}
	}
	return errs
}

func missing(path, message string) domain.ImportError {
	return domain.ImportError{
		FieldName:      path,
		CanonicalField: path,
		Category:       domain.CategoryMissingField,
		Severity:       domain.SeverityError,
		Message:        message,
	}
}

func invalid(path, message, suggestion string) domain.ImportError {
	return domain.ImportError{
		FieldName:      path,
		CanonicalField: path,
		Category:       domain.CategoryValidation,
		Severity:       domain.SeverityError,
		Message:        message,
		Suggestion:     suggestion,
	}
}
