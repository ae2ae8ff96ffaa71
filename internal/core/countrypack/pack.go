// Package countrypack holds per-country fiscal validation rules: tax id
// formats, accepted date layouts, currency and field aliases. Packs are
// immutable once a Registry is built.
package countrypack

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

const isoLayout = "2006-01-02"

// Definition is the YAML form of a pack.
type Definition struct {
	Code         string            `yaml:"code"`
	Name         string            `yaml:"name"`
	Currency     string            `yaml:"currency"`
	DecimalComma bool              `yaml:"decimal_comma"`
	TaxID        TaxIDDefinition   `yaml:"tax_id"`
	DateFormats  []string          `yaml:"date_formats"`
	TaxRates     []float64         `yaml:"tax_rates"`
	FieldAliases map[string]string `yaml:"field_aliases"`
}

type TaxIDDefinition struct {
	Label    string   `yaml:"label"`
	Patterns []string `yaml:"patterns"`
}

type Pack struct {
	code         string
	name         string
	currency     string
	decimalComma bool
	taxIDLabel   string
	taxIDRules   []*regexp.Regexp
	dateLayouts  []string
	taxRates     []float64
	aliases      map[string]string
}

func NewPack(def Definition) (*Pack, error) {
	code := strings.ToUpper(strings.TrimSpace(def.Code))
	if len(code) != 2 {
		return nil, fmt.Errorf("country pack %q: code must be ISO-3166 alpha-2", def.Code)
	}
	currency := strings.ToUpper(strings.TrimSpace(def.Currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("country pack %s: currency %q must be ISO-4217", code, def.Currency)
	}

	rules := make([]*regexp.Regexp, 0, len(def.TaxID.Patterns))
	for _, pattern := range def.TaxID.Patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("country pack %s: compile tax id pattern %q: %w", code, pattern, err)
		}
		rules = append(rules, re)
	}

	layouts := []string{isoLayout}
	for _, layout := range def.DateFormats {
		if layout != isoLayout {
			layouts = append(layouts, layout)
		}
	}

	aliases := make(map[string]string, len(def.FieldAliases))
	for k, v := range def.FieldAliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	return &Pack{
		code:         code,
		name:         def.Name,
		currency:     currency,
		decimalComma: def.DecimalComma,
		taxIDLabel:   def.TaxID.Label,
		taxIDRules:   rules,
		dateLayouts:  layouts,
		taxRates:     append([]float64(nil), def.TaxRates...),
		aliases:      aliases,
	}, nil
}

func (p *Pack) Code() string       { return p.code }
func (p *Pack) Name() string       { return p.name }
func (p *Pack) String() string     { return p.code }
func (p *Pack) Currency() string   { return p.currency }
func (p *Pack) TaxIDLabel() string { return p.taxIDLabel }

// DecimalComma reports whether amounts in this country use ',' as the decimal separator.
func (p *Pack) DecimalComma() bool { return p.decimalComma }

func (p *Pack) DateLayouts() []string {
	return append([]string(nil), p.dateLayouts...)
}

// Aliases returns raw field name → canonical path aliases specific to the country.
func (p *Pack) Aliases() map[string]string {
	out := make(map[string]string, len(p.aliases))
	for k, v := range p.aliases {
		out[k] = v
	}
	return out
}

// ValidateTaxID reports whether id matches any of the pack's tax id formats.
// Spaces, dots and dashes are ignored. A pack without rules accepts any non-empty id.
func (p *Pack) ValidateTaxID(id string) bool {
	normalized := NormalizeTaxID(id)
	if normalized == "" {
		return false
	}
	if len(p.taxIDRules) == 0 {
		return true
	}
	for _, re := range p.taxIDRules {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// ParseDate parses value with the first matching accepted layout.
func (p *Pack) ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range p.dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate converts an accepted local date into YYYY-MM-DD.
func (p *Pack) NormalizeDate(value string) (string, bool) {
	t, ok := p.ParseDate(value)
	if !ok {
		return "", false
	}
	return t.Format(isoLayout), true
}

func (p *Pack) knownTaxRate(rate float64) bool {
	if len(p.taxRates) == 0 {
		return true
	}
	if rate > 0 && rate < 1 {
		rate *= 100
	}
	for _, r := range p.taxRates {
		if math.Abs(r-rate) < 0.001 {
			return true
		}
	}
	return false
}

// ValidateFiscalFields layers country-specific checks on top of the generic
// canonical validation. It never short-circuits.
func (p *Pack) ValidateFiscalFields(doc *domain.CanonicalDocument) []domain.ImportError {
	errs := make([]domain.ImportError, 0)
	if doc == nil {
		return errs
	}

	if doc.Currency != "" && !strings.EqualFold(doc.Currency, p.currency) {
		errs = append(errs, domain.ImportError{
			FieldName:      "currency",
			CanonicalField: "currency",
			Category:       domain.CategoryValidation,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("currency %s differs from %s local currency %s", doc.Currency, p.code, p.currency),
		})
	}

	errs = append(errs, p.checkDate("issue_date", doc.IssueDate)...)

	if fields := doc.InvoiceFields; fields != nil {
		if fields.Vendor != nil {
			errs = append(errs, p.checkParty("vendor", fields.Vendor)...)
		}
		if fields.Buyer != nil {
			errs = append(errs, p.checkParty("buyer", fields.Buyer)...)
		}
		if fields.Totals != nil {
			for i, entry := range fields.Totals.TaxBreakdown {
				if entry.Rate == nil || p.knownTaxRate(*entry.Rate) {
					continue
				}
				errs = append(errs, domain.ImportError{
					FieldName:      fmt.Sprintf("totals.tax_breakdown[%d].rate", i),
					CanonicalField: "totals.tax_breakdown.rate",
					Category:       domain.CategoryValidation,
					Severity:       domain.SeverityWarning,
					Message:        fmt.Sprintf("tax rate %.2f is not a standard %s rate", *entry.Rate, p.code),
				})
			}
		}
	}

	if doc.BankTx != nil {
		errs = append(errs, p.checkDate("bank_tx.value_date", doc.BankTx.ValueDate)...)
	}
	return errs
}

func (p *Pack) checkParty(role string, party *domain.Party) []domain.ImportError {
	if party.TaxID == "" {
		return nil
	}
	if party.Country != "" && !strings.EqualFold(party.Country, p.code) {
		return nil
	}
	if p.ValidateTaxID(party.TaxID) {
		return nil
	}
	field := role + ".tax_id"
	return []domain.ImportError{{
		FieldName:      field,
		CanonicalField: field,
		Category:       domain.CategoryValidation,
		Severity:       domain.SeverityError,
		Message:        fmt.Sprintf("%s %q is not a valid %s for %s", field, party.TaxID, p.taxIDLabel, p.code),
		Suggestion:     fmt.Sprintf("check the %s format for %s", p.taxIDLabel, p.name),
	}}
}

func (p *Pack) checkDate(field, value string) []domain.ImportError {
	if value == "" {
		return nil
	}
	if _, ok := p.ParseDate(value); ok {
		return nil
	}
	return []domain.ImportError{{
		FieldName:      field,
		CanonicalField: field,
		Category:       domain.CategoryValidation,
		Severity:       domain.SeverityError,
		Message:        fmt.Sprintf("%s %q is not in an accepted %s date format", field, value, p.code),
		Suggestion:     "use YYYY-MM-DD",
	}}
}

// NormalizeTaxID strips separators and upper-cases a tax identifier.
func NormalizeTaxID(id string) string {
	replacer := strings.NewReplacer(" ", "", ".", "", "-", "", "\t", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(id)))
}
