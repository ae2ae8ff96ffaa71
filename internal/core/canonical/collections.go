package canonical

import (
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// Raw keys carrying repeated invoice structures, as emitted by structured
// parsers. They replace any single-line columns.
const (
	keyLines        = "lines"
	keyTaxBreakdown = "tax_breakdown"
)

func (m *Mapper) mapCollections(inv *domain.InvoiceFields, raw map[string]any, pack *countrypack.Pack) []domain.ImportError {
	decimalComma := pack != nil && pack.DecimalComma()
	errs := make([]domain.ImportError, 0)

	if entries, ok := entryList(raw[keyLines]); ok {
		lines := make([]domain.Line, 0, len(entries))
		for i, e := range entries {
			prefix := fmt.Sprintf("lines[%d]", i)
			line := domain.Line{
				Desc:    stringValue(e["desc"]),
				Unit:    stringValue(e["unit"]),
				TaxCode: stringValue(e["tax_code"]),
			}
			errs = appendAmount(errs, &line.Qty, e["qty"], prefix+".qty", decimalComma)
			errs = appendAmount(errs, &line.UnitPrice, e["unit_price"], prefix+".unit_price", decimalComma)
			errs = appendAmount(errs, &line.Total, e["total"], prefix+".total", decimalComma)
			errs = appendAmount(errs, &line.TaxAmount, e["tax_amount"], prefix+".tax_amount", decimalComma)
			lines = append(lines, line)
		}
		inv.Lines = lines
	}

	if entries, ok := entryList(raw[keyTaxBreakdown]); ok {
		breakdown := make([]domain.TaxBreakdownEntry, 0, len(entries))
		for i, e := range entries {
			prefix := fmt.Sprintf("totals.tax_breakdown[%d]", i)
			entry := domain.TaxBreakdownEntry{Code: stringValue(e["code"])}
			errs = appendAmount(errs, &entry.Rate, e["rate"], prefix+".rate", decimalComma)
			errs = appendAmount(errs, &entry.Amount, e["amount"], prefix+".amount", decimalComma)
			errs = appendAmount(errs, &entry.Base, e["base"], prefix+".base", decimalComma)
			breakdown = append(breakdown, entry)
		}
		if inv.Totals == nil {
			inv.Totals = &domain.Totals{}
		}
		inv.Totals.TaxBreakdown = breakdown
	}
	return errs
}

// entryList accepts both freshly parsed slices and their JSON round trip.
func entryList(value any) ([]map[string]any, bool) {
	switch v := value.(type) {
	case []map[string]any:
		return v, len(v) > 0
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

func appendAmount(errs []domain.ImportError, dst **float64, value any, path string, decimalComma bool) []domain.ImportError {
	if isBlank(value) {
		return errs
	}
	d, err := ParseAmount(value, decimalComma)
	if err != nil {
		return append(errs, typeMismatch(path, path, strings.TrimSpace(err.Error())))
	}
	*dst = domain.Float(d.InexactFloat64())
	return errs
}
