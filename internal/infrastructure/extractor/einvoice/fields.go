package einvoice

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// fieldSet accumulates the row emitted for one e-invoice. Keys are canonical
// paths; lines and tax_breakdown carry every entry.
type fieldSet struct {
	values map[string]any
	lines  []map[string]any
	taxes  []map[string]any
}

func (f *fieldSet) set(key string, value any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	f.values[key] = value
}

func (f *fieldSet) str(key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		f.set(key, value)
	}
}

// amount stores XML decimals as numbers so locale heuristics never apply.
func (f *fieldSet) amount(key, value string) {
	if d, ok := parseDecimal(value); ok {
		f.set(key, d.InexactFloat64())
	}
}

func (f *fieldSet) sum(key string, values []string) {
	total, found := decimal.Zero, false
	for _, v := range values {
		if d, ok := parseDecimal(v); ok {
			total = total.Add(d)
			found = true
		}
	}
	if found {
		f.set(key, total.InexactFloat64())
	}
}

func (f *fieldSet) breakdown(code, rate, amount, base string) {
	entry := map[string]any{}
	putString(entry, "code", code)
	putNumber(entry, "rate", rate)
	putNumber(entry, "amount", amount)
	putNumber(entry, "base", base)
	if len(entry) > 0 {
		f.taxes = append(f.taxes, entry)
	}
}

func (f *fieldSet) line(desc, qty, unit, unitPrice, total, taxCode string) {
	entry := map[string]any{}
	putString(entry, "desc", desc)
	putNumber(entry, "qty", qty)
	putString(entry, "unit", unit)
	putNumber(entry, "unit_price", unitPrice)
	putNumber(entry, "total", total)
	putString(entry, "tax_code", taxCode)
	if len(entry) > 0 {
		f.lines = append(f.lines, entry)
	}
}

func (f *fieldSet) done() map[string]any {
	if len(f.lines) > 0 {
		f.set("lines", f.lines)
	}
	if len(f.taxes) > 0 {
		f.set("tax_breakdown", f.taxes)
	}
	if f.values == nil {
		return map[string]any{}
	}
	return f.values
}

func putString(entry map[string]any, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		entry[key] = value
	}
}

func putNumber(entry map[string]any, key, value string) {
	if d, ok := parseDecimal(value); ok {
		entry[key] = d.InexactFloat64()
	}
}

func parseDecimal(value string) (decimal.Decimal, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// percent turns a CFDI rate such as 0.160000 into 16.
func percent(rate string) string {
	d, ok := parseDecimal(rate)
	if !ok {
		return ""
	}
	if d.LessThanOrEqual(decimal.NewFromInt(1)) {
		d = d.Mul(decimal.NewFromInt(100))
	}
	return d.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
