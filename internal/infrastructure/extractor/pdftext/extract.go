package pdftext

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
)

const amountPattern = `(-?\(?\d[\d.,]*\d\)?|\d)`

var (
	numberRe = regexp.MustCompile(`(?i)(?:factura|invoice|folio|ticket|recibo|receipt)\s*(?:n[º°o]\.?|no\.?|num(?:ero|\.)?|number|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/.]{2,})`)
	dateRe   = regexp.MustCompile(`(?i)(?:fecha(?:\s+de\s+(?:emisi[oó]n|expedici[oó]n|factura))?|date|issued)\s*[:.]?\s*(\d{4}-\d{2}-\d{2}|\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`)
	anyDate  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})\b`)
	taxIDRe  = regexp.MustCompile(`(?i)\b(?:NIF|CIF|RUC|RFC|NIT|VAT\s*(?:ID|No\.?)?|Tax\s*ID)\s*[:.]?\s*([A-Z0-9][A-Z0-9\-.]{6,})`)

	subtotalRe = regexp.MustCompile(`(?i)(?:base\s+imponible|sub-?total|net\s+amount)\s*:?\s*(?:EUR|USD|MXN|€|\$)?\s*` + amountPattern)
	taxRe      = regexp.MustCompile(`(?i)(?:\biva\b|\bvat\b|\bigv\b|\bimpuestos?\b|\btax\b)(?:\s*\(?\d{1,2}(?:[.,]\d+)?\s*%\)?)?\s*:?\s*(?:EUR|USD|MXN|€|\$)?\s*` + amountPattern)
	grandRe    = regexp.MustCompile(`(?i)(?:importe\s+total|total\s+factura|total\s+a\s+pagar|total\s+due|grand\s+total|amount\s+due)\s*:?\s*(?:EUR|USD|MXN|€|\$)?\s*` + amountPattern)
	totalRe    = regexp.MustCompile(`(?i)\btotal\b\s*:?\s*(?:EUR|USD|MXN|€|\$)?\s*` + amountPattern)
	currencyRe = regexp.MustCompile(`\b(EUR|USD|MXN|COP|PEN|CLP|ARS|GBP)\b`)
)

// ExtractFields pulls labelled values from invoice text. Amounts are left
// as text for locale-aware parsing downstream.
func ExtractFields(text string) map[string]any {
	fields := make(map[string]any)
	put := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fields[key] = value
		}
	}

	for _, m := range numberRe.FindAllStringSubmatch(text, -1) {
		if strings.IndexFunc(m[1], unicode.IsDigit) >= 0 {
			put("invoice_number", strings.TrimRight(m[1], "."))
			break
		}
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		put("issue_date", m[1])
	} else if m := anyDate.FindStringSubmatch(text); m != nil {
		put("issue_date", m[1])
	}
	if m := taxIDRe.FindStringSubmatch(text); m != nil {
		put("vendor.tax_id", strings.TrimRight(m[1], "."))
	}
	if m := subtotalRe.FindStringSubmatch(text); m != nil {
		put("totals.subtotal", m[1])
	}
	if m := taxRe.FindStringSubmatch(text); m != nil {
		put("totals.tax", m[1])
	}
	if m := grandRe.FindStringSubmatch(text); m != nil {
		put("totals.total", m[1])
	} else if all := totalRe.FindAllStringSubmatch(text, -1); len(all) > 0 {
		put("totals.total", all[len(all)-1][1])
	}
	switch {
	case strings.Contains(text, "€"):
		put("currency", "EUR")
	default:
		if m := currencyRe.FindStringSubmatch(text); m != nil {
			put("currency", m[1])
		}
	}
	if name := vendorLine(text); name != "" {
		put("vendor.name", name)
	}
	return fields
}

// vendorLine takes the first line that reads like a name rather than a label.
func vendorLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len([]rune(line)) < 3 || len([]rune(line)) > 80 {
			continue
		}
		if strings.Contains(line, ":") || strings.IndexFunc(line, unicode.IsLetter) < 0 {
			continue
		}
		lower := strings.ToLower(canonical.FoldAccents(line))
		if numberRe.MatchString(line) || strings.HasPrefix(lower, "fecha") || strings.HasPrefix(lower, "date") {
			continue
		}
		return line
	}
	return ""
}

// textLabels lists the vocabulary words present in text, in vocabulary order.
func textLabels(text string) []string {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(canonical.FoldAccents(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	}) {
		words[w] = true
	}
	if strings.Contains(strings.ToLower(text), "base imponible") {
		words["base_imponible"] = true
	}
	out := make([]string, 0, len(vocabulary))
	for _, v := range vocabulary {
		if words[v] {
			out = append(out, v)
		}
	}
	return out
}
