package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// FoldAccents removes combining marks: "Número" becomes "Numero".
func FoldAccents(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizeKey turns a raw header into a lookup key: accents folded,
// camelCase split, lower-cased, any run of separators collapsed into "_".
func NormalizeKey(raw string) string {
	folded := FoldAccents(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(folded) + 4)
	pendingSep := false
	var prev rune
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				pendingSep = true
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
		prev = r
	}
	return b.String()
}

var errEmptyAmount = errors.New("empty amount")

var currencyTokens = []string{
	"US$", "USD", "EUR", "MXN", "COP", "PEN", "CLP", "ARS", "GBP",
	"$", "€", "£", "S/", "\u00a0",
}

// ParseAmount reads locale formatted amounts: "1.234,56", "1,234.56",
// "(200)", "200-", "$ 15.00". decimalComma breaks ties such as "1,234"
// where either separator reading is plausible.
func ParseAmount(value any, decimalComma bool) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, errEmptyAmount
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return parseAmountString(v, decimalComma)
	default:
		return parseAmountString(fmt.Sprint(v), decimalComma)
	}
}

func parseAmountString(raw string, decimalComma bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmptyAmount
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	upper := strings.ToUpper(s)
	for _, token := range currencyTokens {
		upper = strings.ReplaceAll(upper, token, "")
	}
	s = strings.ReplaceAll(strings.TrimSpace(upper), " ", "")
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount %q has no digits", raw)
	}

	s = normalizeSeparators(s, decimalComma)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not numeric", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func normalizeSeparators(s string, decimalComma bool) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		if len(s)-lastComma-1 == 3 && !decimalComma {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			return strings.ReplaceAll(s, ".", "")
		}
		if len(s)-lastDot-1 == 3 && decimalComma {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

var fallbackLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
}

// NormalizeDate converts value into YYYY-MM-DD, trying the country pack
// layouts first and a small generic set after.
func NormalizeDate(value any, pack *countrypack.Pack) (string, bool) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return "", false
		}
		return v.Format("2006-01-02"), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", false
		}
		if pack != nil {
			if iso, ok := pack.NormalizeDate(s); ok {
				return iso, true
			}
		}
		for _, layout := range fallbackLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02"), true
			}
		}
		return "", false
	case nil:
		return "", false
	default:
		return NormalizeDate(fmt.Sprint(v), pack)
	}
}

// ParseDirection reads debit/credit markers in English and Spanish.
func ParseDirection(value any) (domain.BankDirection, bool) {
	raw := strings.TrimSpace(stringValue(value))
	switch raw {
	case "-":
		return domain.DirectionDebit, true
	case "+":
		return domain.DirectionCredit, true
	}
	switch NormalizeKey(raw) {
	case "debit", "debito", "d", "dr", "cargo", "debe", "retiro", "withdrawal", "out", "egreso", "salida":
		return domain.DirectionDebit, true
	case "credit", "credito", "c", "cr", "abono", "haber", "deposito", "deposit", "in", "ingreso", "entrada":
		return domain.DirectionCredit, true
	}
	return "", false
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return decimal.NewFromFloat(v).String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}
