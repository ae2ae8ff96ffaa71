package classifier

import (
	"sort"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

// filenameHints maps filename words to the doc type they suggest.
var filenameHints = map[string]domain.DocType{
	"factura":     domain.DocTypeInvoice,
	"facturas":    domain.DocTypeInvoice,
	"invoice":     domain.DocTypeInvoice,
	"invoices":    domain.DocTypeInvoice,
	"cfdi":        domain.DocTypeInvoice,
	"ticket":      domain.DocTypeExpenseReceipt,
	"tickets":     domain.DocTypeExpenseReceipt,
	"recibo":      domain.DocTypeExpenseReceipt,
	"receipt":     domain.DocTypeExpenseReceipt,
	"extracto":    domain.DocTypeBankTx,
	"movimientos": domain.DocTypeBankTx,
	"banco":       domain.DocTypeBankTx,
	"bank":        domain.DocTypeBankTx,
	"statement":   domain.DocTypeBankTx,
	"cartola":     domain.DocTypeBankTx,
	"productos":   domain.DocTypeProduct,
	"inventario":  domain.DocTypeProduct,
	"catalogo":    domain.DocTypeProduct,
	"products":    domain.DocTypeProduct,
	"inventory":   domain.DocTypeProduct,
	"gastos":      domain.DocTypeExpense,
	"expenses":    domain.DocTypeExpense,
}

// envelopePaths resolve under every doc type and carry no evidence.
var envelopePaths = map[string]bool{"currency": true, "country": true, "issue_date": true}

const (
	filenameBoost = 0.15
	hintBoostStep = 0.1
	hintBoostMax  = 0.3
)

// headerOverlap is the share of headers a parser recognises, either through
// its vocabulary or through the payload fields of its doc type.
func headerOverlap(desc ports.ParserDescriptor, headers []string) float64 {
	if len(headers) == 0 {
		return 0
	}
	vocabulary := make(map[string]struct{}, len(desc.Vocabulary))
	for _, w := range desc.Vocabulary {
		vocabulary[w] = struct{}{}
	}
	schema := canonical.SchemaFor(desc.DocType)

	counted, matched := 0, 0
	for _, h := range headers {
		key := canonical.NormalizeKey(h)
		if key == "" {
			continue
		}
		counted++
		if _, ok := vocabulary[key]; ok {
			matched++
			continue
		}
		if path, ok := schema.Resolve(h); ok && !envelopePaths[path] {
			matched++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(matched) / float64(counted)
}

// filenameDocType returns the doc type hinted by the filename words, if any.
func filenameDocType(filename string) (domain.DocType, string, bool) {
	base := filename
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	for _, word := range strings.Split(canonical.NormalizeKey(base), "_") {
		if dt, ok := filenameHints[word]; ok {
			return dt, word, true
		}
	}
	return "", "", false
}

func hintBoost(support int) float64 {
	boost := hintBoostStep * float64(support)
	if boost > hintBoostMax {
		return hintBoostMax
	}
	return boost
}

// headerSignature is the order independent normalised header set.
func headerSignature(headers []string) []string {
	seen := make(map[string]struct{}, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		key := canonical.NormalizeKey(h)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
