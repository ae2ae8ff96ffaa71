package canonical

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

type MapContext struct {
	Country    string
	Currency   string
	Source     string
	Confidence float64
}

type MapResult struct {
	Doc        *domain.CanonicalDocument
	Normalized map[string]any
	Errors     []domain.ImportError
}

// Mapper turns raw parser rows into canonical documents.
type Mapper struct {
	packs *countrypack.Registry
}

func NewMapper(packs *countrypack.Registry) *Mapper {
	return &Mapper{packs: packs}
}

func (m *Mapper) pack(country string) *countrypack.Pack {
	if m.packs == nil || strings.TrimSpace(country) == "" {
		return nil
	}
	p, ok := m.packs.Get(country)
	if !ok {
		return nil
	}
	return p
}

// resolver merges schema aliases with country aliases that target a field
// of the same doc type. Country aliases win.
func (m *Mapper) resolver(docType domain.DocType, pack *countrypack.Pack) func(string) (string, bool) {
	schema := SchemaFor(docType)
	var local map[string]string
	if pack != nil {
		local = make(map[string]string)
		for alias, path := range pack.Aliases() {
			if _, ok := schema.Field(path); ok {
				local[NormalizeKey(alias)] = path
			}
		}
	}
	return func(header string) (string, bool) {
		if path, ok := local[NormalizeKey(header)]; ok {
			return path, true
		}
		return schema.Resolve(header)
	}
}

// Map never fails: coercion problems are reported as type_mismatch errors and
// the offending field is left empty.
func (m *Mapper) Map(docType domain.DocType, raw map[string]any, mc MapContext) MapResult {
	if !docType.Valid() {
		docType = domain.DocTypeOther
	}
	country := mc.Country
	if country == "" {
		country = rowCountry(docType, raw)
	}
	pack := m.pack(country)
	resolve := m.resolver(docType, pack)
	doc := emptyDocument(docType)
	doc.Source = mc.Source
	doc.Confidence = mc.Confidence

	result := MapResult{
		Doc:        doc,
		Normalized: make(map[string]any, len(raw)),
		Errors:     make([]domain.ImportError, 0),
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var debit, credit *decimal.Decimal
	for _, key := range keys {
		value := raw[key]
		if isBlank(value) {
			continue
		}
		path, ok := resolve(key)
		if !ok {
			continue
		}
		if _, taken := result.Normalized[path]; taken {
			continue
		}
		switch path {
		case pathBankDebit, pathBankCredit:
			d, err := ParseAmount(value, pack != nil && pack.DecimalComma())
			if err != nil {
				result.Errors = append(result.Errors, typeMismatch(key, path, err.Error()))
				continue
			}
			if path == pathBankDebit {
				debit = &d
			} else {
				credit = &d
			}
			f, _ := d.Float64()
			result.Normalized[path] = f
			continue
		}
		if err := SetField(doc, path, value, pack); err != nil {
			result.Errors = append(result.Errors, typeMismatch(key, path, fmt.Sprintf("%s: %v", key, unwrapMessage(err))))
			continue
		}
		normalized, _ := GetField(doc, path)
		result.Normalized[path] = normalized
	}

	if doc.InvoiceFields != nil {
		result.Errors = append(result.Errors, m.mapCollections(doc.InvoiceFields, raw, pack)...)
	}

	if doc.Country == "" && country != "" {
		doc.Country = strings.ToUpper(country)
	}
	if doc.Currency == "" {
		switch {
		case mc.Currency != "":
			doc.Currency = strings.ToUpper(mc.Currency)
		case pack != nil:
			doc.Currency = pack.Currency()
		}
	}
	if doc.BankTx != nil || docType == domain.DocTypeBankTx {
		resolveDirection(bankTx(doc), debit, credit)
		if doc.IssueDate == "" {
			doc.IssueDate = doc.BankTx.ValueDate
		}
		result.Normalized["bank_tx.amount"] = derefFloat(doc.BankTx.Amount)
		if doc.BankTx.Direction != "" {
			result.Normalized["bank_tx.direction"] = string(doc.BankTx.Direction)
		}
	}
	return result
}

// rowCountry reads the country column of a row so its pack can drive
// locale-aware coercion of the other columns.
func rowCountry(docType domain.DocType, raw map[string]any) string {
	schema := SchemaFor(docType)
	for key, value := range raw {
		if path, ok := schema.Resolve(key); ok && path == "country" {
			return strings.TrimSpace(stringValue(value))
		}
	}
	return ""
}

// resolveDirection settles amount and direction from, in order: an explicit
// direction column, split debit/credit columns, the sign of the amount.
// Stored amounts are always absolute.
func resolveDirection(tx *domain.BankTx, debit, credit *decimal.Decimal) {
	if tx.Amount == nil {
		switch {
		case debit != nil && !debit.IsZero():
			tx.Amount = domain.Float(debit.Abs().InexactFloat64())
			if tx.Direction == "" {
				tx.Direction = domain.DirectionDebit
			}
		case credit != nil && !credit.IsZero():
			tx.Amount = domain.Float(credit.Abs().InexactFloat64())
			if tx.Direction == "" {
				tx.Direction = domain.DirectionCredit
			}
		}
		return
	}
	amount := *tx.Amount
	if tx.Direction == "" {
		if amount < 0 {
			tx.Direction = domain.DirectionDebit
		} else {
			tx.Direction = domain.DirectionCredit
		}
	}
	if amount < 0 {
		tx.Amount = domain.Float(-amount)
	}
}

// SuggestMapping maps each header it recognises to a canonical path.
func (m *Mapper) SuggestMapping(docType domain.DocType, headers []string, country string) map[string]string {
	resolve := m.resolver(docType, m.pack(country))
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		if path, ok := resolve(h); ok {
			out[h] = path
		}
	}
	return out
}

func emptyDocument(docType domain.DocType) *domain.CanonicalDocument {
	env := domain.Envelope{DocType: docType}
	switch docType {
	case domain.DocTypeInvoice, domain.DocTypeExpenseReceipt:
		doc, _ := domain.NewInvoiceDocument(env, domain.InvoiceFields{})
		return doc
	case domain.DocTypeBankTx:
		doc, _ := domain.NewBankTxDocument(env, domain.BankTx{})
		return doc
	case domain.DocTypeProduct:
		doc, _ := domain.NewProductDocument(env, domain.Product{})
		return doc
	case domain.DocTypeExpense:
		doc, _ := domain.NewExpenseDocument(env, domain.Expense{})
		return doc
	case domain.DocTypeOther:
		return domain.NewOtherDocument(env)
	}
	return domain.NewOtherDocument(env)
}

func typeMismatch(field, path, message string) domain.ImportError {
	return domain.ImportError{
		FieldName:      field,
		CanonicalField: path,
		Category:       domain.CategoryTypeMismatch,
		Severity:       domain.SeverityError,
		Message:        message,
	}
}

func unwrapMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
