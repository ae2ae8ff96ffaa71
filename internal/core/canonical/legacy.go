package canonical

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

var docTypeAliases = map[string]domain.DocType{
	"factura":             domain.DocTypeInvoice,
	"invoice":             domain.DocTypeInvoice,
	"factura_venta":       domain.DocTypeInvoice,
	"factura_compra":      domain.DocTypeInvoice,
	"recibo":              domain.DocTypeExpenseReceipt,
	"ticket":              domain.DocTypeExpenseReceipt,
	"receipt":             domain.DocTypeExpenseReceipt,
	"boleta":              domain.DocTypeExpenseReceipt,
	"nota_venta":          domain.DocTypeExpenseReceipt,
	"expense_receipt":     domain.DocTypeExpenseReceipt,
	"movimiento":          domain.DocTypeBankTx,
	"movimiento_banco":    domain.DocTypeBankTx,
	"movimiento_bancario": domain.DocTypeBankTx,
	"banco":               domain.DocTypeBankTx,
	"extracto":            domain.DocTypeBankTx,
	"transferencia":       domain.DocTypeBankTx,
	"bank":                domain.DocTypeBankTx,
	"bank_tx":             domain.DocTypeBankTx,
	"statement":           domain.DocTypeBankTx,
	"producto":            domain.DocTypeProduct,
	"articulo":            domain.DocTypeProduct,
	"inventario":          domain.DocTypeProduct,
	"product":             domain.DocTypeProduct,
	"gasto":               domain.DocTypeExpense,
	"egreso":              domain.DocTypeExpense,
	"expense":             domain.DocTypeExpense,
	"otro":                domain.DocTypeOther,
	"other":               domain.DocTypeOther,
}

// ResolveDocType accepts canonical doc type names and the locale aliases
// found in legacy payloads and file names.
func ResolveDocType(raw string) (domain.DocType, bool) {
	if dt, ok := domain.ParseDocType(raw); ok {
		return dt, true
	}
	dt, ok := docTypeAliases[NormalizeKey(raw)]
	return dt, ok
}

// ConvertLegacyToCanonical converts the flat Spanish-keyed format
// ({documentoTipo, fecha, concepto, importe, ...}) into a canonical document.
func (m *Mapper) ConvertLegacyToCanonical(legacy map[string]any) (*domain.CanonicalDocument, error) {
	rawType, _ := legacy["documentoTipo"].(string)
	docType, ok := ResolveDocType(rawType)
	if !ok {
		docType = domain.DocTypeOther
	}
	country := stringValue(legacy["pais"])
	pack := m.pack(country)
	doc := emptyDocument(docType)
	doc.Source = "legacy"
	doc.Country = strings.ToUpper(country)
	doc.Currency = strings.ToUpper(stringValue(legacy["moneda"]))

	if raw, present := legacy["fecha"]; present && !isBlank(raw) {
		iso, ok := m.legacyDate(raw, pack)
		if !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "convert legacy document", fmt.Errorf("fecha %q is not a recognised date", stringValue(raw)))
		}
		doc.IssueDate = iso
	}

	var amount *float64
	if raw, present := legacy["importe"]; present && !isBlank(raw) {
		d, err := ParseAmount(raw, pack != nil && pack.DecimalComma())
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "convert legacy document", fmt.Errorf("importe: %w", err))
		}
		f, _ := d.Float64()
		amount = &f
	}
	concept := stringValue(legacy["concepto"])
	vendorName := stringValue(legacy["proveedor"])
	taxID := firstNonBlank(legacy, "nif", "ruc", "cif")
	number := firstNonBlank(legacy, "numeroFactura", "numero")

	switch docType {
	case domain.DocTypeInvoice, domain.DocTypeExpenseReceipt:
		fields := doc.InvoiceFields
		fields.InvoiceNumber = number
		if vendorName != "" || taxID != "" {
			fields.Vendor = &domain.Party{Name: vendorName, TaxID: taxID}
		}
		t := &domain.Totals{Total: amount}
		if err := m.legacyAmount(legacy, "base", pack, &t.Subtotal); err != nil {
			return nil, err
		}
		if err := m.legacyAmount(legacy, "iva", pack, &t.Tax); err != nil {
			return nil, err
		}
		if t.Total != nil || t.Subtotal != nil || t.Tax != nil {
			fields.Totals = t
		}
		if concept != "" {
			fields.Lines = []domain.Line{{Desc: concept, Total: amount}}
		}
	case domain.DocTypeBankTx:
		tx := doc.BankTx
		tx.Amount = amount
		tx.ValueDate = doc.IssueDate
		tx.Narrative = concept
		tx.Counterparty = vendorName
		tx.ExternalRef = number
		resolveDirection(tx, nil, nil)
	case domain.DocTypeProduct:
		doc.Product.Name = concept
		doc.Product.SKU = number
		doc.Product.UnitPrice = amount
	case domain.DocTypeExpense:
		doc.Expense.Description = concept
		doc.Expense.Amount = amount
		doc.Expense.VendorName = vendorName
	case domain.DocTypeOther:
	}
	return doc, nil
}

// DetectAndConvert accepts either a legacy payload (documentoTipo present)
// or an already canonical one (doc_type present). converted reports whether
// the legacy path was taken.
func (m *Mapper) DetectAndConvert(data map[string]any) (*domain.CanonicalDocument, bool, error) {
	if _, legacy := data["documentoTipo"]; legacy {
		doc, err := m.ConvertLegacyToCanonical(data)
		return doc, true, err
	}
	if _, canonical := data["doc_type"]; !canonical {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "detect document format", fmt.Errorf("neither documentoTipo nor doc_type present"))
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "detect document format", err)
	}
	var out domain.CanonicalDocument
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "decode canonical document", err)
	}
	if dt, ok := ResolveDocType(string(out.DocType)); ok {
		out.DocType = dt
	}
	return &out, false, nil
}

// legacyDate tries the document's own country first, then every registered pack.
func (m *Mapper) legacyDate(raw any, pack *countrypack.Pack) (string, bool) {
	if iso, ok := NormalizeDate(raw, pack); ok {
		return iso, true
	}
	if m.packs == nil {
		return "", false
	}
	for _, code := range m.packs.Codes() {
		if iso, ok := NormalizeDate(raw, m.pack(code)); ok {
			return iso, true
		}
	}
	return "", false
}

func (m *Mapper) legacyAmount(legacy map[string]any, key string, pack *countrypack.Pack, dst **float64) error {
	raw, present := legacy[key]
	if !present || isBlank(raw) {
		return nil
	}
	d, err := ParseAmount(raw, pack != nil && pack.DecimalComma())
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "convert legacy document", fmt.Errorf("%s: %w", key, err))
	}
	f, _ := d.Float64()
	*dst = &f
	return nil
}

func firstNonBlank(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringValue(data[k]); v != "" {
			return v
		}
	}
	return ""
}

