// Package canonical owns the canonical document schema: per doc type field
// dictionaries, generic and country-aware validation, raw row mapping and
// conversion of the legacy flat format.
package canonical

import (
	"sort"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeDate      FieldType = "date"
	TypeCurrency  FieldType = "currency"
	TypeCountry   FieldType = "country"
	TypeDirection FieldType = "direction"
)

// Field validator names.
const (
	CheckISODate     = "iso_date"
	CheckCurrency    = "currency"
	CheckDirection   = "direction"
	CheckNonNegative = "non_negative"
)

// Split debit/credit columns of bank statements. They are resolved into
// bank_tx.amount and bank_tx.direction by the mapper and never stored.
const (
	pathBankDebit  = "bank_tx.debit"
	pathBankCredit = "bank_tx.credit"
)

type FieldSpec struct {
	Path       string
	Aliases    []string
	Type       FieldType
	Required   bool
	Validators []string
}

var envelopeFields = []FieldSpec{
	{Path: "currency", Aliases: []string{"moneda", "divisa", "currency_code", "ccy"}, Type: TypeCurrency, Validators: []string{CheckCurrency}},
	{Path: "country", Aliases: []string{"pais", "country_code"}, Type: TypeCountry},
	{Path: "issue_date", Aliases: []string{"fecha", "date", "fecha_emision", "fecha_factura", "invoice_date", "issued", "fecha_documento"}, Type: TypeDate, Validators: []string{CheckISODate}},
}

var invoiceFields = []FieldSpec{
	{Path: "invoice_number", Aliases: []string{"numero", "numero_factura", "num_factura", "no_factura", "factura", "invoice", "invoice_no", "invoice_id", "folio", "documento"}, Type: TypeString},
	{Path: "vendor.name", Aliases: []string{"proveedor", "emisor", "vendor", "supplier", "razon_social_emisor", "nombre_proveedor", "seller"}, Type: TypeString},
	{Path: "vendor.tax_id", Aliases: []string{"nif", "cif", "ruc", "rfc", "vat", "vat_number", "tax_id", "nif_proveedor", "vendor_tax_id", "supplier_tax_id"}, Type: TypeString},
	{Path: "vendor.country", Aliases: []string{"pais_proveedor", "vendor_country"}, Type: TypeCountry},
	{Path: "buyer.name", Aliases: []string{"cliente", "customer", "buyer", "receptor", "nombre_cliente"}, Type: TypeString},
	{Path: "buyer.tax_id", Aliases: []string{"nif_cliente", "customer_tax_id", "buyer_tax_id", "cliente_nif"}, Type: TypeString},
	{Path: "totals.subtotal", Aliases: []string{"base", "subtotal", "net", "net_amount", "importe_neto", "neto"}, Type: TypeNumber, Validators: []string{CheckNonNegative}},
	{Path: "totals.tax", Aliases: []string{"iva", "tax", "impuesto", "impuestos", "vat_amount", "tax_amount", "cuota"}, Type: TypeNumber, Validators: []string{CheckNonNegative}},
	{Path: "totals.total", Aliases: []string{"total", "importe", "importe_total", "total_amount", "gross", "amount", "monto_total"}, Type: TypeNumber, Validators: []string{CheckNonNegative}},
	{Path: "payment.method", Aliases: []string{"forma_pago", "metodo_pago", "payment_method", "medio_pago"}, Type: TypeString},
	{Path: "payment.iban", Aliases: []string{"iban", "cuenta", "account"}, Type: TypeString},
	{Path: "lines.desc", Aliases: []string{"concepto", "descripcion", "description", "item", "detalle"}, Type: TypeString},
	{Path: "lines.qty", Aliases: []string{"cantidad", "qty", "quantity", "unidades"}, Type: TypeNumber},
	{Path: "lines.unit", Aliases: []string{"unidad", "unit", "uom"}, Type: TypeString},
	{Path: "lines.unit_price", Aliases: []string{"precio", "precio_unitario", "unit_price", "price"}, Type: TypeNumber, Validators: []string{CheckNonNegative}},
	{Path: "lines.total", Aliases: []string{"total_linea", "line_total", "importe_linea"}, Type: TypeNumber},
	{Path: "lines.tax_code", Aliases: []string{"codigo_impuesto", "tax_code", "tipo_iva"}, Type: TypeString},
}

var receiptExtras = []FieldSpec{
	{Path: "vendor.name", Aliases: []string{"comercio", "establecimiento", "merchant", "store", "tienda"}, Type: TypeString},
}

var bankTxFields = []FieldSpec{
	{Path: "bank_tx.amount", Aliases: []string{"importe", "amount", "monto", "valor", "cantidad", "transaction_amount"}, Type: TypeNumber, Required: true},
	{Path: "bank_tx.direction", Aliases: []string{"tipo", "direction", "type", "dc", "debe_haber", "tipo_movimiento", "signo", "cargo_abono"}, Type: TypeDirection, Required: true, Validators: []string{CheckDirection}},
	{Path: "bank_tx.value_date", Aliases: []string{"fecha_valor", "value_date", "fecha", "date", "fecha_operacion", "booking_date", "fecha_movimiento"}, Type: TypeDate, Required: true, Validators: []string{CheckISODate}},
	{Path: "bank_tx.narrative", Aliases: []string{"concepto", "descripcion", "description", "narrative", "detalle", "memo", "movimiento"}, Type: TypeString},
	{Path: "bank_tx.counterparty", Aliases: []string{"beneficiario", "ordenante", "counterparty", "payee", "contraparte", "remitente"}, Type: TypeString},
	{Path: "bank_tx.external_ref", Aliases: []string{"referencia", "reference", "ref", "external_ref", "id_transaccion", "transaction_id", "numero_operacion"}, Type: TypeString},
	{Path: pathBankDebit, Aliases: []string{"cargo", "cargos", "debe", "debit", "debito", "retiro", "retiros", "withdrawal", "salida"}, Type: TypeNumber},
	{Path: pathBankCredit, Aliases: []string{"abono", "abonos", "haber", "credit", "credito", "deposito", "depositos", "deposit", "entrada"}, Type: TypeNumber},
}

var productFields = []FieldSpec{
	{Path: "product.sku", Aliases: []string{"sku", "codigo", "code", "referencia", "item_code", "codigo_producto", "ref"}, Type: TypeString},
	{Path: "product.name", Aliases: []string{"nombre", "name", "producto", "product", "articulo", "item_name"}, Type: TypeString, Required: true},
	{Path: "product.description", Aliases: []string{"descripcion", "description", "detalle"}, Type: TypeString},
	{Path: "product.unit", Aliases: []string{"unidad", "unit", "uom", "unidad_medida"}, Type: TypeString},
	{Path: "product.unit_price", Aliases: []string{"precio", "price", "unit_price", "pvp", "precio_unitario", "precio_venta"}, Type: TypeNumber, Validators: []string{CheckNonNegative}},
	{Path: "product.stock", Aliases: []string{"stock", "existencias", "cantidad", "qty", "quantity", "inventario", "disponible"}, Type: TypeNumber, Validators: []string{CheckNonNegative}},
	{Path: "product.category", Aliases: []string{"categoria", "category", "familia", "grupo"}, Type: TypeString},
}

var expenseFields = []FieldSpec{
	{Path: "expense.description", Aliases: []string{"descripcion", "concepto", "description", "detalle"}, Type: TypeString},
	{Path: "expense.amount", Aliases: []string{"importe", "amount", "monto", "total", "gasto", "valor"}, Type: TypeNumber, Required: true, Validators: []string{CheckNonNegative}},
	{Path: "expense.category", Aliases: []string{"categoria", "category", "tipo_gasto", "cuenta_gasto"}, Type: TypeString},
	{Path: "expense.vendor_name", Aliases: []string{"proveedor", "comercio", "vendor", "merchant", "establecimiento"}, Type: TypeString},
	{Path: "expense.payment_method", Aliases: []string{"forma_pago", "payment_method", "metodo_pago", "medio_pago"}, Type: TypeString},
}

// Schema is the field dictionary of one doc type. Doc type fields shadow
// envelope fields that share an alias.
type Schema struct {
	DocType domain.DocType
	fields  []FieldSpec
	byPath  map[string]FieldSpec
	aliases map[string]string
}

var schemas = buildSchemas()

func buildSchemas() map[domain.DocType]*Schema {
	out := make(map[domain.DocType]*Schema, len(domain.DocTypes()))
	for _, docType := range domain.DocTypes() {
		out[docType] = newSchema(docType, payloadFields(docType))
	}
	return out
}

func payloadFields(docType domain.DocType) []FieldSpec {
	switch docType {
	case domain.DocTypeInvoice:
		fields := append([]FieldSpec(nil), invoiceFields...)
		fields[0].Required = true
		return fields
	case domain.DocTypeExpenseReceipt:
		fields := mergeAliases(invoiceFields, receiptExtras)
		for i := range fields {
			if fields[i].Path == "totals.total" {
				fields[i].Required = true
			}
		}
		return fields
	case domain.DocTypeBankTx:
		return bankTxFields
	case domain.DocTypeProduct:
		return productFields
	case domain.DocTypeExpense:
		return expenseFields
	case domain.DocTypeOther:
		return nil
	}
	return nil
}

func mergeAliases(base, extras []FieldSpec) []FieldSpec {
	out := make([]FieldSpec, len(base))
	copy(out, base)
	for _, extra := range extras {
		for i := range out {
			if out[i].Path == extra.Path {
				out[i].Aliases = append(append([]string(nil), out[i].Aliases...), extra.Aliases...)
			}
		}
	}
	return out
}

func newSchema(docType domain.DocType, payload []FieldSpec) *Schema {
	s := &Schema{
		DocType: docType,
		byPath:  make(map[string]FieldSpec),
		aliases: make(map[string]string),
	}
	envelope := append([]FieldSpec(nil), envelopeFields...)
	if docType == domain.DocTypeExpenseReceipt {
		envelope[2].Required = true
	}
	for _, group := range [][]FieldSpec{payload, envelope} {
		for _, f := range group {
			if _, exists := s.byPath[f.Path]; exists {
				continue
			}
			s.fields = append(s.fields, f)
			s.byPath[f.Path] = f
			s.register(f.Path, f.Path)
		}
	}
	for _, f := range s.fields {
		s.register(leaf(f.Path), f.Path)
		for _, alias := range f.Aliases {
			s.register(alias, f.Path)
		}
	}
	return s
}

func (s *Schema) register(alias, path string) {
	key := NormalizeKey(alias)
	if _, taken := s.aliases[key]; taken {
		return
	}
	s.aliases[key] = path
}

// SchemaFor returns the dictionary for docType; unknown types get the
// "other" schema, which only carries envelope fields.
func SchemaFor(docType domain.DocType) *Schema {
	if s, ok := schemas[docType]; ok {
		return s
	}
	return schemas[domain.DocTypeOther]
}

func (s *Schema) Fields() []FieldSpec {
	return append([]FieldSpec(nil), s.fields...)
}

func (s *Schema) Field(path string) (FieldSpec, bool) {
	f, ok := s.byPath[path]
	return f, ok
}

// Resolve maps a raw header to its canonical path.
func (s *Schema) Resolve(header string) (string, bool) {
	path, ok := s.aliases[NormalizeKey(header)]
	return path, ok
}

func (s *Schema) Required() []string {
	out := make([]string, 0, 4)
	for _, f := range s.fields {
		if f.Required {
			out = append(out, f.Path)
		}
	}
	return out
}

// Vocabulary lists the normalised header words that identify the doc type.
// Envelope words are shared by every type and left out.
func Vocabulary(docType domain.DocType) []string {
	seen := make(map[string]struct{})
	for _, f := range payloadFields(docType) {
		seen[NormalizeKey(leaf(f.Path))] = struct{}{}
		for _, alias := range f.Aliases {
			seen[NormalizeKey(alias)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for word := range seen {
		out = append(out, word)
	}
	sort.Strings(out)
	return out
}

func leaf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}
