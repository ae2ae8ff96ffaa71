package canonical

import (
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

type accessor struct {
	get func(*domain.CanonicalDocument) (any, bool)
	set func(*domain.CanonicalDocument, any)
}

func str(v string) (any, bool) { return v, v != "" }

func num(v *float64) (any, bool) { return derefFloat(v), v != nil }

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) *float64 {
	f, _ := v.(float64)
	return domain.Float(f)
}

func derefFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func inv(d *domain.CanonicalDocument) *domain.InvoiceFields {
	if d.InvoiceFields == nil {
		d.InvoiceFields = &domain.InvoiceFields{}
	}
	return d.InvoiceFields
}

func vendor(d *domain.CanonicalDocument) *domain.Party {
	f := inv(d)
	if f.Vendor == nil {
		f.Vendor = &domain.Party{}
	}
	return f.Vendor
}

func buyer(d *domain.CanonicalDocument) *domain.Party {
	f := inv(d)
	if f.Buyer == nil {
		f.Buyer = &domain.Party{}
	}
	return f.Buyer
}

func totals(d *domain.CanonicalDocument) *domain.Totals {
	f := inv(d)
	if f.Totals == nil {
		f.Totals = &domain.Totals{}
	}
	return f.Totals
}

func payment(d *domain.CanonicalDocument) *domain.Payment {
	f := inv(d)
	if f.Payment == nil {
		f.Payment = &domain.Payment{}
	}
	return f.Payment
}

// firstLine addresses the single line a tabular row can describe.
func firstLine(d *domain.CanonicalDocument) *domain.Line {
	f := inv(d)
	if len(f.Lines) == 0 {
		f.Lines = append(f.Lines, domain.Line{})
	}
	return &f.Lines[0]
}

func bankTx(d *domain.CanonicalDocument) *domain.BankTx {
	if d.BankTx == nil {
		d.BankTx = &domain.BankTx{}
	}
	return d.BankTx
}

func product(d *domain.CanonicalDocument) *domain.Product {
	if d.Product == nil {
		d.Product = &domain.Product{}
	}
	return d.Product
}

func expense(d *domain.CanonicalDocument) *domain.Expense {
	if d.Expense == nil {
		d.Expense = &domain.Expense{}
	}
	return d.Expense
}

var accessors = map[string]accessor{
	"currency": {
		get: func(d *domain.CanonicalDocument) (any, bool) { return str(d.Currency) },
		set: func(d *domain.CanonicalDocument, v any) { d.Currency = asString(v) },
	},
	"country": {
		get: func(d *domain.CanonicalDocument) (any, bool) { return str(d.Country) },
		set: func(d *domain.CanonicalDocument, v any) { d.Country = asString(v) },
	},
	"issue_date": {
		get: func(d *domain.CanonicalDocument) (any, bool) { return str(d.IssueDate) },
		set: func(d *domain.CanonicalDocument, v any) { d.IssueDate = asString(v) },
	},
	"invoice_number": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil {
				return nil, false
			}
			return str(d.InvoiceNumber)
		},
		set: func(d *domain.CanonicalDocument, v any) { inv(d).InvoiceNumber = asString(v) },
	},
	"vendor.name": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Vendor == nil {
				return nil, false
			}
			return str(d.Vendor.Name)
		},
		set: func(d *domain.CanonicalDocument, v any) { vendor(d).Name = asString(v) },
	},
	"vendor.tax_id": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Vendor == nil {
				return nil, false
			}
			return str(d.Vendor.TaxID)
		},
		set: func(d *domain.CanonicalDocument, v any) { vendor(d).TaxID = asString(v) },
	},
	"vendor.country": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Vendor == nil {
				return nil, false
			}
			return str(d.Vendor.Country)
		},
		set: func(d *domain.CanonicalDocument, v any) { vendor(d).Country = asString(v) },
	},
	"buyer.name": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Buyer == nil {
				return nil, false
			}
			return str(d.Buyer.Name)
		},
		set: func(d *domain.CanonicalDocument, v any) { buyer(d).Name = asString(v) },
	},
	"buyer.tax_id": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Buyer == nil {
				return nil, false
			}
			return str(d.Buyer.TaxID)
		},
		set: func(d *domain.CanonicalDocument, v any) { buyer(d).TaxID = asString(v) },
	},
	"totals.subtotal": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Totals == nil {
				return nil, false
			}
			return num(d.Totals.Subtotal)
		},
		set: func(d *domain.CanonicalDocument, v any) { totals(d).Subtotal = asFloat(v) },
	},
	"totals.tax": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Totals == nil {
				return nil, false
			}
			return num(d.Totals.Tax)
		},
		set: func(d *domain.CanonicalDocument, v any) { totals(d).Tax = asFloat(v) },
	},
	"totals.total": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Totals == nil {
				return nil, false
			}
			return num(d.Totals.Total)
		},
		set: func(d *domain.CanonicalDocument, v any) { totals(d).Total = asFloat(v) },
	},
	"payment.method": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Payment == nil {
				return nil, false
			}
			return str(d.Payment.Method)
		},
		set: func(d *domain.CanonicalDocument, v any) { payment(d).Method = asString(v) },
	},
	"payment.iban": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || d.Payment == nil {
				return nil, false
			}
			return str(d.Payment.IBAN)
		},
		set: func(d *domain.CanonicalDocument, v any) { payment(d).IBAN = asString(v) },
	},
	"lines.desc": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || len(d.Lines) == 0 {
				return nil, false
			}
			return str(d.Lines[0].Desc)
		},
		set: func(d *domain.CanonicalDocument, v any) { firstLine(d).Desc = asString(v) },
	},
	"lines.qty": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || len(d.Lines) == 0 {
				return nil, false
			}
			return num(d.Lines[0].Qty)
		},
		set: func(d *domain.CanonicalDocument, v any) { firstLine(d).Qty = asFloat(v) },
	},
	"lines.unit": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || len(d.Lines) == 0 {
				return nil, false
			}
			return str(d.Lines[0].Unit)
		},
		set: func(d *domain.CanonicalDocument, v any) { firstLine(d).Unit = asString(v) },
	},
	"lines.unit_price": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || len(d.Lines) == 0 {
				return nil, false
			}
			return num(d.Lines[0].UnitPrice)
		},
		set: func(d *domain.CanonicalDocument, v any) { firstLine(d).UnitPrice = asFloat(v) },
	},
	"lines.total": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || len(d.Lines) == 0 {
				return nil, false
			}
			return num(d.Lines[0].Total)
		},
		set: func(d *domain.CanonicalDocument, v any) { firstLine(d).Total = asFloat(v) },
	},
	"lines.tax_code": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.InvoiceFields == nil || len(d.Lines) == 0 {
				return nil, false
			}
			return str(d.Lines[0].TaxCode)
		},
		set: func(d *domain.CanonicalDocument, v any) { firstLine(d).TaxCode = asString(v) },
	},
	"bank_tx.amount": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.BankTx == nil {
				return nil, false
			}
			return num(d.BankTx.Amount)
		},
		set: func(d *domain.CanonicalDocument, v any) { bankTx(d).Amount = asFloat(v) },
	},
	"bank_tx.direction": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.BankTx == nil {
				return nil, false
			}
			return str(string(d.BankTx.Direction))
		},
		set: func(d *domain.CanonicalDocument, v any) {
			switch dir := v.(type) {
			case domain.BankDirection:
				bankTx(d).Direction = dir
			case string:
				bankTx(d).Direction = domain.BankDirection(dir)
			}
		},
	},
	"bank_tx.value_date": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.BankTx == nil {
				return nil, false
			}
			return str(d.BankTx.ValueDate)
		},
		set: func(d *domain.CanonicalDocument, v any) { bankTx(d).ValueDate = asString(v) },
	},
	"bank_tx.narrative": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.BankTx == nil {
				return nil, false
			}
			return str(d.BankTx.Narrative)
		},
		set: func(d *domain.CanonicalDocument, v any) { bankTx(d).Narrative = asString(v) },
	},
	"bank_tx.counterparty": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.BankTx == nil {
				return nil, false
			}
			return str(d.BankTx.Counterparty)
		},
		set: func(d *domain.CanonicalDocument, v any) { bankTx(d).Counterparty = asString(v) },
	},
	"bank_tx.external_ref": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.BankTx == nil {
				return nil, false
			}
			return str(d.BankTx.ExternalRef)
		},
		set: func(d *domain.CanonicalDocument, v any) { bankTx(d).ExternalRef = asString(v) },
	},
	"product.sku": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Product == nil {
				return nil, false
			}
			return str(d.Product.SKU)
		},
		set: func(d *domain.CanonicalDocument, v any) { product(d).SKU = asString(v) },
	},
	"product.name": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Product == nil {
				return nil, false
			}
			return str(d.Product.Name)
		},
		set: func(d *domain.CanonicalDocument, v any) { product(d).Name = asString(v) },
	},
	"product.description": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Product == nil {
				return nil, false
			}
			return str(d.Product.Description)
		},
		set: func(d *domain.CanonicalDocument, v any) { product(d).Description = asString(v) },
	},
	"product.unit": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Product == nil {
				return nil, false
			}
			return str(d.Product.Unit)
		},
		set: func(d *domain.CanonicalDocument, v any) { product(d).Unit = asString(v) },
	},
	"product.unit_price": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Product == nil {
				return nil, false
			}
			return num(d.Product.UnitPrice)
		},
		set: func(d *domain.CanonicalDocument, v any) { product(d).UnitPrice = asFloat(v) },
	},
	"product.stock": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Product == nil {
				return nil, false
			}
			return num(d.Product.Stock)
		},
		set: func(d *domain.CanonicalDocument, v any) { product(d).Stock = asFloat(v) },
	},
	"product.category": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Product == nil {
				return nil, false
			}
			return str(d.Product.Category)
		},
		set: func(d *domain.CanonicalDocument, v any) { product(d).Category = asString(v) },
	},
	"expense.description": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Expense == nil {
				return nil, false
			}
			return str(d.Expense.Description)
		},
		set: func(d *domain.CanonicalDocument, v any) { expense(d).Description = asString(v) },
	},
	"expense.amount": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Expense == nil {
				return nil, false
			}
			return num(d.Expense.Amount)
		},
		set: func(d *domain.CanonicalDocument, v any) { expense(d).Amount = asFloat(v) },
	},
	"expense.category": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Expense == nil {
				return nil, false
			}
			return str(d.Expense.Category)
		},
		set: func(d *domain.CanonicalDocument, v any) { expense(d).Category = asString(v) },
	},
	"expense.vendor_name": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Expense == nil {
				return nil, false
			}
			return str(d.Expense.VendorName)
		},
		set: func(d *domain.CanonicalDocument, v any) { expense(d).VendorName = asString(v) },
	},
	"expense.payment_method": {
		get: func(d *domain.CanonicalDocument) (any, bool) {
			if d.Expense == nil {
				return nil, false
			}
			return str(d.Expense.PaymentMethod)
		},
		set: func(d *domain.CanonicalDocument, v any) { expense(d).PaymentMethod = asString(v) },
	},
}

// GetField reads a canonical path. ok is false when the field is absent.
func GetField(doc *domain.CanonicalDocument, path string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	acc, exists := accessors[path]
	if !exists {
		return nil, false
	}
	return acc.get(doc)
}

// SetField coerces raw with the field's declared type and writes it. The
// path must belong to the document's doc type.
func SetField(doc *domain.CanonicalDocument, path string, raw any, pack *countrypack.Pack) error {
	if doc == nil {
		return domain.WrapError(domain.ErrInvalidInput, "set field", fmt.Errorf("nil document"))
	}
	spec, ok := SchemaFor(doc.DocType).Field(path)
	acc, hasAccessor := accessors[path]
	if !ok || !hasAccessor {
		return domain.WrapError(domain.ErrInvalidInput, "set field", fmt.Errorf("%s is not a field of %s", path, doc.DocType))
	}
	value, err := coerce(spec.Type, raw, pack)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "set field", fmt.Errorf("%s: %w", path, err))
	}
	acc.set(doc, value)
	return nil
}

func coerce(fieldType FieldType, raw any, pack *countrypack.Pack) (any, error) {
	switch fieldType {
	case TypeNumber:
		decimalComma := pack != nil && pack.DecimalComma()
		d, err := ParseAmount(raw, decimalComma)
		if err != nil {
			return nil, err
		}
		f, _ := d.Float64()
		return f, nil
	case TypeDate:
		iso, ok := NormalizeDate(raw, pack)
		if !ok {
			return nil, fmt.Errorf("%q is not a recognised date", stringValue(raw))
		}
		return iso, nil
	case TypeDirection:
		dir, ok := ParseDirection(raw)
		if !ok {
			return nil, fmt.Errorf("%q is neither debit nor credit", stringValue(raw))
		}
		return dir, nil
	case TypeCurrency, TypeCountry:
		return strings.ToUpper(stringValue(raw)), nil
	case TypeString:
		return stringValue(raw), nil
	}
	return stringValue(raw), nil
}
