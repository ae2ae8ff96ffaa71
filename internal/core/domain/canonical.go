package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DocType is the closed set of canonical document kinds.
type DocType string

const (
	DocTypeInvoice        DocType = "invoice"
	DocTypeExpenseReceipt DocType = "expense_receipt"
	DocTypeBankTx         DocType = "bank_tx"
	DocTypeProduct        DocType = "product"
	DocTypeExpense        DocType = "expense"
	DocTypeOther          DocType = "other"
)

// DocTypes lists every known doc type in stable order.
func DocTypes() []DocType {
	return []DocType{
		DocTypeInvoice,
		DocTypeExpenseReceipt,
		DocTypeBankTx,
		DocTypeProduct,
		DocTypeExpense,
		DocTypeOther,
	}
}

func ParseDocType(raw string) (DocType, bool) {
	candidate := DocType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range DocTypes() {
		if candidate == known {
			return known, true
		}
	}
	return "", false
}

func (t DocType) Valid() bool {
	_, ok := ParseDocType(string(t))
	return ok
}

type BankDirection string

const (
	DirectionDebit  BankDirection = "debit"
	DirectionCredit BankDirection = "credit"
)

func (d BankDirection) Valid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// Envelope carries the fields shared by every canonical document.
type Envelope struct {
	DocType    DocType `json:"doc_type"`
	Country    string  `json:"country,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	IssueDate  string  `json:"issue_date,omitempty"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
}

type Party struct {
	Name    string `json:"name,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
	Country string `json:"country,omitempty"`
}

type TaxBreakdownEntry struct {
	Code   string   `json:"code,omitempty"`
	Rate   *float64 `json:"rate,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
	Base   *float64 `json:"base,omitempty"`
}

type Totals struct {
	Subtotal     *float64            `json:"subtotal,omitempty"`
	Tax          *float64            `json:"tax,omitempty"`
	Total        *float64            `json:"total,omitempty"`
	TaxBreakdown []TaxBreakdownEntry `json:"tax_breakdown,omitempty"`
}

type Line struct {
	Desc      string   `json:"desc,omitempty"`
	Qty       *float64 `json:"qty,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
	Total     *float64 `json:"total,omitempty"`
	TaxCode   string   `json:"tax_code,omitempty"`
	TaxAmount *float64 `json:"tax_amount,omitempty"`
}

type Payment struct {
	Method string `json:"method,omitempty"`
	IBAN   string `json:"iban,omitempty"`
}

// InvoiceFields is the payload shared by invoices and expense receipts.
type InvoiceFields struct {
	InvoiceNumber string   `json:"invoice_number,omitempty"`
	Vendor        *Party   `json:"vendor,omitempty"`
	Buyer         *Party   `json:"buyer,omitempty"`
	Totals        *Totals  `json:"totals,omitempty"`
	Lines         []Line   `json:"lines,omitempty"`
	Payment       *Payment `json:"payment,omitempty"`
}

type BankTx struct {
	Amount       *float64      `json:"amount,omitempty"`
	Direction    BankDirection `json:"direction,omitempty"`
	ValueDate    string        `json:"value_date,omitempty"`
	Narrative    string        `json:"narrative,omitempty"`
	Counterparty string        `json:"counterparty,omitempty"`
	ExternalRef  string        `json:"external_ref,omitempty"`
}

type Product struct {
	SKU         string   `json:"sku,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Stock       *float64 `json:"stock,omitempty"`
	Category    string   `json:"category,omitempty"`
}

type Expense struct {
	Description   string   `json:"description,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Category      string   `json:"category,omitempty"`
	VendorName    string   `json:"vendor_name,omitempty"`
	PaymentMethod string   `json:"payment_method,omitempty"`
}

type RoutingProposal struct {
	Target       string  `json:"target"`
	CategoryCode string  `json:"category_code,omitempty"`
	Account      string  `json:"account,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// CanonicalDocument is the tagged union of every ingested document. The
// embedded envelope and invoice fields flatten into the JSON wire shape; only
// the payload matching DocType is populated.
type CanonicalDocument struct {
	Envelope
	*InvoiceFields

	BankTx  *BankTx  `json:"bank_tx,omitempty"`
	Product *Product `json:"product,omitempty"`
	Expense *Expense `json:"expense,omitempty"`

	RoutingProposal *RoutingProposal `json:"routing_proposal,omitempty"`
}

var errPayloadMismatch = errors.New("payload does not match doc_type")

func NewInvoiceDocument(env Envelope, fields InvoiceFields) (*CanonicalDocument, error) {
	if env.DocType == "" {
		env.DocType = DocTypeInvoice
	}
	if env.DocType != DocTypeInvoice && env.DocType != DocTypeExpenseReceipt {
		return nil, WrapError(ErrInvalidInput, "new invoice document", fmt.Errorf("%w: %s", errPayloadMismatch, env.DocType))
	}
	return &CanonicalDocument{Envelope: env, InvoiceFields: &fields}, nil
}

func NewBankTxDocument(env Envelope, tx BankTx) (*CanonicalDocument, error) {
	if env.DocType == "" {
		env.DocType = DocTypeBankTx
	}
	if env.DocType != DocTypeBankTx {
		return nil, WrapError(ErrInvalidInput, "new bank tx document", fmt.Errorf("%w: %s", errPayloadMismatch, env.DocType))
	}
	if env.IssueDate == "" {
		env.IssueDate = tx.ValueDate
	}
	return &CanonicalDocument{Envelope: env, BankTx: &tx}, nil
}

func NewProductDocument(env Envelope, product Product) (*CanonicalDocument, error) {
	if env.DocType == "" {
		env.DocType = DocTypeProduct
	}
	if env.DocType != DocTypeProduct {
		return nil, WrapError(ErrInvalidInput, "new product document", fmt.Errorf("%w: %s", errPayloadMismatch, env.DocType))
	}
	return &CanonicalDocument{Envelope: env, Product: &product}, nil
}

func NewExpenseDocument(env Envelope, expense Expense) (*CanonicalDocument, error) {
	if env.DocType == "" {
		env.DocType = DocTypeExpense
	}
	if env.DocType != DocTypeExpense {
		return nil, WrapError(ErrInvalidInput, "new expense document", fmt.Errorf("%w: %s", errPayloadMismatch, env.DocType))
	}
	return &CanonicalDocument{Envelope: env, Expense: &expense}, nil
}

func NewOtherDocument(env Envelope) *CanonicalDocument {
	env.DocType = DocTypeOther
	return &CanonicalDocument{Envelope: env}
}

// Payload returns the variant matching DocType, or nil when it is missing.
func (d *CanonicalDocument) Payload() any {
	if d == nil {
		return nil
	}
	switch d.DocType {
	case DocTypeInvoice, DocTypeExpenseReceipt:
		if d.InvoiceFields == nil {
			return nil
		}
		return d.InvoiceFields
	case DocTypeBankTx:
		if d.BankTx == nil {
			return nil
		}
		return d.BankTx
	case DocTypeProduct:
		if d.Product == nil {
			return nil
		}
		return d.Product
	case DocTypeExpense:
		if d.Expense == nil {
			return nil
		}
		return d.Expense
	case DocTypeOther:
		return nil
	}
	return nil
}

// Clone returns a deep copy so corrections never alias persisted state.
func (d *CanonicalDocument) Clone() *CanonicalDocument {
	if d == nil {
		return nil
	}
	out := *d
	if d.InvoiceFields != nil {
		fields := *d.InvoiceFields
		if fields.Vendor != nil {
			v := *fields.Vendor
			fields.Vendor = &v
		}
		if fields.Buyer != nil {
			b := *fields.Buyer
			fields.Buyer = &b
		}
		if fields.Totals != nil {
			t := *fields.Totals
			t.Subtotal = cloneFloat(t.Subtotal)
			t.Tax = cloneFloat(t.Tax)
			t.Total = cloneFloat(t.Total)
			t.TaxBreakdown = append([]TaxBreakdownEntry(nil), t.TaxBreakdown...)
			fields.Totals = &t
		}
		if fields.Payment != nil {
			p := *fields.Payment
			fields.Payment = &p
		}
		fields.Lines = append([]Line(nil), fields.Lines...)
		out.InvoiceFields = &fields
	}
	if d.BankTx != nil {
		tx := *d.BankTx
		tx.Amount = cloneFloat(tx.Amount)
		out.BankTx = &tx
	}
	if d.Product != nil {
		p := *d.Product
		p.UnitPrice = cloneFloat(p.UnitPrice)
		p.Stock = cloneFloat(p.Stock)
		out.Product = &p
	}
	if d.Expense != nil {
		e := *d.Expense
		e.Amount = cloneFloat(e.Amount)
		out.Expense = &e
	}
	if d.RoutingProposal != nil {
		rp := *d.RoutingProposal
		out.RoutingProposal = &rp
	}
	return &out
}

// Float returns a pointer to v, for optional amounts.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
