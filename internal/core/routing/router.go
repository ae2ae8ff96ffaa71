// Package routing maps canonical documents to their destination domain
// tables and writes them under deterministic ids.
package routing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

// Destination tables.
const (
	TargetInvoices      = "invoices"
	TargetExpenses      = "expenses"
	TargetBankMovements = "bank_movements"
	TargetInventory     = "inventory"
	TargetUnmapped      = "unmapped"
	TargetUnknown       = "unknown"
)

var domainNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fiscal-ingest.domain"))

type PromoteContext struct {
	TenantID string
	ItemID   string
	Actor    string
}

type Handler interface {
	Target() string
	Promote(ctx context.Context, doc *domain.CanonicalDocument, pc PromoteContext) (domain.PromoteResult, error)
	Propose(doc *domain.CanonicalDocument) domain.RoutingProposal
}

// Router owns one handler per routable doc type.
type Router struct {
	invoices *tableHandler
	receipts *tableHandler
	bank     *tableHandler
	products *tableHandler
	expenses *tableHandler
}

func NewRouter(writer ports.DomainWriter) *Router {
	return &Router{
		invoices: &tableHandler{target: TargetInvoices, writer: writer, key: invoiceKey, propose: proposeInvoice},
		receipts: &tableHandler{target: TargetExpenses, writer: writer, key: receiptKey, propose: proposeReceipt},
		bank:     &tableHandler{target: TargetBankMovements, writer: writer, key: bankKey, propose: proposeBankTx},
		products: &tableHandler{target: TargetInventory, writer: writer, key: productKey, propose: proposeProduct},
		expenses: &tableHandler{target: TargetExpenses, writer: writer, key: expenseKey, propose: proposeExpense},
	}
}

// HandlerFor returns the handler of docType; "other" and unknown types have none.
func (r *Router) HandlerFor(docType domain.DocType) (Handler, bool) {
	switch docType {
	case domain.DocTypeInvoice:
		return r.invoices, true
	case domain.DocTypeExpenseReceipt:
		return r.receipts, true
	case domain.DocTypeBankTx:
		return r.bank, true
	case domain.DocTypeProduct:
		return r.products, true
	case domain.DocTypeExpense:
		return r.expenses, true
	case domain.DocTypeOther:
		return nil, false
	}
	return nil, false
}

// TargetFor names the destination of docType, accepting locale aliases.
func TargetFor(raw string) string {
	docType, ok := canonical.ResolveDocType(raw)
	if !ok {
		return TargetUnknown
	}
	switch docType {
	case domain.DocTypeInvoice:
		return TargetInvoices
	case domain.DocTypeExpenseReceipt, domain.DocTypeExpense:
		return TargetExpenses
	case domain.DocTypeBankTx:
		return TargetBankMovements
	case domain.DocTypeProduct:
		return TargetInventory
	case domain.DocTypeOther:
		return TargetUnmapped
	}
	return TargetUnknown
}

// Propose attaches a routing proposal to doc when a handler exists.
func (r *Router) Propose(doc *domain.CanonicalDocument) (domain.RoutingProposal, bool) {
	if doc == nil {
		return domain.RoutingProposal{}, false
	}
	h, ok := r.HandlerFor(doc.DocType)
	if !ok {
		return domain.RoutingProposal{Target: TargetUnmapped}, false
	}
	proposal := h.Propose(doc)
	doc.RoutingProposal = &proposal
	return proposal, true
}

// PromoteCanonical writes doc to its domain table. A non-empty promotedID
// means the item was promoted before: the prior id is returned as skipped
// and nothing is written.
func (r *Router) PromoteCanonical(ctx context.Context, doc *domain.CanonicalDocument, promotedID string, pc PromoteContext) (domain.PromoteResult, error) {
	if doc == nil {
		return domain.PromoteResult{}, domain.WrapError(domain.ErrInvalidInput, "promote canonical", fmt.Errorf("nil document"))
	}
	h, ok := r.HandlerFor(doc.DocType)
	if promotedID != "" {
		target := TargetUnknown
		if ok {
			target = h.Target()
		}
		return domain.PromoteResult{DomainID: promotedID, Target: target, Skipped: true}, nil
	}
	if !ok {
		return domain.PromoteResult{DomainID: "", Target: TargetUnknown, Skipped: false}, nil
	}
	return h.Promote(ctx, doc, pc)
}

// DomainID derives the UUIDv5 of a domain row from the tenant, the target
// table and the row's natural key.
func DomainID(tenantID, target string, keyParts ...string) string {
	name := tenantID + "|" + target + "|" + strings.Join(keyParts, "|")
	return uuid.NewSHA1(domainNamespace, []byte(name)).String()
}

type tableHandler struct {
	target  string
	writer  ports.DomainWriter
	key     func(*domain.CanonicalDocument) []string
	propose func(*domain.CanonicalDocument) domain.RoutingProposal
}

func (h *tableHandler) Target() string { return h.target }

func (h *tableHandler) Propose(doc *domain.CanonicalDocument) domain.RoutingProposal {
	p := h.propose(doc)
	p.Target = h.target
	p.Confidence = doc.Confidence
	return p
}

func (h *tableHandler) Promote(ctx context.Context, doc *domain.CanonicalDocument, pc PromoteContext) (domain.PromoteResult, error) {
	if strings.TrimSpace(pc.TenantID) == "" {
		return domain.PromoteResult{}, domain.WrapError(domain.ErrInvalidInput, "promote "+h.target, fmt.Errorf("tenant id is required"))
	}
	id := DomainID(pc.TenantID, h.target, h.key(doc)...)
	if doc.RoutingProposal == nil {
		proposal := h.Propose(doc)
		doc.RoutingProposal = &proposal
	}
	inserted, err := h.writer.Upsert(ctx, h.target, pc.TenantID, id, doc)
	if err != nil {
		return domain.PromoteResult{}, fmt.Errorf("write %s row: %w", h.target, err)
	}
	return domain.PromoteResult{DomainID: id, Target: h.target, Skipped: !inserted}, nil
}

func invoiceKey(doc *domain.CanonicalDocument) []string {
	number := ""
	if doc.InvoiceFields != nil {
		number = doc.InvoiceNumber
	}
	return []string{number, doc.IssueDate}
}

func receiptKey(doc *domain.CanonicalDocument) []string {
	vendorName, total := "", ""
	if doc.InvoiceFields != nil {
		if doc.Vendor != nil {
			vendorName = strings.ToLower(doc.Vendor.Name)
		}
		if doc.Totals != nil {
			total = formatAmount(doc.Totals.Total)
		}
	}
	return []string{vendorName, doc.IssueDate, total}
}

func bankKey(doc *domain.CanonicalDocument) []string {
	tx := doc.BankTx
	if tx == nil {
		return []string{doc.IssueDate}
	}
	narrative := tx.Narrative
	if r := []rune(narrative); len(r) > 32 {
		narrative = string(r[:32])
	}
	return []string{tx.ValueDate, string(tx.Direction), formatAmount(tx.Amount), narrative}
}

func productKey(doc *domain.CanonicalDocument) []string {
	if doc.Product == nil {
		return nil
	}
	if doc.Product.SKU != "" {
		return []string{"sku", doc.Product.SKU}
	}
	return []string{"name", strings.ToLower(doc.Product.Name)}
}

func expenseKey(doc *domain.CanonicalDocument) []string {
	if doc.Expense == nil {
		return []string{doc.IssueDate}
	}
	return []string{doc.IssueDate, formatAmount(doc.Expense.Amount), doc.Expense.Description}
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
