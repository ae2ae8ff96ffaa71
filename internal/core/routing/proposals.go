package routing

import (
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// Ledger accounts suggested for each destination.
const (
	accountSuppliers     = "4000"
	accountBank          = "5720"
	accountInventory     = "3000"
	accountOtherServices = "6290"
)

// expenseCategories maps category keywords to expense accounts.
var expenseCategories = []struct {
	keywords []string
	code     string
	account  string
}{
	{[]string{"alquiler", "arrendamiento", "rent"}, "RENT", "6210"},
	{[]string{"reparacion", "mantenimiento", "repair", "maintenance"}, "REPAIRS", "6220"},
	{[]string{"honorarios", "asesoria", "consulting", "legal"}, "PROFESSIONAL_FEES", "6230"},
	{[]string{"transporte", "envio", "shipping", "freight"}, "TRANSPORT", "6240"},
	{[]string{"seguro", "insurance"}, "INSURANCE", "6250"},
	{[]string{"banco", "comision", "bank_fee", "fee"}, "BANK_FEES", "6260"},
	{[]string{"publicidad", "marketing", "advertising"}, "ADVERTISING", "6270"},
	{[]string{"luz", "agua", "gas", "telefono", "internet", "suministro", "utilities"}, "UTILITIES", "6280"},
	{[]string{"viaje", "viajes", "taxi", "hotel", "dietas", "travel", "meals"}, "TRAVEL", "6290"},
}

func proposeInvoice(_ *domain.CanonicalDocument) domain.RoutingProposal {
	return domain.RoutingProposal{CategoryCode: "SUPPLIER_INVOICE", Account: accountSuppliers}
}

func proposeReceipt(doc *domain.CanonicalDocument) domain.RoutingProposal {
	text := ""
	if doc.InvoiceFields != nil {
		if doc.Vendor != nil {
			text = doc.Vendor.Name
		}
		if len(doc.Lines) > 0 {
			text += " " + doc.Lines[0].Desc
		}
	}
	return categorize(text)
}

func proposeBankTx(doc *domain.CanonicalDocument) domain.RoutingProposal {
	code := "BANK_MOVEMENT"
	if doc.BankTx != nil {
		switch doc.BankTx.Direction {
		case domain.DirectionDebit:
			code = "BANK_DEBIT"
		case domain.DirectionCredit:
			code = "BANK_CREDIT"
		}
	}
	return domain.RoutingProposal{CategoryCode: code, Account: accountBank}
}

func proposeProduct(doc *domain.CanonicalDocument) domain.RoutingProposal {
	code := "INVENTORY"
	if doc.Product != nil && doc.Product.Category != "" {
		code = "INVENTORY_" + strings.ToUpper(canonical.NormalizeKey(doc.Product.Category))
	}
	return domain.RoutingProposal{CategoryCode: code, Account: accountInventory}
}

func proposeExpense(doc *domain.CanonicalDocument) domain.RoutingProposal {
	if doc.Expense == nil {
		return categorize("")
	}
	return categorize(doc.Expense.Category + " " + doc.Expense.Description + " " + doc.Expense.VendorName)
}

// categorize returns the first category whose keyword appears in text.
func categorize(text string) domain.RoutingProposal {
	words := strings.Split(canonical.NormalizeKey(text), "_")
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}
	normalized := canonical.NormalizeKey(text)
	for _, c := range expenseCategories {
		for _, kw := range c.keywords {
			if present[kw] || (strings.Contains(kw, "_") && strings.Contains(normalized, kw)) {
				return domain.RoutingProposal{CategoryCode: c.code, Account: c.account}
			}
		}
	}
	return domain.RoutingProposal{CategoryCode: "OTHER_EXPENSE", Account: accountOtherServices}
}
