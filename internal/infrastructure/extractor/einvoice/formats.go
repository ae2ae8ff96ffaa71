package einvoice

import (
	"strings"
)

// ublInvoice covers the UBL 2.1 Invoice and CreditNote subset used by Peppol
// and the Spanish and Latin American profiles.
type ublInvoice struct {
	ID           string   `xml:"ID"`
	IssueDate    string   `xml:"IssueDate"`
	Currency     string   `xml:"DocumentCurrencyCode"`
	Supplier     ublParty `xml:"AccountingSupplierParty>Party"`
	Customer     ublParty `xml:"AccountingCustomerParty>Party"`
	TaxTotal     ublTax   `xml:"TaxTotal"`
	Monetary     ublTotal `xml:"LegalMonetaryTotal"`
	PaymentMeans struct {
		Code string `xml:"PaymentMeansCode"`
		IBAN string `xml:"PayeeFinancialAccount>ID"`
	} `xml:"PaymentMeans"`
	Lines       []ublLine `xml:"InvoiceLine"`
	CreditLines []ublLine `xml:"CreditNoteLine"`
}

type ublParty struct {
	Name             string `xml:"PartyName>Name"`
	RegistrationName string `xml:"PartyLegalEntity>RegistrationName"`
	TaxID            string `xml:"PartyTaxScheme>CompanyID"`
	LegalID          string `xml:"PartyLegalEntity>CompanyID"`
	Country          string `xml:"PostalAddress>Country>IdentificationCode"`
}

func (p ublParty) name() string {
	return firstNonEmpty(p.RegistrationName, p.Name)
}

func (p ublParty) taxID() string {
	return firstNonEmpty(p.TaxID, p.LegalID)
}

type ublTax struct {
	Amount    string `xml:"TaxAmount"`
	Subtotals []struct {
		Base    string `xml:"TaxableAmount"`
		Amount  string `xml:"TaxAmount"`
		Percent string `xml:"TaxCategory>Percent"`
		Code    string `xml:"TaxCategory>ID"`
	} `xml:"TaxSubtotal"`
}

type ublTotal struct {
	LineExtension string `xml:"LineExtensionAmount"`
	TaxExclusive  string `xml:"TaxExclusiveAmount"`
	TaxInclusive  string `xml:"TaxInclusiveAmount"`
	Payable       string `xml:"PayableAmount"`
}

type ublLine struct {
	Quantity struct {
		Value string `xml:",chardata"`
		Unit  string `xml:"unitCode,attr"`
	} `xml:"InvoicedQuantity"`
	CreditedQuantity struct {
		Value string `xml:",chardata"`
		Unit  string `xml:"unitCode,attr"`
	} `xml:"CreditedQuantity"`
	Amount      string `xml:"LineExtensionAmount"`
	Name        string `xml:"Item>Name"`
	Description string `xml:"Item>Description"`
	Price       string `xml:"Price>PriceAmount"`
	TaxCode     string `xml:"Item>ClassifiedTaxCategory>ID"`
}

func (u ublInvoice) fields() map[string]any {
	f := fieldSet{}
	f.str("invoice_number", u.ID)
	f.str("issue_date", u.IssueDate)
	f.str("currency", u.Currency)
	f.str("country", u.Supplier.Country)
	f.str("vendor.name", u.Supplier.name())
	f.str("vendor.tax_id", u.Supplier.taxID())
	f.str("vendor.country", u.Supplier.Country)
	f.str("buyer.name", u.Customer.name())
	f.str("buyer.tax_id", u.Customer.taxID())
	f.amount("totals.subtotal", firstNonEmpty(u.Monetary.TaxExclusive, u.Monetary.LineExtension))
	f.amount("totals.tax", u.TaxTotal.Amount)
	f.amount("totals.total", firstNonEmpty(u.Monetary.TaxInclusive, u.Monetary.Payable))
	f.str("payment.method", u.PaymentMeans.Code)
	f.str("payment.iban", u.PaymentMeans.IBAN)
	for _, s := range u.TaxTotal.Subtotals {
		f.breakdown(s.Code, s.Percent, s.Amount, s.Base)
	}

	lines := u.Lines
	if len(lines) == 0 {
		lines = u.CreditLines
	}
	for _, l := range lines {
		qty, unit := l.Quantity.Value, l.Quantity.Unit
		if qty == "" {
			qty, unit = l.CreditedQuantity.Value, l.CreditedQuantity.Unit
		}
		f.line(firstNonEmpty(l.Name, l.Description), qty, unit, l.Price, l.Amount, l.TaxCode)
	}
	return f.done()
}

// sriFactura is the Ecuadorian SRI electronic invoice (comprobante factura).
type sriFactura struct {
	Info struct {
		RazonSocial string `xml:"razonSocial"`
		RUC         string `xml:"ruc"`
		Estab       string `xml:"estab"`
		PtoEmi      string `xml:"ptoEmi"`
		Secuencial  string `xml:"secuencial"`
	} `xml:"infoTributaria"`
	Factura struct {
		FechaEmision      string `xml:"fechaEmision"`
		Comprador         string `xml:"razonSocialComprador"`
		IDComprador       string `xml:"identificacionComprador"`
		TotalSinImpuestos string `xml:"totalSinImpuestos"`
		ImporteTotal      string `xml:"importeTotal"`
		Moneda            string `xml:"moneda"`
		Impuestos         []struct {
			Codigo     string `xml:"codigo"`
			Porcentaje string `xml:"codigoPorcentaje"`
			Base       string `xml:"baseImponible"`
			Tarifa     string `xml:"tarifa"`
			Valor      string `xml:"valor"`
		} `xml:"totalConImpuestos>totalImpuesto"`
		FormaPago string `xml:"pagos>pago>formaPago"`
	} `xml:"infoFactura"`
	Detalles []struct {
		Descripcion    string `xml:"descripcion"`
		Cantidad       string `xml:"cantidad"`
		PrecioUnitario string `xml:"precioUnitario"`
		Total          string `xml:"precioTotalSinImpuesto"`
	} `xml:"detalles>detalle"`
}

// sriAutorizacion wraps an authorised comprobante as character data.
type sriAutorizacion struct {
	Comprobante string `xml:"comprobante"`
}

func (s sriFactura) fields() map[string]any {
	f := fieldSet{}
	number := s.Info.Secuencial
	if s.Info.Estab != "" && s.Info.PtoEmi != "" {
		number = s.Info.Estab + "-" + s.Info.PtoEmi + "-" + s.Info.Secuencial
	}
	f.str("invoice_number", number)
	f.str("issue_date", s.Factura.FechaEmision)
	f.str("country", "EC")
	f.str("currency", sriCurrency(s.Factura.Moneda))
	f.str("vendor.name", s.Info.RazonSocial)
	f.str("vendor.tax_id", s.Info.RUC)
	f.str("vendor.country", "EC")
	f.str("buyer.name", s.Factura.Comprador)
	f.str("buyer.tax_id", s.Factura.IDComprador)
	f.amount("totals.subtotal", s.Factura.TotalSinImpuestos)
	f.amount("totals.total", s.Factura.ImporteTotal)
	f.str("payment.method", s.Factura.FormaPago)

	taxes := make([]string, 0, len(s.Factura.Impuestos))
	for _, t := range s.Factura.Impuestos {
		f.breakdown(t.Codigo+"-"+t.Porcentaje, t.Tarifa, t.Valor, t.Base)
		taxes = append(taxes, t.Valor)
	}
	f.sum("totals.tax", taxes)
	for _, d := range s.Detalles {
		f.line(d.Descripcion, d.Cantidad, "", d.PrecioUnitario, d.Total, "")
	}
	return f.done()
}

func sriCurrency(moneda string) string {
	switch strings.ToUpper(strings.TrimSpace(moneda)) {
	case "", "DOLAR", "DÓLAR", "USD":
		return "USD"
	default:
		return strings.ToUpper(moneda)
	}
}

// cfdiComprobante is the Mexican CFDI 3.3/4.0 comprobante.
type cfdiComprobante struct {
	Serie     string `xml:"Serie,attr"`
	Folio     string `xml:"Folio,attr"`
	Fecha     string `xml:"Fecha,attr"`
	SubTotal  string `xml:"SubTotal,attr"`
	Total     string `xml:"Total,attr"`
	Moneda    string `xml:"Moneda,attr"`
	FormaPago string `xml:"FormaPago,attr"`
	Emisor    struct {
		Rfc    string `xml:"Rfc,attr"`
		Nombre string `xml:"Nombre,attr"`
	} `xml:"Emisor"`
	Receptor struct {
		Rfc    string `xml:"Rfc,attr"`
		Nombre string `xml:"Nombre,attr"`
	} `xml:"Receptor"`
	Conceptos []struct {
		Cantidad      string `xml:"Cantidad,attr"`
		ClaveUnidad   string `xml:"ClaveUnidad,attr"`
		Descripcion   string `xml:"Descripcion,attr"`
		ValorUnitario string `xml:"ValorUnitario,attr"`
		Importe       string `xml:"Importe,attr"`
	} `xml:"Conceptos>Concepto"`
	Impuestos struct {
		Trasladados string `xml:"TotalImpuestosTrasladados,attr"`
		Traslados   []struct {
			Base     string `xml:"Base,attr"`
			Impuesto string `xml:"Impuesto,attr"`
			Tasa     string `xml:"TasaOCuota,attr"`
			Importe  string `xml:"Importe,attr"`
		} `xml:"Traslados>Traslado"`
	} `xml:"Impuestos"`
}

func (c cfdiComprobante) fields() map[string]any {
	f := fieldSet{}
	number := c.Folio
	if c.Serie != "" {
		number = c.Serie + "-" + c.Folio
	}
	date := c.Fecha
	if len(date) > 10 {
		date = date[:10]
	}
	f.str("invoice_number", number)
	f.str("issue_date", date)
	f.str("country", "MX")
	f.str("currency", firstNonEmpty(c.Moneda, "MXN"))
	f.str("vendor.name", c.Emisor.Nombre)
	f.str("vendor.tax_id", c.Emisor.Rfc)
	f.str("vendor.country", "MX")
	f.str("buyer.name", c.Receptor.Nombre)
	f.str("buyer.tax_id", c.Receptor.Rfc)
	f.amount("totals.subtotal", c.SubTotal)
	f.amount("totals.tax", c.Impuestos.Trasladados)
	f.amount("totals.total", c.Total)
	f.str("payment.method", c.FormaPago)
	for _, t := range c.Impuestos.Traslados {
		f.breakdown(t.Impuesto, percent(t.Tasa), t.Importe, t.Base)
	}
	for _, concepto := range c.Conceptos {
		f.line(concepto.Descripcion, concepto.Cantidad, concepto.ClaveUnidad, concepto.ValorUnitario, concepto.Importe, "")
	}
	return f.done()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
