package einvoice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

const ublSample = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
  xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
  xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>F-2025-001</cbc:ID>
  <cbc:IssueDate>2025-01-15</cbc:IssueDate>
  <cbc:DocumentCurrencyCode>EUR</cbc:DocumentCurrencyCode>
  <cac:AccountingSupplierParty><cac:Party>
    <cac:PostalAddress><cac:Country><cbc:IdentificationCode>ES</cbc:IdentificationCode></cac:Country></cac:PostalAddress>
    <cac:PartyTaxScheme><cbc:CompanyID>B12345674</cbc:CompanyID></cac:PartyTaxScheme>
    <cac:PartyLegalEntity><cbc:RegistrationName>Suministros Norte SL</cbc:RegistrationName></cac:PartyLegalEntity>
  </cac:Party></cac:AccountingSupplierParty>
  <cac:AccountingCustomerParty><cac:Party>
    <cac:PartyName><cbc:Name>Cliente SA</cbc:Name></cac:PartyName>
  </cac:Party></cac:AccountingCustomerParty>
  <cac:TaxTotal>
    <cbc:TaxAmount currencyID="EUR">21.00</cbc:TaxAmount>
    <cac:TaxSubtotal>
      <cbc:TaxableAmount currencyID="EUR">100.00</cbc:TaxableAmount>
      <cbc:TaxAmount currencyID="EUR">21.00</cbc:TaxAmount>
      <cac:TaxCategory><cbc:ID>S</cbc:ID><cbc:Percent>21</cbc:Percent></cac:TaxCategory>
    </cac:TaxSubtotal>
  </cac:TaxTotal>
  <cac:LegalMonetaryTotal>
    <cbc:LineExtensionAmount currencyID="EUR">100.00</cbc:LineExtensionAmount>
    <cbc:TaxExclusiveAmount currencyID="EUR">100.00</cbc:TaxExclusiveAmount>
    <cbc:TaxInclusiveAmount currencyID="EUR">121.00</cbc:TaxInclusiveAmount>
  </cac:LegalMonetaryTotal>
  <cac:InvoiceLine>
    <cbc:InvoicedQuantity unitCode="C62">2</cbc:InvoicedQuantity>
    <cbc:LineExtensionAmount currencyID="EUR">100.00</cbc:LineExtensionAmount>
    <cac:Item><cbc:Name>Cable</cbc:Name></cac:Item>
    <cac:Price><cbc:PriceAmount currencyID="EUR">50.00</cbc:PriceAmount></cac:Price>
  </cac:InvoiceLine>
</Invoice>`

const sriSample = `<factura id="comprobante" version="1.1.0">
  <infoTributaria>
    <razonSocial>Comercial Andina</razonSocial>
    <ruc>1790012345001</ruc>
    <estab>001</estab><ptoEmi>002</ptoEmi><secuencial>000000123</secuencial>
  </infoTributaria>
  <infoFactura>
    <fechaEmision>15/01/2025</fechaEmision>
    <razonSocialComprador>Consumidor</razonSocialComprador>
    <totalSinImpuestos>100.00</totalSinImpuestos>
    <totalConImpuestos>
      <totalImpuesto><codigo>2</codigo><codigoPorcentaje>4</codigoPorcentaje><baseImponible>100.00</baseImponible><tarifa>15</tarifa><valor>15.00</valor></totalImpuesto>
    </totalConImpuestos>
    <importeTotal>115.00</importeTotal>
    <moneda>DOLAR</moneda>
  </infoFactura>
  <detalles><detalle><descripcion>Servicio</descripcion><cantidad>1</cantidad><precioUnitario>100</precioUnitario><precioTotalSinImpuesto>100</precioTotalSinImpuesto></detalle></detalles>
</factura>`

const cfdiSample = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Serie="A" Folio="77" Fecha="2025-02-03T10:11:12" SubTotal="100.00" Total="116.00" Moneda="MXN" FormaPago="03">
  <cfdi:Emisor Rfc="XAXX010101000" Nombre="Proveedor MX"/>
  <cfdi:Receptor Rfc="XEXX010101000" Nombre="Cliente MX"/>
  <cfdi:Conceptos>
    <cfdi:Concepto Cantidad="1" ClaveUnidad="E48" Descripcion="Consultoria" ValorUnitario="100.00" Importe="100.00"/>
  </cfdi:Conceptos>
  <cfdi:Impuestos TotalImpuestosTrasladados="16.00">
    <cfdi:Traslados><cfdi:Traslado Base="100.00" Impuesto="002" TasaOCuota="0.160000" Importe="16.00"/></cfdi:Traslados>
  </cfdi:Impuestos>
</cfdi:Comprobante>`

func parseOne(t *testing.T, input string) map[string]any {
	t.Helper()
	var rows []ports.Row
	err := New().Parse(context.Background(), strings.NewReader(input), func(row ports.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Index != 0 {
		t.Fatalf("expected exactly one row at index 0, got %+v", rows)
	}
	return rows[0].Fields
}

func TestParseUBL(t *testing.T) {
	fields := parseOne(t, ublSample)
	checks := map[string]any{
		"invoice_number":  "F-2025-001",
		"issue_date":      "2025-01-15",
		"currency":        "EUR",
		"country":         "ES",
		"vendor.name":     "Suministros Norte SL",
		"vendor.tax_id":   "B12345674",
		"buyer.name":      "Cliente SA",
		"totals.subtotal": 100.0,
		"totals.tax":      21.0,
		"totals.total":    121.0,
	}
	for key, want := range checks {
		if fields[key] != want {
			t.Fatalf("%s = %v, want %v", key, fields[key], want)
		}
	}
	lines, ok := fields["lines"].([]map[string]any)
	if !ok || len(lines) != 1 || lines[0]["desc"] != "Cable" || lines[0]["unit"] != "C62" {
		t.Fatalf("unexpected lines: %+v", fields["lines"])
	}
	taxes, ok := fields["tax_breakdown"].([]map[string]any)
	if !ok || len(taxes) != 1 || taxes[0]["rate"] != 21.0 {
		t.Fatalf("unexpected tax breakdown: %+v", fields["tax_breakdown"])
	}
}

func TestParseSRIWrappedInAutorizacion(t *testing.T) {
	wrapped := "<autorizacion><estado>AUTORIZADO</estado><comprobante><![CDATA[" + sriSample + "]]></comprobante></autorizacion>"
	fields := parseOne(t, wrapped)
	if fields["invoice_number"] != "001-002-000000123" {
		t.Fatalf("unexpected number: %v", fields["invoice_number"])
	}
	if fields["currency"] != "USD" || fields["country"] != "EC" || fields["issue_date"] != "15/01/2025" {
		t.Fatalf("unexpected envelope: %+v", fields)
	}
	if fields["totals.tax"] != 15.0 || fields["totals.total"] != 115.0 {
		t.Fatalf("unexpected totals: %+v", fields)
	}
}

func TestParseCFDI(t *testing.T) {
	fields := parseOne(t, cfdiSample)
	if fields["invoice_number"] != "A-77" || fields["issue_date"] != "2025-02-03" || fields["vendor.tax_id"] != "XAXX010101000" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	taxes := fields["tax_breakdown"].([]map[string]any)
	if taxes[0]["rate"] != 16.0 || taxes[0]["code"] != "002" {
		t.Fatalf("unexpected CFDI tax: %+v", taxes)
	}
}

func TestParseLatin1Declaration(t *testing.T) {
	input := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<factura><infoTributaria><razonSocial>Compa\xf1\xeda</razonSocial><secuencial>1</secuencial></infoTributaria></factura>"
	fields := parseOne(t, input)
	if fields["vendor.name"] != "Compañía" {
		t.Fatalf("expected decoded name, got %q", fields["vendor.name"])
	}
}

func TestParseUnsupportedRoot(t *testing.T) {
	err := New().Parse(context.Background(), strings.NewReader("<note><to>x</to></note>"), func(ports.Row) error { return nil })
	if !errors.Is(err, errUnsupportedRoot) {
		t.Fatalf("expected unsupported root, got %v", err)
	}
}

func TestPeekListsFieldHeaders(t *testing.T) {
	peek, err := New().Peek(context.Background(), strings.NewReader(cfdiSample), 5)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if len(peek.SampleRows) != 1 || len(peek.Headers) == 0 || peek.Headers[0] != "buyer.name" {
		t.Fatalf("unexpected peek: %+v", peek)
	}
}
