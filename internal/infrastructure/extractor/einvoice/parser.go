// Package einvoice parses structured XML e-invoices: UBL 2.1 (Peppol,
// Spain, Colombia, Peru), Ecuador SRI facturas (bare or wrapped in an
// autorizacion) and Mexican CFDI comprobantes. Each file yields one row.
package einvoice

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/textenc"
)

const (
	ParserID = "xml_einvoice"
	maxSize  = 32 << 20
)

var errUnsupportedRoot = errors.New("unsupported e-invoice document")

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Descriptor() ports.ParserDescriptor {
	return ports.ParserDescriptor{
		ID:          ParserID,
		DocType:     domain.DocTypeInvoice,
		Kinds:       []domain.FileKind{domain.KindXML},
		Vocabulary:  canonical.Vocabulary(domain.DocTypeInvoice),
		Description: "UBL, SRI and CFDI electronic invoices",
	}
}

func (p *Parser) Peek(ctx context.Context, r io.Reader, maxRows int) (ports.PeekResult, error) {
	fields, err := p.read(ctx, r)
	if err != nil {
		return ports.PeekResult{}, err
	}
	result := ports.PeekResult{Headers: sortedKeys(fields)}
	if maxRows > 0 {
		result.SampleRows = []map[string]any{fields}
	}
	return result, nil
}

func (p *Parser) Parse(ctx context.Context, r io.Reader, emit func(ports.Row) error) error {
	fields, err := p.read(ctx, r)
	if err != nil {
		return err
	}
	return emit(ports.Row{Index: 0, Fields: fields})
}

func (p *Parser) read(ctx context.Context, r io.Reader) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read e-invoice: %w", err)
	}
	if len(data) > maxSize {
		return nil, fmt.Errorf("e-invoice exceeds %d bytes", maxSize)
	}
	return decode(data, true)
}

func decode(data []byte, allowWrapper bool) (map[string]any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = textenc.CharsetReader

	start, err := rootElement(decoder)
	if err != nil {
		return nil, err
	}
	switch start.Name.Local {
	case "Invoice", "CreditNote":
		var doc ublInvoice
		if err := decoder.DecodeElement(&doc, &start); err != nil {
			return nil, fmt.Errorf("decode UBL invoice: %w", err)
		}
		return doc.fields(), nil
	case "factura":
		var doc sriFactura
		if err := decoder.DecodeElement(&doc, &start); err != nil {
			return nil, fmt.Errorf("decode SRI factura: %w", err)
		}
		return doc.fields(), nil
	case "autorizacion":
		if !allowWrapper {
			break
		}
		var wrapper sriAutorizacion
		if err := decoder.DecodeElement(&wrapper, &start); err != nil {
			return nil, fmt.Errorf("decode SRI autorizacion: %w", err)
		}
		return decode([]byte(strings.TrimSpace(wrapper.Comprobante)), false)
	case "Comprobante":
		var doc cfdiComprobante
		if err := decoder.DecodeElement(&doc, &start); err != nil {
			return nil, fmt.Errorf("decode CFDI comprobante: %w", err)
		}
		return doc.fields(), nil
	}
	return nil, fmt.Errorf("%w: root element %s", errUnsupportedRoot, start.Name.Local)
}

func rootElement(decoder *xml.Decoder) (xml.StartElement, error) {
	for {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, fmt.Errorf("%w: no root element", errUnsupportedRoot)
			}
			return xml.StartElement{}, fmt.Errorf("read xml: %w", err)
		}
		if start, ok := token.(xml.StartElement); ok {
			return start, nil
		}
	}
}
