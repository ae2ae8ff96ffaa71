// Package pdftext reads the text layer of digitally generated PDFs and pulls
// invoice and receipt fields out of it with label patterns. Scanned PDFs
// without text are rejected; OCR is an external service.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

const maxSize = 32 << 20

// ErrNoTextLayer marks PDFs that need OCR.
var ErrNoTextLayer = errors.New("pdf has no text layer")

var vocabulary = []string{
	"factura", "invoice", "fecha", "date", "total", "subtotal", "base_imponible",
	"iva", "vat", "tax", "nif", "cif", "ruc", "rfc", "ticket", "recibo", "receipt",
}

type Parser struct {
	desc ports.ParserDescriptor
}

// New returns a PDF parser producing docType rows. Invoices and expense
// receipts share the extraction rules.
func New(docType domain.DocType) *Parser {
	return &Parser{desc: ports.ParserDescriptor{
		ID:          "pdf_" + string(docType),
		DocType:     docType,
		Kinds:       []domain.FileKind{domain.KindPDF},
		Vocabulary:  vocabulary,
		Description: fmt.Sprintf("text layer of a %s PDF", docType),
	}}
}

func (p *Parser) Descriptor() ports.ParserDescriptor {
	return p.desc
}

func (p *Parser) Peek(ctx context.Context, r io.Reader, maxRows int) (ports.PeekResult, error) {
	text, err := readText(ctx, r)
	if err != nil {
		return ports.PeekResult{}, err
	}
	fields := ExtractFields(text)
	result := ports.PeekResult{Headers: textLabels(text)}
	if maxRows > 0 {
		result.SampleRows = []map[string]any{fields}
	}
	return result, nil
}

func (p *Parser) Parse(ctx context.Context, r io.Reader, emit func(ports.Row) error) error {
	text, err := readText(ctx, r)
	if err != nil {
		return err
	}
	return emit(ports.Row{Index: 0, Fields: ExtractFields(text)})
}

func readText(ctx context.Context, r io.Reader) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if len(data) > maxSize {
		return "", fmt.Errorf("pdf exceeds %d bytes", maxSize)
	}

	// The pdf package panics on some malformed object streams.
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("decode pdf: %v", rec)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	text = strings.TrimSpace(buf.String())
	if text == "" {
		return "", ErrNoTextLayer
	}
	return text, nil
}
