// Package spreadsheet parses XLSX workbooks with excelize. Only the active
// sheet is read; the first non-empty row is the header.
package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/tabular"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/textenc"
)

// maxUnzipSize caps the decompressed workbook.
const maxUnzipSize = 256 << 20

type Parser struct {
	desc ports.ParserDescriptor
}

func New(docType domain.DocType) *Parser {
	return &Parser{desc: tabular.Descriptor("xlsx", domain.KindXLSX, docType, canonical.Vocabulary(docType),
		fmt.Sprintf("spreadsheet of %s rows", docType))}
}

func (p *Parser) Descriptor() ports.ParserDescriptor {
	return p.desc
}

func (p *Parser) Peek(ctx context.Context, r io.Reader, maxRows int) (ports.PeekResult, error) {
	collector := &tabular.Collector{Limit: maxRows}
	err := p.parse(ctx, r, func(headers []string) {
		collector.Result.Headers = headers
	}, collector.Emit)
	if err != nil && !errors.Is(err, tabular.ErrPeekDone) {
		return ports.PeekResult{}, err
	}
	return collector.Result, nil
}

func (p *Parser) Parse(ctx context.Context, r io.Reader, emit func(ports.Row) error) error {
	return p.parse(ctx, r, nil, emit)
}

func (p *Parser) parse(ctx context.Context, r io.Reader, onHeaders func([]string), emit func(ports.Row) error) (err error) {
	book, err := excelize.OpenReader(r, excelize.Options{UnzipSizeLimit: maxUnzipSize})
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if closeErr := book.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", closeErr)
		}
	}()
	book.CharsetTranscoder(textenc.CharsetReader)

	sheet := activeSheet(book)
	if sheet == "" {
		return nil
	}
	rows, err := book.Rows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	defer rows.Close()

	var headers []string
	index := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read sheet %s row: %w", sheet, err)
		}
		if tabular.Blank(record) {
			continue
		}
		if headers == nil {
			headers = tabular.Headers(record)
			if onHeaders != nil {
				onHeaders(headers)
			}
			continue
		}
		if err := emit(tabular.Row(index, headers, record)); err != nil {
			return err
		}
		index++
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("iterate sheet %s: %w", sheet, err)
	}
	return nil
}

func activeSheet(book *excelize.File) string {
	if name := book.GetSheetName(book.GetActiveSheetIndex()); name != "" {
		return name
	}
	if list := book.GetSheetList(); len(list) > 0 {
		return list[0]
	}
	return ""
}
