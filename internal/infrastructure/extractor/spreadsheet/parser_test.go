package spreadsheet

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName() error = %v", err)
		}
		if err := book.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf
}

func TestParseWorkbook(t *testing.T) {
	buf := workbook(t,
		[]any{"SKU", "Nombre", "Precio", "Stock"},
		[]any{"A-1", "Tornillo", 0.25, 1000},
		[]any{nil, nil, nil, nil},
		[]any{"A-2", "Tuerca", 0.1, 500},
	)

	rows := make([]ports.Row, 0)
	err := New(domain.DocTypeProduct).Parse(context.Background(), buf, func(row ports.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Fields["Nombre"] != "Tornillo" || rows[1].Fields["SKU"] != "A-2" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[1].Index != 1 {
		t.Fatalf("blank rows must not consume an index, got %d", rows[1].Index)
	}
	if rows[0].Fields["Stock"] != "1000" {
		t.Fatalf("unexpected numeric cell: %q", rows[0].Fields["Stock"])
	}
}

func TestPeekWorkbook(t *testing.T) {
	data := [][]any{{"Fecha", "Concepto", "Importe"}}
	for i := 0; i < 10; i++ {
		data = append(data, []any{"2025-01-15", "Recibo", -45.1})
	}
	peek, err := New(domain.DocTypeBankTx).Peek(context.Background(), workbook(t, data...), 3)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if strings.Join(peek.Headers, ",") != "Fecha,Concepto,Importe" || len(peek.SampleRows) != 3 {
		t.Fatalf("unexpected peek: %+v", peek)
	}
}

func TestParseRejectsNonWorkbook(t *testing.T) {
	err := New(domain.DocTypeProduct).Parse(context.Background(), strings.NewReader("not a zip"), func(ports.Row) error { return nil })
	if err == nil {
		t.Fatalf("expected an error for a non-xlsx input")
	}
}
