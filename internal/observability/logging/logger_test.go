package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func TestNewWritesServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "ingestctl", "warn")
	logger.Info("dropped")
	logger.Warn("kept", "batch_id", "b-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a single json record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "kept" || record["service"] != "ingestctl" || record["batch_id"] != "b-1" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, " WARNING ": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestForBatchAddsBatchAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := ForBatch(New(&buf, "worker", "info"), &domain.ImportBatch{ID: "b-1", TenantID: "t-1", DocType: domain.DocTypeBankTx})
	logger.Info("import finished")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["batch_id"] != "b-1" || record["tenant_id"] != "t-1" || record["doc_type"] != "bank_tx" {
		t.Fatalf("unexpected record: %v", record)
	}
	if _, ok := record["parser_id"]; ok {
		t.Fatalf("empty parser id must be omitted: %v", record)
	}
}
