package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New writes JSON records to w. CLIs pass os.Stderr to keep stdout for output.
func New(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

// ForBatch scopes l to one import batch. Empty attributes are left out.
func ForBatch(l *slog.Logger, batch *domain.ImportBatch) *slog.Logger {
	if batch == nil {
		return l
	}
	attrs := make([]any, 0, 8)
	attrs = append(attrs, "batch_id", batch.ID)
	if batch.TenantID != "" {
		attrs = append(attrs, "tenant_id", batch.TenantID)
	}
	if batch.ParserID != "" {
		attrs = append(attrs, "parser_id", batch.ParserID)
	}
	if batch.DocType != "" {
		attrs = append(attrs, "doc_type", string(batch.DocType))
	}
	return l.With(attrs...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
