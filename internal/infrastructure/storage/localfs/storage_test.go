package localfs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func TestSaveOpenExists(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if ok, _ := s.Exists(ctx, "abc_file.csv"); ok {
		t.Fatalf("file must not exist yet")
	}
	if err := s.Save(ctx, "abc_file.csv", strings.NewReader("fecha;importe\n")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ok, err := s.Exists(ctx, "abc_file.csv"); !ok || err != nil {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
	rc, err := s.Open(ctx, "abc_file.csv")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "fecha;importe\n" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestOpenMissingAndInvalidKeys(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()
	if _, err := s.Open(ctx, "missing.csv"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Save(ctx, "../escape.csv", strings.NewReader("x")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
