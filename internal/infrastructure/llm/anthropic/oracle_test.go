package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func messageReply(text string) map[string]any {
	return map[string]any{
		"id":   "msg_01",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-test",
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
	}
}

func TestOracleParsesMessageReply(t *testing.T) {
	var prompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Messages) == 1 && len(body.Messages[0].Content) == 1 {
			prompt = body.Messages[0].Content[0].Text
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageReply(`{"suggested_parser":"xlsx_invoice","confidence":0.91,"reasoning":"numero factura"}`))
	}))
	defer server.Close()

	oracle := NewOracle("test-key", Options{Model: "claude-test", BaseURL: server.URL})
	got, err := oracle.ClassifyDocument(context.Background(), "numero;fecha;total", []string{"xlsx_invoice", "xlsx_product"}, map[string]string{"file_kind": "xlsx"})
	if err != nil {
		t.Fatalf("ClassifyDocument() error = %v", err)
	}
	if got.SuggestedParser != "xlsx_invoice" || got.Confidence != 0.91 || got.Reasoning != "numero factura" {
		t.Fatalf("unexpected suggestion: %+v", got)
	}
	if !strings.Contains(prompt, "xlsx_product") || !strings.Contains(prompt, "numero;fecha;total") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
}

func TestOracleWrapsServerErrorsAsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer server.Close()

	oracle := NewOracle("test-key", Options{Model: "claude-test", BaseURL: server.URL})
	_, err := oracle.ClassifyDocument(context.Background(), "x", []string{"csv_product"}, nil)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestOracleRejectsBadRequestWithoutRetry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer server.Close()

	oracle := NewOracle("test-key", Options{Model: "nope", BaseURL: server.URL})
	_, err := oracle.ClassifyDocument(context.Background(), "x", []string{"csv_product"}, nil)
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
}
