// Package oracleprompt holds the prompt and response contract shared by the
// AI classification oracles.
package oracleprompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

const maxSnippet = 4000

func Build(text string, availableParsers []string, metadata map[string]string) string {
	snippet := text
	if runes := []rune(snippet); len(runes) > maxSnippet {
		snippet = string(runes[:maxSnippet])
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var meta strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&meta, "%s: %s\n", k, metadata[k])
	}

	return `You classify fiscal and accounting files for an import pipeline.
Pick exactly one parser id from the list below.
Return strict JSON object with keys:
suggested_parser (string, one of the listed ids), confidence (number from 0 to 1), reasoning (string),
probabilities (object mapping doc types invoice, expense_receipt, bank_tx, product, expense, other to numbers from 0 to 1).
No markdown, no extra keys.

Available parsers:
` + strings.Join(availableParsers, "\n") + `

File metadata:
` + meta.String() + `
Headers and sample rows:
` + snippet
}

// Parse decodes a model reply. The reply may wrap the object in prose or code
// fences; only the outermost braces are read.
func Parse(raw string, availableParsers []string) (domain.OracleSuggestion, error) {
	var out domain.OracleSuggestion
	if err := json.Unmarshal([]byte(ExtractJSONObject(raw)), &out); err != nil {
		return domain.OracleSuggestion{}, fmt.Errorf("parse oracle json: %w", err)
	}
	out.SuggestedParser = strings.TrimSpace(out.SuggestedParser)
	if out.SuggestedParser == "" {
		return domain.OracleSuggestion{}, fmt.Errorf("oracle returned no parser")
	}
	known := false
	for _, id := range availableParsers {
		if id == out.SuggestedParser {
			known = true
			break
		}
	}
	if !known {
		return domain.OracleSuggestion{}, fmt.Errorf("oracle suggested unknown parser %q", out.SuggestedParser)
	}
	out.Confidence = clamp(out.Confidence)
	for dt, p := range out.Probabilities {
		if !dt.Valid() {
			delete(out.Probabilities, dt)
			continue
		}
		out.Probabilities[dt] = clamp(p)
	}
	return out, nil
}

func ExtractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
