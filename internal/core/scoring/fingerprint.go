package scoring

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// Fingerprint is the SHA-256 of data's JSON form with object keys sorted at
// every level. Array order is significant.
func Fingerprint(data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint input: %w", err)
	}
	// Struct fields marshal in declaration order; a round trip through a
	// generic value makes every level a map, which encoding/json sorts.
	// Numbers stay json.Number so large integers keep every digit.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("normalize fingerprint input: %w", err)
	}
	canonicalJSON, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("marshal canonical json: %w", err)
	}
	sum := sha256.Sum256(canonicalJSON)
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintDocument hashes the business content of doc, ignoring how it
// was obtained (source, confidence) and where it was routed.
func FingerprintDocument(doc *domain.CanonicalDocument) (string, error) {
	if doc == nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "fingerprint document", fmt.Errorf("nil document"))
	}
	stripped := doc.Clone()
	stripped.Source = ""
	stripped.Confidence = 0
	stripped.RoutingProposal = nil
	return Fingerprint(stripped)
}
