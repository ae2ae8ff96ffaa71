package ollama

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
)

var errNoParsers = errors.New("no candidate parsers")

// HTTPStatusError is a non-2xx reply from the Ollama server.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// classifyOllamaError retries overload and gateway statuses. Other statuses
// (unknown model, bad request) are the caller's problem and do not trip the
// breaker.
func classifyOllamaError(err error) resilience.ErrorClassification {
	return resilience.Classify(err, func(err error) (resilience.ErrorClassification, bool) {
		var statusErr *HTTPStatusError
		if !errors.As(err, &statusErr) {
			return resilience.ErrorClassification{}, false
		}
		if resilience.RetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.Retry, true
		}
		return resilience.Ignore, true
	})
}
