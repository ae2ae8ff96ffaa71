package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

var (
	// Retry is retried and counts against the breaker.
	Retry = ErrorClassification{Retryable: true, RecordFailure: true}
	// Permanent fails fast but still counts against the breaker.
	Permanent = ErrorClassification{RecordFailure: true}
	// Ignore fails fast and leaves the breaker alone: the caller gave up, or
	// the remote rejected the request itself.
	Ignore = ErrorClassification{}
)

// Classify handles the cases every transport shares. specific sees the error
// after cancellation and open-breaker checks; when it returns false, network
// errors retry and everything else is Permanent.
func Classify(err error, specific func(error) (ErrorClassification, bool)) ErrorClassification {
	if err == nil {
		return Ignore
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Ignore
	}
	if IsCircuitOpen(err) {
		return Retry
	}
	if specific != nil {
		if class, ok := specific(err); ok {
			return class
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retry
	}
	return Permanent
}

// RetryableHTTPStatus reports statuses worth another attempt.
func RetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Temporary marks err as domain.ErrTemporary when classifier would retry it,
// so callers upstream can tell "try later" from "never".
func Temporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier == nil {
		classifier = defaultClassifier
	}
	if classifier(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
