package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
)

// connectionErrors clear once the client reconnects.
var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrReconnectBufExceeded,
}

// classifyNATSError retries connection-level failures. A bad subject or an
// oversized payload fails fast.
func classifyNATSError(err error) resilience.ErrorClassification {
	return resilience.Classify(err, func(err error) (resilience.ErrorClassification, bool) {
		for _, target := range connectionErrors {
			if errors.Is(err, target) {
				return resilience.Retry, true
			}
		}
		return resilience.Permanent, true
	})
}
