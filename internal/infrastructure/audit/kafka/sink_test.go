package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
)

type writerFake struct {
	batches [][]kafka.Message
	errs    []error
}

func (w *writerFake) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if len(w.errs) > 0 {
		err := w.errs[0]
		w.errs = w.errs[1:]
		if err != nil {
			return err
		}
	}
	w.batches = append(w.batches, msgs)
	return nil
}

func (w *writerFake) Close() error { return nil }

func TestPublishEventsKeysByBatch(t *testing.T) {
	w := &writerFake{}
	sink := newSink(w, nil, slog.Default())
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := sink.PublishEvents(context.Background(), []domain.AuditEvent{
		{ID: "e-1", TenantID: "t-1", BatchID: "b-1", Type: domain.EventImportStarted, OccurredAt: at},
		{ID: "e-2", TenantID: "t-1", BatchID: "b-1", ItemID: "i-1", Type: domain.EventItemPromoted, OccurredAt: at},
	})
	if err != nil {
		t.Fatalf("PublishEvents() error = %v", err)
	}
	if len(w.batches) != 1 || len(w.batches[0]) != 2 {
		t.Fatalf("expected one write with two messages, got %+v", w.batches)
	}
	msg := w.batches[0][1]
	if string(msg.Key) != "b-1" || string(msg.Headers[0].Value) != "ITEM_PROMOTED" || !msg.Time.Equal(at) {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var decoded domain.AuditEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.ItemID != "i-1" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestPublishEventsRetriesTemporaryErrors(t *testing.T) {
	w := &writerFake{errs: []error{kafka.LeaderNotAvailable, nil}}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	})
	sink := newSink(w, executor, slog.Default())

	if err := sink.PublishEvents(context.Background(), []domain.AuditEvent{{ID: "e-1", BatchID: "b-1"}}); err != nil {
		t.Fatalf("PublishEvents() error = %v", err)
	}
	if len(w.batches) != 1 {
		t.Fatalf("expected the retry to succeed, got %d writes", len(w.batches))
	}
}

func TestPublishEventsPermanentError(t *testing.T) {
	w := &writerFake{errs: []error{errors.New("topic authorization failed")}}
	sink := newSink(w, nil, slog.Default())

	err := sink.PublishEvents(context.Background(), []domain.AuditEvent{{ID: "e-1", BatchID: "b-1"}})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestPublishEventsEmptyIsNoop(t *testing.T) {
	w := &writerFake{}
	if err := newSink(w, nil, slog.Default()).PublishEvents(context.Background(), nil); err != nil || len(w.batches) != 0 {
		t.Fatalf("err=%v writes=%d", err, len(w.batches))
	}
}
