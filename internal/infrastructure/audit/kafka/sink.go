package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink forwards audit events to a Kafka topic. Messages are keyed by batch ID
// so a batch's timeline stays on one partition in order.
type Sink struct {
	writer   messageWriter
	executor *resilience.Executor
	logger   *slog.Logger
}

func NewSink(brokers []string, topic string, executor *resilience.Executor) *Sink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireAll,
	}
	return newSink(w, executor, slog.Default().With("component", "kafka-audit-sink", "topic", topic))
}

func newSink(w messageWriter, executor *resilience.Executor, logger *slog.Logger) *Sink {
	return &Sink{writer: w, executor: executor, logger: logger}
}

func (s *Sink) PublishEvents(ctx context.Context, events []domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit event %s: %w", e.ID, err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(e.BatchID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
				{Key: "tenant_id", Value: []byte(e.TenantID)},
			},
			Time: e.OccurredAt,
		})
	}

	write := func(ctx context.Context) error {
		return s.writer.WriteMessages(ctx, messages...)
	}
	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, resilience.OpAuditSink, write, classifyKafkaError)
	} else {
		err = write(ctx)
	}
	if err != nil {
		s.logger.Error("failed to publish audit events", "count", len(messages), "error", err)
		if err := resilience.Temporary("publish audit events", err, classifyKafkaError); domain.IsKind(err, domain.ErrTemporary) {
			return err
		}
		return fmt.Errorf("publish audit events: %w", err)
	}
	s.logger.Debug("audit events published", "count", len(messages))
	return nil
}

func (s *Sink) Close() error {
	return s.writer.Close()
}

// classifyKafkaError trusts the broker's own retriable flag for protocol
// errors.
func classifyKafkaError(err error) resilience.ErrorClassification {
	return resilience.Classify(err, func(err error) (resilience.ErrorClassification, bool) {
		var kerr kafka.Error
		if !errors.As(err, &kerr) {
			return resilience.ErrorClassification{}, false
		}
		if kerr.Temporary() {
			return resilience.Retry, true
		}
		return resilience.Permanent, true
	})
}
