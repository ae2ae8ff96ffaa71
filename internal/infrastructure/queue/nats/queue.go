package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
)

// Queue carries batch import tasks. The payload is the bare batch ID; workers
// share the subject through a queue group so each task runs once.
type Queue struct {
	conn           *nats.Conn
	subject        string
	group          string
	handlerTimeout time.Duration
	executor       *resilience.Executor
	logger         *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	QueueGroup           string
	// HandlerTimeout bounds one import task; zero means no limit beyond the
	// subscription context.
	HandlerTimeout       time.Duration
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	group := options.QueueGroup
	if group == "" {
		group = "import-workers"
	}
	logger := slog.Default().With("component", "nats")

	conn, err := nats.Connect(
		url,
		nats.Name("fiscal-ingest"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		group:          group,
		handlerTimeout: options.HandlerTimeout,
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishImportRequested(ctx context.Context, batchID string) error {
	if strings.TrimSpace(batchID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", errors.New("empty batch id"))
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, []byte(batchID)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, resilience.OpQueuePublish, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.Temporary("nats publish", err, classifyNATSError)
	}
	return nil
}

// SubscribeImportRequested blocks until ctx is done, then drains in-flight
// messages. A failing or panicking handler is logged; the batch stays
// resumable and is picked up again on the next publish.
func (q *Queue) SubscribeImportRequested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		batchID := strings.TrimSpace(string(msg.Data))
		if batchID == "" {
			q.logger.Warn("import task without batch id dropped", "subject", msg.Subject)
			return
		}
		q.dispatch(ctx, handler, batchID)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, handler func(context.Context, string) error, batchID string) {
	var cancel context.CancelFunc
	if q.handlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, q.handlerTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("import task panicked", "batch_id", batchID, "panic", fmt.Sprint(r))
		}
	}()

	if err := handler(ctx, batchID); err != nil {
		q.logger.Error("import task failed", "batch_id", batchID, "error", err)
	}
}
