package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/config"
	"github.com/kirillkom/fiscal-ingest/internal/core/audit"
	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/classifier"
	"github.com/kirillkom/fiscal-ingest/internal/core/countrypack"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/learning"
	"github.com/kirillkom/fiscal-ingest/internal/core/parsing"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/core/quality"
	"github.com/kirillkom/fiscal-ingest/internal/core/routing"
	"github.com/kirillkom/fiscal-ingest/internal/core/scoring"
	"github.com/kirillkom/fiscal-ingest/internal/core/usecase"
	auditkafka "github.com/kirillkom/fiscal-ingest/internal/infrastructure/audit/kafka"
	rediscache "github.com/kirillkom/fiscal-ingest/internal/infrastructure/cache/redis"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/delimited"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/einvoice"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/spreadsheet"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/queue/nats"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/resilience"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/fiscal-ingest/internal/observability/metrics"
)

// Analysis is the stateless part of the pipeline: parsers, country packs and
// the classifier. It needs no database.
type Analysis struct {
	Parsers   *parsing.Registry
	Packs     *countrypack.Registry
	Mapper    *canonical.Mapper
	Validator *canonical.Validator
	Analyzer  *classifier.SmartRouter
	Benchmark *quality.Benchmark
}

type App struct {
	Config config.Config
	Analysis

	Queue     *nats.Queue
	Metrics   *metrics.WorkerMetrics
	Trail     *audit.Trail
	Feedback  *learning.FeedbackService
	Collector *quality.Collector
	Batches   ports.BatchRepository

	IngestUC  *usecase.IngestUseCase
	ImportUC  *usecase.ImportUseCase
	PromoteUC *usecase.PromoteUseCase
	ReviewUC  *usecase.ReviewUseCase
	QualityUC *usecase.QualityUseCase

	closeFn []func()
}

// Parsers registers every parser plugin: delimited and spreadsheet variants
// for each importable doc type, the e-invoice XML parser and PDF text layers.
func Parsers() (*parsing.Registry, error) {
	parsers := make([]ports.Parser, 0, 16)
	for _, dt := range domain.DocTypes() {
		if dt == domain.DocTypeOther {
			continue
		}
		parsers = append(parsers, delimited.New(dt), spreadsheet.New(dt))
	}
	parsers = append(parsers,
		einvoice.New(),
		pdftext.New(domain.DocTypeInvoice),
		pdftext.New(domain.DocTypeExpenseReceipt),
	)
	return parsing.NewRegistry(parsers...)
}

// NewAnalysis builds the classifier without cache, oracle or learned hints.
func NewAnalysis(cfg config.Config) (*Analysis, error) {
	return newAnalysis(cfg, nil, nil, nil)
}

func newAnalysis(cfg config.Config, cache ports.ClassificationCache, oracle ports.AIOracle, hints ports.CorrectionHints) (*Analysis, error) {
	parsers, err := Parsers()
	if err != nil {
		return nil, fmt.Errorf("register parsers: %w", err)
	}
	packs, err := countrypack.LoadFile(cfg.CountryPacksPath)
	if err != nil {
		return nil, fmt.Errorf("load country packs: %w", err)
	}
	thresholds := quality.DefaultThresholds()
	if cfg.QualityThresholdsPath != "" {
		if thresholds, err = quality.LoadThresholdsFile(cfg.QualityThresholdsPath); err != nil {
			return nil, err
		}
	}

	mapper := canonical.NewMapper(packs)
	engine := scoring.NewEngine(scoring.Thresholds{Medium: cfg.MediumThreshold, High: cfg.HighThreshold})
	analyzer := classifier.NewSmartRouter(parsers, engine, mapper, cache, oracle, hints, classifier.Config{
		EscalationThreshold: cfg.EscalationThreshold,
		MaxConcurrency:      cfg.AnalyzeConcurrent,
		OracleTextLimit:     cfg.OracleTextLimit,
	})
	return &Analysis{
		Parsers:   parsers,
		Packs:     packs,
		Mapper:    mapper,
		Validator: canonical.NewValidator(packs),
		Analyzer:  analyzer,
		Benchmark: quality.NewBenchmark(thresholds),
	}, nil
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics.NewWorkerMetrics(service)}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		RetryMultiplier:     cfg.RetryMultiplier,
		OperationAttempts: map[string]int{
			resilience.OpOllamaGenerate:   cfg.OracleMaxAttempts,
			resilience.OpAnthropicMessage: cfg.OracleMaxAttempts,
		},
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenMaxCalls, 0)),
	}).WithObserver(app.Metrics)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		HandlerTimeout:     cfg.ImportTaskTimeout,
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init import queue: %w", err)
	}
	app.Queue = queue
	app.onClose(queue.Close)

	var sink ports.AuditSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := auditkafka.NewSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic, executor)
		app.onClose(func() { _ = kafkaSink.Close() })
		sink = kafkaSink
	}

	cache, err := app.classificationCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	oracle, err := newOracle(cfg, executor)
	if err != nil {
		return nil, err
	}

	batches := postgres.NewBatchRepository(db)
	items := postgres.NewItemRepository(db)
	ledger := postgres.NewLedgerRepository(db)
	app.Batches = batches
	app.Trail = audit.NewTrail(postgres.NewAuditRepository(db), sink)
	app.Feedback = learning.NewFeedbackService(postgres.NewFeedbackRepository(db), cfg.MinTrainingEntries)
	app.Collector = quality.NewCollector(postgres.NewQualityRepository(db))

	analysis, err := newAnalysis(cfg, cache, oracle, app.Feedback)
	if err != nil {
		return nil, err
	}
	app.Analysis = *analysis

	router := routing.NewRouter(ledger)
	app.IngestUC = usecase.NewIngestUseCase(batches, storage, app.Analyzer, queue, app.Trail, app.Feedback, app.Parsers, cfg.MaxUploadBytes)
	app.ImportUC = usecase.NewImportUseCase(batches, items, storage, app.Parsers, app.Mapper, app.Validator, router, app.Trail, cfg.ImportBatchSize)
	app.PromoteUC = usecase.NewPromoteUseCase(batches, items, ledger, router, app.Validator, app.Trail)
	app.ReviewUC = usecase.NewReviewUseCase(batches, items, app.Packs, app.Validator, router, app.Trail)
	app.QualityUC = usecase.NewQualityUseCase(batches, items, app.Trail, app.Collector, app.Benchmark)

	ok = true
	return app, nil
}

// classificationCache connects to Redis when configured. An unreachable
// server disables the cache instead of failing startup.
func (a *App) classificationCache(ctx context.Context, cfg config.Config) (ports.ClassificationCache, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, nil
	}
	client, err := rediscache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Default().Warn("classification cache disabled", "error", err)
		return nil, nil
	}
	a.onClose(func() { _ = client.Close() })
	return rediscache.New(client, cfg.CacheTTL), nil
}

func newOracle(cfg config.Config, executor *resilience.Executor) (ports.AIOracle, error) {
	switch cfg.AIProvider {
	case "", "none":
		return nil, nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaModel, ollama.Options{
			Timeout:           cfg.AIRequestTimeout,
			RequestsPerSecond: cfg.AIRequestsPerSec,
			Burst:             cfg.AIRequestBurst,
			Executor:          executor,
		})
		return ollama.NewOracle(client), nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "init oracle", fmt.Errorf("ANTHROPIC_API_KEY is required for provider anthropic"))
		}
		return anthropic.NewOracle(cfg.AnthropicAPIKey, anthropic.Options{
			Model:             cfg.AnthropicModel,
			RequestsPerSecond: cfg.AIRequestsPerSec,
			Burst:             cfg.AIRequestBurst,
			Executor:          executor,
		}), nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "init oracle", fmt.Errorf("unknown AI provider %q", cfg.AIProvider))
	}
}

func (a *App) onClose(fn func()) {
	a.closeFn = append(a.closeFn, fn)
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closeFn) - 1; i >= 0; i-- {
		a.closeFn[i]()
	}
	a.closeFn = nil
}
