// Package learning turns human confirmations and corrections into accuracy
// statistics, training samples and routing hints.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

const (
	DefaultMinTrainingEntries = 50
	hintScanLimit             = 500
	topCorrectedParsers       = 5
)

type FeedbackService struct {
	repo               ports.FeedbackRepository
	minTrainingEntries int
	now                func() time.Time
	logger             *slog.Logger
}

func NewFeedbackService(repo ports.FeedbackRepository, minTrainingEntries int) *FeedbackService {
	if minTrainingEntries <= 0 {
		minTrainingEntries = DefaultMinTrainingEntries
	}
	return &FeedbackService{
		repo:               repo,
		minTrainingEntries: minTrainingEntries,
		now:                func() time.Time { return time.Now().UTC() },
		logger:             slog.Default().With("component", "feedback"),
	}
}

// Record appends one feedback entry. ID and CreatedAt are filled when empty.
func (s *FeedbackService) Record(ctx context.Context, entry domain.FeedbackEntry) (*domain.FeedbackEntry, error) {
	if strings.TrimSpace(entry.TenantID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "record feedback", fmt.Errorf("tenant_id is required"))
	}
	if entry.CorrectedParser == "" || !entry.CorrectedDocType.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "record feedback", fmt.Errorf("corrected parser and doc type are required"))
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.Headers == nil {
		entry.Headers = []string{}
	}
	if err := s.repo.AppendFeedback(ctx, &entry); err != nil {
		return nil, fmt.Errorf("append feedback: %w", err)
	}
	s.logger.Info("feedback recorded",
		"tenant_id", entry.TenantID,
		"batch_id", entry.BatchID,
		"original_parser", entry.OriginalParser,
		"corrected_parser", entry.CorrectedParser,
		"corrected", entry.WasCorrected(),
	)
	return &entry, nil
}

// AccuracyStats summarises feedback for one tenant, or for all tenants when
// tenantID is empty. Per doc type figures are keyed by the original decision.
func (s *FeedbackService) AccuracyStats(ctx context.Context, tenantID string) (domain.AccuracyStats, error) {
	entries, err := s.repo.ListFeedback(ctx, ports.FeedbackFilter{TenantID: tenantID})
	if err != nil {
		return domain.AccuracyStats{}, fmt.Errorf("list feedback: %w", err)
	}

	stats := domain.AccuracyStats{
		ByDocType:            map[domain.DocType]domain.DocTypeAccuracy{},
		MostCorrectedParsers: []domain.ParserCorrections{},
	}
	corrections := map[string]int{}
	for _, e := range entries {
		stats.Total++
		byType := stats.ByDocType[e.OriginalDocType]
		byType.Total++
		if e.WasCorrected() {
			stats.Corrected++
			byType.Corrected++
			corrections[e.OriginalParser]++
		} else {
			stats.Correct++
		}
		stats.ByDocType[e.OriginalDocType] = byType
	}
	stats.AccuracyRate = rate(stats.Correct, stats.Total)
	for dt, byType := range stats.ByDocType {
		byType.AccuracyRate = rate(byType.Total-byType.Corrected, byType.Total)
		stats.ByDocType[dt] = byType
	}

	for parser, count := range corrections {
		stats.MostCorrectedParsers = append(stats.MostCorrectedParsers, domain.ParserCorrections{ParserID: parser, Count: count})
	}
	sort.Slice(stats.MostCorrectedParsers, func(i, j int) bool {
		a, b := stats.MostCorrectedParsers[i], stats.MostCorrectedParsers[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ParserID < b.ParserID
	})
	if len(stats.MostCorrectedParsers) > topCorrectedParsers {
		stats.MostCorrectedParsers = stats.MostCorrectedParsers[:topCorrectedParsers]
	}
	return stats, nil
}

// TrainingData returns one labelled sample per corrected feedback entry, or
// nothing while fewer than minEntries corrections exist. Confirmations carry
// no new label and are left out. minEntries <= 0 uses the configured floor.
func (s *FeedbackService) TrainingData(ctx context.Context, minEntries int) ([]domain.TrainingSample, error) {
	if minEntries <= 0 {
		minEntries = s.minTrainingEntries
	}
	entries, err := s.repo.ListFeedback(ctx, ports.FeedbackFilter{CorrectedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	if len(entries) < minEntries {
		s.logger.Info("not enough corrections for training", "corrected", len(entries), "min_entries", minEntries)
		return []domain.TrainingSample{}, nil
	}
	out := make([]domain.TrainingSample, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.TrainingSample{
			Filename: e.Filename,
			Headers:  e.Headers,
			Parser:   e.CorrectedParser,
			DocType:  e.CorrectedDocType,
		})
	}
	return out, nil
}

// HintFor returns the parser humans settled on most often for files of the
// tenant with the same header set. Repository failures yield no hint.
func (s *FeedbackService) HintFor(ctx context.Context, tenantID string, headers []string) (ports.ParserHint, bool) {
	signature := Signature(headers)
	if tenantID == "" || signature == "" {
		return ports.ParserHint{}, false
	}
	entries, err := s.repo.ListFeedback(ctx, ports.FeedbackFilter{TenantID: tenantID, Limit: hintScanLimit})
	if err != nil {
		s.logger.Warn("feedback lookup failed", "tenant_id", tenantID, "error", err)
		return ports.ParserHint{}, false
	}

	support := map[string]int{}
	docTypes := map[string]domain.DocType{}
	for _, e := range entries {
		if Signature(e.Headers) != signature {
			continue
		}
		support[e.CorrectedParser]++
		docTypes[e.CorrectedParser] = e.CorrectedDocType
	}
	var best ports.ParserHint
	for parser, n := range support {
		if n > best.Support || (n == best.Support && parser < best.ParserID) {
			best = ports.ParserHint{ParserID: parser, DocType: docTypes[parser], Support: n}
		}
	}
	return best, best.Support > 0
}

// Signature is the order independent normalised header set joined by "|".
func Signature(headers []string) string {
	seen := make(map[string]struct{}, len(headers))
	keys := make([]string, 0, len(headers))
	for _, h := range headers {
		key := canonical.NormalizeKey(h)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
