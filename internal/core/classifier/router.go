// Package classifier decides which parser and doc type fit an uploaded file.
// It keeps a decision log of every step so operators can see why a file was
// routed the way it was.
package classifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/parsing"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/core/scoring"
)

// Decision log steps.
const (
	StepFileDetection     = "file_detection"
	StepHeadersExtraction = "headers_extraction"
	StepHeuristics        = "dispatcher_heuristics"
	StepClassifier        = "classifier_analysis"
	StepAIEnhancement     = "ai_enhancement"
	StepFinalDecision     = "final_decision"
)

const (
	sniffBytes       = 4096
	heuristicWeight  = 0.5
	defaultOracleLen = 4000
)

type Config struct {
	EscalationThreshold float64
	SampleRows          int
	MaxConcurrency      int
	OracleTextLimit     int
}

func (c Config) normalize() Config {
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 0.7
	}
	if c.SampleRows <= 0 || c.SampleRows > 5 {
		c.SampleRows = 5
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.OracleTextLimit <= 0 {
		c.OracleTextLimit = defaultOracleLen
	}
	return c
}

// SmartRouter is stateless apart from its optional cache; Analyze is safe
// for concurrent use.
type SmartRouter struct {
	parsers *parsing.Registry
	engine  *scoring.Engine
	mapper  *canonical.Mapper
	cache   ports.ClassificationCache
	oracle  ports.AIOracle
	hints   ports.CorrectionHints
	cfg     Config
	logger  *slog.Logger
}

// NewSmartRouter wires the router. cache, oracle and hints may be nil.
func NewSmartRouter(
	parsers *parsing.Registry,
	engine *scoring.Engine,
	mapper *canonical.Mapper,
	cache ports.ClassificationCache,
	oracle ports.AIOracle,
	hints ports.CorrectionHints,
	cfg Config,
) *SmartRouter {
	return &SmartRouter{
		parsers: parsers,
		engine:  engine,
		mapper:  mapper,
		cache:   cache,
		oracle:  oracle,
		hints:   hints,
		cfg:     cfg.normalize(),
		logger:  slog.Default().With("component", "smart-router"),
	}
}

func (r *SmartRouter) EscalationThreshold() float64 {
	return r.cfg.EscalationThreshold
}

// cachedScores is the tenant independent part of a classification.
type cachedScores struct {
	Overlap map[string]float64     `json:"overlap"`
	Scoring scoring.Classification `json:"scoring"`
}

type analysis struct {
	result     domain.AnalysisResult
	candidates []ports.Parser
	scores     map[string]float64
}

func (a *analysis) log(step, outcome string, details map[string]any) {
	a.result.DecisionLog = append(a.result.DecisionLog, domain.DecisionLogEntry{Step: step, Outcome: outcome, Details: details})
}

// Analyze classifies one file. Unreadable or unsupported files degrade to
// doc type "other" with zero confidence; only context errors are returned.
func (r *SmartRouter) Analyze(ctx context.Context, req domain.AnalyzeRequest) (domain.AnalysisResult, error) {
	a := &analysis{result: domain.AnalysisResult{
		SuggestedDocType: domain.DocTypeOther,
		AvailableParsers: r.parsers.IDs(),
		Probabilities:    map[domain.DocType]float64{},
		HeadersSample:    []string{},
		SampleRows:       []map[string]any{},
		DecisionLog:      make([]domain.DecisionLogEntry, 0, 6),
	}}

	if !r.detect(a, req) || !r.extractHeaders(ctx, a, req) {
		if err := ctx.Err(); err != nil {
			return domain.AnalysisResult{}, err
		}
		return r.finish(a), nil
	}
	r.applyHeuristics(ctx, a, req)
	r.applyOracle(ctx, a, req)
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{}, err
	}
	return r.finish(a), nil
}

// AnalyzeMany classifies independent files concurrently. Results keep the
// order of reqs.
func (r *SmartRouter) AnalyzeMany(ctx context.Context, reqs []domain.AnalyzeRequest) ([]domain.AnalysisResult, error) {
	results := make([]domain.AnalysisResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := r.Analyze(gctx, req)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", req.Filename, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *SmartRouter) detect(a *analysis, req domain.AnalyzeRequest) bool {
	head := req.Content
	if len(head) > sniffBytes {
		head = head[:sniffBytes]
	}
	kind := parsing.DetectKind(req.Filename, req.ContentType, head)
	a.result.FileKind = kind
	details := map[string]any{
		"extension":    strings.ToLower(filepath.Ext(req.Filename)),
		"content_type": req.ContentType,
		"size":         len(req.Content),
	}
	if len(req.Content) == 0 {
		a.log(StepFileDetection, "empty", details)
		return false
	}
	a.candidates = r.parsers.ForKind(kind)
	if len(a.candidates) == 0 {
		a.log(StepFileDetection, "unsupported:"+string(kind), details)
		return false
	}
	a.log(StepFileDetection, string(kind), details)
	return true
}

func (r *SmartRouter) extractHeaders(ctx context.Context, a *analysis, req domain.AnalyzeRequest) bool {
	// Parsers of one kind share the container format, so one peek serves all.
	peeker := a.candidates[0]
	peek, err := peeker.Peek(ctx, bytes.NewReader(req.Content), r.cfg.SampleRows)
	if err != nil {
		r.logger.Warn("peek failed", "filename", req.Filename, "parser_id", peeker.Descriptor().ID, "error", err)
		a.log(StepHeadersExtraction, "failed", map[string]any{"parser": peeker.Descriptor().ID, "error": err.Error()})
		return false
	}
	if len(peek.SampleRows) > r.cfg.SampleRows {
		peek.SampleRows = peek.SampleRows[:r.cfg.SampleRows]
	}
	if peek.Headers != nil {
		a.result.HeadersSample = peek.Headers
	}
	if peek.SampleRows != nil {
		a.result.SampleRows = peek.SampleRows
	}
	a.log(StepHeadersExtraction, fmt.Sprintf("%d headers, %d rows", len(peek.Headers), len(peek.SampleRows)), map[string]any{
		"parser":  peeker.Descriptor().ID,
		"headers": peek.Headers,
	})
	if len(peek.Headers) == 0 && len(peek.SampleRows) == 0 {
		return false
	}
	return true
}

func (r *SmartRouter) applyHeuristics(ctx context.Context, a *analysis, req domain.AnalyzeRequest) {
	base, hit := r.baseScores(ctx, a)
	a.result.CacheHit = hit

	heuristic := make(map[string]float64, len(a.candidates))
	for id, v := range base.Overlap {
		heuristic[id] = v
	}
	details := map[string]any{"overlap": base.Overlap, "cache_hit": hit}

	if dt, word, ok := filenameDocType(req.Filename); ok {
		for _, p := range a.candidates {
			if p.Descriptor().DocType == dt {
				heuristic[p.Descriptor().ID] += filenameBoost
			}
		}
		details["filename_hint"] = word
	}
	if r.hints != nil && req.TenantID != "" {
		if hint, ok := r.hints.HintFor(ctx, req.TenantID, a.result.HeadersSample); ok {
			for _, p := range a.candidates {
				if p.Descriptor().ID == hint.ParserID {
					heuristic[hint.ParserID] += hintBoost(hint.Support)
					details["learned_hint"] = map[string]any{"parser": hint.ParserID, "support": hint.Support}
				}
			}
		}
	}
	a.log(StepHeuristics, bestKey(heuristic), details)

	a.scores = make(map[string]float64, len(a.candidates))
	for _, p := range a.candidates {
		desc := p.Descriptor()
		a.scores[desc.ID] = clamp(heuristicWeight*heuristic[desc.ID] + (1-heuristicWeight)*base.Scoring.AllScores[desc.DocType])
	}
	for _, dt := range domain.DocTypes() {
		best := (1 - heuristicWeight) * base.Scoring.AllScores[dt]
		for _, p := range a.candidates {
			if p.Descriptor().DocType == dt && a.scores[p.Descriptor().ID] > best {
				best = a.scores[p.Descriptor().ID]
			}
		}
		if best > 0 {
			a.result.Probabilities[dt] = best
		}
	}

	bestID := bestKey(a.scores)
	if bestID == "" || a.scores[bestID] <= 0 {
		a.log(StepClassifier, "no signal", map[string]any{"scoring": base.Scoring.Explanation})
		return
	}
	chosen, _ := r.parsers.Get(bestID)
	a.result.SuggestedParser = bestID
	a.result.SuggestedDocType = chosen.Descriptor().DocType
	a.result.Confidence = a.scores[bestID]
	a.log(StepClassifier, bestID, map[string]any{
		"scoring_doc_type": base.Scoring.DocType,
		"scoring_level":    base.Scoring.ConfidenceLevel,
		"explanation":      base.Scoring.Explanation,
		"blended":          a.scores,
	})
}

// baseScores computes header overlap and row scoring, read through the
// classification cache when one is configured.
func (r *SmartRouter) baseScores(ctx context.Context, a *analysis) (cachedScores, bool) {
	compute := func(context.Context) ([]byte, error) {
		overlap := make(map[string]float64, len(a.candidates))
		for _, p := range a.candidates {
			overlap[p.Descriptor().ID] = headerOverlap(p.Descriptor(), a.result.HeadersSample)
		}
		return json.Marshal(cachedScores{Overlap: overlap, Scoring: r.engine.ClassifyRows(a.result.SampleRows)})
	}

	var (
		raw []byte
		hit bool
		err error
	)
	if r.cache != nil {
		raw, hit, err = r.cache.GetOrCompute(ctx, cacheKey(a.result.FileKind, a.result.HeadersSample), compute)
	} else {
		raw, err = compute(ctx)
	}
	var scores cachedScores
	if err == nil {
		err = json.Unmarshal(raw, &scores)
	}
	if err != nil {
		r.logger.Warn("classification cache degraded", "error", err)
		raw, _ = compute(ctx)
		_ = json.Unmarshal(raw, &scores)
		hit = false
	}
	return scores, hit
}

func (r *SmartRouter) applyOracle(ctx context.Context, a *analysis, req domain.AnalyzeRequest) {
	if r.oracle == nil || a.result.Confidence >= r.cfg.EscalationThreshold {
		return
	}
	available := make([]string, 0, len(a.candidates))
	for _, p := range a.candidates {
		available = append(available, p.Descriptor().ID)
	}
	metadata := map[string]string{
		"filename":  req.Filename,
		"file_kind": string(a.result.FileKind),
	}
	if req.TenantID != "" {
		metadata["tenant_id"] = req.TenantID
	}

	suggestion, err := r.oracle.ClassifyDocument(ctx, r.oracleText(a), available, metadata)
	if err != nil {
		r.logger.Warn("oracle classification failed", "provider", r.oracle.Name(), "filename", req.Filename, "error", err)
		a.log(StepAIEnhancement, "failed", map[string]any{"provider": r.oracle.Name(), "error": err.Error()})
		return
	}
	details := map[string]any{
		"provider":   r.oracle.Name(),
		"parser":     suggestion.SuggestedParser,
		"confidence": suggestion.Confidence,
		"reasoning":  suggestion.Reasoning,
	}
	parser, known := r.parsers.Get(suggestion.SuggestedParser)
	if !known || !parser.Descriptor().Supports(a.result.FileKind) {
		a.log(StepAIEnhancement, "ignored: unknown parser", details)
		return
	}
	if suggestion.Confidence <= a.result.Confidence {
		a.log(StepAIEnhancement, "kept heuristic decision", details)
		return
	}
	a.result.SuggestedParser = suggestion.SuggestedParser
	a.result.SuggestedDocType = parser.Descriptor().DocType
	a.result.Confidence = clamp(suggestion.Confidence)
	a.result.Probabilities[parser.Descriptor().DocType] = a.result.Confidence
	for dt, p := range suggestion.Probabilities {
		if dt.Valid() && dt != parser.Descriptor().DocType {
			a.result.Probabilities[dt] = clamp(p)
		}
	}
	a.result.AIEnhanced = true
	a.result.AIProvider = r.oracle.Name()
	a.log(StepAIEnhancement, suggestion.SuggestedParser, details)
}

// oracleText renders headers and sample rows as plain lines.
func (r *SmartRouter) oracleText(a *analysis) string {
	var b strings.Builder
	b.WriteString(strings.Join(a.result.HeadersSample, " | "))
	for _, row := range a.result.SampleRows {
		b.WriteByte('\n')
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" | ")
			}
			fmt.Fprintf(&b, "%s=%v", k, row[k])
		}
	}
	text := b.String()
	if runes := []rune(text); len(runes) > r.cfg.OracleTextLimit {
		text = string(runes[:r.cfg.OracleTextLimit])
	}
	return text
}

func (r *SmartRouter) finish(a *analysis) domain.AnalysisResult {
	res := a.result
	res.RequiresConfirmation = res.Confidence < r.cfg.EscalationThreshold
	if res.SuggestedParser != "" && len(res.HeadersSample) > 0 {
		res.MappingSuggestion = r.mapper.SuggestMapping(res.SuggestedDocType, res.HeadersSample, "")
	}
	outcome := "confirmed"
	if res.RequiresConfirmation {
		outcome = "requires_confirmation"
	}
	res.DecisionLog = append(res.DecisionLog, domain.DecisionLogEntry{
		Step:    StepFinalDecision,
		Outcome: outcome,
		Details: map[string]any{
			"parser":     res.SuggestedParser,
			"doc_type":   res.SuggestedDocType,
			"confidence": res.Confidence,
			"threshold":  r.cfg.EscalationThreshold,
		},
	})
	return res
}

func cacheKey(kind domain.FileKind, headers []string) string {
	sum := sha256.Sum256([]byte(strings.Join(headerSignature(headers), "\x1f")))
	return "classify:" + string(kind) + ":" + hex.EncodeToString(sum[:16])
}

// bestKey returns the highest scoring key; ties go to the smallest key.
func bestKey(scores map[string]float64) string {
	best, bestScore := "", -1.0
	for k, v := range scores {
		if v > bestScore || (v == bestScore && k < best) {
			best, bestScore = k, v
		}
	}
	return best
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
