// Package scoring ranks doc types for parsed rows and fingerprints canonical
// payloads for deduplication.
package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

type Thresholds struct {
	Medium float64
	High   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 0.5, High: 0.8}
}

func (t Thresholds) Level(score float64) Level {
	switch {
	case score < t.Medium:
		return LevelLow
	case score < t.High:
		return LevelMedium
	default:
		return LevelHigh
	}
}

type CandidateScore struct {
	DocType domain.DocType `json:"doc_type"`
	Score   float64        `json:"score"`
	Matched []string       `json:"matched"`
}

type Classification struct {
	DocType         domain.DocType             `json:"doc_type"`
	ConfidenceLevel Level                      `json:"confidence_level"`
	ConfidenceScore float64                    `json:"confidence_score"`
	Explanation     string                     `json:"explanation"`
	AllScores       map[domain.DocType]float64 `json:"all_scores"`
}

type signal struct {
	path   string
	weight float64
}

// profile is the evidence that points at one doc type. Paths are matched
// through the doc type's schema; keywords are raw header words with no
// canonical field.
type profile struct {
	docType  domain.DocType
	signals  []signal
	keywords map[string]float64
	// penalties subtract when a path of another doc type is clearly present.
	penalties []signal
}

var profiles = []profile{
	{
		docType: domain.DocTypeInvoice,
		signals: []signal{
			{"invoice_number", 0.35},
			{"vendor.tax_id", 0.2},
			{"totals.subtotal", 0.15},
			{"totals.tax", 0.15},
			{"buyer.name", 0.05},
			{"buyer.tax_id", 0.05},
			{"totals.total", 0.05},
		},
		keywords: map[string]float64{"serie": 0.05, "vencimiento": 0.05, "due_date": 0.05},
	},
	{
		docType: domain.DocTypeExpenseReceipt,
		signals: []signal{
			{"totals.total", 0.2},
			{"issue_date", 0.1},
			{"payment.method", 0.15},
			{"totals.tax", 0.1},
			{"vendor.name", 0.1},
		},
		keywords:  map[string]float64{"comercio": 0.2, "establecimiento": 0.2, "merchant": 0.2, "ticket": 0.2, "propina": 0.1, "tip": 0.1},
		penalties: []signal{{"invoice_number", 0.25}},
	},
	{
		docType: domain.DocTypeBankTx,
		signals: []signal{
			{"bank_tx.value_date", 0.15},
			{"bank_tx.direction", 0.2},
			{"bank_tx.debit", 0.2},
			{"bank_tx.credit", 0.2},
			{"bank_tx.narrative", 0.15},
			{"bank_tx.counterparty", 0.1},
			{"bank_tx.external_ref", 0.05},
			{"bank_tx.amount", 0.05},
		},
		keywords: map[string]float64{"saldo": 0.25, "balance": 0.25, "fecha_valor": 0.1, "value_date": 0.1, "iban": 0.05},
	},
	{
		docType: domain.DocTypeProduct,
		signals: []signal{
			{"product.sku", 0.3},
			{"product.stock", 0.3},
			{"product.unit_price", 0.15},
			{"product.category", 0.1},
			{"product.name", 0.1},
			{"product.unit", 0.05},
		},
		keywords: map[string]float64{"ean": 0.1, "barcode": 0.1, "codigo_barras": 0.1},
	},
	{
		docType: domain.DocTypeExpense,
		signals: []signal{
			{"expense.category", 0.3},
			{"expense.amount", 0.2},
			{"expense.description", 0.1},
			{"expense.payment_method", 0.15},
			{"expense.vendor_name", 0.1},
		},
		keywords:  map[string]float64{"gasto": 0.1, "tipo_gasto": 0.1, "centro_coste": 0.1, "cost_center": 0.1},
		penalties: []signal{{"invoice_number", 0.2}, {"product.stock", 0.2}},
	},
}

// Engine is stateless after construction and safe for concurrent use.
type Engine struct {
	thresholds Thresholds
}

func NewEngine(thresholds Thresholds) *Engine {
	if thresholds.Medium <= 0 && thresholds.High <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Engine{thresholds: thresholds}
}

func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// ScoreWithExplanation returns every candidate, best first.
func (e *Engine) ScoreWithExplanation(row map[string]any) []CandidateScore {
	out := make([]CandidateScore, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, scoreProfile(p, row))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func scoreProfile(p profile, row map[string]any) CandidateScore {
	schema := canonical.SchemaFor(p.docType)
	present := make(map[string]bool, len(row))
	words := make(map[string]bool, len(row))
	for key, value := range row {
		word := canonical.NormalizeKey(key)
		words[word] = true
		if path, ok := schema.Resolve(key); ok && value != nil {
			present[path] = true
		}
	}

	score := 0.0
	matched := make([]string, 0, 4)
	for _, s := range p.signals {
		if present[s.path] {
			score += s.weight
			matched = append(matched, s.path)
		}
	}
	for word, weight := range p.keywords {
		if words[word] {
			score += weight
			matched = append(matched, "header:"+word)
		}
	}
	for _, s := range p.penalties {
		if words[canonical.NormalizeKey(s.path)] || anyAlias(row, s.path) {
			score -= s.weight
			matched = append(matched, "penalty:"+s.path)
		}
	}
	if p.docType == domain.DocTypeBankTx && hasSignedAmount(row, schema) {
		score += 0.1
		matched = append(matched, "value:signed_amount")
	}
	sort.Strings(matched)
	return CandidateScore{DocType: p.docType, Score: clamp(score), Matched: matched}
}

// anyAlias reports whether a header of row resolves to path under the doc
// type that owns path.
func anyAlias(row map[string]any, path string) bool {
	owner := domain.DocTypeInvoice
	switch {
	case strings.HasPrefix(path, "product."):
		owner = domain.DocTypeProduct
	case strings.HasPrefix(path, "bank_tx."):
		owner = domain.DocTypeBankTx
	case strings.HasPrefix(path, "expense."):
		owner = domain.DocTypeExpense
	}
	schema := canonical.SchemaFor(owner)
	for key := range row {
		if p, ok := schema.Resolve(key); ok && p == path {
			return true
		}
	}
	return false
}

func hasSignedAmount(row map[string]any, schema *canonical.Schema) bool {
	for key, value := range row {
		path, ok := schema.Resolve(key)
		if !ok || path != "bank_tx.amount" {
			continue
		}
		d, err := canonical.ParseAmount(value, false)
		if err == nil && d.IsNegative() {
			return true
		}
	}
	return false
}

// Classify picks the best doc type for one row.
func (e *Engine) Classify(row map[string]any) Classification {
	return e.decide(e.ScoreWithExplanation(row))
}

// ClassifyRows averages candidate scores over sample rows.
func (e *Engine) ClassifyRows(rows []map[string]any) Classification {
	if len(rows) == 0 {
		return e.decide(nil)
	}
	sums := make(map[domain.DocType]float64, len(profiles))
	evidence := make(map[domain.DocType]map[string]struct{}, len(profiles))
	for _, row := range rows {
		for _, c := range e.ScoreWithExplanation(row) {
			sums[c.DocType] += c.Score
			if evidence[c.DocType] == nil {
				evidence[c.DocType] = make(map[string]struct{})
			}
			for _, m := range c.Matched {
				evidence[c.DocType][m] = struct{}{}
			}
		}
	}
	candidates := make([]CandidateScore, 0, len(profiles))
	for _, p := range profiles {
		matched := make([]string, 0, len(evidence[p.docType]))
		for m := range evidence[p.docType] {
			matched = append(matched, m)
		}
		sort.Strings(matched)
		candidates = append(candidates, CandidateScore{
			DocType: p.docType,
			Score:   sums[p.docType] / float64(len(rows)),
			Matched: matched,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return e.decide(candidates)
}

func (e *Engine) decide(candidates []CandidateScore) Classification {
	all := make(map[domain.DocType]float64, len(candidates))
	for _, c := range candidates {
		all[c.DocType] = c.Score
	}
	if len(candidates) == 0 || candidates[0].Score <= 0 {
		return Classification{
			DocType:         domain.DocTypeOther,
			ConfidenceLevel: LevelLow,
			ConfidenceScore: 0,
			Explanation:     "no doc type signal matched",
			AllScores:       all,
		}
	}
	best := candidates[0]
	return Classification{
		DocType:         best.DocType,
		ConfidenceLevel: e.thresholds.Level(best.Score),
		ConfidenceScore: best.Score,
		Explanation:     fmt.Sprintf("%s scored %.2f from %s", best.DocType, best.Score, strings.Join(best.Matched, ", ")),
		AllScores:       all,
	}
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
