package scoring

import (
	"testing"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

func TestThresholdLevels(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{0.49, LevelLow},
		{0.5, LevelMedium},
		{0.79, LevelMedium},
		{0.8, LevelHigh},
		{1, LevelHigh},
	}
	for _, tc := range cases {
		if got := th.Level(tc.score); got != tc.want {
			t.Fatalf("Level(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestClassifyRecognisesDocTypes(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	cases := []struct {
		name string
		row  map[string]any
		want domain.DocType
	}{
		{
			name: "invoice",
			row:  map[string]any{"Numero Factura": "F-1", "NIF": "B12345674", "Base": "100", "IVA": "21", "Total": "121"},
			want: domain.DocTypeInvoice,
		},
		{
			name: "bank statement",
			row:  map[string]any{"Fecha Valor": "2025-01-15", "Concepto": "Recibo luz", "Importe": "-45,10", "Saldo": "1.200,00"},
			want: domain.DocTypeBankTx,
		},
		{
			name: "inventory",
			row:  map[string]any{"SKU": "A-1", "Nombre": "Tornillo", "Stock": "500", "Precio": "0.10"},
			want: domain.DocTypeProduct,
		},
		{
			name: "expense sheet",
			row:  map[string]any{"Categoria": "Viajes", "Importe": "30", "Descripcion": "Taxi", "Forma Pago": "tarjeta"},
			want: domain.DocTypeExpense,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.Classify(tc.row)
			if got.DocType != tc.want {
				t.Fatalf("Classify() = %s (%v), want %s; scores %+v", got.DocType, got.ConfidenceScore, tc.want, got.AllScores)
			}
			if got.Explanation == "" {
				t.Fatalf("expected explanation")
			}
		})
	}
}

func TestClassifyHighConfidenceInvoice(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	got := engine.Classify(map[string]any{"Numero Factura": "F-1", "NIF": "B12345674", "Base": "100", "IVA": "21"})
	if got.ConfidenceLevel != LevelHigh {
		t.Fatalf("expected HIGH, got %s (%v)", got.ConfidenceLevel, got.ConfidenceScore)
	}
}

func TestClassifyWithoutSignalsIsOther(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	got := engine.Classify(map[string]any{"foo": "bar"})
	if got.DocType != domain.DocTypeOther || got.ConfidenceLevel != LevelLow || got.ConfidenceScore != 0 {
		t.Fatalf("unexpected classification: %+v", got)
	}
}

func TestScoreWithExplanationListsEveryCandidate(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	scores := engine.ScoreWithExplanation(map[string]any{"SKU": "1", "Stock": "3"})
	if len(scores) != 5 {
		t.Fatalf("expected 5 candidates, got %d", len(scores))
	}
	if scores[0].DocType != domain.DocTypeProduct {
		t.Fatalf("expected product first, got %+v", scores[0])
	}
	for i := 1; i < len(scores); i++ {
		if scores[i].Score > scores[i-1].Score {
			t.Fatalf("candidates not sorted: %+v", scores)
		}
	}
}

func TestClassifyRowsAverages(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	rows := []map[string]any{
		{"SKU": "1", "Stock": "3", "Nombre": "a"},
		{"SKU": "2", "Stock": "4", "Nombre": "b"},
	}
	single := engine.Classify(rows[0])
	avg := engine.ClassifyRows(rows)
	if avg.DocType != domain.DocTypeProduct || avg.ConfidenceScore != single.ConfidenceScore {
		t.Fatalf("unexpected average: %+v vs %+v", avg, single)
	}
}
