package domain

import "time"

const (
	MetricParserAccuracy       = "parser_accuracy"
	MetricValidationPassRate   = "validation_pass_rate"
	MetricManualCorrectionRate = "manual_correction_rate"
)

type QualityMetric struct {
	TenantID   string    `json:"tenant_id"`
	DocType    DocType   `json:"doc_type"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	SampleSize int       `json:"sample_size"`
	BatchID    string    `json:"batch_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type BenchmarkStatus string

const (
	BenchmarkPassed  BenchmarkStatus = "PASSED"
	BenchmarkWarning BenchmarkStatus = "WARNING"
	BenchmarkFailed  BenchmarkStatus = "FAILED"
)

func (s BenchmarkStatus) rank() int {
	switch s {
	case BenchmarkFailed:
		return 2
	case BenchmarkWarning:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of two statuses.
func (s BenchmarkStatus) Worse(other BenchmarkStatus) BenchmarkStatus {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

type BenchmarkResult struct {
	Metric     string          `json:"metric"`
	Value      float64         `json:"value"`
	Threshold  float64         `json:"threshold"`
	Comparator string          `json:"comparator"`
	SampleSize int             `json:"sample_size"`
	Status     BenchmarkStatus `json:"status"`
	Reason     string          `json:"reason"`
}

type BenchmarkReport struct {
	Status      BenchmarkStatus   `json:"status"`
	Results     []BenchmarkResult `json:"results"`
	Reasoning   string            `json:"reasoning"`
	GeneratedAt time.Time         `json:"generated_at"`
}
