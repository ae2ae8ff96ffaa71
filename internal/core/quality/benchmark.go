// Package quality measures ingestion accuracy and decides whether a build
// may ship.
package quality

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

const (
	ComparatorGTE = "gte"
	ComparatorLTE = "lte"
)

type Rule struct {
	Threshold  float64 `yaml:"threshold"`
	Comparator string  `yaml:"comparator"`
}

type Thresholds struct {
	MinSampleSize int             `yaml:"min_sample_size"`
	WarnMargin    float64         `yaml:"warn_margin"`
	Metrics       map[string]Rule `yaml:"metrics"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSampleSize: 30,
		WarnMargin:    0.02,
		Metrics: map[string]Rule{
			domain.MetricParserAccuracy:       {Threshold: 0.90, Comparator: ComparatorGTE},
			domain.MetricValidationPassRate:   {Threshold: 0.95, Comparator: ComparatorGTE},
			domain.MetricManualCorrectionRate: {Threshold: 0.10, Comparator: ComparatorLTE},
		},
	}
}

// LoadThresholds reads a YAML thresholds document. Metrics it omits keep
// their defaults.
func LoadThresholds(r io.Reader) (Thresholds, error) {
	var file Thresholds
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return Thresholds{}, domain.WrapError(domain.ErrInvalidInput, "decode quality thresholds", err)
	}
	out := DefaultThresholds()
	if file.MinSampleSize > 0 {
		out.MinSampleSize = file.MinSampleSize
	}
	if file.WarnMargin > 0 {
		out.WarnMargin = file.WarnMargin
	}
	for name, rule := range file.Metrics {
		rule.Comparator = strings.ToLower(strings.TrimSpace(rule.Comparator))
		if rule.Comparator != ComparatorGTE && rule.Comparator != ComparatorLTE {
			return Thresholds{}, domain.WrapError(domain.ErrInvalidInput, "decode quality thresholds",
				fmt.Errorf("metric %s: comparator must be gte or lte, got %q", name, rule.Comparator))
		}
		out.Metrics[name] = rule
	}
	return out, nil
}

func LoadThresholdsFile(path string) (Thresholds, error) {
	f, err := os.Open(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("open quality thresholds: %w", err)
	}
	defer f.Close()
	return LoadThresholds(f)
}

type Benchmark struct {
	thresholds Thresholds
	now        func() time.Time
}

func NewBenchmark(thresholds Thresholds) *Benchmark {
	if thresholds.Metrics == nil {
		thresholds = DefaultThresholds()
	}
	return &Benchmark{thresholds: thresholds, now: func() time.Time { return time.Now().UTC() }}
}

func (b *Benchmark) Thresholds() Thresholds {
	return b.thresholds
}

// Evaluate checks every configured metric present in metrics. A metric
// measured on fewer than MinSampleSize samples is a WARNING whatever its
// value; the report status is the worst result.
func (b *Benchmark) Evaluate(metrics map[string]float64, sampleSizes map[string]int) domain.BenchmarkReport {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		if _, ok := b.thresholds.Metrics[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	report := domain.BenchmarkReport{
		Status:      domain.BenchmarkPassed,
		Results:     make([]domain.BenchmarkResult, 0, len(names)),
		GeneratedAt: b.now(),
	}
	if len(names) == 0 {
		report.Status = domain.BenchmarkWarning
		report.Reasoning = "no benchmarked metrics were supplied"
		return report
	}

	reasons := make([]string, 0, len(names))
	for _, name := range names {
		res := b.evaluateMetric(name, metrics[name], sampleSizes[name])
		report.Results = append(report.Results, res)
		report.Status = report.Status.Worse(res.Status)
		if res.Status != domain.BenchmarkPassed {
			reasons = append(reasons, res.Reason)
		}
	}
	if len(reasons) == 0 {
		report.Reasoning = "all metrics within thresholds"
	} else {
		report.Reasoning = strings.Join(reasons, "; ")
	}
	return report
}

func (b *Benchmark) evaluateMetric(name string, value float64, samples int) domain.BenchmarkResult {
	rule := b.thresholds.Metrics[name]
	res := domain.BenchmarkResult{
		Metric:     name,
		Value:      value,
		Threshold:  rule.Threshold,
		Comparator: rule.Comparator,
		SampleSize: samples,
		Status:     domain.BenchmarkPassed,
	}
	if samples < b.thresholds.MinSampleSize {
		res.Status = domain.BenchmarkWarning
		res.Reason = fmt.Sprintf("%s: sample size %d below minimum %d", name, samples, b.thresholds.MinSampleSize)
		return res
	}

	margin := b.thresholds.WarnMargin
	switch rule.Comparator {
	case ComparatorLTE:
		switch {
		case value > rule.Threshold:
			res.Status = domain.BenchmarkFailed
			res.Reason = fmt.Sprintf("%s %.4f above maximum %.4f", name, value, rule.Threshold)
		case value > rule.Threshold-margin:
			res.Status = domain.BenchmarkWarning
			res.Reason = fmt.Sprintf("%s %.4f within %.2f of maximum %.4f", name, value, margin, rule.Threshold)
		}
	default:
		switch {
		case value < rule.Threshold:
			res.Status = domain.BenchmarkFailed
			res.Reason = fmt.Sprintf("%s %.4f below minimum %.4f", name, value, rule.Threshold)
		case value < rule.Threshold+margin:
			res.Status = domain.BenchmarkWarning
			res.Reason = fmt.Sprintf("%s %.4f within %.2f of minimum %.4f", name, value, margin, rule.Threshold)
		}
	}
	return res
}

// ShouldBlockDeployment reports whether the report forbids a release.
func ShouldBlockDeployment(report domain.BenchmarkReport) bool {
	return report.Status == domain.BenchmarkFailed
}
