// Package evaluation replays known drug pairs through the engine and checks
// that the expected evidence comes back.
package evaluation

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/query"
)

type Builder interface {
	BuildContext(ctx context.Context, req query.Request) (evidence.Bundle, error)
}

type Evaluator struct {
	engine Builder
	logger *zap.Logger
}

type Dataset struct {
	Cases []Case `yaml:"cases"`
}

type Case struct {
	Name   string      `yaml:"name"`
	DrugA  string      `yaml:"drug_a"`
	DrugB  string      `yaml:"drug_b"`
	Mode   string      `yaml:"mode"`
	Expect Expectation `yaml:"expect"`
}

// Expectation lists what a bundle must contain. Zero fields are not checked.
type Expectation struct {
	Canonical  bool     `yaml:"canonical"`
	Inhibition []string `yaml:"inhibition"`
	Induction  []string `yaml:"induction"`
	Sections   []string `yaml:"sections"`
	TopRisk    string   `yaml:"top_risk"`
	Complete   bool     `yaml:"complete"`
}

type Result struct {
	Case      string   `json:"case"`
	Passed    bool     `json:"passed"`
	Failures  []string `json:"failures,omitempty"`
	Partial   bool     `json:"partial"`
	Expanded  bool     `json:"expanded"`
	LatencyMS int      `json:"latency_ms"`
}

type Report struct {
	Total        int      `json:"total"`
	Passed       int      `json:"passed"`
	Failed       int      `json:"failed"`
	Partial      int      `json:"partial"`
	Expanded     int      `json:"expanded"`
	PassRate     float64  `json:"pass_rate"`
	AvgLatencyMS float64  `json:"avg_latency_ms"`
	Results      []Result `json:"results"`
}

func NewEvaluator(engine Builder, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		engine: engine,
		logger: logger,
	}
}

func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	for i, c := range ds.Cases {
		if c.DrugA == "" || c.DrugB == "" {
			return nil, fmt.Errorf("case %d: drug_a and drug_b are required", i+1)
		}
		if c.Name == "" {
			ds.Cases[i].Name = c.DrugA + "+" + c.DrugB
		}
	}
	return &ds, nil
}

// Run evaluates every case in order. A case whose bundle cannot be built at
// all counts as failed.
func (e *Evaluator) Run(ctx context.Context, ds *Dataset) *Report {
	e.logger.Info("Running dataset evaluation", zap.Int("cases", len(ds.Cases)))

	report := &Report{Total: len(ds.Cases), Results: make([]Result, 0, len(ds.Cases))}
	var totalLatency int

	for _, c := range ds.Cases {
		start := time.Now()
		bundle, err := e.engine.BuildContext(ctx, query.Request{DrugA: c.DrugA, DrugB: c.DrugB, Mode: c.Mode})
		res := Result{Case: c.Name, LatencyMS: int(time.Since(start).Milliseconds())}

		if err != nil {
			res.Failures = []string{"build failed: " + err.Error()}
		} else {
			res.Failures = Check(c.Expect, bundle)
			res.Partial = bundle.Partial
			res.Expanded = bundle.Retrieval.Expanded
		}
		res.Passed = len(res.Failures) == 0

		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
			e.logger.Warn("Case failed", zap.String("case", c.Name), zap.Strings("failures", res.Failures))
		}
		if res.Partial {
			report.Partial++
		}
		if res.Expanded {
			report.Expanded++
		}
		totalLatency += res.LatencyMS
		report.Results = append(report.Results, res)
	}

	if report.Total > 0 {
		report.PassRate = float64(report.Passed) / float64(report.Total)
		report.AvgLatencyMS = float64(totalLatency) / float64(report.Total)
	}

	e.logger.Info("Dataset evaluation completed",
		zap.Int("total", report.Total),
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
	)
	return report
}

// Check returns one message per unmet expectation.
func Check(want Expectation, b evidence.Bundle) []string {
	var failures []string

	if want.Canonical && len(b.Sections[evidence.SectionCanonical]) == 0 {
		failures = append(failures, "no curated interaction")
	}
	for _, enzyme := range want.Inhibition {
		if !slices.Contains(b.Summary.Inhibition, enzyme) {
			failures = append(failures, "inhibition at "+enzyme+" not detected")
		}
	}
	for _, enzyme := range want.Induction {
		if !slices.Contains(b.Summary.Induction, enzyme) {
			failures = append(failures, "induction at "+enzyme+" not detected")
		}
	}
	for _, section := range want.Sections {
		if len(b.Sections[section]) == 0 {
			failures = append(failures, "section "+section+" is empty")
		}
	}
	if want.TopRisk != "" {
		risk := b.Sections[evidence.SectionRisk]
		switch {
		case len(risk) == 0:
			failures = append(failures, "no risk flags, want "+want.TopRisk+" first")
		case risk[0].Item.Name != want.TopRisk:
			failures = append(failures, fmt.Sprintf("top risk flag is %s, want %s", risk[0].Item.Name, want.TopRisk))
		}
	}
	if want.Complete && b.Partial {
		failures = append(failures, "bundle is partial")
	}
	return failures
}

func GenerateReport(report *Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `
Evaluation Report
=================

Cases:    %d
Passed:   %d (%.1f%%)
Failed:   %d
Partial:  %d
Expanded: %d
Avg latency: %.0fms
`,
		report.Total,
		report.Passed, report.PassRate*100,
		report.Failed,
		report.Partial,
		report.Expanded,
		report.AvgLatencyMS,
	)

	for _, r := range report.Results {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&sb, "\nFAIL %s\n", r.Case)
		for _, f := range r.Failures {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}
	return sb.String()
}
