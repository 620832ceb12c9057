// Package query orchestrates one interaction query: canonicalization, the
// cached fan-out over evidence sources, scoring, assembly and generation.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infermed/backend/internal/assembler"
	"github.com/infermed/backend/internal/cache"
	"github.com/infermed/backend/internal/canonical"
	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/llm"
	"github.com/infermed/backend/internal/metrics"
	"github.com/infermed/backend/internal/retrieval"
	"github.com/infermed/backend/internal/scoring"
	"github.com/infermed/backend/internal/storage/models"
)

var ErrInvalidRequest = errors.New("invalid request")

// Registration is one configured source. Disabled sources are never called
// but still get a caveat, so Source may be nil when Enabled is false.
type Registration struct {
	Name    string
	Source  evidence.Source
	Timeout time.Duration
	Enabled bool
}

func (r Registration) name() string {
	if r.Name != "" || r.Source == nil {
		return r.Name
	}
	return r.Source.Name()
}

// Generator produces an answer from a bundle.
type Generator interface {
	Generate(ctx context.Context, b evidence.Bundle, question string) (llm.Answer, error)
}

// HistoryRecorder stores answered queries.
type HistoryRecorder interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error
}

type Options struct {
	Canonicalizer *canonical.Canonicalizer
	Sources       []Registration
	Cache         *cache.Layer
	CacheVersion  string
	Retrieval     retrieval.Config
	Weights       scoring.Weights
	Thresholds    scoring.Thresholds
	Reliability   scoring.ReliabilityProvider
	Limits        assembler.Limits
	Generator     Generator
	History       HistoryRecorder
	Logger        *zap.Logger
}

type Engine struct {
	canon      *canonical.Canonicalizer
	sources    []Registration
	cache      *cache.Layer
	version    string
	controller *retrieval.Controller
	scorer     *scoring.Scorer
	assembler  *assembler.Assembler
	floor      float64
	generator  Generator
	history    HistoryRecorder
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	canon := opts.Canonicalizer
	if canon == nil {
		canon = canonical.New(canonical.DefaultTables())
	}

	controller := retrieval.NewController(opts.Retrieval, logger.Named("retrieval"))
	asm := assembler.New(opts.Limits, opts.Retrieval.ScoreFloor)

	var enabled []string
	for _, r := range opts.Sources {
		if r.Enabled {
			enabled = append(enabled, r.name())
		}
	}
	version := cache.Version(opts.CacheVersion,
		scoring.Fingerprint(opts.Weights, opts.Thresholds),
		asm.Limits().Fingerprint(),
		fmt.Sprintf("floor=%g", opts.Retrieval.ScoreFloor),
		"sources="+strings.Join(enabled, ","),
	)

	return &Engine{
		canon:      canon,
		sources:    opts.Sources,
		cache:      opts.Cache,
		version:    version,
		controller: controller,
		scorer:     scoring.New(opts.Weights, opts.Thresholds, canon, opts.Reliability),
		assembler:  asm,
		floor:      opts.Retrieval.ScoreFloor,
		generator:  opts.Generator,
		history:    opts.History,
		logger:     logger,
		now:        time.Now,
	}
}

// Version is the cache version tag bundles are stored under.
func (e *Engine) Version() string { return e.version }

type Request struct {
	DrugA    string `json:"drug_a"`
	DrugB    string `json:"drug_b"`
	Mode     string `json:"mode"`
	Question string `json:"question,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.DrugA) == "" || strings.TrimSpace(r.DrugB) == "" {
		return fmt.Errorf("%w: both drug names are required", ErrInvalidRequest)
	}
	return nil
}

// QueryContext canonicalizes the request. The same request always yields
// the same context.
func (e *Engine) QueryContext(req Request) evidence.QueryContext {
	a := e.canon.Canonicalize(req.DrugA, canonical.Drug)
	b := e.canon.Canonicalize(req.DrugB, canonical.Drug)
	return evidence.QueryContext{
		DrugA:     a,
		DrugB:     b,
		Mode:      llm.NormalizeMode(req.Mode),
		ExpandedA: e.canon.ExpandDrug(req.DrugA),
		ExpandedB: e.canon.ExpandDrug(req.DrugB),
	}
}

// CacheKey is the bundle key for a request. Feedback uses it as the query
// fingerprint.
func (e *Engine) CacheKey(q evidence.QueryContext) string {
	return cache.Key(q.DrugA, q.DrugB, q.Mode)
}

func (e *Engine) hasSources() bool {
	for _, r := range e.sources {
		if r.Enabled && r.Source != nil {
			return true
		}
	}
	return false
}

// BuildContext returns the evidence bundle for a drug pair. It fails only
// when the request is invalid, no source is enabled, or a stored bundle
// cannot be decoded; source failures become caveats.
func (e *Engine) BuildContext(ctx context.Context, req Request) (evidence.Bundle, error) {
	if !e.hasSources() {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return evidence.Bundle{}, evidence.ErrNoSources
	}
	if err := req.Validate(); err != nil {
		metrics.QueryTotal.WithLabelValues("invalid").Inc()
		return evidence.Bundle{}, err
	}

	start := e.now()
	q := e.QueryContext(req)
	key := e.CacheKey(q)

	var res cache.Result
	if e.cache == nil {
		res = cache.Result{Bundle: e.compute(ctx, q), Origin: cache.OriginMiss}
	} else {
		var err error
		// Waiting on the cache ignores ctx so a bundle assembled at the
		// deadline still reaches the caller. Source calls stay bound to ctx.
		res, err = e.cache.Fetch(context.WithoutCancel(ctx), key, e.version, func(context.Context) (evidence.Bundle, error) {
			return e.compute(ctx, q), nil
		})
		if err != nil {
			metrics.QueryTotal.WithLabelValues("error").Inc()
			return evidence.Bundle{}, err
		}

		// A joined computation ran under the leader's deadline. When it came
		// back partial and this caller still has time, gather for this caller.
		if res.Origin == cache.OriginShared && res.Bundle.Partial && ctx.Err() == nil {
			e.logger.Debug("Shared bundle partial, recomputing", zap.String("key", key))
			res = cache.Result{Bundle: e.compute(ctx, q), Origin: cache.OriginMiss}
			e.cache.Save(context.WithoutCancel(ctx), key, e.version, res.Bundle)
		}
	}
	bundle := res.Bundle

	label := string(res.Origin)
	metrics.QueryDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	status := "ok"
	if bundle.Partial {
		status = "partial"
	}
	metrics.QueryTotal.WithLabelValues(status).Inc()

	e.logger.Info("Context built",
		zap.String("drug_a", q.DrugA),
		zap.String("drug_b", q.DrugB),
		zap.String("mode", q.Mode),
		zap.String("cache", label),
		zap.Bool("partial", bundle.Partial),
		zap.Int("caveats", len(bundle.Caveats)),
	)
	return bundle, nil
}

// compute runs the adaptive fan-out and assembles the result.
func (e *Engine) compute(ctx context.Context, q evidence.QueryContext) evidence.Bundle {
	var results []sourceResult
	var scored []evidence.ScoredItem
	var summary evidence.Summary

	trace := e.controller.Run(ctx, func(ctx context.Context, multiplier int) retrieval.Quality {
		results = merge(results, e.fetchRound(ctx, q, multiplier))
		scored, summary = e.evaluate(q, collectItems(results))
		return retrieval.Measure(scored, e.floor)
	})
	if trace.Expanded {
		metrics.RetrievalExpansions.Inc()
	}

	statuses := make([]evidence.SourceStatus, 0, len(results))
	var caveats []string
	for _, r := range results {
		statuses = append(statuses, r.status)
		caveats = append(caveats, r.caveats...)
	}

	return e.assembler.Assemble(assembler.Input{
		Query:     q,
		Items:     scored,
		Statuses:  statuses,
		Caveats:   caveats,
		Summary:   summary,
		Retrieval: trace,
	})
}

// evaluate runs overlap detection and scores every item against it.
func (e *Engine) evaluate(q evidence.QueryContext, items []evidence.Item) ([]evidence.ScoredItem, evidence.Summary) {
	targets := e.canon.DetectOverlap(idsOf(items, evidence.SideA, evidence.KindTarget), idsOf(items, evidence.SideB, evidence.KindTarget), canonical.Target)
	pathways := e.canon.DetectOverlap(idsOf(items, evidence.SideA, evidence.KindPathway), idsOf(items, evidence.SideB, evidence.KindPathway), canonical.Pathway)
	pk := e.canon.DetectPK(canonical.RolesFromItems(items, evidence.SideA), canonical.RolesFromItems(items, evidence.SideB))

	sctx := scoring.NewContext(q, targets, pathways, pk)
	return e.scorer.ScoreAll(items, sctx), canonical.Summarize(pk, targets, pathways)
}

func idsOf(items []evidence.Item, side evidence.Side, kind evidence.Kind) []string {
	var out []string
	for _, it := range items {
		if it.Side != side || it.Kind != kind {
			continue
		}
		switch p := it.Payload.(type) {
		case evidence.Target:
			out = append(out, p.ID)
		case evidence.Pathway:
			out = append(out, p.ID)
		}
	}
	return out
}

// Response is a built bundle plus the generated answer.
type Response struct {
	ID        string          `json:"id"`
	CacheKey  string          `json:"cache_key"`
	Version   string          `json:"version"`
	Bundle    evidence.Bundle `json:"bundle"`
	Answer    *llm.Answer     `json:"answer,omitempty"`
	Fallback  bool            `json:"fallback,omitempty"`
	LatencyMS int             `json:"latency_ms"`
}

const fallbackText = "Unable to generate a full explanation right now. The evidence gathered for this pair is included below."

// Answer builds the bundle, generates an answer when a generator is set and
// records the query. A generation failure yields a fallback answer rather
// than an error.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	start := e.now()
	bundle, err := e.BuildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		ID:       uuid.New().String(),
		CacheKey: e.CacheKey(bundle.Query),
		Version:  e.version,
		Bundle:   bundle,
	}

	if e.generator != nil {
		answer, err := e.generator.Generate(ctx, bundle, req.Question)
		if err != nil {
			e.logger.Warn("Generation failed, using fallback", zap.String("query_id", resp.ID), zap.Error(err))
			answer = llm.Answer{
				Text: llm.AppendDisclaimer(fallbackText, llm.ModePatient),
				Mode: bundle.Query.Mode,
			}
			resp.Fallback = true
		}
		resp.Answer = &answer
	}

	resp.LatencyMS = int(time.Since(start).Milliseconds())
	e.record(ctx, resp)
	return resp, nil
}

func (e *Engine) record(ctx context.Context, resp *Response) {
	if e.history == nil {
		return
	}

	text := ""
	if resp.Answer != nil {
		text = resp.Answer.Text
	}
	rec := &models.QueryRecord{
		ID:        resp.ID,
		DrugA:     resp.Bundle.Query.DrugA,
		DrugB:     resp.Bundle.Query.DrugB,
		Mode:      resp.Bundle.Query.Mode,
		CacheKey:  resp.CacheKey,
		Version:   resp.Version,
		Response:  text,
		Caveats:   len(resp.Bundle.Caveats),
		Partial:   resp.Bundle.Partial,
		Expanded:  resp.Bundle.Retrieval.Expanded,
		LatencyMS: resp.LatencyMS,
		CreatedAt: e.now().UTC(),
	}
	sources := make([]models.QuerySource, 0, len(resp.Bundle.Statuses))
	for _, st := range resp.Bundle.Statuses {
		sources = append(sources, models.QuerySource{
			Source:  st.Source,
			Outcome: string(st.Outcome),
			Items:   st.Items,
		})
	}

	if err := e.history.InsertQueryRecord(context.WithoutCancel(ctx), rec, sources); err != nil {
		e.logger.Error("Failed to save query record", zap.String("query_id", resp.ID), zap.Error(err))
	}
}
