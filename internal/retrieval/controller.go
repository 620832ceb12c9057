// Package retrieval decides whether a query's evidence is thin enough to
// fetch once more at a larger depth.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/pkg/config"
)

const (
	minMultiplier = 2
	maxMultiplier = 4
)

type State int

const (
	StateInitial State = iota
	StateExpanded
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateExpanded:
		return "expanded"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Quality summarizes one retrieval round.
type Quality struct {
	Items            int
	AboveFloor       int
	NonEmptySections int
}

// Fraction is the share of items scoring at or above the floor.
func (q Quality) Fraction() float64 {
	if q.Items == 0 {
		return 0
	}
	return float64(q.AboveFloor) / float64(q.Items)
}

// Measure computes round quality from scored items.
func Measure(items []evidence.ScoredItem, floor float64) Quality {
	q := Quality{Items: len(items)}
	sections := make(map[string]bool)
	for _, si := range items {
		if si.Score >= floor {
			q.AboveFloor++
		}
		if name, ok := evidence.SectionFor(si.Item.Kind); ok {
			sections[name] = true
		}
	}
	q.NonEmptySections = len(sections)
	return q
}

type Config struct {
	Multiplier int
	MinQuality float64
	MinResults int
	ScoreFloor float64
}

func ConfigFrom(c config.RetrievalConfig) Config {
	return Config{
		Multiplier: c.Multiplier,
		MinQuality: c.MinQuality,
		MinResults: c.MinResults,
		ScoreFloor: c.ScoreFloor,
	}
}

// FetchFunc runs one retrieval round at the given depth multiplier.
type FetchFunc func(ctx context.Context, multiplier int) Quality

type Controller struct {
	cfg    Config
	logger *zap.Logger
}

func NewController(cfg Config, logger *zap.Logger) *Controller {
	if cfg.Multiplier < minMultiplier {
		cfg.Multiplier = minMultiplier
	}
	if cfg.Multiplier > maxMultiplier {
		cfg.Multiplier = maxMultiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger}
}

func (c *Controller) Config() Config { return c.cfg }

// NeedsExpansion reports whether a first round is below threshold.
func (c *Controller) NeedsExpansion(q Quality) bool {
	return q.Items < c.cfg.MinResults || q.Fraction() < c.cfg.MinQuality
}

// Run performs the initial round and at most one expanded round. The
// expanded round's outcome is accepted whatever its quality.
func (c *Controller) Run(ctx context.Context, fetch FetchFunc) evidence.RetrievalTrace {
	state := StateInitial
	before := fetch(ctx, 1)
	trace := evidence.RetrievalTrace{
		Multiplier:    1,
		QualityBefore: before.Fraction(),
		QualityAfter:  before.Fraction(),
	}

	if !c.NeedsExpansion(before) || ctx.Err() != nil {
		c.logger.Debug("Retrieval finished", zap.String("state", StateDone.String()))
		return trace
	}

	state = StateExpanded
	c.logger.Info("Expanding retrieval",
		zap.String("state", state.String()),
		zap.Int("items", before.Items),
		zap.Float64("quality", before.Fraction()),
		zap.Int("multiplier", c.cfg.Multiplier),
	)

	after := fetch(ctx, c.cfg.Multiplier)
	trace.Expanded = true
	trace.Multiplier = c.cfg.Multiplier
	trace.QualityAfter = after.Fraction()

	c.logger.Debug("Retrieval finished", zap.String("state", StateDone.String()))
	return trace
}
