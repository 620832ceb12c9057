// Package scoring ranks evidence items against a drug pair.
package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/infermed/backend/internal/canonical"
	"github.com/infermed/backend/internal/evidence"
)

// ReliabilityProvider supplies the feedback-derived multiplier for an item.
type ReliabilityProvider interface {
	ReliabilityOf(key string) float64
}

type neutral struct{}

func (neutral) ReliabilityOf(string) float64 { return 1 }

// Context carries the overlap results an item is scored against.
type Context struct {
	Query    evidence.QueryContext
	Targets  canonical.Overlap
	Pathways canonical.Overlap
	PK       canonical.PKOverlap

	sharedTargets  map[string]bool
	sharedPathways map[string]bool
	inhibition     map[string]bool
	induction      map[string]bool
	substrate      map[string]bool
}

func NewContext(q evidence.QueryContext, targets, pathways canonical.Overlap, pk canonical.PKOverlap) Context {
	return Context{
		Query:          q,
		Targets:        targets,
		Pathways:       pathways,
		PK:             pk,
		sharedTargets:  toSet(targets.Common),
		sharedPathways: toSet(pathways.Common),
		inhibition:     toSet(pk.Inhibition),
		induction:      toSet(pk.Induction),
		substrate:      toSet(pk.SharedSubstrate),
	}
}

func toSet(values []string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

type Scorer struct {
	weights     Weights
	thresholds  Thresholds
	canon       *canonical.Canonicalizer
	reliability ReliabilityProvider
}

// New builds a scorer. A nil provider means every item has reliability 1.
func New(w Weights, t Thresholds, canon *canonical.Canonicalizer, rel ReliabilityProvider) *Scorer {
	if rel == nil {
		rel = neutral{}
	}
	return &Scorer{weights: w, thresholds: t, canon: canon, reliability: rel}
}

func (s *Scorer) Weights() Weights { return s.weights }

// Score never fails; signals an item does not carry contribute zero.
func (s *Scorer) Score(it evidence.Item, ctx Context) float64 {
	r := s.reliability.ReliabilityOf(it.Key())
	if math.IsNaN(r) || r <= 0 {
		r = 1
	}
	return r * s.base(it, ctx)
}

func (s *Scorer) base(it evidence.Item, ctx Context) float64 {
	w, t := s.weights, s.thresholds
	score := 0.0

	if it.Side == evidence.SidePair && it.Kind != evidence.KindCanonicalInteraction {
		score += w.PairSpecific
	}

	switch p := it.Payload.(type) {
	case evidence.CanonicalInteraction:
		score += w.Canonical

	case evidence.SideEffect:
		score += s.prr(p.PRR)

	case evidence.FAERSReport:
		switch {
		case p.Count > t.CountHigh:
			score += w.CountHigh
		case p.Count > t.CountModerate:
			score += w.CountModerate
		case p.Count > t.CountLow:
			score += w.CountLow
		}

	case evidence.RiskFlag:
		switch p.Flag {
		case evidence.FlagPRR:
			score += s.prr(p.Value)
		case evidence.FlagDILI, evidence.FlagDICT:
			switch strings.ToLower(p.Level) {
			case "high", "severe":
				score += w.RiskHigh
			case "moderate", "medium":
				score += w.RiskModerate
			}
		case evidence.FlagDIQT:
			switch {
			case p.Value > t.DIQTHigh:
				score += w.DIQTHigh
			case p.Value > t.DIQTModerate:
				score += w.DIQTModerate
			}
		}

	case evidence.Target:
		if ctx.sharedTargets[s.canon.Canonicalize(p.ID, canonical.Target)] {
			score += w.SharedTarget
		}

	case evidence.Pathway:
		if ctx.sharedPathways[s.canon.Canonicalize(p.ID, canonical.Pathway)] {
			score += w.SharedPathway
		}

	case evidence.Enzyme:
		key := s.canon.Canonicalize(p.Enzyme, canonical.Enzyme)
		if ctx.inhibition[key] {
			score += w.Inhibition
		}
		if ctx.induction[key] {
			score += w.Induction
		}
		if ctx.substrate[key] {
			score += w.SharedSubstrate
		}
	}

	return score
}

func (s *Scorer) prr(v float64) float64 {
	w, t := s.weights, s.thresholds
	switch {
	case v > t.PRRHigh:
		return w.PRRHigh
	case v > t.PRRModerate:
		return w.PRRModerate
	case v > t.PRRWeak:
		return w.PRRWeak
	}
	return 0
}

// ScoreAll scores items in order.
func (s *Scorer) ScoreAll(items []evidence.Item, ctx Context) []evidence.ScoredItem {
	out := make([]evidence.ScoredItem, len(items))
	for i, it := range items {
		out[i] = evidence.ScoredItem{Item: it, Score: s.Score(it, ctx)}
	}
	return out
}

// Rank sorts by descending score. Equal scores keep their input order.
func Rank(items []evidence.ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}
