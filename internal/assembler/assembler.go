// Package assembler turns scored evidence into the bundle handed to
// generation.
package assembler

import (
	"fmt"
	"sort"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/scoring"
	"github.com/infermed/backend/pkg/fingerprint"
)

const defaultLimit = 10

// Limits is the top-K per section.
type Limits map[string]int

func DefaultLimits() Limits {
	return Limits{
		evidence.SectionCanonical:   5,
		evidence.SectionRisk:        12,
		evidence.SectionSideEffects: 25,
		evidence.SectionFAERS:       10,
		evidence.SectionTargets:     32,
		evidence.SectionPathways:    24,
		evidence.SectionEnzymes:     16,
	}
}

// Fingerprint identifies the limit table for cache versioning.
func (l Limits) Fingerprint() string {
	fp, err := fingerprint.Value(map[string]int(l))
	if err != nil {
		return "unhashable"
	}
	return fp
}

// Input is everything one query produced.
type Input struct {
	Query     evidence.QueryContext
	Items     []evidence.ScoredItem
	Statuses  []evidence.SourceStatus
	Caveats   []string
	Summary   evidence.Summary
	Retrieval evidence.RetrievalTrace
}

type Assembler struct {
	limits Limits
	floor  float64
}

// New fills missing or non-positive limits with the defaults.
func New(limits Limits, floor float64) *Assembler {
	merged := DefaultLimits()
	for name, k := range limits {
		if k > 0 {
			merged[name] = k
		}
	}
	return &Assembler{limits: merged, floor: floor}
}

func (a *Assembler) Limits() Limits {
	out := make(Limits, len(a.limits))
	for k, v := range a.limits {
		out[k] = v
	}
	return out
}

func (a *Assembler) limit(section string) int {
	if k, ok := a.limits[section]; ok {
		return k
	}
	return defaultLimit
}

// Assemble routes items to sections, ranks, truncates and attributes them.
func (a *Assembler) Assemble(in Input) evidence.Bundle {
	grouped := make(map[string][]evidence.ScoredItem, len(evidence.Sections))
	for _, si := range in.Items {
		name, ok := evidence.SectionFor(si.Item.Kind)
		if !ok {
			continue
		}
		grouped[name] = append(grouped[name], si)
	}

	sections := make(map[string][]evidence.ScoredItem, len(evidence.Sections))
	used := make(map[string]bool)
	for _, name := range evidence.Sections {
		kept := Truncate(grouped[name], a.floor, a.limit(name))
		for _, si := range kept {
			used[si.Item.Source] = true
		}
		sections[name] = kept
	}

	sources := make([]string, 0, len(used))
	for s := range used {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	caveats := make([]string, 0, len(in.Statuses)+len(in.Caveats))
	partial := false
	for _, st := range in.Statuses {
		if c, ok := caveatFor(st); ok {
			caveats = append(caveats, c)
		}
		if st.Outcome == evidence.OutcomeFailed || st.Outcome == evidence.OutcomeTimeout || st.Degraded {
			partial = true
		}
	}
	caveats = append(caveats, in.Caveats...)

	statuses := append([]evidence.SourceStatus{}, in.Statuses...)

	return evidence.Bundle{
		Query:     in.Query,
		Sections:  sections,
		Sources:   sources,
		Caveats:   caveats,
		Summary:   in.Summary,
		Retrieval: in.Retrieval,
		Statuses:  statuses,
		Partial:   partial,
	}
}

func caveatFor(st evidence.SourceStatus) (string, bool) {
	switch st.Outcome {
	case evidence.OutcomeFailed:
		return fmt.Sprintf("%s: source failed, its evidence is missing", st.Source), true
	case evidence.OutcomeTimeout:
		return fmt.Sprintf("%s: timed out, its evidence is missing", st.Source), true
	case evidence.OutcomeEmpty:
		return fmt.Sprintf("%s: returned no evidence", st.Source), true
	case evidence.OutcomeDisabled:
		return fmt.Sprintf("%s: disabled, not consulted", st.Source), true
	}
	return "", false
}

// Truncate keeps items at or above floor, falling back to all items when the
// floor would empty a non-empty section. Survivors are ranked, duplicates of
// the same entity on the same side collapse to the best-scored one, and the
// result is cut to k. The result is never nil.
func Truncate(items []evidence.ScoredItem, floor float64, k int) []evidence.ScoredItem {
	if k <= 0 {
		k = defaultLimit
	}
	kept := make([]evidence.ScoredItem, 0, len(items))
	for _, si := range items {
		if si.Score >= floor {
			kept = append(kept, si)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, items...)
	}

	scoring.Rank(kept)

	seen := make(map[string]bool, len(kept))
	out := make([]evidence.ScoredItem, 0, min(len(kept), k))
	for _, si := range kept {
		if len(out) >= k {
			break
		}
		id := si.Item.Key() + "|" + string(si.Item.Side)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, si)
	}
	return out
}
