package canonical

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/infermed/backend/internal/evidence"
)

// Overlap partitions two canonicalized lists. All three slices are sorted.
type Overlap struct {
	Common []string `json:"common"`
	AOnly  []string `json:"a_only"`
	BOnly  []string `json:"b_only"`
}

// Swap exchanges the per-side sets.
func (o Overlap) Swap() Overlap {
	return Overlap{Common: o.Common, AOnly: o.BOnly, BOnly: o.AOnly}
}

func (c *Canonicalizer) DetectOverlap(listA, listB []string, kind EntityKind) Overlap {
	a := c.set(listA, kind)
	b := c.set(listB, kind)

	o := Overlap{Common: []string{}, AOnly: []string{}, BOnly: []string{}}
	for k := range a {
		if b[k] {
			o.Common = append(o.Common, k)
		} else {
			o.AOnly = append(o.AOnly, k)
		}
	}
	for k := range b {
		if !a[k] {
			o.BOnly = append(o.BOnly, k)
		}
	}
	sort.Strings(o.Common)
	sort.Strings(o.AOnly)
	sort.Strings(o.BOnly)
	return o
}

func (c *Canonicalizer) set(values []string, kind EntityKind) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, k := range c.List(values, kind) {
		out[k] = true
	}
	return out
}

// EnzymeRoles holds one drug's enzyme names by role.
type EnzymeRoles struct {
	Substrate []string
	Inhibitor []string
	Inducer   []string
}

// RolesFromItems collects enzyme roles for one side of the pair.
func RolesFromItems(items []evidence.Item, side evidence.Side) EnzymeRoles {
	var r EnzymeRoles
	for _, it := range items {
		e, ok := it.Payload.(evidence.Enzyme)
		if !ok || it.Side != side {
			continue
		}
		switch e.Role {
		case evidence.RoleSubstrate:
			r.Substrate = append(r.Substrate, e.Enzyme)
		case evidence.RoleInhibitor:
			r.Inhibitor = append(r.Inhibitor, e.Enzyme)
		case evidence.RoleInducer:
			r.Inducer = append(r.Inducer, e.Enzyme)
		}
	}
	return r
}

// PKOverlap lists enzymes implicated in a pharmacokinetic interaction.
type PKOverlap struct {
	Inhibition      []string `json:"inhibition"`
	Induction       []string `json:"induction"`
	SharedSubstrate []string `json:"shared_substrate"`
}

// Any reports whether any PK mechanism was found.
func (p PKOverlap) Any() bool {
	return len(p.Inhibition)+len(p.Induction)+len(p.SharedSubstrate) > 0
}

// DetectPK finds enzymes where one drug is a substrate and the other an
// inhibitor or inducer, plus enzymes both drugs are substrates of.
func (c *Canonicalizer) DetectPK(a, b EnzymeRoles) PKOverlap {
	cross := func(x, y []string) []string {
		return c.DetectOverlap(x, y, Enzyme).Common
	}
	return PKOverlap{
		Inhibition:      union(cross(a.Substrate, b.Inhibitor), cross(b.Substrate, a.Inhibitor)),
		Induction:       union(cross(a.Substrate, b.Inducer), cross(b.Substrate, a.Inducer)),
		SharedSubstrate: cross(a.Substrate, b.Substrate),
	}
}

func union(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !set[s] {
			set[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// PDScore is in [0,1], saturating at ten shared targets and ten shared
// pathways.
func PDScore(targets, pathways Overlap) float64 {
	s := 0.5*float64(len(targets.Common))/10 + 0.5*float64(len(pathways.Common))/10
	return math.Round(math.Min(1, s)*1000) / 1000
}

const summaryListLimit = 8

// Summarize renders the PK/PD digest carried on the bundle.
func Summarize(pk PKOverlap, targets, pathways Overlap) evidence.Summary {
	var pkLines []string
	if len(pk.Inhibition) > 0 {
		pkLines = append(pkLines, "Potential increased exposure via inhibition at "+strings.Join(pk.Inhibition, ", "))
	}
	if len(pk.Induction) > 0 {
		pkLines = append(pkLines, "Potential decreased exposure via induction at "+strings.Join(pk.Induction, ", "))
	}
	if len(pk.SharedSubstrate) > 0 {
		pkLines = append(pkLines, fmt.Sprintf("Both are substrates of %s (competition possible)", strings.Join(pk.SharedSubstrate, ", ")))
	}

	var pdLines []string
	if len(targets.Common) > 0 {
		pdLines = append(pdLines, "Overlapping targets: "+strings.Join(head(targets.Common, summaryListLimit), ", "))
	}
	if len(pathways.Common) > 0 {
		pdLines = append(pdLines, "Common pathways: "+strings.Join(head(pathways.Common, summaryListLimit), ", "))
	}

	s := evidence.Summary{
		PK:              "No strong PK overlap detected",
		PD:              "No obvious PD overlap",
		PDScore:         PDScore(targets, pathways),
		Inhibition:      nonNil(pk.Inhibition),
		Induction:       nonNil(pk.Induction),
		SharedSubstrate: nonNil(pk.SharedSubstrate),
		CommonTargets:   nonNil(targets.Common),
		CommonPathways:  nonNil(pathways.Common),
	}
	if len(pkLines) > 0 {
		s.PK = strings.Join(pkLines, "; ")
	}
	if len(pdLines) > 0 {
		s.PD = strings.Join(pdLines, "; ")
	}
	return s
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
