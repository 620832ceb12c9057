package assembler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/internal/evidence"
)

func sideEffect(source, term string, score float64) evidence.ScoredItem {
	return evidence.ScoredItem{
		Item:  evidence.New(source, evidence.SideA, term, 0, evidence.SideEffect{Term: term}),
		Score: score,
	}
}

func TestTruncate_NeverExceedsLimitNorEmpties(t *testing.T) {
	for n := 0; n <= 40; n += 7 {
		for _, k := range []int{1, 3, 10, 25} {
			for _, floor := range []float64{0, 0.5, 100} {
				var items []evidence.ScoredItem
				for i := 0; i < n; i++ {
					items = append(items, sideEffect("tabular", fmt.Sprintf("se%d", i), float64(i%4)))
				}

				got := Truncate(items, floor, k)
				require.NotNil(t, got)
				assert.LessOrEqual(t, len(got), k)
				if n > 0 {
					assert.NotEmpty(t, got, "n=%d k=%d floor=%v", n, k, floor)
				}
			}
		}
	}
}

func TestTruncate_FloorAndOrder(t *testing.T) {
	items := []evidence.ScoredItem{
		sideEffect("tabular", "a", 0.1),
		sideEffect("tabular", "b", 3),
		sideEffect("faers", "c", 1),
		sideEffect("tabular", "d", 3),
	}

	got := Truncate(items, 0.5, 10)
	var names []string
	for _, si := range got {
		names = append(names, si.Item.Name)
	}
	assert.Equal(t, []string{"b", "d", "c"}, names)
}

func TestTruncate_CollapsesDuplicates(t *testing.T) {
	items := []evidence.ScoredItem{
		sideEffect("tabular", "bleeding", 1),
		sideEffect("faers", "bleeding", 2),
		sideEffect("tabular", "nausea", 0.5),
	}
	got := Truncate(items, 0, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "faers", got[0].Item.Source)
}

func TestAssemble_SectionsSourcesCaveats(t *testing.T) {
	a := New(Limits{evidence.SectionSideEffects: 1}, 0.5)

	b := a.Assemble(Input{
		Query: evidence.QueryContext{DrugA: "warfarin", DrugB: "fluconazole"},
		Items: []evidence.ScoredItem{
			sideEffect("tabular", "bleeding", 2),
			sideEffect("faers", "nausea", 1),
			{Item: evidence.New("tabular", evidence.SidePair, "prr", 120, evidence.RiskFlag{Flag: evidence.FlagPRR, Value: 120}), Score: 6},
		},
		Statuses: []evidence.SourceStatus{
			{Source: "reference", Outcome: evidence.OutcomeEmpty},
			{Source: "tabular", Outcome: evidence.OutcomeOK, Items: 3},
			{Source: "graph", Outcome: evidence.OutcomeTimeout},
			{Source: "faers", Outcome: evidence.OutcomeDisabled},
		},
		Caveats: []string{"tabular: dataset snapshot is stale"},
	})

	for _, name := range evidence.Sections {
		assert.NotNil(t, b.Sections[name], name)
	}
	assert.Len(t, b.Sections[evidence.SectionSideEffects], 1)
	assert.Len(t, b.Sections[evidence.SectionRisk], 1)
	assert.Equal(t, []string{"tabular"}, b.Sources, "faers item was truncated away")
	assert.Equal(t, []string{
		"reference: returned no evidence",
		"graph: timed out, its evidence is missing",
		"faers: disabled, not consulted",
		"tabular: dataset snapshot is stale",
	}, b.Caveats)
	assert.True(t, b.Partial)
}

func TestAssemble_AllSourcesDown(t *testing.T) {
	a := New(nil, 0.5)
	statuses := []evidence.SourceStatus{
		{Source: "reference", Outcome: evidence.OutcomeTimeout},
		{Source: "tabular", Outcome: evidence.OutcomeFailed},
		{Source: "graph", Outcome: evidence.OutcomeTimeout},
	}
	b := a.Assemble(Input{Statuses: statuses})

	assert.True(t, b.Empty())
	assert.Len(t, b.Caveats, len(statuses))
	assert.Equal(t, []string{}, b.Sources)
	assert.True(t, b.Partial)
}

func TestNew_IgnoresNonPositiveLimits(t *testing.T) {
	a := New(Limits{evidence.SectionFAERS: 0, evidence.SectionTargets: 40}, 0)
	assert.Equal(t, 10, a.Limits()[evidence.SectionFAERS])
	assert.Equal(t, 40, a.Limits()[evidence.SectionTargets])
	assert.NotEqual(t, DefaultLimits().Fingerprint(), a.Limits().Fingerprint())
}

func TestAssemble_DegradedSourceMarksPartial(t *testing.T) {
	a := New(nil, 0.5)
	b := a.Assemble(Input{
		Statuses: []evidence.SourceStatus{
			{Source: "tabular", Outcome: evidence.OutcomeOK, Items: 1},
			{Source: "graph", Outcome: evidence.OutcomeOK, Items: 2, Degraded: true},
		},
		Caveats: []string{"graph: 1 target or pathway labels unresolved, identifiers shown"},
	})

	assert.True(t, b.Partial)
	assert.Equal(t, []string{"graph: 1 target or pathway labels unresolved, identifiers shown"}, b.Caveats)
}
