package scoring

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/internal/canonical"
	"github.com/infermed/backend/internal/evidence"
)

type fixedReliability map[string]float64

func (f fixedReliability) ReliabilityOf(key string) float64 {
	if v, ok := f[key]; ok {
		return v
	}
	return 1
}

func fixture() ([]evidence.Item, Context, *canonical.Canonicalizer) {
	canon := canonical.New(canonical.DefaultTables())
	q := evidence.QueryContext{DrugA: "warfarin", DrugB: "fluconazole", Mode: "doctor"}

	targets := canon.DetectOverlap([]string{"P1", "P2"}, []string{"p2"}, canonical.Target)
	pathways := canon.DetectOverlap([]string{"R-HSA-1"}, []string{"R-HSA-1", "R-HSA-9"}, canonical.Pathway)
	pk := canon.DetectPK(
		canonical.EnzymeRoles{Substrate: []string{"CYP2C9", "CYP3A4"}, Inducer: []string{"CYP1A2"}},
		canonical.EnzymeRoles{Substrate: []string{"cyp3a4", "cyp1a2"}, Inhibitor: []string{"cyp2c9"}},
	)

	items := []evidence.Item{
		evidence.New("reference", evidence.SidePair, "warfarin+fluconazole", 0, evidence.CanonicalInteraction{Severity: "major"}),
		evidence.New("tabular", evidence.SidePair, "prr", 120, evidence.RiskFlag{Flag: evidence.FlagPRR, Value: 120}),
		evidence.New("tabular", evidence.SideA, "dili", 0.8, evidence.RiskFlag{Flag: evidence.FlagDILI, Level: "high"}),
		evidence.New("tabular", evidence.SideB, "dict", 0.5, evidence.RiskFlag{Flag: evidence.FlagDICT, Level: "moderate"}),
		evidence.New("tabular", evidence.SideB, "diqt", 0.5, evidence.RiskFlag{Flag: evidence.FlagDIQT, Value: 0.5}),
		evidence.New("tabular", evidence.SideA, "bleeding", 1.7, evidence.SideEffect{Term: "bleeding", PRR: 1.7}),
		evidence.New("faers", evidence.SidePair, "haemorrhage", 1500, evidence.FAERSReport{Term: "haemorrhage", Count: 1500}),
		evidence.New("faers", evidence.SideA, "nausea", 50, evidence.FAERSReport{Term: "nausea", Count: 50}),
		evidence.New("graph", evidence.SideA, "P2", 0, evidence.Target{ID: "P2"}),
		evidence.New("graph", evidence.SideA, "P1", 0, evidence.Target{ID: "P1"}),
		evidence.New("graph", evidence.SideB, "R-HSA-1", 0, evidence.Pathway{ID: "R-HSA-1"}),
		evidence.New("graph", evidence.SideA, "cyp2c9", 0, evidence.Enzyme{Enzyme: "CYP2C9", Role: evidence.RoleSubstrate}),
		evidence.New("graph", evidence.SideA, "cyp1a2", 0, evidence.Enzyme{Enzyme: "CYP1A2", Role: evidence.RoleInducer}),
		evidence.New("graph", evidence.SideA, "cyp3a4", 0, evidence.Enzyme{Enzyme: "cyp3a4", Role: evidence.RoleSubstrate}),
	}
	return items, NewContext(q, targets, pathways, pk), canon
}

func TestScore_Signals(t *testing.T) {
	items, ctx, canon := fixture()
	s := New(DefaultWeights(), DefaultThresholds(), canon, nil)

	want := []float64{
		10,    // canonical
		5 + 1, // PRR above high threshold, pair specific
		2,     // DILI high
		1,     // DICT moderate
		0.5,   // DIQT moderate
		2,     // side effect PRR moderate
		2 + 1, // FAERS high count, pair specific
		0.5,   // FAERS low count
		2,     // shared target
		0,     // unshared target
		3,     // shared pathway
		4,     // inhibition at cyp2c9
		3,     // induction at cyp1a2
		1.5,   // shared substrate cyp3a4
	}
	require.Len(t, want, len(items))
	for i, it := range items {
		assert.InDelta(t, want[i], s.Score(it, ctx), 1e-9, it.Key())
	}
}

func TestScore_MissingFieldsContributeZero(t *testing.T) {
	_, ctx, canon := fixture()
	s := New(DefaultWeights(), DefaultThresholds(), canon, nil)

	assert.Zero(t, s.Score(evidence.New("x", evidence.SideA, "x", 0, evidence.SideEffect{Term: "x"}), ctx))
	assert.Zero(t, s.Score(evidence.New("x", evidence.SideA, "x", 0, evidence.RiskFlag{Flag: "unknown"}), ctx))
	assert.Zero(t, s.Score(evidence.Item{Kind: evidence.KindTarget, Name: "x"}, Context{}))
}

func TestScore_ReliabilityScales(t *testing.T) {
	items, ctx, canon := fixture()
	rel := fixedReliability{items[0].Key(): 1.5, items[1].Key(): 0.5, items[2].Key(): 0}
	s := New(DefaultWeights(), DefaultThresholds(), canon, rel)

	assert.InDelta(t, 15, s.Score(items[0], ctx), 1e-9)
	assert.InDelta(t, 3, s.Score(items[1], ctx), 1e-9)
	assert.InDelta(t, 2, s.Score(items[2], ctx), 1e-9, "non-positive reliability falls back to 1")
}

func TestScore_MonotoneInEveryWeight(t *testing.T) {
	items, ctx, canon := fixture()
	base := DefaultWeights()
	rel := fixedReliability{items[0].Key(): 0.5, items[5].Key(): 1.5}
	before := New(base, DefaultThresholds(), canon, rel)

	v := reflect.ValueOf(&base).Elem()
	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i).Name
		for _, delta := range []float64{0.1, 1, 25} {
			bumped := base
			reflect.ValueOf(&bumped).Elem().Field(i).SetFloat(v.Field(i).Float() + delta)
			after := New(bumped, DefaultThresholds(), canon, rel)

			for _, it := range items {
				assert.GreaterOrEqual(t, after.Score(it, ctx), before.Score(it, ctx), "%s +%v on %s", field, delta, it.Key())
			}
		}
	}
}

func TestRank_StableDescending(t *testing.T) {
	items := []evidence.ScoredItem{
		{Item: evidence.Item{Name: "a"}, Score: 1},
		{Item: evidence.Item{Name: "b"}, Score: 3},
		{Item: evidence.Item{Name: "c"}, Score: 1},
		{Item: evidence.Item{Name: "d"}, Score: 3},
		{Item: evidence.Item{Name: "e"}, Score: 2},
	}
	Rank(items)

	var names []string
	for _, it := range items {
		names = append(names, it.Item.Name)
	}
	assert.Equal(t, []string{"b", "d", "e", "a", "c"}, names)
}

func TestFingerprint(t *testing.T) {
	w, th := DefaultWeights(), DefaultThresholds()
	fp := Fingerprint(w, th)
	assert.Equal(t, fp, Fingerprint(DefaultWeights(), DefaultThresholds()))

	w.Inhibition++
	assert.NotEqual(t, fp, Fingerprint(w, th))

	th.CountLow++
	assert.NotEqual(t, Fingerprint(DefaultWeights(), th), fp)
}
