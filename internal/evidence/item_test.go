package evidence

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_JSONKeepsPayloadType(t *testing.T) {
	items := []Item{
		New("tabular", SidePair, "prr", 120, RiskFlag{Flag: FlagPRR, Value: 120}),
		New("graph", SideB, "cyp2c9", 0, Enzyme{Enzyme: "cyp2c9", Role: RoleInhibitor}),
		New("faers", SideA, "haemorrhage", 1500, FAERSReport{Term: "haemorrhage", Count: 1500}),
	}

	data, err := json.Marshal(items)
	require.NoError(t, err)

	var decoded []Item
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, items, decoded)
}

func TestItem_UnknownKindRejected(t *testing.T) {
	var it Item
	err := json.Unmarshal([]byte(`{"kind":"rumour","name":"x","side":"a","payload":{}}`), &it)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestValidate(t *testing.T) {
	good := New("graph", SideA, "cyp3a4", 0, Enzyme{Enzyme: "cyp3a4", Role: RoleSubstrate})
	require.NoError(t, Validate(good))

	tests := []struct {
		name string
		item Item
	}{
		{"no payload", Item{Kind: KindTarget, Side: SideA, Name: "x"}},
		{"payload mismatch", Item{Kind: KindTarget, Side: SideA, Name: "x", Payload: Pathway{ID: "x"}}},
		{"no name", New("s", SideA, "", 0, Target{ID: "x"})},
		{"bad side", New("s", "c", "x", 0, Target{ID: "x"})},
		{"nan score", New("s", SideA, "x", math.NaN(), Target{ID: "x"})},
		{"bad role", New("s", SideA, "x", 0, Enzyme{Enzyme: "x", Role: "blocker"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.item), ErrMalformedResponse)
		})
	}
}

func TestBundle_KeysDeduplicated(t *testing.T) {
	b := Bundle{Sections: map[string][]ScoredItem{
		SectionTargets: {
			{Item: New("graph", SideA, "P1", 0, Target{ID: "P1"})},
			{Item: New("tabular", SideB, "P1", 0, Target{ID: "P1"})},
		},
	}}
	assert.Equal(t, []string{"target:P1"}, b.Keys())
	assert.False(t, b.Empty())
}
