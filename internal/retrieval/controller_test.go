package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/infermed/backend/internal/evidence"
)

func recorder(qualities ...Quality) (FetchFunc, *[]int) {
	var calls []int
	return func(_ context.Context, m int) Quality {
		calls = append(calls, m)
		q := qualities[len(qualities)-1]
		if len(calls) <= len(qualities) {
			q = qualities[len(calls)-1]
		}
		return q
	}, &calls
}

func cfg() Config {
	return Config{Multiplier: 2, MinQuality: 0.3, MinResults: 5, ScoreFloor: 0.5}
}

func TestRun_GoodQualityDoesNotExpand(t *testing.T) {
	fetch, calls := recorder(Quality{Items: 10, AboveFloor: 8})
	trace := NewController(cfg(), nil).Run(context.Background(), fetch)

	assert.Equal(t, []int{1}, *calls)
	assert.False(t, trace.Expanded)
	assert.Equal(t, 1, trace.Multiplier)
}

func TestRun_ExpandsExactlyOnce(t *testing.T) {
	low := Quality{Items: 2, AboveFloor: 0}
	fetch, calls := recorder(low, low, low)
	trace := NewController(cfg(), nil).Run(context.Background(), fetch)

	assert.Equal(t, []int{1, 2}, *calls)
	assert.True(t, trace.Expanded)
	assert.Equal(t, 2, trace.Multiplier)
	assert.Zero(t, trace.QualityAfter)
}

func TestRun_TooFewResultsExpands(t *testing.T) {
	fetch, calls := recorder(Quality{Items: 3, AboveFloor: 3}, Quality{Items: 9, AboveFloor: 9})
	trace := NewController(cfg(), nil).Run(context.Background(), fetch)

	assert.Len(t, *calls, 2)
	assert.InDelta(t, 1.0, trace.QualityAfter, 1e-9)
}

func TestRun_DoneContextSkipsExpansion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetch, calls := recorder(Quality{})
	trace := NewController(cfg(), nil).Run(ctx, fetch)

	assert.Equal(t, []int{1}, *calls)
	assert.False(t, trace.Expanded)
}

func TestNewController_ClampsMultiplier(t *testing.T) {
	c := cfg()
	c.Multiplier = 10
	assert.Equal(t, 4, NewController(c, nil).Config().Multiplier)

	c.Multiplier = 0
	assert.Equal(t, 2, NewController(c, nil).Config().Multiplier)
}

func TestMeasure(t *testing.T) {
	items := []evidence.ScoredItem{
		{Item: evidence.Item{Kind: evidence.KindTarget}, Score: 2},
		{Item: evidence.Item{Kind: evidence.KindTarget}, Score: 0},
		{Item: evidence.Item{Kind: evidence.KindRiskFlag}, Score: 0.5},
	}
	q := Measure(items, 0.5)
	assert.Equal(t, Quality{Items: 3, AboveFloor: 2, NonEmptySections: 2}, q)
	assert.InDelta(t, 2.0/3.0, q.Fraction(), 1e-9)
	assert.Zero(t, Measure(nil, 0.5).Fraction())
}
