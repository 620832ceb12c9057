package tabular

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/storage/sqlite"
	"github.com/infermed/backend/pkg/config"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, InitSchema(db))

	seed := []string{
		`INSERT INTO side_effects VALUES ('warfarin', 'aspirin', 'Hemorrhage', 4.2)`,
		`INSERT INTO side_effects VALUES ('warfarin', 'fluconazole', 'hemorrhage', 6.1)`,
		`INSERT INTO side_effects VALUES ('fluconazole', 'warfarin', 'INR increased', 3.3)`,
		`INSERT INTO side_effects VALUES ('warfarin', 'aspirin', 'nausea', 0.4)`,
		`INSERT INTO side_effects VALUES ('fluconazole', 'ketoconazole', 'qt prolongation', NULL)`,
		`INSERT INTO interaction_prr VALUES ('fluconazole', 'warfarin', 5.5)`,
		`INSERT INTO dili_rank VALUES ('fluconazole', 0.55)`,
		`INSERT INTO dict_rank VALUES ('warfarin', 0.05)`,
		`INSERT INTO diqt_score VALUES ('fluconazole', 0.8)`,
		`INSERT INTO drug_targets VALUES ('warfarin', 'P00734')`,
		`INSERT INTO drug_targets VALUES ('coumadin', 'Q9BQB6')`,
	}
	for _, stmt := range seed {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func find(items []evidence.Item, kind evidence.Kind, side evidence.Side, name string) (evidence.Item, bool) {
	for _, it := range items {
		if it.Kind == kind && it.Side == side && it.Name == name {
			return it, true
		}
	}
	return evidence.Item{}, false
}

func TestFetch_WarfarinFluconazole(t *testing.T) {
	src := New(newTestDB(t), config.SourceConfig{BaseLimit: 10, Retries: 1}, nil)
	q := evidence.QueryContext{
		DrugA: "warfarin", DrugB: "fluconazole",
		ExpandedA: []string{"warfarin", "coumadin"},
		ExpandedB: []string{"fluconazole"},
	}

	res, err := src.Fetch(context.Background(), q, 1)
	require.NoError(t, err)

	for _, it := range res.Items {
		assert.NoError(t, evidence.Validate(it))
		assert.Equal(t, Name, it.Source)
	}

	pair, ok := find(res.Items, evidence.KindSideEffect, evidence.SidePair, "hemorrhage")
	require.True(t, ok)
	assert.Equal(t, 6.1, pair.RawScore)
	_, ok = find(res.Items, evidence.KindSideEffect, evidence.SidePair, "inr increased")
	assert.True(t, ok)

	_, ok = find(res.Items, evidence.KindSideEffect, evidence.SideA, "nausea")
	assert.False(t, ok, "below minimum prr")
	_, ok = find(res.Items, evidence.KindSideEffect, evidence.SideB, "qt prolongation")
	assert.True(t, ok, "null prr is kept")

	prr, ok := find(res.Items, evidence.KindRiskFlag, evidence.SidePair, "prr:warfarin+fluconazole")
	require.True(t, ok)
	assert.Equal(t, 5.5, prr.Payload.(evidence.RiskFlag).Value)

	dili, ok := find(res.Items, evidence.KindRiskFlag, evidence.SideB, "dili:fluconazole")
	require.True(t, ok)
	assert.Equal(t, "medium", dili.Payload.(evidence.RiskFlag).Level)

	dict, ok := find(res.Items, evidence.KindRiskFlag, evidence.SideA, "dict:warfarin")
	require.True(t, ok)
	assert.Equal(t, "low", dict.Payload.(evidence.RiskFlag).Level)

	_, ok = find(res.Items, evidence.KindRiskFlag, evidence.SideB, "diqt:fluconazole")
	assert.True(t, ok)

	_, ok = find(res.Items, evidence.KindTarget, evidence.SideA, "Q9BQB6")
	assert.True(t, ok, "targets found through a synonym")
}

func TestFetch_DepthScalesLimit(t *testing.T) {
	db := newTestDB(t)
	for _, term := range []string{"a", "b", "c", "d"} {
		_, err := db.Exec(`INSERT INTO side_effects VALUES ('aspirin', 'ibuprofen', ?, 2.0)`, term)
		require.NoError(t, err)
	}
	src := New(db, config.SourceConfig{BaseLimit: 2}, nil)
	q := evidence.QueryContext{DrugA: "aspirin", DrugB: "ibuprofen"}

	count := func(depth int) int {
		res, err := src.Fetch(context.Background(), q, depth)
		require.NoError(t, err)
		n := 0
		for _, it := range res.Items {
			if it.Kind == evidence.KindSideEffect && it.Side == evidence.SideA {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 2, count(1))
	assert.Equal(t, 4, count(2))
}

func TestFetch_UnknownPairIsEmpty(t *testing.T) {
	src := New(newTestDB(t), config.SourceConfig{BaseLimit: 5}, nil)
	res, err := src.Fetch(context.Background(), evidence.QueryContext{DrugA: "x", DrugB: "y"}, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestFetch_MissingTablesFail(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	src := New(db, config.SourceConfig{BaseLimit: 5}, nil)
	_, err = src.Fetch(context.Background(), evidence.QueryContext{DrugA: "x", DrugB: "y"}, 1)
	assert.ErrorIs(t, err, evidence.ErrSourceUnavailable)
}

func TestLevels(t *testing.T) {
	assert.Equal(t, "high", DILILevel(0.7))
	assert.Equal(t, "medium", DILILevel(0.4))
	assert.Equal(t, "low", DILILevel(0.39))

	assert.Equal(t, "severe", DICTLevel(0.9))
	assert.Equal(t, "moderate", DICTLevel(0.5))
	assert.Equal(t, "mild", DICTLevel(0.1))
	assert.Equal(t, "low", DICTLevel(0.0))
}
