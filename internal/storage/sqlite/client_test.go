package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "infermed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.InitSchema())
	return c
}

func TestQueryHistory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := &models.QueryRecord{
		ID: "q1", DrugA: "warfarin", DrugB: "fluconazole", Mode: "doctor",
		CacheKey: "k", Version: "v1", Response: "answer", Caveats: 1, Partial: true,
		LatencyMS: 42, CreatedAt: time.Unix(1700000000, 0),
	}
	sources := []models.QuerySource{
		{Source: "tabular", Outcome: "ok", Items: 3},
		{Source: "graph", Outcome: "timeout"},
	}
	require.NoError(t, c.InsertQueryRecord(ctx, rec, sources))

	history, err := c.GetQueryHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, *rec, history[0])

	got, err := c.GetQuerySources(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "timeout", got[1].Outcome)
}

func TestFeedbackLogIsAppendOnly(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := &models.FeedbackRecord{
		QueryFingerprint: "fp", Rating: 0.9, ItemKeys: []string{"target:p1"}, CreatedAt: time.Unix(1700000000, 0),
	}
	updated := []models.ItemReliability{{Key: "target:p1", Value: 1.1, Updates: 1, UpdatedAt: time.Unix(1700000000, 0)}}
	require.NoError(t, c.AppendFeedback(ctx, rec, updated))
	assert.NotZero(t, rec.ID)

	_, err := c.db.Exec(`UPDATE feedback_log SET rating = 0`)
	assert.Error(t, err)
	_, err = c.db.Exec(`DELETE FROM feedback_log`)
	assert.Error(t, err)

	list, err := c.ListFeedback(ctx, "fp")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"target:p1"}, list[0].ItemKeys)

	rel, err := c.LoadReliability(ctx)
	require.NoError(t, err)
	require.Len(t, rel, 1)
	assert.InDelta(t, 1.1, rel[0].Value, 1e-9)

	total, positive, err := c.FeedbackCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, positive)
}
