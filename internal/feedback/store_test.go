package feedback

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/internal/storage/models"
	"github.com/infermed/backend/internal/storage/sqlite"
)

func openLog(t *testing.T, path string) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(path)
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRecord_EMAMovesTowardRating(t *testing.T) {
	s, err := New(context.Background(), nil, DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, 1.0, s.ReliabilityOf("target:p1"))

	got, err := s.Record(ctx, models.FeedbackRecord{QueryFingerprint: "q", Rating: 1, ItemKeys: []string{"target:p1"}})
	require.NoError(t, err)
	// 0.2*1.5 + 0.8*1.0
	assert.InDelta(t, 1.1, got["target:p1"], 1e-9)
	assert.InDelta(t, 1.1, s.ReliabilityOf("target:p1"), 1e-9)

	_, err = s.Record(ctx, models.FeedbackRecord{QueryFingerprint: "q", Rating: 0, ItemKeys: []string{"target:p1"}})
	require.NoError(t, err)
	// 0.2*0.5 + 0.8*1.1
	assert.InDelta(t, 0.98, s.ReliabilityOf("target:p1"), 1e-9)
}

func TestRecord_StaysWithinBounds(t *testing.T) {
	cfg := Config{Alpha: 0.9, Floor: 0.5, Ceiling: 1.5}
	s, err := New(context.Background(), nil, cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := s.Record(ctx, models.FeedbackRecord{Rating: 1, ItemKeys: []string{"up"}})
		require.NoError(t, err)
		_, err = s.Record(ctx, models.FeedbackRecord{Rating: 0, ItemKeys: []string{"down"}})
		require.NoError(t, err)

		assert.LessOrEqual(t, s.ReliabilityOf("up"), 1.5)
		assert.GreaterOrEqual(t, s.ReliabilityOf("down"), 0.5)
	}
	assert.InDelta(t, 1.5, s.ReliabilityOf("up"), 1e-6)
	assert.InDelta(t, 0.5, s.ReliabilityOf("down"), 1e-6)
}

func TestRecord_InvalidRating(t *testing.T) {
	s, err := New(context.Background(), nil, DefaultConfig(), nil)
	require.NoError(t, err)

	for _, r := range []float64{-0.1, 1.01} {
		_, err := s.Record(context.Background(), models.FeedbackRecord{Rating: r, ItemKeys: []string{"x"}})
		assert.ErrorIs(t, err, ErrInvalidRating)
	}
	assert.Equal(t, 1.0, s.ReliabilityOf("x"))
}

func TestNew_RejectsBadBounds(t *testing.T) {
	_, err := New(context.Background(), nil, Config{Alpha: 0.2, Floor: 2, Ceiling: 1}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), nil, Config{Alpha: 0.2, Floor: 0, Ceiling: 1}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), nil, Config{Alpha: 2, Floor: 0.5, Ceiling: 1.5}, nil)
	assert.Error(t, err)
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.db")
	ctx := context.Background()

	s, err := New(ctx, openLog(t, path), DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = s.Record(ctx, models.FeedbackRecord{QueryFingerprint: "q1", Rating: 1, ItemKeys: []string{"a", "b", "a"}})
	require.NoError(t, err)
	_, err = s.Record(ctx, models.FeedbackRecord{QueryFingerprint: "q2", Rating: 0.2, ItemKeys: []string{"b"}})
	require.NoError(t, err)

	reopened, err := New(ctx, openLog(t, path), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.InDelta(t, s.ReliabilityOf("a"), reopened.ReliabilityOf("a"), 1e-9)
	assert.InDelta(t, s.ReliabilityOf("b"), reopened.ReliabilityOf("b"), 1e-9)

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackStats{Total: 2, Positive: 1, Negative: 1, PositiveRatio: 0.5, TrackedItems: 2}, stats)
}

func TestRecord_ConcurrentUpdatesAreSerialized(t *testing.T) {
	s, err := New(context.Background(), nil, Config{Alpha: 1, Floor: 0.5, Ceiling: 1.5}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Record(context.Background(), models.FeedbackRecord{Rating: 1, ItemKeys: []string{"k"}})
		}()
	}
	wg.Wait()

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, stats.Total)
	assert.InDelta(t, 1.5, s.ReliabilityOf("k"), 1e-9)
}
