package faers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/internal/cache/memory"
	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/pkg/config"
)

type fakeFDA struct {
	calls     atomic.Int32
	throttled atomic.Int32
	responses map[string]string
}

func (f *fakeFDA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.throttled.Load() > 0 {
		f.throttled.Add(-1)
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	search := r.URL.Query().Get("search")
	for needle, body := range f.responses {
		if search == needle {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND"}}`))
}

const (
	warfarinSearch = `patient.drug.medicinalproduct:"WARFARIN"`
	flucSearch     = `patient.drug.medicinalproduct:"FLUCONAZOLE"`
	comboSearch    = `patient.drug.medicinalproduct:"FLUCONAZOLE" AND patient.drug.medicinalproduct:"WARFARIN"`
)

func newClient(t *testing.T, fda *fakeFDA, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(fda)
	t.Cleanup(srv.Close)
	return New(
		config.OpenFDAConfig{BaseURL: srv.URL, FormatVersion: "v2"},
		config.SourceConfig{BaseLimit: 2, Retries: 3},
		nil,
		append([]Option{WithHTTPClient(srv.Client())}, opts...)...,
	)
}

func TestFetch_ItemsPerSideAndCombination(t *testing.T) {
	fda := &fakeFDA{responses: map[string]string{
		warfarinSearch: `{"results":[{"term":"INR INCREASED","count":5000},{"term":"HAEMORRHAGE","count":4000},{"term":"NAUSEA","count":30}]}`,
		flucSearch:     `{"results":[{"term":"NAUSEA","count":800}]}`,
		comboSearch:    `{"results":[{"term":"INR INCREASED","count":150}]}`,
	}}
	c := newClient(t, fda)

	res, err := c.Fetch(context.Background(), evidence.QueryContext{DrugA: "warfarin", DrugB: "fluconazole"}, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Caveats)

	var sides []string
	for _, it := range res.Items {
		require.NoError(t, evidence.Validate(it))
		sides = append(sides, string(it.Side)+":"+it.Name)
	}
	assert.Equal(t, []string{
		"a:inr increased", "a:haemorrhage",
		"b:nausea",
		"pair:inr increased",
	}, sides)

	res, err = c.Fetch(context.Background(), evidence.QueryContext{DrugA: "warfarin", DrugB: "fluconazole"}, 2)
	require.NoError(t, err)
	assert.Len(t, res.Items, 5, "depth 2 widens each side")
}

func TestFetch_SharedFallbackWhenNoCombination(t *testing.T) {
	fda := &fakeFDA{responses: map[string]string{
		warfarinSearch: `{"results":[{"term":"NAUSEA","count":30},{"term":"RASH","count":12}]}`,
		flucSearch:     `{"results":[{"term":"NAUSEA","count":800},{"term":"HEADACHE","count":5}]}`,
	}}
	c := newClient(t, fda)

	res, err := c.Fetch(context.Background(), evidence.QueryContext{DrugA: "warfarin", DrugB: "fluconazole"}, 1)
	require.NoError(t, err)
	require.Len(t, res.Caveats, 1)

	var pair []evidence.FAERSReport
	for _, it := range res.Items {
		if it.Side == evidence.SidePair {
			pair = append(pair, it.Payload.(evidence.FAERSReport))
		}
	}
	assert.Equal(t, []evidence.FAERSReport{{Term: "nausea", Count: 30}}, pair)
}

func TestFetch_RetriesThrottling(t *testing.T) {
	fda := &fakeFDA{responses: map[string]string{
		warfarinSearch: `{"results":[{"term":"NAUSEA","count":30}]}`,
	}}
	fda.throttled.Store(2)
	c := newClient(t, fda)

	got, err := c.TopReactions(context.Background(), "warfarin")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(3), fda.calls.Load())
}

func TestFetch_MalformedIsNotRetried(t *testing.T) {
	fda := &fakeFDA{responses: map[string]string{
		warfarinSearch: `{"results":[{"term":"","count":3}]}`,
	}}
	c := newClient(t, fda)

	_, err := c.Fetch(context.Background(), evidence.QueryContext{DrugA: "warfarin", DrugB: "fluconazole"}, 1)
	assert.ErrorIs(t, err, evidence.ErrMalformedResponse)
	assert.ErrorIs(t, err, evidence.ErrSourceUnavailable)
	assert.Equal(t, int32(1), fda.calls.Load())
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad search"))
	}))
	defer srv.Close()
	c := New(config.OpenFDAConfig{BaseURL: srv.URL}, config.SourceConfig{Retries: 3}, nil)

	_, err := c.TopReactions(context.Background(), "warfarin")
	assert.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := New(config.OpenFDAConfig{BaseURL: srv.URL}, config.SourceConfig{Retries: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, evidence.QueryContext{DrugA: "warfarin", DrugB: "fluconazole"}, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCounts_CachedByFormatVersion(t *testing.T) {
	fda := &fakeFDA{responses: map[string]string{
		warfarinSearch: `{"results":[{"term":"NAUSEA","count":30}]}`,
	}}
	kv, err := memory.New(16, time.Minute)
	require.NoError(t, err)
	c := newClient(t, fda, WithKV(kv))
	ctx := context.Background()

	_, err = c.TopReactions(ctx, "warfarin")
	require.NoError(t, err)
	_, err = c.TopReactions(ctx, "Warfarin")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fda.calls.Load())

	data, ok, err := kv.GetRaw(ctx, "faers:v2:reactions:warfarin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.Contains(string(data), "NAUSEA"))
}

func TestShared(t *testing.T) {
	got := Shared(
		[]Count{{"A", 5}, {"B", 9}, {"C", 1}},
		[]Count{{"b", 3}, {"c", 7}, {"d", 2}},
	)
	assert.Equal(t, []Count{{"b", 3}, {"c", 1}}, got)
}
