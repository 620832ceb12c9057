package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/pkg/config"
)

func testConfig(url string) config.EnrichmentConfig {
	return config.EnrichmentConfig{
		Enabled:           true,
		UniProtURL:        url,
		ReactomeURL:       url,
		RequestsPerSecond: 1000,
		Burst:             10,
		CacheSize:         16,
		TimeoutSec:        2,
	}
}

func TestUniProt_ResolvesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/uniprotkb/P11712.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"proteinDescription":{"recommendedName":{"fullName":{"value":"Cytochrome P450 2C9"}}}}`))
	}))
	defer srv.Close()

	r, err := NewUniProt(testConfig(srv.URL), nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, "Cytochrome P450 2C9", r.Label(ctx, "P11712.2"))
	assert.Equal(t, "Cytochrome P450 2C9", r.Label(ctx, "P11712.2"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestReactome_Resolves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/query/R-HSA-211859", r.URL.Path)
		_, _ = w.Write([]byte(`{"displayName":"Biological oxidations"}`))
	}))
	defer srv.Close()

	r, err := NewReactome(testConfig(srv.URL), nil)
	require.NoError(t, err)

	got := r.Labels(context.Background(), []string{"R-HSA-211859"})
	assert.Equal(t, map[string]string{"R-HSA-211859": "Biological oxidations"}, got)
}

func TestLabel_FailsSoft(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/data/query/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/data/query/garbled":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	r, err := NewReactome(testConfig(srv.URL), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "missing", r.Label(ctx, "missing"))
	assert.Equal(t, "garbled", r.Label(ctx, "garbled"))
	assert.Equal(t, "down", r.Label(ctx, "down"))

	// Fallbacks are not cached.
	assert.Equal(t, "missing", r.Label(ctx, "missing"))
	assert.Equal(t, int32(4), calls.Load())
}

func TestLabel_OpenBreakerSkipsUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r, err := NewUniProt(testConfig(srv.URL), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		assert.Equal(t, "P1", r.Label(ctx, "P1"))
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestLabel_CancelledContextReturnsID(t *testing.T) {
	r, err := NewUniProt(testConfig("http://127.0.0.1:0"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "P1", r.Label(ctx, "P1"))
	assert.Equal(t, "", Identity.Label(ctx, ""))
}
