// Package enrichment resolves target and pathway identifiers to readable
// labels. Lookups never fail a query: on any error the id is its own label.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/infermed/backend/internal/metrics"
	"github.com/infermed/backend/pkg/circuitbreaker"
	"github.com/infermed/backend/pkg/config"
)

const (
	UniProt  = "uniprot"
	Reactome = "reactome"
)

// Labeler maps an identifier to a display label.
type Labeler interface {
	Label(ctx context.Context, id string) string
}

type parseFunc func(body []byte) (string, error)

type Resolver struct {
	upstream   string
	baseURL    string
	path       func(id string) string
	parse      parseFunc
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *lru.Cache[string, string]
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

type Option func(*Resolver)

func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resolver) { r.httpClient = hc }
}

func newResolver(upstream, baseURL string, path func(string) string, parse parseFunc, cfg config.EnrichmentConfig, logger *zap.Logger, opts ...Option) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s label cache: %w", upstream, err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := &Resolver{
		upstream:   upstream,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		path:       path,
		parse:      parse,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		cache:      cache,
		cb: circuitbreaker.NewCircuitBreaker(upstream, circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Logger:           logger,
		}),
		logger: logger.Named(upstream),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewUniProt resolves UniProt accessions to recommended protein names.
func NewUniProt(cfg config.EnrichmentConfig, logger *zap.Logger, opts ...Option) (*Resolver, error) {
	path := func(id string) string {
		return "/uniprotkb/" + url.PathEscape(strings.SplitN(id, ".", 2)[0]) + ".json"
	}
	return newResolver(UniProt, cfg.UniProtURL, path, parseUniProt, cfg, logger, opts...)
}

// NewReactome resolves Reactome stable ids to pathway display names.
func NewReactome(cfg config.EnrichmentConfig, logger *zap.Logger, opts ...Option) (*Resolver, error) {
	path := func(id string) string {
		return "/data/query/" + url.PathEscape(id)
	}
	return newResolver(Reactome, cfg.ReactomeURL, path, parseReactome, cfg, logger, opts...)
}

func parseUniProt(body []byte) (string, error) {
	var entry struct {
		ProteinDescription struct {
			RecommendedName struct {
				FullName struct {
					Value string `json:"value"`
				} `json:"fullName"`
			} `json:"recommendedName"`
		} `json:"proteinDescription"`
	}
	if err := json.Unmarshal(body, &entry); err != nil {
		return "", err
	}
	return entry.ProteinDescription.RecommendedName.FullName.Value, nil
}

func parseReactome(body []byte) (string, error) {
	var entry struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal(body, &entry); err != nil {
		return "", err
	}
	return entry.DisplayName, nil
}

// Label returns the cached or fetched label for id, or id itself when the
// upstream cannot answer.
func (r *Resolver) Label(ctx context.Context, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	if label, ok := r.cache.Get(id); ok {
		metrics.EnrichmentLookups.WithLabelValues(r.upstream, "hit").Inc()
		return label
	}

	label, err := r.fetch(ctx, id)
	if err != nil || label == "" {
		metrics.EnrichmentLookups.WithLabelValues(r.upstream, "fallback").Inc()
		if err != nil {
			r.logger.Debug("Label lookup failed", zap.String("id", id), zap.Error(err))
		}
		return id
	}

	metrics.EnrichmentLookups.WithLabelValues(r.upstream, "resolved").Inc()
	r.cache.Add(id, label)
	return label
}

func (r *Resolver) fetch(ctx context.Context, id string) (string, error) {
	var label string
	err := r.cb.Execute(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+r.path(id), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", r.upstream, resp.StatusCode)
		}

		label, err = r.parse(body)
		return err
	})
	return strings.TrimSpace(label), err
}

// Labels resolves ids in order.
func (r *Resolver) Labels(ctx context.Context, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = r.Label(ctx, id)
	}
	return out
}

type identity struct{}

func (identity) Label(_ context.Context, id string) string { return id }

// Identity labels every id with itself. Used when enrichment is disabled.
var Identity Labeler = identity{}
