// Package faers queries the openFDA adverse event count API.
package faers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/infermed/backend/internal/cache"
	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/sources"
	"github.com/infermed/backend/pkg/config"
	"github.com/infermed/backend/pkg/retry"
)

const (
	Name          = "faers"
	reactionField = "patient.reaction.reactionmeddrapt.exact"
	drugField     = "patient.drug.medicinalproduct"
	// fetchLimit is what one cached upstream call holds; depth only cuts it.
	fetchLimit = 100
)

// Count is one term of a count response.
type Count struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

type countResponse struct {
	Results []Count `json:"results"`
}

// StatusError is a non-2xx openFDA response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openfda: HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is rate limiting or a server error.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL       string
	apiKey        string
	formatVersion string
	httpClient    *http.Client
	kv            cache.KV
	ttl           time.Duration
	guard         *sources.Guard
	baseLimit     int
	logger        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithKV caches count responses under faers:<format version>:<entity>.
func WithKV(kv cache.KV) Option {
	return func(c *Client) { c.kv = kv }
}

func New(cfg config.OpenFDAConfig, src config.SourceConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		formatVersion: cfg.FormatVersion,
		httpClient:    &http.Client{},
		ttl:           time.Duration(cfg.CacheTTLSec) * time.Second,
		guard:         sources.FromConfig(Name, src, logger),
		baseLimit:     src.BaseLimit,
		logger:        logger.Named(Name),
	}
	if c.formatVersion == "" {
		c.formatVersion = "v1"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// Fetch returns top reactions for each drug and for the combination. When
// no report names both drugs, reactions reported for both are used instead.
func (c *Client) Fetch(ctx context.Context, q evidence.QueryContext, depth int) (evidence.Result, error) {
	limit := sources.Limit(c.baseLimit, depth)

	a, err := c.TopReactions(ctx, q.DrugA)
	if err != nil {
		return evidence.Result{}, c.wrap(err)
	}
	b, err := c.TopReactions(ctx, q.DrugB)
	if err != nil {
		return evidence.Result{}, c.wrap(err)
	}
	combo, err := c.CombinationReactions(ctx, q.DrugA, q.DrugB)
	if err != nil {
		return evidence.Result{}, c.wrap(err)
	}

	var res evidence.Result
	if len(combo) == 0 {
		combo = Shared(a, b)
		if len(combo) > 0 {
			res.Caveats = append(res.Caveats, "faers: no reports name both drugs; pair reactions are those reported for each drug")
		}
	}

	res.Items = append(res.Items, toItems(evidence.SideA, a, limit)...)
	res.Items = append(res.Items, toItems(evidence.SideB, b, limit)...)
	res.Items = append(res.Items, toItems(evidence.SidePair, combo, limit)...)
	return res, nil
}

func (c *Client) wrap(err error) error {
	return fmt.Errorf("%w: %s: %w", evidence.ErrSourceUnavailable, Name, err)
}

func toItems(side evidence.Side, counts []Count, limit int) []evidence.Item {
	if len(counts) > limit {
		counts = counts[:limit]
	}
	items := make([]evidence.Item, 0, len(counts))
	for _, rc := range counts {
		term := strings.ToLower(strings.TrimSpace(rc.Term))
		if term == "" {
			continue
		}
		report := evidence.FAERSReport{Term: term, Count: rc.Count}
		items = append(items, evidence.New(Name, side, term, float64(rc.Count), report))
	}
	return items
}

// Shared keeps terms reported for both drugs with the smaller count, sorted
// by count then term.
func Shared(a, b []Count) []Count {
	counts := make(map[string]int, len(a))
	for _, rc := range a {
		counts[strings.ToLower(rc.Term)] = rc.Count
	}
	var out []Count
	for _, rc := range b {
		n, ok := counts[strings.ToLower(rc.Term)]
		if !ok {
			continue
		}
		out = append(out, Count{Term: rc.Term, Count: min(n, rc.Count)})
	}
	sortCounts(out)
	return out
}

func sortCounts(counts []Count) {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Term < counts[j].Term
	})
}

func (c *Client) TopReactions(ctx context.Context, drug string) ([]Count, error) {
	search := fmt.Sprintf(`%s:"%s"`, drugField, strings.ToUpper(drug))
	return c.counts(ctx, "reactions:"+strings.ToLower(drug), search)
}

// CombinationReactions is order-independent.
func (c *Client) CombinationReactions(ctx context.Context, drugA, drugB string) ([]Count, error) {
	pair := []string{strings.ToLower(drugA), strings.ToLower(drugB)}
	sort.Strings(pair)
	search := fmt.Sprintf(`%s:"%s" AND %s:"%s"`,
		drugField, strings.ToUpper(pair[0]), drugField, strings.ToUpper(pair[1]))
	return c.counts(ctx, "combo:"+pair[0]+"+"+pair[1], search)
}

func (c *Client) cacheKey(entity string) string {
	return fmt.Sprintf("faers:%s:%s", c.formatVersion, entity)
}

func (c *Client) counts(ctx context.Context, entity, search string) ([]Count, error) {
	key := c.cacheKey(entity)
	if c.kv != nil {
		data, ok, err := c.kv.GetRaw(ctx, key)
		if err != nil {
			c.logger.Warn("FAERS cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			var cached []Count
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
			c.logger.Warn("Ignoring unreadable FAERS cache entry", zap.String("key", key))
		}
	}

	var out []Count
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.fetchCounts(ctx, search)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortCounts(out)

	if c.kv != nil {
		data, err := json.Marshal(out)
		if err == nil {
			err = c.kv.SetRaw(ctx, key, data, c.ttl)
		}
		if err != nil {
			c.logger.Warn("FAERS cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func (c *Client) fetchCounts(ctx context.Context, search string) ([]Count, error) {
	params := url.Values{}
	params.Set("search", search)
	params.Set("count", reactionField)
	params.Set("limit", strconv.Itoa(fetchLimit))
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	u := c.baseURL + "/drug/event.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// openFDA answers 404 when nothing matches the search.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if statusErr.Retryable() {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	}

	var payload countResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %v", evidence.ErrMalformedResponse, err))
	}
	for _, rc := range payload.Results {
		if rc.Term == "" || rc.Count < 0 {
			return nil, retry.Permanent(fmt.Errorf("%w: count entry %+v", evidence.ErrMalformedResponse, rc))
		}
	}
	return payload.Results, nil
}

// IsStatus reports whether err carries an openFDA response with the code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
