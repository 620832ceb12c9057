// Package reference serves curated canonical interactions from a YAML table.
package reference

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/infermed/backend/internal/canonical"
	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/sources"
	"github.com/infermed/backend/pkg/config"
)

const Name = "reference"

// Entry is one curated interaction as written in the YAML file.
type Entry struct {
	Drugs       []string `yaml:"drugs"`
	Severity    string   `yaml:"severity"`
	Description string   `yaml:"description"`
	Reference   string   `yaml:"reference"`
}

type file struct {
	Interactions []Entry `yaml:"interactions"`
}

// LoadEntries reads the interaction table. A missing path yields no entries.
func LoadEntries(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read interaction table: %w", err)
	}
	return ParseEntries(data)
}

func ParseEntries(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse interaction table: %w", err)
	}
	for i, e := range f.Interactions {
		if len(e.Drugs) != 2 {
			return nil, fmt.Errorf("interaction %d: want 2 drugs, got %d", i, len(e.Drugs))
		}
		if strings.TrimSpace(e.Description) == "" {
			return nil, fmt.Errorf("interaction %d: empty description", i)
		}
	}
	return f.Interactions, nil
}

type Source struct {
	canon     *canonical.Canonicalizer
	index     map[string][]evidence.CanonicalInteraction
	guard     *sources.Guard
	baseLimit int
	logger    *zap.Logger
}

func New(entries []Entry, canon *canonical.Canonicalizer, cfg config.SourceConfig, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{
		canon:     canon,
		index:     make(map[string][]evidence.CanonicalInteraction),
		guard:     sources.FromConfig(Name, cfg, logger),
		baseLimit: cfg.BaseLimit,
		logger:    logger.Named(Name),
	}
	for _, e := range entries {
		key := s.pairKey(e.Drugs[0], e.Drugs[1])
		s.index[key] = append(s.index[key], evidence.CanonicalInteraction{
			Severity:    strings.ToLower(strings.TrimSpace(e.Severity)),
			Description: strings.TrimSpace(e.Description),
			Reference:   strings.TrimSpace(e.Reference),
		})
	}
	return s
}

func (s *Source) Name() string { return Name }

// pairKey is order-independent: both drugs are canonicalized and sorted.
func (s *Source) pairKey(a, b string) string {
	pair := []string{s.canon.Canonicalize(a, canonical.Drug), s.canon.Canonicalize(b, canonical.Drug)}
	sort.Strings(pair)
	return pair[0] + "+" + pair[1]
}

func (s *Source) Fetch(ctx context.Context, q evidence.QueryContext, depth int) (evidence.Result, error) {
	var items []evidence.Item
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := s.pairKey(q.DrugA, q.DrugB)
		found := s.index[key]
		if limit := sources.Limit(s.baseLimit, depth); len(found) > limit {
			found = found[:limit]
		}
		items = make([]evidence.Item, 0, len(found))
		for i, ci := range found {
			name := key
			if i > 0 {
				name = fmt.Sprintf("%s#%d", key, i+1)
			}
			items = append(items, evidence.New(Name, evidence.SidePair, name, 0, ci))
		}
		return nil
	})
	if err != nil {
		return evidence.Result{}, fmt.Errorf("%w: %s: %w", evidence.ErrSourceUnavailable, Name, err)
	}

	s.logger.Debug("Reference lookup", zap.String("drug_a", q.DrugA), zap.String("drug_b", q.DrugB), zap.Int("items", len(items)))
	return evidence.Result{Items: items}, nil
}

func (s *Source) Len() int {
	n := 0
	for _, v := range s.index {
		n += len(v)
	}
	return n
}
