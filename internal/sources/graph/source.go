// Package graph serves enzyme roles, targets and pathways from the drug
// knowledge graph.
package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/infermed/backend/internal/enrichment"
	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/kg/neo4j"
	"github.com/infermed/backend/internal/sources"
	"github.com/infermed/backend/pkg/config"
)

const Name = "graph"

// Querier is the read side of the graph client.
type Querier interface {
	DrugProfile(ctx context.Context, names []string, limit int) (neo4j.Profile, error)
}

type Source struct {
	graph     Querier
	targets   enrichment.Labeler
	pathways  enrichment.Labeler
	enriched  bool
	baseLimit int
	logger    *zap.Logger
}

// New builds the adapter. Nil labelers leave ids unlabelled unless the graph
// stores a name.
func New(graph Querier, targets, pathways enrichment.Labeler, cfg config.SourceConfig, logger *zap.Logger) *Source {
	enriched := targets != nil || pathways != nil
	if targets == nil {
		targets = enrichment.Identity
	}
	if pathways == nil {
		pathways = enrichment.Identity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		graph:     graph,
		targets:   targets,
		pathways:  pathways,
		enriched:  enriched,
		baseLimit: cfg.BaseLimit,
		logger:    logger.Named(Name),
	}
}

func (s *Source) Name() string { return Name }

func roleOf(rel string) (evidence.EnzymeRole, bool) {
	switch strings.ToUpper(rel) {
	case neo4j.RelMetabolizedBy:
		return evidence.RoleSubstrate, true
	case neo4j.RelInhibits:
		return evidence.RoleInhibitor, true
	case neo4j.RelInduces:
		return evidence.RoleInducer, true
	}
	return "", false
}

// Fetch reads both drugs' profiles concurrently. The graph client retries
// and trips its own breaker.
func (s *Source) Fetch(ctx context.Context, q evidence.QueryContext, depth int) (evidence.Result, error) {
	limit := sources.Limit(s.baseLimit, depth)

	var profileA, profileB neo4j.Profile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profileA, err = s.graph.DrugProfile(gctx, append([]string{q.DrugA}, q.ExpandedA...), limit)
		return err
	})
	g.Go(func() error {
		var err error
		profileB, err = s.graph.DrugProfile(gctx, append([]string{q.DrugB}, q.ExpandedB...), limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return evidence.Result{}, fmt.Errorf("%w: %s: %w", evidence.ErrSourceUnavailable, Name, err)
	}

	var res evidence.Result
	missing := 0
	for _, side := range []struct {
		side    evidence.Side
		profile neo4j.Profile
	}{
		{evidence.SideA, profileA},
		{evidence.SideB, profileB},
	} {
		items, skipped, unresolved := s.items(ctx, side.side, side.profile)
		res.Items = append(res.Items, items...)
		if skipped > 0 {
			s.logger.Warn("Skipped unknown enzyme relationships", zap.String("side", string(side.side)), zap.Int("count", skipped))
		}
		missing += unresolved
	}

	// Identifiers standing in for labels must not outlive the enrichment
	// outage in the bundle cache.
	if missing > 0 {
		res.Degraded = true
		res.Caveats = append(res.Caveats, fmt.Sprintf("%s: %d target or pathway labels unresolved, identifiers shown", Name, missing))
	}

	s.logger.Debug("Graph evidence fetched",
		zap.String("drug_a", q.DrugA),
		zap.String("drug_b", q.DrugB),
		zap.Int("items", len(res.Items)))

	return res, nil
}

func (s *Source) items(ctx context.Context, side evidence.Side, p neo4j.Profile) ([]evidence.Item, int, int) {
	var out []evidence.Item
	skipped, unresolved := 0, 0

	for _, e := range p.Enzymes {
		role, ok := roleOf(e.Relationship)
		name := strings.ToLower(strings.TrimSpace(e.Enzyme))
		if !ok || name == "" {
			skipped++
			continue
		}
		enzyme := evidence.Enzyme{Enzyme: name, Role: role}
		out = append(out, evidence.New(Name, side, name+":"+string(role), 0, enzyme))
	}

	for _, t := range p.Targets {
		label := t.Name
		if label == "" {
			label = s.targets.Label(ctx, t.ID)
			if s.enriched && label == t.ID {
				unresolved++
			}
		}
		out = append(out, evidence.New(Name, side, t.ID, 0, evidence.Target{ID: t.ID, Label: label}))
	}

	for _, pw := range p.Pathways {
		label := pw.Name
		if label == "" {
			label = s.pathways.Label(ctx, pw.ID)
			if s.enriched && label == pw.ID {
				unresolved++
			}
		}
		out = append(out, evidence.New(Name, side, pw.ID, 0, evidence.Pathway{ID: pw.ID, Label: label}))
	}

	return out, skipped, unresolved
}
