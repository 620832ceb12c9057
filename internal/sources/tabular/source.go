// Package tabular serves side effects, risk ranks and targets from the
// SQLite evidence dataset.
package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/sources"
	"github.com/infermed/backend/pkg/config"
)

const Name = "tabular"

// MinPRR drops weak side-effect signals at query time.
const MinPRR = 1.0

type Source struct {
	db        *sql.DB
	guard     *sources.Guard
	baseLimit int
	logger    *zap.Logger
}

func New(db *sql.DB, cfg config.SourceConfig, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		db:        db,
		guard:     sources.FromConfig(Name, cfg, logger),
		baseLimit: cfg.BaseLimit,
		logger:    logger.Named(Name),
	}
}

func (s *Source) Name() string { return Name }

// InitSchema creates the dataset tables. Loading rows is left to the
// dataset build.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS side_effects (
		drug_a TEXT NOT NULL,
		drug_b TEXT NOT NULL,
		side_effect TEXT NOT NULL,
		prr REAL
	);
	CREATE INDEX IF NOT EXISTS idx_side_effects_a ON side_effects(drug_a);
	CREATE INDEX IF NOT EXISTS idx_side_effects_b ON side_effects(drug_b);

	CREATE TABLE IF NOT EXISTS interaction_prr (
		drug_a TEXT NOT NULL,
		drug_b TEXT NOT NULL,
		prr REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interaction_prr ON interaction_prr(drug_a, drug_b);

	CREATE TABLE IF NOT EXISTS dili_rank (
		drug_name TEXT PRIMARY KEY,
		score REAL
	);

	CREATE TABLE IF NOT EXISTS dict_rank (
		drug_name TEXT PRIMARY KEY,
		score REAL
	);

	CREATE TABLE IF NOT EXISTS diqt_score (
		drug_name TEXT PRIMARY KEY,
		score REAL
	);

	CREATE TABLE IF NOT EXISTS drug_targets (
		drug_name TEXT NOT NULL,
		target TEXT NOT NULL,
		PRIMARY KEY (drug_name, target)
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create dataset schema: %w", err)
	}
	return nil
}

// Fetch runs every dataset lookup for the pair. Any query error fails the
// whole call; an empty dataset is a normal empty result.
func (s *Source) Fetch(ctx context.Context, q evidence.QueryContext, depth int) (evidence.Result, error) {
	limit := sources.Limit(s.baseLimit, depth)
	namesA := names(q.DrugA, q.ExpandedA)
	namesB := names(q.DrugB, q.ExpandedB)

	var items []evidence.Item
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		items = items[:0]
		for _, side := range []struct {
			side  evidence.Side
			drug  string
			names []string
		}{
			{evidence.SideA, q.DrugA, namesA},
			{evidence.SideB, q.DrugB, namesB},
		} {
			effects, err := s.sideEffects(ctx, side.names, limit)
			if err != nil {
				return err
			}
			for _, e := range effects {
				items = append(items, evidence.New(Name, side.side, e.Term, e.PRR, e))
			}

			flags, err := s.riskFlags(ctx, side.names)
			if err != nil {
				return err
			}
			for _, f := range flags {
				items = append(items, evidence.New(Name, side.side, f.Flag+":"+side.drug, f.Value, f))
			}

			targets, err := s.targets(ctx, side.names, limit)
			if err != nil {
				return err
			}
			for _, t := range targets {
				items = append(items, evidence.New(Name, side.side, t.ID, 0, t))
			}
		}

		pair, err := s.pairSideEffects(ctx, namesA, namesB, limit)
		if err != nil {
			return err
		}
		for _, e := range pair {
			items = append(items, evidence.New(Name, evidence.SidePair, e.Term, e.PRR, e))
		}

		prr, err := s.pairPRR(ctx, namesA, namesB)
		if err != nil {
			return err
		}
		if prr > 0 {
			flag := evidence.RiskFlag{Flag: evidence.FlagPRR, Value: prr}
			items = append(items, evidence.New(Name, evidence.SidePair, evidence.FlagPRR+":"+q.DrugA+"+"+q.DrugB, prr, flag))
		}
		return nil
	})
	if err != nil {
		return evidence.Result{}, fmt.Errorf("%w: %s: %w", evidence.ErrSourceUnavailable, Name, err)
	}

	s.logger.Debug("Tabular evidence fetched",
		zap.String("drug_a", q.DrugA),
		zap.String("drug_b", q.DrugB),
		zap.Int("depth", depth),
		zap.Int("items", len(items)))

	return evidence.Result{Items: items}, nil
}

func names(drug string, expanded []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range append([]string{drug}, expanded...) {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(groups ...[]string) []any {
	var out []any
	for _, g := range groups {
		for _, v := range g {
			out = append(out, v)
		}
	}
	return out
}

func (s *Source) sideEffects(ctx context.Context, drugs []string, limit int) ([]evidence.SideEffect, error) {
	in := placeholders(len(drugs))
	query := fmt.Sprintf(`
		SELECT LOWER(side_effect) AS term, MAX(prr)
		FROM side_effects
		WHERE (drug_a IN (%s) OR drug_b IN (%s))
		  AND (prr IS NULL OR prr >= ?)
		GROUP BY term
		ORDER BY COALESCE(MAX(prr), 0) DESC, term
		LIMIT ?
	`, in, in)

	a := append(args(drugs, drugs), MinPRR, limit)
	return s.querySideEffects(ctx, query, a)
}

func (s *Source) pairSideEffects(ctx context.Context, namesA, namesB []string, limit int) ([]evidence.SideEffect, error) {
	inA, inB := placeholders(len(namesA)), placeholders(len(namesB))
	query := fmt.Sprintf(`
		SELECT LOWER(side_effect) AS term, MAX(prr)
		FROM side_effects
		WHERE ((drug_a IN (%s) AND drug_b IN (%s)) OR (drug_a IN (%s) AND drug_b IN (%s)))
		  AND (prr IS NULL OR prr >= ?)
		GROUP BY term
		ORDER BY COALESCE(MAX(prr), 0) DESC, term
		LIMIT ?
	`, inA, inB, inB, inA)

	a := append(args(namesA, namesB, namesB, namesA), MinPRR, limit)
	return s.querySideEffects(ctx, query, a)
}

func (s *Source) querySideEffects(ctx context.Context, query string, a []any) ([]evidence.SideEffect, error) {
	rows, err := s.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query side effects: %w", err)
	}
	defer rows.Close()

	var out []evidence.SideEffect
	for rows.Next() {
		var term string
		var prr sql.NullFloat64
		if err := rows.Scan(&term, &prr); err != nil {
			return nil, fmt.Errorf("failed to scan side effect: %w", err)
		}
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		out = append(out, evidence.SideEffect{Term: term, PRR: prr.Float64})
	}
	return out, rows.Err()
}

func (s *Source) pairPRR(ctx context.Context, namesA, namesB []string) (float64, error) {
	inA, inB := placeholders(len(namesA)), placeholders(len(namesB))
	query := fmt.Sprintf(`
		SELECT MAX(prr)
		FROM interaction_prr
		WHERE (drug_a IN (%s) AND drug_b IN (%s)) OR (drug_a IN (%s) AND drug_b IN (%s))
	`, inA, inB, inB, inA)

	var prr sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, args(namesA, namesB, namesB, namesA)...).Scan(&prr)
	if err != nil {
		return 0, fmt.Errorf("failed to query interaction prr: %w", err)
	}
	return prr.Float64, nil
}

func (s *Source) riskFlags(ctx context.Context, drugs []string) ([]evidence.RiskFlag, error) {
	var out []evidence.RiskFlag

	for _, table := range []struct {
		flag  string
		table string
	}{
		{evidence.FlagDILI, "dili_rank"},
		{evidence.FlagDICT, "dict_rank"},
		{evidence.FlagDIQT, "diqt_score"},
	} {
		score, ok, err := s.rankScore(ctx, table.table, drugs)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		flag := evidence.RiskFlag{Flag: table.flag, Value: score}
		switch table.flag {
		case evidence.FlagDILI:
			flag.Level = DILILevel(score)
		case evidence.FlagDICT:
			flag.Level = DICTLevel(score)
		}
		out = append(out, flag)
	}
	return out, nil
}

// rankScore takes the highest score among the drug's names.
func (s *Source) rankScore(ctx context.Context, table string, drugs []string) (float64, bool, error) {
	query := fmt.Sprintf(`SELECT MAX(score) FROM %s WHERE drug_name IN (%s)`, table, placeholders(len(drugs)))

	var score sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args(drugs)...).Scan(&score); err != nil {
		return 0, false, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return score.Float64, score.Valid, nil
}

func (s *Source) targets(ctx context.Context, drugs []string, limit int) ([]evidence.Target, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT target
		FROM drug_targets
		WHERE drug_name IN (%s)
		ORDER BY target
		LIMIT ?
	`, placeholders(len(drugs)))

	rows, err := s.db.QueryContext(ctx, query, append(args(drugs), limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var out []evidence.Target
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, evidence.Target{ID: id})
	}
	return out, rows.Err()
}

// DILILevel buckets a DILIrank score.
func DILILevel(score float64) string {
	switch {
	case score >= 0.7:
		return "high"
	case score >= 0.4:
		return "medium"
	}
	return "low"
}

// DICTLevel buckets a DICTrank score.
func DICTLevel(score float64) string {
	switch {
	case score >= 0.7:
		return "severe"
	case score >= 0.4:
		return "moderate"
	case score >= 0.1:
		return "mild"
	}
	return "low"
}
