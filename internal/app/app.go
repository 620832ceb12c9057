// Package app wires configuration into a running engine. Both the API
// server and the CLI start from here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/infermed/backend/internal/assembler"
	"github.com/infermed/backend/internal/cache"
	"github.com/infermed/backend/internal/cache/memory"
	"github.com/infermed/backend/internal/cache/redis"
	"github.com/infermed/backend/internal/canonical"
	"github.com/infermed/backend/internal/enrichment"
	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/feedback"
	"github.com/infermed/backend/internal/kg/neo4j"
	"github.com/infermed/backend/internal/llm"
	"github.com/infermed/backend/internal/query"
	"github.com/infermed/backend/internal/retrieval"
	"github.com/infermed/backend/internal/scoring"
	"github.com/infermed/backend/internal/sources/faers"
	"github.com/infermed/backend/internal/sources/graph"
	"github.com/infermed/backend/internal/sources/reference"
	"github.com/infermed/backend/internal/sources/tabular"
	"github.com/infermed/backend/internal/storage/sqlite"
	"github.com/infermed/backend/pkg/config"
)

// CacheStore is a bundle store that also serves raw upstream responses.
type CacheStore interface {
	cache.Store
	cache.KV
}

type App struct {
	Config   *config.Config
	Engine   *query.Engine
	Feedback *feedback.Store
	History  *sqlite.Client
	Cache    CacheStore
	Graph    *neo4j.Client

	closers []func() error
	logger  *zap.Logger
}

type Options struct {
	// SkipGeneration leaves the engine without an LLM client.
	SkipGeneration bool
}

// New opens every configured backend. Optional backends that cannot be
// reached are logged and left out; the query still runs on what remains.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	history, err := openHistory(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	a.History = history
	a.closers = append(a.closers, history.Close)

	store, err := openCache(cfg.Cache, cfg.Redis, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = store
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	fb, err := feedback.New(ctx, history, feedback.ConfigFrom(cfg.Feedback), logger.Named("feedback"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Feedback = fb

	canon, err := loadCanonicalizer(cfg.Canonical.SynonymsFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	regs, err := a.registrations(canon)
	if err != nil {
		a.Close()
		return nil, err
	}

	weights, thresholds := scoring.FromConfig(cfg.Scoring)
	engineOpts := query.Options{
		Canonicalizer: canon,
		Sources:       regs,
		Cache:         cache.NewLayer(store, logger.Named("cache")),
		CacheVersion:  cfg.Cache.Version,
		Retrieval:     retrieval.ConfigFrom(cfg.Retrieval),
		Weights:       weights,
		Thresholds:    thresholds,
		Reliability:   fb,
		Limits:        assembler.Limits(cfg.Sections),
		History:       history,
		Logger:        logger.Named("query"),
	}
	if !opts.SkipGeneration && cfg.LLM.APIKey != "" {
		engineOpts.Generator = llm.NewClient(cfg.LLM)
	}
	a.Engine = query.NewEngine(engineOpts)

	logger.Info("Engine ready",
		zap.Strings("sources", cfg.EnabledSources()),
		zap.String("cache", store.Name()),
		zap.String("version", a.Engine.Version()),
		zap.Bool("generation", engineOpts.Generator != nil),
	)
	return a, nil
}

// Bare returns an App with no backends opened, for tools that need only
// one of them such as the graph loader.
func Bare(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{Config: cfg, logger: logger}
}

func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) registrations(canon *canonical.Canonicalizer) ([]query.Registration, error) {
	cfg := a.Config
	regs := make([]query.Registration, 0, len(cfg.Sources.Order))

	for _, name := range cfg.Sources.Order {
		var sc config.SourceConfig
		switch name {
		case tabular.Name:
			sc = cfg.Sources.Tabular
		case graph.Name:
			sc = cfg.Sources.Graph
		case faers.Name:
			sc = cfg.Sources.FAERS
		case reference.Name:
			sc = cfg.Sources.Reference
		default:
			return nil, fmt.Errorf("unknown source %q in sources.order", name)
		}

		reg := query.Registration{
			Name:    name,
			Timeout: time.Duration(sc.TimeoutSec) * time.Second,
			Enabled: sc.Enabled,
		}
		if sc.Enabled {
			src, err := a.openSource(name, sc, canon)
			if err != nil {
				a.logger.Warn("Source unavailable at startup, disabling", zap.String("source", name), zap.Error(err))
				reg.Enabled = false
			} else {
				reg.Source = src
			}
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (a *App) openSource(name string, sc config.SourceConfig, canon *canonical.Canonicalizer) (evidence.Source, error) {
	cfg := a.Config
	logger := a.logger.Named(name)

	switch name {
	case tabular.Name:
		db, err := OpenDataset(cfg.SQLite.DatasetPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return tabular.New(db, sc, logger), nil

	case reference.Name:
		entries, err := reference.LoadEntries(cfg.Canonical.InteractionsFile)
		if err != nil {
			return nil, err
		}
		return reference.New(entries, canon, sc, logger), nil

	case faers.Name:
		return faers.New(cfg.OpenFDA, sc, logger, faers.WithKV(a.Cache)), nil

	case graph.Name:
		client, err := a.OpenGraph()
		if err != nil {
			return nil, err
		}
		targets, pathways := a.labelers()
		return graph.New(client, targets, pathways, sc, logger), nil
	}
	return nil, fmt.Errorf("unknown source %q", name)
}

// OpenGraph connects to Neo4j once and reuses the client.
func (a *App) OpenGraph() (*neo4j.Client, error) {
	if a.Graph != nil {
		return a.Graph, nil
	}
	nc := a.Config.Neo4j
	client, err := neo4j.NewClient(nc.URI, nc.Username, nc.Password, nc.Database, a.Config.Sources.Graph.Retries)
	if err != nil {
		return nil, err
	}
	a.Graph = client
	a.closers = append(a.closers, func() error { return client.Close(context.Background()) })
	return client, nil
}

func (a *App) labelers() (targets, pathways enrichment.Labeler) {
	ec := a.Config.Enrichment
	if !ec.Enabled {
		return nil, nil
	}
	logger := a.logger.Named("enrichment")
	if r, err := enrichment.NewUniProt(ec, logger); err != nil {
		logger.Warn("UniProt labels disabled", zap.Error(err))
	} else {
		targets = r
	}
	if r, err := enrichment.NewReactome(ec, logger); err != nil {
		logger.Warn("Reactome labels disabled", zap.Error(err))
	} else {
		pathways = r
	}
	return targets, pathways
}

// OpenDataset opens the tabular evidence database, creating its tables.
func OpenDataset(path string) (*sql.DB, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if err := tabular.InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openHistory(path string) (*sqlite.Client, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	client, err := sqlite.NewClient(path)
	if err != nil {
		return nil, err
	}
	if err := client.InitSchema(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func openCache(cc config.CacheConfig, rc config.RedisConfig, logger *zap.Logger) (CacheStore, error) {
	ttl := time.Duration(cc.TTLSec) * time.Second
	switch cc.Backend {
	case "redis":
		return redis.NewClient(rc.Host, rc.Port, rc.Password, rc.DB, ttl)
	case "", "memory":
		return memory.New(cc.Size, ttl)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cc.Backend)
}

func loadCanonicalizer(synonymsFile string) (*canonical.Canonicalizer, error) {
	tables := canonical.DefaultTables()
	if synonymsFile != "" {
		extra, err := canonical.LoadTables(synonymsFile)
		if err != nil {
			return nil, err
		}
		tables = tables.Merge(extra)
	}
	if conflicts := tables.Conflicts(); len(conflicts) > 0 {
		return nil, fmt.Errorf("ambiguous synonyms in %s: %s", synonymsFile, strings.Join(conflicts, "; "))
	}
	return canonical.New(tables), nil
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
