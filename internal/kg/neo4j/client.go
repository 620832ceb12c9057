package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/infermed/backend/pkg/circuitbreaker"
	"github.com/infermed/backend/pkg/logger"
	"github.com/infermed/backend/pkg/retry"
)

// Relationship types between a drug and an enzyme.
const (
	RelMetabolizedBy = "METABOLIZED_BY"
	RelInhibits      = "INHIBITS"
	RelInduces       = "INDUCES"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// EnzymeAction is one drug-enzyme edge.
type EnzymeAction struct {
	Enzyme       string `yaml:"enzyme"`
	Relationship string `yaml:"relationship"`
}

type Node struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Profile is everything the graph knows about a set of drug names.
type Profile struct {
	Enzymes  []EnzymeAction `yaml:"enzymes"`
	Targets  []Node         `yaml:"targets"`
	Pathways []Node         `yaml:"pathways"`
}

func NewClient(uri, username, password, database string, attempts int) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	if attempts <= 0 {
		attempts = 1
	}
	retryConfig := retry.Config{
		MaxAttempts:    attempts,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// executeWithRetry runs operation in a fresh session. The caller's context
// bounds the whole call, retries included.
func (c *Client) executeWithRetry(ctx context.Context, mode neo4j.AccessMode, operation func(neo4j.SessionWithContext) error) error {
	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: mode})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

func lowerAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func stringValue(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// DrugProfile reads enzyme edges, targets and pathways for any of names.
// Each list is capped at limit.
func (c *Client) DrugProfile(ctx context.Context, names []string, limit int) (Profile, error) {
	var profile Profile
	params := map[string]any{
		"names": lowerAll(names),
		"limit": limit,
	}

	err := c.executeWithRetry(ctx, neo4j.AccessModeRead, func(session neo4j.SessionWithContext) error {
		profile = Profile{}

		result, err := session.Run(ctx, `
			MATCH (d:Drug)-[r:METABOLIZED_BY|INHIBITS|INDUCES]->(e:Enzyme)
			WHERE d.name IN $names
			RETURN DISTINCT e.name AS enzyme, type(r) AS rel
			ORDER BY enzyme, rel
			LIMIT $limit
		`, params)
		if err != nil {
			return fmt.Errorf("failed to query enzymes: %w", err)
		}
		for result.Next(ctx) {
			record := result.Record()
			profile.Enzymes = append(profile.Enzymes, EnzymeAction{
				Enzyme:       stringValue(record, "enzyme"),
				Relationship: stringValue(record, "rel"),
			})
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating enzymes: %w", err)
		}

		profile.Targets, err = c.nodes(ctx, session, `
			MATCH (d:Drug)-[:TARGETS]->(p:Protein)
			WHERE d.name IN $names
			RETURN DISTINCT p.id AS id, p.name AS name
			ORDER BY id
			LIMIT $limit
		`, params)
		if err != nil {
			return fmt.Errorf("failed to query targets: %w", err)
		}

		profile.Pathways, err = c.nodes(ctx, session, `
			MATCH (d:Drug)-[:TARGETS]->(:Protein)-[:PARTICIPATES_IN]->(pw:Pathway)
			WHERE d.name IN $names
			RETURN DISTINCT pw.id AS id, pw.name AS name
			ORDER BY id
			LIMIT $limit
		`, params)
		if err != nil {
			return fmt.Errorf("failed to query pathways: %w", err)
		}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}

	logger.Debug("Graph profile loaded",
		zap.Strings("names", names),
		zap.Int("enzymes", len(profile.Enzymes)),
		zap.Int("targets", len(profile.Targets)),
		zap.Int("pathways", len(profile.Pathways)),
	)

	return profile, nil
}

func (c *Client) nodes(ctx context.Context, session neo4j.SessionWithContext, query string, params map[string]any) ([]Node, error) {
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	var out []Node
	for result.Next(ctx) {
		record := result.Record()
		node := Node{ID: stringValue(record, "id"), Name: stringValue(record, "name")}
		if node.ID != "" {
			out = append(out, node)
		}
	}
	return out, result.Err()
}

// LoadProfile merges a drug and its edges into the graph. Loading the same
// profile twice leaves the graph unchanged.
func (c *Client) LoadProfile(ctx context.Context, drug string, profile Profile) error {
	drug = strings.ToLower(strings.TrimSpace(drug))
	if drug == "" {
		return fmt.Errorf("drug name is required")
	}

	err := c.executeWithRetry(ctx, neo4j.AccessModeWrite, func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			if _, err := tx.Run(ctx, `MERGE (d:Drug {name: $drug})`, map[string]any{"drug": drug}); err != nil {
				return nil, err
			}

			for _, e := range profile.Enzymes {
				rel := strings.ToUpper(e.Relationship)
				switch rel {
				case RelMetabolizedBy, RelInhibits, RelInduces:
				default:
					return nil, retry.Permanent(fmt.Errorf("unknown enzyme relationship %q", e.Relationship))
				}
				// Relationship types cannot be parameters; rel is from the fixed set above.
				query := fmt.Sprintf(`
					MATCH (d:Drug {name: $drug})
					MERGE (e:Enzyme {name: $enzyme})
					MERGE (d)-[:%s]->(e)
				`, rel)
				if _, err := tx.Run(ctx, query, map[string]any{"drug": drug, "enzyme": strings.ToLower(e.Enzyme)}); err != nil {
					return nil, err
				}
			}

			for _, t := range profile.Targets {
				_, err := tx.Run(ctx, `
					MATCH (d:Drug {name: $drug})
					MERGE (p:Protein {id: $id})
					SET p.name = coalesce($name, p.name)
					MERGE (d)-[:TARGETS]->(p)
				`, map[string]any{"drug": drug, "id": t.ID, "name": nullable(t.Name)})
				if err != nil {
					return nil, err
				}
			}

			// Pathways attach to every target of the drug.
			for _, pw := range profile.Pathways {
				_, err := tx.Run(ctx, `
					MERGE (pw:Pathway {id: $id})
					SET pw.name = coalesce($name, pw.name)
					WITH pw
					MATCH (:Drug {name: $drug})-[:TARGETS]->(p:Protein)
					MERGE (p)-[:PARTICIPATES_IN]->(pw)
				`, map[string]any{"drug": drug, "id": pw.ID, "name": nullable(pw.Name)})
				if err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load profile for %s: %w", drug, err)
	}

	logger.Info("Drug profile loaded into graph",
		zap.String("drug", drug),
		zap.Int("enzymes", len(profile.Enzymes)),
		zap.Int("targets", len(profile.Targets)),
		zap.Int("pathways", len(profile.Pathways)),
	)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
