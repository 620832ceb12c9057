package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/infermed/backend/internal/storage/models"
	"github.com/infermed/backend/pkg/logger"
)

// PositiveRating is the lowest rating counted as positive feedback.
const PositiveRating = 0.5

type Client struct {
	db *sql.DB
}

// Open opens a SQLite database with foreign keys and WAL enabled.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

func NewClient(dbPath string) (*Client, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		drug_a TEXT NOT NULL,
		drug_b TEXT NOT NULL,
		mode TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		version TEXT NOT NULL,
		response TEXT,
		caveats INTEGER DEFAULT 0,
		partial INTEGER DEFAULT 0,
		expanded INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_pair ON query_history(drug_a, drug_b);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		items INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS feedback_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT,
		query_fingerprint TEXT NOT NULL,
		rating REAL NOT NULL,
		item_keys TEXT NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_fingerprint ON feedback_log(query_fingerprint);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback_log(created_at);

	CREATE TRIGGER IF NOT EXISTS feedback_log_no_update
	BEFORE UPDATE ON feedback_log
	BEGIN
		SELECT RAISE(ABORT, 'feedback_log is append-only');
	END;
	CREATE TRIGGER IF NOT EXISTS feedback_log_no_delete
	BEFORE DELETE ON feedback_log
	BEGIN
		SELECT RAISE(ABORT, 'feedback_log is append-only');
	END;

	CREATE TABLE IF NOT EXISTS item_reliability (
		item_key TEXT PRIMARY KEY,
		value REAL NOT NULL,
		updates INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO query_history (id, drug_a, drug_b, mode, cache_key, version, response, caveats, partial, expanded, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		record.ID,
		record.DrugA,
		record.DrugB,
		record.Mode,
		record.CacheKey,
		record.Version,
		record.Response,
		record.Caveats,
		record.Partial,
		record.Expanded,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, s := range sources {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO query_sources (query_id, source, outcome, items) VALUES (?, ?, ?, ?)`,
			record.ID, s.Source, s.Outcome, s.Items,
		)
		if err != nil {
			return fmt.Errorf("failed to insert query source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Debug("Query record inserted", zap.String("query_id", record.ID))
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, drug_a, drug_b, mode, cache_key, version, response, caveats, partial, expanded, latency_ms, created_at
		FROM query_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var response sql.NullString
		var createdAt int64

		err := rows.Scan(
			&r.ID, &r.DrugA, &r.DrugB, &r.Mode, &r.CacheKey, &r.Version,
			&response, &r.Caveats, &r.Partial, &r.Expanded, &r.LatencyMS, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query record: %w", err)
		}

		r.Response = response.String
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) GetQuerySources(ctx context.Context, queryID string) ([]models.QuerySource, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, query_id, source, outcome, items FROM query_sources WHERE query_id = ? ORDER BY id`,
		queryID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var out []models.QuerySource
	for rows.Next() {
		var s models.QuerySource
		if err := rows.Scan(&s.ID, &s.QueryID, &s.Source, &s.Outcome, &s.Items); err != nil {
			return nil, fmt.Errorf("failed to scan query source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AppendFeedback appends a feedback record and stores the new reliability
// values in one transaction.
func (c *Client) AppendFeedback(ctx context.Context, record *models.FeedbackRecord, updated []models.ItemReliability) error {
	keys, err := json.Marshal(record.ItemKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal item keys: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO feedback_log (query_id, query_fingerprint, rating, item_keys, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		record.QueryID, record.QueryFingerprint, record.Rating, string(keys), record.Comment, record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}

	for _, r := range updated {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO item_reliability (item_key, value, updates, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(item_key) DO UPDATE SET
				value = excluded.value,
				updates = excluded.updates,
				updated_at = excluded.updated_at
		`, r.Key, r.Value, r.Updates, r.UpdatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to store reliability: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback: %w", err)
	}

	record.ID, _ = res.LastInsertId()
	logger.Debug("Feedback stored", zap.Int64("feedback_id", record.ID), zap.Int("items", len(updated)))
	return nil
}

func (c *Client) LoadReliability(ctx context.Context) ([]models.ItemReliability, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT item_key, value, updates, updated_at FROM item_reliability`)
	if err != nil {
		return nil, fmt.Errorf("failed to load reliability: %w", err)
	}
	defer rows.Close()

	var out []models.ItemReliability
	for rows.Next() {
		var r models.ItemReliability
		var updatedAt int64
		if err := rows.Scan(&r.Key, &r.Value, &r.Updates, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reliability: %w", err)
		}
		r.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *Client) FeedbackCounts(ctx context.Context) (total, positive int, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN rating >= ? THEN 1 ELSE 0 END), 0) FROM feedback_log`,
		PositiveRating,
	).Scan(&total, &positive)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return total, positive, nil
}

func (c *Client) ListFeedback(ctx context.Context, fingerprint string) ([]models.FeedbackRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, COALESCE(query_id, ''), query_fingerprint, rating, item_keys, COALESCE(comment, ''), created_at
		FROM feedback_log WHERE query_fingerprint = ? ORDER BY id
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []models.FeedbackRecord
	for rows.Next() {
		var r models.FeedbackRecord
		var keys string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.QueryID, &r.QueryFingerprint, &r.Rating, &keys, &r.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(keys), &r.ItemKeys); err != nil {
			return nil, fmt.Errorf("failed to decode item keys: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
