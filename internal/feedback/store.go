// Package feedback turns answer ratings into per-item reliability
// multipliers.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infermed/backend/internal/metrics"
	"github.com/infermed/backend/internal/storage/models"
	"github.com/infermed/backend/pkg/config"
)

var ErrInvalidRating = errors.New("rating must be within [0, 1]")

const neutral = 1.0

// Log persists feedback. The log itself is append-only; reliability rows are
// a materialized view of it.
type Log interface {
	AppendFeedback(ctx context.Context, record *models.FeedbackRecord, updated []models.ItemReliability) error
	LoadReliability(ctx context.Context) ([]models.ItemReliability, error)
	FeedbackCounts(ctx context.Context) (total, positive int, err error)
}

type Config struct {
	Alpha   float64
	Floor   float64
	Ceiling float64
}

func DefaultConfig() Config {
	return Config{Alpha: 0.2, Floor: 0.5, Ceiling: 1.5}
}

func ConfigFrom(c config.FeedbackConfig) Config {
	return Config{Alpha: c.Alpha, Floor: c.Floor, Ceiling: c.Ceiling}
}

type Store struct {
	cfg    Config
	log    Log
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	items    map[string]models.ItemReliability
	total    int
	positive int
}

// New loads persisted reliabilities. A nil log keeps everything in memory.
func New(ctx context.Context, log Log, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Floor > cfg.Ceiling || cfg.Floor <= 0 {
		return nil, fmt.Errorf("invalid reliability bounds [%v, %v]", cfg.Floor, cfg.Ceiling)
	}
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("invalid smoothing factor %v", cfg.Alpha)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		cfg:    cfg,
		log:    log,
		logger: logger,
		now:    time.Now,
		items:  make(map[string]models.ItemReliability),
	}

	if log != nil {
		rows, err := log.LoadReliability(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			r.Value = s.clamp(r.Value)
			s.items[r.Key] = r
		}
		logger.Info("Reliability loaded", zap.Int("items", len(rows)))
	}

	return s, nil
}

// ReliabilityOf returns the multiplier for an item, 1.0 when never rated.
func (s *Store) ReliabilityOf(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.items[key]; ok {
		return r.Value
	}
	return neutral
}

// Record appends a rating and moves every implicated item's reliability
// toward the rating, mapped onto [floor, ceiling].
func (s *Store) Record(ctx context.Context, rec models.FeedbackRecord) (map[string]float64, error) {
	if math.IsNaN(rec.Rating) || rec.Rating < 0 || rec.Rating > 1 {
		return nil, ErrInvalidRating
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	rec.ItemKeys = dedupe(rec.ItemKeys)

	target := s.cfg.Floor + rec.Rating*(s.cfg.Ceiling-s.cfg.Floor)

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]models.ItemReliability, 0, len(rec.ItemKeys))
	for _, key := range rec.ItemKeys {
		prev, ok := s.items[key]
		if !ok {
			prev = models.ItemReliability{Key: key, Value: neutral}
		}
		next := s.clamp(s.cfg.Alpha*target + (1-s.cfg.Alpha)*prev.Value)
		updated = append(updated, models.ItemReliability{
			Key:       key,
			Value:     next,
			Updates:   prev.Updates + 1,
			UpdatedAt: rec.CreatedAt,
		})
	}

	if s.log != nil {
		if err := s.log.AppendFeedback(ctx, &rec, updated); err != nil {
			return nil, err
		}
	}

	out := make(map[string]float64, len(updated))
	for _, r := range updated {
		s.items[r.Key] = r
		out[r.Key] = r.Value
	}
	s.total++
	polarity := "negative"
	if rec.Rating >= 0.5 {
		s.positive++
		polarity = "positive"
	}
	metrics.FeedbackRecorded.WithLabelValues(polarity).Inc()

	s.logger.Info("Feedback recorded",
		zap.String("query", rec.QueryFingerprint),
		zap.Float64("rating", rec.Rating),
		zap.Int("items", len(updated)),
	)
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (models.FeedbackStats, error) {
	s.mu.RLock()
	total, positive, tracked := s.total, s.positive, len(s.items)
	s.mu.RUnlock()

	if s.log != nil {
		var err error
		total, positive, err = s.log.FeedbackCounts(ctx)
		if err != nil {
			return models.FeedbackStats{}, err
		}
	}

	st := models.FeedbackStats{
		Total:        total,
		Positive:     positive,
		Negative:     total - positive,
		TrackedItems: tracked,
	}
	if total > 0 {
		st.PositiveRatio = float64(positive) / float64(total)
	}
	return st, nil
}

func (s *Store) clamp(v float64) float64 {
	return math.Max(s.cfg.Floor, math.Min(s.cfg.Ceiling, v))
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
