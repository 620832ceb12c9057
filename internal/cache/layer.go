// Package cache serves context bundles from a versioned store and makes sure
// concurrent requests for the same bundle share one computation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/metrics"
	"github.com/infermed/backend/pkg/fingerprint"
)

// Store holds serialized entries. A miss is (nil, false, nil). Put never
// overwrites: it reports false when an entry already exists.
type Store interface {
	Name() string
	Get(ctx context.Context, key, version string) ([]byte, bool, error)
	Put(ctx context.Context, key, version string, data []byte) (bool, error)
}

// KV is the plain byte cache used for upstream responses.
type KV interface {
	GetRaw(ctx context.Context, key string) ([]byte, bool, error)
	SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Entry is the stored envelope around a bundle.
type Entry struct {
	Key       string          `json:"key"`
	Version   string          `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

type ComputeFunc func(ctx context.Context) (evidence.Bundle, error)

type Layer struct {
	store  Store
	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time
}

func NewLayer(store Store, logger *zap.Logger) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{store: store, logger: logger, now: time.Now}
}

// Origin says how a caller obtained its bundle.
type Origin string

const (
	OriginHit    Origin = "hit"
	OriginMiss   Origin = "miss"
	OriginShared Origin = "shared"
)

type Result struct {
	Bundle evidence.Bundle
	Origin Origin
}

// GetOrCompute returns the bundle stored under (key, version) or computes it.
// Concurrent callers for the same pair wait for a single computation. Each
// caller gets its own decoded copy. Partial bundles are returned but never
// stored.
func (l *Layer) GetOrCompute(ctx context.Context, key, version string, compute ComputeFunc) (evidence.Bundle, error) {
	res, err := l.Fetch(ctx, key, version, compute)
	return res.Bundle, err
}

// Fetch is GetOrCompute that also reports whether the bundle was stored,
// computed by this caller, or computed by a caller it joined.
func (l *Layer) Fetch(ctx context.Context, key, version string, compute ComputeFunc) (Result, error) {
	if payload, ok := l.lookup(ctx, key, version); ok {
		metrics.CacheHits.WithLabelValues(l.store.Name()).Inc()
		b, err := decode(payload)
		return Result{Bundle: b, Origin: OriginHit}, err
	}
	metrics.CacheMisses.WithLabelValues(l.store.Name()).Inc()

	// Set only when this caller leads the flight; read after the channel
	// receive, which orders them.
	leader, computed := false, false
	ch := l.group.DoChan(version+"|"+key, func() (interface{}, error) {
		leader = true
		if payload, ok := l.lookup(ctx, key, version); ok {
			return payload, nil
		}

		computed = true
		bundle, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return l.save(ctx, key, version, bundle)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		origin := OriginShared
		switch {
		case leader && computed:
			origin = OriginMiss
		case leader:
			origin = OriginHit
		default:
			metrics.CacheShared.WithLabelValues(l.store.Name()).Inc()
		}
		b, err := decode(res.Val.([]byte))
		return Result{Bundle: b, Origin: origin}, err
	}
}

// Save stores a bundle computed outside GetOrCompute. Partial bundles and
// keys already present are left alone.
func (l *Layer) Save(ctx context.Context, key, version string, bundle evidence.Bundle) {
	if _, err := l.save(ctx, key, version, bundle); err != nil {
		l.logger.Warn("Failed to save bundle", zap.String("key", key), zap.Error(err))
	}
}

func (l *Layer) save(ctx context.Context, key, version string, bundle evidence.Bundle) ([]byte, error) {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	if bundle.Partial {
		l.logger.Debug("Partial bundle not cached", zap.String("key", key), zap.String("version", version))
		return payload, nil
	}

	l.put(ctx, key, version, payload)
	return payload, nil
}

func (l *Layer) lookup(ctx context.Context, key, version string) ([]byte, bool) {
	data, found, err := l.store.Get(ctx, key, version)
	if err != nil {
		l.logger.Warn("Cache read failed", zap.String("store", l.store.Name()), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Version != version || e.Key != key {
		l.logger.Warn("Ignoring unreadable cache entry", zap.String("key", key), zap.String("version", version))
		return nil, false
	}
	return e.Payload, true
}

func (l *Layer) put(ctx context.Context, key, version string, payload []byte) {
	data, err := json.Marshal(Entry{Key: key, Version: version, CreatedAt: l.now().UTC(), Payload: payload})
	if err != nil {
		l.logger.Warn("Failed to encode cache entry", zap.Error(err))
		return
	}

	stored, err := l.store.Put(ctx, key, version, data)
	if err != nil {
		l.logger.Warn("Cache write failed", zap.String("store", l.store.Name()), zap.Error(err))
		return
	}
	if !stored {
		l.logger.Debug("Cache entry already present", zap.String("key", key), zap.String("version", version))
	}
}

func decode(payload []byte) (evidence.Bundle, error) {
	var b evidence.Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return evidence.Bundle{}, fmt.Errorf("failed to decode bundle: %w", err)
	}
	return b, nil
}

// Key hashes the canonical drug pair, mode and any output-shaping flags.
// Drug order is kept: (a, b) and (b, a) are distinct bundles.
func Key(drugA, drugB, mode string, flags ...string) string {
	return fingerprint.Strings(append([]string{drugA, drugB, mode}, flags...)...)
}

// Version derives a tag from a base version and everything that changes
// bundle content, such as scoring weights and section limits.
func Version(base string, parts ...string) string {
	return base + "-" + fingerprint.Short(parts...)
}
