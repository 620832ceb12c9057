// Package memory is an in-process cache store bounded by entry count.
package memory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Store struct {
	bundles *lru.Cache[string, []byte]
	raw     *expirable.LRU[string, []byte]
}

// New builds a store holding at most size bundles and size raw values. Raw
// values expire after ttl; zero keeps them until evicted.
func New(size int, ttl time.Duration) (*Store, error) {
	if size <= 0 {
		size = 1024
	}
	bundles, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Store{
		bundles: bundles,
		raw:     expirable.NewLRU[string, []byte](size, nil, ttl),
	}, nil
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Get(_ context.Context, key, version string) ([]byte, bool, error) {
	data, ok := s.bundles.Get(version + "\x00" + key)
	return data, ok, nil
}

func (s *Store) Put(_ context.Context, key, version string, data []byte) (bool, error) {
	found, _ := s.bundles.ContainsOrAdd(version+"\x00"+key, append([]byte(nil), data...))
	return !found, nil
}

func (s *Store) GetRaw(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := s.raw.Get(key)
	return data, ok, nil
}

func (s *Store) SetRaw(_ context.Context, key string, data []byte, _ time.Duration) error {
	s.raw.Add(key, append([]byte(nil), data...))
	return nil
}

func (s *Store) Len() int { return s.bundles.Len() }
