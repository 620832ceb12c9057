package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteOnceAndVersioned(t *testing.T) {
	s, err := New(8, 0)
	require.NoError(t, err)
	ctx := context.Background()

	stored, err := s.Put(ctx, "k", "v1", []byte("first"))
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = s.Put(ctx, "k", "v1", []byte("second"))
	require.NoError(t, err)
	assert.False(t, stored)

	data, ok, err := s.Get(ctx, "k", "v1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", string(data))

	_, ok, _ = s.Get(ctx, "k", "v2")
	assert.False(t, ok)
}

func TestStore_EvictsBeyondSize(t *testing.T) {
	s, err := New(2, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := s.Put(ctx, k, "v", []byte(k))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Len())
	_, ok, _ := s.Get(ctx, "a", "v")
	assert.False(t, ok)
}

func TestStore_RawExpires(t *testing.T) {
	s, err := New(8, 20*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SetRaw(ctx, "faers:v2:x", []byte("1"), 0))
	_, ok, _ := s.GetRaw(ctx, "faers:v2:x")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok, _ = s.GetRaw(ctx, "faers:v2:x")
	assert.False(t, ok)
}
