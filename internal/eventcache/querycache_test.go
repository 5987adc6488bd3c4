package eventcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestQueryCache_PutGetRoundTrip(t *testing.T) {
	qc, err := NewQueryCache(QueryCacheConfig{Size: 10, TTL: time.Minute}, nil)
	require.NoError(t, err)

	events := []CachedEvent{{ControlName: "c1", TimestampMs: 1}}
	qc.Put(context.Background(), "k1", []string{"g1"}, events)

	got, ok := qc.Get(context.Background(), "k1")
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, "c1", got[0].ControlName)
}

func TestQueryCache_EmptyResultNeverCached(t *testing.T) {
	qc, err := NewQueryCache(QueryCacheConfig{Size: 10, TTL: time.Minute}, nil)
	require.NoError(t, err)

	qc.Put(context.Background(), "k1", []string{"g1"}, nil)
	_, ok := qc.Get(context.Background(), "k1")
	require.False(t, ok, "an empty query result must never be cached (§4.6)")
}

func TestQueryCache_ExpiresAfterTTL(t *testing.T) {
	qc, err := NewQueryCache(QueryCacheConfig{Size: 10, TTL: time.Millisecond}, nil)
	require.NoError(t, err)

	qc.Put(context.Background(), "k1", []string{"g1"}, []CachedEvent{{ControlName: "c1"}})
	time.Sleep(5 * time.Millisecond)

	_, ok := qc.Get(context.Background(), "k1")
	require.False(t, ok, "expired entries must not be returned")
}

func TestQueryCache_InvalidateGroupScopedOnly(t *testing.T) {
	qc, err := NewQueryCache(QueryCacheConfig{Size: 10, TTL: time.Minute}, nil)
	require.NoError(t, err)

	qc.Put(context.Background(), "k-g1", []string{"g1"}, []CachedEvent{{ControlName: "c1"}})
	qc.Put(context.Background(), "k-g2", []string{"g2"}, []CachedEvent{{ControlName: "c2"}})

	qc.InvalidateGroup("g1")

	_, ok1 := qc.Get(context.Background(), "k-g1")
	require.False(t, ok1, "g1's entry must be invalidated")

	_, ok2 := qc.Get(context.Background(), "k-g2")
	require.True(t, ok2, "g2's entry must survive an invalidation scoped to g1")
}

func TestQueryCache_L2RoundTripViaMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)

	qc, err := NewQueryCache(QueryCacheConfig{
		Size: 10,
		TTL:  time.Minute,
		L2: &L2CacheConfig{
			Addr:        mr.Addr(),
			TTL:         time.Minute,
			Compression: true,
		},
	}, nil)
	require.NoError(t, err)

	events := []CachedEvent{{ControlName: "c1", TimestampMs: 7}}
	qc.Put(context.Background(), "k1", []string{"g1"}, events)

	// Evict from L1 directly to force an L2 lookup.
	qc.Invalidate("k1")
	// Re-seed L2 only (Invalidate above also drops L2, so put again and
	// simulate an L1-only eviction by constructing a fresh cache sharing
	// the same Redis backend).
	qc.Put(context.Background(), "k1", []string{"g1"}, events)

	qc2, err := NewQueryCache(QueryCacheConfig{
		Size: 10,
		TTL:  time.Minute,
		L2: &L2CacheConfig{
			Addr:        mr.Addr(),
			TTL:         time.Minute,
			Compression: true,
		},
	}, nil)
	require.NoError(t, err)

	got, ok := qc2.Get(context.Background(), "k1")
	require.True(t, ok, "a fresh L1 (cold) should still hit shared L2")
	require.Len(t, got, 1)
	require.Equal(t, "c1", got[0].ControlName)
}
