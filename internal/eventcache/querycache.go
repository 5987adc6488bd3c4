package eventcache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// cacheEntry is what the LRU stores: the materialized result plus the
// groups it was computed from (for invalidation) and an expiry.
type cacheEntry struct {
	events    []CachedEvent
	groups    []string
	expiresAt time.Time
}

// QueryCache is the LRU of recent query results (C4, §4.6). An L1 tier
// (hashicorp/golang-lru) always backs it; an optional L2 tier (Redis)
// shares results across processes, following the two-tier shape of
// pkg/history/cache.Manager but scoped to this package's CachedEvent type.
type QueryCache struct {
	mu sync.Mutex

	l1 *lru.Cache[string, *cacheEntry]
	ttl time.Duration

	// groupKeys is the reverse index: group_id -> set of cache keys whose
	// result touched that group, so ingest-time invalidation doesn't need
	// to scan every entry (§4.6).
	groupKeys map[string]map[string]struct{}

	l2     *redis.Client
	l2TTL  time.Duration
	l2Gzip bool
	logger *slog.Logger

	hits, misses int64
}

// NewQueryCache creates a query cache per cfg. L2 is only attached if
// cfg.L2 is non-nil.
func NewQueryCache(cfg QueryCacheConfig, logger *slog.Logger) (*QueryCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l1, err := lru.New[string, *cacheEntry](cfg.Size)
	if err != nil {
		return nil, InternalError("query-cache-init", "failed to create LRU", err)
	}
	qc := &QueryCache{
		l1:        l1,
		ttl:       cfg.TTL,
		groupKeys: make(map[string]map[string]struct{}),
		logger:    logger.With("component", "query_cache"),
	}
	if cfg.L2 != nil {
		qc.l2 = redis.NewClient(&redis.Options{
			Addr:     cfg.L2.Addr,
			Password: cfg.L2.Password,
			DB:       cfg.L2.DB,
		})
		qc.l2TTL = cfg.L2.TTL
		qc.l2Gzip = cfg.L2.Compression
	}
	return qc, nil
}

// Get returns the cached result for key if present and not expired.
func (qc *QueryCache) Get(ctx context.Context, key string) ([]CachedEvent, bool) {
	qc.mu.Lock()
	entry, ok := qc.l1.Get(key)
	qc.mu.Unlock()
	if ok {
		if time.Now().After(entry.expiresAt) {
			qc.Invalidate(key)
		} else {
			qc.hits++
			return entry.events, true
		}
	}

	if qc.l2 != nil {
		if events, ok := qc.getL2(ctx, key); ok {
			qc.hits++
			qc.mu.Lock()
			qc.l1.Add(key, &cacheEntry{events: events, expiresAt: time.Now().Add(qc.ttl)})
			qc.mu.Unlock()
			return events, true
		}
	}

	qc.misses++
	return nil, false
}

// Put stores a materialized result under key, recording which groups it
// touched for later invalidation.
func (qc *QueryCache) Put(ctx context.Context, key string, groups []string, events []CachedEvent) {
	if len(events) == 0 {
		return
	}
	qc.mu.Lock()
	qc.l1.Add(key, &cacheEntry{events: events, groups: groups, expiresAt: time.Now().Add(qc.ttl)})
	for _, g := range groups {
		set, ok := qc.groupKeys[g]
		if !ok {
			set = make(map[string]struct{})
			qc.groupKeys[g] = set
		}
		set[key] = struct{}{}
	}
	qc.mu.Unlock()

	if qc.l2 != nil {
		qc.putL2(ctx, key, events)
	}
}

// Invalidate removes a single key.
func (qc *QueryCache) Invalidate(key string) {
	qc.mu.Lock()
	qc.l1.Remove(key)
	qc.mu.Unlock()
	if qc.l2 != nil {
		qc.l2.Del(context.Background(), qc.l2Key(key))
	}
}

// InvalidateGroup removes every cached entry whose result touched
// groupID — called on every ingest (§4.1.2 step 7).
func (qc *QueryCache) InvalidateGroup(groupID string) {
	qc.mu.Lock()
	keys := qc.groupKeys[groupID]
	delete(qc.groupKeys, groupID)
	for k := range keys {
		qc.l1.Remove(k)
	}
	qc.mu.Unlock()

	if qc.l2 != nil {
		for k := range keys {
			qc.l2.Del(context.Background(), qc.l2Key(k))
		}
	}
}

// Stats returns hit/miss counters (hits include L2 hits) and the L1 entry
// count.
func (qc *QueryCache) Stats() (hits, misses int64, size int) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.hits, qc.misses, qc.l1.Len()
}

func (qc *QueryCache) l2Key(key string) string { return "eventcache:q:" + key }

func (qc *QueryCache) getL2(ctx context.Context, key string) ([]CachedEvent, bool) {
	data, err := qc.l2.Get(ctx, qc.l2Key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	if qc.l2Gzip {
		var derr error
		data, derr = gunzip(data)
		if derr != nil {
			qc.logger.Warn("L2 cache decompress failed", "error", derr)
			return nil, false
		}
	}
	var events []CachedEvent
	if err := json.Unmarshal(data, &events); err != nil {
		qc.logger.Warn("L2 cache unmarshal failed", "error", err)
		return nil, false
	}
	return events, true
}

func (qc *QueryCache) putL2(ctx context.Context, key string, events []CachedEvent) {
	data, err := json.Marshal(events)
	if err != nil {
		qc.logger.Warn("L2 cache marshal failed", "error", err)
		return
	}
	if qc.l2Gzip {
		data = gzipBytes(data)
	}
	if err := qc.l2.Set(ctx, qc.l2Key(key), data, qc.l2TTL).Err(); err != nil {
		qc.logger.Warn("L2 cache set failed", "error", err)
	}
}

func gzipBytes(data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
