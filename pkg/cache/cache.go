package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marketlens/marketlens/pkg/logger"
	"github.com/marketlens/marketlens/pkg/metrics"
)

// Mirror is an optional out-of-process backing store. Mirror failures never
// fail a Store operation: reads degrade to a miss, writes stay local-only.
type Mirror interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

type entry struct {
	data   []byte
	expiry time.Time
}

// Store is a TTL key/value cache backed by an in-process map, optionally
// mirrored to a shared cache for multi-instance deployments. A read past an
// entry's expiry is a miss, indistinguishable from an absent key.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	mirror     Mirror
	sweepEvery time.Duration

	hits   uint64
	misses uint64

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New constructs a Store. mirror may be nil for purely in-process caching.
func New(mirror Mirror, sweepEvery time.Duration) *Store {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	return &Store{
		entries:    make(map[string]entry),
		mirror:     mirror,
		sweepEvery: sweepEvery,
		stop:       make(chan struct{}),
	}
}

// Start launches the background sweep that evicts expired entries. Owned by
// the service lifecycle so tests never leak tickers.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop halts the sweep goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Get loads key into dest and reports whether it was a hit. Expired entries
// are evicted lazily. On a local miss the mirror is consulted; mirror errors
// degrade silently to a miss.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) bool {
	op := opOf(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && time.Now().Before(e.expiry) {
		if err := json.Unmarshal(e.data, dest); err != nil {
			logger.Log.Warn("cache entry decode failed", zap.String("key", key), zap.Error(err))
			s.miss(op)
			return false
		}
		atomic.AddUint64(&s.hits, 1)
		metrics.CacheHits.WithLabelValues(op).Inc()
		return true
	}
	if ok {
		// Lazy eviction of the expired entry.
		s.mu.Lock()
		if cur, still := s.entries[key]; still && !time.Now().Before(cur.expiry) {
			delete(s.entries, key)
			metrics.CacheSize.Set(float64(len(s.entries)))
		}
		s.mu.Unlock()
	}

	if s.mirror != nil {
		data, err := s.mirror.Get(ctx, key)
		if err == nil && data != nil {
			if err := json.Unmarshal(data, dest); err == nil {
				atomic.AddUint64(&s.hits, 1)
				metrics.CacheHits.WithLabelValues(op).Inc()
				return true
			}
		} else if err != nil && err != ErrMirrorMiss {
			metrics.MirrorErrors.WithLabelValues("get").Inc()
			logger.Log.Debug("cache mirror read failed", zap.String("key", key), zap.Error(err))
		}
	}

	s.miss(op)
	return false
}

// Set stores value under key for ttl. Writes are last-write-wins; the mirror
// write is best-effort.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.entries[key] = entry{data: data, expiry: time.Now().Add(ttl)}
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Set(ctx, key, data, ttl); err != nil {
			metrics.MirrorErrors.WithLabelValues("set").Inc()
			logger.Log.Debug("cache mirror write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Invalidate removes every entry whose key contains pattern; an empty pattern
// clears the whole cache. Returns the number of local entries removed.
func (s *Store) Invalidate(ctx context.Context, pattern string) int {
	s.mu.Lock()
	cleared := 0
	for k := range s.entries {
		if pattern == "" || strings.Contains(k, pattern) {
			delete(s.entries, k)
			cleared++
		}
	}
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if s.mirror != nil {
		if _, err := s.mirror.DeletePattern(ctx, pattern); err != nil {
			metrics.MirrorErrors.WithLabelValues("delete").Inc()
			logger.Log.Debug("cache mirror invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
	return cleared
}

// Len reports the number of live local entries, expired included until swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Counters reports lifetime hit/miss counts for the stats endpoint.
func (s *Store) Counters() (hits, misses uint64) {
	return atomic.LoadUint64(&s.hits), atomic.LoadUint64(&s.misses)
}

func (s *Store) miss(op string) {
	atomic.AddUint64(&s.misses, 1)
	metrics.CacheMisses.WithLabelValues(op).Inc()
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	for k, e := range s.entries {
		if !now.Before(e.expiry) {
			delete(s.entries, k)
		}
	}
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()
}

// opOf extracts the operation prefix from a composite cache key ("quote:AAPL"
// -> "quote") for metric labels.
func opOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
