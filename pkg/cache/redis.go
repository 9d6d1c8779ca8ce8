package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/marketlens/marketlens/pkg/logger"
)

var (
	// ErrMirrorMiss reports an absent key; callers treat it as a plain miss.
	ErrMirrorMiss = errors.New("mirror: key not found")
	// ErrMirrorOpen reports the mirror is being skipped after repeated
	// failures so a dead Redis cannot slow every request down.
	ErrMirrorOpen = errors.New("mirror: circuit open")
)

const (
	mirrorFailureThreshold = 5
	mirrorCooldown         = 30 * time.Second
	mirrorOpTimeout        = 500 * time.Millisecond
)

// RedisMirror mirrors cache entries to a shared Redis so warm data survives
// restarts and is shared across instances. All errors are advisory: the Store
// degrades to in-process-only behavior when the mirror misbehaves.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string

	failureCount int64
	lastFailure  int64 // unix seconds
}

// NewRedisMirror connects to redisURL with pool settings tuned for short
// cache operations.
func NewRedisMirror(redisURL string) (*RedisMirror, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 5
	opt.MaxRetries = 2
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 2 * time.Second
	opt.WriteTimeout = 2 * time.Second
	opt.IdleTimeout = 5 * time.Minute
	return &RedisMirror{rdb: redis.NewClient(opt), prefix: "marketlens:"}, nil
}

// newMirrorWith wraps an existing client; used by tests with redismock.
func newMirrorWith(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb, prefix: "marketlens:"}
}

func (m *RedisMirror) Get(ctx context.Context, key string) ([]byte, error) {
	if m.open() {
		return nil, ErrMirrorOpen
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorOpTimeout)
	defer cancel()
	data, err := m.rdb.Get(ctx, m.prefix+key).Bytes()
	if err == redis.Nil {
		m.observe(nil)
		return nil, ErrMirrorMiss
	}
	m.observe(err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *RedisMirror) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.open() {
		return ErrMirrorOpen
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorOpTimeout)
	defer cancel()
	err := m.rdb.Set(ctx, m.prefix+key, value, ttl).Err()
	m.observe(err)
	return err
}

// DeletePattern removes mirrored keys matching *pattern* via SCAN so a large
// keyspace never blocks Redis the way KEYS would.
func (m *RedisMirror) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if m.open() {
		return 0, ErrMirrorOpen
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	match := m.prefix + "*" + pattern + "*"
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			m.observe(err)
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := m.rdb.Del(ctx, keys...).Result()
			if err != nil {
				m.observe(err)
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	m.observe(nil)
	return deleted, nil
}

// Ping probes the mirror for the health endpoint.
func (m *RedisMirror) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mirrorOpTimeout)
	defer cancel()
	return m.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}

// open reports whether the mirror is in cooldown after repeated failures.
func (m *RedisMirror) open() bool {
	if atomic.LoadInt64(&m.failureCount) < mirrorFailureThreshold {
		return false
	}
	last := atomic.LoadInt64(&m.lastFailure)
	if time.Since(time.Unix(last, 0)) > mirrorCooldown {
		// Cooldown elapsed: let the next operation probe the mirror.
		atomic.StoreInt64(&m.failureCount, 0)
		return false
	}
	return true
}

func (m *RedisMirror) observe(err error) {
	if err == nil {
		atomic.StoreInt64(&m.failureCount, 0)
		return
	}
	atomic.StoreInt64(&m.lastFailure, time.Now().Unix())
	if atomic.AddInt64(&m.failureCount, 1) == mirrorFailureThreshold {
		logger.Log.Warn("cache mirror disabled after repeated failures", zap.Error(err))
	}
}
