package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/logger"
	"github.com/marketlens/marketlens/pkg/metrics"
)

// Config bounds one provider's outbound call rate.
type Config struct {
	// Quota is the number of calls allowed per Window.
	Quota  int
	Window time.Duration
	// QueueDepth bounds waiting requests; further admissions are rejected.
	QueueDepth int
	// DrainInterval is the cadence of the background drain ticker. Zero
	// derives Window/Quota so the drain rate never exceeds the quota rate.
	DrainInterval time.Duration
}

type queued struct {
	ctx      context.Context
	op       func(context.Context) error
	done     chan error // buffered so a canceled waiter never blocks the drain
	enqueued time.Time
}

type providerState struct {
	name  string
	cfg   Config
	queue chan *queued

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// allow consumes one slot of the current window, rolling the window forward
// when it has elapsed. The mutex keeps concurrent snapshot reads from racing
// the drain goroutine's increments.
func (p *providerState) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.Sub(p.windowStart) >= p.cfg.Window {
		p.windowStart = now
		p.count = 0
	}
	if p.count >= p.cfg.Quota {
		return false
	}
	p.count++
	return true
}

// usage snapshots the current window for the stats endpoint.
func (p *providerState) usage() (used, quota int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.windowStart) >= p.cfg.Window {
		return 0, p.cfg.Quota
	}
	return p.count, p.cfg.Quota
}

// Limiter serializes outbound calls per provider through a bounded FIFO queue
// drained by one background goroutine per provider, so the aggregate call
// rate never exceeds that provider's quota.
type Limiter struct {
	mu        sync.RWMutex
	providers map[string]*providerState

	rejected uint64
	stopped  int32

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func New() *Limiter {
	return &Limiter{
		providers: make(map[string]*providerState),
		stop:      make(chan struct{}),
	}
}

// Register adds a provider before Start. Unknown providers cannot be admitted.
func (l *Limiter) Register(name string, cfg Config) {
	if cfg.Quota <= 0 {
		cfg.Quota = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1000
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = cfg.Window / time.Duration(cfg.Quota)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.providers[name] = &providerState{
		name:  name,
		cfg:   cfg,
		queue: make(chan *queued, cfg.QueueDepth),
	}
}

// Start launches one drain goroutine per registered provider.
func (l *Limiter) Start() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.providers {
		l.wg.Add(1)
		go l.drain(p)
	}
}

// Stop halts draining and rejects everything still queued.
func (l *Limiter) Stop() {
	atomic.StoreInt32(&l.stopped, 1)
	l.once.Do(func() { close(l.stop) })
	l.wg.Wait()
}

// Admit enqueues op for provider and blocks until it has executed or ctx is
// done. Requests are serviced strictly FIFO within a provider. A full queue
// rejects immediately with a rate-limited error.
func (l *Limiter) Admit(ctx context.Context, provider string, op func(context.Context) error) error {
	if atomic.LoadInt32(&l.stopped) == 1 {
		return errs.Unavailable("rate limiter is shut down", nil)
	}
	l.mu.RLock()
	p := l.providers[provider]
	l.mu.RUnlock()
	if p == nil {
		return errs.Unavailable("unknown provider "+provider, nil)
	}

	q := &queued{ctx: ctx, op: op, done: make(chan error, 1), enqueued: time.Now()}
	select {
	case p.queue <- q:
		metrics.QueueDepth.WithLabelValues(provider).Set(float64(len(p.queue)))
	default:
		atomic.AddUint64(&l.rejected, 1)
		metrics.RateLimitRejections.WithLabelValues(provider).Inc()
		return errs.RateLimited("request queue for %s is full", provider)
	}

	select {
	case err := <-q.done:
		return err
	case <-ctx.Done():
		// The drain goroutine notices the dead context and skips the op.
		return errs.Timeout("request canceled while queued", ctx.Err())
	case <-l.stop:
		// Stop may have won the race and flushed the queue before this
		// request landed in it; never wait on a drain goroutine that has
		// already exited.
		select {
		case err := <-q.done:
			return err
		default:
			return errs.Unavailable("rate limiter shutting down", nil)
		}
	}
}

// Depth reports queued requests across all providers.
func (l *Limiter) Depth() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, p := range l.providers {
		total += len(p.queue)
	}
	return total
}

// Rejected reports lifetime queue-full rejections.
func (l *Limiter) Rejected() uint64 {
	return atomic.LoadUint64(&l.rejected)
}

// Usage reports the current window consumption per provider.
func (l *Limiter) Usage() map[string]map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]map[string]int, len(l.providers))
	for name, p := range l.providers {
		used, quota := p.usage()
		out[name] = map[string]int{"used": used, "quota": quota, "queued": len(p.queue)}
	}
	return out
}

// drain services one provider's queue. Each tick admits at most one request;
// when the window is exhausted the head request waits, preserving FIFO order.
// A failed op never blocks the requests behind it.
func (l *Limiter) drain(p *providerState) {
	defer l.wg.Done()
	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	var head *queued
	for {
		select {
		case <-l.stop:
			if head != nil {
				head.done <- errs.Unavailable("rate limiter shutting down", nil)
			}
			l.flush(p)
			return
		case <-ticker.C:
			if head == nil {
				select {
				case head = <-p.queue:
					metrics.QueueDepth.WithLabelValues(p.name).Set(float64(len(p.queue)))
				default:
					continue
				}
			}
			if head.ctx.Err() != nil {
				// Caller already gave up; don't burn quota on it.
				head = nil
				continue
			}
			if !p.allow() {
				continue
			}
			q := head
			head = nil
			if wait := time.Since(q.enqueued); wait > p.cfg.Window {
				logger.Log.Debug("request waited past one full window",
					zap.String("provider", p.name), zap.Duration("wait", wait))
			}
			q.done <- q.op(q.ctx)
		}
	}
}

// flush rejects everything left in the queue during shutdown.
func (l *Limiter) flush(p *providerState) {
	for {
		select {
		case q := <-p.queue:
			q.done <- errs.Unavailable("rate limiter shutting down", nil)
		default:
			metrics.QueueDepth.WithLabelValues(p.name).Set(0)
			return
		}
	}
}
