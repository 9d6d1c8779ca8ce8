package marketdata

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health is the service's own view of its fitness, derived from consecutive
// provider-chain failures plus a live probe through the full pipeline.
type Health struct {
	Status              string   `json:"status"`
	Providers           []string `json:"providers"`
	ProbeSymbol         string   `json:"probeSymbol"`
	ProbeOK             bool     `json:"probeOk"`
	ProbeLatencyMs      int64    `json:"probeLatencyMs"`
	ConsecutiveFailures int64    `json:"consecutiveFailures"`
	LastFailure         int64    `json:"lastFailure,omitempty"` // unix seconds
	QueueDepth          int      `json:"queueDepth"`
	CacheSize           int      `json:"cacheSize"`
}

// HealthCheck probes a known-good reference symbol through the full
// cache/limiter/retry/fallback pipeline and classifies overall fitness.
func (s *Service) HealthCheck(ctx context.Context) *Health {
	start := time.Now()
	_, probeErr := s.GetQuote(ctx, s.cfg.ProbeSymbol)

	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}

	fails := atomic.LoadInt64(&s.consecutiveFails)
	lastFail := atomic.LoadInt64(&s.lastFailureUnix)

	status := StatusHealthy
	switch {
	case fails > 5:
		status = StatusUnhealthy
	case fails >= 3:
		status = StatusDegraded
	case lastFail > 0 && time.Since(time.Unix(lastFail, 0)) < time.Minute:
		status = StatusDegraded
	}

	return &Health{
		Status:              status,
		Providers:           names,
		ProbeSymbol:         s.cfg.ProbeSymbol,
		ProbeOK:             probeErr == nil,
		ProbeLatencyMs:      time.Since(start).Milliseconds(),
		ConsecutiveFailures: fails,
		LastFailure:         lastFail,
		QueueDepth:          s.limiter.Depth(),
		CacheSize:           s.cache.Len(),
	}
}

// Stats are the internal counters exposed for observability.
type Stats struct {
	CacheHits           uint64                    `json:"cacheHits"`
	CacheMisses         uint64                    `json:"cacheMisses"`
	CacheSize           int                       `json:"cacheSize"`
	QueueDepth          int                       `json:"queueDepth"`
	RateLimitRejections uint64                    `json:"rateLimitRejections"`
	ProviderSuccess     map[string]uint64         `json:"providerSuccess"`
	ProviderErrors      map[string]uint64         `json:"providerErrors"`
	Limits              map[string]map[string]int `json:"limits"`
	UptimeSeconds       int64                     `json:"uptimeSeconds"`
}

// Stats snapshots the service counters.
func (s *Service) Stats() *Stats {
	hits, misses := s.cache.Counters()

	s.mu.Lock()
	ok := make(map[string]uint64, len(s.providerOK))
	for k, v := range s.providerOK {
		ok[k] = v
	}
	perr := make(map[string]uint64, len(s.providerErr))
	for k, v := range s.providerErr {
		perr[k] = v
	}
	s.mu.Unlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	return &Stats{
		CacheHits:           hits,
		CacheMisses:         misses,
		CacheSize:           s.cache.Len(),
		QueueDepth:          s.limiter.Depth(),
		RateLimitRejections: s.limiter.Rejected(),
		ProviderSuccess:     ok,
		ProviderErrors:      perr,
		Limits:              s.limiter.Usage(),
		UptimeSeconds:       uptime,
	}
}
