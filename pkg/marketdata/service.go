// Package marketdata orchestrates the full request pipeline: validate,
// cache lookup, rate-limited admission, retry, provider fallback, cache
// write. It owns the background tickers (queue drain, cache sweep) through an
// explicit Start/Shutdown lifecycle so tests can run isolated instances.
package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marketlens/marketlens/pkg/cache"
	"github.com/marketlens/marketlens/pkg/config"
	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/logger"
	"github.com/marketlens/marketlens/pkg/metrics"
	"github.com/marketlens/marketlens/pkg/models"
	"github.com/marketlens/marketlens/pkg/provider"
	"github.com/marketlens/marketlens/pkg/ratelimit"
	"github.com/marketlens/marketlens/pkg/retry"
	"github.com/marketlens/marketlens/pkg/validation"
)

// Config carries the service-level knobs; provider quotas live on the rate
// limiter and HTTP timeouts on the provider clients.
type Config struct {
	QuoteTTL          time.Duration
	SearchTTL         time.Duration
	ProfileTTL        time.Duration
	NegativeSearchTTL time.Duration

	BatchMax   int
	BatchChunk int
	BatchDelay time.Duration

	ProbeSymbol string
	Retry       retry.Policy
}

// ConfigFrom extracts the service knobs from the application configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		QuoteTTL:          c.QuoteTTL,
		SearchTTL:         c.SearchTTL,
		ProfileTTL:        c.ProfileTTL,
		NegativeSearchTTL: c.NegativeSearchTTL,
		BatchMax:          c.BatchMax,
		BatchChunk:        c.BatchChunk,
		BatchDelay:        c.BatchDelay,
		ProbeSymbol:       c.ProbeSymbol,
		Retry:             retry.Policy{Base: c.RetryBase, Max: c.RetryMax, Limit: c.RetryLimit},
	}
}

// Service is the stable interface the HTTP layer consumes. Providers are an
// ordered fallback list: the first client is primary, each later one is tried
// only after the previous has exhausted its retries.
type Service struct {
	cfg       Config
	cache     *cache.Store
	limiter   *ratelimit.Limiter
	providers []provider.Client

	consecutiveFails int64
	lastFailureUnix  int64
	startedAt        time.Time

	mu          sync.Mutex
	providerOK  map[string]uint64
	providerErr map[string]uint64
}

// New constructs a Service; callers must Register each provider with the
// limiter before Start.
func New(cfg Config, store *cache.Store, limiter *ratelimit.Limiter, providers []provider.Client) *Service {
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 10
	}
	if cfg.BatchChunk <= 0 {
		cfg.BatchChunk = 5
	}
	if cfg.ProbeSymbol == "" {
		cfg.ProbeSymbol = "AAPL"
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.Default
	}
	return &Service{
		cfg:         cfg,
		cache:       store,
		limiter:     limiter,
		providers:   providers,
		providerOK:  make(map[string]uint64),
		providerErr: make(map[string]uint64),
	}
}

// Start launches the background tickers owned by this service.
func (s *Service) Start() {
	s.startedAt = time.Now()
	s.cache.Start()
	s.limiter.Start()
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	logger.Log.Info("market data service started", zap.Strings("providers", names))
}

// Shutdown stops the drain and sweep goroutines. Queued requests are rejected.
func (s *Service) Shutdown() {
	s.limiter.Stop()
	s.cache.Stop()
	logger.Log.Info("market data service stopped")
}

// GetQuote returns the current quote for symbol, serving from cache within
// the quote TTL. Quote failures are never negative-cached: the data is too
// volatile.
func (s *Service) GetQuote(ctx context.Context, rawSymbol string) (*models.Quote, error) {
	symbol, err := validation.NormalizeSymbol(rawSymbol)
	if err != nil {
		return nil, err
	}
	key := "quote:" + symbol

	var cached models.Quote
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	var quote *models.Quote
	_, err = s.callProviders(ctx, func(ctx context.Context, p provider.Client) error {
		got, err := p.Quote(ctx, symbol)
		if err != nil {
			return err
		}
		quote = got
		return nil
	})
	if err != nil {
		if passthrough(err) {
			return nil, err
		}
		return nil, errs.Unavailable(fmt.Sprintf("quote unavailable for %s", symbol), err)
	}

	s.cache.Set(ctx, key, quote, s.cfg.QuoteTTL)
	return quote, nil
}

// negativeSearch is the cached marker for a search that failed across every
// provider; it sheds repeat load during an outage burst.
type negativeSearch struct {
	Message string `json:"message"`
}

// SearchStocks returns instruments matching query. Results are cached for
// minutes; total failures are cached briefly so an outage doesn't multiply
// upstream calls.
func (s *Service) SearchStocks(ctx context.Context, rawQuery string) (*models.SearchResult, error) {
	query, err := validation.NormalizeQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	key := "search:" + strings.ToLower(query)
	negKey := "search:neg:" + strings.ToLower(query)

	var cached models.SearchResult
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	var neg negativeSearch
	if s.cache.Get(ctx, negKey, &neg) {
		return nil, errs.Unavailable(neg.Message, nil)
	}

	var result *models.SearchResult
	_, err = s.callProviders(ctx, func(ctx context.Context, p provider.Client) error {
		got, err := p.Search(ctx, query)
		if err != nil {
			return err
		}
		result = got
		return nil
	})
	if err != nil {
		if passthrough(err) {
			// Rate-limited and not-found keep their own class and status; the
			// negative cache is for outages, not quota pressure.
			return nil, err
		}
		msg := fmt.Sprintf("search unavailable for %q", query)
		s.cache.Set(ctx, negKey, negativeSearch{Message: msg}, s.cfg.NegativeSearchTTL)
		return nil, errs.Unavailable(msg, err)
	}

	s.cache.Set(ctx, key, result, s.cfg.SearchTTL)
	return result, nil
}

// GetCompanyProfile returns the company profile for symbol. Profiles change
// rarely, so they get the longest TTL.
func (s *Service) GetCompanyProfile(ctx context.Context, rawSymbol string) (*models.CompanyProfile, error) {
	symbol, err := validation.NormalizeSymbol(rawSymbol)
	if err != nil {
		return nil, err
	}
	key := "profile:" + symbol

	var cached models.CompanyProfile
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	var profile *models.CompanyProfile
	_, err = s.callProviders(ctx, func(ctx context.Context, p provider.Client) error {
		got, err := p.Profile(ctx, symbol)
		if err != nil {
			return err
		}
		profile = got
		return nil
	})
	if err != nil {
		if passthrough(err) {
			return nil, err
		}
		return nil, errs.Unavailable(fmt.Sprintf("profile unavailable for %s", symbol), err)
	}

	s.cache.Set(ctx, key, profile, s.cfg.ProfileTTL)
	return profile, nil
}

// ClearCache invalidates cache entries matching pattern (empty clears all).
func (s *Service) ClearCache(ctx context.Context, pattern string) int {
	return s.cache.Invalidate(ctx, pattern)
}

// callProviders walks the ordered provider list, admitting each attempt
// through the rate limiter and retrying transient failures, until one
// provider succeeds. Retry wraps admission, not the other way around: a
// backoff sleep inside the drain goroutine would stall every request queued
// behind it, and re-admitting each attempt keeps retried calls counted
// against the provider's quota.
func (s *Service) callProviders(ctx context.Context, fn func(context.Context, provider.Client) error) (string, error) {
	var lastErr error
	allNotFound := true
	for i, p := range s.providers {
		if i > 0 {
			metrics.Fallbacks.Inc()
			logger.Log.Info("falling back to secondary provider",
				zap.String("provider", p.Name()), zap.Error(lastErr))
		}
		err := s.cfg.Retry.Do(ctx, p.Name(), func(ctx context.Context) error {
			return s.limiter.Admit(ctx, p.Name(), func(ctx context.Context) error {
				return fn(ctx, p)
			})
		})
		if err == nil {
			s.recordSuccess(p.Name())
			return p.Name(), nil
		}
		s.noteProviderError(p.Name())
		logger.Log.Warn("provider failed", zap.String("provider", p.Name()), zap.Error(err))
		lastErr = err
		if errs.CodeOf(err) != errs.CodeNotFound {
			allNotFound = false
		}
	}
	if lastErr == nil {
		return "", errs.Unavailable("no providers configured", nil)
	}
	// Every provider agreeing there is no data is a clean 404 and a healthy
	// chain. A mixed chain (one provider down, another reporting not-found) is
	// not: the symbol may exist on the failed provider, so report
	// unavailability instead.
	if allNotFound {
		return "", lastErr
	}
	s.noteChainFailure()
	if errs.CodeOf(lastErr) == errs.CodeNotFound {
		return "", errs.Unavailable("providers unavailable", lastErr)
	}
	return "", lastErr
}

// passthrough reports whether err already carries the response class the API
// should emit (a clean 404 or a 429), so the caller must not rewrap it as
// unavailability.
func passthrough(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeNotFound, errs.CodeRateLimited:
		return true
	}
	return false
}

func (s *Service) recordSuccess(name string) {
	atomic.StoreInt64(&s.consecutiveFails, 0)
	s.mu.Lock()
	s.providerOK[name]++
	s.mu.Unlock()
}

func (s *Service) noteProviderError(name string) {
	s.mu.Lock()
	s.providerErr[name]++
	s.mu.Unlock()
}

// noteChainFailure counts one failed request, however many providers the
// fallback chain tried; the health thresholds are per request, not per
// provider attempt.
func (s *Service) noteChainFailure() {
	atomic.AddInt64(&s.consecutiveFails, 1)
	atomic.StoreInt64(&s.lastFailureUnix, time.Now().Unix())
}
