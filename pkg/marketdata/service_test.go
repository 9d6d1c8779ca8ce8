package marketdata

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marketlens/marketlens/pkg/cache"
	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/models"
	"github.com/marketlens/marketlens/pkg/provider"
	"github.com/marketlens/marketlens/pkg/ratelimit"
	"github.com/marketlens/marketlens/pkg/retry"
)

// stubProvider is a scriptable provider.Client for pipeline tests.
type stubProvider struct {
	name       string
	quoteCalls int64
	quoteFn    func(symbol string) (*models.Quote, error)
	searchFn   func(query string) (*models.SearchResult, error)
	profileFn  func(symbol string) (*models.CompanyProfile, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	atomic.AddInt64(&p.quoteCalls, 1)
	return p.quoteFn(symbol)
}

func (p *stubProvider) Search(ctx context.Context, query string) (*models.SearchResult, error) {
	if p.searchFn == nil {
		return models.NewSearchResult(query, p.name, nil), nil
	}
	return p.searchFn(query)
}

func (p *stubProvider) Profile(ctx context.Context, symbol string) (*models.CompanyProfile, error) {
	if p.profileFn == nil {
		return &models.CompanyProfile{Symbol: symbol, Name: symbol + " Inc", Source: p.name}, nil
	}
	return p.profileFn(symbol)
}

func (p *stubProvider) calls() int64 { return atomic.LoadInt64(&p.quoteCalls) }

func goodQuote(source string) func(string) (*models.Quote, error) {
	return func(symbol string) (*models.Quote, error) {
		q := &models.Quote{Symbol: symbol, Current: 150, PreviousClose: 148, Source: source}
		q.Derive()
		return q, nil
	}
}

func newTestService(t *testing.T, providers ...provider.Client) *Service {
	t.Helper()
	limiter := ratelimit.New()
	for _, p := range providers {
		limiter.Register(p.Name(), ratelimit.Config{
			Quota:         1000,
			Window:        time.Second,
			QueueDepth:    100,
			DrainInterval: time.Millisecond,
		})
	}
	cfg := Config{
		QuoteTTL:          time.Minute,
		SearchTTL:         time.Minute,
		ProfileTTL:        time.Minute,
		NegativeSearchTTL: time.Minute,
		BatchMax:          10,
		BatchChunk:        5,
		BatchDelay:        time.Millisecond,
		ProbeSymbol:       "AAPL",
		Retry:             retry.Policy{Base: time.Millisecond, Max: 2 * time.Millisecond, Limit: 1},
	}
	svc := New(cfg, cache.New(nil, time.Minute), limiter, providers)
	svc.Start()
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestGetQuote_SecondCallHitsCache(t *testing.T) {
	p := &stubProvider{name: "primary", quoteFn: goodQuote("primary")}
	svc := newTestService(t, p)
	ctx := context.Background()

	q1, err := svc.GetQuote(ctx, "aapl")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q1.Symbol != "AAPL" {
		t.Errorf("Symbol = %q; want normalized AAPL", q1.Symbol)
	}

	q2, err := svc.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetQuote (cached): %v", err)
	}
	if q2.Current != q1.Current {
		t.Errorf("cached quote differs: %+v vs %+v", q2, q1)
	}
	if p.calls() != 1 {
		t.Errorf("provider calls = %d; want 1 (second call must hit cache)", p.calls())
	}
}

func TestGetQuote_InvalidSymbolFailsBeforeNetwork(t *testing.T) {
	p := &stubProvider{name: "primary", quoteFn: goodQuote("primary")}
	svc := newTestService(t, p)

	for _, bad := range []string{"12345678901", "", "ab-c"} {
		_, err := svc.GetQuote(context.Background(), bad)
		if errs.CodeOf(err) != errs.CodeInvalidInput {
			t.Errorf("GetQuote(%q) = %v; want INVALID_INPUT", bad, err)
		}
	}
	if p.calls() != 0 {
		t.Errorf("provider calls = %d; validation must precede any network access", p.calls())
	}
}

func TestGetQuote_FallbackToSecondary(t *testing.T) {
	primary := &stubProvider{name: "primary", quoteFn: func(string) (*models.Quote, error) {
		return nil, errs.Timeout("primary timed out", nil)
	}}
	secondary := &stubProvider{name: "secondary", quoteFn: goodQuote("secondary")}
	svc := newTestService(t, primary, secondary)

	q, err := svc.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Source != "secondary" {
		t.Errorf("Source = %q; want secondary", q.Source)
	}
	// Primary was attempted (with retries) before falling back.
	if primary.calls() == 0 {
		t.Error("primary never attempted")
	}
	if secondary.calls() != 1 {
		t.Errorf("secondary calls = %d; want 1", secondary.calls())
	}
}

func TestGetQuote_AllProvidersDown(t *testing.T) {
	down := func(string) (*models.Quote, error) { return nil, errs.Provider(503, "down") }
	primary := &stubProvider{name: "primary", quoteFn: down}
	secondary := &stubProvider{name: "secondary", quoteFn: down}
	svc := newTestService(t, primary, secondary)

	_, err := svc.GetQuote(context.Background(), "AAPL")
	if errs.CodeOf(err) != errs.CodeServiceUnavailable {
		t.Fatalf("err = %v; want SERVICE_UNAVAILABLE", err)
	}

	// Quote failures are not cached: the next call goes upstream again.
	before := primary.calls()
	svc.GetQuote(context.Background(), "AAPL")
	if primary.calls() == before {
		t.Error("failed quote was cached; volatile data must not be")
	}
}

func TestGetQuote_NotFoundFromAllProviders(t *testing.T) {
	nf := func(sym string) (*models.Quote, error) { return nil, errs.NotFound("no data for %s", sym) }
	svc := newTestService(t,
		&stubProvider{name: "primary", quoteFn: nf},
		&stubProvider{name: "secondary", quoteFn: nf})

	_, err := svc.GetQuote(context.Background(), "ZZZZ")
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Errorf("err = %v; want NOT_FOUND (clean 404, not an internal failure)", err)
	}
}

func TestGetQuote_UpstreamRateLimitSurfaces(t *testing.T) {
	p := &stubProvider{name: "primary", quoteFn: func(string) (*models.Quote, error) {
		return nil, errs.Provider(429, "quota exceeded")
	}}
	svc := newTestService(t, p)

	_, err := svc.GetQuote(context.Background(), "AAPL")
	if errs.CodeOf(err) != errs.CodeRateLimited {
		t.Fatalf("err = %v; want RATE_LIMITED, not SERVICE_UNAVAILABLE", err)
	}
}

func TestGetQuote_SaturatedQueueSurfacesRateLimit(t *testing.T) {
	p := &stubProvider{name: "primary", quoteFn: goodQuote("primary")}
	limiter := ratelimit.New()
	limiter.Register("primary", ratelimit.Config{
		Quota:         1,
		Window:        10 * time.Second,
		QueueDepth:    1,
		DrainInterval: time.Millisecond,
	})
	cfg := Config{
		QuoteTTL:   time.Minute,
		SearchTTL:  time.Minute,
		ProfileTTL: time.Minute,
		BatchMax:   10,
		BatchChunk: 5,
		Retry:      retry.Policy{Base: time.Millisecond, Max: 2 * time.Millisecond, Limit: 1},
	}
	svc := New(cfg, cache.New(nil, time.Minute), limiter, []provider.Client{p})
	svc.Start()
	t.Cleanup(svc.Shutdown)
	ctx := context.Background()

	// Burn the window's only slot.
	if _, err := svc.GetQuote(ctx, "AAPL"); err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	// One request held at the head of the drain, one occupying the queue slot.
	go svc.GetQuote(ctx, "MSFT")
	time.Sleep(20 * time.Millisecond)
	go svc.GetQuote(ctx, "GOOG")
	time.Sleep(20 * time.Millisecond)

	_, err := svc.GetQuote(ctx, "AMZN")
	if errs.CodeOf(err) != errs.CodeRateLimited {
		t.Fatalf("err = %v; want RATE_LIMITED when the admission queue is full", err)
	}
}

func TestGetQuote_FailedRequestCountsOnceForHealth(t *testing.T) {
	down := func(string) (*models.Quote, error) { return nil, errs.Provider(503, "down") }
	svc := newTestService(t,
		&stubProvider{name: "primary", quoteFn: down},
		&stubProvider{name: "secondary", quoteFn: down})

	svc.GetQuote(context.Background(), "AAPL")

	if n := atomic.LoadInt64(&svc.consecutiveFails); n != 1 {
		t.Errorf("consecutiveFails = %d after one failed request; want 1", n)
	}
	st := svc.Stats()
	if st.ProviderErrors["primary"] != 1 || st.ProviderErrors["secondary"] != 1 {
		t.Errorf("provider errors = %v; want one per provider", st.ProviderErrors)
	}
}

func TestSearchStocks_CachesAndNormalizes(t *testing.T) {
	calls := int64(0)
	p := &stubProvider{
		name:    "primary",
		quoteFn: goodQuote("primary"),
		searchFn: func(query string) (*models.SearchResult, error) {
			atomic.AddInt64(&calls, 1)
			return models.NewSearchResult(query, "primary", []models.SearchEntry{
				{Symbol: "AAPL", Description: "Apple Inc"},
			}), nil
		},
	}
	svc := newTestService(t, p)
	ctx := context.Background()

	res, err := svc.SearchStocks(ctx, "appl")
	if err != nil {
		t.Fatalf("SearchStocks: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Symbol != "AAPL" {
		t.Errorf("result = %+v", res)
	}

	svc.SearchStocks(ctx, "appl")
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("search calls = %d; want 1", calls)
	}
}

func TestSearchStocks_NegativeCacheShedsLoad(t *testing.T) {
	calls := int64(0)
	p := &stubProvider{
		name:    "primary",
		quoteFn: goodQuote("primary"),
		searchFn: func(query string) (*models.SearchResult, error) {
			atomic.AddInt64(&calls, 1)
			return nil, errs.Provider(503, "down")
		},
	}
	svc := newTestService(t, p)
	ctx := context.Background()

	_, err := svc.SearchStocks(ctx, "appl")
	if errs.CodeOf(err) != errs.CodeServiceUnavailable {
		t.Fatalf("err = %v; want SERVICE_UNAVAILABLE", err)
	}
	upstream := atomic.LoadInt64(&calls)

	_, err = svc.SearchStocks(ctx, "appl")
	if errs.CodeOf(err) != errs.CodeServiceUnavailable {
		t.Fatalf("second err = %v; want SERVICE_UNAVAILABLE", err)
	}
	if atomic.LoadInt64(&calls) != upstream {
		t.Error("second failed search hit the provider; negative cache should absorb it")
	}
}

func TestSearchStocks_RateLimitNotMaskedOrCached(t *testing.T) {
	calls := int64(0)
	p := &stubProvider{
		name:    "primary",
		quoteFn: goodQuote("primary"),
		searchFn: func(query string) (*models.SearchResult, error) {
			atomic.AddInt64(&calls, 1)
			return nil, errs.Provider(429, "quota exceeded")
		},
	}
	svc := newTestService(t, p)
	ctx := context.Background()

	_, err := svc.SearchStocks(ctx, "appl")
	if errs.CodeOf(err) != errs.CodeRateLimited {
		t.Fatalf("err = %v; want RATE_LIMITED", err)
	}
	upstream := atomic.LoadInt64(&calls)

	// Quota pressure is transient; it must not poison the negative cache.
	_, err = svc.SearchStocks(ctx, "appl")
	if errs.CodeOf(err) != errs.CodeRateLimited {
		t.Fatalf("second err = %v; want RATE_LIMITED", err)
	}
	if atomic.LoadInt64(&calls) == upstream {
		t.Error("second search never reached the provider; rate limits must not be negative-cached")
	}
}

func TestGetCompanyProfile_Cached(t *testing.T) {
	calls := int64(0)
	p := &stubProvider{
		name:    "primary",
		quoteFn: goodQuote("primary"),
		profileFn: func(symbol string) (*models.CompanyProfile, error) {
			atomic.AddInt64(&calls, 1)
			return &models.CompanyProfile{Symbol: symbol, Name: "Apple Inc", Source: "primary"}, nil
		},
	}
	svc := newTestService(t, p)
	ctx := context.Background()

	if _, err := svc.GetCompanyProfile(ctx, "AAPL"); err != nil {
		t.Fatalf("GetCompanyProfile: %v", err)
	}
	if _, err := svc.GetCompanyProfile(ctx, "AAPL"); err != nil {
		t.Fatalf("GetCompanyProfile (cached): %v", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("profile calls = %d; want 1", calls)
	}
}

func TestGetBatchQuotes_IsolatesFailures(t *testing.T) {
	p := &stubProvider{name: "primary", quoteFn: goodQuote("primary")}
	svc := newTestService(t, p)

	res, err := svc.GetBatchQuotes(context.Background(), []string{"AAPL", "BADSYM1", "MSFT"})
	if err != nil {
		t.Fatalf("GetBatchQuotes: %v", err)
	}
	if _, ok := res.Results["AAPL"]; !ok {
		t.Error("AAPL missing from results")
	}
	if _, ok := res.Results["MSFT"]; !ok {
		t.Error("MSFT missing from results")
	}
	if _, ok := res.Errors["BADSYM1"]; !ok {
		t.Errorf("BADSYM1 missing from errors: %+v", res.Errors)
	}
}

func TestGetBatchQuotes_InputBounds(t *testing.T) {
	svc := newTestService(t, &stubProvider{name: "primary", quoteFn: goodQuote("primary")})

	if _, err := svc.GetBatchQuotes(context.Background(), nil); errs.CodeOf(err) != errs.CodeInvalidInput {
		t.Errorf("empty batch err = %v; want INVALID_INPUT", err)
	}

	over := make([]string, 11)
	for i := range over {
		over[i] = "AAPL"
	}
	if _, err := svc.GetBatchQuotes(context.Background(), over); errs.CodeOf(err) != errs.CodeTooManySymbols {
		t.Errorf("oversized batch err = %v; want TOO_MANY_SYMBOLS", err)
	}
}

func TestGetBatchQuotes_Dedupes(t *testing.T) {
	p := &stubProvider{name: "primary", quoteFn: goodQuote("primary")}
	svc := newTestService(t, p)

	res, err := svc.GetBatchQuotes(context.Background(), []string{"AAPL", "aapl", " AAPL "})
	if err != nil {
		t.Fatalf("GetBatchQuotes: %v", err)
	}
	if len(res.Results) != 1 {
		t.Errorf("results = %d; want 1 after dedupe", len(res.Results))
	}
	if p.calls() != 1 {
		t.Errorf("provider calls = %d; want 1", p.calls())
	}
}

func TestHealthCheck_HealthyAndDegraded(t *testing.T) {
	fail := int32(0)
	p := &stubProvider{name: "primary", quoteFn: goodQuote("primary")}
	p.quoteFn = func(sym string) (*models.Quote, error) {
		if atomic.LoadInt32(&fail) == 1 {
			return nil, errs.Provider(503, "down")
		}
		return goodQuote("primary")(sym)
	}
	svc := newTestService(t, p)
	ctx := context.Background()

	h := svc.HealthCheck(ctx)
	if h.Status != StatusHealthy || !h.ProbeOK {
		t.Errorf("health = %+v; want healthy", h)
	}

	atomic.StoreInt32(&fail, 1)
	svc.ClearCache(ctx, "") // force the probe upstream
	for i := 0; i < 3; i++ {
		svc.GetQuote(ctx, "MSFT")
	}
	h = svc.HealthCheck(ctx)
	if h.Status == StatusHealthy {
		t.Errorf("status = %q after repeated failures; want degraded/unhealthy", h.Status)
	}
	if h.ProbeOK {
		t.Error("probe should fail while provider is down")
	}
}

func TestStats_TracksCounters(t *testing.T) {
	p := &stubProvider{name: "primary", quoteFn: goodQuote("primary")}
	svc := newTestService(t, p)
	ctx := context.Background()

	svc.GetQuote(ctx, "AAPL")
	svc.GetQuote(ctx, "AAPL")

	st := svc.Stats()
	if st.CacheHits != 1 || st.CacheMisses != 1 {
		t.Errorf("cache counters = %d/%d; want 1/1", st.CacheHits, st.CacheMisses)
	}
	if st.ProviderSuccess["primary"] != 1 {
		t.Errorf("provider success = %v", st.ProviderSuccess)
	}
	if _, ok := st.Limits["primary"]; !ok {
		t.Errorf("limits missing provider: %v", st.Limits)
	}
}
