package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/logger"
	"github.com/marketlens/marketlens/pkg/metrics"
)

// Policy bounds the exponential backoff applied around one provider call:
// delay = min(Base * 2^attempt, Max), up to Limit retries after the first
// attempt.
type Policy struct {
	Base  time.Duration
	Max   time.Duration
	Limit int
}

// Default matches the upstream providers' tolerance for polite retrying.
var Default = Policy{Base: time.Second, Max: 8 * time.Second, Limit: 3}

// Do runs op, retrying transient failures (5xx, rate limits, timeouts) with
// exponential backoff. Non-retryable errors fail immediately without
// consuming retry budget. When the budget is exhausted the last error is
// returned marked non-retryable so callers don't retry again themselves.
func (p Policy) Do(ctx context.Context, provider string, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	attempt := 0
	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		attempt++
		metrics.Retries.WithLabelValues(provider).Inc()
		logger.Log.Warn("provider call failed, will retry",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Limit)), ctx))
	if err == nil {
		return nil
	}
	if errs.IsRetryable(err) {
		return errs.Exhausted(err)
	}
	return err
}
