package retry

import (
	"context"
	"testing"
	"time"

	"github.com/marketlens/marketlens/pkg/errs"
)

func fastPolicy() Policy {
	return Policy{Base: 10 * time.Millisecond, Max: 40 * time.Millisecond, Limit: 3}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	var times []time.Time
	err := fastPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		times = append(times, time.Now())
		if calls < 3 {
			return errs.Provider(503, "upstream unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d; want 3", calls)
	}
	// Delays between attempts must be non-decreasing (pure doubling, no jitter).
	d1 := times[1].Sub(times[0])
	d2 := times[2].Sub(times[1])
	if d2 < d1 {
		t.Errorf("delays decreased: %v then %v", d1, d2)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errs.InvalidInput("bad symbol")
	})
	if calls != 1 {
		t.Errorf("calls = %d; want 1 (no retry budget spent)", calls)
	}
	if errs.CodeOf(err) != errs.CodeInvalidInput {
		t.Errorf("err = %v; want INVALID_INPUT", err)
	}
}

func TestDo_CredentialErrorNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errs.Provider(401, "bad token")
	})
	if calls != 1 {
		t.Errorf("calls = %d; want 1", calls)
	}
	if errs.CodeOf(err) != errs.CodeProviderError {
		t.Errorf("err = %v; want PROVIDER_ERROR", err)
	}
}

func TestDo_ExhaustedMarksNonRetryable(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errs.Provider(503, "still down")
	})
	if calls != 4 { // initial attempt + 3 retries
		t.Errorf("calls = %d; want 4", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.IsRetryable(err) {
		t.Error("exhausted error must be marked non-retryable")
	}
	if errs.CodeOf(err) != errs.CodeProviderError {
		t.Errorf("code = %v; want PROVIDER_ERROR preserved", errs.CodeOf(err))
	}
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	calls := 0
	err := fastPolicy().Do(ctx, "test", func(ctx context.Context) error {
		calls++
		return errs.Timeout("provider timeout", nil)
	})
	if err == nil {
		t.Fatal("expected error after context cancel")
	}
	if calls > 3 {
		t.Errorf("calls = %d; context should have cut retries short", calls)
	}
}
