package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestProviderClassification(t *testing.T) {
	cases := []struct {
		status    int
		wantCode  Code
		retryable bool
	}{
		{429, CodeRateLimited, true},
		{500, CodeProviderError, true},
		{503, CodeProviderError, true},
		{401, CodeProviderError, false},
		{403, CodeProviderError, false},
		{400, CodeProviderError, false},
	}
	for _, c := range cases {
		err := Provider(c.status, "x")
		if err.Code != c.wantCode {
			t.Errorf("Provider(%d).Code = %v; want %v", c.status, err.Code, c.wantCode)
		}
		if err.Retryable != c.retryable {
			t.Errorf("Provider(%d).Retryable = %v; want %v", c.status, err.Retryable, c.retryable)
		}
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{InvalidInput("bad"), http.StatusBadRequest},
		{TooManySymbols(11, 10), http.StatusBadRequest},
		{RateLimited("slow down"), http.StatusTooManyRequests},
		{Timeout("late", nil), http.StatusGatewayTimeout},
		{Provider(502, "upstream"), http.StatusBadGateway},
		{NotFound("nothing"), http.StatusNotFound},
		{Unavailable("all down", nil), http.StatusServiceUnavailable},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d; want %d", c.err, got, c.want)
		}
	}
}

func TestWrappingSurvivesFmtErrorf(t *testing.T) {
	inner := NotFound("no data for %s", "AAPL")
	wrapped := fmt.Errorf("pipeline: %w", inner)

	if CodeOf(wrapped) != CodeNotFound {
		t.Errorf("CodeOf(wrapped) = %v; want NOT_FOUND", CodeOf(wrapped))
	}
	if IsRetryable(wrapped) {
		t.Error("wrapped not-found must stay non-retryable")
	}
}

func TestExhaustedClearsRetryable(t *testing.T) {
	err := Provider(503, "down")
	if !IsRetryable(err) {
		t.Fatal("503 must start retryable")
	}
	done := Exhausted(err)
	if IsRetryable(done) {
		t.Error("exhausted error must not be retryable")
	}
	if CodeOf(done) != CodeProviderError {
		t.Errorf("code = %v; want preserved PROVIDER_ERROR", CodeOf(done))
	}
	// The original is untouched; only the returned clone is marked.
	if !IsRetryable(err) {
		t.Error("Exhausted mutated its argument")
	}
}

func TestUnknownErrorDefaultsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("connection reset by peer")) {
		t.Error("unclassified errors should default to retryable")
	}
}
