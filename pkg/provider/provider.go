// Package provider defines the canonical upstream client interface and the
// HTTP plumbing shared by its implementations. Each provider translates its
// own wire shapes into the models types; no caching or retry logic lives here.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/metrics"
	"github.com/marketlens/marketlens/pkg/models"
)

// Client is one upstream market-data provider. Implementations perform
// exactly one HTTP call per method with a bounded timeout.
type Client interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	Search(ctx context.Context, query string) (*models.SearchResult, error)
	Profile(ctx context.Context, symbol string) (*models.CompanyProfile, error)
}

// NewHTTPClient returns an http.Client tuned for short polling calls against
// a single upstream host.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// GetJSON performs one GET against url and decodes a 2xx JSON body into dest,
// classifying transport and status failures into the error taxonomy.
func GetJSON(ctx context.Context, hc *http.Client, name, operation, url string, dest interface{}) error {
	start := time.Now()
	err := getJSON(ctx, hc, name, url, dest)
	metrics.ProviderLatency.WithLabelValues(name, operation).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ProviderCalls.WithLabelValues(name, operation, status).Inc()
	return err
}

func getJSON(ctx context.Context, hc *http.Client, name, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.InvalidInput("building %s request: %v", name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return errs.Timeout(fmt.Sprintf("%s did not respond in time", name), err)
		}
		if errors.Is(err, context.Canceled) {
			return errs.Timeout(fmt.Sprintf("%s request canceled", name), err)
		}
		return errs.Transport(fmt.Sprintf("%s request failed", name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Provider(resp.StatusCode, fmt.Sprintf("%s returned HTTP %d", name, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errs.Malformed(name, "undecodable response body")
	}
	return nil
}
