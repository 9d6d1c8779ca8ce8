package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider holds the per-upstream settings the rate limiter and the provider
// clients need. Quota/Window mirror the provider's published free-tier limits.
type Provider struct {
	APIKey  string
	BaseURL string
	Quota   int
	Window  time.Duration
	Timeout time.Duration
}

type Config struct {
	HTTPPort    int
	MetricsPort int

	// RedisURL is optional; when empty the cache runs purely in-process.
	RedisURL string

	Finnhub      Provider
	AlphaVantage Provider

	QuoteTTL   time.Duration
	SearchTTL  time.Duration
	ProfileTTL time.Duration
	// NegativeSearchTTL bounds how long a failed search is remembered to shed
	// load during provider outages.
	NegativeSearchTTL time.Duration
	SweepInterval     time.Duration

	QueueDepth    int
	DrainInterval time.Duration

	RetryBase    time.Duration
	RetryMax     time.Duration
	RetryLimit   int
	BatchMax     int
	BatchChunk   int
	BatchDelay   time.Duration
	ProbeSymbol  string
}

// Load reads environment variables and application flags (via a local FlagSet),
// strips out any -test.* flags, and validates required fields.
func Load() (*Config, error) {
	// Fresh FlagSet so we don't collide with `go test` flags
	fs := flag.NewFlagSet("config", flag.ContinueOnError)

	var httpPort, metricsPort int
	var redisURL string
	fs.IntVar(&httpPort, "port", 8080, "HTTP listen port")
	fs.IntVar(&metricsPort, "metrics-port", 8082, "Metrics server port")
	fs.StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "Redis connection URL (optional cache mirror)")

	var appArgs []string
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			continue
		}
		appArgs = append(appArgs, arg)
	}
	if err := fs.Parse(appArgs); err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:    httpPort,
		MetricsPort: metricsPort,
		RedisURL:    redisURL,
		Finnhub: Provider{
			APIKey:  os.Getenv("FINNHUB_API_KEY"),
			BaseURL: getEnvOrDefault("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
			Quota:   getIntEnvOrDefault("FINNHUB_QUOTA", 60),
			Window:  getDurationEnvOrDefault("FINNHUB_QUOTA_WINDOW", time.Minute),
			Timeout: getDurationEnvOrDefault("PROVIDER_TIMEOUT", 10*time.Second),
		},
		AlphaVantage: Provider{
			APIKey:  os.Getenv("ALPHA_VANTAGE_API_KEY"),
			BaseURL: getEnvOrDefault("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co"),
			Quota:   getIntEnvOrDefault("ALPHA_VANTAGE_QUOTA", 5),
			Window:  getDurationEnvOrDefault("ALPHA_VANTAGE_QUOTA_WINDOW", time.Minute),
			Timeout: getDurationEnvOrDefault("PROVIDER_TIMEOUT", 10*time.Second),
		},
		QuoteTTL:          getDurationEnvOrDefault("QUOTE_TTL", 30*time.Second),
		SearchTTL:         getDurationEnvOrDefault("SEARCH_TTL", 5*time.Minute),
		ProfileTTL:        getDurationEnvOrDefault("PROFILE_TTL", 12*time.Hour),
		NegativeSearchTTL: getDurationEnvOrDefault("NEGATIVE_SEARCH_TTL", 60*time.Second),
		SweepInterval:     getDurationEnvOrDefault("CACHE_SWEEP_INTERVAL", time.Minute),
		QueueDepth:        getIntEnvOrDefault("QUEUE_DEPTH", 1000),
		DrainInterval:     getDurationEnvOrDefault("DRAIN_INTERVAL", time.Second),
		RetryBase:         getDurationEnvOrDefault("RETRY_BASE_DELAY", time.Second),
		RetryMax:          getDurationEnvOrDefault("RETRY_MAX_DELAY", 8*time.Second),
		RetryLimit:        getIntEnvOrDefault("RETRY_LIMIT", 3),
		BatchMax:          getIntEnvOrDefault("BATCH_MAX_SYMBOLS", 10),
		BatchChunk:        getIntEnvOrDefault("BATCH_CHUNK_SIZE", 5),
		BatchDelay:        getDurationEnvOrDefault("BATCH_CHUNK_DELAY", 200*time.Millisecond),
		ProbeSymbol:       getEnvOrDefault("HEALTH_PROBE_SYMBOL", "AAPL"),
	}

	// PORT env var overrides flag/default if set
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		portVal, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT env var: %v", err)
		}
		cfg.HTTPPort = portVal
	}

	// The primary provider key is required: without it every request would
	// fail, so refuse to start rather than degrade silently.
	if cfg.Finnhub.APIKey == "" {
		return nil, fmt.Errorf("missing required config: FINNHUB_API_KEY")
	}

	return cfg, nil
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvOrDefault returns environment variable as int or default
func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnvOrDefault returns environment variable as duration or default
func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
