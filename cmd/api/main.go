package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marketlens/marketlens/pkg/cache"
	"github.com/marketlens/marketlens/pkg/config"
	"github.com/marketlens/marketlens/pkg/logger"
	"github.com/marketlens/marketlens/pkg/marketdata"
	"github.com/marketlens/marketlens/pkg/provider"
	"github.com/marketlens/marketlens/pkg/provider/alphavantage"
	"github.com/marketlens/marketlens/pkg/provider/finnhub"
	"github.com/marketlens/marketlens/pkg/ratelimit"
)

func main() {
	// .env is a development convenience; absence is fine in production.
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log

	log.Info("starting marketlens API server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration error", zap.Error(err))
	}

	// Optional Redis mirror: warm cache shared across instances.
	var mirror cache.Mirror
	if cfg.RedisURL != "" {
		rm, err := cache.NewRedisMirror(cfg.RedisURL)
		if err != nil {
			log.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		defer rm.Close()
		mirror = rm
		log.Info("cache mirror enabled")
	}
	store := cache.New(mirror, cfg.SweepInterval)

	// Ordered fallback chain: Finnhub primary, Alpha Vantage secondary when
	// its key is configured.
	limiter := ratelimit.New()
	providers := []provider.Client{finnhub.New(cfg.Finnhub)}
	limiter.Register(finnhub.Name, ratelimit.Config{
		Quota:         cfg.Finnhub.Quota,
		Window:        cfg.Finnhub.Window,
		QueueDepth:    cfg.QueueDepth,
		DrainInterval: cfg.DrainInterval,
	})
	if cfg.AlphaVantage.APIKey != "" {
		providers = append(providers, alphavantage.New(cfg.AlphaVantage))
		limiter.Register(alphavantage.Name, ratelimit.Config{
			Quota:         cfg.AlphaVantage.Quota,
			Window:        cfg.AlphaVantage.Window,
			QueueDepth:    cfg.QueueDepth,
			DrainInterval: cfg.DrainInterval,
		})
	} else {
		log.Warn("ALPHA_VANTAGE_API_KEY not set, provider fallback disabled")
	}

	svc := marketdata.New(marketdata.ConfigFrom(cfg), store, limiter, providers)
	svc.Start()
	defer svc.Shutdown()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      NewServer(svc).Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	go func() {
		log.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Error("metrics server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
