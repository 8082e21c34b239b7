// Package main provides the entrypoint for the RoadWatch API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadwatch/roadwatch/internal/api"
	"github.com/roadwatch/roadwatch/internal/api/middleware"
	"github.com/roadwatch/roadwatch/internal/feed/rssfeed"
	"github.com/roadwatch/roadwatch/internal/feed/wsdot"
	"github.com/roadwatch/roadwatch/internal/images"
	"github.com/roadwatch/roadwatch/internal/incident"
	"github.com/roadwatch/roadwatch/internal/location"
	"github.com/roadwatch/roadwatch/internal/location/ipapi"
	"github.com/roadwatch/roadwatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "roadwatch-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting RoadWatch API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Feed provider selection
	fetcher, err := buildFetcher(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure feed provider")
	}
	log.Info().Str("provider", fetcher.Name()).Msg("feed provider configured")

	// Image cache with bounded download concurrency
	maxConcurrent := 0
	if v := os.Getenv("IMAGE_MAX_CONCURRENT"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			maxConcurrent = n
		}
	}
	imageCache := images.NewCache(images.CacheConfig{
		Downloader:    images.NewHTTPDownloader(images.HTTPDownloaderConfig{}),
		Logger:        log,
		MaxConcurrent: maxConcurrent,
	})

	// Location service with IP-based position provider
	locations := location.NewService(location.ServiceConfig{
		Provider:      ipapi.NewClient(ipapi.ClientConfig{Logger: log}),
		Authorization: location.Authorization(os.Getenv("LOCATION_AUTHORIZATION")),
		Logger:        log,
	})

	// Incident controller
	controller := incident.NewController(incident.ControllerConfig{
		Fetcher: fetcher,
		Locator: incident.LocatorFunc(func(ctx context.Context) (incident.Location, error) {
			pos, resolveErr := locations.Resolve(ctx)
			if resolveErr != nil {
				return incident.Location{}, resolveErr
			}
			return incident.Location{Lat: pos.Lat, Lon: pos.Lon}, nil
		}),
		Images: imageCache,
		Logger: log,
	})
	defer controller.Close()

	// Kick off the initial load
	if err := controller.StartInitialLoad(); err != nil {
		log.Warn().Err(err).Msg("initial feed load not started")
	}

	// Optional in-process refresh ticker
	if interval := os.Getenv("FEED_REFRESH_INTERVAL"); interval != "" {
		d, parseErr := time.ParseDuration(interval)
		if parseErr != nil {
			log.Fatal().Err(parseErr).Msg("invalid FEED_REFRESH_INTERVAL")
		}
		go func() {
			ticker := time.NewTicker(d)
			defer ticker.Stop()
			for range ticker.C {
				log.Debug().Msg("scheduled feed refresh")
				controller.Refresh()
			}
		}()
		log.Info().Dur("interval", d).Msg("feed refresh ticker started")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Controller:  controller,
		Images:      imageCache,
		Locations:   locations,
	})

	// Create HTTP server. WriteTimeout stays disabled so SSE streams on
	// /v1/events are not cut off.
	server := &http.Server{
		Addr:        ":" + port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// buildFetcher selects the feed provider from FEED_PROVIDER. The WSDOT
// highway alerts API is the default; any RSS/Atom feed works via
// FEED_PROVIDER=rss and FEED_URL.
func buildFetcher(log zerolog.Logger) (incident.Fetcher, error) {
	switch os.Getenv("FEED_PROVIDER") {
	case "", "wsdot":
		accessCode := os.Getenv("WSDOT_ACCESS_CODE")
		if accessCode == "" {
			log.Warn().Msg("WSDOT_ACCESS_CODE not set - feed fetches will be rejected upstream")
		}
		return wsdot.NewClient(wsdot.ClientConfig{
			AccessCode: accessCode,
			Logger:     log,
		}), nil
	case "rss":
		feedURL := os.Getenv("FEED_URL")
		if feedURL == "" {
			return nil, errors.New("FEED_URL is required when FEED_PROVIDER=rss")
		}
		return rssfeed.NewClient(rssfeed.ClientConfig{
			FeedURL: feedURL,
			Logger:  log,
		}), nil
	default:
		return nil, errors.New("FEED_PROVIDER must be wsdot or rss")
	}
}
