package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

// fastConfig keeps retries quick and isolates the test from the global
// registry.
func fastConfig(name string, registry *resilience.Registry) resilience.Config {
	cfg := resilience.DefaultConfig(name)
	cfg.RetryBaseDelay = 5 * time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond
	cfg.Registry = registry
	return cfg
}

func TestClientSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Alerts":[]}`))
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := resilience.NewClient(fastConfig("wsdot", registry))

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := registry.GetHealth("wsdot")
	require.NotNil(t, health)
	assert.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := resilience.NewClient(fastConfig("wsdot", registry))

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())

	health := registry.GetHealth("wsdot")
	require.NotNil(t, health)
	assert.NotNil(t, health.LastSuccessAt, "recovered exchange counts as a success")
}

func TestClientReturnsLastResponseWhenRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("highway-alerts", registry)
	cfg.MaxAttempts = 2
	cfg.Breaker.TripAfter = 100
	client := resilience.NewClient(cfg)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())

	health := registry.GetHealth("highway-alerts")
	require.NotNil(t, health)
	require.NotNil(t, health.LastFailureAt)
	assert.Contains(t, health.LastError, "502")
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := resilience.NewClient(fastConfig("wsdot", registry))

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())

	// A 4xx still counts as an upstream failure in the registry.
	health := registry.GetHealth("wsdot")
	require.NotNil(t, health)
	assert.NotNil(t, health.LastFailureAt)
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("sign-images", registry)
	cfg.MaxAttempts = 1
	cfg.Breaker.TripAfter = 3
	client := resilience.NewClient(cfg)

	for i := 0; i < 3; i++ {
		resp, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	resp, err := client.Get(context.Background(), server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(3), attempts.Load(), "open breaker must not reach the upstream")

	health := registry.GetHealth("sign-images")
	require.NotNil(t, health)
	assert.True(t, health.IsUnhealthy())
}

func TestClientAttemptTimeoutIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("ip-api", resilience.NewRegistry())
	cfg.Timeout = 50 * time.Millisecond
	client := resilience.NewClient(cfg)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClientContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("wsdot", resilience.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	resp, err := client.Get(ctx, server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	assert.Error(t, err)
}

func TestClientReportFailure(t *testing.T) {
	registry := resilience.NewRegistry()
	client := resilience.NewClient(fastConfig("rss-feed", registry))

	client.ReportFailure(assert.AnError)

	health := registry.GetHealth("rss-feed")
	require.NotNil(t, health)
	require.NotNil(t, health.LastFailureAt)
	assert.Equal(t, assert.AnError.Error(), health.LastError)
}

func TestConfigDefaults(t *testing.T) {
	cfg := resilience.DefaultConfig("wsdot")
	assert.Equal(t, "wsdot", cfg.Name)
	assert.Zero(t, cfg.Timeout, "defaults are applied by NewClient, not DefaultConfig")

	client := resilience.NewClient(cfg)
	assert.Equal(t, "wsdot", client.Name())
	assert.Equal(t, gobreaker.StateClosed, client.State())

	resilience.GlobalRegistry.Unregister("wsdot")
}

func TestUpstreamError(t *testing.T) {
	err := &resilience.UpstreamError{StatusCode: http.StatusBadGateway}
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "Bad Gateway")
}
