// Package ipapi resolves an approximate position from the caller's public IP
// using the ip-api.com geolocation service.
package ipapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadwatch/roadwatch/internal/location"
	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

const (
	defaultBaseURL = "http://ip-api.com"
	providerName   = "ip-api"
)

// ClientConfig holds configuration for the ip-api client.
type ClientConfig struct {
	// BaseURL overrides the ip-api endpoint, mainly for tests.
	BaseURL string

	// Timeout is the per-lookup timeout (default: 5 seconds).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client queries ip-api.com for a coarse IP-based position.
type Client struct {
	baseURL string
	http    *resilience.Client
	logger  zerolog.Logger
}

// NewClient creates an ip-api client backed by the resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	clientCfg := resilience.DefaultConfig(providerName)
	clientCfg.Timeout = timeout

	return &Client{
		baseURL: baseURL,
		http:    resilience.NewClient(clientCfg),
		logger:  cfg.Logger,
	}
}

type lookupResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// CurrentPosition implements location.Provider.
func (c *Client) CurrentPosition(ctx context.Context) (location.Position, error) {
	url := c.baseURL + "/json/?fields=status,message,lat,lon"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return location.Position{}, fmt.Errorf("creating ip-api request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return location.Position{}, fmt.Errorf("querying ip-api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return location.Position{}, fmt.Errorf("ip-api returned status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		err = fmt.Errorf("decoding ip-api response: %w", err)
		c.http.ReportFailure(err)
		return location.Position{}, err
	}

	if body.Status != "success" {
		err := fmt.Errorf("ip-api lookup failed: %s", body.Message)
		c.http.ReportFailure(err)
		return location.Position{}, err
	}

	c.logger.Debug().
		Float64("lat", body.Lat).
		Float64("lon", body.Lon).
		Msg("ip-api position resolved")

	return location.Position{Lat: body.Lat, Lon: body.Lon}, nil
}
