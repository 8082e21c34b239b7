// Package wsdot fetches traffic incidents from the WSDOT Highway Alerts API.
package wsdot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadwatch/roadwatch/internal/incident"
	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

const (
	defaultBaseURL = "https://wsdot.wa.gov/Traffic/api/HighwayAlerts/HighwayAlertsREST.svc"
	providerName   = "wsdot"
)

// ClientConfig holds configuration for the WSDOT client.
type ClientConfig struct {
	// AccessCode is the WSDOT API access code (required).
	AccessCode string

	// BaseURL overrides the WSDOT endpoint, mainly for tests.
	BaseURL string

	// Timeout is the per-fetch timeout (default: 15 seconds).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client fetches the current highway alert list from WSDOT.
type Client struct {
	baseURL    string
	accessCode string
	http       *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a WSDOT client backed by the resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	clientCfg := resilience.DefaultConfig(providerName)
	clientCfg.Timeout = timeout

	return &Client{
		baseURL:    baseURL,
		accessCode: cfg.AccessCode,
		http:       resilience.NewClient(clientCfg),
		logger:     cfg.Logger,
	}
}

// Name implements incident.Fetcher.
func (c *Client) Name() string { return providerName }

// alert mirrors the WSDOT Highway Alerts wire format.
type alert struct {
	AlertID              int           `json:"AlertID"`
	EventCategory        string        `json:"EventCategory"`
	HeadlineDescription  string        `json:"HeadlineDescription"`
	LastUpdatedTime      wsdotTime     `json:"LastUpdatedTime"`
	StartTime            wsdotTime     `json:"StartTime"`
	StartRoadwayLocation *roadwayPoint `json:"StartRoadwayLocation"`
}

type roadwayPoint struct {
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
	RoadName  string  `json:"RoadName"`
}

// wsdotTime parses the legacy "/Date(1373688861413-0700)/" encoding the
// WSDOT service emits.
type wsdotTime struct {
	time.Time
}

var wsdotDatePattern = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

func (t *wsdotTime) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("parsing wsdot timestamp: %w", err)
	}
	if s == nil || *s == "" {
		t.Time = time.Time{}
		return nil
	}

	m := wsdotDatePattern.FindStringSubmatch(*s)
	if m == nil {
		return fmt.Errorf("unrecognized wsdot timestamp %q", *s)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing wsdot timestamp %q: %w", *s, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// FetchIncidents implements incident.Fetcher. It returns the complete
// current alert list; WSDOT alerts carry no sign images.
func (c *Client) FetchIncidents(ctx context.Context) ([]incident.Incident, error) {
	endpoint := fmt.Sprintf("%s/GetAlertsAsJson?AccessCode=%s",
		c.baseURL, url.QueryEscape(c.accessCode))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating wsdot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching wsdot alerts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wsdot returned status %d", resp.StatusCode)
	}

	var alerts []alert
	if err := json.NewDecoder(resp.Body).Decode(&alerts); err != nil {
		err = fmt.Errorf("decoding wsdot alerts: %w", err)
		c.http.ReportFailure(err)
		return nil, err
	}

	incidents := make([]incident.Incident, 0, len(alerts))
	for _, a := range alerts {
		inc := incident.Incident{
			ID:      strconv.Itoa(a.AlertID),
			Summary: a.HeadlineDescription,
			Time:    a.LastUpdatedTime.Time,
		}
		if inc.Time.IsZero() {
			inc.Time = a.StartTime.Time
		}
		if p := a.StartRoadwayLocation; p != nil && (p.Latitude != 0 || p.Longitude != 0) {
			inc.Location = &incident.Location{Lat: p.Latitude, Lon: p.Longitude}
		}
		incidents = append(incidents, inc)
	}

	c.logger.Debug().Int("alerts", len(incidents)).Msg("wsdot alerts fetched")
	return incidents, nil
}
