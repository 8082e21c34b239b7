// Package rssfeed fetches traffic incidents from a generic RSS or Atom feed.
// It understands W3C geo and georss extensions for incident coordinates and
// treats item enclosures as sign image sources.
package rssfeed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/rs/zerolog"

	"github.com/roadwatch/roadwatch/internal/incident"
	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

const providerName = "rss"

// ClientConfig holds configuration for the RSS client.
type ClientConfig struct {
	// FeedURL is the RSS or Atom feed to poll (required).
	FeedURL string

	// Timeout is the per-fetch timeout (default: 15 seconds).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client fetches and parses one configured feed.
type Client struct {
	feedURL string
	http    *resilience.Client
	parser  *gofeed.Parser
	logger  zerolog.Logger
}

// NewClient creates an RSS client backed by the resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	clientCfg := resilience.DefaultConfig(providerName)
	clientCfg.Timeout = timeout

	return &Client{
		feedURL: cfg.FeedURL,
		http:    resilience.NewClient(clientCfg),
		parser:  gofeed.NewParser(),
		logger:  cfg.Logger,
	}
}

// Name implements incident.Fetcher.
func (c *Client) Name() string { return providerName }

// FetchIncidents implements incident.Fetcher.
func (c *Client) FetchIncidents(ctx context.Context) ([]incident.Incident, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating feed request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	feed, err := c.parser.Parse(resp.Body)
	if err != nil {
		err = fmt.Errorf("parsing feed: %w", err)
		c.http.ReportFailure(err)
		return nil, err
	}

	incidents := make([]incident.Incident, 0, len(feed.Items))
	for _, item := range feed.Items {
		incidents = append(incidents, itemToIncident(item))
	}

	c.logger.Debug().Int("items", len(incidents)).Msg("feed items fetched")
	return incidents, nil
}

func itemToIncident(item *gofeed.Item) incident.Incident {
	inc := incident.Incident{
		ID:      item.GUID,
		Summary: item.Title,
	}
	if inc.ID == "" {
		inc.ID = item.Link
	}

	switch {
	case item.PublishedParsed != nil:
		inc.Time = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		inc.Time = item.UpdatedParsed.UTC()
	}

	inc.ImageURL = itemImageURL(item)
	inc.Location = itemLocation(item)
	return inc
}

// itemImageURL prefers an explicit item image and falls back to the first
// image enclosure.
func itemImageURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// itemLocation reads W3C geo (geo:lat, geo:long) or georss (georss:point)
// extensions. Feeds without either produce a location-less incident.
func itemLocation(item *gofeed.Item) *incident.Location {
	if geo, ok := item.Extensions["geo"]; ok {
		lat, latOK := extensionFloat(geo["lat"])
		lon, lonOK := extensionFloat(geo["long"])
		if latOK && lonOK {
			return &incident.Location{Lat: lat, Lon: lon}
		}
	}

	if georss, ok := item.Extensions["georss"]; ok {
		if points := georss["point"]; len(points) > 0 {
			fields := strings.Fields(points[0].Value)
			if len(fields) == 2 {
				lat, latErr := strconv.ParseFloat(fields[0], 64)
				lon, lonErr := strconv.ParseFloat(fields[1], 64)
				if latErr == nil && lonErr == nil {
					return &incident.Location{Lat: lat, Lon: lon}
				}
			}
		}
	}

	return nil
}

func extensionFloat(exts []ext.Extension) (float64, bool) {
	if len(exts) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(exts[0].Value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
