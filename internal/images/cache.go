// Package images fetches and caches incident sign images. The cache is keyed
// by incident identity, not source url, so cached images survive wholesale
// replacement of the incident collection.
package images

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"time"

	// Registered decoders for sign image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

// Cache errors.
var (
	// ErrNoImage indicates the incident has no image source.
	ErrNoImage = errors.New("incident has no image source")
)

// defaultMaxConcurrent bounds simultaneous downloads across the whole cache.
const defaultMaxConcurrent = 6

// Image is a cached sign image with its decoded metadata.
type Image struct {
	IncidentID  string
	SourceURL   string
	ContentType string
	Format      string
	Width       int
	Height      int
	Data        []byte
	FetchedAt   time.Time
}

// Downloader retrieves raw image bytes from a source url.
type Downloader interface {
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// CacheConfig holds configuration for the image cache.
type CacheConfig struct {
	// Downloader performs the HTTP retrieval (required).
	Downloader Downloader

	// Logger for cache operations.
	Logger zerolog.Logger

	// MaxConcurrent bounds simultaneous downloads (default: 6).
	MaxConcurrent int
}

// Cache stores one image per incident. Entries only ever transition from
// absent to present; a failed download leaves the entry absent so a later
// request retries it. Concurrent requests for the same incident collapse
// into a single download.
type Cache struct {
	downloader Downloader
	logger     zerolog.Logger
	group      singleflight.Group
	gate       chan struct{}

	mu     sync.RWMutex
	images map[string]*Image
}

// NewCache creates an empty image cache.
func NewCache(cfg CacheConfig) *Cache {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Cache{
		downloader: cfg.Downloader,
		logger:     cfg.Logger,
		gate:       make(chan struct{}, maxConcurrent),
		images:     make(map[string]*Image),
	}
}

// Ensure makes the image for incidentID present in the cache, downloading it
// from sourceURL if needed. It is safe to call concurrently for the same
// incident; only one download runs.
func (c *Cache) Ensure(ctx context.Context, incidentID, sourceURL string) error {
	if sourceURL == "" {
		return ErrNoImage
	}
	if c.Get(incidentID) != nil {
		resilience.RecordCacheHit(upstreamName)
		return nil
	}

	_, err, _ := c.group.Do(incidentID, func() (any, error) {
		// A concurrent caller may have completed while we waited.
		if img := c.Get(incidentID); img != nil {
			resilience.RecordCacheHit(upstreamName)
			return img, nil
		}
		resilience.RecordCacheMiss(upstreamName)

		select {
		case c.gate <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-c.gate }()

		data, contentType, err := c.downloader.Download(ctx, sourceURL)
		if err != nil {
			return nil, err
		}

		img := &Image{
			IncidentID:  incidentID,
			SourceURL:   sourceURL,
			ContentType: contentType,
			Data:        data,
			FetchedAt:   time.Now(),
		}

		// Dimensions are best effort; an undecodable payload is still cached.
		if cfg, format, derr := image.DecodeConfig(bytes.NewReader(data)); derr == nil {
			img.Format = format
			img.Width = cfg.Width
			img.Height = cfg.Height
		} else {
			c.logger.Debug().Err(derr).
				Str("incident_id", incidentID).
				Msg("could not decode image dimensions")
		}

		c.mu.Lock()
		c.images[incidentID] = img
		c.mu.Unlock()

		c.logger.Debug().
			Str("incident_id", incidentID).
			Str("format", img.Format).
			Int("bytes", len(data)).
			Msg("sign image cached")

		return img, nil
	})
	return err
}

// Get returns the cached image for incidentID, or nil when absent.
func (c *Cache) Get(incidentID string) *Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.images[incidentID]
}

// Has reports whether an image is cached for incidentID.
func (c *Cache) Has(incidentID string) bool {
	return c.Get(incidentID) != nil
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}
