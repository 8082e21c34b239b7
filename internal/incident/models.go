// Package incident provides the incident collection lifecycle: fetching the
// remote feed, sorting, and per-incident image delivery.
package incident

import (
	"context"
	"errors"
	"time"
)

// Incident errors.
var (
	ErrFetchInFlight = errors.New("feed fetch already in progress")
	ErrNotFound      = errors.New("incident not found")
	ErrUnknownPolicy = errors.New("unknown sort policy")
)

// Location is a geographic coordinate attached to an incident.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Incident represents one traffic event from the feed.
type Incident struct {
	// ID is the stable identity of the incident. It never changes and is
	// the key for image caching and event delivery.
	ID string `json:"id"`

	// Time is when the incident was reported.
	Time time.Time `json:"time"`

	// Summary is a short human-readable description.
	Summary string `json:"summary"`

	// Location is the incident coordinate, nil when the feed provides none.
	Location *Location `json:"location,omitempty"`

	// ImageURL references an auxiliary sign image, empty when absent.
	ImageURL string `json:"imageUrl,omitempty"`
}

// HasLocation reports whether the incident carries a coordinate.
func (i *Incident) HasLocation() bool {
	return i.Location != nil
}

// SortPolicy governs the display order of the incident collection.
type SortPolicy string

const (
	// SortByDate orders incidents newest first.
	SortByDate SortPolicy = "by_date"

	// SortByLocation orders incidents nearest to the current position first.
	// Requires a resolved position; the controller falls back to SortByDate
	// when none can be obtained.
	SortByLocation SortPolicy = "by_location"
)

// Valid reports whether p is a known policy.
func (p SortPolicy) Valid() bool {
	return p == SortByDate || p == SortByLocation
}

// FetchState describes the feed fetch state machine.
type FetchState string

const (
	FetchIdle   FetchState = "idle"
	FetchActive FetchState = "fetching"
)

// Fetcher performs one feed retrieval and parse cycle.
// Implementations live in the feed provider packages.
type Fetcher interface {
	// FetchIncidents returns the complete current incident list.
	// The returned slice replaces the previous collection wholesale.
	FetchIncidents(ctx context.Context) ([]Incident, error)

	// Name returns the provider name for logging.
	Name() string
}

// Locator resolves a single current-position reading on demand.
type Locator interface {
	Resolve(ctx context.Context) (Location, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context) (Location, error)

// Resolve implements Locator.
func (f LocatorFunc) Resolve(ctx context.Context) (Location, error) {
	return f(ctx)
}

// ImageSource ensures an incident's sign image is fetched and cached.
// The returned error is informational only; image failures are never
// surfaced to presentation clients.
type ImageSource interface {
	Ensure(ctx context.Context, incidentID, sourceURL string) error
}
