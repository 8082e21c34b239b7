// Package worker provides background job processing for RoadWatch. The
// worker receives scheduled jobs over Pub/Sub and triggers feed refreshes
// against the API, which owns the in-memory incident collection.
package worker

import (
	"time"
)

// RefreshConfig holds configuration for the feed refresh job.
type RefreshConfig struct {
	// APIBaseURL is the base URL of the RoadWatch API, e.g.
	// "http://roadwatch-api:8080" (required).
	APIBaseURL string

	// Timeout is the timeout for one trigger call.
	// Default: 30 seconds
	Timeout time.Duration

	// PollInterval is how often the job checks whether a triggered fetch
	// has finished. Default: 500ms
	PollInterval time.Duration

	// CompletionTimeout bounds the wait for a triggered fetch to reach a
	// terminal state. Default: 2 minutes
	CompletionTimeout time.Duration
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		APIBaseURL:        "http://localhost:8080",
		Timeout:           30 * time.Second,
		PollInterval:      500 * time.Millisecond,
		CompletionTimeout: 2 * time.Minute,
	}
}
