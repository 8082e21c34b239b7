package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

// RefreshJob triggers feed refreshes on the API. The API owns the incident
// collection and the fetch state machine; the worker only tells it when to
// go back to the feed.
type RefreshJob struct {
	config RefreshConfig
	logger zerolog.Logger
	client *resilience.Client

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh trigger statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalTriggers      int64
	SuccessfulTriggers int64
	FailedTriggers     int64

	LastTriggerAt       time.Time
	LastTriggerDuration time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config RefreshConfig
	Logger zerolog.Logger
}

// NewRefreshJob creates a new refresh job processor.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	if config.APIBaseURL == "" {
		config = DefaultRefreshConfig()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.CompletionTimeout == 0 {
		config.CompletionTimeout = 2 * time.Minute
	}

	clientCfg := resilience.DefaultConfig("roadwatch-api")
	clientCfg.Timeout = config.Timeout

	return &RefreshJob{
		config:  config,
		logger:  cfg.Logger,
		client:  resilience.NewClient(clientCfg),
		metrics: &RefreshMetrics{},
	}
}

// TriggerRefresh asks the API to supersede any running fetch and load the
// feed again, then waits for the fetch to reach a terminal state. A fetch
// that ends with an error fails the job so the message is redelivered.
func (j *RefreshJob) TriggerRefresh(ctx context.Context) error {
	start := time.Now()

	err := j.post(ctx, "/v1/incidents/refresh")
	if err == nil {
		err = j.awaitCompletion(ctx)
	}
	j.record(start, err)

	if err != nil {
		j.logger.Error().Err(err).Msg("feed refresh failed")
		return err
	}

	j.logger.Info().
		Dur("duration", time.Since(start)).
		Msg("feed refresh completed")
	return nil
}

// awaitCompletion polls the collection until the fetch state returns to
// idle or the completion timeout expires.
func (j *RefreshJob) awaitCompletion(ctx context.Context) error {
	deadline := time.NewTimer(j.config.CompletionTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(j.config.PollInterval)
	defer tick.Stop()

	for {
		state, lastError, err := j.fetchState(ctx)
		if err != nil {
			return err
		}
		if state == "idle" {
			if lastError != "" {
				return fmt.Errorf("feed refresh finished with error: %s", lastError)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("fetch still %s after %s", state, j.config.CompletionTimeout)
		case <-tick.C:
		}
	}
}

// fetchState reads the current fetch state and last fetch error from the
// collection endpoint.
func (j *RefreshJob) fetchState(ctx context.Context) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		j.config.APIBaseURL+"/v1/incidents", nil)
	if err != nil {
		return "", "", fmt.Errorf("creating state request: %w", err)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("reading fetch state: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch state returned status %d", resp.StatusCode)
	}

	var body struct {
		FetchState string `json:"fetchState"`
		LastError  string `json:"lastError"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("decoding fetch state: %w", err)
	}
	return body.FetchState, body.LastError, nil
}

// CheckHealth verifies the API is reachable and healthy.
func (j *RefreshJob) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		j.config.APIBaseURL+"/v1/ops/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("checking api health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api health check returned status %d", resp.StatusCode)
	}

	j.logger.Debug().Msg("api health check passed")
	return nil
}

func (j *RefreshJob) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		j.config.APIBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating trigger request: %w", err)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (j *RefreshJob) record(start time.Time, err error) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalTriggers++
	if err != nil {
		j.metrics.FailedTriggers++
	} else {
		j.metrics.SuccessfulTriggers++
	}
	j.metrics.LastTriggerAt = time.Now()
	j.metrics.LastTriggerDuration = time.Since(start)
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalTriggers:       j.metrics.TotalTriggers,
		SuccessfulTriggers:  j.metrics.SuccessfulTriggers,
		FailedTriggers:      j.metrics.FailedTriggers,
		LastTriggerAt:       j.metrics.LastTriggerAt,
		LastTriggerDuration: j.metrics.LastTriggerDuration,
	}
}
