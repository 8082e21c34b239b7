// Package resilience shields the service from flaky upstreams. Every
// outbound HTTP call (the incident feeds, the geolocation lookup, sign
// image servers) goes through a Client that retries transient failures
// with exponential backoff, trips a circuit breaker when an upstream
// keeps failing, and feeds per-upstream health into a Registry.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the breaker refuses a request because
// the upstream has been failing.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// UpstreamError reports a non-success HTTP status from an upstream.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Config holds the settings for a resilient upstream client.
type Config struct {
	// Name identifies the upstream in health reports and metrics.
	Name string

	// Timeout applies to each individual attempt. Default: 10s.
	Timeout time.Duration

	// MaxAttempts is the total number of tries, the first one included.
	// Default: 4.
	MaxAttempts int

	// RetryBaseDelay is the delay before the first retry; later retries
	// back off exponentially from it. Default: 100ms.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff between retries. Default: 5s.
	RetryMaxDelay time.Duration

	// Breaker tunes the circuit breaker. The zero value uses defaults.
	Breaker BreakerConfig

	// Registry receives health updates for this upstream. Nil means
	// GlobalRegistry.
	Registry *Registry
}

// DefaultConfig returns the settings used for most upstreams.
func DefaultConfig(name string) Config {
	return Config{Name: name}
}

func (cfg Config) withDefaults() Config {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.Registry == nil {
		cfg.Registry = GlobalRegistry
	}
	return cfg
}

// Client is an HTTP client bound to a single upstream. It retries
// transient failures, respects the upstream's circuit breaker, and
// records the outcome of every exchange in its registry.
type Client struct {
	name     string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	registry *Registry
	cfg      Config
}

// NewClient creates a client for one upstream and registers it for
// health reporting.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		name:     cfg.Name,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  newBreaker(cfg.Name, cfg.Breaker),
		registry: cfg.Registry,
		cfg:      cfg,
	}
	c.registry.Register(cfg.Name, c)
	return c
}

// Name returns the upstream name this client reports under.
func (c *Client) Name() string {
	return c.name
}

// Get issues a GET request to the given URL through Do.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do executes the request with retries and circuit breaking. Transport
// errors and 5xx responses are retried; when every attempt hits a
// server error the last response is handed back with a nil error so the
// caller can inspect the status. Responses below 500 are returned
// as-is. The outcome is recorded in the registry either way.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = c.cfg.RetryBaseDelay
	delay.MaxInterval = c.cfg.RetryMaxDelay
	delay.MaxElapsedTime = 0

	start := time.Now()
	var resp *http.Response
	var err error

	for attempt := 1; ; attempt++ {
		resp, err = c.attempt(ctx, req)
		if err == nil || !retryable(err) || attempt >= c.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
			resp = nil
		}
		timer := time.NewTimer(delay.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		case <-timer.C:
			continue
		}
		break
	}

	c.observe(req.Method, time.Since(start), resp, err)

	if resp != nil {
		return resp, nil
	}
	return nil, err
}

// ReportFailure records an application-level failure against this
// upstream, for errors found after a successful exchange (a body that
// does not parse, a payload-level error flag).
func (c *Client) ReportFailure(err error) {
	c.registry.RecordFailure(c.name, err)
}

// State returns the current circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the circuit breaker's request counts.
func (c *Client) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}

func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.http.Do(req.Clone(ctx))
		if doErr != nil {
			return nil, doErr
		}
		// A 5xx counts against the breaker. The response rides along for
		// the exhausted-retries case.
		if r.StatusCode >= http.StatusInternalServerError {
			return r, &UpstreamError{StatusCode: r.StatusCode}
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return resp, err
}

// Attempt timeouts and 5xx responses are transient; an open breaker is
// not worth retrying within one call.
func retryable(err error) bool {
	return !errors.Is(err, ErrCircuitOpen)
}

func (c *Client) observe(operation string, elapsed time.Duration, resp *http.Response, err error) {
	switch {
	case err != nil:
		c.registry.RecordFailure(c.name, err)
	case resp != nil && resp.StatusCode >= http.StatusBadRequest:
		err = &UpstreamError{StatusCode: resp.StatusCode}
		c.registry.RecordFailure(c.name, err)
	default:
		c.registry.RecordSuccess(c.name)
	}
	if m := sharedMetrics(); m != nil {
		m.RecordRequest(c.name, operation, elapsed, err)
	}
}
