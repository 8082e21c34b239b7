package incident

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ControllerConfig holds configuration for the controller.
type ControllerConfig struct {
	// Fetcher retrieves the incident feed (required).
	Fetcher Fetcher

	// Locator resolves the current position for location sorting.
	// If nil, SortByLocation always falls back to SortByDate.
	Locator Locator

	// Images fetches and caches incident sign images (required for
	// RequestImages to have any effect).
	Images ImageSource

	// Logger for controller operations.
	Logger zerolog.Logger

	// FetchTimeout bounds a single feed fetch (default: 30 seconds).
	FetchTimeout time.Duration

	// ResolveTimeout bounds a position resolution (default: 10 seconds).
	ResolveTimeout time.Duration
}

// Controller owns the incident collection, the active sort policy, and the
// feed fetch state machine. At most one feed fetch is logically active at a
// time: Refresh supersedes an in-flight fetch, whose eventual completion is
// discarded by a generation check. All shared state is guarded by a single
// mutex; asynchronous completions re-acquire it and validate their generation
// before mutating anything.
type Controller struct {
	fetcher        Fetcher
	locator        Locator
	images         ImageSource
	logger         zerolog.Logger
	fetchTimeout   time.Duration
	resolveTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events *broadcaster

	mu          sync.Mutex
	incidents   []Incident
	policy      SortPolicy
	refPos      *Location
	state       FetchState
	generation  uint64
	cancelFetch context.CancelFunc
	lastErr     string
}

// NewController creates a controller in the idle state with an empty
// collection and the SortByDate policy. Close releases its resources.
func NewController(cfg ControllerConfig) *Controller {
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 30 * time.Second
	}
	resolveTimeout := cfg.ResolveTimeout
	if resolveTimeout == 0 {
		resolveTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		fetcher:        cfg.Fetcher,
		locator:        cfg.Locator,
		images:         cfg.Images,
		logger:         cfg.Logger,
		fetchTimeout:   fetchTimeout,
		resolveTimeout: resolveTimeout,
		ctx:            ctx,
		cancel:         cancel,
		events:         newBroadcaster(),
		policy:         SortByDate,
		state:          FetchIdle,
	}
}

// Close cancels any in-flight work and terminates all event subscriptions.
func (c *Controller) Close() {
	c.cancel()
	c.events.close()
}

// Subscribe registers an event subscriber. The cancel function must be
// called when the subscriber is done. Subscribers that fall behind lose
// events rather than blocking the controller.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// StartInitialLoad begins the first feed fetch. It is a no-op returning
// ErrFetchInFlight while a fetch is already active; it never starts a
// second concurrent fetch.
func (c *Controller) StartInitialLoad() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == FetchActive {
		return ErrFetchInFlight
	}
	c.startFetchLocked()
	return nil
}

// Refresh starts a new feed fetch. An in-flight fetch is cancelled first and
// its eventual completion, if it still arrives, is discarded.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == FetchActive && c.cancelFetch != nil {
		c.cancelFetch()
	}
	c.startFetchLocked()
}

// startFetchLocked bumps the generation and launches the fetch goroutine.
// Callers must hold c.mu.
func (c *Controller) startFetchLocked() {
	c.generation++
	gen := c.generation
	c.state = FetchActive

	fetchCtx, cancelFetch := context.WithCancel(c.ctx)
	c.cancelFetch = cancelFetch

	c.logger.Debug().
		Uint64("generation", gen).
		Str("provider", c.fetcher.Name()).
		Msg("starting feed fetch")

	c.events.publish(Event{Type: EventFetchStarted, At: time.Now()})

	go func() {
		defer cancelFetch()

		ctx, cancel := context.WithTimeout(fetchCtx, c.fetchTimeout)
		defer cancel()

		incidents, err := c.fetcher.FetchIncidents(ctx)
		c.completeFetch(gen, incidents, err)
	}()
}

// completeFetch applies a fetch result if and only if it belongs to the
// currently active fetch. Superseded completions never mutate state.
func (c *Controller) completeFetch(gen uint64, incidents []Incident, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		c.logger.Debug().
			Uint64("generation", gen).
			Uint64("current", c.generation).
			Msg("discarding superseded fetch result")
		return
	}

	c.state = FetchIdle
	c.cancelFetch = nil

	if err != nil {
		c.logger.Error().Err(err).
			Str("provider", c.fetcher.Name()).
			Msg("feed fetch failed")
		c.incidents = nil
		c.lastErr = err.Error()
		c.events.publish(Event{Type: EventFetchFailed, At: time.Now(), Error: err.Error()})
		return
	}

	c.incidents = incidents
	c.lastErr = ""
	c.resortLocked()

	c.logger.Info().
		Int("incidents", len(incidents)).
		Str("provider", c.fetcher.Name()).
		Msg("incident collection replaced")

	c.events.publish(Event{Type: EventFetchSucceeded, At: time.Now(), Count: len(incidents)})
	c.publishReorderedLocked()
}

// SetSortPolicy updates the active policy and re-sorts the collection.
// SortByLocation defers the resort until a position resolves; when
// resolution fails or is unauthorized, the policy downgrades to SortByDate.
func (c *Controller) SetSortPolicy(policy SortPolicy) error {
	if !policy.Valid() {
		return ErrUnknownPolicy
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.policy = policy

	if policy == SortByLocation && c.refPos == nil {
		if c.locator == nil {
			c.logger.Warn().Msg("no locator configured, falling back to date order")
			c.policy = SortByDate
		} else {
			go c.resolveAndResort()
			return nil
		}
	}

	c.resortLocked()
	c.publishReorderedLocked()
	return nil
}

// resolveAndResort obtains one position reading and applies the location
// sort, unless the policy changed in the meantime.
func (c *Controller) resolveAndResort() {
	ctx, cancel := context.WithTimeout(c.ctx, c.resolveTimeout)
	defer cancel()

	pos, err := c.locator.Resolve(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.policy != SortByLocation {
		return
	}

	if err != nil {
		c.logger.Warn().Err(err).Msg("position unavailable, falling back to date order")
		c.policy = SortByDate
	} else {
		c.refPos = &pos
	}

	c.resortLocked()
	c.publishReorderedLocked()
}

// resortLocked reorders the collection under the effective policy.
// Callers must hold c.mu.
func (c *Controller) resortLocked() {
	if c.policy == SortByLocation && c.refPos != nil {
		c.incidents = SortedByLocation(c.incidents, *c.refPos)
		return
	}
	c.incidents = SortedByDate(c.incidents)
}

func (c *Controller) publishReorderedLocked() {
	c.events.publish(Event{
		Type:      EventReordered,
		At:        time.Now(),
		Count:     len(c.incidents),
		Incidents: c.snapshotLocked(),
		Policy:    c.policy,
	})
}

// RequestImages asks the image cache to resolve sign images for the given
// incidents. Each result is delivered independently as an EventImageReady
// keyed by incident identity; failures are silent. Unknown ids and incidents
// without an image source are skipped.
func (c *Controller) RequestImages(ids []string) {
	if c.images == nil {
		return
	}

	c.mu.Lock()
	sources := make(map[string]string, len(ids))
	for _, inc := range c.incidents {
		sources[inc.ID] = inc.ImageURL
	}
	c.mu.Unlock()

	for _, id := range ids {
		url, ok := sources[id]
		if !ok || url == "" {
			continue
		}
		go func(id, url string) {
			if err := c.images.Ensure(c.ctx, id, url); err != nil {
				c.logger.Debug().Err(err).
					Str("incident_id", id).
					Msg("sign image unavailable")
				return
			}
			c.events.publish(Event{Type: EventImageReady, At: time.Now(), IncidentID: id})
		}(id, url)
	}
}

// Snapshot returns a copy of the current ordered collection.
func (c *Controller) Snapshot() []Incident {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() []Incident {
	out := make([]Incident, len(c.incidents))
	copy(out, c.incidents)
	return out
}

// State returns the current fetch state.
func (c *Controller) State() FetchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Policy returns the effective sort policy.
func (c *Controller) Policy() SortPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// LastError returns the message of the most recent failed fetch, cleared by
// the next successful one.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
