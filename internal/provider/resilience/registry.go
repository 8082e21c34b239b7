package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProviderHealth is a point-in-time health snapshot for one upstream,
// as reported by the ops status endpoint.
type ProviderHealth struct {
	Name string

	// CircuitState and Counts come from the upstream's breaker.
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	// LastSuccessAt and LastFailureAt are nil until the first request of
	// that kind completes.
	LastSuccessAt *time.Time
	LastFailureAt *time.Time

	// LastError is the message of the most recent failure.
	LastError string
}

// IsHealthy reports whether requests flow normally (breaker closed).
func (h *ProviderHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded reports whether the breaker is half-open and probing.
func (h *ProviderHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy reports whether the breaker is open.
func (h *ProviderHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// GlobalRegistry is where clients register unless a Config names
// another registry.
var GlobalRegistry = NewRegistry()

// Registry tracks the upstream clients and the outcome of their most
// recent requests.
type Registry struct {
	mu        sync.RWMutex
	upstreams map[string]*upstreamRecord
}

type upstreamRecord struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{upstreams: make(map[string]*upstreamRecord)}
}

// Register adds an upstream client. Registering the same name again
// replaces the previous entry and resets its history.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreams[name] = &upstreamRecord{client: client}
}

// Unregister removes an upstream from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.upstreams, name)
}

// RecordSuccess notes a successful exchange with the named upstream.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.upstreams[name]; ok {
		now := time.Now()
		rec.lastSuccessAt = &now
	}
}

// RecordFailure notes a failed exchange with the named upstream.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.upstreams[name]; ok {
		now := time.Now()
		rec.lastFailureAt = &now
		if err != nil {
			rec.lastError = err.Error()
		}
	}
}

// GetHealth returns the health snapshot for one upstream, or nil if it
// is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.upstreams[name]
	if !ok {
		return nil
	}
	return snapshot(name, rec)
}

// GetAllHealth returns a snapshot for every registered upstream,
// ordered by name so status output is stable.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ProviderHealth, 0, len(r.upstreams))
	for name, rec := range r.upstreams {
		out = append(out, snapshot(name, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered upstream names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.upstreams))
	for name := range r.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered upstreams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.upstreams)
}

func snapshot(name string, rec *upstreamRecord) *ProviderHealth {
	return &ProviderHealth{
		Name:          name,
		CircuitState:  rec.client.State(),
		Counts:        rec.client.Counts(),
		LastSuccessAt: rec.lastSuccessAt,
		LastFailureAt: rec.lastFailureAt,
		LastError:     rec.lastError,
	}
}
