package resilience

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker guarding one upstream.
type BreakerConfig struct {
	// TripAfter is the number of consecutive failures that opens the
	// breaker. Default: 4.
	TripAfter uint32

	// Cooldown is how long the breaker stays open before letting trial
	// requests through. Default: 30s.
	Cooldown time.Duration

	// TrialRequests is the number of requests allowed while half-open.
	// Default: 2.
	TrialRequests uint32
}

func (cfg BreakerConfig) withDefaults() BreakerConfig {
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 4
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.TrialRequests == 0 {
		cfg.TrialRequests = 2
	}
	return cfg
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.TrialRequests,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
	})
}
