package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/roadwatch/roadwatch/internal/api/models"
)

// RateLimitConfig is a request budget over a sliding window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// The API runs three per-IP tiers.
var (
	// StrictRateLimit covers endpoints that trigger upstream fetches
	// (refresh, initial load).
	StrictRateLimit = RateLimitConfig{RequestLimit: 10, WindowLength: time.Minute}

	// ExpensiveRateLimit covers SSE subscriptions and image requests.
	ExpensiveRateLimit = RateLimitConfig{RequestLimit: 30, WindowLength: time.Minute}

	// StandardRateLimit covers plain reads.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// RateLimitByIP limits requests per client IP. RealIP runs earlier in
// the chain, so the key reflects the original caller behind a proxy.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(rateLimitExceeded),
	)
}

// rateLimitExceeded writes the problem+json 429. httprate does not
// expose the exact reset time, so Retry-After advertises a full window.
func rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	problem := models.NewTooManyRequests(GetRequestID(r.Context()),
		"Rate limit exceeded. Please try again later.")
	problem.Instance = r.URL.Path

	w.Header().Set("Retry-After", strconv.Itoa(60))
	problem.Write(w)
}
