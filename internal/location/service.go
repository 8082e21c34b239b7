// Package location resolves the current position for distance sorting,
// subject to an authorization state.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnavailable indicates no position can be obtained, either because
// authorization is denied or the provider failed. Callers fall back to
// date ordering.
var ErrUnavailable = errors.New("position unavailable")

// Position is a resolved geographic coordinate.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Authorization is the tri-state permission for position lookups.
type Authorization string

const (
	// AuthorizationUndetermined means no decision has been made yet. The
	// first resolution request promotes it to granted.
	AuthorizationUndetermined Authorization = "undetermined"

	// AuthorizationGranted permits position lookups.
	AuthorizationGranted Authorization = "granted"

	// AuthorizationDenied refuses position lookups without contacting the
	// provider.
	AuthorizationDenied Authorization = "denied"
)

// Provider performs one position lookup.
type Provider interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// ServiceConfig holds configuration for the location service.
type ServiceConfig struct {
	// Provider performs position lookups (required).
	Provider Provider

	// Authorization is the initial authorization state
	// (default: undetermined).
	Authorization Authorization

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service gates position lookups behind the authorization state and returns
// single on-demand readings. It performs no continuous tracking.
type Service struct {
	provider Provider
	logger   zerolog.Logger

	mu   sync.Mutex
	auth Authorization
}

// NewService creates a location service.
func NewService(cfg ServiceConfig) *Service {
	auth := cfg.Authorization
	if auth == "" {
		auth = AuthorizationUndetermined
	}
	return &Service{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		auth:     auth,
	}
}

// Authorization returns the current authorization state.
func (s *Service) Authorization() Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// SetAuthorization overrides the authorization state.
func (s *Service) SetAuthorization(auth Authorization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = auth
	s.logger.Info().Str("authorization", string(auth)).Msg("location authorization changed")
}

// Resolve returns one position reading. An undetermined authorization is
// promoted to granted by the first request; a denied one returns
// ErrUnavailable without contacting the provider.
func (s *Service) Resolve(ctx context.Context) (Position, error) {
	s.mu.Lock()
	switch s.auth {
	case AuthorizationDenied:
		s.mu.Unlock()
		return Position{}, fmt.Errorf("%w: authorization denied", ErrUnavailable)
	case AuthorizationUndetermined:
		s.auth = AuthorizationGranted
		s.logger.Debug().Msg("location authorization granted on first use")
	}
	s.mu.Unlock()

	pos, err := s.provider.CurrentPosition(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("position lookup failed")
		return Position{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Debug().
		Float64("lat", pos.Lat).
		Float64("lon", pos.Lon).
		Msg("position resolved")
	return pos, nil
}
