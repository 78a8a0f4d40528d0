package mapsapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/metrics"
)

// Service is the surface shared by Client and its decorators. It satisfies
// both discovery.Geocoder and discovery.Router.
type Service interface {
	Geocode(ctx context.Context, query string) (discovery.GeocodeResult, error)
	Route(ctx context.Context, origin, destination discovery.Coordinates) (discovery.CommuteRecord, error)
}

var _ Service = (*Client)(nil)

// BreakerClient wraps a Service with a circuit breaker. The circuit opens
// when at least 60% of 10 or more requests in a one-minute window fail, and
// tries again after two minutes.
type BreakerClient struct {
	next Service
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

func NewBreakerClient(next Service) *BreakerClient {
	return newBreakerClient(next, "maps-api", 2*time.Minute)
}

func newBreakerClient(next Service, name string, openTimeout time.Duration) *BreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logging.Warn().Str("breaker", name).Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).Msg("opening circuit")
				return true
			}
			return false
		},
		// A query with no match or a caller that gave up says nothing about
		// the health of the API.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, discovery.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", stateToString(from)).
				Str("to", stateToString(to)).Msg("circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})
	return &BreakerClient{next: next, cb: cb, name: name}
}

func (b *BreakerClient) Geocode(ctx context.Context, query string) (discovery.GeocodeResult, error) {
	res, err := b.execute(func() (any, error) {
		return b.next.Geocode(ctx, query)
	})
	return castResult[discovery.GeocodeResult](res, err)
}

func (b *BreakerClient) Route(ctx context.Context, origin, destination discovery.Coordinates) (discovery.CommuteRecord, error) {
	res, err := b.execute(func() (any, error) {
		return b.next.Route(ctx, origin, destination)
	})
	return castResult[discovery.CommuteRecord](res, err)
}

// State is the current breaker state name.
func (b *BreakerClient) State() string { return stateToString(b.cb.State()) }

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return res, nil
}

func castResult[T any](res any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", res)
	}
	return typed, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
