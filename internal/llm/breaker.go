// Package llm holds model client decorators shared by every backend.
package llm

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"meetmatch/internal/domain"
	"meetmatch/internal/logging"
	"meetmatch/internal/metrics"
)

// BreakerSettings configures a BreakerClient.
type BreakerSettings struct {
	// MinRequests is the number of calls in a window before the ratio counts.
	MinRequests uint32
	// FailureRatio opens the circuit once reached.
	FailureRatio float64
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
}

// BreakerClient wraps a ModelClient with a circuit breaker so a failing
// service is not hammered by every sample of every request.
type BreakerClient struct {
	next domain.ModelClient
	cb   *gobreaker.CircuitBreaker[string]
	name string
}

// NewBreakerClient wraps next.
func NewBreakerClient(next domain.ModelClient, s BreakerSettings) *BreakerClient {
	if s.MinRequests == 0 {
		s.MinRequests = 6
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.6
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = time.Minute
	}
	name := next.Name() + "-model"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		// cancelled requests say nothing about service health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("model circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &BreakerClient{next: next, cb: cb, name: name}
}

// Name returns the wrapped backend's name.
func (b *BreakerClient) Name() string { return b.next.Name() }

// Complete forwards to the wrapped client unless the circuit is open.
func (b *BreakerClient) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.next.Complete(ctx, prompt, temperature, maxTokens)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", domain.NewServiceError(domain.ServiceUnavailable, err)
	}
	return out, err
}

// State reports the current breaker state.
func (b *BreakerClient) State() gobreaker.State { return b.cb.State() }

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
