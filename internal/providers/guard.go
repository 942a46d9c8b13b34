package providers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig bounds a single provider's request behavior
type GuardConfig struct {
	RPS              float64
	Burst            int
	Timeout          time.Duration
	MaxRetries       uint64
	FailureThreshold uint32
	OpenTimeout      time.Duration
	APIKey           string
}

// DefaultGuardConfig returns the limits applied when a provider's config
// leaves them unset.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RPS:              5,
		Burst:            10,
		Timeout:          5 * time.Second,
		MaxRetries:       2,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Guard wraps provider calls with a rate limiter, retry with exponential
// backoff, and a circuit breaker. Every call carries its own timeout.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cfg     GuardConfig
}

// NewGuard creates a guard for one named provider
func NewGuard(name string, cfg GuardConfig) *Guard {
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultGuardConfig().RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultGuardConfig().Burst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGuardConfig().Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultGuardConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultGuardConfig().OpenTimeout
	}

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Provider circuit state change")
		},
	}

	return &Guard{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		cfg:     cfg,
	}
}

// Do executes fn under the guard. The rate limiter is awaited first, then the
// breaker admits the attempt, and transient failures retry with exponential
// backoff until the per-call timeout expires.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if err := g.limiter.Wait(callCtx); err != nil {
		return err
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.cfg.MaxRetries), callCtx)
		return nil, backoff.Retry(func() error {
			if err := fn(callCtx); err != nil {
				if callCtx.Err() != nil {
					return backoff.Permanent(callCtx.Err())
				}
				return err
			}
			return nil
		}, policy)
	})
	return err
}

// State returns the breaker state for health reporting
func (g *Guard) State() string { return g.breaker.State().String() }
