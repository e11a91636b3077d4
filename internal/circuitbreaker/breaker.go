package circuitbreaker

import (
	"errors"

	"github.com/sony/gobreaker"

	"tasvid/internal/config"
	"tasvid/internal/metrics"
)

// Breaker wraps gobreaker with metrics
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	name    string
}

// Option customises the breaker settings
type Option func(*gobreaker.Settings)

// WithSuccessFilter marks errors that should not count against the backend.
// The fetch client uses it so per-URL failures (DRM, CAPTCHA, bad input)
// do not trip the breaker for every other download.
func WithSuccessFilter(fn func(err error) bool) Option {
	return func(s *gobreaker.Settings) {
		s.IsSuccessful = func(err error) bool {
			return err == nil || fn(err)
		}
	}
}

// New creates a new circuit breaker
func New(name string, cfg *config.Config, m *metrics.Metrics, opts ...Option) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.CircuitBreakerMaxRequests),
		Interval:    cfg.CircuitBreakerTimeout,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.CircuitBreakerThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	m.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return &Breaker{
		cb:      gobreaker.NewCircuitBreaker(settings),
		metrics: m,
		name:    name,
	}
}

// Execute runs the given function through the circuit breaker
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name is the backend label used in metrics
func (b *Breaker) Name() string {
	return b.name
}

// IsRejected reports whether err came from the breaker itself rather than
// the guarded call
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
