package media

import (
	"context"
	"errors"

	"tasvid/internal/circuitbreaker"
	"tasvid/internal/models"
)

// Guarded routes fetch client calls through a circuit breaker. Only
// transient failures count against the breaker; rate limiting, challenges,
// DRM and validation errors are properties of the individual URL.
type Guarded struct {
	inner   FetchClient
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps inner with breaker
func NewGuarded(inner FetchClient, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

// CountsAgainstBreaker reports whether err indicates the fetch backend
// itself is unhealthy. Cancelled fetches never count.
func CountsAgainstBreaker(err error) bool {
	return models.KindOf(err) == models.KindTransientIO && !errors.Is(err, context.Canceled)
}

func (g *Guarded) Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Probe(ctx, url, cookiesFile)
	})
	if err != nil {
		return nil, g.wrap(err)
	}
	return res.(*models.ProbeResult), nil
}

func (g *Guarded) Fetch(ctx context.Context, opts FetchOptions, progress func(Progress)) (string, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Fetch(ctx, opts, progress)
	})
	if err != nil {
		return "", g.wrap(err)
	}
	return res.(string), nil
}

func (g *Guarded) Playlist(ctx context.Context, url, cookiesFile string) ([]string, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Playlist(ctx, url, cookiesFile)
	})
	if err != nil {
		return nil, g.wrap(err)
	}
	return res.([]string), nil
}

func (g *Guarded) wrap(err error) error {
	if circuitbreaker.IsRejected(err) {
		return models.NewError(models.KindTransientIO, "fetch backend unavailable ("+g.breaker.Name()+" circuit open)", err)
	}
	return err
}
