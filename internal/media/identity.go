package media

import (
	"math/rand/v2"
	"sync"
)

// DefaultUserAgents is used when no user agents are configured
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

// RotatingIdentity hands out user agent and proxy pairs. The first call
// picks a random starting offset, later calls advance round-robin so two
// consecutive attempts never reuse the same pair when more than one exists.
type RotatingIdentity struct {
	mu         sync.Mutex
	userAgents []string
	proxies    []string
	next       int
	started    bool
}

// NewRotatingIdentity creates a provider over the given lists. An empty
// userAgents list falls back to DefaultUserAgents; an empty proxies list
// means direct connections.
func NewRotatingIdentity(userAgents, proxies []string) *RotatingIdentity {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	return &RotatingIdentity{
		userAgents: append([]string(nil), userAgents...),
		proxies:    append([]string(nil), proxies...),
	}
}

// Next returns the identity for the upcoming attempt
func (r *RotatingIdentity) Next() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.next = rand.IntN(len(r.userAgents))
		r.started = true
	}

	id := Identity{UserAgent: r.userAgents[r.next%len(r.userAgents)]}
	if len(r.proxies) > 0 {
		id.Proxy = r.proxies[r.next%len(r.proxies)]
	}
	r.next++
	return id
}
