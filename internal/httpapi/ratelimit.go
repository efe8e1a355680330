package httpapi

import (
	"net"
	"sync"

	"github.com/r3e-labs/brm-core/pkg/ratelimit"
)

// remoteLimiters keeps one token-bucket limiter per remote address so a
// single noisy client cannot starve mutation endpoints for everyone
// else.
type remoteLimiters struct {
	mu       sync.Mutex
	cfg      ratelimit.RateLimitConfig
	byAddr   map[string]*ratelimit.RateLimiter
}

func newRemoteLimiters(cfg ratelimit.RateLimitConfig) *remoteLimiters {
	return &remoteLimiters{
		cfg:    cfg,
		byAddr: map[string]*ratelimit.RateLimiter{},
	}
}

func (r *remoteLimiters) forAddr(remoteAddr string) *ratelimit.RateLimiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.byAddr[host]
	if !ok {
		limiter = ratelimit.New(r.cfg)
		r.byAddr[host] = limiter
	}
	return limiter
}
