package safety

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter is a named token bucket shared by every caller of one API
type RateLimiter struct {
	name    string
	limiter *rate.Limiter
}

// NewRateLimiter allows rps requests per second with bursts of up to burst
func NewRateLimiter(name string, rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Wait blocks until a request is allowed or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter %s: %w", rl.name, err)
	}
	return nil
}

// RateLimiterStats holds a snapshot of the limiter configuration
type RateLimiterStats struct {
	Name   string  `json:"name"`
	Limit  float64 `json:"limit"`
	Burst  int     `json:"burst"`
	Tokens float64 `json:"tokens"`
}

// GetStats reports the limiter settings and the tokens currently available.
// An unlimited limiter reports Limit 0 and a full burst.
func (rl *RateLimiter) GetStats() RateLimiterStats {
	if rl.limiter.Limit() == rate.Inf {
		return RateLimiterStats{Name: rl.name, Burst: rl.limiter.Burst(), Tokens: float64(rl.limiter.Burst())}
	}
	return RateLimiterStats{
		Name:   rl.name,
		Limit:  float64(rl.limiter.Limit()),
		Burst:  rl.limiter.Burst(),
		Tokens: rl.limiter.Tokens(),
	}
}
