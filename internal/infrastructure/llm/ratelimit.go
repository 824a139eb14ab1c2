package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"PostForge/internal/ports"
)

// RateLimited throttles calls to a wrapped generator.
type RateLimited struct {
	next    ports.Generator
	limiter *rate.Limiter
}

var _ ports.Generator = (*RateLimited)(nil)

// NewRateLimited allows perMinute requests with a burst of burst. A non-positive
// perMinute returns next unchanged.
func NewRateLimited(next ports.Generator, perMinute float64, burst int) ports.Generator {
	if perMinute <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perMinute/60), burst),
	}
}

// Generate waits for a token and forwards the call.
func (r *RateLimited) Generate(ctx context.Context, prompt ports.Prompt) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limit: %w", err)
	}
	return r.next.Generate(ctx, prompt)
}
