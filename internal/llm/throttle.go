package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled shares one token bucket across every stream opened through it,
// protecting the upstream provider from bursts of turns.
type Throttled struct {
	next Source
	lim  *rate.Limiter
}

// NewThrottled wraps next with a limiter of rps starts per second and the
// given burst. Non-positive rps disables throttling.
func NewThrottled(next Source, rps float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Inf, burst)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Throttled{next: next, lim: lim}
}

// Stream waits for a token, honouring ctx, then delegates.
func (t *Throttled) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider throttle: %w", err)
	}
	return t.next.Stream(ctx, req)
}

var _ Source = (*Throttled)(nil)
