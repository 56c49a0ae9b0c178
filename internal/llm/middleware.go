package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped client.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of burst.
// perMinute <= 0 disables throttling.
func NewRateLimited(next Client, perMinute, burst int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) GenerateChatResponse(ctx context.Context, messages []Message, model string, format ResponseFormat) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.GenerateChatResponse(ctx, messages, model, format)
}

// Observer records the latency and result of each call.
type Observer interface {
	ObserveLLM(provider string, d time.Duration, err error)
}

// Instrumented reports every call to an Observer.
type Instrumented struct {
	next     Client
	provider string
	obs      Observer
}

func NewInstrumented(next Client, provider string, obs Observer) *Instrumented {
	return &Instrumented{next: next, provider: provider, obs: obs}
}

func (i *Instrumented) GenerateChatResponse(ctx context.Context, messages []Message, model string, format ResponseFormat) (string, error) {
	start := time.Now()
	out, err := i.next.GenerateChatResponse(ctx, messages, model, format)
	i.obs.ObserveLLM(i.provider, time.Since(start), err)
	return out, err
}
