// Package ratelimit applies an adaptive token-bucket rate limit on top of a
// provider.Client. Grounded on features/model/middleware/ratelimit.go's
// AIMD strategy: the limiter starts at an initial tokens-per-minute budget,
// halves it whenever the wrapped provider reports a rate_limited error, and
// recovers it by a fixed step (5% of the initial budget) on every successful
// call, clamped between a floor of 10% of the initial budget and the
// caller-supplied maximum. The cluster-coordinated
// variant (backed by a replicated map) is dropped here — see DESIGN.md —
// this is the process-local limiter the teacher's own code falls back to
// when no cluster map is configured.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// AdaptiveLimiter enforces a tokens-per-minute budget on calls to a wrapped
// provider.Client, adjusting the budget in response to upstream rate-limit
// signals.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveLimiter constructs an AdaptiveLimiter with an initial and
// maximum tokens-per-minute budget. initialTPM defaults to 60000 when
// non-positive; maxTPM is clamped up to initialTPM when lower.
func NewAdaptiveLimiter(initialTPM, maxTPM float64) *AdaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a provider.Client that enforces the limiter around next.
func (l *AdaptiveLimiter) Wrap(next provider.Client) provider.Client {
	if next == nil {
		return nil
	}
	return &limitedClient{next: next, limiter: l}
}

type limitedClient struct {
	next    provider.Client
	limiter *AdaptiveLimiter
}

func (c *limitedClient) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return provider.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (c *limitedClient) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := c.next.Stream(ctx, req)
	c.limiter.observe(err)
	return stream, err
}

func (l *AdaptiveLimiter) wait(ctx context.Context, req provider.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if pe, ok := apierrors.AsProviderError(err); ok && pe.Kind == apierrors.KindRateLimited {
		l.backoff()
	}
}

func (l *AdaptiveLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *AdaptiveLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// CurrentTPM reports the limiter's current effective tokens-per-minute
// budget, primarily for tests and diagnostics.
func (l *AdaptiveLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// estimateTokens computes a cheap heuristic for the token cost of a
// request: character count over text content and tool results, converted
// at roughly 1 token per 3 characters, plus a fixed buffer for system
// prompts and provider framing.
func estimateTokens(req provider.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		for _, p := range m.Content {
			if p.Text != "" {
				charCount += len(p.Text)
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
