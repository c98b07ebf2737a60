package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

type stubClient struct {
	resp provider.Response
	err  error
}

func (s *stubClient) Complete(context.Context, provider.Request) (provider.Response, error) {
	return s.resp, s.err
}

func (s *stubClient) Stream(context.Context, provider.Request) (provider.Streamer, error) {
	return nil, s.err
}

func TestAdaptiveLimiter_BacksOffOnRateLimitedError(t *testing.T) {
	limiter := NewAdaptiveLimiter(6000, 6000)
	initial := limiter.CurrentTPM()

	stub := &stubClient{err: apierrors.NewProviderError("openai", apierrors.KindRateLimited, 429, "too many requests", nil)}
	wrapped := limiter.Wrap(stub)

	_, err := wrapped.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.Error(t, err)
	assert.Less(t, limiter.CurrentTPM(), initial)
}

func TestAdaptiveLimiter_ProbesUpOnSuccess(t *testing.T) {
	limiter := NewAdaptiveLimiter(6000, 6000)
	limiter.backoff()
	reduced := limiter.CurrentTPM()

	stub := &stubClient{resp: provider.Response{Content: "ok"}}
	wrapped := limiter.Wrap(stub)

	_, err := wrapped.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Greater(t, limiter.CurrentTPM(), reduced)
}

func TestAdaptiveLimiter_NeverDropsBelowFloor(t *testing.T) {
	limiter := NewAdaptiveLimiter(100, 100)
	for i := 0; i < 20; i++ {
		limiter.backoff()
	}
	assert.GreaterOrEqual(t, limiter.CurrentTPM(), limiter.minTPM)
}

func TestEstimateTokens_EmptyRequestGetsFloor(t *testing.T) {
	assert.Equal(t, 500, estimateTokens(provider.Request{}))
}

func TestWrap_NilNextReturnsNil(t *testing.T) {
	limiter := NewAdaptiveLimiter(6000, 6000)
	assert.Nil(t, limiter.Wrap(nil))
}
