package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/provider"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	require.Equal(t, int64(0), estimateTokens(""))
	require.Equal(t, int64(1), estimateTokens("abc"))
	require.Equal(t, int64(3), estimateTokens("hello there"))
}

func TestResolveUsagePrefersReported(t *testing.T) {
	t.Parallel()
	reported := provider.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	got := resolveUsage(reported, nil, "ignored text")
	require.Equal(t, types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, got)
}

func TestResolveUsageFallsBackToEstimate(t *testing.T) {
	t.Parallel()
	messages := []provider.Message{
		{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi there"}}},
	}
	got := resolveUsage(provider.TokenUsage{}, messages, "hello")
	require.Equal(t, int64(2), got.InputTokens)
	require.Equal(t, int64(2), got.OutputTokens)
	require.Equal(t, int64(4), got.TotalTokens)
}
