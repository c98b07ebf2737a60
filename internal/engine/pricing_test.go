package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCostUSDKnownModel(t *testing.T) {
	t.Parallel()
	got := costUSD("gpt-4o-mini", 1_000_000, 1_000_000)
	require.InDelta(t, 0.75, got, 1e-9)
}

func TestCostUSDUnknownModelIsZero(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0.0, costUSD("some-model-nobody-priced", 1_000_000, 1_000_000))
}
