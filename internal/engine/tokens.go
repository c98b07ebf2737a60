package engine

import (
	"github.com/eL1fe/assistants-gateway/internal/provider"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// estimateTokens approximates a token count from character length, per the
// Open Question resolution in spec.md §9: character-based estimation
// (ceil(len(text)/4)), applied uniformly to both the streaming and blocking
// fallback paths rather than the reference implementation's inconsistent
// per-chunk counting.
func estimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + 3) / 4)
}

// estimateInputTokens sums the character-based estimate over every content
// part of every message sent to the provider (the request messages plus the
// synthetic system message are both provider.Message values by the time
// this runs).
func estimateInputTokens(messages []provider.Message) int64 {
	var total int64
	for _, m := range messages {
		for _, part := range m.Content {
			total += estimateTokens(part.Text)
		}
		for _, tc := range m.ToolCalls {
			total += estimateTokens(string(tc.Arguments))
		}
	}
	return total
}

// resolveUsage returns reported usage when the adapter supplied it, falling
// back to the character-based estimate over the request and the
// accumulated output text otherwise.
func resolveUsage(reported provider.TokenUsage, requestMessages []provider.Message, outputText string) types.Usage {
	if reported.InputTokens != 0 || reported.OutputTokens != 0 || reported.TotalTokens != 0 {
		return types.Usage{
			InputTokens:  int64(reported.InputTokens),
			OutputTokens: int64(reported.OutputTokens),
			TotalTokens:  int64(reported.TotalTokens),
		}
	}
	in := estimateInputTokens(requestMessages)
	out := estimateTokens(outputText)
	return types.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}
