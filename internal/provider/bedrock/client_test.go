package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

type mockRuntime struct {
	converseOut *bedrockruntime.ConverseOutput
	converseErr error
	captured    *bedrockruntime.ConverseInput
}

func (m *mockRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.captured = params
	return m.converseOut, m.converseErr
}

func (m *mockRuntime) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, m.converseErr
}

func TestComplete_TranslatesTextAndToolUse(t *testing.T) {
	mock := &mockRuntime{converseOut: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello"},
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					Name:      aws.String("calc_tool"),
					ToolUseId: aws.String("call_1"),
					Input:     document.NewLazyDocument(&map[string]any{"value": 42}),
				}},
			},
		}},
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(100), OutputTokens: aws.Int32(20), TotalTokens: aws.Int32(120)},
		StopReason: brtypes.StopReasonToolUse,
	}}
	client, err := New(mock, Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: []provider.ContentPart{{Type: "text", Text: "be smart"}}},
			{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}},
		},
		Tools: []provider.ToolDefinition{{Name: "calc.tool", Description: "calc", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "calc.tool", resp.ToolCalls[0].Name)
	assert.Equal(t, provider.FinishToolCalls, resp.FinishReason)
	assert.EqualValues(t, 120, resp.Usage.TotalTokens)

	require.NotNil(t, mock.captured)
	assert.Equal(t, "anthropic.claude-3", *mock.captured.ModelId)
	require.Len(t, mock.captured.System, 1)
	require.Len(t, mock.captured.Messages, 1)
	require.NotNil(t, mock.captured.ToolConfig)
	assert.Len(t, mock.captured.ToolConfig.Tools, 1)
}

func TestComplete_RequiresMessages(t *testing.T) {
	client, err := New(&mockRuntime{}, Options{DefaultModel: "id"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleSystem, Content: []provider.ContentPart{{Type: "text", Text: "only system"}}}},
	})
	assert.Error(t, err)
}

func TestSanitizeToolName_TruncatesLongNames(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	out := sanitizeToolName(long)
	assert.LessOrEqual(t, len(out), 64)
}

func TestSanitizeToolName_ReplacesDisallowedRunes(t *testing.T) {
	assert.Equal(t, "calc_tool", sanitizeToolName("calc.tool"))
}
