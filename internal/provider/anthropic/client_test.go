package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	dec := &noopDecoder{}
	return ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hello"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Content)
	assert.Equal(t, provider.FinishStop, resp.FinishReason)
	assert.EqualValues(t, 10, resp.Usage.InputTokens)
}

func TestComplete_HoistsSystemMessage(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: sdk.StopReasonEndTurn}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: []provider.ContentPart{{Type: "text", Text: "be terse"}}},
			{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be terse", stub.lastParams.System[0].Text)
	assert.Len(t, stub.lastParams.Messages, 1)
}

func TestComplete_SanitizesToolNames(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: sdk.StopReasonEndTurn}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
		Tools: []provider.ToolDefinition{
			{Name: "weather.get current!", Description: "gets weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	})
	require.NoError(t, err)
	require.Len(t, stub.lastParams.Tools, 1)
	assert.Equal(t, "weather_get_current_", stub.lastParams.Tools[0].OfTool.Name)
}

func TestComplete_JSONSchemaResponseFormatForcesTool(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "tool_use", ID: "call_1", Name: jsonResponseTool, Input: json.RawMessage(`{"ok":true}`)}},
		StopReason: sdk.StopReasonToolUse,
	}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), provider.Request{
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
		ResponseFormat: &provider.ResponseFormat{Type: "json_schema", Name: "answer", Schema: json.RawMessage(`{"type":"object"}`)},
	})
	require.NoError(t, err)
	require.NotNil(t, stub.lastParams.ToolChoice.OfTool)
	assert.Equal(t, jsonResponseTool, stub.lastParams.ToolChoice.OfTool.Name)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, jsonResponseTool, resp.ToolCalls[0].Name)
}

func TestComplete_RequiresMaxTokens(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	assert.Error(t, err)
}

func TestStream_ReturnsEOFOnEmptyStream(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 64})
	require.NoError(t, err)

	s, err := cl.Stream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Recv()
	assert.Error(t, err)
}

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "get_weather", sanitizeToolName("get_weather"))
	assert.Equal(t, "a_b_c", sanitizeToolName("a.b c"))
}
