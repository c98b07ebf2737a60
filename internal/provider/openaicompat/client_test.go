package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

type fakeChat struct {
	completeResp openai.ChatCompletionResponse
	completeErr  error
	lastRequest  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastRequest = req
	return f.completeResp, f.completeErr
}

func (f *fakeChat) CreateChatCompletionStream(_ context.Context, _ openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return nil, errors.New("not used in this test")
}

func TestComplete_TranslatesResponse(t *testing.T) {
	fake := &fakeChat{
		completeResp: openai.ChatCompletionResponse{
			ID: "chatcmpl-1",
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "hello there"},
					FinishReason: openai.FinishReasonStop,
				},
			},
			Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
		},
	}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o-mini", ProviderName: "openai"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), provider.Request{
		Model: "gpt-4o-mini",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, provider.FinishStop, resp.FinishReason)
	assert.EqualValues(t, 10, resp.Usage.InputTokens)
	assert.EqualValues(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, "gpt-4o-mini", fake.lastRequest.Model)
}

func TestComplete_AliasResolvesModel(t *testing.T) {
	fake := &fakeChat{completeResp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{FinishReason: openai.FinishReasonStop}}}}
	c, err := New(Options{
		Client: fake, DefaultModel: "default-model", ProviderName: "groq",
		Aliases: map[string]string{"fast": "llama-3.1-70b-versatile"},
	})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), provider.Request{
		Model:    "fast",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-70b-versatile", fake.lastRequest.Model)
}

func TestComplete_ToolCallsTranslated(t *testing.T) {
	fake := &fakeChat{
		completeResp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role: "assistant",
						ToolCalls: []openai.ToolCall{
							{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
						},
					},
					FinishReason: openai.FinishReasonToolCalls,
				},
			},
		},
	}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o-mini"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "weather?"}}}},
		Tools: []provider.ToolDefinition{
			{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, provider.FinishToolCalls, resp.FinishReason)
}

func TestComplete_ClassifiesAPIError(t *testing.T) {
	fake := &fakeChat{completeErr: &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o-mini", ProviderName: "openai"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.Error(t, err)
	pe, ok := apierrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindRateLimited, pe.Kind)
	assert.Equal(t, "openai", pe.Provider)
}

func TestComplete_RequiresMessages(t *testing.T) {
	c, err := New(Options{Client: &fakeChat{}, DefaultModel: "gpt-4o-mini"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), provider.Request{})
	assert.Error(t, err)
}

func TestNewFromConfig_RequiresAPIKey(t *testing.T) {
	_, err := NewFromConfig("", "", "openai", "gpt-4o-mini", nil)
	assert.Error(t, err)
}

func TestEncodeMessage_MultiPartContent(t *testing.T) {
	msg, err := encodeMessage(provider.Message{
		Role: provider.RoleUser,
		Content: []provider.ContentPart{
			{Type: "text", Text: "look at this"},
			{Type: "image_url", ImageURL: "https://example.com/cat.png"},
		},
	})
	require.NoError(t, err)
	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
}

func TestEncodeMessage_RejectsUnknownPartType(t *testing.T) {
	_, err := encodeMessage(provider.Message{
		Role: provider.RoleUser,
		Content: []provider.ContentPart{
			{Type: "text", Text: "a"},
			{Type: "video", Text: "b"},
		},
	})
	assert.Error(t, err)
}

// TestStreamer_ToolCallDeltaAccumulatesByIndex exercises translateStreamChunk
// (the translation Recv applies) directly against hand-built openai stream
// responses, without requiring a live SSE decoder.
func TestStreamer_ToolCallDeltaAccumulatesByIndex(t *testing.T) {
	s := newStreamer(nil)
	idx0 := 0
	resp := openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{Index: &idx0, ID: "call_1", Function: openai.FunctionCall{Name: "get_weather", Arguments: `{"city":`}}},
			}},
		},
	}
	chunk := translateStreamChunk(s, resp)
	require.Equal(t, provider.ChunkToolCallDelta, chunk.Type)
	assert.Equal(t, "call_1", chunk.ToolCallDelta.ID)
	assert.Equal(t, "get_weather", chunk.ToolCallDelta.Name)

	resp2 := openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{Index: &idx0, Function: openai.FunctionCall{Arguments: `"nyc"}`}}},
			}},
		},
	}
	chunk2 := translateStreamChunk(s, resp2)
	assert.Equal(t, `"nyc"}`, chunk2.ToolCallDelta.Delta)
	assert.Equal(t, "call_1", chunk2.ToolCallDelta.ID, "id carries forward from the buffered first delta")
}

// TestEOFSentinelMatchesErrorsIs checks only that errors.Is recognizes
// io.EOF, the sentinel streamer.Recv compares upstream errors against.
func TestEOFSentinelMatchesErrorsIs(t *testing.T) {
	var err error = io.EOF
	assert.True(t, errors.Is(err, io.EOF))
}
