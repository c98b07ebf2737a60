package gemini

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

type fakeModels struct {
	resp       *genai.GenerateContentResponse
	err        error
	streamSeq  iter2
	lastModel  string
	lastConfig *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.lastModel = model
	f.lastConfig = config
	return f.resp, f.err
}

func (f *fakeModels) GenerateContentStream(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) iter2 {
	f.lastModel = model
	f.lastConfig = config
	return f.streamSeq
}

func TestComplete_TranslatesTextAndFunctionCall(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "hi there"},
				{FunctionCall: &genai.FunctionCall{Name: "get_weather", Args: map[string]any{"city": "nyc"}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount: 12, CandidatesTokenCount: 8, TotalTokenCount: 20,
		},
	}}
	cl, err := New(fake, Options{DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: []provider.ContentPart{{Type: "text", Text: "be terse"}}},
			{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "weather?"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, provider.FinishToolCalls, resp.FinishReason)
	assert.EqualValues(t, 20, resp.Usage.TotalTokens)

	require.NotNil(t, fake.lastConfig.SystemInstruction)
	assert.Equal(t, "be terse", fake.lastConfig.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "gemini-2.0-flash", fake.lastModel)
}

func TestComplete_RequiresMessages(t *testing.T) {
	cl, err := New(&fakeModels{}, Options{DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), provider.Request{})
	assert.Error(t, err)
}

func TestComplete_DefaultModelUsedWhenUnset(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{}}
	cl, err := New(fake, Options{DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", fake.lastModel)
}

func TestConvertMessages_FunctionResponseCorrelatesByID(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "weather?"}}},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{}`)}}},
		{Role: provider.RoleTool, ToolCallID: "call_1", Content: []provider.ContentPart{{Type: "text", Text: `{"temp":72}`}}},
	}
	contents, toolNames := convertMessages(msgs)
	require.Len(t, contents, 3)
	assert.Equal(t, "get_weather", toolNames["call_1"])

	last := contents[2]
	require.Len(t, last.Parts, 1)
	require.NotNil(t, last.Parts[0].FunctionResponse)
	assert.Equal(t, "get_weather", last.Parts[0].FunctionResponse.Name)
	assert.EqualValues(t, float64(72), last.Parts[0].FunctionResponse.Response["temp"])
}

func TestDecodeBase64_StripsDataURLPrefix(t *testing.T) {
	out := decodeBase64("data:image/png;base64,aGVsbG8=")
	assert.Equal(t, "hello", string(out))
}

func TestNew_RequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeModels{}, Options{})
	assert.Error(t, err)
}

func TestStream_EmitsContentToolCallAndStop(t *testing.T) {
	seq := func(yield func(*genai.GenerateContentResponse, error) bool) {
		if !yield(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "part one"}}},
		}}}, nil) {
			return
		}
		if !yield(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{}}}}},
		}}}, nil) {
			return
		}
	}
	fake := &fakeModels{streamSeq: seq}
	cl, err := New(fake, Options{DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)

	s, err := cl.Stream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	defer s.Close()

	c1, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, provider.ChunkContent, c1.Type)
	assert.Equal(t, "part one", c1.ContentDelta)

	c2, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, provider.ChunkToolCall, c2.Type)
	assert.Equal(t, "lookup", c2.ToolCall.Name)

	c3, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, provider.ChunkStop, c3.Type)
	assert.Equal(t, provider.FinishToolCalls, c3.FinishReason)

	_, err = s.Recv()
	assert.Error(t, err)
}
