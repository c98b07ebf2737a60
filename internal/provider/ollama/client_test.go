package ollama

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

type fakeDoer struct {
	status      int
	body        string
	err         error
	lastRequest *http.Request
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestComplete_FoldsNDJSONStreamIntoResponse(t *testing.T) {
	body := strings.Join([]string{
		`{"message":{"role":"assistant","content":"hel"}}`,
		`{"message":{"role":"assistant","content":"lo"}}`,
		`{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","function":{"name":"get_weather","arguments":{"city":"nyc"}}}]},"done":true,"eval_count":5,"prompt_eval_count":10}`,
	}, "\n")
	doer := &fakeDoer{body: body}
	cl, err := NewWithDoer(doer, Options{DefaultModel: "llama3"})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, provider.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestStream_PropagatesHTTPErrorStatus(t *testing.T) {
	doer := &fakeDoer{status: http.StatusBadRequest, body: `{"error":"model not found"}`}
	cl, err := NewWithDoer(doer, Options{DefaultModel: "llama3"})
	require.NoError(t, err)

	_, err = cl.Stream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestStream_RequiresMessages(t *testing.T) {
	doer := &fakeDoer{}
	cl, err := NewWithDoer(doer, Options{DefaultModel: "llama3"})
	require.NoError(t, err)

	_, err = cl.Stream(context.Background(), provider.Request{})
	assert.Error(t, err)
}

func TestBuildMessages_ResolvesToolResultNameByCallID(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.RoleUser, Content: []provider.ContentPart{{Type: "text", Text: "weather?"}}},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "get_weather"}}},
		{Role: provider.RoleTool, ToolCallID: "call_1", Content: []provider.ContentPart{{Type: "text", Text: "72F"}}},
	}
	out := buildMessages(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, "get_weather", out[2].ToolName)
	assert.Equal(t, "72F", out[2].Content)
}

func TestNewWithDoer_RequiresDefaultModel(t *testing.T) {
	_, err := NewWithDoer(&fakeDoer{}, Options{})
	assert.Error(t, err)
}

func TestNew_DefaultsBaseURL(t *testing.T) {
	cl, err := New(Options{DefaultModel: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", cl.baseURL)
}
