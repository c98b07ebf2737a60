package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/engine"
	"github.com/eL1fe/assistants-gateway/internal/gateway/dto"
	"github.com/eL1fe/assistants-gateway/internal/provider"
	"github.com/eL1fe/assistants-gateway/internal/store/inmem"
)

// fakeClient is a scripted provider.Client, grounded on the same fixture
// the Run Engine's own tests use.
type fakeClient struct {
	completions []provider.Response
	calls       int
}

func (f *fakeClient) Complete(_ context.Context, _ provider.Request) (provider.Response, error) {
	i := f.calls
	f.calls++
	return f.completions[i], nil
}

func (f *fakeClient) Stream(_ context.Context, _ provider.Request) (provider.Streamer, error) {
	return nil, context.Canceled
}

func newTestGateway(t *testing.T, client provider.Client) *Gateway {
	t.Helper()
	st := inmem.New()
	resolver := engine.ProviderResolverFunc(func(string) (provider.Client, error) { return client, nil })
	eng := engine.New(st, resolver, engine.WithRunTimeout(5*time.Second))
	return New(st, eng)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAssistantCRUD(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, &fakeClient{})
	h := g.Router()

	rec := doJSON(t, h, http.MethodPost, "/v1/assistants", dto.CreateAssistantRequest{Model: "gpt-4o-mini", Name: "A"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created dto.Assistant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "assistant", created.Object)
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, h, http.MethodGet, "/v1/assistants/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/assistants/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted dto.Deleted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	require.True(t, deleted.Deleted)
	require.Equal(t, "assistant.deleted", deleted.Object)

	rec = doJSON(t, h, http.MethodGet, "/v1/assistants/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingModelRejected(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, &fakeClient{})
	h := g.Router()

	rec := doJSON(t, h, http.MethodPost, "/v1/assistants", dto.CreateAssistantRequest{Name: "no model"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThreadMessageRunEndToEnd(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, &fakeClient{
		completions: []provider.Response{{Content: "hi there", FinishReason: provider.FinishStop}},
	})
	h := g.Router()

	rec := doJSON(t, h, http.MethodPost, "/v1/assistants", dto.CreateAssistantRequest{Model: "gpt-4o-mini"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var assistant dto.Assistant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assistant))

	rec = doJSON(t, h, http.MethodPost, "/v1/threads", dto.CreateThreadRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var thread dto.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))

	msgBody := dto.CreateMessageRequest{Role: "user", Content: json.RawMessage(`"what's up"`)}
	rec = doJSON(t, h, http.MethodPost, "/v1/threads/"+thread.ID+"/messages", msgBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/threads/"+thread.ID+"/runs", dto.CreateRunRequest{AssistantID: assistant.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var run dto.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, "thread.run", run.Object)

	deadline := time.Now().Add(time.Second)
	for {
		rec = doJSON(t, h, http.MethodGet, "/v1/threads/"+thread.ID+"/runs/"+run.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		if run.Status == "completed" || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, "completed", run.Status)

	rec = doJSON(t, h, http.MethodGet, "/v1/threads/"+thread.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list dto.List[dto.Message]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
}

func TestAuthRejectsMissingBearer(t *testing.T) {
	t.Parallel()
	st := inmem.New()
	resolver := engine.ProviderResolverFunc(func(string) (provider.Client, error) { return &fakeClient{}, nil })
	eng := engine.New(st, resolver)
	g := New(st, eng, WithAPIKeys([]string{"secret"}))
	h := g.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/assistants", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/assistants", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
