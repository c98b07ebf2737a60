package engine

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/provider"
	"github.com/eL1fe/assistants-gateway/internal/store/inmem"
	"github.com/eL1fe/assistants-gateway/internal/tools"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// fakeClient is a scripted provider.Client: each call to Complete/Stream
// pops the next entry off its queue. Grounded on the teacher's
// features/model/anthropic fake MessagesClient pattern (script a fixed
// sequence of responses, assert the engine consumes them in order).
type fakeClient struct {
	completions []provider.Response
	completeErr []error
	streams     [][]provider.Chunk
	calls       int
}

func (f *fakeClient) Complete(_ context.Context, _ provider.Request) (provider.Response, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.completeErr) {
		err = f.completeErr[i]
	}
	if err != nil {
		return provider.Response{}, err
	}
	return f.completions[i], nil
}

func (f *fakeClient) Stream(_ context.Context, _ provider.Request) (provider.Streamer, error) {
	i := f.calls
	f.calls++
	return &fakeStreamer{chunks: f.streams[i]}, nil
}

type fakeStreamer struct {
	chunks []provider.Chunk
	idx    int
}

func (s *fakeStreamer) Recv() (provider.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return provider.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStreamer) Close() error { return nil }

func newTestEngine(t *testing.T, client provider.Client) (*Engine, *inmem.Store) {
	t.Helper()
	st := inmem.New()
	resolver := ProviderResolverFunc(func(string) (provider.Client, error) { return client, nil })
	e := New(st, resolver, WithRunTimeout(5*time.Second))
	return e, st
}

func newThread(t *testing.T, st *inmem.Store) types.Thread {
	t.Helper()
	th, err := st.CreateThread(context.Background(), types.Thread{})
	require.NoError(t, err)
	return th
}

func waitForTerminal(t *testing.T, e *Engine, runID string, timeout time.Duration) types.Run {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		run, ok := e.GetRun(runID)
		require.True(t, ok)
		if isTerminal(run.Status) {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s did not reach a terminal state in time (status=%s)", runID, run.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCreateRunBlockingCompletion(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		completions: []provider.Response{
			{Content: "hello there", FinishReason: provider.FinishStop},
		},
	}
	e, st := newTestEngine(t, client)
	th := newThread(t, st)
	assistant := types.Assistant{ID: "asst_1", Model: "gpt-4o-mini", Instructions: "be nice"}

	handle, err := e.CreateRun(context.Background(), CreateRunParams{ThreadID: th.ID, Assistant: assistant})
	require.NoError(t, err)
	require.Equal(t, types.RunQueued, handle.Run.Status)

	run := waitForTerminal(t, e, handle.Run.ID, time.Second)
	require.Equal(t, types.RunCompleted, run.Status)
	require.Greater(t, run.Usage.OutputTokens, int64(0))

	page, err := st.ListMessages(context.Background(), th.ID, storeListParams(""))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, types.RoleAssistant, page.Items[0].Role)
	require.Equal(t, "hello there", page.Items[0].Content[0].Text)
}

func TestCreateRunToolCallingLoop(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		completions: []provider.Response{
			{
				FinishReason: provider.FinishToolCalls,
				ToolCalls: []provider.ToolCall{
					{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Tokyo"}`)},
				},
			},
			{Content: "it is sunny in Tokyo", FinishReason: provider.FinishStop},
		},
	}
	e, st := newTestEngine(t, client)
	th := newThread(t, st)
	assistant := types.Assistant{
		ID: "asst_1", Model: "gpt-4o-mini",
		Tools: []types.Tool{{Type: "function", Function: &types.ToolFuncSpec{Name: "get_weather"}}},
	}
	registry := tools.NewRegistry(&tools.Spec{
		Name: "get_weather",
		Executor: tools.ExecutorFunc(func(_ context.Context, _ tools.Context, _ json.RawMessage) (any, error) {
			return map[string]any{"forecast": "sunny"}, nil
		}),
	})

	handle, err := e.CreateRun(context.Background(), CreateRunParams{
		ThreadID: th.ID, Assistant: assistant, Registry: registry,
	})
	require.NoError(t, err)

	run := waitForTerminal(t, e, handle.Run.ID, time.Second)
	require.Equal(t, types.RunCompleted, run.Status)

	page, err := st.ListMessages(context.Background(), th.ID, storeListParams(""))
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	require.Equal(t, types.RoleAssistant, page.Items[0].Role)
	require.Len(t, page.Items[0].ToolCalls, 1)
	require.Equal(t, types.RoleTool, page.Items[1].Role)
	require.Equal(t, types.RoleAssistant, page.Items[2].Role)
	require.Equal(t, "it is sunny in Tokyo", page.Items[2].Content[0].Text)
}

func TestCreateRunRequiresActionThenSubmitToolOutputs(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		completions: []provider.Response{
			{
				FinishReason: provider.FinishToolCalls,
				ToolCalls: []provider.ToolCall{
					{ID: "call_1", Name: "send_email", Arguments: json.RawMessage(`{}`)},
				},
			},
			{Content: "email sent", FinishReason: provider.FinishStop},
		},
	}
	e, st := newTestEngine(t, client)
	th := newThread(t, st)
	assistant := types.Assistant{
		ID: "asst_1", Model: "gpt-4o-mini",
		Tools: []types.Tool{{Type: "function", Function: &types.ToolFuncSpec{Name: "send_email"}}},
	}
	registry := tools.NewRegistry(&tools.Spec{Name: "send_email", RequiresApproval: true})

	handle, err := e.CreateRun(context.Background(), CreateRunParams{
		ThreadID: th.ID, Assistant: assistant, Registry: registry,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	var run types.Run
	for {
		run, _ = e.GetRun(handle.Run.ID)
		if run.Status == types.RunRequiresAction {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never reached requires_action (status=%s)", run.Status)
		}
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, run.RequiredAction)
	require.Len(t, run.RequiredAction.SubmitToolOutputs.ToolCalls, 1)
	callID := run.RequiredAction.SubmitToolOutputs.ToolCalls[0].ID
	require.Equal(t, "call_1", callID)

	_, err = e.SubmitToolOutputs(handle.Run.ID, []types.ToolResult{
		{ToolCallID: callID, Output: `{"status":"sent"}`},
	}, false)
	require.NoError(t, err)

	final := waitForTerminal(t, e, handle.Run.ID, time.Second)
	require.Equal(t, types.RunCompleted, final.Status)
}

func TestCreateRunSubmitToolOutputsRejectsMismatch(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		completions: []provider.Response{
			{
				FinishReason: provider.FinishToolCalls,
				ToolCalls: []provider.ToolCall{
					{ID: "call_1", Name: "send_email", Arguments: json.RawMessage(`{}`)},
				},
			},
		},
	}
	e, st := newTestEngine(t, client)
	th := newThread(t, st)
	assistant := types.Assistant{
		ID: "asst_1", Model: "gpt-4o-mini",
		Tools: []types.Tool{{Type: "function", Function: &types.ToolFuncSpec{Name: "send_email"}}},
	}
	registry := tools.NewRegistry(&tools.Spec{Name: "send_email", RequiresApproval: true})

	handle, err := e.CreateRun(context.Background(), CreateRunParams{
		ThreadID: th.ID, Assistant: assistant, Registry: registry,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for {
		run, _ := e.GetRun(handle.Run.ID)
		if run.Status == types.RunRequiresAction {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never reached requires_action")
		}
		time.Sleep(time.Millisecond)
	}

	_, err = e.SubmitToolOutputs(handle.Run.ID, []types.ToolResult{
		{ToolCallID: "call_wrong_id", Output: "x"},
	}, false)
	require.Error(t, err)
}

func TestCreateRunCancellation(t *testing.T) {
	t.Parallel()
	client := &blockingClient{release: make(chan struct{})}
	e, st := newTestEngine(t, client)
	th := newThread(t, st)
	assistant := types.Assistant{ID: "asst_1", Model: "gpt-4o-mini"}

	handle, err := e.CreateRun(context.Background(), CreateRunParams{ThreadID: th.ID, Assistant: assistant})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for {
		run, _ := e.GetRun(handle.Run.ID)
		if run.Status == types.RunInProgress {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never reached in_progress")
		}
		time.Sleep(time.Millisecond)
	}

	_, err = e.CancelRun(handle.Run.ID)
	require.NoError(t, err)

	run := waitForTerminal(t, e, handle.Run.ID, time.Second)
	require.Equal(t, types.RunCancelled, run.Status)
}

// blockingClient never returns from Complete until its context is
// cancelled (or release is closed), modeling a provider call that only ends
// when the engine aborts it.
type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) Complete(ctx context.Context, _ provider.Request) (provider.Response, error) {
	select {
	case <-ctx.Done():
		return provider.Response{}, ctx.Err()
	case <-b.release:
		return provider.Response{Content: "too late", FinishReason: provider.FinishStop}, nil
	}
}

func (b *blockingClient) Stream(ctx context.Context, _ provider.Request) (provider.Streamer, error) {
	return nil, ctx.Err()
}

func TestCreateRunIterationCapReachesIncomplete(t *testing.T) {
	t.Parallel()
	var completions []provider.Response
	for i := 0; i < 3; i++ {
		completions = append(completions, provider.Response{
			FinishReason: provider.FinishToolCalls,
			ToolCalls: []provider.ToolCall{
				{ID: toolCallID(i), Name: "noop", Arguments: json.RawMessage(`{}`)},
			},
		})
	}
	client := &fakeClient{completions: completions}
	e, st := newTestEngine(t, client)
	th := newThread(t, st)
	assistant := types.Assistant{
		ID: "asst_1", Model: "gpt-4o-mini",
		Tools: []types.Tool{{Type: "function", Function: &types.ToolFuncSpec{Name: "noop"}}},
	}
	registry := tools.NewRegistry(&tools.Spec{
		Name: "noop",
		Executor: tools.ExecutorFunc(func(_ context.Context, _ tools.Context, _ json.RawMessage) (any, error) {
			return "ok", nil
		}),
	})

	handle, err := e.CreateRun(context.Background(), CreateRunParams{
		ThreadID: th.ID, Assistant: assistant, Registry: registry, MaxIterations: 3,
	})
	require.NoError(t, err)

	run := waitForTerminal(t, e, handle.Run.ID, 2*time.Second)
	require.Equal(t, types.RunIncomplete, run.Status)
	require.Equal(t, types.ReasonMaxIterations, run.IncompleteReason)
}

func toolCallID(i int) string {
	return "call_" + string(rune('a'+i))
}

func TestCreateRunStreamingEmitsDeltasAndCompletes(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		streams: [][]provider.Chunk{
			{
				{Type: provider.ChunkContent, ContentDelta: "hel"},
				{Type: provider.ChunkContent, ContentDelta: "lo"},
				{Type: provider.ChunkStop, FinishReason: provider.FinishStop},
			},
		},
	}
	e, st := newTestEngine(t, client)
	th := newThread(t, st)
	assistant := types.Assistant{ID: "asst_1", Model: "gpt-4o-mini"}

	handle, err := e.CreateRun(context.Background(), CreateRunParams{ThreadID: th.ID, Assistant: assistant, Stream: true})
	require.NoError(t, err)
	require.NotNil(t, handle.Events)

	var deltas []string
	var sawCompleted bool
	for ev := range handle.Events {
		if ev.Name == EventMessageDelta {
			var payload struct{ Delta string `json:"delta"` }
			require.NoError(t, json.Unmarshal(ev.Data, &payload))
			deltas = append(deltas, payload.Delta)
		}
		if ev.Name == EventRunCompleted {
			sawCompleted = true
		}
		if ev.Name == EventDone {
			break
		}
	}
	require.Equal(t, []string{"hel", "lo"}, deltas)
	require.True(t, sawCompleted)

	run, ok := e.GetRun(handle.Run.ID)
	require.True(t, ok)
	require.Equal(t, types.RunCompleted, run.Status)
}
