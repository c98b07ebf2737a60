package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/provider"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/tools"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// execute runs rs to a terminal state. It is the only writer of rs.run for
// the lifetime of the Run apart from CancelRun, which closes the cancel
// signal and sets the cancelling status on a non-terminal Run;
// SubmitToolOutputs only hands off the submitted outputs.
func (e *Engine) execute(rs *runState) {
	defer close(rs.done)
	defer rs.bus.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Unix(rs.run.ExpiresAt, 0))
	defer cancel()

	rs.mu.Lock()
	rs.run.Status = types.RunInProgress
	rs.run.StartedAt = time.Now().Unix()
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	rs.bus.Send(Event{Name: EventRunInProgress, Data: mustJSON(run)})
	log.Info().Str("run_id", run.ID).Str("thread_id", run.ThreadID).Str("model", run.Config.Model).Msg("run_started")

	conv, err := e.loadConversation(ctx, rs.run.ThreadID)
	if err != nil {
		e.transitionFailed(rs, classifyError(err))
		return
	}

	for {
		if rs.isCancelled() {
			e.transitionCancelled(rs)
			return
		}
		if ctx.Err() != nil {
			e.transitionExpired(rs)
			return
		}

		rs.mu.Lock()
		iterations := rs.run.Iterations
		maxIter := rs.run.Config.MaxIterations
		cfg := rs.run.Config
		rs.mu.Unlock()
		log.Debug().Str("run_id", rs.run.ID).Int("iteration", iterations).Msg("run_iteration_start")
		if iterations >= maxIter {
			log.Info().Str("run_id", rs.run.ID).Int("max_iterations", maxIter).Msg("run_iteration_cap_reached")
			e.transitionIncomplete(rs, types.ReasonMaxIterations)
			return
		}

		client, err := e.providers.Resolve(cfg.Model)
		if err != nil {
			e.transitionFailed(rs, classifyError(err))
			return
		}

		req := buildRequest(cfg, conv)
		msgID := ids.New(ids.Message)
		stub := types.Message{
			ID: msgID, ThreadID: rs.run.ThreadID, Role: types.RoleAssistant,
			Status: types.MessageInProgress, RunID: rs.run.ID, CreatedAt: time.Now().Unix(),
		}
		rs.bus.Send(Event{Name: EventMessageCreated, Data: mustJSON(stub)})
		rs.bus.Send(Event{Name: EventMessageInProgress, Data: mustJSON(stub)})

		resp, cancelled, err := e.invoke(ctx, rs, client, req, msgID)
		if cancelled {
			e.transitionCancelled(rs)
			return
		}
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				e.transitionExpired(rs)
				return
			}
			e.transitionFailed(rs, classifyError(err))
			return
		}

		rs.mu.Lock()
		rs.run.Iterations++
		usage := resolveUsage(resp.Usage, req.Messages, resp.Content)
		rs.run.Usage.InputTokens += usage.InputTokens
		rs.run.Usage.OutputTokens += usage.OutputTokens
		rs.run.Usage.TotalTokens += usage.TotalTokens
		rs.mu.Unlock()

		switch resp.FinishReason {
		case provider.FinishStop, provider.FinishLength:
			m := types.Message{
				ID: msgID, ThreadID: rs.run.ThreadID, Role: types.RoleAssistant,
				Content: textContent(resp.Content), Status: types.MessageCompleted,
				RunID: rs.run.ID, CreatedAt: time.Now().Unix(),
			}
			saved, err := e.store.AppendMessage(ctx, rs.run.ThreadID, m)
			if err != nil {
				e.transitionFailed(rs, classifyError(err))
				return
			}
			rs.bus.Send(Event{Name: EventMessageCompleted, Data: mustJSON(saved)})

			if resp.FinishReason == provider.FinishLength {
				e.transitionIncomplete(rs, types.ReasonMaxTokens)
				return
			}
			e.transitionCompleted(rs)
			return

		case provider.FinishToolCalls:
			assistantMsg := types.Message{
				ID: msgID, ThreadID: rs.run.ThreadID, Role: types.RoleAssistant,
				Content: textContent(resp.Content), Status: types.MessageCompleted,
				RunID: rs.run.ID, CreatedAt: time.Now().Unix(), ToolCalls: toTypeToolCalls(resp.ToolCalls),
			}
			saved, err := e.store.AppendMessage(ctx, rs.run.ThreadID, assistantMsg)
			if err != nil {
				e.transitionFailed(rs, classifyError(err))
				return
			}
			rs.bus.Send(Event{Name: EventMessageCompleted, Data: mustJSON(saved)})
			conv = append(conv, toProviderMessage(saved))

			outcome, err := e.dispatchToolCalls(ctx, rs, resp.ToolCalls)
			if err != nil {
				e.transitionFailed(rs, classifyError(err))
				return
			}
			conv = append(conv, outcome.resolvedTurns...)

			if len(outcome.external) == 0 {
				continue
			}

			resumeOutputs, cancelled := e.suspendForAction(ctx, rs, outcome.external)
			if cancelled {
				e.transitionCancelled(rs)
				return
			}
			if resumeOutputs == nil {
				e.transitionExpired(rs)
				return
			}
			resolvedTurns, err := e.persistToolResultTurns(ctx, rs, externalResultTurns(outcome.external, resumeOutputs))
			if err != nil {
				e.transitionFailed(rs, classifyError(err))
				return
			}
			conv = append(conv, resolvedTurns...)
			continue

		default:
			e.transitionFailed(rs, &types.LastError{Code: "server_error", Message: "provider returned an unrecognized finish reason"})
			return
		}
	}
}

// invoke performs a single model call, blocking or streaming per
// rs.streamMode, aborting promptly if the Run is cancelled mid-call.
func (e *Engine) invoke(ctx context.Context, rs *runState, client provider.Client, req provider.Request, msgID string) (provider.Response, bool, error) {
	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-rs.cancelCh:
			cancelCall()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	rs.mu.Lock()
	streaming := rs.streamMode
	rs.mu.Unlock()

	var resp provider.Response
	var err error
	if streaming {
		resp, err = e.invokeStreaming(callCtx, rs, client, req, msgID)
	} else {
		resp, err = client.Complete(callCtx, req)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && rs.isCancelled() {
			return provider.Response{}, true, nil
		}
		return provider.Response{}, false, err
	}
	return resp, false, nil
}

func (e *Engine) invokeStreaming(ctx context.Context, rs *runState, client provider.Client, req provider.Request, msgID string) (provider.Response, error) {
	stream, err := client.Stream(ctx, req)
	if err != nil {
		return provider.Response{}, err
	}
	defer stream.Close()

	var content, finishReason = "", provider.FinishReason("")
	var usage provider.TokenUsage
	toolCalls := map[int]*provider.ToolCall{}
	toolIDIndex := map[string]int{}
	toolArgBuf := map[int]*strings.Builder{}
	order := []int{}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return provider.Response{}, err
		}
		switch chunk.Type {
		case provider.ChunkContent:
			if chunk.ContentDelta != "" {
				content += chunk.ContentDelta
				rs.bus.Send(Event{Name: EventMessageDelta, Data: mustJSON(map[string]string{"message_id": msgID, "delta": chunk.ContentDelta})})
			}
		case provider.ChunkToolCall:
			if chunk.ToolCall != nil {
				tc := *chunk.ToolCall
				// Anthropic and Bedrock stream a call's arguments as
				// ChunkToolCallDelta fragments and then emit one final,
				// fully-joined ChunkToolCall for the same ID when the
				// content block closes; match it back to the index already
				// opened by the deltas instead of adding a duplicate entry.
				// Gemini and Ollama never stream deltas and always reach
				// this branch fresh.
				if idx, seen := toolIDIndex[tc.ID]; tc.ID != "" && seen {
					toolCalls[idx] = &tc
					break
				}
				idx := len(order)
				toolCalls[idx] = &tc
				if tc.ID != "" {
					toolIDIndex[tc.ID] = idx
				}
				order = append(order, idx)
			}
		case provider.ChunkToolCallDelta:
			if d := chunk.ToolCallDelta; d != nil {
				buf, ok := toolArgBuf[d.Index]
				if !ok {
					buf = &strings.Builder{}
					toolArgBuf[d.Index] = buf
					if _, seen := toolCalls[d.Index]; !seen {
						toolCalls[d.Index] = &provider.ToolCall{ID: d.ID, Name: d.Name}
						order = append(order, d.Index)
					}
				}
				buf.WriteString(d.Delta)
				if d.ID != "" {
					toolCalls[d.Index].ID = d.ID
					toolIDIndex[d.ID] = d.Index
				}
				if d.Name != "" {
					toolCalls[d.Index].Name = d.Name
				}
			}
		case provider.ChunkUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case provider.ChunkStop:
			finishReason = chunk.FinishReason
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}

	var calls []provider.ToolCall
	for _, idx := range order {
		tc := toolCalls[idx]
		if buf, ok := toolArgBuf[idx]; ok {
			tc.Arguments = parseArgsOrEmpty(buf.String())
		}
		if tc.ID == "" {
			tc.ID = ids.New(ids.ToolCall)
		}
		calls = append(calls, *tc)
	}
	if finishReason == "" {
		if len(calls) > 0 {
			finishReason = provider.FinishToolCalls
		} else {
			finishReason = provider.FinishStop
		}
	}
	return provider.Response{Content: content, ToolCalls: calls, FinishReason: finishReason, Usage: usage}, nil
}

func parseArgsOrEmpty(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

// toolOutcome is the result of dispatching one assistant turn's tool calls.
type toolOutcome struct {
	resolvedTurns []provider.Message
	external      []types.RequiredToolCall
}

// dispatchToolCalls resolves one assistant turn's tool calls: a call naming
// a tool the Run does not declare gets a "Tool not found" error result, a
// declared tool the registry executes gets its result (or error), and a
// declared tool the registry reports as unregistered or approval-gated is
// returned as needing external resolution. Execution runs concurrently
// when ParallelToolCalls is set, sequentially otherwise; results are always folded back in the model's
// original call order.
func (e *Engine) dispatchToolCalls(ctx context.Context, rs *runState, calls []provider.ToolCall) (toolOutcome, error) {
	rs.mu.Lock()
	declared := map[string]bool{}
	for _, t := range rs.run.Config.Tools {
		if t.Type == "function" && t.Function != nil {
			declared[t.Function.Name] = true
		}
	}
	parallel := rs.run.Config.ParallelToolCalls
	rs.mu.Unlock()

	type resolved struct {
		turn     provider.Message
		external *types.RequiredToolCall
	}
	results := make([]resolved, len(calls))

	run := func(i int) {
		tc := calls[i]
		if !declared[tc.Name] {
			results[i] = resolved{turn: toolResultTurn(tc.ID, toolErrorOutput("Tool not found: "+tc.Name))}
			return
		}
		toolCtx, toolCancel := context.WithTimeout(ctx, defaultToolTimeout)
		defer toolCancel()
		tctx := tools.Context{AgentID: rs.run.AssistantID, RunID: rs.run.ID, CancelSignal: rs.cancelCh}
		out, err := rs.registry.Execute(toolCtx, tctx, tc.Name, tc.Arguments)
		switch {
		case isExternal(err):
			results[i] = resolved{external: &types.RequiredToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}}
		case errors.Is(err, context.DeadlineExceeded):
			results[i] = resolved{turn: toolResultTurn(tc.ID, toolErrorOutput("timed out"))}
		case err != nil:
			results[i] = resolved{turn: toolResultTurn(tc.ID, toolErrorOutput(err.Error()))}
		default:
			buf, mErr := json.Marshal(out)
			if mErr != nil {
				results[i] = resolved{turn: toolResultTurn(tc.ID, toolErrorOutput("failed to encode tool result"))}
				return
			}
			results[i] = resolved{turn: toolResultTurn(tc.ID, string(buf))}
		}
	}

	if parallel && len(calls) > 1 {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(i int) { defer wg.Done(); run(i) }(i)
		}
		wg.Wait()
	} else {
		for i := range calls {
			run(i)
		}
	}

	out := toolOutcome{}
	var turns []provider.Message
	for _, r := range results {
		if r.external != nil {
			out.external = append(out.external, *r.external)
			continue
		}
		turns = append(turns, r.turn)
	}
	resolvedTurns, err := e.persistToolResultTurns(ctx, rs, turns)
	if err != nil {
		return toolOutcome{}, err
	}
	out.resolvedTurns = resolvedTurns
	return out, nil
}

// persistToolResultTurns writes each tool-role turn to the Store and emits
// thread.message.completed for it, returning the turns unchanged for the
// caller to fold into the provider conversation. Shared by the in-process
// tool-execution path above and the externally-submitted tool_outputs path
// in execute, so neither leaves an assistant message's tool_calls without a
// matching persisted tool Message (data-model invariant (b)).
func (e *Engine) persistToolResultTurns(ctx context.Context, rs *runState, turns []provider.Message) ([]provider.Message, error) {
	for _, t := range turns {
		saved, err := e.store.AppendMessage(ctx, rs.run.ThreadID, toolResultMessage(rs.run, t.ToolCallID, t))
		if err != nil {
			return nil, err
		}
		rs.bus.Send(Event{Name: EventMessageCompleted, Data: mustJSON(saved)})
	}
	return turns, nil
}

func isExternal(err error) bool {
	var reqApproval tools.ErrRequiresApproval
	var notReg tools.ErrNotRegistered
	return errors.As(err, &reqApproval) || errors.As(err, &notReg)
}

func toolResultTurn(toolCallID, output string) provider.Message {
	return provider.Message{
		Role:       provider.RoleTool,
		Content:    []provider.ContentPart{{Type: "text", Text: output}},
		ToolCallID: toolCallID,
	}
}

func toolResultMessage(run types.Run, toolCallID string, turn provider.Message) types.Message {
	text := ""
	if len(turn.Content) > 0 {
		text = turn.Content[0].Text
	}
	return types.Message{
		ThreadID: run.ThreadID, Role: types.RoleTool, ToolCallID: toolCallID,
		Content: []types.ContentPart{{Type: types.ContentText, Text: text}},
		Status:  types.MessageCompleted, RunID: run.ID, CreatedAt: time.Now().Unix(),
	}
}

// suspendForAction publishes requires_action and blocks until tool outputs
// are submitted, the Run is cancelled, or the Run's deadline passes. It
// returns (outputs, false) on resume, (nil, true) on cancellation, and
// (nil, false) on expiration.
func (e *Engine) suspendForAction(ctx context.Context, rs *runState, external []types.RequiredToolCall) ([]types.ToolResult, bool) {
	rs.mu.Lock()
	rs.run.Status = types.RunRequiresAction
	rs.run.RequiredAction = &types.RequiredAction{Type: "submit_tool_outputs", SubmitToolOutputs: types.SubmitToolOutputs{ToolCalls: external}}
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	rs.bus.Send(Event{Name: EventRunRequiresAction, Data: mustJSON(run)})

	select {
	case outputs := <-rs.resumeCh:
		rs.mu.Lock()
		rs.run.Status = types.RunInProgress
		rs.run.RequiredAction = nil
		run := cloneRun(rs.run)
		rs.mu.Unlock()
		rs.bus.Send(Event{Name: EventRunInProgress, Data: mustJSON(run)})
		return outputs, false
	case <-rs.cancelCh:
		return nil, true
	case <-ctx.Done():
		return nil, false
	}
}

func externalResultTurns(required []types.RequiredToolCall, outputs []types.ToolResult) []provider.Message {
	byID := make(map[string]string, len(outputs))
	for _, o := range outputs {
		byID[o.ToolCallID] = o.Output
	}
	turns := make([]provider.Message, 0, len(required))
	for _, r := range required {
		turns = append(turns, toolResultTurn(r.ID, byID[r.ID]))
	}
	return turns
}

// ---- transitions ----

func (e *Engine) transitionCompleted(rs *runState) {
	rs.mu.Lock()
	rs.run.Status = types.RunCompleted
	rs.run.CompletedAt = time.Now().Unix()
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	rs.bus.Send(Event{Name: EventRunCompleted, Data: mustJSON(run)})
	log.Info().Str("run_id", run.ID).Int("iterations", run.Iterations).Int64("total_tokens", run.Usage.TotalTokens).Msg("run_completed")
}

func (e *Engine) transitionIncomplete(rs *runState, reason types.IncompleteReason) {
	rs.mu.Lock()
	rs.run.Status = types.RunIncomplete
	rs.run.IncompleteReason = reason
	rs.run.CompletedAt = time.Now().Unix()
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	rs.bus.Send(Event{Name: EventRunCompleted, Data: mustJSON(run)})
}

func (e *Engine) transitionFailed(rs *runState, lastErr *types.LastError) {
	rs.mu.Lock()
	rs.run.Status = types.RunFailed
	rs.run.FailedAt = time.Now().Unix()
	rs.run.LastError = lastErr
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	rs.bus.Send(Event{Name: EventRunFailed, Data: mustJSON(run)})
	log.Error().Str("run_id", run.ID).Str("code", lastErr.Code).Str("message", lastErr.Message).Msg("run_failed")
}

func (e *Engine) transitionCancelled(rs *runState) {
	rs.mu.Lock()
	rs.run.Status = types.RunCancelled
	rs.run.CancelledAt = time.Now().Unix()
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	rs.bus.Send(Event{Name: EventRunCancelled, Data: mustJSON(run)})
}

func (e *Engine) transitionExpired(rs *runState) {
	rs.mu.Lock()
	rs.run.Status = types.RunExpired
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	rs.bus.Send(Event{Name: EventRunFailed, Data: mustJSON(run)})
}

// ---- conversation assembly ----

func (e *Engine) loadConversation(ctx context.Context, threadID string) ([]provider.Message, error) {
	var out []provider.Message
	after := ""
	for {
		page, err := e.store.ListMessages(ctx, threadID, storeListParams(after))
		if err != nil {
			return nil, err
		}
		for _, m := range page.Items {
			out = append(out, toProviderMessage(m))
		}
		if !page.HasMore || len(page.Items) == 0 {
			break
		}
		after = page.Items[len(page.Items)-1].ID
	}
	return out, nil
}

func buildRequest(cfg types.RunConfig, conv []provider.Message) provider.Request {
	system := cfg.Instructions
	if cfg.AdditionalInstructions != "" {
		if system != "" {
			system += "\n\n" + cfg.AdditionalInstructions
		} else {
			system = cfg.AdditionalInstructions
		}
	}
	messages := make([]provider.Message, 0, len(conv)+1)
	if system != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: []provider.ContentPart{{Type: "text", Text: system}}})
	}
	messages = append(messages, conv...)

	var toolDefs []provider.ToolDefinition
	for _, t := range cfg.Tools {
		if t.Type != "function" || t.Function == nil {
			continue
		}
		toolDefs = append(toolDefs, provider.ToolDefinition{
			Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters,
		})
	}
	var choice *provider.ToolChoice
	if len(toolDefs) > 0 {
		choice = &provider.ToolChoice{Mode: provider.ToolChoiceAuto}
	}

	var rf *provider.ResponseFormat
	if cfg.ResponseFormat != nil {
		rf = &provider.ResponseFormat{Type: cfg.ResponseFormat.Type, Schema: cfg.ResponseFormat.Schema, Name: cfg.ResponseFormat.Name}
	}

	return provider.Request{
		Model: cfg.Model, Messages: messages, Tools: toolDefs, ToolChoice: choice,
		Temperature: cfg.Temperature, TopP: cfg.TopP, ResponseFormat: rf,
	}
}

func storeListParams(after string) store.ListMessagesParams {
	return store.ListMessagesParams{Limit: 100, Order: store.OrderAsc, After: after}
}

func toProviderMessage(m types.Message) provider.Message {
	return provider.Message{
		Role:       provider.Role(m.Role),
		Content:    toProviderContent(m.Content),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
		ToolCalls:  toProviderToolCalls(m.ToolCalls),
	}
}

func toProviderContent(parts []types.ContentPart) []provider.ContentPart {
	out := make([]provider.ContentPart, 0, len(parts))
	for _, p := range parts {
		out = append(out, provider.ContentPart{
			Type: string(p.Type), Text: p.Text, ImageURL: p.ImageURL, ImageBase64: p.ImageBase64, MIMEType: p.MIMEType,
		})
	}
	return out
}

func toProviderToolCalls(calls []types.ToolCall) []provider.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, provider.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

func toTypeToolCalls(calls []provider.ToolCall) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, types.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

func textContent(s string) []types.ContentPart {
	if s == "" {
		return nil
	}
	return []types.ContentPart{{Type: types.ContentText, Text: s}}
}

func toolErrorOutput(msg string) string {
	buf, _ := json.Marshal(map[string]string{"error": msg})
	return string(buf)
}
