package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/engine"
	"github.com/eL1fe/assistants-gateway/internal/gateway/dto"
	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// runParams builds an engine.CreateRunParams from a CreateRunRequest and the
// Assistant it targets. Model/Instructions/Tools/Temperature/TopP/
// ResponseFormat are left zero-valued where the request didn't override
// them; buildConfig falls back to the Assistant's own configuration, per
// spec.md §4.2.
func (g *Gateway) runParams(threadID string, assistant types.Assistant, req dto.CreateRunRequest) (engine.CreateRunParams, error) {
	params := engine.CreateRunParams{
		ThreadID:               threadID,
		Assistant:              assistant,
		AdditionalInstructions: req.AdditionalInstructions,
		Temperature:            req.Temperature,
		TopP:                   req.TopP,
		MaxIterations:          req.MaxIterations,
		// ParallelToolCalls defaults to true when unset, matching the
		// Assistants API's default, unlike the Engine's own bool zero value.
		ParallelToolCalls: true,
		Registry:          g.registry,
		Stream:            req.Stream,
	}
	if req.Model != nil {
		params.Model = *req.Model
	}
	params.Instructions = req.Instructions
	if req.Tools != nil {
		params.Tools = dto.ToolsFromDTO(req.Tools)
	}
	if req.ResponseFormat != nil {
		params.ResponseFormat = dto.ResponseFormatFromDTO(req.ResponseFormat)
	}
	if req.ParallelToolCalls != nil {
		params.ParallelToolCalls = *req.ParallelToolCalls
	}
	for _, am := range req.AdditionalMessages {
		role := types.MessageRole(am.Role)
		if role == "" {
			role = types.RoleUser
		}
		content, err := am.ParseContent()
		if err != nil {
			return engine.CreateRunParams{}, apierrors.New(apierrors.KindInvalidRequest, "invalid additional_messages content: "+err.Error()).WithParam("additional_messages")
		}
		params.AdditionalMessages = append(params.AdditionalMessages, types.Message{
			Role: role, Content: content, Name: am.Name,
		})
	}
	return params, nil
}

func (g *Gateway) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("tid")
	if _, err := g.store.GetThread(r.Context(), threadID); err != nil {
		writeErr(w, err)
		return
	}

	var req dto.CreateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.AssistantID == "" {
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, "assistant_id is required").WithParam("assistant_id"))
		return
	}
	assistant, err := g.store.GetAssistant(r.Context(), req.AssistantID)
	if err != nil {
		writeErr(w, err)
		return
	}

	params, err := g.runParams(threadID, assistant, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	handle, err := g.engine.CreateRun(r.Context(), params)
	if err != nil {
		writeErr(w, err)
		return
	}
	g.respondRun(w, r, http.StatusCreated, handle)
}

func (g *Gateway) handleCreateThreadAndRun(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateThreadAndRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.AssistantID == "" {
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, "assistant_id is required").WithParam("assistant_id"))
		return
	}
	assistant, err := g.store.GetAssistant(r.Context(), req.AssistantID)
	if err != nil {
		writeErr(w, err)
		return
	}

	thread, err := g.store.CreateThread(r.Context(), types.Thread{
		ID: ids.New(ids.Thread), CreatedAt: time.Now().Unix(), Metadata: req.Thread.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, m := range req.Thread.Messages {
		if _, err := g.appendMessage(r.Context(), thread.ID, m); err != nil {
			writeErr(w, err)
			return
		}
	}

	params, err := g.runParams(thread.ID, assistant, req.CreateRunRequest)
	if err != nil {
		writeErr(w, err)
		return
	}
	handle, err := g.engine.CreateRun(r.Context(), params)
	if err != nil {
		writeErr(w, err)
		return
	}
	g.respondRun(w, r, http.StatusCreated, handle)
}

func (g *Gateway) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := g.engine.GetRun(r.PathValue("rid"))
	if !ok {
		writeErr(w, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRun(run))
}

func (g *Gateway) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := g.engine.CancelRun(r.PathValue("rid"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRun(run))
}

func (g *Gateway) handleSubmitToolOutputs(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitToolOutputsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	outputs := make([]types.ToolResult, 0, len(req.ToolOutputs))
	for _, o := range req.ToolOutputs {
		outputs = append(outputs, types.ToolResult{ToolCallID: o.ToolCallID, Output: o.Output})
	}
	handle, err := g.engine.SubmitToolOutputs(r.PathValue("rid"), outputs, req.Stream)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, err)
			return
		}
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, err.Error()))
		return
	}
	g.respondRun(w, r, http.StatusOK, handle)
}

// respondRun writes either an SSE stream (when the Handle carries an event
// channel) or a single JSON snapshot of the Run, per spec.md §4.5.
func (g *Gateway) respondRun(w http.ResponseWriter, r *http.Request, status int, handle *engine.Handle) {
	if handle.Events != nil {
		pumpSSE(w, r, handle)
		return
	}
	writeJSON(w, status, dto.FromRun(handle.Run))
}
