package gateway

import (
	"net/http"
	"time"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/gateway/dto"
	"github.com/eL1fe/assistants-gateway/internal/ids"
)

func (g *Gateway) handleCreateAssistant(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateAssistantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Model == "" {
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, "model is required").WithParam("model"))
		return
	}
	a := req.ToAssistant()
	a.ID = ids.New(ids.Assistant)
	a.CreatedAt = time.Now().Unix()

	created, err := g.store.CreateAssistant(r.Context(), a)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromAssistant(created))
}

func (g *Gateway) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	a, err := g.store.GetAssistant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromAssistant(a))
}

func (g *Gateway) handleUpdateAssistant(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateAssistantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	updated, err := g.store.UpdateAssistant(r.Context(), r.PathValue("id"), req.ToPatch())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromAssistant(updated))
}

func (g *Gateway) handleDeleteAssistant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.store.DeleteAssistant(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Deleted{ID: id, Object: "assistant.deleted", Deleted: true})
}

func (g *Gateway) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	p := parseListParams(r)
	page, err := g.store.ListAssistants(r.Context(), p.Limit, p.Order, p.After, p.Before)
	if err != nil {
		writeErr(w, err)
		return
	}
	items := make([]dto.Assistant, 0, len(page.Items))
	for _, a := range page.Items {
		items = append(items, dto.FromAssistant(a))
	}
	writeJSON(w, http.StatusOK, dto.NewList(items, page.HasMore, func(a dto.Assistant) string { return a.ID }))
}
