package gateway

import (
	"net/http"

	"github.com/eL1fe/assistants-gateway/internal/gateway/dto"
	"github.com/eL1fe/assistants-gateway/internal/store"
)

func (g *Gateway) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	threadID := r.PathValue("tid")
	if _, err := g.store.GetThread(r.Context(), threadID); err != nil {
		writeErr(w, err)
		return
	}
	created, err := g.appendMessage(r.Context(), threadID, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromMessage(created))
}

func (g *Gateway) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := g.store.GetMessage(r.Context(), r.PathValue("tid"), r.PathValue("mid"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromMessage(m))
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	p := parseListParams(r)
	page, err := g.store.ListMessages(r.Context(), r.PathValue("tid"), store.ListMessagesParams{
		Limit: p.Limit, Order: p.Order, After: p.After, Before: p.Before,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	items := make([]dto.Message, 0, len(page.Items))
	for _, m := range page.Items {
		items = append(items, dto.FromMessage(m))
	}
	writeJSON(w, http.StatusOK, dto.NewList(items, page.HasMore, func(m dto.Message) string { return m.ID }))
}
