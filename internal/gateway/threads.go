package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/gateway/dto"
	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

func (g *Gateway) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	t := types.Thread{ID: ids.New(ids.Thread), CreatedAt: time.Now().Unix(), Metadata: req.Metadata}
	created, err := g.store.CreateThread(r.Context(), t)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, m := range req.Messages {
		if _, err := g.appendMessage(r.Context(), created.ID, m); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, dto.FromThread(created))
}

func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request) {
	t, err := g.store.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromThread(t))
}

func (g *Gateway) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.store.DeleteThread(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Deleted{ID: id, Object: "thread.deleted", Deleted: true})
}

// appendMessage validates and persists one CreateMessageRequest onto
// threadID, minting the Message ID and timestamp itself; the Store fills in
// only a missing ID (which the Run Engine's tool-result appends rely on) and
// never sets the timestamp.
func (g *Gateway) appendMessage(ctx context.Context, threadID string, req dto.CreateMessageRequest) (types.Message, error) {
	role := types.MessageRole(req.Role)
	if role == "" {
		role = types.RoleUser
	}
	if role != types.RoleUser && role != types.RoleAssistant {
		return types.Message{}, apierrors.New(apierrors.KindInvalidRequest, "role must be \"user\" or \"assistant\"").WithParam("role")
	}
	content, err := req.ParseContent()
	if err != nil {
		return types.Message{}, apierrors.New(apierrors.KindInvalidRequest, "invalid content: "+err.Error()).WithParam("content")
	}
	m := types.Message{
		ID: ids.New(ids.Message), ThreadID: threadID, CreatedAt: time.Now().Unix(),
		Role: role, Content: content, Name: req.Name, Status: types.MessageCompleted,
	}
	return g.store.AppendMessage(ctx, threadID, m)
}
