package gateway

import (
	"net/http"
)

type modelEntry struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	names := g.models.Models()
	items := make([]modelEntry, 0, len(names))
	for _, n := range names {
		items = append(items, modelEntry{ID: n, Object: "model"})
	}
	writeJSON(w, http.StatusOK, struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}{Object: "list", Data: items})
}
