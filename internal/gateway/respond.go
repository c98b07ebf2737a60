package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var he *apierrors.HTTPError
	if errors.As(err, &he) {
		apierrors.WriteJSON(w, he)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		apierrors.WriteJSON(w, apierrors.New(apierrors.KindNotFound, "not found"))
		return
	}
	apierrors.WriteJSON(w, apierrors.New(apierrors.KindServerError, err.Error()))
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierrors.New(apierrors.KindInvalidRequest, "malformed request body: "+err.Error())
	}
	return nil
}

// listParams carries the common cursor-pagination query parameters shared
// by every list endpoint, per spec.md §4.1.
type listParams struct {
	Limit  int
	Order  store.Order
	After  string
	Before string
}

func parseListParams(r *http.Request) listParams {
	q := r.URL.Query()

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	order := store.OrderDesc
	if store.Order(q.Get("order")) == store.OrderAsc {
		order = store.OrderAsc
	}

	return listParams{Limit: limit, Order: order, After: q.Get("after"), Before: q.Get("before")}
}
