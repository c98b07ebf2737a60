package gateway

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/eL1fe/assistants-gateway/internal/engine"
)

// pumpSSE drains events and writes them to w in the wire format spec.md §6
// requires: `event: <name>\ndata: <json>\n\n`, with the terminal event
// literally `event: done\ndata: [DONE]\n\n` (unquoted — not a JSON string
// literal). Grounded on the teacher's runtime/agent/stream
// one-producer/zero-or-one-subscriber Sink contract: if the client
// disconnects mid-stream, pumpSSE calls handle.Detach before returning so
// the engine's Bus.Unsubscribe path takes over and Send stops blocking on a
// reader nobody drains anymore, matching spec.md §4.2 "Subscribers that
// disconnect are unsubscribed; the Run continues to terminal state
// regardless."
func pumpSSE(w http.ResponseWriter, r *http.Request, handle *engine.Handle) {
	if handle.Detach != nil {
		defer handle.Detach()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for {
		select {
		case ev, ok := <-handle.Events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
				log.Warn().Err(err).Msg("sse_write_failed")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if ev.Name == engine.EventDone {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
