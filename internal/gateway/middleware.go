package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
)

// Middleware wraps an http.Handler to add behavior before, after, or around
// the handler invocation, mirroring the teacher's UnaryMiddleware/
// StreamMiddleware onion-composition idiom (see
// internal/provider/openaigateway.Server) applied here to http.Handler
// instead of provider.Client.
type Middleware func(http.Handler) http.Handler

// chain composes middleware around next in registration order: the first
// middleware listed becomes the outermost layer.
func chain(next http.Handler, mw ...Middleware) http.Handler {
	h := next
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// recoverMiddleware converts a panicking handler into a 500 server_error
// response instead of crashing the process.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("gateway_panic_recovered")
				apierrors.WriteJSON(w, apierrors.New(apierrors.KindServerError, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs one structured event per request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).
			Dur("duration", time.Since(start)).Msg("gateway_request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// authMiddleware enforces bearer authentication when the Gateway was
// constructed with a non-empty API key set. /health is always open.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(g.apiKeys) == 0 || r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || !g.apiKeys[strings.TrimPrefix(auth, prefix)] {
			apierrors.WriteJSON(w, apierrors.New(apierrors.KindAuthentication, "invalid api key").WithCode("invalid_api_key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
