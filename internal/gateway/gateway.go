// Package gateway implements the REST Gateway of spec.md §4.5: it routes
// validated HTTP requests to the Store and Run Engine, renders OpenAI-shaped
// JSON or SSE responses, and enforces bearer authentication when configured.
//
// Routing uses the standard library net/http ServeMux (Go 1.22's
// method+pattern+wildcard matching) rather than a third-party router, per
// SPEC_FULL.md §4.5. Cross-cutting concerns (auth, request logging, panic
// recovery) are composed as a middleware chain in the teacher's
// openaigateway.Server onion style — see middleware.go — adapted from
// provider.Client middleware to http.Handler middleware.
package gateway

import (
	"net/http"

	"github.com/eL1fe/assistants-gateway/internal/engine"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/tools"
)

// ModelLister reports the model identifiers the gateway's configured
// provider adapters can serve, for GET /models.
type ModelLister interface {
	Models() []string
}

// ModelListerFunc adapts a function to ModelLister.
type ModelListerFunc func() []string

func (f ModelListerFunc) Models() []string { return f() }

// Gateway holds the dependencies every HTTP handler needs: the Store for
// Assistant/Thread/Message/File persistence, the Run Engine for Run
// lifecycle operations, an optional base tool registry threaded onto every
// created Run (empty by default, since built-in domain tools are out of
// scope per spec.md §1), and the set of bearer API keys that authorize
// requests.
type Gateway struct {
	store    store.Store
	engine   *engine.Engine
	registry *tools.Registry
	models   ModelLister
	apiKeys  map[string]bool
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithRegistry sets the base tool registry threaded onto every created Run.
func WithRegistry(r *tools.Registry) Option {
	return func(g *Gateway) { g.registry = r }
}

// WithModelLister sets the source GET /models enumerates.
func WithModelLister(m ModelLister) Option {
	return func(g *Gateway) { g.models = m }
}

// WithAPIKeys enables bearer authentication: every request must then carry
// `Authorization: Bearer <key>` for one of keys. An empty/nil set disables
// auth entirely, per spec.md §6.
func WithAPIKeys(keys []string) Option {
	return func(g *Gateway) {
		if len(keys) == 0 {
			return
		}
		g.apiKeys = make(map[string]bool, len(keys))
		for _, k := range keys {
			g.apiKeys[k] = true
		}
	}
}

// New constructs a Gateway over st and eng.
func New(st store.Store, eng *engine.Engine, opts ...Option) *Gateway {
	g := &Gateway{store: st, engine: eng, registry: tools.NewRegistry(), models: ModelListerFunc(func() []string { return nil })}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Router builds the full `/v1`-rooted HTTP surface of spec.md §6, wrapped in
// the gateway's middleware chain.
func (g *Gateway) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", g.handleHealth)
	mux.HandleFunc("GET /v1/models", g.handleListModels)

	mux.HandleFunc("POST /v1/assistants", g.handleCreateAssistant)
	mux.HandleFunc("GET /v1/assistants", g.handleListAssistants)
	mux.HandleFunc("GET /v1/assistants/{id}", g.handleGetAssistant)
	mux.HandleFunc("POST /v1/assistants/{id}", g.handleUpdateAssistant)
	mux.HandleFunc("DELETE /v1/assistants/{id}", g.handleDeleteAssistant)

	mux.HandleFunc("POST /v1/threads", g.handleCreateThread)
	mux.HandleFunc("GET /v1/threads/{id}", g.handleGetThread)
	mux.HandleFunc("DELETE /v1/threads/{id}", g.handleDeleteThread)

	mux.HandleFunc("POST /v1/threads/{tid}/messages", g.handleCreateMessage)
	mux.HandleFunc("GET /v1/threads/{tid}/messages", g.handleListMessages)
	mux.HandleFunc("GET /v1/threads/{tid}/messages/{mid}", g.handleGetMessage)

	mux.HandleFunc("POST /v1/threads/runs", g.handleCreateThreadAndRun)
	mux.HandleFunc("POST /v1/threads/{tid}/runs", g.handleCreateRun)
	mux.HandleFunc("GET /v1/threads/{tid}/runs/{rid}", g.handleGetRun)
	mux.HandleFunc("POST /v1/threads/{tid}/runs/{rid}/cancel", g.handleCancelRun)
	mux.HandleFunc("POST /v1/threads/{tid}/runs/{rid}/submit_tool_outputs", g.handleSubmitToolOutputs)

	mux.HandleFunc("POST /v1/files", g.handleUploadFile)
	mux.HandleFunc("GET /v1/files", g.handleListFiles)
	mux.HandleFunc("GET /v1/files/{id}", g.handleGetFile)
	mux.HandleFunc("DELETE /v1/files/{id}", g.handleDeleteFile)
	mux.HandleFunc("GET /v1/files/{id}/content", g.handleFileContent)

	return chain(mux, recoverMiddleware, loggingMiddleware, g.authMiddleware)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
