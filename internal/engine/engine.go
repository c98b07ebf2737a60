// Package engine implements the Run Engine: the per-Run state machine that
// drives the iterative tool-calling loop against a Provider Adapter,
// persists assistant/tool messages through the Store, and emits lifecycle
// and delta events to the Stream Bus.
//
// Grounded on the teacher's runtime/agent/runtime/workflow_support.go
// (iterate/advance-turn shape) and await_errors.go (suspension/await
// classification), adapted from Temporal-workflow primitives to plain
// goroutines, channels, and context.Context since this gateway carries no
// workflow-engine dependency. The per-run iteration cap check is grounded on
// runtime/agent/bounds.go.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/provider"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/tools"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

const (
	// defaultMaxIterations bounds the tool-calling loop absent an explicit
	// override, per spec.md §4.2.
	defaultMaxIterations = 10
	// defaultRunTimeout is the per-Run wall-clock deadline, per spec.md §4.2
	// ("default 10 minutes") and §5 ("default 600s") — the same duration
	// stated two ways.
	defaultRunTimeout = 10 * time.Minute
	// defaultToolTimeout bounds a single tool execution; on expiry the tool
	// result is the error "timed out" and the loop continues, per spec.md §5.
	defaultToolTimeout = 30 * time.Second
)

// ProviderResolver resolves a Request's model string to the Client that
// should serve it. The Gateway's provider factory composes one resolver
// across every configured adapter (and, optionally, ratelimit middleware).
type ProviderResolver interface {
	Resolve(model string) (provider.Client, error)
}

// ProviderResolverFunc adapts a function to ProviderResolver.
type ProviderResolverFunc func(model string) (provider.Client, error)

func (f ProviderResolverFunc) Resolve(model string) (provider.Client, error) { return f(model) }

// Engine owns every live Run's execution. A Run exists only in memory for
// the lifetime of this process, per spec.md §3 ("A Run lives in-memory;
// persistence is optional.").
type Engine struct {
	store     store.Store
	providers ProviderResolver

	maxIterations int
	runTimeout    time.Duration

	mu   sync.RWMutex
	runs map[string]*runState
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxIterations overrides the default per-Run iteration cap.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIterations = n }
}

// WithRunTimeout overrides the default per-Run wall-clock deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) { e.runTimeout = d }
}

// New constructs an Engine over st (for thread/message persistence) and
// resolver (for provider dispatch).
func New(st store.Store, resolver ProviderResolver, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		providers:     resolver,
		maxIterations: defaultMaxIterations,
		runTimeout:    defaultRunTimeout,
		runs:          make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRunParams carries the inputs needed to start a Run. Model,
// Instructions, Tools, Temperature, TopP, and ResponseFormat each fall back
// to the Assistant's own configuration when left zero; AdditionalInstructions
// is always appended (never a replacement) to whichever Instructions is
// used.
type CreateRunParams struct {
	ThreadID               string
	Assistant              types.Assistant
	Model                  string
	Instructions           *string
	AdditionalInstructions string
	Tools                  []types.Tool
	Temperature            *float32
	TopP                   *float32
	ResponseFormat         *types.ResponseFormat
	MaxIterations          int
	ParallelToolCalls      bool
	AdditionalMessages     []types.Message
	Registry               *tools.Registry
	Stream                 bool
}

// Handle is returned by CreateRun/SubmitToolOutputs: a snapshot of the Run
// at the moment of the call, plus (when streaming was requested) the event
// channel to read from and the Detach callback the SSE pump must call on
// return (client disconnect or stream end) so the Bus stops blocking Send
// on a reader that is no longer draining it.
type Handle struct {
	Run    types.Run
	Events <-chan Event
	Detach func()
}

// runState is the Engine's live bookkeeping for one Run, guarded by mu for
// every field the HTTP path and the execution goroutine both touch.
type runState struct {
	mu  sync.Mutex
	run types.Run

	registry *tools.Registry
	bus      *Bus

	streamMode bool

	cancelOnce sync.Once
	cancelCh   chan struct{}

	// resumeCh delivers submitted tool outputs to the goroutine suspended in
	// requires_action; buffered so SubmitToolOutputs never blocks on a Run
	// that raced to cancellation/expiration first.
	resumeCh chan []types.ToolResult

	done chan struct{}
}

func newRunState(run types.Run, registry *tools.Registry, stream bool) *runState {
	return &runState{
		run:        run,
		registry:   registry,
		bus:        NewBus(),
		streamMode: stream,
		cancelCh:   make(chan struct{}),
		resumeCh:   make(chan []types.ToolResult, 1),
		done:       make(chan struct{}),
	}
}

func (rs *runState) snapshot() types.Run {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return cloneRun(rs.run)
}

func (rs *runState) isCancelled() bool {
	select {
	case <-rs.cancelCh:
		return true
	default:
		return false
	}
}

func (rs *runState) requestCancel() {
	rs.cancelOnce.Do(func() { close(rs.cancelCh) })
}

func cloneRun(r types.Run) types.Run {
	out := r
	out.Config.Tools = append([]types.Tool(nil), r.Config.Tools...)
	if r.LastError != nil {
		le := *r.LastError
		out.LastError = &le
	}
	if r.RequiredAction != nil {
		ra := *r.RequiredAction
		ra.SubmitToolOutputs.ToolCalls = append([]types.RequiredToolCall(nil), r.RequiredAction.SubmitToolOutputs.ToolCalls...)
		out.RequiredAction = &ra
	}
	return out
}

// CreateRun mints a Run, persists any AdditionalMessages onto the thread,
// and starts executing it asynchronously. It returns as soon as the Run is
// registered, carrying the queued snapshot (and, if Stream was requested,
// the already-attached event channel so no events are lost to a race).
func (e *Engine) CreateRun(ctx context.Context, params CreateRunParams) (*Handle, error) {
	now := time.Now().Unix()

	cfg := e.buildConfig(params)

	run := types.Run{
		ID:          ids.New(ids.Run),
		ThreadID:    params.ThreadID,
		AssistantID: params.Assistant.ID,
		Status:      types.RunQueued,
		CreatedAt:   now,
		ExpiresAt:   now + int64(e.runTimeout.Seconds()),
		Config:      cfg,
	}

	for _, m := range params.AdditionalMessages {
		m.ID = ""
		m.RunID = run.ID
		m.Status = types.MessageCompleted
		if m.Role == "" {
			m.Role = types.RoleUser
		}
		if m.CreatedAt == 0 {
			m.CreatedAt = now
		}
		if _, err := e.store.AppendMessage(ctx, params.ThreadID, m); err != nil {
			return nil, fmt.Errorf("engine: append additional message: %w", err)
		}
	}

	rs := newRunState(run, params.Registry, params.Stream)

	e.mu.Lock()
	e.runs[run.ID] = rs
	e.mu.Unlock()

	var events <-chan Event
	var detach func()
	if params.Stream {
		events = rs.bus.Subscribe()
		detach = rs.bus.Unsubscribe
	}

	rs.bus.Send(Event{Name: EventRunCreated, Data: mustJSON(run)})
	rs.bus.Send(Event{Name: EventRunQueued, Data: mustJSON(run)})

	snap := rs.snapshot()
	go e.execute(rs)

	return &Handle{Run: snap, Events: events, Detach: detach}, nil
}

func (e *Engine) buildConfig(params CreateRunParams) types.RunConfig {
	model := params.Model
	if model == "" {
		model = params.Assistant.Model
	}
	instructions := params.Assistant.Instructions
	if params.Instructions != nil {
		instructions = *params.Instructions
	}
	runTools := params.Tools
	if runTools == nil {
		runTools = params.Assistant.Tools
	}
	temperature := params.Assistant.Temperature
	if params.Temperature != nil {
		temperature = params.Temperature
	}
	topP := params.Assistant.TopP
	if params.TopP != nil {
		topP = params.TopP
	}
	respFormat := params.Assistant.ResponseFormat
	if params.ResponseFormat != nil {
		respFormat = params.ResponseFormat
	}
	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = e.maxIterations
	}
	return types.RunConfig{
		Model:                  model,
		Instructions:           instructions,
		AdditionalInstructions: params.AdditionalInstructions,
		Tools:                  append([]types.Tool(nil), runTools...),
		Temperature:            temperature,
		TopP:                   topP,
		ResponseFormat:         respFormat,
		MaxIterations:          maxIter,
		ParallelToolCalls:      params.ParallelToolCalls,
	}
}

// GetRun returns the live snapshot for runID, if known to this process.
func (e *Engine) GetRun(runID string) (types.Run, bool) {
	e.mu.RLock()
	rs, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return types.Run{}, false
	}
	return rs.snapshot(), true
}

// CancelRun flips the cancellation flag and returns the Run snapshot
// immediately; the actual transition happens at the Run's next suspension
// point. Idempotent.
func (e *Engine) CancelRun(runID string) (types.Run, error) {
	e.mu.RLock()
	rs, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return types.Run{}, store.ErrNotFound
	}
	rs.requestCancel()

	rs.mu.Lock()
	if isTerminal(rs.run.Status) {
		run := cloneRun(rs.run)
		rs.mu.Unlock()
		return run, nil
	}
	rs.run.Status = types.RunCancelling
	run := cloneRun(rs.run)
	rs.mu.Unlock()
	return run, nil
}

// SubmitToolOutputs resolves a Run paused in requires_action. It validates
// that outputs cover exactly the outstanding tool calls, then resumes
// execution. If stream is true, the returned Handle carries a freshly
// attached event channel so the caller can continue (or start) consuming
// SSE for the resumed leg.
func (e *Engine) SubmitToolOutputs(runID string, outputs []types.ToolResult, stream bool) (*Handle, error) {
	e.mu.RLock()
	rs, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}

	rs.mu.Lock()
	if rs.run.Status != types.RunRequiresAction {
		status := rs.run.Status
		rs.mu.Unlock()
		return nil, fmt.Errorf("engine: run %s is not awaiting tool outputs (status=%s)", runID, status)
	}
	required := rs.run.RequiredAction.SubmitToolOutputs.ToolCalls
	if err := validateToolOutputs(required, outputs); err != nil {
		rs.mu.Unlock()
		return nil, err
	}
	rs.streamMode = stream
	rs.mu.Unlock()

	var events <-chan Event
	var detach func()
	if stream {
		events = rs.bus.Subscribe()
		detach = rs.bus.Unsubscribe
	}

	select {
	case rs.resumeCh <- outputs:
	default:
		// Should not happen: resumeCh is only ever drained by the single
		// suspended goroutine, and SubmitToolOutputs is rejected above once
		// the Run has left requires_action.
	}

	return &Handle{Run: rs.snapshot(), Events: events, Detach: detach}, nil
}

func validateToolOutputs(required []types.RequiredToolCall, outputs []types.ToolResult) error {
	want := make(map[string]bool, len(required))
	for _, r := range required {
		want[r.ID] = true
	}
	got := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		got[o.ToolCallID] = true
	}
	if len(want) != len(got) {
		return fmt.Errorf("engine: expected %d tool outputs, got %d", len(want), len(got))
	}
	for id := range want {
		if !got[id] {
			return fmt.Errorf("engine: missing tool output for call %s", id)
		}
	}
	for id := range got {
		if !want[id] {
			return fmt.Errorf("engine: unexpected tool output for call %s", id)
		}
	}
	return nil
}

func isTerminal(s types.RunStatus) bool {
	switch s {
	case types.RunCompleted, types.RunFailed, types.RunCancelled, types.RunExpired, types.RunIncomplete:
		return true
	default:
		return false
	}
}

func mustJSON(v any) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return buf
}

// classifyError renders a ProviderError (or a plain error) into the stable
// Run.LastError shape spec.md §7 requires.
func classifyError(err error) *types.LastError {
	if pe, ok := apierrors.AsProviderError(err); ok {
		code := "server_error"
		switch pe.Kind {
		case apierrors.KindRateLimited:
			code = "rate_limit_exceeded"
		case apierrors.KindBadRequest:
			code = "invalid_prompt"
		}
		return &types.LastError{Code: code, Message: pe.Error()}
	}
	return &types.LastError{Code: "server_error", Message: err.Error()}
}
