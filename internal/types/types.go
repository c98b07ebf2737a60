// Package types defines the core data model entities shared by the Store,
// Run Engine, and Gateway: Assistant, Thread, Message, Run, ToolCall/Result,
// and File. Timestamps are Unix seconds unless noted otherwise.
package types

import "encoding/json"

// Tool is a declared capability of an Assistant: either a built-in opaque
// tool (identified by Type alone) or a `function` tool with a name,
// description, and JSON-Schema parameters.
type Tool struct {
	Type     string       `json:"type"`
	Function *ToolFuncSpec `json:"function,omitempty"`
}

// ToolFuncSpec describes a `function`-typed tool declaration.
type ToolFuncSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponseFormat directs structured-output behavior for a Run.
type ResponseFormat struct {
	Type   string          `json:"type"` // "text" | "json_object" | "json_schema"
	Schema json.RawMessage `json:"schema,omitempty"`
	Name   string          `json:"name,omitempty"`
}

// Assistant is a reusable configuration of model, instructions, and
// declared tools.
type Assistant struct {
	ID             string            `json:"id"`
	CreatedAt      int64             `json:"created_at"`
	Model          string            `json:"model"`
	Name           string            `json:"name,omitempty"`
	Description    string            `json:"description,omitempty"`
	Instructions   string            `json:"instructions,omitempty"`
	Tools          []Tool            `json:"tools"`
	Temperature    *float32          `json:"temperature,omitempty"`
	TopP           *float32          `json:"top_p,omitempty"`
	ResponseFormat *ResponseFormat   `json:"response_format,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Thread is an ordered, append-only conversation container. A Thread has no
// owning Assistant; any Run binds an Assistant to a Thread at execution
// time.
type Thread struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MessageRole identifies the speaker of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	// RoleSystem only ever appears in provider-normalized form; it is never
	// persisted as a Message.
	RoleSystem MessageRole = "system"
)

// MessageStatus is the derived lifecycle status of a Message.
type MessageStatus string

const (
	MessageCompleted  MessageStatus = "completed"
	MessageInProgress MessageStatus = "in_progress"
)

// ContentPartType identifies the kind of a Message content part.
type ContentPartType string

const (
	ContentText       ContentPartType = "text"
	ContentImageURL   ContentPartType = "image_url"
	ContentImageBase64 ContentPartType = "image_base64"
)

// ContentPart is one block of a Message's content. Exactly one of Text,
// ImageURL, or ImageBase64 is populated, matching Type.
type ContentPart struct {
	Type        ContentPartType `json:"type"`
	Text        string          `json:"text,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	ImageBase64 string          `json:"image_base64,omitempty"`
	MIMEType    string          `json:"mime_type,omitempty"`
}

// Message is one entry in a Thread's ordered, append-only sequence.
type Message struct {
	ID         string        `json:"id"`
	ThreadID   string        `json:"thread_id"`
	CreatedAt  int64         `json:"created_at"`
	Role       MessageRole   `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Status     MessageStatus `json:"status"`
	RunID      string        `json:"run_id,omitempty"`
	// ToolCalls is populated on an assistant-role Message that triggered one
	// or more tool invocations; empty on every other role.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// seq orders messages deterministically regardless of insertion
	// concurrency or clock resolution; assigned by the Store.
	Seq int64 `json:"-"`
}

// RunStatus is a state in the Run lifecycle state machine.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// IncompleteReason explains why a Run reached RunIncomplete.
type IncompleteReason string

const (
	ReasonMaxTokens     IncompleteReason = "max_completion_tokens"
	ReasonMaxIterations IncompleteReason = "max_iterations"
)

// LastError is the stable shape of a failed Run's terminal error.
type LastError struct {
	Code    string `json:"code"` // server_error | rate_limit_exceeded | invalid_prompt
	Message string `json:"message"`
}

// RequiredToolCall is one outstanding tool call the caller must resolve via
// tool-output submission while a Run is in RunRequiresAction.
type RequiredToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RunConfig captures the configuration snapshot a Run executes with,
// captured at creation time so later Assistant edits do not retroactively
// change an in-flight Run.
type RunConfig struct {
	Model               string          `json:"model"`
	Instructions        string          `json:"instructions,omitempty"`
	AdditionalInstructions string       `json:"additional_instructions,omitempty"`
	Tools               []Tool          `json:"tools"`
	Temperature         *float32        `json:"temperature,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
	MaxIterations       int             `json:"-"`
	ParallelToolCalls   bool            `json:"parallel_tool_calls"`
}

// Usage tracks accumulated token usage for a Run.
type Usage struct {
	InputTokens  int64 `json:"prompt_tokens"`
	OutputTokens int64 `json:"completion_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Run is a state machine instance bound to (ThreadID, AssistantID).
type Run struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	AssistantID string     `json:"assistant_id"`
	Status      RunStatus  `json:"status"`
	CreatedAt   int64      `json:"created_at"`
	StartedAt   int64      `json:"started_at,omitempty"`
	CompletedAt int64      `json:"completed_at,omitempty"`
	FailedAt    int64      `json:"failed_at,omitempty"`
	CancelledAt int64      `json:"cancelled_at,omitempty"`
	ExpiresAt   int64      `json:"expires_at,omitempty"`

	Config     RunConfig          `json:"-"`
	Iterations int                `json:"-"`
	Usage      Usage              `json:"usage"`
	LastError  *LastError         `json:"last_error,omitempty"`

	RequiredAction *RequiredAction `json:"required_action,omitempty"`

	IncompleteReason IncompleteReason `json:"-"`
}

// RequiredAction wraps the outstanding tool calls a Run is waiting on while
// in RunRequiresAction.
type RequiredAction struct {
	Type             string             `json:"type"` // "submit_tool_outputs"
	SubmitToolOutputs SubmitToolOutputs `json:"submit_tool_outputs"`
}

// SubmitToolOutputs lists the unresolved tool calls for a RequiredAction.
type SubmitToolOutputs struct {
	ToolCalls []RequiredToolCall `json:"tool_calls"`
}

// ToolCall is a single tool invocation emitted by an LLM turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult matches a ToolCall by ID with either a value or an error
// string.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"-"`
}

// File is a binary blob plus descriptive metadata, referenced by ID from
// message attachments.
type File struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Bytes     int64  `json:"bytes"`
	Purpose   string `json:"purpose"`
	CreatedAt int64  `json:"created_at"`
	Content   []byte `json:"-"`
}
