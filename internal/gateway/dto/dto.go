// Package dto defines the OpenAI-shaped wire representations of every
// gateway entity plus the translation functions to and from internal/types.
// Keeping these separate from internal/types mirrors the teacher's
// runtime/agent/api package split between internal workflow-boundary types
// and the shapes callers actually see: the Store and Run Engine never see a
// dto value, and the Gateway never hands a types.* value directly to
// encoding/json.
package dto

import (
	"encoding/json"
	"strings"

	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// Tool is the wire shape of a declared Assistant/Run tool.
type Tool struct {
	Type     string    `json:"type"`
	Function *Function `json:"function,omitempty"`
}

// Function is the wire shape of a `function`-typed Tool.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponseFormat is the wire shape of a structured-output directive.
type ResponseFormat struct {
	Type   string          `json:"type"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Name   string          `json:"name,omitempty"`
}

// ToolsToDTO renders a Tool slice as its wire shape.
func ToolsToDTO(in []types.Tool) []Tool {
	out := make([]Tool, 0, len(in))
	for _, t := range in {
		dt := Tool{Type: t.Type}
		if t.Function != nil {
			dt.Function = &Function{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters}
		}
		out = append(out, dt)
	}
	return out
}

// ToolsFromDTO parses a wire Tool slice, preserving a nil input (the
// AssistantPatch "unchanged" sentinel) rather than coercing it to an empty
// slice.
func ToolsFromDTO(in []Tool) []types.Tool {
	if in == nil {
		return nil
	}
	out := make([]types.Tool, 0, len(in))
	for _, t := range in {
		tt := types.Tool{Type: t.Type}
		if t.Function != nil {
			tt.Function = &types.ToolFuncSpec{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters}
		}
		out = append(out, tt)
	}
	return out
}

// ResponseFormatToDTO renders a ResponseFormat as its wire shape.
func ResponseFormatToDTO(in *types.ResponseFormat) *ResponseFormat {
	if in == nil {
		return nil
	}
	return &ResponseFormat{Type: in.Type, Schema: in.Schema, Name: in.Name}
}

// ResponseFormatFromDTO parses a wire ResponseFormat.
func ResponseFormatFromDTO(in *ResponseFormat) *types.ResponseFormat {
	if in == nil {
		return nil
	}
	return &types.ResponseFormat{Type: in.Type, Schema: in.Schema, Name: in.Name}
}

// Assistant is the wire shape of an Assistant.
type Assistant struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
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

// FromAssistant renders an internal Assistant as its wire shape.
func FromAssistant(a types.Assistant) Assistant {
	return Assistant{
		ID: a.ID, Object: "assistant", CreatedAt: a.CreatedAt, Model: a.Model,
		Name: a.Name, Description: a.Description, Instructions: a.Instructions,
		Tools: ToolsToDTO(a.Tools), Temperature: a.Temperature, TopP: a.TopP,
		ResponseFormat: ResponseFormatToDTO(a.ResponseFormat), Metadata: a.Metadata,
	}
}

// CreateAssistantRequest is the request body for POST /assistants.
type CreateAssistantRequest struct {
	Model          string            `json:"model"`
	Name           string            `json:"name,omitempty"`
	Description    string            `json:"description,omitempty"`
	Instructions   string            `json:"instructions,omitempty"`
	Tools          []Tool            `json:"tools,omitempty"`
	Temperature    *float32          `json:"temperature,omitempty"`
	TopP           *float32          `json:"top_p,omitempty"`
	ResponseFormat *ResponseFormat   `json:"response_format,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ToAssistant converts a creation request into the internal entity, minus
// ID/CreatedAt, which the create handler assigns.
func (r CreateAssistantRequest) ToAssistant() types.Assistant {
	return types.Assistant{
		Model: r.Model, Name: r.Name, Description: r.Description, Instructions: r.Instructions,
		Tools: ToolsFromDTO(r.Tools), Temperature: r.Temperature, TopP: r.TopP,
		ResponseFormat: ResponseFormatFromDTO(r.ResponseFormat), Metadata: r.Metadata,
	}
}

// UpdateAssistantRequest is the request body for POST /assistants/:id.
// Every field is a partial update; a nil pointer (or nil Tools/Metadata)
// leaves the corresponding field unchanged.
type UpdateAssistantRequest struct {
	Model          *string           `json:"model,omitempty"`
	Name           *string           `json:"name,omitempty"`
	Description    *string           `json:"description,omitempty"`
	Instructions   *string           `json:"instructions,omitempty"`
	Tools          []Tool            `json:"tools,omitempty"`
	Temperature    *float32          `json:"temperature,omitempty"`
	TopP           *float32          `json:"top_p,omitempty"`
	ResponseFormat *ResponseFormat   `json:"response_format,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ToPatch converts an update request into a store.AssistantPatch.
func (r UpdateAssistantRequest) ToPatch() store.AssistantPatch {
	return store.AssistantPatch{
		Model: r.Model, Name: r.Name, Description: r.Description, Instructions: r.Instructions,
		Tools: ToolsFromDTO(r.Tools), Temperature: r.Temperature, TopP: r.TopP,
		ResponseFormat: ResponseFormatFromDTO(r.ResponseFormat), Metadata: r.Metadata,
	}
}

// Thread is the wire shape of a Thread.
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FromThread renders an internal Thread as its wire shape.
func FromThread(t types.Thread) Thread {
	return Thread{ID: t.ID, Object: "thread", CreatedAt: t.CreatedAt, Metadata: t.Metadata}
}

// CreateThreadRequest is the request body for POST /threads.
type CreateThreadRequest struct {
	Metadata map[string]string       `json:"metadata,omitempty"`
	Messages []CreateMessageRequest `json:"messages,omitempty"`
}

// ContentPart is the wire shape of one Message content block.
type ContentPart struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

func contentToDTO(in []types.ContentPart) []ContentPart {
	out := make([]ContentPart, 0, len(in))
	for _, p := range in {
		out = append(out, ContentPart{Type: string(p.Type), Text: p.Text, ImageURL: p.ImageURL, ImageBase64: p.ImageBase64, MIMEType: p.MIMEType})
	}
	return out
}

// Message is the wire shape of a Message.
type Message struct {
	ID         string        `json:"id"`
	Object     string        `json:"object"`
	ThreadID   string        `json:"thread_id"`
	CreatedAt  int64         `json:"created_at"`
	Role       string        `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Status     string        `json:"status"`
	RunID      string        `json:"run_id,omitempty"`
}

// FromMessage renders an internal Message as its wire shape.
func FromMessage(m types.Message) Message {
	return Message{
		ID: m.ID, Object: "thread.message", ThreadID: m.ThreadID, CreatedAt: m.CreatedAt,
		Role: string(m.Role), Content: contentToDTO(m.Content), ToolCallID: m.ToolCallID,
		Name: m.Name, Status: string(m.Status), RunID: m.RunID,
	}
}

// CreateMessageRequest is the request body for POST /threads/:tid/messages.
// Content accepts either a bare JSON string (a single text part) or an
// array of content-part objects, matching the Assistants API's flexible
// message-content encoding.
type CreateMessageRequest struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// ParseContent decodes Content into the internal []ContentPart
// representation, handling both the bare-string and structured-array
// forms.
func (r CreateMessageRequest) ParseContent() ([]types.ContentPart, error) {
	trimmed := strings.TrimSpace(string(r.Content))
	if trimmed == "" {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(r.Content, &s); err != nil {
			return nil, err
		}
		return []types.ContentPart{{Type: types.ContentText, Text: s}}, nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(r.Content, &parts); err != nil {
		return nil, err
	}
	out := make([]types.ContentPart, 0, len(parts))
	for _, p := range parts {
		out = append(out, types.ContentPart{
			Type: types.ContentPartType(p.Type), Text: p.Text, ImageURL: p.ImageURL,
			ImageBase64: p.ImageBase64, MIMEType: p.MIMEType,
		})
	}
	return out, nil
}

// Usage is the wire shape of accumulated Run token usage.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func usageToDTO(u types.Usage) Usage {
	return Usage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
}

// LastError is the wire shape of a failed Run's terminal error.
type LastError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IncompleteDetails explains why a Run reached the `incomplete` status.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// RequiredToolCall is one outstanding tool call a Run is waiting on.
type RequiredToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function RequiredToolFn `json:"function"`
}

// RequiredToolFn is the function-call payload of a RequiredToolCall.
type RequiredToolFn struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RequiredAction is the wire shape of a Run's pending tool-output
// requirement.
type RequiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []RequiredToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

// Run is the wire shape of a Run.
type Run struct {
	ID                string          `json:"id"`
	Object            string          `json:"object"`
	ThreadID          string          `json:"thread_id"`
	AssistantID       string          `json:"assistant_id"`
	Status            string          `json:"status"`
	CreatedAt         int64           `json:"created_at"`
	StartedAt         int64           `json:"started_at,omitempty"`
	CompletedAt       int64           `json:"completed_at,omitempty"`
	FailedAt          int64           `json:"failed_at,omitempty"`
	CancelledAt       int64           `json:"cancelled_at,omitempty"`
	ExpiresAt         int64           `json:"expires_at,omitempty"`
	Model             string          `json:"model"`
	Instructions      string          `json:"instructions,omitempty"`
	Tools             []Tool          `json:"tools"`
	Temperature       *float32        `json:"temperature,omitempty"`
	TopP              *float32        `json:"top_p,omitempty"`
	ResponseFormat    *ResponseFormat `json:"response_format,omitempty"`
	ParallelToolCalls bool            `json:"parallel_tool_calls"`
	Usage             Usage           `json:"usage"`
	LastError         *LastError      `json:"last_error,omitempty"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
	RequiredAction    *RequiredAction    `json:"required_action,omitempty"`
}

// FromRun renders an internal Run as its wire shape.
func FromRun(r types.Run) Run {
	out := Run{
		ID: r.ID, Object: "thread.run", ThreadID: r.ThreadID, AssistantID: r.AssistantID,
		Status: string(r.Status), CreatedAt: r.CreatedAt, StartedAt: r.StartedAt,
		CompletedAt: r.CompletedAt, FailedAt: r.FailedAt, CancelledAt: r.CancelledAt,
		ExpiresAt: r.ExpiresAt, Model: r.Config.Model, Instructions: r.Config.Instructions,
		Tools: ToolsToDTO(r.Config.Tools), Temperature: r.Config.Temperature, TopP: r.Config.TopP,
		ResponseFormat: ResponseFormatToDTO(r.Config.ResponseFormat), ParallelToolCalls: r.Config.ParallelToolCalls,
		Usage: usageToDTO(r.Usage),
	}
	if r.LastError != nil {
		out.LastError = &LastError{Code: r.LastError.Code, Message: r.LastError.Message}
	}
	if r.Status == types.RunIncomplete {
		out.IncompleteDetails = &IncompleteDetails{Reason: string(r.IncompleteReason)}
	}
	if r.RequiredAction != nil {
		out.RequiredAction = &RequiredAction{Type: r.RequiredAction.Type}
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.RequiredAction.SubmitToolOutputs.ToolCalls = append(out.RequiredAction.SubmitToolOutputs.ToolCalls, RequiredToolCall{
				ID: tc.ID, Type: "function", Function: RequiredToolFn{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
	}
	return out
}

// CreateRunRequest is the request body for POST /threads/:tid/runs.
type CreateRunRequest struct {
	AssistantID            string                  `json:"assistant_id"`
	Model                  *string                 `json:"model,omitempty"`
	Instructions           *string                 `json:"instructions,omitempty"`
	AdditionalInstructions string                  `json:"additional_instructions,omitempty"`
	Tools                  []Tool                  `json:"tools,omitempty"`
	Temperature            *float32                `json:"temperature,omitempty"`
	TopP                   *float32                `json:"top_p,omitempty"`
	ResponseFormat         *ResponseFormat         `json:"response_format,omitempty"`
	MaxIterations          int                     `json:"max_iterations,omitempty"`
	ParallelToolCalls      *bool                   `json:"parallel_tool_calls,omitempty"`
	AdditionalMessages     []CreateMessageRequest `json:"additional_messages,omitempty"`
	Stream                 bool                    `json:"stream,omitempty"`
}

// CreateThreadAndRunRequest is the request body for POST /threads/runs.
type CreateThreadAndRunRequest struct {
	Thread CreateThreadRequest `json:"thread"`
	CreateRunRequest
}

// SubmitToolOutputsRequest is the request body for
// POST /threads/:tid/runs/:rid/submit_tool_outputs.
type SubmitToolOutputsRequest struct {
	ToolOutputs []ToolOutput `json:"tool_outputs"`
	Stream      bool         `json:"stream,omitempty"`
}

// ToolOutput is one caller-supplied resolution for an outstanding tool
// call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// File is the wire shape of a File.
type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

// FromFile renders an internal File as its wire shape.
func FromFile(f types.File) File {
	return File{ID: f.ID, Object: "file", Bytes: f.Bytes, CreatedAt: f.CreatedAt, Filename: f.Filename, Purpose: f.Purpose}
}

// Deleted is the wire shape every delete endpoint returns.
type Deleted struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// List is the wire shape of every paginated list response.
type List[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}

// NewList builds a List from items plus the has_more flag, deriving
// first_id/last_id from the item IDs.
func NewList[T any](items []T, hasMore bool, idOf func(T) string) List[T] {
	l := List[T]{Object: "list", Data: items, HasMore: hasMore}
	if len(items) > 0 {
		l.FirstID = idOf(items[0])
		l.LastID = idOf(items[len(items)-1])
	}
	return l
}
