// Package ollama implements provider.Client against a local or self-hosted
// Ollama daemon's /api/chat endpoint. Unlike the SDK-backed adapters, this
// one speaks raw NDJSON over net/http: Ollama has no official Go client, so
// requests are hand-built JSON and streaming responses are newline-delimited
// JSON objects read with a bufio.Scanner.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// HTTPDoer is the subset of *http.Client the adapter depends on.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures the Ollama adapter.
type Options struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// Client implements provider.Client against Ollama's chat API.
type Client struct {
	http         HTTPDoer
	baseURL      string
	defaultModel string
}

// New builds a Client. baseURL defaults to http://localhost:11434.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("ollama: default model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: opts.DefaultModel,
	}, nil
}

// NewWithDoer builds a Client around a caller-supplied HTTPDoer, for tests.
func NewWithDoer(doer HTTPDoer, opts Options) (*Client, error) {
	if doer == nil {
		return nil, errors.New("ollama: http doer is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("ollama: default model is required")
	}
	return &Client{http: doer, baseURL: baseURL, defaultModel: opts.DefaultModel}, nil
}

func (c *Client) model(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return c.defaultModel
}

// Complete drains a streaming chat call and folds it into a single Response,
// since Ollama's /api/chat only ever streams.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return provider.Response{}, err
	}
	defer s.Close()

	var out provider.Response
	var text strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return provider.Response{}, err
		}
		switch chunk.Type {
		case provider.ChunkContent:
			text.WriteString(chunk.ContentDelta)
		case provider.ChunkToolCall:
			out.ToolCalls = append(out.ToolCalls, *chunk.ToolCall)
		case provider.ChunkUsage:
			out.Usage = *chunk.Usage
		case provider.ChunkStop:
			out.FinishReason = chunk.FinishReason
		}
	}
	out.Content = text.String()
	if out.FinishReason == "" {
		out.FinishReason = provider.FinishStop
	}
	return out, nil
}

// Stream issues a streaming /api/chat call and adapts its NDJSON body into
// provider.Streamer.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("ollama: messages are required")
	}
	model := c.model(req.Model)

	payload := chatRequest{Model: model, Stream: true, Messages: buildMessages(req.Messages)}
	if len(req.Tools) > 0 {
		payload.Tools = encodeTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}
	if req.Temperature != nil {
		if payload.Options == nil {
			payload.Options = map[string]any{}
		}
		payload.Options["temperature"] = *req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apierrors.NewProviderError("ollama", apierrors.KindInvalidResponse, 0, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, apierrors.NewProviderError("ollama", apierrors.KindConfigError, 0, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, apierrors.NewProviderError(
			"ollama",
			apierrors.ClassifyHTTPStatus(resp.StatusCode),
			resp.StatusCode,
			fmt.Sprintf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))),
			nil,
		)
	}

	return newStreamer(ctx, resp.Body), nil
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []toolSpec     `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type chatResponse struct {
	Message         *chatMessage `json:"message"`
	Done            bool         `json:"done"`
	Error           string       `json:"error"`
	EvalCount       int          `json:"eval_count"`
	PromptEvalCount int          `json:"prompt_eval_count"`
}

type toolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function toolCallFunc `json:"function"`
}

type toolCallFunc struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type toolSpec struct {
	Type     string           `json:"type"`
	Function toolSpecFunction `json:"function"`
}

type toolSpecFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func encodeTools(defs []provider.ToolDefinition) []toolSpec {
	out := make([]toolSpec, 0, len(defs))
	for _, def := range defs {
		out = append(out, toolSpec{Type: "function", Function: toolSpecFunction{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.InputSchema,
		}})
	}
	return out
}

// buildMessages mirrors the teacher's role-preserving, tool-result-by-name
// translation: Ollama correlates a tool message to its call by tool name,
// not ID, so the adapter resolves each RoleTool message's ToolCallID back to
// the call's Name before emitting it.
func buildMessages(msgs []provider.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	toolNames := map[string]string{}
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	for _, m := range msgs {
		text := ""
		if len(m.Content) > 0 {
			text = m.Content[0].Text
		}
		switch m.Role {
		case provider.RoleAssistant:
			cm := chatMessage{Role: "assistant", Content: text}
			if len(m.ToolCalls) > 0 {
				cm.ToolCalls = make([]toolCall, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					args := tc.Arguments
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					cm.ToolCalls[i] = toolCall{ID: tc.ID, Type: "function", Function: toolCallFunc{Name: tc.Name, Arguments: args}}
				}
			}
			out = append(out, cm)
		case provider.RoleTool:
			out = append(out, chatMessage{Role: "tool", Content: text, ToolName: toolNames[m.ToolCallID]})
		case provider.RoleSystem:
			out = append(out, chatMessage{Role: "system", Content: text})
		default:
			out = append(out, chatMessage{Role: "user", Content: text})
		}
	}
	return out
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewProviderError("ollama", apierrors.KindTimeout, 0, "request timed out", err)
	}
	return apierrors.NewProviderError("ollama", apierrors.KindUnavailable, 0, "request failed", err)
}

// newToolCallID mirrors the teacher's fallback ID assignment for tool calls
// Ollama reports without one.
func newToolCallID(tc toolCall) string {
	if strings.TrimSpace(tc.ID) != "" {
		return tc.ID
	}
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return uuid.NewString()
	}
	return name + ":" + args
}
