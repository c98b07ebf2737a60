// Package openaicompat implements provider.Client against any upstream that
// speaks the OpenAI Chat Completions wire protocol: OpenAI itself, Azure
// OpenAI, Mistral, Groq, Together, DeepSeek, and self-hosted vLLM. Message
// shape is the identity mapping; tools become `function`-typed entries;
// response_format passes through with {text|json_object|json_schema}.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// ChatClient captures the subset of the go-openai client the adapter needs,
// so tests can substitute a fake transport.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Options configures the adapter.
type Options struct {
	// Client is required; build one with NewFromConfig or pass a fake.
	Client ChatClient
	// DefaultModel is used when a Request does not specify Model.
	DefaultModel string
	// ProviderName labels the adapter in error classification ("openai",
	// "azure", "groq", "together", "deepseek", "vllm", ...).
	ProviderName string
	// Aliases maps logical model identifiers to the concrete upstream model
	// ID. Unknown aliases are passed through verbatim rather than rejected,
	// since this family's upstreams commonly accept arbitrary model IDs.
	Aliases map[string]string
}

// Client implements provider.Client over the OpenAI Chat Completions API.
type Client struct {
	chat    ChatClient
	model   string
	name    string
	aliases map[string]string
}

// NewFromConfig builds a Client from an API key and base URL, grounded on
// the go-openai client-config pattern used throughout the pack.
func NewFromConfig(apiKey, baseURL, providerName, defaultModel string, aliases map[string]string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openaicompat: api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}
	c := openai.NewClientWithConfig(cfg)
	return New(Options{Client: c, DefaultModel: defaultModel, ProviderName: providerName, Aliases: aliases})
}

// New builds a Client from pre-constructed options, primarily for tests.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openaicompat: client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openaicompat: default model is required")
	}
	name := opts.ProviderName
	if name == "" {
		name = "openai"
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel, name: name, aliases: opts.Aliases}, nil
}

func (c *Client) resolveModel(requested string) string {
	m := requested
	if m == "" {
		m = c.model
	}
	if alias, ok := c.aliases[m]; ok {
		return alias
	}
	return m
}

// Complete renders a chat completion using the configured client.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	if len(req.Messages) == 0 {
		return provider.Response{}, errors.New("openaicompat: messages are required")
	}
	request, err := c.buildRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return provider.Response{}, c.classify(err)
	}
	return translateResponse(resp), nil
}

// Stream invokes the streaming Chat Completions endpoint and adapts chunks.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openaicompat: messages are required")
	}
	request, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	request.Stream = true
	stream, err := c.chat.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, c.classify(err)
	}
	return newStreamer(stream), nil
}

func (c *Client) buildRequest(req provider.Request) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages = append(messages, msg)
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	out := openai.ChatCompletionRequest{
		Model:    c.resolveModel(req.Model),
		Messages: messages,
		Tools:    tools,
		Stop:     req.Stop,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if req.ToolChoice != nil {
		out.ToolChoice = encodeToolChoice(*req.ToolChoice)
	}
	if req.ResponseFormat != nil {
		out.ResponseFormat = encodeResponseFormat(*req.ResponseFormat)
	}
	return out, nil
}

func encodeMessage(m provider.Message) (openai.ChatCompletionMessage, error) {
	out := openai.ChatCompletionMessage{Role: string(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}
	if len(m.ToolCalls) > 0 {
		calls := make([]openai.ToolCall, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			calls = append(calls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out.ToolCalls = calls
	}
	if len(m.Content) == 1 && m.Content[0].Type == "text" {
		out.Content = m.Content[0].Text
		return out, nil
	}
	parts := make([]openai.ChatMessagePart, 0, len(m.Content))
	for _, part := range m.Content {
		switch part.Type {
		case "text":
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Text})
		case "image_url":
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
			})
		case "image_base64":
			mime := part.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: "data:" + mime + ";base64," + part.ImageBase64},
			})
		default:
			return openai.ChatCompletionMessage{}, fmt.Errorf("openaicompat: unsupported content part type %q", part.Type)
		}
	}
	out.MultiContent = parts
	return out, nil
}

func encodeTools(defs []provider.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params := json.RawMessage(def.InputSchema)
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

func encodeToolChoice(tc provider.ToolChoice) any {
	switch tc.Mode {
	case provider.ToolChoiceNone:
		return "none"
	case provider.ToolChoiceAny:
		return "required"
	case provider.ToolChoiceTool:
		return openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: tc.Name}}
	default:
		return "auto"
	}
}

func encodeResponseFormat(rf provider.ResponseFormat) *openai.ChatCompletionResponseFormat {
	switch rf.Type {
	case "json_object":
		return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	case "json_schema":
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   rf.Name,
				Schema: json.RawMessage(rf.Schema),
				Strict: true,
			},
		}
	default:
		return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeText}
	}
}

func translateResponse(resp openai.ChatCompletionResponse) provider.Response {
	out := provider.Response{
		ID:    resp.ID,
		Usage: provider.TokenUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens},
	}
	if len(resp.Choices) == 0 {
		out.FinishReason = provider.FinishStop
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	out.FinishReason = mapFinishReason(string(choice.FinishReason), len(out.ToolCalls) > 0)
	return out
}

func mapFinishReason(reason string, hasToolCalls bool) provider.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return provider.FinishToolCalls
	case "length":
		return provider.FinishLength
	case "stop", "":
		if hasToolCalls {
			return provider.FinishToolCalls
		}
		return provider.FinishStop
	default:
		return provider.FinishStop
	}
}

func (c *Client) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := apierrors.ClassifyHTTPStatus(apiErr.HTTPStatusCode)
		return apierrors.NewProviderError(c.name, kind, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apierrors.NewProviderError(c.name, apierrors.KindUnavailable, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewProviderError(c.name, apierrors.KindTimeout, 0, "request timed out", err)
	}
	return apierrors.NewProviderError(c.name, apierrors.KindUnavailable, 0, err.Error(), err)
}

type streamer struct {
	s *openai.ChatCompletionStream

	toolBuf map[int]*provider.ToolCall
}

func newStreamer(s *openai.ChatCompletionStream) *streamer {
	return &streamer{s: s, toolBuf: make(map[int]*provider.ToolCall)}
}

func (s *streamer) Recv() (provider.Chunk, error) {
	resp, err := s.s.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return provider.Chunk{}, io.EOF
		}
		return provider.Chunk{}, err
	}
	return translateStreamChunk(s, resp), nil
}

// translateStreamChunk converts one raw openai stream response into a
// normalized Chunk, accumulating tool-call name/ID by index on s so that
// argument fragments arriving on later deltas carry the right identity.
func translateStreamChunk(s *streamer, resp openai.ChatCompletionStreamResponse) provider.Chunk {
	if resp.Usage != nil {
		return provider.Chunk{Type: provider.ChunkUsage, Usage: &provider.TokenUsage{
			InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens,
		}}
	}
	if len(resp.Choices) == 0 {
		return provider.Chunk{Type: provider.ChunkContent}
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "" {
		hasTools := len(s.toolBuf) > 0
		return provider.Chunk{Type: provider.ChunkStop, FinishReason: mapFinishReason(string(choice.FinishReason), hasTools)}
	}
	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		buf, ok := s.toolBuf[idx]
		if !ok {
			buf = &provider.ToolCall{ID: tc.ID, Name: tc.Function.Name}
			s.toolBuf[idx] = buf
		}
		return provider.Chunk{Type: provider.ChunkToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{
			Index: idx, ID: buf.ID, Name: buf.Name, Delta: tc.Function.Arguments,
		}}
	}
	if choice.Delta.Content != "" {
		return provider.Chunk{Type: provider.ChunkContent, ContentDelta: choice.Delta.Content}
	}
	return provider.Chunk{Type: provider.ChunkContent}
}

func (s *streamer) Close() error { return s.s.Close() }
