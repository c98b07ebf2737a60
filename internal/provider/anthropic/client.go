// Package anthropic implements provider.Client against the Anthropic Claude
// Messages API via github.com/anthropics/anthropic-sdk-go. System messages
// are hoisted out of the conversation into the top-level `system` field,
// tool names are sanitized to Anthropic's allowed character set, and
// structured-output requests are translated into a synthetic forced tool
// call since Claude Messages has no native json_schema response format.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// jsonResponseTool is the synthetic tool name used to coerce a json_schema
// response_format request into Claude's native tool-use mechanism: it is
// declared with the caller's schema and pinned as the forced tool_choice, so
// the reply arrives as a single tool_use block instead of free text.
const jsonResponseTool = "__json_response"

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// uses, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the Anthropic adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements provider.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTok       int
	temp         float64
}

// NewFromAPIKey builds a Client from an API key using the SDK's default HTTP
// transport.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// New builds a Client from a pre-constructed MessagesClient, primarily for
// tests.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return provider.Response{}, c.classify(err)
	}
	return translateResponse(msg, nameMap), nil
}

// Stream issues Messages.NewStreaming and adapts events into provider.Chunks.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, c.classify(err)
	}
	return newStreamer(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req provider.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	tools := req.Tools
	toolChoice := req.ToolChoice
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_schema" {
		tools = append(append([]provider.ToolDefinition{}, tools...), provider.ToolDefinition{
			Name:        jsonResponseTool,
			Description: "Emit the final answer matching the required JSON schema.",
			InputSchema: req.ResponseFormat.Schema,
		})
		toolChoice = &provider.ToolChoice{Mode: provider.ToolChoiceTool, Name: jsonResponseTool}
	}
	encodedTools, canonToSan, sanToCanon, err := encodeTools(tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(model),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(encodedTools) > 0 {
		params.Tools = encodedTools
	}
	temp := c.temp
	if req.Temperature != nil {
		temp = float64(*req.Temperature)
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if toolChoice != nil {
		tc, err := encodeToolChoice(*toolChoice, canonToSan)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}
	return &params, sanToCanon, nil
}

func encodeMessages(msgs []provider.Message, canonToSan map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			for _, p := range m.Content {
				if p.Type == "text" && p.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: p.Text})
				}
			}
			continue
		}
		if m.Role == provider.RoleTool {
			text := ""
			if len(m.Content) > 0 {
				text = m.Content[0].Text
			}
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, text, false)))
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content)+len(m.ToolCalls))
		for _, p := range m.Content {
			if p.Type == "text" && p.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(p.Text))
			}
		}
		for _, tc := range m.ToolCalls {
			sanitized, ok := canonToSan[tc.Name]
			if !ok {
				sanitized = sanitizeToolName(tc.Name)
			}
			var input any = map[string]any{}
			if len(tc.Arguments) > 0 {
				_ = json.Unmarshal(tc.Arguments, &input)
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, sanitized))
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case provider.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case provider.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []provider.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized

		var schemaFields map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schemaFields); err != nil {
				return nil, nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaFields}, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, canonToSan, sanToCanon, nil
}

func encodeToolChoice(tc provider.ToolChoice, canonToSan map[string]string) (sdk.ToolChoiceUnionParam, error) {
	switch tc.Mode {
	case provider.ToolChoiceAuto, "":
		return sdk.ToolChoiceUnionParam{}, nil
	case provider.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case provider.ToolChoiceAny:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case provider.ToolChoiceTool:
		sanitized, ok := canonToSan[tc.Name]
		if !ok {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any declared tool", tc.Name)
		}
		return sdk.ToolChoiceParamOfTool(sanitized), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool choice mode %q", tc.Mode)
	}
}

// sanitizeToolName replaces characters Anthropic disallows in tool names
// with '_', truncating is not needed since OpenAI-style function names are
// already <= 64 characters in practice.
func sanitizeToolName(in string) string {
	if in == "" {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) provider.Response {
	resp := provider.Response{ID: msg.ID}
	var textBuilder strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			textBuilder.WriteString(block.Text)
		case "tool_use":
			name := block.Name
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			payload := block.Input
			if len(payload) == 0 {
				payload = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{ID: block.ID, Name: name, Arguments: payload})
		}
	}
	resp.Content = textBuilder.String()
	resp.Usage = provider.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	resp.FinishReason = mapStopReason(string(msg.StopReason), len(resp.ToolCalls) > 0)
	return resp
}

func mapStopReason(reason string, hasToolCalls bool) provider.FinishReason {
	switch reason {
	case "tool_use":
		return provider.FinishToolCalls
	case "max_tokens":
		return provider.FinishLength
	default:
		if hasToolCalls {
			return provider.FinishToolCalls
		}
		return provider.FinishStop
	}
}

func (c *Client) classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		return apierrors.NewProviderError("anthropic", apierrors.ClassifyHTTPStatus(status), status, apiErr.Error(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewProviderError("anthropic", apierrors.KindTimeout, 0, "request timed out", err)
	}
	return apierrors.NewProviderError("anthropic", apierrors.KindUnavailable, 0, err.Error(), err)
}
