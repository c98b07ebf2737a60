// Package bedrock implements provider.Client against the AWS Bedrock
// Converse API. It splits system vs. conversational messages, encodes tool
// schemas into Bedrock's ToolConfiguration, sanitizes tool names to
// Bedrock's [a-zA-Z0-9_-]{1,64} constraint, and translates Converse
// responses (text + tool_use blocks) back into the normalized shape.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter uses.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements provider.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
}

// New builds a Client from a Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	sanToCanon map[string]string
}

// Complete issues a Converse request.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, c.buildConverseInput(parts, req))
	if err != nil {
		return provider.Response{}, c.classify(err)
	}
	return translateResponse(output, parts.sanToCanon)
}

// Stream issues a ConverseStream request and adapts events.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(parts.modelID), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, c.classify(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(ctx, stream, parts.sanToCanon), nil
}

func (c *Client) prepareRequest(req provider.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools, req.ToolChoice)
	if err != nil {
		return nil, err
	}
	messages, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, err
	}
	return &requestParts{modelID: modelID, messages: messages, system: system, toolConfig: toolConfig, sanToCanon: sanToCanon}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, req provider.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(parts.modelID), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig(maxTokens int, temp *float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens))
	}
	t := c.temp
	if temp != nil {
		t = *temp
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []provider.Message, canonToSan map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			for _, p := range m.Content {
				if p.Type == "text" && p.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: p.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Content)+len(m.ToolCalls)+1)
		if m.Role == provider.RoleTool {
			var content []brtypes.ToolResultContentBlock
			if len(m.Content) > 0 && m.Content[0].Type == "text" {
				content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content[0].Text}}
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   content,
			}})
			conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
			continue
		}
		for _, p := range m.Content {
			if p.Type == "text" && p.Text != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: p.Text})
			}
		}
		for _, tc := range m.ToolCalls {
			sanitized, ok := canonToSan[tc.Name]
			if !ok {
				sanitized = sanitizeToolName(tc.Name)
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				Name:      aws.String(sanitized),
				ToolUseId: aws.String(tc.ID),
				Input:     toDocument(tc.Arguments),
			}})
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == provider.RoleUser {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []provider.ToolDefinition, choice *provider.ToolChoice) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(def.InputSchema)},
		}})
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	cfg := &brtypes.ToolConfiguration{Tools: toolList}
	if choice != nil {
		switch choice.Mode {
		case provider.ToolChoiceAuto, "":
		case provider.ToolChoiceAny:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
		case provider.ToolChoiceTool:
			sanitized, ok := canonToSan[choice.Name]
			if !ok {
				return nil, nil, nil, fmt.Errorf("bedrock: tool choice name %q does not match any declared tool", choice.Name)
			}
			cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
		}
	}
	return cfg, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a tool name to Bedrock's [a-zA-Z0-9_-]{1,64}
// constraint, truncating and appending a stable hash suffix when the
// allowed-character name would exceed 64 characters.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	return sanitized[:prefixLen] + "_" + suffix
}

func toDocument(raw json.RawMessage) document.Interface {
	if len(raw) == 0 {
		v := map[string]any{"type": "object"}
		return document.NewLazyDocument(&v)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		v := map[string]any{"type": "object"}
		return document.NewLazyDocument(&v)
	}
	return document.NewLazyDocument(&decoded)
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(data)
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (provider.Response, error) {
	if output == nil {
		return provider.Response{}, errors.New("bedrock: response is nil")
	}
	resp := provider.Response{}
	var textBuilder strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				textBuilder.WriteString(v.Value)
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					raw := *v.Value.Name
					if canonical, ok := nameMap[raw]; ok {
						name = canonical
					} else {
						name = raw
					}
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{ID: id, Name: name, Arguments: decodeDocument(v.Value.Input)})
			}
		}
	}
	resp.Content = textBuilder.String()
	if usage := output.Usage; usage != nil {
		resp.Usage = provider.TokenUsage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
	}
	resp.FinishReason = mapStopReason(string(output.StopReason), len(resp.ToolCalls) > 0)
	return resp, nil
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
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
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return apierrors.NewProviderError("bedrock", apierrors.KindRateLimited, 429, apiErr.ErrorMessage(), err)
		case "ValidationException":
			return apierrors.NewProviderError("bedrock", apierrors.KindBadRequest, 400, apiErr.ErrorMessage(), err)
		case "AccessDeniedException":
			return apierrors.NewProviderError("bedrock", apierrors.KindAuthFailed, 403, apiErr.ErrorMessage(), err)
		case "ResourceNotFoundException":
			return apierrors.NewProviderError("bedrock", apierrors.KindNotFound, 404, apiErr.ErrorMessage(), err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return apierrors.NewProviderError("bedrock", apierrors.ClassifyHTTPStatus(respErr.HTTPStatusCode()), respErr.HTTPStatusCode(), respErr.Error(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewProviderError("bedrock", apierrors.KindTimeout, 0, "request timed out", err)
	}
	return apierrors.NewProviderError("bedrock", apierrors.KindUnavailable, 0, err.Error(), err)
}
