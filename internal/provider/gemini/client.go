// Package gemini implements provider.Client against Google's Gemini API via
// google.golang.org/genai. System messages become the request's top-level
// SystemInstruction, tool calls/results map onto FunctionCall/FunctionResponse
// parts, and since Gemini never echoes a tool-call ID, one is synthesized
// from the function name and the current time so later tool-result messages
// can be correlated back to the right invocation.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// ModelsClient captures the subset of the genai SDK the adapter uses.
type ModelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter2
}

// iter2 matches iter.Seq2[*genai.GenerateContentResponse, error] without
// importing the generic alias directly, so fakes can implement it easily.
type iter2 = func(yield func(*genai.GenerateContentResponse, error) bool)

// Options configures the Gemini adapter.
type Options struct {
	DefaultModel string
}

// Client implements provider.Client on top of Gemini GenerateContent.
type Client struct {
	models       ModelsClient
	defaultModel string
}

// NewFromAPIKey builds a Client using the SDK's default Gemini API backend.
func NewFromAPIKey(ctx context.Context, apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return New(c.Models, Options{DefaultModel: defaultModel})
}

// New builds a Client from a pre-constructed ModelsClient, primarily for
// tests.
func New(models ModelsClient, opts Options) (*Client, error) {
	if models == nil {
		return nil, errors.New("gemini: models client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("gemini: default model is required")
	}
	return &Client{models: models, defaultModel: opts.DefaultModel}, nil
}

func (c *Client) model(requested string) string {
	if requested != "" {
		return strings.TrimPrefix(requested, "google/")
	}
	return c.defaultModel
}

// Complete issues a non-streaming GenerateContent call.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	if len(req.Messages) == 0 {
		return provider.Response{}, errors.New("gemini: messages are required")
	}
	contents, toolNames := convertMessages(req.Messages)
	config := buildConfig(req)
	resp, err := c.models.GenerateContent(ctx, c.model(req.Model), contents, config)
	if err != nil {
		return provider.Response{}, classify(err)
	}
	return translateResponse(resp, toolNames), nil
}

// Stream issues a streaming GenerateContent call.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini: messages are required")
	}
	contents, _ := convertMessages(req.Messages)
	config := buildConfig(req)
	seq := c.models.GenerateContentStream(ctx, c.model(req.Model), contents, config)
	return newStreamer(ctx, seq), nil
}

func convertMessages(msgs []provider.Message) ([]*genai.Content, map[string]string) {
	var result []*genai.Content
	toolIDToName := make(map[string]string)

	for i, m := range msgs {
		if m.Role == provider.RoleSystem {
			continue
		}
		content := &genai.Content{}
		switch m.Role {
		case provider.RoleUser, provider.RoleTool:
			content.Role = genai.RoleUser
		case provider.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		for _, p := range m.Content {
			switch p.Type {
			case "text":
				// A tool message's text travels in its FunctionResponse part.
				if p.Text != "" && m.Role != provider.RoleTool {
					content.Parts = append(content.Parts, &genai.Part{Text: p.Text})
				}
			case "image_url":
				content.Parts = append(content.Parts, &genai.Part{FileData: &genai.FileData{FileURI: p.ImageURL, MIMEType: p.MIMEType}})
			case "image_base64":
				mime := p.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{Data: decodeBase64(p.ImageBase64), MIMEType: mime}})
			}
		}

		for _, tc := range m.ToolCalls {
			var args map[string]any
			if len(tc.Arguments) > 0 {
				_ = json.Unmarshal(tc.Arguments, &args)
			}
			if args == nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
			if tc.ID != "" {
				toolIDToName[tc.ID] = tc.Name
			}
		}

		if m.Role == provider.RoleTool {
			name := toolIDToName[m.ToolCallID]
			if name == "" {
				name = fmt.Sprintf("unknown_tool_%d", i)
			}
			var response map[string]any
			text := ""
			if len(m.Content) > 0 {
				text = m.Content[0].Text
			}
			if err := json.Unmarshal([]byte(text), &response); err != nil {
				response = map[string]any{"result": text}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: name, Response: response}})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, toolIDToName
}

func buildConfig(req provider.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem && len(m.Content) > 0 {
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content[0].Text}}}
			break
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := *req.Temperature
		config.Temperature = &t
	}
	if req.TopP != nil {
		t := *req.TopP
		config.TopP = &t
	}
	if len(req.Tools) > 0 {
		config.Tools = convertTools(req.Tools)
	}
	if req.ToolChoice != nil {
		config.ToolConfig = convertToolChoice(*req.ToolChoice)
	}
	return config
}

func convertTools(defs []provider.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schemaMap)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  convertSchema(schemaMap),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertSchema translates a JSON Schema document into Gemini's Schema type,
// which spells its type names in upper case ("OBJECT", "STRING", ...) rather
// than the lower-case names JSON Schema uses.
func convertSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = convertSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = convertSchema(items)
	}
	return schema
}

func convertToolChoice(tc provider.ToolChoice) *genai.ToolConfig {
	switch tc.Mode {
	case provider.ToolChoiceNone:
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}}
	case provider.ToolChoiceAny:
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny}}
	case provider.ToolChoiceTool:
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{tc.Name},
		}}
	default:
		return nil
	}
}

func translateResponse(resp *genai.GenerateContentResponse, toolNames map[string]string) provider.Response {
	out := provider.Response{}
	var text strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					text.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					argsJSON, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						argsJSON = []byte("{}")
					}
					out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
						ID:        newToolCallID(part.FunctionCall.Name),
						Name:      part.FunctionCall.Name,
						Arguments: argsJSON,
					})
				}
			}
		}
		if resp.UsageMetadata != nil {
			out.Usage = provider.TokenUsage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}
	}
	out.Content = text.String()
	out.FinishReason = provider.FinishStop
	if len(out.ToolCalls) > 0 {
		out.FinishReason = provider.FinishToolCalls
	}
	return out
}

// newToolCallID synthesizes a stable-looking call ID since Gemini function
// calls carry no provider-assigned identifier.
func newToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// decodeBase64 strips an optional "data:<mime>;base64," prefix before
// decoding, since image_base64 content parts may arrive as a bare payload or
// a full data URL depending on the caller.
func decodeBase64(s string) []byte {
	if idx := strings.Index(s, ","); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewProviderError("gemini", apierrors.KindTimeout, 0, "request timed out", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "quota"):
		return apierrors.NewProviderError("gemini", apierrors.KindRateLimited, 429, err.Error(), err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		return apierrors.NewProviderError("gemini", apierrors.KindAuthFailed, 401, err.Error(), err)
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		return apierrors.NewProviderError("gemini", apierrors.KindAuthFailed, 403, err.Error(), err)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return apierrors.NewProviderError("gemini", apierrors.KindNotFound, 404, err.Error(), err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"):
		return apierrors.NewProviderError("gemini", apierrors.KindUnavailable, 503, err.Error(), err)
	default:
		return apierrors.NewProviderError("gemini", apierrors.KindInvalidResponse, 0, err.Error(), err)
	}
}
