package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/infra/tracer"
)

const (
	defaultAnthropicURL     = "https://api.anthropic.com"
	defaultAnthropicVersion = "2023-06-01"
	defaultMaxTokens        = 4096
)

// AnthropicProvider implements domain.StreamingLLMProvider for the
// Anthropic Messages API.
type AnthropicProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	version string
	client  *http.Client
	logger  *slog.Logger
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &AnthropicProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		version: defaultAnthropicVersion,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.version,
	}
}

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()
	started := time.Now()

	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/v1/messages", body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var antResp anthropicResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		err = fmt.Errorf("%w: unmarshal response: %v", domain.ErrProviderError, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromAnthropicResponse(antResp)
	if antResp.StopReason == "max_tokens" {
		p.logger.Warn("model output truncated at max_tokens",
			"provider", p.name, "max_tokens", req.MaxTokens, "tool_calls", len(result.Message.ToolCalls))
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result, started)
	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider.
//
// Text arrives as Content deltas. A tool_use block opens with a delta
// carrying its ID and Name at the block's index; its input JSON follows as
// Arguments fragments at the same index.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	antReq := toAnthropicRequest(req)
	antReq.Stream = true

	body, err := json.Marshal(antReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/v1/messages", body, p.headers())
	if err != nil {
		return nil, err
	}

	var usage domain.Usage
	return parseSSEStream(ctx, httpResp.Body, func(event string, data []byte) (*domain.StreamDelta, error) {
		var evt anthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, err
		}
		if evt.Type == "" {
			evt.Type = event
		}

		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				usage.PromptTokens = evt.Message.Usage.InputTokens
			}
			return nil, nil

		case "content_block_start":
			if evt.ContentBlock == nil {
				return nil, nil
			}
			switch evt.ContentBlock.Type {
			case "tool_use":
				return &domain.StreamDelta{ToolCalls: []domain.ToolCallDelta{{
					Index: evt.Index,
					ID:    evt.ContentBlock.ID,
					Name:  evt.ContentBlock.Name,
				}}}, nil
			case "text":
				if evt.ContentBlock.Text != "" {
					return &domain.StreamDelta{Content: evt.ContentBlock.Text}, nil
				}
			}
			return nil, nil

		case "content_block_delta":
			var d anthropicDelta
			if err := json.Unmarshal(evt.Delta, &d); err != nil {
				return nil, err
			}
			switch d.Type {
			case "text_delta":
				return &domain.StreamDelta{Content: d.Text}, nil
			case "input_json_delta":
				return &domain.StreamDelta{ToolCalls: []domain.ToolCallDelta{{
					Index:     evt.Index,
					Arguments: d.PartialJSON,
				}}}, nil
			}
			return nil, nil

		case "message_delta":
			if evt.Usage != nil {
				usage.CompletionTokens = evt.Usage.OutputTokens
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				u := usage
				return &domain.StreamDelta{Usage: &u}, nil
			}
			return nil, nil

		case "message_stop":
			return &domain.StreamDelta{Done: true}, nil

		case "error":
			var env apiErrorBody
			_ = json.Unmarshal(data, &env)
			sentinel := domain.ErrProviderError
			if env.Error.Type == "overloaded_error" || env.Error.Type == "rate_limit_error" {
				sentinel = domain.ErrRateLimit
			}
			return &domain.StreamDelta{Err: fmt.Errorf("%w: stream error (%s): %s", sentinel, env.Error.Type, env.Error.Message)}, nil
		}
		return nil, nil
	}), nil
}

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	Message      *anthropicResponse `json:"message,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        json.RawMessage    `json:"delta,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

// toAnthropicRequest converts the conversation to Messages API form. The
// system message moves to the top-level field, tool results become user
// tool_result blocks, and consecutive same-role messages are merged since
// the API requires alternating roles.
func toAnthropicRequest(req domain.ChatRequest) anthropicRequest {
	antReq := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if antReq.MaxTokens <= 0 {
		antReq.MaxTokens = defaultMaxTokens
	}
	temp := req.Temperature
	antReq.Temperature = &temp

	var system []string
	for _, m := range req.Messages {
		var role string
		var blocks []anthropicContent

		switch m.Role {
		case domain.RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		case domain.RoleTool:
			role = "user"
			blocks = []anthropicContent{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
				IsError:   m.IsError,
			}}
		case domain.RoleAssistant:
			role = "assistant"
			if m.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 || !json.Valid(input) {
					input = emptyObject
				}
				blocks = append(blocks, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
		default:
			role = "user"
			if m.Content != "" {
				blocks = []anthropicContent{{Type: "text", Text: m.Content}}
			}
		}

		if len(blocks) == 0 {
			continue
		}
		if n := len(antReq.Messages); n > 0 && antReq.Messages[n-1].Role == role {
			antReq.Messages[n-1].Content = append(antReq.Messages[n-1].Content, blocks...)
			continue
		}
		antReq.Messages = append(antReq.Messages, anthropicMessage{Role: role, Content: blocks})
	}
	antReq.System = strings.Join(system, "\n\n")

	for _, t := range req.Tools {
		antReq.Tools = append(antReq.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return antReq
}

func fromAnthropicResponse(resp anthropicResponse) *domain.ChatResponse {
	now := time.Now()
	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		CreatedAt: now,
	}

	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: now}
	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	msg.Content = strings.Join(text, "")
	result.Message = msg
	return result
}
