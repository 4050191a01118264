//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/infra/tracer"
)

func init() {
	providerFactories["bedrock"] = func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
		return NewBedrockProvider(cfg, logger)
	}
}

// converseAPI is the subset of the Bedrock runtime client used here.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider implements domain.StreamingLLMProvider via the Bedrock
// Converse API. Credentials come from the default AWS chain.
type BedrockProvider struct {
	name   string
	model  string
	client converseAPI
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider for cfg.Region.
func NewBedrockProvider(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockProvider(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockProvider(name, model string, client converseAPI, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{name: name, model: model, client: client, logger: logger}
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()
	started := time.Now()

	output, err := p.client.Converse(ctx, toConverseInput(req))
	if err != nil {
		err = mapBedrockError(ctx, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromConverseOutput(output, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result, started)
	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider. Usage arrives in the
// trailing metadata event; the channel closes when the event stream ends.
func (p *BedrockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	in := toConverseInput(req)
	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		InferenceConfig: in.InferenceConfig,
		ToolConfig:      in.ToolConfig,
	})
	if err != nil {
		return nil, mapBedrockError(ctx, err)
	}

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for evt := range stream.Events() {
			if d := streamEventDelta(evt); d != nil && !send(*d) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(domain.StreamDelta{Err: mapBedrockError(ctx, err)})
			return
		}
		send(domain.StreamDelta{Done: true})
	}()
	return ch, nil
}

func toConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			if m.Content != "" {
				input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
			}
			continue
		}
		role, blocks := toBedrockContent(m)
		if len(blocks) == 0 {
			continue
		}
		// Converse requires alternating roles.
		if n := len(input.Messages); n > 0 && input.Messages[n-1].Role == role {
			input.Messages[n-1].Content = append(input.Messages[n-1].Content, blocks...)
			continue
		}
		input.Messages = append(input.Messages, types.Message{Role: role, Content: blocks})
	}

	if len(req.Tools) > 0 {
		tools := make([]types.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: jsonDocument(t.Parameters)},
			}})
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}
	return input
}

func toBedrockContent(m domain.Message) (types.ConversationRole, []types.ContentBlock) {
	switch m.Role {
	case domain.RoleTool:
		status := types.ToolResultStatusSuccess
		if m.IsError {
			status = types.ToolResultStatusError
		}
		return types.ConversationRoleUser, []types.ContentBlock{
			&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Status:    status,
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
			}},
		}
	case domain.RoleAssistant:
		var blocks []types.ContentBlock
		if m.Content != "" {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     jsonDocument(tc.Arguments),
			}})
		}
		return types.ConversationRoleAssistant, blocks
	default:
		if m.Content == "" {
			return types.ConversationRoleUser, nil
		}
		return types.ConversationRoleUser, []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}}
	}
}

// jsonDocument wraps a JSON object as a smithy document. Anything that is
// not a JSON object becomes {}.
func jsonDocument(raw json.RawMessage) document.Interface {
	var v map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	if v == nil {
		v = map[string]any{}
	}
	return document.NewLazyDocument(v)
}

func documentJSON(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func bedrockUsage(u *types.TokenUsage) domain.Usage {
	if u == nil {
		return domain.Usage{}
	}
	in, out := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
	return domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func fromConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	now := time.Now()
	result := &domain.ChatResponse{Model: model, Usage: bedrockUsage(output.Usage), CreatedAt: now}

	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: now}
	if out, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		var text []string
		for _, block := range out.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				text = append(text, b.Value)
			case *types.ContentBlockMemberToolUse:
				msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: documentJSON(b.Value.Input),
				})
			}
		}
		msg.Content = strings.Join(text, "")
	}
	result.Message = msg
	return result
}

func streamEventDelta(evt types.ConverseStreamOutput) *domain.StreamDelta {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		return &domain.StreamDelta{ToolCalls: []domain.ToolCallDelta{{
			Index: int(aws.ToInt32(e.Value.ContentBlockIndex)),
			ID:    aws.ToString(start.Value.ToolUseId),
			Name:  aws.ToString(start.Value.Name),
		}}}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return &domain.StreamDelta{Content: d.Value}
		case *types.ContentBlockDeltaMemberToolUse:
			return &domain.StreamDelta{ToolCalls: []domain.ToolCallDelta{{
				Index:     int(aws.ToInt32(e.Value.ContentBlockIndex)),
				Arguments: aws.ToString(d.Value.Input),
			}}}
		}

	case *types.ConverseStreamOutputMemberMetadata:
		u := bedrockUsage(e.Value.Usage)
		return &domain.StreamDelta{Usage: &u}
	}
	return nil
}

func mapBedrockError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case code == "ThrottlingException", code == "TooManyRequestsException", code == "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException", code == "UnrecognizedClientException", code == "ExpiredTokenException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		}
	}
	return fmt.Errorf("%w: bedrock: %s", domain.ErrProviderError, msg)
}

var _ domain.StreamingLLMProvider = (*BedrockProvider)(nil)
