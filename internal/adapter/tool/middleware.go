package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/tracer"
)

// Execute is the standard tool execution pipeline: parse params -> start trace -> run handler -> format result.
//
// The handler receives the parsed params and an active trace span. It should return:
//   - (string, nil): wrapped in a plain-text ToolResult
//   - (*domain.ToolResult, nil): returned as-is (for error text the model should see)
//   - (any other value, nil): JSON-marshaled into a success ToolResult
//   - (nil, error): turned into an error ToolResult with logging
//
// Tool faults never leave Execute as Go errors; the model receives them as text.
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	p, bad := ParseParams[P](rawParams)
	if bad != nil {
		tracer.RecordError(span, fmt.Errorf("%s", bad.Content))
		return bad, nil
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn(spanName+" failed", "error", err)

		content := "Error: " + err.Error()
		if classifyToolError(err) {
			content += " (transient error, may succeed on retry)"
		}
		return &domain.ToolResult{IsError: true, Content: content}, nil
	}

	return formatResult(span, result)
}

// formatResult converts the handler's return value into a ToolResult.
func formatResult(span trace.Span, result any) (*domain.ToolResult, error) {
	switch v := result.(type) {
	case *domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.Content))
		} else {
			tracer.SetOK(span)
		}
		return v, nil
	case string:
		tracer.SetOK(span)
		return &domain.ToolResult{Content: v}, nil
	default:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			tracer.RecordError(span, err)
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("Error: failed to format response: %v", err),
			}, nil
		}
		tracer.SetOK(span)
		return &domain.ToolResult{Content: string(data)}, nil
	}
}

// ParseParams unmarshals rawParams into P.
// On failure it returns a ToolResult with IsError=true, suitable for returning directly.
func ParseParams[P any](rawParams json.RawMessage) (P, *domain.ToolResult) {
	var p P
	if len(rawParams) == 0 {
		rawParams = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return p, &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("Error: invalid arguments: %v", err),
		}
	}
	return p, nil
}

// ErrResult creates an error ToolResult. Use this for conditions inside
// handlers that should reach the model without being logged as warnings.
func ErrResult(format string, args ...any) (*domain.ToolResult, error) {
	return &domain.ToolResult{
		IsError: true,
		Content: fmt.Sprintf(format, args...),
	}, nil
}

// TextResult creates a plain text success ToolResult.
func TextResult(s string) *domain.ToolResult {
	return &domain.ToolResult{Content: s}
}
