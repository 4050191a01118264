package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size read from model APIs.
const maxResponseBody = 10 * 1024 * 1024

// statusOverloaded is Anthropic's "overloaded" status.
const statusOverloaded = 529

// doJSONRequest POSTs body and returns the response body of a 200 reply.
// Other statuses are mapped to domain errors by mapHTTPError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpResp, err := send(ctx, client, url, body, headers, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProviderError, err)
	}
	return respBody, nil
}

// doStreamRequest POSTs body for an SSE stream and returns the open
// response. The caller must close Body.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	return send(ctx, client, url, body, headers, true)
}

func send(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderError, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return httpResp, nil
}

func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse, started time.Time) {
	logger.Debug("llm chat completed",
		"provider", providerName,
		"model", result.Model,
		"tool_calls", len(result.Message.ToolCalls),
		"tokens", result.Usage.TotalTokens,
		"duration", time.Since(started),
	)
}

func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// apiErrorBody is the error envelope shared by the Anthropic API and its
// stream "error" events.
type apiErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorDetail prefers the API's error message over the raw body.
func errorDetail(statusCode int, body []byte) string {
	var env apiErrorBody
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return fmt.Sprintf("API error %d (%s): %s", statusCode, env.Error.Type, env.Error.Message)
	}
	return fmt.Sprintf("API error %d: %s", statusCode, strings.TrimSpace(string(body)))
}

// mapHTTPError maps an HTTP status and body to a domain sentinel so the
// error classifier, circuit breaker and front ends can act on it.
func mapHTTPError(statusCode int, body []byte) error {
	detail := errorDetail(statusCode, body)

	switch {
	case statusCode == http.StatusTooManyRequests, statusCode == statusOverloaded:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusBadRequest && strings.Contains(detail, "prompt is too long"):
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	}
}

// isProviderFault reports whether err counts against a provider's health.
// Rejected credentials, oversized prompts and cancellations do not.
func isProviderFault(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrContextOverflow), errors.Is(err, domain.ErrAuthInvalid):
		return false
	}
	return true
}
