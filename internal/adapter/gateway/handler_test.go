package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/usecase"
)

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, newTestAuth())
	f.svc.addSession(&usecase.SessionInfo{SessionID: "a"})

	// Health is reachable without a token.
	resp := f.do(t, "GET", "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.ActiveSessions)
	assert.True(t, body.APIKeyConfigured)
	assert.WithinDuration(t, time.Now(), body.Timestamp, time.Minute)

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	f.svc.setSubmit(func(_ context.Context, sessionID, _ string) (*usecase.TurnResult, error) {
		return &usecase.TurnResult{
			SessionID:    sessionID,
			Response:     "Created hello.py",
			ToolCalls:    []usecase.ToolCallSummary{{CallID: "c1", Name: "write_file", Result: "Successfully wrote 12 characters to hello.py"}},
			FilesCreated: []string{"hello.py"},
		}, nil
	})

	resp := f.do(t, "POST", "/api/generate", `{"prompt":"hello world","session_id":"s1","language":"go"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body generateResponse
	decode(t, resp, &body)
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "Created hello.py", body.Response)
	assert.Equal(t, []toolCallView{{Name: "write_file", Result: "Successfully wrote 12 characters to hello.py"}}, body.ToolCalls)
	assert.Equal(t, []string{"hello.py"}, body.FilesCreated)
	assert.Equal(t, []string{"hello world\n\nTarget language: go"}, f.svc.Prompts())
}

func TestGenerateEmptyListsAreArrays(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	resp := f.do(t, "POST", "/api/generate", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tool_calls":[]`)
	assert.Contains(t, string(raw), `"files_created":[]`)
	assert.Contains(t, string(raw), `"session_id":"generated"`)
	assert.Equal(t, []string{"hi"}, f.svc.Prompts(), "no language hint when none is given")
}

func TestGenerateRejectsBadInput(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	for _, body := range []string{`{"prompt":""}`, `{"prompt":"   "}`, `{not json`, ``} {
		resp := f.do(t, "POST", "/api/generate", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		var e errorBody
		decode(t, resp, &e)
		assert.Equal(t, domain.CodeInvalidInput, e.Code)
	}
	assert.Empty(t, f.svc.Prompts())
}

func TestGenerateMapsErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   domain.ErrorCode
	}{
		{fmt.Errorf("turn: %w", domain.ErrModelTimeout), http.StatusGatewayTimeout, domain.CodeModelTimeout},
		{domain.NewDomainError("llm", domain.ErrProviderUnavailable, "open"), http.StatusServiceUnavailable, domain.CodeProviderUnavailable},
		{domain.NewDomainError("Agent.RunTurn", domain.ErrMaxIterations, "25 tool turns"), http.StatusUnprocessableEntity, domain.CodeMaxIterations},
		{domain.NewDomainError("GetOrCreate", domain.ErrInvalidSessionID, "../x"), http.StatusBadRequest, domain.CodeInvalidSessionID},
		{fmt.Errorf("%w: disk", domain.ErrStoreUnavailable), http.StatusServiceUnavailable, domain.CodeStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			f := newFixture(t, config.GatewayConfig{}, nil)
			f.svc.setSubmit(func(context.Context, string, string) (*usecase.TurnResult, error) {
				return &usecase.TurnResult{SessionID: "s"}, tt.err
			})
			resp := f.do(t, "POST", "/api/generate", `{"prompt":"x"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			var e errorBody
			decode(t, resp, &e)
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

func TestSessionsEndpoints(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	f.svc.addSession(&usecase.SessionInfo{SessionID: "s1", Status: "active", MessageCount: 3})

	resp := f.do(t, "GET", "/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Sessions []domain.SessionSummary `json:"sessions"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "s1", list.Sessions[0].ID)

	resp = f.do(t, "GET", "/api/sessions/s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info usecase.SessionInfo
	decode(t, resp, &info)
	assert.Equal(t, 3, info.MessageCount)

	resp = f.do(t, "GET", "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, "DELETE", "/api/sessions/s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var del deleteResponse
	decode(t, resp, &del)
	assert.Equal(t, deleteResponse{Message: "Session deleted", SessionID: "s1"}, del)

	resp = f.do(t, "DELETE", "/api/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionsListEmpty(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	resp := f.do(t, "GET", "/api/sessions", "")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessions":[]}`, string(raw))
}

func TestTools(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	resp := f.do(t, "GET", "/api/tools", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"code_tools": [{"name":"generate_code","description":"Generate code"}],
		"file_tools": [{"name":"write_file","description":"Write a file"}]
	}`, string(raw))
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, newTestAuth())

	resp := f.do(t, "GET", "/api/tools", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var e errorBody
	decode(t, resp, &e)
	assert.Equal(t, "unauthorized", e.Error)

	resp = f.do(t, "GET", "/api/tools", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, "GET", "/api/tools", "", "Authorization", "Bearer test-token")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, "GET", "/api/tools?token=test-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	resp := f.do(t, "GET", "/api/generate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimitApplied(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2},
	}, nil)

	for range 2 {
		assert.Equal(t, http.StatusOK, f.do(t, "GET", "/health", "").StatusCode)
	}
	resp := f.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestCORSApplied(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{AllowedOrigins: []string{"https://app.example"}}, nil)
	resp := f.do(t, "OPTIONS", "/api/generate", "", "Origin", "https://app.example", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	ctx := context.Background()
	f.bus.Publish(ctx, domain.NewEvent(domain.EventToolCallCompleted, "s", domain.ToolCallPayload{Name: "write_file"}))
	f.bus.Publish(ctx, domain.NewEvent(domain.EventToolCallCompleted, "s", domain.ToolCallPayload{Name: "read_file", IsError: true}))
	f.bus.Publish(ctx, domain.NewEvent(domain.EventSessionCreated, "s", nil))

	resp := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "codegen_tool_calls_total 2\n")
	assert.Contains(t, body, "codegen_tool_errors_total 1\n")
	assert.Contains(t, body, "codegen_sessions_created_total 1\n")
	assert.Contains(t, body, "# TYPE codegen_sessions_active gauge\n")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrGatewayAuthFailed, http.StatusUnauthorized},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrRateLimit, http.StatusTooManyRequests},
		{domain.ErrModelTimeout, http.StatusGatewayTimeout},
		{domain.ErrProviderError, http.StatusBadGateway},
		{domain.ErrContextOverflow, http.StatusBadGateway},
		{domain.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{domain.ErrMaxIterations, http.StatusUnprocessableEntity},
		{context.Canceled, 499},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestPromptWithLanguage(t *testing.T) {
	assert.Equal(t, "x", promptWithLanguage("x", ""))
	assert.Equal(t, "x", promptWithLanguage("x", "  "))
	assert.Equal(t, "x\n\nTarget language: rust", promptWithLanguage("x", " rust "))
}
