package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockProvider struct {
	name     string
	chatFunc func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

type mockStreamProvider struct {
	mockProvider
	streamFunc func(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error)
}

func (m *mockStreamProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return m.streamFunc(ctx, req)
}

func okResponse(text string) func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: text}}, nil
	}
}

func failWith(err error) func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, err
	}
}

// sseBody renders (event, data) pairs in server-sent-event framing.
func sseBody(events ...[2]string) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", e[0], e[1])
	}
	return b.String()
}

// newAnthropicServer serves handler and returns a provider pointed at it.
func newAnthropicServer(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAnthropicProvider(config.ProviderConfig{
		Name:    "anthropic",
		Type:    "anthropic",
		Model:   "claude-test",
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}, newTestLogger())
}

// drain collects every delta until the channel closes.
func drain(ch <-chan domain.StreamDelta) []domain.StreamDelta {
	var out []domain.StreamDelta
	for d := range ch {
		out = append(out, d)
	}
	return out
}
