package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen-agent/internal/domain"
)

func TestFailoverPrimarySuccess(t *testing.T) {
	fallbackCalled := false
	f := NewFailoverProvider(
		&mockProvider{name: "primary", chatFunc: okResponse("from primary")},
		[]domain.LLMProvider{&mockProvider{name: "fallback", chatFunc: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
			fallbackCalled = true
			return okResponse("x")(ctx, req)
		}}},
		newTestLogger(),
	)

	resp, err := f.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", resp.Message.Content)
	assert.False(t, fallbackCalled)
	assert.Equal(t, "primary+fallback", f.Name())
}

func TestFailoverToFallback(t *testing.T) {
	f := NewFailoverProvider(
		&mockProvider{name: "primary", chatFunc: failWith(mapHTTPError(http.StatusServiceUnavailable, nil))},
		[]domain.LLMProvider{&mockProvider{name: "fallback", chatFunc: okResponse("from fallback")}},
		newTestLogger(),
	)

	resp, err := f.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Message.Content)
}

func TestFailoverAllFail(t *testing.T) {
	f := NewFailoverProvider(
		&mockProvider{name: "a", chatFunc: failWith(mapHTTPError(http.StatusTooManyRequests, nil))},
		[]domain.LLMProvider{&mockProvider{name: "b", chatFunc: failWith(errors.New("dial tcp: refused"))}},
		newTestLogger(),
	)

	_, err := f.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimit, "joined errors keep their sentinels")
	assert.Contains(t, err.Error(), "a: ")
	assert.Contains(t, err.Error(), "b: dial tcp: refused")
}

func TestFailoverStopsOnTerminalErrors(t *testing.T) {
	overflow := mapHTTPError(http.StatusRequestEntityTooLarge, nil)
	fallbackCalled := false
	fb := &mockProvider{name: "b", chatFunc: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		fallbackCalled = true
		return okResponse("x")(ctx, req)
	}}
	f := NewFailoverProvider(&mockProvider{name: "a", chatFunc: failWith(overflow)}, []domain.LLMProvider{fb}, newTestLogger())

	_, err := f.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrContextOverflow)
	assert.False(t, fallbackCalled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f = NewFailoverProvider(&mockProvider{name: "a", chatFunc: failWith(context.Canceled)}, []domain.LLMProvider{fb}, newTestLogger())
	_, err = f.Chat(ctx, domain.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fallbackCalled)
}

func TestFailoverStreaming(t *testing.T) {
	ch := make(chan domain.StreamDelta)
	f := NewFailoverProvider(
		&mockProvider{name: "bulk-only"},
		[]domain.LLMProvider{
			&mockStreamProvider{mockProvider: mockProvider{name: "broken"}, streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
				return nil, mapHTTPError(http.StatusBadGateway, nil)
			}},
			&mockStreamProvider{mockProvider: mockProvider{name: "ok"}, streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
				return ch, nil
			}},
		},
		newTestLogger(),
	)

	got, err := f.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, (<-chan domain.StreamDelta)(ch), got)

	none := NewFailoverProvider(&mockProvider{name: "a"}, nil, newTestLogger())
	_, err = none.ChatStream(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}
