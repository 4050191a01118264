package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "anthropic", "bedrock").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
//
// Tool call fragments arrive keyed by Index; the first fragment of a call
// carries its ID and Name, later fragments append to Arguments.
type StreamDelta struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
	Done      bool            `json:"done,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Err       error           `json:"-"`
}

// ToolCallDelta is a fragment of a streamed tool call.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	// The channel is closed after the Done delta or after a delta carrying Err.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
