package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
// The ID is assigned by the model and only ever consumed here.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool.
// Content is always prose, whether the call succeeded or not.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup and invocation. Invoke returns an
// ErrToolNotFound error for unknown names and a *ToolExecutionError when the
// tool itself fails.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Invoke(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error)
	Schemas() []ToolSchema
}

// ToolExecutionError wraps an error returned by a tool's Execute. Its message
// is the tool's own.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string { return e.Err.Error() }
func (e *ToolExecutionError) Unwrap() error { return e.Err }
