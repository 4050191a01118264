package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single entry in a conversation history.
//
// The role selects the variant: system and user messages carry only Content,
// assistant messages may carry ToolCalls, and tool messages carry the
// ToolCallID of the call they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// HasToolCalls reports whether m is an assistant turn requesting tools.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// NewSystemMessage builds a system message stamped with the current time.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now()}
}

// NewToolMessage builds the tool-result message answering callID.
func NewToolMessage(callID, toolName, text string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    text,
		Name:       toolName,
		ToolCallID: callID,
		IsError:    isError,
		Timestamp:  time.Now(),
	}
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
