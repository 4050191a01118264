package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived   EventType = "message.received"
	EventMessageSent       EventType = "message.sent"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventArgumentRecovered EventType = "tool.argument.recovered"
	EventLLMCallStarted    EventType = "llm.call.started"
	EventLLMCallCompleted  EventType = "llm.call.completed"
	EventStreamDelta       EventType = "stream.delta"
	EventSessionCreated    EventType = "session.created"
	EventSessionDeleted    EventType = "session.deleted"
	EventAgentError        EventType = "agent.error"
	EventChatAborted       EventType = "chat.aborted"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event envelope.
// A payload that fails to marshal is dropped; the envelope is still valid.
func NewEvent(t EventType, sessionID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// MessagePayload is the payload for message.received and message.sent.
type MessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCallPayload is the payload for tool.call.* events.
type ToolCallPayload struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// RecoveryPayload is the payload for tool.argument.recovered.
type RecoveryPayload struct {
	CallID   string `json:"call_id"`
	FilePath string `json:"file_path"`
	Strategy string `json:"strategy"`
}

// LLMCallPayload is the payload for llm.call.* events.
type LLMCallPayload struct {
	Iteration int    `json:"iteration"`
	ToolCalls int    `json:"tool_calls,omitempty"`
	Usage     *Usage `json:"usage,omitempty"`
}

// ErrorPayload is the payload for agent.error.
type ErrorPayload struct {
	Error string    `json:"error"`
	Code  ErrorCode `json:"code"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close prevents new publishes.
	Close()
}
