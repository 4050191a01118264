package gateway

// FrameType identifies the kind of frame sent over the websocket connection.
type FrameType string

// Client to server.
const (
	FrameTypeGenerate FrameType = "generate"
	FrameTypePing     FrameType = "ping"
	FrameTypeAbort    FrameType = "abort"
)

// Server to client.
const (
	FrameTypeStatus     FrameType = "status"
	FrameTypeThinking   FrameType = "thinking"
	FrameTypeResponse   FrameType = "response"
	FrameTypeToolResult FrameType = "tool_result"
	FrameTypeDelta      FrameType = "delta"
	FrameTypeComplete   FrameType = "complete"
	FrameTypeError      FrameType = "error"
	FrameTypePong       FrameType = "pong"
)

// Frame is the JSON object exchanged over /ws/{session_id}.
type Frame struct {
	Type      FrameType `json:"type"`
	Prompt    string    `json:"prompt,omitempty"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Result    string    `json:"result,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
	Code      string    `json:"code,omitempty"`
}
