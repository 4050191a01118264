package domain

// StreamDeltaPayload is the payload for EventStreamDelta events.
// Published for each text chunk during a streaming model call.
type StreamDeltaPayload struct {
	Content   string `json:"content"`
	Iteration int    `json:"iteration"`
}
