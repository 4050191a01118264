package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/usecase"
)

func dialWS(t *testing.T, f *fixture, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + path
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f Frame
	require.NoError(t, wsjson.Read(ctx, c, &f))
	return f
}

func writeFrame(t *testing.T, c *websocket.Conn, f Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, f))
}

// readUntil collects frames up to and including the first of type last.
func readUntil(t *testing.T, c *websocket.Conn, last FrameType) []Frame {
	t.Helper()
	var out []Frame
	for {
		f := readFrame(t, c)
		out = append(out, f)
		if f.Type == last {
			return out
		}
	}
}

func frameTypes(frames []Frame) []FrameType {
	out := make([]FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestWebsocketGenerate(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	f.svc.setSubmit(func(ctx context.Context, sessionID, _ string) (*usecase.TurnResult, error) {
		f.bus.Publish(ctx, domain.NewEvent(domain.EventStreamDelta, sessionID, domain.StreamDeltaPayload{Content: "Wri"}))
		f.bus.Publish(ctx, domain.NewEvent(domain.EventStreamDelta, "other-session", domain.StreamDeltaPayload{Content: "not mine"}))
		return &usecase.TurnResult{
			SessionID: sessionID,
			Messages: []domain.Message{
				{Role: domain.RoleUser, Content: "make hello.py"},
				{Role: domain.RoleAssistant, Content: "Writing the file.", ToolCalls: []domain.ToolCall{{ID: "c1", Name: "write_file"}}},
				{Role: domain.RoleTool, ToolCallID: "c1", Name: "write_file", Content: "Successfully wrote 5 characters to hello.py"},
				{Role: domain.RoleAssistant, Content: "Done."},
			},
			Response: "Done.",
		}, nil
	})

	c := dialWS(t, f, "/ws/s1")
	status := readFrame(t, c)
	assert.Equal(t, FrameTypeStatus, status.Type)
	assert.Equal(t, "s1", status.SessionID)

	writeFrame(t, c, Frame{Type: FrameTypeGenerate, Prompt: "make hello.py"})
	frames := readUntil(t, c, FrameTypeComplete)

	assert.Equal(t, []FrameType{
		FrameTypeThinking,
		FrameTypeDelta,
		FrameTypeResponse,
		FrameTypeToolResult,
		FrameTypeResponse,
		FrameTypeComplete,
	}, frameTypes(frames))
	assert.Equal(t, "Wri", frames[1].Content)
	assert.Equal(t, "Writing the file.", frames[2].Content)
	assert.Equal(t, "write_file", frames[3].ToolName)
	assert.Equal(t, "Successfully wrote 5 characters to hello.py", frames[3].Result)
	assert.Equal(t, "Done.", frames[4].Content)
	assert.Equal(t, []string{"make hello.py"}, f.svc.Prompts())
}

func TestWebsocketPingAndEmptyPrompt(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	c := dialWS(t, f, "/ws/s1")
	readFrame(t, c) // status

	writeFrame(t, c, Frame{Type: FrameTypePing})
	assert.Equal(t, FrameTypePong, readFrame(t, c).Type)

	writeFrame(t, c, Frame{Type: FrameTypeGenerate, Prompt: "  "})
	e := readFrame(t, c)
	assert.Equal(t, FrameTypeError, e.Type)
	assert.Equal(t, "Prompt cannot be empty", e.Message)

	writeFrame(t, c, Frame{Type: "bogus"})
	assert.Equal(t, FrameTypeError, readFrame(t, c).Type)

	writeFrame(t, c, Frame{Type: FrameTypeAbort})
	e = readFrame(t, c)
	assert.Equal(t, "no generation is running", e.Message)

	assert.Empty(t, f.svc.Prompts())
}

func TestWebsocketAbort(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	started := make(chan struct{})
	f.svc.setSubmit(func(ctx context.Context, sessionID, _ string) (*usecase.TurnResult, error) {
		close(started)
		<-ctx.Done()
		return &usecase.TurnResult{SessionID: sessionID}, ctx.Err()
	})
	aborted := make(chan struct{}, 1)
	f.bus.Subscribe(domain.EventChatAborted, func(context.Context, domain.Event) { aborted <- struct{}{} })

	c := dialWS(t, f, "/ws/s1")
	readFrame(t, c) // status
	writeFrame(t, c, Frame{Type: FrameTypeGenerate, Prompt: "long job"})
	assert.Equal(t, FrameTypeThinking, readFrame(t, c).Type)
	<-started

	writeFrame(t, c, Frame{Type: FrameTypeGenerate, Prompt: "second"})
	busy := readFrame(t, c)
	assert.Equal(t, FrameTypeError, busy.Type)
	assert.Equal(t, "a generation is already running", busy.Message)

	writeFrame(t, c, Frame{Type: FrameTypeAbort})
	e := readFrame(t, c)
	assert.Equal(t, FrameTypeError, e.Type)
	assert.Equal(t, "Generation aborted", e.Message)

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("chat.aborted event not published")
	}

	// The connection accepts a new turn afterwards.
	f.svc.setSubmit(nil)
	writeFrame(t, c, Frame{Type: FrameTypeGenerate, Prompt: "again"})
	frames := readUntil(t, c, FrameTypeComplete)
	assert.Equal(t, FrameTypeThinking, frames[0].Type)
}

func TestWebsocketTurnError(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, nil)
	f.svc.setSubmit(func(_ context.Context, sessionID, _ string) (*usecase.TurnResult, error) {
		return &usecase.TurnResult{SessionID: sessionID}, domain.NewDomainError("Agent", domain.ErrModelTimeout, "60s")
	})

	c := dialWS(t, f, "/ws/s1")
	readFrame(t, c)
	writeFrame(t, c, Frame{Type: FrameTypeGenerate, Prompt: "x"})
	frames := readUntil(t, c, FrameTypeError)
	last := frames[len(frames)-1]
	assert.Equal(t, string(domain.CodeModelTimeout), last.Code)
	assert.True(t, strings.HasPrefix(last.Message, "Error: "))
}

func TestWebsocketRequiresToken(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{}, newTestAuth())
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/s1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	c := dialWS(t, f, "/ws/s1?token=test-token")
	assert.Equal(t, FrameTypeStatus, readFrame(t, c).Type)
}

func TestWSConnSend_OnlyDeltasAreDropped(t *testing.T) {
	cc := &wsConn{sendCh: make(chan Frame, 2), done: make(chan struct{})}

	assert.True(t, cc.send(Frame{Type: FrameTypeDelta, Content: "a"}))
	assert.True(t, cc.send(Frame{Type: FrameTypeDelta, Content: "b"}))
	assert.False(t, cc.send(Frame{Type: FrameTypeDelta, Content: "c"}), "full buffer drops deltas")

	queued := make(chan bool, 1)
	go func() { queued <- cc.send(Frame{Type: FrameTypeComplete}) }()
	select {
	case <-queued:
		t.Fatal("complete frame was not held until the buffer had room")
	case <-time.After(30 * time.Millisecond):
	}

	assert.Equal(t, "a", (<-cc.sendCh).Content)
	require.True(t, <-queued)
	assert.Equal(t, "b", (<-cc.sendCh).Content)
	assert.Equal(t, FrameTypeComplete, (<-cc.sendCh).Type)
}

func TestWSConnSend_ClosedConnection(t *testing.T) {
	cc := &wsConn{sendCh: make(chan Frame, 1), done: make(chan struct{})}
	require.True(t, cc.send(Frame{Type: FrameTypeResponse}))

	queued := make(chan bool, 1)
	go func() { queued <- cc.send(Frame{Type: FrameTypeComplete}) }()
	cc.close()
	assert.False(t, <-queued)
	assert.False(t, cc.send(Frame{Type: FrameTypeStatus}))
}
