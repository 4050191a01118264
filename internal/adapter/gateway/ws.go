package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/usecase"
)

const (
	wsSendBuffer   = 256
	wsWriteTimeout = 5 * time.Second
)

var localOrigins = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// wsConn tracks one websocket connection bound to a session.
type wsConn struct {
	sessionID string
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc // in-flight turn, nil when idle
	turns  sync.WaitGroup
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// send queues a frame and reports whether it was queued. Delta frames are
// dropped when the buffer is full; every other frame waits for room until
// the connection closes.
func (c *wsConn) send(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	if f.Type == FrameTypeDelta {
		select {
		case c.sendCh <- f:
			return true
		default:
			return false
		}
	}
	select {
	case c.sendCh <- f:
		return true
	case <-c.done:
		return false
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if slices.Contains(s.cfg.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := append([]string{}, localOrigins...)
	for _, o := range s.cfg.AllowedOrigins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &wsConn{
		sessionID: sessionID,
		ws:        ws,
		sendCh:    make(chan Frame, wsSendBuffer),
		done:      make(chan struct{}),
	}
	s.logger.Info("websocket client connected", "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(cc)
	}()

	cc.send(Frame{Type: FrameTypeStatus, Message: "Connected to code generator", SessionID: sessionID})
	s.readLoop(ctx, cc)

	// The client is gone: stop any running turn and let it persist.
	cancel()
	cc.turns.Wait()
	cc.close()
	<-writerDone
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("websocket client disconnected", "session_id", sessionID)
}

func (s *Server) readLoop(ctx context.Context, cc *wsConn) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}

		switch frame.Type {
		case FrameTypeGenerate:
			s.startTurn(ctx, cc, frame.Prompt)
		case FrameTypePing:
			cc.send(Frame{Type: FrameTypePong})
		case FrameTypeAbort:
			s.abortTurn(ctx, cc)
		default:
			cc.send(Frame{Type: FrameTypeError, Message: "unknown frame type " + string(frame.Type), Code: string(domain.CodeInvalidInput)})
		}
	}
}

func (s *Server) writeLoop(cc *wsConn) {
	for {
		select {
		case <-cc.done:
			// Flush what is already queued.
			for {
				select {
				case f := <-cc.sendCh:
					if !s.write(cc, f) {
						return
					}
				default:
					return
				}
			}
		case f := <-cc.sendCh:
			if !s.write(cc, f) {
				cc.close()
				return
			}
		}
	}
}

func (s *Server) write(cc *wsConn, f Frame) bool {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, cc.ws, f) == nil
}

func (s *Server) startTurn(ctx context.Context, cc *wsConn, prompt string) {
	if strings.TrimSpace(prompt) == "" {
		cc.send(Frame{Type: FrameTypeError, Message: "Prompt cannot be empty", Code: string(domain.CodeInvalidInput)})
		return
	}

	cc.mu.Lock()
	if cc.cancel != nil {
		cc.mu.Unlock()
		cc.send(Frame{Type: FrameTypeError, Message: "a generation is already running", Code: string(domain.CodeInvalidInput)})
		return
	}
	turnCtx, cancel := context.WithCancel(ctx)
	cc.cancel = cancel
	cc.turns.Add(1)
	cc.mu.Unlock()

	release := func() {
		cc.mu.Lock()
		cc.cancel = nil
		cc.mu.Unlock()
		cancel()
	}
	go func() {
		defer cc.turns.Done()
		s.runTurn(turnCtx, cc, prompt, release)
	}()
}

// runTurn calls release once the service returns, before the final frames
// are queued, so a client may start the next turn as soon as it sees them.
func (s *Server) runTurn(ctx context.Context, cc *wsConn, prompt string, release func()) {
	cc.send(Frame{Type: FrameTypeThinking, Message: "Generating code..."})

	unsub := func() {}
	if s.deps.Events != nil {
		unsub = s.deps.Events.SubscribeSession(cc.sessionID, func(_ context.Context, ev domain.Event) {
			if ev.Type != domain.EventStreamDelta {
				return
			}
			var p domain.StreamDeltaPayload
			if json.Unmarshal(ev.Payload, &p) != nil || p.Content == "" {
				return
			}
			if !cc.send(Frame{Type: FrameTypeDelta, Content: p.Content}) {
				s.logger.Debug("dropped delta for slow websocket client", "session_id", cc.sessionID)
			}
		})
	}

	res, err := s.deps.Service.Submit(ctx, cc.sessionID, prompt)
	unsub()
	release()
	if res != nil {
		sendTranscript(cc, res)
	}
	if err != nil {
		s.logger.Warn("websocket turn failed", "session_id", cc.sessionID, "error", err)
		msg := "Error: " + err.Error()
		if errors.Is(err, context.Canceled) {
			msg = "Generation aborted"
		}
		cc.send(Frame{Type: FrameTypeError, Message: msg, Code: string(domain.ErrorCodeOf(err))})
		return
	}
	cc.send(Frame{Type: FrameTypeComplete, Message: "Code generation completed", SessionID: res.SessionID})
}

// sendTranscript replays the turn's assistant text and tool results in
// history order.
func sendTranscript(cc *wsConn, res *usecase.TurnResult) {
	for _, m := range res.Messages {
		switch m.Role {
		case domain.RoleAssistant:
			if m.Content != "" {
				cc.send(Frame{Type: FrameTypeResponse, Content: m.Content})
			}
		case domain.RoleTool:
			cc.send(Frame{Type: FrameTypeToolResult, ToolName: m.Name, Result: m.Content, IsError: m.IsError})
		}
	}
}

func (s *Server) abortTurn(ctx context.Context, cc *wsConn) {
	cc.mu.Lock()
	cancel := cc.cancel
	cc.mu.Unlock()
	if cancel == nil {
		cc.send(Frame{Type: FrameTypeError, Message: "no generation is running", Code: string(domain.CodeInvalidInput)})
		return
	}
	cancel()
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventChatAborted, cc.sessionID, nil))
	}
}
