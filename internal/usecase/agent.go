package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/tracer"
)

// Recovery loop constants.
const (
	maxLLMRetries  = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

const (
	defaultMaxToolTurns = 25
	defaultModelTimeout = 120 * time.Second
)

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM             domain.LLMProvider
	Tools           domain.ToolExecutor
	Recovery        *RecoveryPolicy // optional, nil = calls run with the model's arguments
	Logger          *slog.Logger
	SystemPrompt    string
	Model           string
	MaxTokens       int
	Temperature     float64
	MaxToolTurns    int
	ModelTimeout    time.Duration
	Stream          bool             // use ChatStream when the provider supports it
	Bus             domain.EventBus  // optional, nil = no events
	ErrorClassifier *ErrorClassifier // optional, nil = no retries
}

// Agent runs the model/tool loop for one user turn at a time.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxToolTurns <= 0 {
		deps.MaxToolTurns = defaultMaxToolTurns
	}
	if deps.ModelTimeout <= 0 {
		deps.ModelTimeout = defaultModelTimeout
	}
	if deps.SystemPrompt == "" {
		deps.SystemPrompt = DefaultSystemPrompt
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{deps: deps}
}

// ToolCallSummary reports one executed tool call.
type ToolCallSummary struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error,omitempty"`
}

// TurnResult is what one user turn appended to a session.
type TurnResult struct {
	SessionID    string            `json:"session_id"`
	Messages     []domain.Message  `json:"messages"`
	Response     string            `json:"response"`
	ToolCalls    []ToolCallSummary `json:"tool_calls"`
	FilesCreated []string          `json:"files_created"`
	ModelTurns   int               `json:"model_turns"`
	ToolTurns    int               `json:"tool_turns"`
	Usage        domain.Usage      `json:"usage"`
	Options      map[int]string    `json:"options,omitempty"`
}

// RunTurn appends userText to the session and alternates model and tool
// turns until the model answers without tool calls.
//
// The caller must hold the session's lock. On error the returned result
// still describes what was appended before the failure.
func (a *Agent) RunTurn(ctx context.Context, session *Session, userText string) (*TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.run_turn",
		trace.WithAttributes(tracer.StringAttr("session.id", session.ID)),
	)
	defer span.End()

	ctx = domain.ContextWithSessionID(ctx, session.ID)
	res := &TurnResult{SessionID: session.ID}

	// Persisted histories may come from an interrupted turn.
	a.repair(session)
	start := session.Len()

	if start == 0 {
		session.AddMessage(domain.NewSystemMessage(a.deps.SystemPrompt))
	}
	session.AddMessage(domain.NewUserMessage(userText))
	a.publishEvent(ctx, domain.EventMessageReceived, session.ID, domain.MessagePayload{
		Role: domain.RoleUser, Content: userText,
	})

	finish := func(err error) (*TurnResult, error) {
		msgs := session.Messages()
		if start <= len(msgs) {
			res.Messages = msgs[start:]
		}
		if err != nil {
			tracer.RecordError(span, err)
			a.publishEvent(ctx, domain.EventAgentError, session.ID, domain.ErrorPayload{
				Error: err.Error(), Code: domain.ErrorCodeOf(err),
			})
			return res, err
		}
		tracer.SetOK(span)
		return res, nil
	}

	for {
		msg, usage, err := a.modelTurn(ctx, session, res.ModelTurns)
		if err != nil {
			return finish(err)
		}
		res.ModelTurns++
		res.Usage.PromptTokens += usage.PromptTokens
		res.Usage.CompletionTokens += usage.CompletionTokens
		res.Usage.TotalTokens += usage.TotalTokens

		if !msg.HasToolCalls() {
			res.Response = msg.Content
			res.Options = ExtractOptions(msg.Content)
			session.SetOptions(res.Options)
			a.publishEvent(ctx, domain.EventMessageSent, session.ID, domain.MessagePayload{
				Role: domain.RoleAssistant, Content: msg.Content,
			})
			return finish(nil)
		}

		if err := a.toolTurn(ctx, session, msg, res); err != nil {
			return finish(err)
		}
		res.ToolTurns++

		if res.ToolTurns >= a.deps.MaxToolTurns {
			a.deps.Logger.Warn("tool turn cap reached",
				"session_id", session.ID, "tool_turns", res.ToolTurns)
			return finish(domain.NewDomainError("Agent.RunTurn", domain.ErrMaxIterations,
				fmt.Sprintf("%d tool turns", res.ToolTurns)))
		}
	}
}

// repair normalizes the stored history in place.
func (a *Agent) repair(session *Session) []domain.Message {
	history := session.Messages()
	if TranscriptValid(history) {
		return history
	}
	repaired := RepairTranscript(history)
	session.ReplaceMessages(repaired)
	a.deps.Logger.Info("conversation history repaired",
		"session_id", session.ID, "before", len(history), "after", len(repaired))
	return repaired
}

// modelTurn sends the repaired history to the model and appends the reply.
// Nothing is appended when the call fails.
func (a *Agent) modelTurn(ctx context.Context, session *Session, iteration int) (domain.Message, domain.Usage, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.model_turn",
		trace.WithAttributes(tracer.IntAttr("iteration", iteration)),
	)
	defer span.End()

	req := domain.ChatRequest{
		Model:       a.deps.Model,
		Messages:    a.repair(session),
		Tools:       a.deps.Tools.Schemas(),
		MaxTokens:   a.deps.MaxTokens,
		Temperature: a.deps.Temperature,
	}

	a.publishEvent(ctx, domain.EventLLMCallStarted, session.ID, domain.LLMCallPayload{Iteration: iteration})
	msg, usage, err := a.callLLMWithRetry(ctx, session.ID, req, iteration)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Message{}, domain.Usage{}, err
	}

	msg.Role = domain.RoleAssistant
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	session.AddMessage(msg)

	a.publishEvent(ctx, domain.EventLLMCallCompleted, session.ID, domain.LLMCallPayload{
		Iteration: iteration, ToolCalls: len(msg.ToolCalls), Usage: &usage,
	})
	a.deps.Logger.Debug("llm response",
		"session_id", session.ID,
		"iteration", iteration,
		"tool_calls", len(msg.ToolCalls),
		"tokens", usage.TotalTokens,
	)
	tracer.SetOK(span)
	return msg, usage, nil
}

// toolTurn executes the calls of msg sequentially, in request order, and
// appends one tool message per call. A cancelled context stops before the
// next call; the partial turn is repaired on the next model turn.
func (a *Agent) toolTurn(ctx context.Context, session *Session, msg domain.Message, res *TurnResult) error {
	ctx, span := tracer.StartSpan(ctx, "agent.tool_turn",
		trace.WithAttributes(tracer.IntAttr("tool_calls", len(msg.ToolCalls))),
	)
	defer span.End()

	for _, call := range msg.ToolCalls {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return domain.WrapOp("Agent.toolTurn", err)
		}

		toolMsg := a.executeTool(ctx, session.ID, call, session.Messages())
		session.AddMessage(toolMsg)

		res.ToolCalls = append(res.ToolCalls, ToolCallSummary{
			CallID:  call.ID,
			Name:    call.Name,
			Result:  toolMsg.Content,
			IsError: toolMsg.IsError,
		})
		if call.Name == writeFileTool && !toolMsg.IsError {
			if path := writtenPath(toolMsg.Content); path != "" {
				res.FilesCreated = append(res.FilesCreated, path)
			}
		}
	}
	tracer.SetOK(span)
	return nil
}

// executeTool runs a single tool call and returns the result as a Message.
// Every failure, including a panicking tool, becomes error text for the model.
func (a *Agent) executeTool(ctx context.Context, sessionID string, call domain.ToolCall, history []domain.Message) (out domain.Message) {
	ctx, span := tracer.StartSpan(ctx, "tool."+call.Name,
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	a.publishEvent(ctx, domain.EventToolCallStarted, sessionID, domain.ToolCallPayload{CallID: call.ID, Name: call.Name})
	defer func() {
		if r := recover(); r != nil {
			a.deps.Logger.Error("tool panicked", "session_id", sessionID, "tool", call.Name, "panic", r)
			out = domain.NewToolMessage(call.ID, call.Name, fmt.Sprintf("Tool error in %s: %v", call.Name, r), true)
		}
		if out.IsError {
			tracer.RecordError(span, errors.New(out.Content))
		} else {
			tracer.SetOK(span)
		}
		a.publishEvent(ctx, domain.EventToolCallCompleted, sessionID, domain.ToolCallPayload{
			CallID: call.ID, Name: call.Name, Result: out.Content, IsError: out.IsError,
		})
	}()

	args := call.Arguments
	if a.deps.Recovery != nil {
		rec := a.deps.Recovery.Resolve(call, history)
		switch rec.Strategy {
		case RecoveryNone:
		case RecoveryFailed:
			a.deps.Logger.Info("tool argument missing", "session_id", sessionID, "tool", call.Name)
			return domain.NewToolMessage(call.ID, call.Name, rec.ErrorText, true)
		default:
			args = rec.Arguments
			a.deps.Logger.Info("tool argument recovered",
				"session_id", sessionID, "tool", call.Name, "strategy", string(rec.Strategy))
			a.publishEvent(ctx, domain.EventArgumentRecovered, sessionID, domain.RecoveryPayload{
				CallID: call.ID, FilePath: filePathArg(args), Strategy: string(rec.Strategy),
			})
		}
	}

	result, err := a.deps.Tools.Invoke(ctx, call.Name, args)
	var execErr *domain.ToolExecutionError
	if err != nil && !errors.As(err, &execErr) && errors.Is(err, domain.ErrToolNotFound) {
		return domain.NewToolMessage(call.ID, call.Name, fmt.Sprintf("Tool %s not found", call.Name), true)
	}
	if err != nil {
		a.deps.Logger.Warn("tool failed", "session_id", sessionID, "tool", call.Name, "error", err)
		return domain.NewToolMessage(call.ID, call.Name, fmt.Sprintf("Tool error in %s: %v", call.Name, err), true)
	}
	if result == nil {
		return domain.NewToolMessage(call.ID, call.Name, "", false)
	}
	return domain.NewToolMessage(call.ID, call.Name, result.Content, result.IsError)
}

func filePathArg(args json.RawMessage) string {
	var v struct {
		FilePath string `json:"file_path"`
	}
	_ = json.Unmarshal(args, &v)
	return v.FilePath
}

// writtenPath extracts the destination from a write_file confirmation.
func writtenPath(result string) string {
	if !strings.Contains(result, "Successfully wrote") {
		return ""
	}
	i := strings.LastIndex(result, " to ")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(result[i+len(" to "):])
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// publishEvent publishes a domain event on the bus if it is configured.
func (a *Agent) publishEvent(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	if a.deps.Bus == nil {
		return
	}
	a.deps.Bus.Publish(ctx, domain.NewEvent(eventType, sessionID, payload))
}

// callLLMWithRetry performs one model call, streaming when enabled and
// supported. Each attempt is bounded by ModelTimeout; a timed-out attempt
// fails the call with ErrModelTimeout and is not retried.
func (a *Agent) callLLMWithRetry(ctx context.Context, sessionID string, req domain.ChatRequest, iteration int) (domain.Message, domain.Usage, error) {
	sp, canStream := a.deps.LLM.(domain.StreamingLLMProvider)
	streaming := a.deps.Stream && canStream
	req.Stream = streaming

	maxAttempts := 1
	if a.deps.ErrorClassifier != nil {
		maxAttempts = maxLLMRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.deps.ModelTimeout)
		var (
			msg     domain.Message
			usage   domain.Usage
			callErr error
		)
		if streaming {
			msg, usage, callErr = a.streamOnce(callCtx, sp, req, sessionID, iteration)
		} else {
			msg, usage, callErr = a.chatOnce(callCtx, req)
		}
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if callErr == nil {
			return msg, usage, nil
		}
		if timedOut {
			return domain.Message{}, domain.Usage{}, domain.NewDomainError("Agent.callLLM", domain.ErrModelTimeout,
				fmt.Sprintf("no response within %s", a.deps.ModelTimeout))
		}
		if ctx.Err() != nil {
			return domain.Message{}, domain.Usage{}, domain.WrapOp("Agent.callLLM", ctx.Err())
		}
		lastErr = callErr

		// No classifier → fail immediately.
		if a.deps.ErrorClassifier == nil {
			break
		}
		classified := a.deps.ErrorClassifier.Classify(callErr)
		if classified.Category != ErrorCategoryRetryable {
			break
		}

		// Rate limit or server error: exponential backoff with jitter.
		if attempt < maxAttempts-1 {
			delay := retryBackoff(attempt)
			a.deps.Logger.Info("retrying LLM call after error",
				"session_id", sessionID, "attempt", attempt+1, "delay", delay, "error", callErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.Message{}, domain.Usage{}, domain.WrapOp("Agent.callLLM", ctx.Err())
			}
		}
	}

	return domain.Message{}, domain.Usage{}, domain.WrapOp("Agent.callLLM", lastErr)
}

func (a *Agent) chatOnce(ctx context.Context, req domain.ChatRequest) (domain.Message, domain.Usage, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(tracer.StringAttr("llm.provider", a.deps.LLM.Name())),
	)
	defer span.End()

	resp, err := a.deps.LLM.Chat(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Message{}, domain.Usage{}, err
	}
	tracer.SetOK(span)
	return resp.Message, resp.Usage, nil
}

// streamOnce consumes a streamed response, publishing text chunks as they
// arrive, and assembles the same message the bulk path returns.
func (a *Agent) streamOnce(ctx context.Context, sp domain.StreamingLLMProvider, req domain.ChatRequest, sessionID string, iteration int) (domain.Message, domain.Usage, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", sp.Name()),
			tracer.StringAttr("llm.mode", "stream"),
		),
	)
	defer span.End()

	deltaCh, err := sp.ChatStream(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Message{}, domain.Usage{}, err
	}

	acc := newStreamAccumulator()
	for {
		select {
		case <-ctx.Done():
			tracer.RecordError(span, ctx.Err())
			return domain.Message{}, domain.Usage{}, ctx.Err()
		case delta, ok := <-deltaCh:
			if !ok {
				msg, usage := acc.build()
				tracer.SetOK(span)
				return msg, usage, nil
			}
			if delta.Err != nil {
				tracer.RecordError(span, delta.Err)
				return domain.Message{}, domain.Usage{}, delta.Err
			}
			acc.addDelta(delta)
			if delta.Content != "" {
				a.publishEvent(ctx, domain.EventStreamDelta, sessionID, domain.StreamDeltaPayload{
					Content:   delta.Content,
					Iteration: iteration,
				})
			}
		}
	}
}

// maxToolCallsPerDelta limits the number of tool call slots the accumulator
// will allocate. Indices beyond this bound are dropped.
const maxToolCallsPerDelta = 50

// streamAccumulator collects incremental deltas into a complete message.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall // accumulated by index
	args      []string
	usage     domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

// addDelta merges a single streaming delta into the accumulator.
// The first fragment of a tool call provides ID and Name; later fragments
// with the same Index append to its arguments.
func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for _, tc := range delta.ToolCalls {
		if tc.Index < 0 || tc.Index >= maxToolCallsPerDelta {
			continue
		}
		for len(acc.toolCalls) <= tc.Index {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
			acc.args = append(acc.args, "")
		}
		existing := &acc.toolCalls[tc.Index]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		acc.args[tc.Index] += tc.Arguments
	}

	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

// build returns the accumulated message and usage. Slots that never
// received an ID are dropped. Arguments that are not valid JSON, as left by a
// stream cut off mid tool call, become an empty object so the tool reports
// what is missing and the history stays serializable.
func (acc *streamAccumulator) build() (domain.Message, domain.Usage) {
	var calls []domain.ToolCall
	for i, tc := range acc.toolCalls {
		if tc.ID == "" {
			continue
		}
		raw := strings.TrimSpace(acc.args[i])
		if raw == "" || !json.Valid([]byte(raw)) {
			raw = "{}"
		}
		tc.Arguments = json.RawMessage(raw)
		calls = append(calls, tc)
	}
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: calls,
		Timestamp: time.Now(),
	}
	return msg, acc.usage
}
