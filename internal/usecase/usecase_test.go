package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"codegen-agent/internal/domain"
)

// --- Mocks ---

// llmStep answers one model call.
type llmStep func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

// scriptedLLM plays back steps in order and records every request. Once the
// script runs out it answers "fallback" with no tool calls.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []llmStep
	requests []domain.ChatRequest
}

func newScriptedLLM(steps ...llmStep) *scriptedLLM {
	return &scriptedLLM{steps: steps}
}

func (m *scriptedLLM) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	req.Messages = append([]domain.Message(nil), req.Messages...)
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	var step llmStep
	if idx < len(m.steps) {
		step = m.steps[idx]
	}
	m.mu.Unlock()

	if step == nil {
		return reply("fallback")(ctx, req)
	}
	return step(ctx, req)
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

func (m *scriptedLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// reply answers with plain assistant text.
func reply(text string) llmStep {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: text},
			Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
}

// callTools answers with text plus tool calls.
func callTools(text string, calls ...domain.ToolCall) llmStep {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: text, ToolCalls: calls},
			Usage:   domain.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
		}, nil
	}
}

// fail answers with err.
func fail(err error) llmStep {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, err
	}
}

// hang blocks until the call's context ends.
func hang() llmStep {
	return func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func toolCall(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// streamingLLM emits scripted delta sequences, one per call.
type streamingLLM struct {
	scriptedLLM
	streams [][]domain.StreamDelta
	calls   int
}

func (m *streamingLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	deltas := []domain.StreamDelta{{Content: "fallback"}, {Done: true}}
	if idx < len(m.streams) {
		deltas = m.streams[idx]
	}
	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// mockToolExecutor is a flat map of tools.
type mockToolExecutor struct {
	tools map[string]domain.Tool
}

func newTools(tools ...domain.Tool) *mockToolExecutor {
	m := &mockToolExecutor{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		m.tools[t.Name()] = t
	}
	return m
}

func (m *mockToolExecutor) Get(name string) (domain.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, domain.NewDomainError("mock.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (m *mockToolExecutor) Invoke(ctx context.Context, name string, params json.RawMessage) (*domain.ToolResult, error) {
	t, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	res, err := t.Execute(ctx, params)
	if err != nil {
		return nil, &domain.ToolExecutionError{Tool: name, Err: err}
	}
	return res, nil
}

func (m *mockToolExecutor) Schemas() []domain.ToolSchema {
	names := make([]string, 0, len(m.tools))
	for n := range m.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]domain.ToolSchema, 0, len(names))
	for _, n := range names {
		out = append(out, m.tools[n].Schema())
	}
	return out
}

// recordingTool returns a fixed result and records the arguments it saw.
type recordingTool struct {
	mu     sync.Mutex
	name   string
	result string
	seen   []json.RawMessage
	onCall func()
}

func (t *recordingTool) Name() string        { return t.name }
func (t *recordingTool) Description() string { return "recording test tool" }
func (t *recordingTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *recordingTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.seen = append(t.seen, params)
	t.mu.Unlock()
	if t.onCall != nil {
		t.onCall()
	}
	return &domain.ToolResult{Content: t.result}, nil
}

func (t *recordingTool) Seen() []json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]json.RawMessage(nil), t.seen...)
}

// errorTool fails with err, or panics when panicWith is set.
type errorTool struct {
	name      string
	err       error
	panicWith any
}

func (t *errorTool) Name() string        { return t.name }
func (t *errorTool) Description() string { return "error test tool" }
func (t *errorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *errorTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	if t.panicWith != nil {
		panic(t.panicWith)
	}
	return nil, t.err
}

// memStore is an in-memory domain.SessionStore.
type memStore struct {
	mu       sync.Mutex
	records  map[string]domain.SessionRecord
	failSave error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.SessionRecord)}
}

func (s *memStore) Load(_ context.Context, id string) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	rec.Messages = append([]domain.Message(nil), rec.Messages...)
	return &rec, nil
}

func (s *memStore) Save(_ context.Context, rec *domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	cp := *rec
	cp.Messages = append([]domain.Message(nil), rec.Messages...)
	s.records[rec.ID] = cp
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *memStore) List(_ context.Context) ([]domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SessionSummary, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, domain.SessionSummary{ID: r.ID, MessageCount: len(r.Messages), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) put(rec domain.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

func (s *memStore) get(id string) (domain.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// eventRecorder captures published events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
func (r *eventRecorder) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (r *eventRecorder) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (r *eventRecorder) Close()                                                 {}

func (r *eventRecorder) Types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) OfType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newTestAgent builds an agent with short timeouts and test defaults.
func newTestAgent(llm domain.LLMProvider, tools domain.ToolExecutor, opts ...func(*AgentDeps)) *Agent {
	deps := AgentDeps{
		LLM:          llm,
		Tools:        tools,
		Logger:       newTestLogger(),
		SystemPrompt: "You are a test code generator.",
		Model:        "test-model",
		ModelTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(&deps)
	}
	return NewAgent(deps)
}

// roles flattens a history to its role sequence.
func roles(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

var errUnreachable = errors.New("dial tcp: connection refused")

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal: %v", err))
	}
	return data
}
