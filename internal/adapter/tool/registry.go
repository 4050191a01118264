package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"codegen-agent/internal/domain"
)

type entry struct {
	tool  domain.Tool
	group string
	order int
}

// Registry holds named tools in one flat namespace. Tools are registered
// under a group, but names must be unique across every group.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]entry
	logger  *slog.Logger
	counter int
}

// NewRegistry creates an empty tool registry.
// If logger is non-nil, tools are wrapped with schema validation on Register;
// compilation errors are logged and the tool is registered unwrapped.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]entry),
		logger: logger,
	}
}

// Register adds a tool to group. A name already taken by any group is a
// configuration error and is reported as ErrDuplicate.
func (r *Registry) Register(group string, t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if prev, exists := r.tools[name]; exists {
		return domain.NewSubSystemError("registry", "Registry.Register", domain.ErrDuplicate,
			"tool "+name+" already registered in group "+prev.group)
	}

	if r.logger != nil {
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool",
				"tool", name, "error", err)
		} else {
			t = wrapped
		}
	}

	r.tools[name] = entry{tool: t, group: group, order: r.counter}
	r.counter++
	return nil
}

// MustRegister registers every tool in group and panics on a collision.
// It is meant for startup wiring where a collision is a programming error.
func (r *Registry) MustRegister(group string, tools ...domain.Tool) {
	for _, t := range tools {
		if err := r.Register(group, t); err != nil {
			panic(err)
		}
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return e.tool, nil
}

// Invoke looks up name and executes it with params.
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage) (*domain.ToolResult, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	res, err := t.Execute(ctx, params)
	if err != nil {
		return nil, &domain.ToolExecutionError{Tool: name, Err: err}
	}
	return res, nil
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.tools))
	for _, e := range r.sorted() {
		out = append(out, Info{Name: e.tool.Name(), Description: e.tool.Description(), Group: e.group})
	}
	return out
}

// Group returns the tools registered under group, in registration order.
func (r *Registry) Group(group string) []Info {
	var out []Info
	for _, info := range r.List() {
		if info.Group == group {
			out = append(out, info)
		}
	}
	return out
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Tool, 0, len(r.tools))
	for _, e := range r.sorted() {
		out = append(out, e.tool)
	}
	return out
}

// Schemas returns all tool schemas for LLM function-calling, in
// registration order so requests are stable across calls.
func (r *Registry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, e := range r.sorted() {
		schemas = append(schemas, e.tool.Schema())
	}
	return schemas
}

// sorted must be called with r.mu held.
func (r *Registry) sorted() []entry {
	entries := make([]entry, 0, len(r.tools))
	for _, e := range r.tools {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	return entries
}
