package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"codegen-agent/internal/domain"
)

// SchemaValidatingTool checks call arguments against the tool's declared
// parameter schema before delegating. A violation reaches the model as
// error text naming the offending argument.
type SchemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t. Tools without a parameter schema are
// returned unchanged. Returns error if the schema fails to compile.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	url := t.Name() + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return &SchemaValidatingTool{inner: t, schema: compiled}, nil
}

func (s *SchemaValidatingTool) Name() string              { return s.inner.Name() }
func (s *SchemaValidatingTool) Description() string       { return s.inner.Description() }
func (s *SchemaValidatingTool) Schema() domain.ToolSchema { return s.inner.Schema() }

// Unwrap returns the validated tool.
func (s *SchemaValidatingTool) Unwrap() domain.Tool { return s.inner }

func (s *SchemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("Error: invalid JSON arguments for %s: %v", s.Name(), err),
		}, nil
	}

	if err := s.schema.Validate(v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("Error: invalid arguments for %s: %v", s.Name(), err),
		}, nil
	}

	return s.inner.Execute(ctx, params)
}
