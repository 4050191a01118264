package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/tracer"
)

// structureSchema describes the structure argument: names mapped to either
// {"type": "directory", "items": {...}} or {"content": "..."}.
const structureSchema = `{
	"$defs": {
		"item": {
			"type": "object",
			"properties": {
				"type": {"type": "string"},
				"content": {"type": "string"},
				"items": {
					"type": "object",
					"additionalProperties": {"$ref": "#/$defs/item"}
				}
			}
		}
	},
	"type": "object",
	"additionalProperties": {"$ref": "#/$defs/item"}
}`

var (
	structureOnce     sync.Once
	structureCompiled *jsonschema.Schema
	structureErr      error
)

func compiledStructureSchema() (*jsonschema.Schema, error) {
	structureOnce.Do(func() {
		structureCompiled, structureErr = jsonschema.NewCompiler().Compile([]byte(structureSchema))
	})
	return structureCompiled, structureErr
}

// structureItem is one entry of a project structure, in document order.
type structureItem struct {
	Name    string
	Type    string
	Content string
	Items   orderedItems
}

// orderedItems decodes a JSON object into its entries in document order.
type orderedItems []structureItem

func (o *orderedItems) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected an object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var body struct {
			Type    string       `json:"type"`
			Content string       `json:"content"`
			Items   orderedItems `json:"items"`
		}
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*o = append(*o, structureItem{Name: name, Type: body.Type, Content: body.Content, Items: body.Items})
	}
	_, err = dec.Token()
	return err
}

type projectStructureTool struct {
	toolInfo
	fa *fileAccess
}

type projectStructureParams struct {
	ProjectName string          `json:"project_name"`
	Structure   json.RawMessage `json:"structure"`
}

func newProjectStructureTool(fa *fileAccess) *projectStructureTool {
	return &projectStructureTool{fa: fa, toolInfo: toolInfo{
		name: "create_project_structure",
		description: "Create a project with multiple files and directories under the output directory. " +
			`structure is JSON mapping names to {"type": "directory", "items": {...}} or {"content": "file text"}.`,
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project_name": {"type": "string", "description": "Name of the project directory"},
				"structure": {"type": ["string", "object"], "description": "JSON object (or JSON string) describing files and directories"}
			},
			"required": ["project_name", "structure"]
		}`),
	}}
}

func (t *projectStructureTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.create_project_structure", t.fa.logger, params,
		func(ctx context.Context, span trace.Span, p projectStructureParams) (any, error) {
			if err := ValidateAll(RequireField("project_name", p.ProjectName), ValidatePath("project_name", p.ProjectName)); err != nil {
				return nil, err
			}

			raw, err := structureJSON(p.Structure)
			if err != nil {
				return ErrResult("Error: Invalid JSON structure - %v", err)
			}
			var generic any
			if err := json.Unmarshal(raw, &generic); err != nil {
				return ErrResult("Error: Invalid JSON structure - %v", err)
			}
			schema, err := compiledStructureSchema()
			if err != nil {
				return nil, fmt.Errorf("structure schema: %w", err)
			}
			if result := schema.Validate(generic); !result.IsValid() {
				return ErrResult("Error: Invalid project structure - %s", result.Error())
			}
			var items orderedItems
			if err := json.Unmarshal(raw, &items); err != nil {
				return ErrResult("Error: Invalid JSON structure - %v", err)
			}

			root, err := t.fa.sandbox.Resolve(filepath.Join(t.fa.outputDir, p.ProjectName))
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("project.path", root))
			if err := t.fa.backend.MkdirAll(root, 0o755); err != nil {
				return nil, fmt.Errorf("creating project directory: %w", err)
			}

			var created []string
			if err := t.materialize(ctx, root, "", items, &created); err != nil {
				return nil, fmt.Errorf("creating project structure: %w", err)
			}
			span.SetAttributes(tracer.IntAttr("project.items", len(created)))
			return fmt.Sprintf("✓ Created project '%s' with %d items:\n\n%s",
				p.ProjectName, len(created), strings.Join(created, "\n")), nil
		})
}

func (t *projectStructureTool) materialize(ctx context.Context, root, prefix string, items orderedItems, created *[]string) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := filepath.Join(prefix, item.Name)
		full, err := t.fa.sandbox.Resolve(filepath.Join(root, rel))
		if err != nil {
			return err
		}
		if item.Type == "directory" {
			if err := t.fa.backend.MkdirAll(full, 0o755); err != nil {
				return err
			}
			*created = append(*created, fmt.Sprintf("📁 %s/", rel))
			if err := t.materialize(ctx, root, rel, item.Items, created); err != nil {
				return err
			}
			continue
		}
		if err := t.fa.write(ctx, full, item.Content); err != nil {
			return err
		}
		*created = append(*created, "📄 "+rel)
	}
	return nil
}

// structureJSON accepts the structure either as a JSON object or as a JSON
// string holding one.
func structureJSON(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("structure is empty")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	return []byte(s), nil
}
