package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/tracer"
)

// The generate_* tools do no generation themselves: they echo a structured
// request back so the model writes the code in its next turn.

// --- generate_code ---

type generateCodeTool struct {
	toolInfo
	fa *fileAccess
}

type generateCodeParams struct {
	Description string `json:"description"`
	Language    string `json:"language"`
	FilePath    string `json:"file_path"`
}

func newGenerateCodeTool(fa *fileAccess) *generateCodeTool {
	return &generateCodeTool{fa: fa, toolInfo: toolInfo{
		name:        "generate_code",
		description: "Plan code generation from a natural-language description.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "What the code should do"},
				"language": {"type": "string", "description": "Programming language", "default": "python"},
				"file_path": {"type": "string", "description": "Optional path where the code will be saved"}
			},
			"required": ["description"]
		}`),
	}}
}

func (t *generateCodeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.generate_code", t.fa.logger, params,
		func(_ context.Context, _ trace.Span, p generateCodeParams) (any, error) {
			file := p.FilePath
			if file == "" {
				file = "Not specified"
			}
			return fmt.Sprintf("Code generation requested for: %s\nLanguage: %s\nFile: %s",
				p.Description, orDefault(p.Language, "python"), file), nil
		})
}

// --- generate_file ---

type generateFileTool struct {
	toolInfo
	fa *fileAccess
}

type generateFileParams struct {
	FilePath    string `json:"file_path"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

func newGenerateFileTool(fa *fileAccess) *generateFileTool {
	return &generateFileTool{fa: fa, toolInfo: toolInfo{
		name:        "generate_file",
		description: "Plan a single file from a description of its contents.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path where the file should be created"},
				"description": {"type": "string", "description": "What the file should contain"},
				"language": {"type": "string", "description": "Programming language", "default": "python"}
			},
			"required": ["file_path", "description"]
		}`),
	}}
}

func (t *generateFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.generate_file", t.fa.logger, params,
		func(_ context.Context, _ trace.Span, p generateFileParams) (any, error) {
			return fmt.Sprintf("File generation requested:\nPath: %s\nDescription: %s\nLanguage: %s",
				p.FilePath, p.Description, orDefault(p.Language, "python")), nil
		})
}

// --- analyze_code ---

type analyzeCodeTool struct {
	toolInfo
	fa *fileAccess
}

type analyzeCodeParams struct {
	FilePath string `json:"file_path"`
}

func newAnalyzeCodeTool(fa *fileAccess) *analyzeCodeTool {
	return &analyzeCodeTool{fa: fa, toolInfo: toolInfo{
		name:        "analyze_code",
		description: "Load an existing code file so it can be reviewed and improved.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path to the code file to analyze"}
			},
			"required": ["file_path"]
		}`),
	}}
}

func (t *analyzeCodeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.analyze_code", t.fa.logger, params,
		func(_ context.Context, span trace.Span, p analyzeCodeParams) (any, error) {
			path, content, res, err := t.fa.loadSource(span, p.FilePath)
			if res != nil || err != nil {
				return res, err
			}
			return fmt.Sprintf("Code from %s:\n\n%s\n\nPlease analyze this code and provide suggestions.", path, content), nil
		})
}

// --- generate_tests ---

type generateTestsTool struct {
	toolInfo
	fa *fileAccess
}

type generateTestsParams struct {
	FilePath      string `json:"file_path"`
	TestFramework string `json:"test_framework"`
}

func newGenerateTestsTool(fa *fileAccess) *generateTestsTool {
	return &generateTestsTool{fa: fa, toolInfo: toolInfo{
		name:        "generate_tests",
		description: "Load an existing code file so unit tests can be written for it.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path to the code file to test"},
				"test_framework": {"type": "string", "description": "Testing framework", "default": "pytest"}
			},
			"required": ["file_path"]
		}`),
	}}
}

func (t *generateTestsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.generate_tests", t.fa.logger, params,
		func(_ context.Context, span trace.Span, p generateTestsParams) (any, error) {
			_, content, res, err := t.fa.loadSource(span, p.FilePath)
			if res != nil || err != nil {
				return res, err
			}
			return fmt.Sprintf("Generate %s tests for this code:\n\n%s", orDefault(p.TestFramework, "pytest"), content), nil
		})
}

// loadSource resolves and reads a source file. A missing file is reported
// through the returned ToolResult.
func (fa *fileAccess) loadSource(span trace.Span, filePath string) (string, string, *domain.ToolResult, error) {
	if err := ValidateAll(RequireField("file_path", filePath), ValidatePath("file_path", filePath)); err != nil {
		return "", "", nil, err
	}
	path, err := fa.sandbox.Resolve(filePath)
	if err != nil {
		return "", "", nil, err
	}
	span.SetAttributes(tracer.StringAttr("file.path", path))

	content, missing, err := fa.readText(path)
	if missing {
		res, _ := ErrResult("Error: File '%s' does not exist", path)
		return path, "", res, nil
	}
	if err != nil {
		return path, "", nil, fmt.Errorf("reading source: %w", err)
	}
	return path, content, nil, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
