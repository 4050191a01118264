package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/tracer"
)

// skippedDirs are never descended into by search_files.
var skippedDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
}

// --- read_file ---

type readFileTool struct {
	toolInfo
	fa *fileAccess
}

type readFileParams struct {
	FilePath string `json:"file_path"`
}

func newReadFileTool(fa *fileAccess) *readFileTool {
	return &readFileTool{fa: fa, toolInfo: toolInfo{
		name:        "read_file",
		description: "Read and return the contents of a file. file_path may be relative to the workspace or absolute.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path to the file to read"}
			},
			"required": ["file_path"]
		}`),
	}}
}

func (t *readFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.read_file", t.fa.logger, params,
		func(_ context.Context, span trace.Span, p readFileParams) (any, error) {
			if err := ValidateAll(RequireField("file_path", p.FilePath), ValidatePath("file_path", p.FilePath)); err != nil {
				return nil, err
			}
			path, err := t.fa.sandbox.Resolve(p.FilePath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("file.path", path))

			content, missing, err := t.fa.readText(path)
			if missing {
				return ErrResult("Error: File '%s' does not exist", path)
			}
			if err != nil {
				return nil, fmt.Errorf("reading file: %w", err)
			}
			return fmt.Sprintf("Content of %s:\n\n%s", path, content), nil
		})
}

// --- write_file ---

type writeFileTool struct {
	toolInfo
	fa *fileAccess
}

type writeFileParams struct {
	FilePath string  `json:"file_path"`
	Content  *string `json:"content"`
}

func newWriteFileTool(fa *fileAccess) *writeFileTool {
	return &writeFileTool{fa: fa, toolInfo: toolInfo{
		name: "write_file",
		description: "Write content to a file, creating it and any parent directories. " +
			"Both file_path and content are REQUIRED: content must be the complete file text. " +
			"Example file_path: ./generated_code/main.py",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path to the file to write"},
				"content": {"type": "string", "description": "REQUIRED. The complete file content"}
			},
			"required": ["file_path", "content"]
		}`),
	}}
}

func (t *writeFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.write_file", t.fa.logger, params,
		func(ctx context.Context, span trace.Span, p writeFileParams) (any, error) {
			if err := ValidateAll(RequireField("file_path", p.FilePath), ValidatePath("file_path", p.FilePath)); err != nil {
				return nil, err
			}
			if p.Content == nil {
				return nil, missingArgError("content")
			}
			if err := ValidateMaxLength("content", *p.Content, maxContentBytes); err != nil {
				return nil, err
			}
			path, err := t.fa.sandbox.Resolve(p.FilePath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("file.path", path))

			if err := t.fa.write(ctx, path, *p.Content); err != nil {
				return nil, fmt.Errorf("writing file: %w", err)
			}
			n := utf8.RuneCountInString(*p.Content)
			t.fa.logger.Debug("file written", "path", path, "chars", n)
			return fmt.Sprintf("✓ Successfully wrote %d characters to %s", n, path), nil
		})
}

// --- list_files ---

type listFilesTool struct {
	toolInfo
	fa *fileAccess
}

type listFilesParams struct {
	Directory string `json:"directory"`
}

func newListFilesTool(fa *fileAccess) *listFilesTool {
	return &listFilesTool{fa: fa, toolInfo: toolInfo{
		name:        "list_files",
		description: "List the files and directories in a directory (default: the workspace root).",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"directory": {"type": "string", "description": "Directory to list", "default": "."}
			}
		}`),
	}}
}

func (t *listFilesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.list_files", t.fa.logger, params,
		func(_ context.Context, _ trace.Span, p listFilesParams) (any, error) {
			dir, res, err := t.fa.existingDir(p.Directory)
			if res != nil || err != nil {
				return res, err
			}

			entries, err := t.fa.backend.ReadDir(dir)
			if err != nil {
				return nil, fmt.Errorf("listing directory: %w", err)
			}
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.IsDir() {
					lines = append(lines, fmt.Sprintf("📁 %s/", e.Name()))
					continue
				}
				var size int64
				if info, err := e.Info(); err == nil {
					size = info.Size()
				}
				lines = append(lines, fmt.Sprintf("📄 %s (%d bytes)", e.Name(), size))
			}
			return fmt.Sprintf("Contents of %s:\n\n%s", dir, strings.Join(lines, "\n")), nil
		})
}

// --- create_directory ---

type createDirectoryTool struct {
	toolInfo
	fa *fileAccess
}

type createDirectoryParams struct {
	DirPath string `json:"dir_path"`
}

func newCreateDirectoryTool(fa *fileAccess) *createDirectoryTool {
	return &createDirectoryTool{fa: fa, toolInfo: toolInfo{
		name:        "create_directory",
		description: "Create a directory and any missing parent directories.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"dir_path": {"type": "string", "description": "Path of the directory to create"}
			},
			"required": ["dir_path"]
		}`),
	}}
}

func (t *createDirectoryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.create_directory", t.fa.logger, params,
		func(ctx context.Context, _ trace.Span, p createDirectoryParams) (any, error) {
			if err := ValidateAll(RequireField("dir_path", p.DirPath), ValidatePath("dir_path", p.DirPath)); err != nil {
				return nil, err
			}
			dir, err := t.fa.sandbox.Resolve(p.DirPath)
			if err != nil {
				return nil, err
			}
			if err := t.fa.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
			if err := t.fa.backend.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating directory: %w", err)
			}
			return fmt.Sprintf("✓ Successfully created directory: %s", dir), nil
		})
}

// --- search_files ---

type searchFilesTool struct {
	toolInfo
	fa *fileAccess
}

type searchFilesParams struct {
	Pattern       string `json:"pattern"`
	Directory     string `json:"directory"`
	FileExtension string `json:"file_extension"`
}

func newSearchFilesTool(fa *fileAccess) *searchFilesTool {
	return &searchFilesTool{fa: fa, toolInfo: toolInfo{
		name:        "search_files",
		description: "Search for files whose name contains a pattern (case-insensitive), optionally filtered by extension.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Substring to match in file names"},
				"directory": {"type": "string", "description": "Directory to search", "default": "."},
				"file_extension": {"type": "string", "description": "Optional extension filter, e.g. .py", "default": ""}
			},
			"required": ["pattern"]
		}`),
	}}
}

func (t *searchFilesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.search_files", t.fa.logger, params,
		func(ctx context.Context, _ trace.Span, p searchFilesParams) (any, error) {
			dir, res, err := t.fa.existingDir(p.Directory)
			if res != nil || err != nil {
				return res, err
			}

			needle := strings.ToLower(p.Pattern)
			var matches []string
			err = t.fa.backend.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					// Unreadable subtrees are skipped.
					if d != nil && d.IsDir() && path != dir {
						return fs.SkipDir
					}
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				name := d.Name()
				if d.IsDir() {
					if path != dir && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
						return fs.SkipDir
					}
					return nil
				}
				if strings.HasPrefix(name, ".") {
					return nil
				}
				if p.FileExtension != "" && !strings.HasSuffix(name, p.FileExtension) {
					return nil
				}
				if strings.Contains(strings.ToLower(name), needle) {
					rel, relErr := filepath.Rel(dir, path)
					if relErr != nil {
						rel = path
					}
					matches = append(matches, rel)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("searching files: %w", err)
			}

			if len(matches) == 0 {
				return fmt.Sprintf("No files matching '%s' found in %s", p.Pattern, dir), nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d matching files:\n\n", len(matches))
			for i, m := range matches {
				if i > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString("• " + m)
			}
			return sb.String(), nil
		})
}

// --- shared helpers ---

// readText reads a file. missing reports that the path does not exist.
func (fa *fileAccess) readText(path string) (content string, missing bool, err error) {
	data, err := fa.backend.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), false, nil
}

func (fa *fileAccess) write(ctx context.Context, path, content string) error {
	if err := fa.limiter.Acquire(ctx); err != nil {
		return err
	}
	return fa.backend.WriteFile(path, []byte(content), 0o644)
}

// existingDir resolves a directory argument. A missing or non-directory path
// is reported through the returned ToolResult.
func (fa *fileAccess) existingDir(arg string) (string, *domain.ToolResult, error) {
	if err := ValidatePath("directory", arg); err != nil {
		return "", nil, err
	}
	dir, err := fa.sandbox.Resolve(arg)
	if err != nil {
		return "", nil, err
	}
	info, err := fa.backend.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		res, _ := ErrResult("Error: Directory '%s' does not exist", dir)
		return "", res, nil
	}
	if err != nil {
		return "", nil, err
	}
	if !info.IsDir() {
		res, _ := ErrResult("Error: '%s' is not a directory", dir)
		return "", res, nil
	}
	return dir, nil, nil
}
