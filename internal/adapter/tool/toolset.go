package tool

import (
	"fmt"
	"log/slog"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/security"
)

// DefaultOutputDir is where generated projects land, relative to the
// workspace root.
const DefaultOutputDir = "generated_code"

// Deps holds what the built-in tools need.
type Deps struct {
	Backend   FilesystemBackend // nil = local filesystem
	Sandbox   *security.Sandbox
	OutputDir string        // project output directory; relative paths are under the sandbox root
	Limiter   *WriteLimiter // nil = unlimited
	Logger    *slog.Logger
}

// fileAccess is shared by every tool that touches the workspace.
type fileAccess struct {
	backend   FilesystemBackend
	sandbox   *security.Sandbox
	outputDir string
	limiter   *WriteLimiter
	logger    *slog.Logger
}

func newFileAccess(deps Deps) *fileAccess {
	if deps.Backend == nil {
		deps.Backend = NewLocalFilesystemBackend()
	}
	if deps.OutputDir == "" {
		deps.OutputDir = DefaultOutputDir
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &fileAccess{
		backend:   deps.Backend,
		sandbox:   deps.Sandbox,
		outputDir: deps.OutputDir,
		limiter:   deps.Limiter,
		logger:    deps.Logger,
	}
}

// FileTools returns read_file, write_file, list_files, create_directory
// and search_files.
func FileTools(deps Deps) []domain.Tool {
	fa := newFileAccess(deps)
	return []domain.Tool{
		newReadFileTool(fa),
		newWriteFileTool(fa),
		newListFilesTool(fa),
		newCreateDirectoryTool(fa),
		newSearchFilesTool(fa),
	}
}

// CodeTools returns generate_code, create_project_structure, generate_file,
// analyze_code and generate_tests.
func CodeTools(deps Deps) []domain.Tool {
	fa := newFileAccess(deps)
	return []domain.Tool{
		newGenerateCodeTool(fa),
		newProjectStructureTool(fa),
		newGenerateFileTool(fa),
		newAnalyzeCodeTool(fa),
		newGenerateTestsTool(fa),
	}
}

// RegisterDefaults registers the code tools and the file tools. A name
// collision between the two groups fails registration.
func RegisterDefaults(reg *Registry, deps Deps) error {
	if deps.Sandbox == nil {
		return fmt.Errorf("register tools: sandbox is required")
	}
	for _, t := range CodeTools(deps) {
		if err := reg.Register(GroupCode, t); err != nil {
			return err
		}
	}
	for _, t := range FileTools(deps) {
		if err := reg.Register(GroupFile, t); err != nil {
			return err
		}
	}
	return nil
}
