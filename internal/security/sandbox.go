package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codegen-agent/internal/domain"
)

// Sandbox confines generated files to a workspace directory.
type Sandbox struct {
	root string // absolute, resolved workspace root
}

// NewSandbox creates a sandbox rooted at the given directory.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved}, nil
}

// Resolve maps a tool-supplied path to an absolute path inside the sandbox.
// Relative paths are taken relative to the root; "" and "." name the root.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" || path == "." {
		return s.root, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	return s.ValidatePath(path)
}

// ValidatePath checks that a requested path resolves to within the sandbox.
// Path components that do not exist yet are allowed: symlinks are resolved
// on the deepest existing ancestor and the rest is appended lexically.
func (s *Sandbox) ValidatePath(requested string) (string, error) {
	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err.Error())
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err.Error())
	}

	if !s.isWithinRoot(resolved) {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}

	return resolved, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Rel returns path relative to the root, or path itself when it is not
// inside the root.
func (s *Sandbox) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func (s *Sandbox) isWithinRoot(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}

// resolveExisting evaluates symlinks on the longest existing prefix of abs.
func resolveExisting(abs string) (string, error) {
	var missing []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}
