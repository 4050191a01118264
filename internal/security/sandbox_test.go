package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen-agent/internal/domain"
)

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	sb, err := NewSandbox(dir)
	require.NoError(t, err)
	return sb, dir
}

func TestNewSandbox(t *testing.T) {
	_, err := NewSandbox("/nonexistent/workspace/root")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(file, []byte("print(1)\n"), 0o644))
	_, err = NewSandbox(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestNewSandbox_SymlinkedRootIsResolved(t *testing.T) {
	target, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	link := filepath.Join(t.TempDir(), "workspace")
	if err := os.Symlink(target, link); err != nil {
		t.Skip("cannot create symlinks")
	}

	sb, err := NewSandbox(link)
	require.NoError(t, err)
	assert.Equal(t, target, sb.Root())
}

func TestSandboxResolve(t *testing.T) {
	sb, dir := newTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.py"), nil, 0o644))

	tests := []struct {
		in   string
		want string
	}{
		{"", dir},
		{".", dir},
		{dir, dir},
		{"existing.py", filepath.Join(dir, "existing.py")},
		{"generated_code/app.py", filepath.Join(dir, "generated_code", "app.py")},
		{"generated_code/pkg/deep/mod.go", filepath.Join(dir, "generated_code", "pkg", "deep", "mod.go")},
		{filepath.Join(dir, "abs.txt"), filepath.Join(dir, "abs.txt")},
		{"a/../b.txt", filepath.Join(dir, "b.txt")},
	}
	for _, tt := range tests {
		got, err := sb.Resolve(tt.in)
		if assert.NoError(t, err, tt.in) {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestSandboxResolve_Escapes(t *testing.T) {
	sb, dir := newTestSandbox(t)

	for _, p := range []string{
		"../outside.txt",
		"/etc/passwd",
		filepath.Join(dir, "..", "sibling", "x.py"),
		filepath.Join("missing", "..", "..", "x.txt"),
	} {
		_, err := sb.Resolve(p)
		assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox, p)
	}
}

func TestSandboxResolve_SymlinkEscape(t *testing.T) {
	sb, dir := newTestSandbox(t)
	if err := os.Symlink(t.TempDir(), filepath.Join(dir, "escape")); err != nil {
		t.Skip("cannot create symlinks")
	}

	_, err := sb.Resolve("escape/file.txt")
	assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox)
}

func TestSandboxRel(t *testing.T) {
	sb, dir := newTestSandbox(t)

	assert.Equal(t, filepath.Join("a", "b.txt"), sb.Rel(filepath.Join(dir, "a", "b.txt")))
	assert.Equal(t, "/elsewhere/c.txt", sb.Rel("/elsewhere/c.txt"))
}

func TestSandboxResolve_NeverLeavesRoot(t *testing.T) {
	sb, dir := newTestSandbox(t)
	segments := []string{"..", ".", "src", "generated_code", "a.py", ""}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("resolved paths stay under the root", prop.ForAll(
		func(picks []int) bool {
			parts := make([]string, len(picks))
			for i, p := range picks {
				parts[i] = segments[p]
			}
			got, err := sb.Resolve(strings.Join(parts, "/"))
			if err != nil {
				return errors.Is(err, domain.ErrPathOutsideSandbox)
			}
			return got == dir || strings.HasPrefix(got, dir+string(os.PathSeparator))
		},
		gen.SliceOf(gen.IntRange(0, len(segments)-1)),
	))

	properties.TestingRun(t)
}
