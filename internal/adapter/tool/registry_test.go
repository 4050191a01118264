package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/security"
)

func TestRegistry_GetAndNotFound(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(GroupCode, &stubTool{name: "generate_code", result: TextResult("x")}))

	got, err := reg.Get("generate_code")
	require.NoError(t, err)
	assert.Equal(t, "generate_code", got.Name())

	_, err = reg.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolNotFound))
}

type failingTool struct{ stubTool }

func (f *failingTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	return nil, errors.New("disk full")
}

func TestRegistry_Invoke(t *testing.T) {
	reg := NewRegistry(nil)
	ok := &stubTool{name: "analyze_code", result: TextResult("3 functions")}
	reg.MustRegister(GroupCode, ok, &failingTool{stubTool{name: "write_file"}})
	ctx := context.Background()

	res, err := reg.Invoke(ctx, "analyze_code", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "3 functions", res.Content)
	assert.Equal(t, 1, ok.calls)

	_, err = reg.Invoke(ctx, "nope", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	_, err = reg.Invoke(ctx, "write_file", json.RawMessage(`{}`))
	var execErr *domain.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "write_file", execErr.Tool)
	assert.EqualError(t, err, "disk full")
	assert.NotErrorIs(t, err, domain.ErrToolNotFound)
}

func TestRegistry_CollisionAcrossGroupsFails(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(GroupCode, &stubTool{name: "write_file"}))

	err := reg.Register(GroupFile, &stubTool{name: "write_file"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicate))
	assert.Equal(t, domain.CodeToolDuplicate, domain.ErrorCodeOf(err))
	assert.Contains(t, err.Error(), "group code")
}

func TestRegistry_MustRegisterPanicsOnCollision(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Panics(t, func() {
		reg.MustRegister(GroupFile, &stubTool{name: "a"}, &stubTool{name: "a"})
	})
}

func TestRegistry_OrderAndGroups(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(GroupCode, &stubTool{name: "z_code"}, &stubTool{name: "a_code"})
	reg.MustRegister(GroupFile, &stubTool{name: "m_file"})

	var names []string
	for _, s := range reg.Schemas() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"z_code", "a_code", "m_file"}, names)
	assert.Len(t, reg.Tools(), 3)

	code := reg.Group(GroupCode)
	require.Len(t, code, 2)
	assert.Equal(t, "z_code", code[0].Name)
	assert.Equal(t, GroupCode, code[0].Group)
	assert.Len(t, reg.Group(GroupFile), 1)
	assert.Empty(t, reg.Group("other"))
}

func TestRegistry_SchemaValidationWrapping(t *testing.T) {
	reg := NewRegistry(nopLogger())
	inner := &stubTool{name: "write_file", schema: writeSchema, result: TextResult("executed")}
	require.NoError(t, reg.Register(GroupFile, inner))

	got, err := reg.Get("write_file")
	require.NoError(t, err)

	res, err := got.Execute(context.Background(), json.RawMessage(`{"file_path":"a"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Zero(t, inner.calls)

	res, err = got.Execute(context.Background(), json.RawMessage(`{"file_path":"a","content":""}`))
	require.NoError(t, err)
	assert.Equal(t, "executed", res.Content)
}

func TestRegistry_SchemaCompilationErrorFallsBack(t *testing.T) {
	reg := NewRegistry(nopLogger())
	require.NoError(t, reg.Register(GroupCode, &stubTool{
		name:   "bad_schema_tool",
		schema: json.RawMessage(`{"type": "invalid_type"}`),
		result: TextResult("fallback ok"),
	}))

	got, err := reg.Get("bad_schema_tool")
	require.NoError(t, err)
	res, err := got.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "fallback ok", res.Content)
}

func TestRegisterDefaults(t *testing.T) {
	sb, err := security.NewSandbox(t.TempDir())
	require.NoError(t, err)

	reg := NewRegistry(nopLogger())
	require.NoError(t, RegisterDefaults(reg, Deps{Sandbox: sb, Logger: nopLogger()}))

	names := func(infos []Info) []string {
		out := make([]string, 0, len(infos))
		for _, i := range infos {
			out = append(out, i.Name)
		}
		return out
	}
	assert.Equal(t, []string{"generate_code", "create_project_structure", "generate_file", "analyze_code", "generate_tests"},
		names(reg.Group(GroupCode)))
	assert.Equal(t, []string{"read_file", "write_file", "list_files", "create_directory", "search_files"},
		names(reg.Group(GroupFile)))

	for _, s := range reg.Schemas() {
		assert.True(t, json.Valid(s.Parameters), s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
	}

	// Every built-in schema compiles, so every tool is wrapped.
	for _, tl := range reg.Tools() {
		_, ok := tl.(*SchemaValidatingTool)
		assert.True(t, ok, tl.Name())
	}

	assert.Error(t, RegisterDefaults(reg, Deps{Sandbox: sb}), "second registration collides")
	assert.Error(t, RegisterDefaults(NewRegistry(nil), Deps{}), "sandbox required")
}
