package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/usecase"
)

func runPlain(t *testing.T, svc *fakeService, sessionID, input string) string {
	t.Helper()
	var out bytes.Buffer
	deps := Deps{Service: svc, Tools: fakeCatalog{}, SessionID: sessionID, OutputDir: "./out"}
	require.NoError(t, RunPlain(context.Background(), deps, strings.NewReader(input), &out))
	return out.String()
}

func TestRunPlain_Conversation(t *testing.T) {
	svc := &fakeService{results: []*usecase.TurnResult{
		{
			SessionID:    "sess-1",
			Response:     "Created the API.\n- Add tests\n- Add docs",
			ToolCalls:    []usecase.ToolCallSummary{{CallID: "c1", Name: "write_file", Result: "ok"}},
			FilesCreated: []string{"out/main.py"},
			Options:      map[int]string{1: "Add tests", 2: "Add docs"},
		},
		{SessionID: "sess-1", Response: "Tests added."},
	}}

	out := runPlain(t, svc, "", "help\ntools\n\n1\n2\nexit\nnever sent\n")

	assert.Equal(t, []submitCall{{"", "1"}, {"sess-1", "2"}}, svc.Calls())
	assert.Contains(t, out, "AI CODE GENERATOR")
	assert.Contains(t, out, "Type a number (1-5)")
	assert.Contains(t, out, "Available Commands")
	assert.Contains(t, out, "`./out`")
	assert.Contains(t, out, "File Operation Tools")
	assert.Contains(t, out, "Selected: Generate a Python REST API with FastAPI")
	assert.Contains(t, out, "Tool Result: write_file")
	assert.Contains(t, out, "wrote out/main.py")
	assert.Contains(t, out, "**1.** Add tests")
	assert.Contains(t, out, "*Tip: type a number (1-2) to select an option*")
	assert.Contains(t, out, "Selected: Add docs")
	assert.Contains(t, out, "Tests added.")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Goodbye!"))
}

func TestRunPlain_ResumedSessionHasNoQuickStart(t *testing.T) {
	svc := &fakeService{}
	out := runPlain(t, svc, "existing", "3\n")

	assert.NotContains(t, out, "What would you like to generate?")
	assert.NotContains(t, out, "Selected:")
	assert.Equal(t, []submitCall{{"existing", "3"}}, svc.Calls())
}

func TestRunPlain_ErrorContinues(t *testing.T) {
	svc := &fakeService{
		results: []*usecase.TurnResult{{SessionID: "sess-9"}},
		errs:    []error{domain.ErrModelTimeout},
	}
	out := runPlain(t, svc, "", "slow request\nagain\n")

	assert.Contains(t, out, "Error: Model Timed Out")
	assert.Contains(t, out, "Continuing... Type 'exit' to quit")
	calls := svc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sess-9", calls[1].sessionID, "the session id survives a failed turn")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Goodbye!"))
}

func TestRunPlain_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	pr, pw := io.Pipe()
	defer pw.Close()

	err := RunPlain(ctx, Deps{Service: &fakeService{}, Tools: fakeCatalog{}}, pr, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Goodbye!")
}
