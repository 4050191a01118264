// Package cli is the interactive terminal front end: a Bubble Tea program
// for terminals and a plain line loop for pipes and dumb terminals.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"codegen-agent/internal/adapter/tool"
	"codegen-agent/internal/usecase"
)

// Submitter runs one user turn.
type Submitter interface {
	Submit(ctx context.Context, sessionID, text string) (*usecase.TurnResult, error)
}

// ToolCatalog lists registered tools by group.
type ToolCatalog interface {
	Group(group string) []tool.Info
}

// Deps are the collaborators shared by both front ends.
type Deps struct {
	Service   Submitter
	Tools     ToolCatalog
	SessionID string // empty starts a new session
	ModelName string
	OutputDir string
	Logger    *slog.Logger
}

type command int

const (
	cmdNone command = iota
	cmdHelp
	cmdTools
	cmdExit
)

func parseCommand(input string) command {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "help":
		return cmdHelp
	case "tools":
		return cmdTools
	case "exit", "quit", "q":
		return cmdExit
	}
	return cmdNone
}

const promptText = "What code would you like to generate? (or type 'help')"

func bannerText(model string) string {
	body := styleTitle.Render("AI CODE GENERATOR") + "\n" +
		"Generate code from natural language\n" +
		styleDim.Render("Type 'exit' or 'quit' to terminate")
	if model != "" {
		body += "\n" + styleDim.Render("Model: "+model)
	}
	return stylePanel.Render(body)
}

// quickStartText lists opts in numeric order along with the command hint.
func quickStartText(opts map[int]string) string {
	var sb strings.Builder
	sb.WriteString(styleTitle.Render("What would you like to generate?"))
	sb.WriteString("\n\n")
	for _, n := range sortedKeys(opts) {
		fmt.Fprintf(&sb, "%d. %s\n", n, opts[n])
	}
	sb.WriteString("\n")
	sb.WriteString(styleDim.Render("Commands: help | tools | exit"))
	sb.WriteString("\n")
	sb.WriteString(styleDim.Render(fmt.Sprintf("Type a number (1-%d) or describe what you want to generate", len(opts))))
	return stylePanel.Render(sb.String())
}

// helpText is markdown; the TUI renders it through glamour.
func helpText(outputDir string) string {
	if outputDir == "" {
		outputDir = "./generated_code/"
	}
	return `# Help

## Available Commands
- **help**: Display this help message
- **tools**: List all available tools
- **exit/quit/q**: Exit the generator

## Example Queries
- "Generate a Python REST API with FastAPI"
- "Create a React component for a todo list"
- "Build a Python class for handling database connections"
- "Generate a complete FastAPI web application with authentication"
- "Create a Python script that processes CSV files"
- "Generate a Node.js Express server with MongoDB integration"

## Tips
- Be specific about what you want to generate
- You can request entire projects or single files
- Generated code is saved to ` + "`" + outputDir + "`" + `
- Conversations are checkpointed and resume with --session
`
}

func toolsText(tools ToolCatalog) string {
	var sb strings.Builder
	sb.WriteString(styleTitle.Render("Available Tools"))
	writeGroup := func(title string, style func(...string) string, infos []tool.Info) {
		sb.WriteString("\n" + sym.Arrow + " " + style(title))
		for _, info := range infos {
			fmt.Fprintf(&sb, "\n    %s %s: %s", sym.Bullet, style(info.Name), firstLine(info.Description))
		}
	}
	writeGroup("Code Generation Tools", styleCode.Render, tools.Group(tool.GroupCode))
	writeGroup("File Operation Tools", styleFile.Render, tools.Group(tool.GroupFile))
	return sb.String()
}

// turnSummary lists tool calls and written files ahead of the response.
func turnSummary(res *usecase.TurnResult) string {
	var lines []string
	for _, tc := range res.ToolCalls {
		if tc.IsError {
			lines = append(lines, styleError.Render(sym.Error+" "+tc.Name)+" "+styleMuted.Render(firstLine(tc.Result)))
			continue
		}
		lines = append(lines, styleSuccess.Render(sym.Success+" Tool Result: "+tc.Name))
	}
	for _, f := range res.FilesCreated {
		lines = append(lines, styleDim.Render("  wrote "+f))
	}
	return strings.Join(lines, "\n")
}

func selectedText(option string) string {
	return styleSuccess.Render(sym.Success+" Selected:") + " " + option
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
