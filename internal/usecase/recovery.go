package usecase

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"codegen-agent/internal/domain"
)

// RecoveryStrategy names how a missing argument was reconstructed.
type RecoveryStrategy string

const (
	RecoveryNone           RecoveryStrategy = ""
	RecoveryCodeBlock      RecoveryStrategy = "code_block"
	RecoveryReadmeScan     RecoveryStrategy = "readme_scan"
	RecoveryFenceScan      RecoveryStrategy = "fence_scan"
	RecoveryReadmeTemplate RecoveryStrategy = "readme_template"
	RecoveryFailed         RecoveryStrategy = "failed"
)

const (
	writeFileTool = "write_file"
	fence         = "```"
)

var (
	codeBlockRe = regexp.MustCompile("(?s)```(?:\\w+)?\\n(.*?)```")
	toolRefRe   = regexp.MustCompile(`(?s)tool_use.*?write_file.*?\n`)

	readmeMentions = []string{"readme", "documentation", "##", "# "}
	scanStopWords  = []string{"tool_use", "write_file"}
)

// Recovery is the outcome of RecoveryPolicy.Resolve.
//
// When Strategy is RecoveryFailed the call must not be executed; ErrorText is
// the tool result to hand back to the model instead.
type Recovery struct {
	Arguments json.RawMessage
	Strategy  RecoveryStrategy
	ErrorText string
}

// RecoveryPolicy reconstructs the content argument of write_file calls that
// arrive without it, using the assistant's own prose.
type RecoveryPolicy struct {
	root string
}

// NewRecoveryPolicy creates a policy. root is the directory relative file
// paths are resolved against when listing a README's sibling files.
func NewRecoveryPolicy(root string) *RecoveryPolicy {
	return &RecoveryPolicy{root: root}
}

// Resolve returns the arguments to execute call with. history is the
// conversation up to and including the assistant turn that issued call.
// Calls that need no recovery are returned unchanged with RecoveryNone.
func (p *RecoveryPolicy) Resolve(call domain.ToolCall, history []domain.Message) Recovery {
	unchanged := Recovery{Arguments: call.Arguments}
	if call.Name != writeFileTool {
		return unchanged
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			// Unparsable arguments are reported by the tool's own validation.
			return unchanged
		}
	}
	if s, ok := args["content"].(string); ok && s != "" {
		return unchanged
	}

	filePath, _ := args["file_path"].(string)
	if filePath == "" {
		return Recovery{Strategy: RecoveryFailed, ErrorText: missingContentError(args, "")}
	}

	content, strategy := p.recoverContent(filePath, LastResponseContent(history))
	if content == "" {
		return Recovery{Strategy: RecoveryFailed, ErrorText: missingContentError(args, filePath)}
	}

	args["content"] = content
	raw, err := json.Marshal(args)
	if err != nil {
		return Recovery{Strategy: RecoveryFailed, ErrorText: missingContentError(args, filePath)}
	}
	return Recovery{Arguments: raw, Strategy: strategy}
}

func (p *RecoveryPolicy) recoverContent(filePath, text string) (string, RecoveryStrategy) {
	filename := filepath.Base(filePath)
	readme := IsReadme(filename)

	if text != "" {
		if c := LastCodeBlock(text); c != "" {
			return c, RecoveryCodeBlock
		}
		if readme {
			if c := ScanReadmeLines(text, filename); c != "" {
				return c, RecoveryReadmeScan
			}
		}
		if c := scanAfterFence(text); c != "" {
			return c, RecoveryFenceScan
		}
	}

	if readme {
		return GenerateReadme(filePath, text, siblingFiles(p.root, filePath)), RecoveryReadmeTemplate
	}
	return "", RecoveryFailed
}

// LastResponseContent returns the text of the most recent assistant turn
// that carries prose.
func LastResponseContent(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == domain.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

// IsReadme reports whether a file name designates a README.
func IsReadme(filename string) bool {
	return strings.Contains(strings.ToLower(filename), "readme")
}

// LastCodeBlock returns the trimmed body of the last fenced code block in
// text, or "" when there is none.
func LastCodeBlock(text string) string {
	blocks := codeBlockRe.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		return ""
	}
	return strings.TrimSpace(blocks[len(blocks)-1][1])
}

// ScanReadmeLines collects markdown-looking lines from text. Collection
// starts at the first line mentioning a README keyword, a markdown header
// marker or filename, and stops at a fence once something was collected or
// at any line containing "tool_use" or "write_file".
func ScanReadmeLines(text, filename string) string {
	lowerName := strings.ToLower(filename)
	collecting := false
	var collected []string

	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		if containsAny(lower, readmeMentions) || strings.Contains(lower, lowerName) {
			collecting = true
		}
		if !collecting {
			continue
		}
		if strings.Contains(line, fence) && len(collected) > 0 {
			break
		}
		if containsAny(line, scanStopWords) {
			break
		}
		collected = append(collected, line)
	}

	content := strings.TrimSpace(strings.Join(collected, "\n"))
	return toolRefRe.ReplaceAllString(content, "")
}

// scanAfterFence collects the lines between the first fence marker and the
// next one. It picks up blocks the code block pattern misses, such as an
// unterminated fence or a fence with trailing text on its opening line.
func scanAfterFence(text string) string {
	collecting := false
	var collected []string
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, fence) {
			if collecting {
				break
			}
			collecting = true
			continue
		}
		if collecting {
			collected = append(collected, line)
		}
	}
	return strings.TrimSpace(strings.Join(collected, "\n"))
}

// missingContentError is the actionable tool result returned when no
// content could be recovered.
func missingContentError(args map[string]any, filePath string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		if k == "content" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pathLine := fmt.Sprintf("%q (provided)", filePath)
	if filePath == "" {
		pathLine = "<where the file should be written> (MISSING)"
		filePath = "path/to/file"
	}

	return fmt.Sprintf(`ERROR: The write_file tool call is missing the required 'content' parameter.

You called write_file with only: [%s]
write_file requires both parameters:
1. file_path: %s
2. content: <the complete file content as a string> (MISSING)

ACTION REQUIRED: call write_file again with BOTH file_path and content.
Write the file content out first, then call write_file with:
- file_path: %q
- content: "<the complete file content as a string>"`, strings.Join(keys, ", "), pathLine, filePath)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
