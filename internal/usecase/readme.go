package usecase

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultReadmeDescription = "A project generated by AI Code Generator"

// descriptionPatterns are tried in order against the assistant's prose; the
// first match's group supplies the README description.
var descriptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:I'll create|This will|This is).*?([A-Z][^.!?]*(?:\.|!|\?))`),
	regexp.MustCompile(`(?i)comprehensive\s+([^.!?]+)`),
}

// ProjectTitle turns a directory name into a README title: the name is split
// on underscores, hyphens and whitespace, each word gets an upper-case first
// letter and lower-case remainder, and the words are joined by single spaces.
// "projectX" becomes "Projectx" and "my_cool-app" becomes "My Cool App".
func ProjectTitle(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	for i, w := range words {
		first, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(first)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// extractDescription returns the first description pattern match in text,
// or the default description.
func extractDescription(text string) string {
	if text == "" {
		return defaultReadmeDescription
	}
	for _, re := range descriptionPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if d := strings.TrimSpace(m[1]); d != "" {
				return d
			}
		}
	}
	return defaultReadmeDescription
}

// projectName derives the project name from the README's directory.
// A README at the workspace root belongs to "Project".
func projectName(filePath string) string {
	dir := filepath.Dir(filepath.Clean(filePath))
	if dir == "." || dir == string(filepath.Separator) {
		return "Project"
	}
	return filepath.Base(dir)
}

// siblingFiles lists regular files next to filePath, sorted, excluding the
// file itself. Unreadable directories yield no entries.
func siblingFiles(root, filePath string) []string {
	dir := filepath.Dir(filePath)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	self := filepath.Base(filePath)
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == self {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// GenerateReadme synthesizes a minimal README for filePath. The output is a
// pure function of the path, the assistant prose and the sibling file names.
func GenerateReadme(filePath, responseText string, siblings []string) string {
	var structure string
	if len(siblings) == 0 {
		structure = "- See project files for structure"
	} else {
		lines := make([]string, len(siblings))
		for i, name := range siblings {
			lines[i] = "- `" + name + "`"
		}
		structure = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("# " + ProjectTitle(projectName(filePath)) + "\n\n")
	b.WriteString(extractDescription(responseText) + "\n\n")
	b.WriteString("## Installation\n\n```bash\npip install -r requirements.txt\n```\n\n")
	b.WriteString("## Usage\n\n```bash\npython main.py\n```\n\n")
	b.WriteString("## Project Structure\n\n" + structure + "\n\n")
	b.WriteString("## Features\n\n- Generated by AI Code Generator\n- Ready to use and customize\n\n")
	b.WriteString("## License\n\nThis project is provided as-is for educational and development purposes.\n")
	return b.String()
}
