package usecase

import (
	"regexp"
	"strconv"
	"strings"
)

var bulletRe = regexp.MustCompile(`^(\s*)[•\-\*]\s+(.+)$`)

// QuickStartOptions returns the numbered choices offered to a new session.
func QuickStartOptions() map[int]string {
	return map[int]string{
		1: "Generate a Python REST API with FastAPI",
		2: "Create a React component for a todo list",
		3: "Build a Python class for database connections",
		4: "Generate a FastAPI web application with authentication",
		5: "Create a Python script for data processing",
	}
}

// ExtractOptions numbers the bullet lines of text from 1 in order of
// appearance. It returns nil when text has no bullets.
func ExtractOptions(text string) map[int]string {
	var opts map[int]string
	n := 0
	for _, line := range strings.Split(text, "\n") {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if opts == nil {
			opts = make(map[int]string)
		}
		n++
		opts[n] = m[2]
	}
	return opts
}

// SelectOption resolves numeric input against opts. Input that is not a
// known option number is returned unchanged with ok false.
func SelectOption(input string, opts map[int]string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	n, err := strconv.Atoi(trimmed)
	if err != nil || strconv.Itoa(n) != trimmed {
		return input, false
	}
	if opt, ok := opts[n]; ok {
		return opt, true
	}
	return input, false
}

// NumberBullets rewrites the bullet lines of text as bold numbered items,
// matching the numbering ExtractOptions assigns, and appends a selection
// tip when any were found.
func NumberBullets(text string) string {
	lines := strings.Split(text, "\n")
	n := 0
	for i, line := range lines {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n++
		lines[i] = m[1] + "**" + strconv.Itoa(n) + ".** " + m[2]
	}
	out := strings.Join(lines, "\n")
	if n > 0 {
		out += "\n\n*Tip: type a number (1-" + strconv.Itoa(n) + ") to select an option*"
	}
	return out
}
