package tool

import (
	"encoding/json"

	"codegen-agent/internal/domain"
)

// Group names under which tools are registered.
const (
	GroupCode = "code"
	GroupFile = "file"
)

// toolInfo carries the static description of a tool. Concrete tools embed
// it and implement Execute.
type toolInfo struct {
	name        string
	description string
	parameters  json.RawMessage
}

func (i toolInfo) Name() string        { return i.name }
func (i toolInfo) Description() string { return i.description }

func (i toolInfo) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        i.name,
		Description: i.description,
		Parameters:  i.parameters,
	}
}

// Info is the listing view of a registered tool.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Group       string `json:"-"`
}
