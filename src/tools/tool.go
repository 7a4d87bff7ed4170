// Package tools holds the tool metadata model.
package tools

import (
	"strings"

	"github.com/toolmux/toolmux/src/templates"
)

// Schema mirrors a JSON schema description of a tool's inputs or outputs.
type Schema struct {
	Type        string                 `json:"type,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Description string                 `json:"description,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	Format      string                 `json:"format,omitempty"`
}

// Tool holds the metadata for a single callable tool. Once registered, the
// Name field carries the namespaced form "manual_name.tool_name".
type Tool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Inputs       Schema                 `json:"input_schema"`
	Outputs      Schema                 `json:"output_schema"`
	Tags         []string               `json:"tags,omitempty"`
	CallTemplate templates.CallTemplate `json:"call_template,omitempty"`
}

// ManualName returns the namespace prefix of a namespaced tool name, or ""
// when the name is not namespaced.
func (t Tool) ManualName() string {
	if i := strings.Index(t.Name, templates.NamespaceSeparator); i >= 0 {
		return t.Name[:i]
	}
	return ""
}

// ShortName returns the tool name without its namespace prefix.
func (t Tool) ShortName() string {
	if i := strings.Index(t.Name, templates.NamespaceSeparator); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}

// HasAnyTag reports whether the tool carries at least one of the given tags,
// compared case-insensitively. An empty filter matches every tool.
func (t Tool) HasAnyTag(anyOf []string) bool {
	if len(anyOf) == 0 {
		return true
	}
	for _, want := range anyOf {
		for _, tag := range t.Tags {
			if strings.EqualFold(tag, want) {
				return true
			}
		}
	}
	return false
}
