// Package manual defines the discovery response shape produced by protocol
// implementations: a named collection of tools with a format version.
package manual

import (
	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// CurrentFormatVersion is stamped on manuals built in-process.
const CurrentFormatVersion = "1.0"

// Manual is the result of one discovery call against one call template.
type Manual struct {
	FormatVersion string       `json:"format_version"`
	Tools         []tools.Tool `json:"tools"`
}

// New returns an empty manual with the current format version.
func New() *Manual {
	return &Manual{FormatVersion: CurrentFormatVersion}
}

// RegisterResult reports the outcome of registering one manual.
type RegisterResult struct {
	ManualName string       `json:"manual_name"`
	ToolCount  int          `json:"tool_count"`
	Tools      []tools.Tool `json:"-"`
	Success    bool         `json:"success"`
	Errors     []string     `json:"errors,omitempty"`
}

type rawTool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Inputs      tools.Schema     `json:"input_schema"`
	Outputs     tools.Schema     `json:"output_schema"`
	Tags        []string         `json:"tags"`
	Template    codec.RawMessage `json:"call_template"`

	// Accepted aliases used by older discovery payloads.
	LegacyInputs  *tools.Schema `json:"inputs"`
	LegacyOutputs *tools.Schema `json:"outputs"`
}

type rawManual struct {
	FormatVersion string    `json:"format_version"`
	LegacyVersion string    `json:"version"`
	Tools         []rawTool `json:"tools"`
}

// Unmarshal parses a discovery response. Per-tool call templates, when
// present, are decoded through dec; tools without one keep a nil template
// and inherit the manual's root template at registration.
func Unmarshal(data []byte, dec templates.Decoder) (*Manual, error) {
	var raw rawManual
	if err := codec.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	m := &Manual{FormatVersion: raw.FormatVersion}
	if m.FormatVersion == "" {
		m.FormatVersion = raw.LegacyVersion
	}

	for _, rt := range raw.Tools {
		t := tools.Tool{
			Name:        rt.Name,
			Description: rt.Description,
			Inputs:      rt.Inputs,
			Outputs:     rt.Outputs,
			Tags:        rt.Tags,
		}
		if rt.LegacyInputs != nil {
			t.Inputs = *rt.LegacyInputs
		}
		if rt.LegacyOutputs != nil {
			t.Outputs = *rt.LegacyOutputs
		}
		if len(rt.Template) > 0 && string(rt.Template) != "null" && dec != nil {
			tpl, err := dec.DecodeTemplate(rt.Template)
			if err != nil {
				return nil, err
			}
			t.CallTemplate = tpl
		}
		m.Tools = append(m.Tools, t)
	}
	return m, nil
}
