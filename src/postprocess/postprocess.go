// Package postprocess transforms tool-call results before they reach the
// caller.
package postprocess

import (
	"context"
	"fmt"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/errs"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// PostProcessor transforms one tool-call result. An error aborts the call
// and is surfaced to the caller as a CallError; it is never swallowed.
type PostProcessor interface {
	PostProcess(ctx context.Context, tool tools.Tool, tpl templates.CallTemplate, result any) (any, error)
}

// Chain runs processors in configured order over result.
func Chain(ctx context.Context, processors []PostProcessor, tool tools.Tool, tpl templates.CallTemplate, result any) (any, error) {
	var err error
	for _, p := range processors {
		result, err = p.PostProcess(ctx, tool, tpl, result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// scope restricts a processor to particular tools or manuals.
type scope struct {
	ExcludeTools       []string `json:"exclude_tools,omitempty"`
	OnlyIncludeTools   []string `json:"only_include_tools,omitempty"`
	ExcludeManuals     []string `json:"exclude_manuals,omitempty"`
	OnlyIncludeManuals []string `json:"only_include_manuals,omitempty"`
}

// skip reports whether a tool is outside the processor's scope.
func (s scope) skip(tool tools.Tool, tpl templates.CallTemplate) bool {
	if contains(s.ExcludeTools, tool.Name) {
		return true
	}
	if len(s.OnlyIncludeTools) > 0 && !contains(s.OnlyIncludeTools, tool.Name) {
		return true
	}
	manualName := tpl.TemplateName()
	if contains(s.ExcludeManuals, manualName) {
		return true
	}
	if len(s.OnlyIncludeManuals) > 0 && !contains(s.OnlyIncludeManuals, manualName) {
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// FromConfig builds a processor from a configuration descriptor
// ({"type": "filter_dict", ...} or {"type": "limit_strings", ...}).
func FromConfig(raw codec.RawMessage) (PostProcessor, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := codec.Unmarshal(raw, &head); err != nil {
		return nil, errs.NewConfigError("invalid post processor descriptor: %v", err)
	}
	switch head.Type {
	case "filter_dict":
		p := &FilterDictProcessor{}
		if err := codec.Unmarshal(raw, p); err != nil {
			return nil, errs.NewConfigError("invalid filter_dict descriptor: %v", err)
		}
		return p, nil
	case "limit_strings":
		p := NewLimitStringsProcessor()
		if err := codec.Unmarshal(raw, p); err != nil {
			return nil, errs.NewConfigError("invalid limit_strings descriptor: %v", err)
		}
		return p, nil
	default:
		return nil, errs.NewConfigError("unknown post processor type: %q", head.Type)
	}
}

// FromConfigs builds the ordered chain declared by descriptors.
func FromConfigs(raws []codec.RawMessage) ([]PostProcessor, error) {
	out := make([]PostProcessor, 0, len(raws))
	for i, raw := range raws {
		p, err := FromConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("post_processing[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
