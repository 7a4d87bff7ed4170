package postprocess

import (
	"context"

	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// FilterDictProcessor removes or keeps keys of map-shaped results,
// recursing through nested maps and lists. Empty maps and lists produced by
// the filtering are dropped from surrounding lists.
type FilterDictProcessor struct {
	scope
	ExcludeKeys     []string `json:"exclude_keys,omitempty"`
	OnlyIncludeKeys []string `json:"only_include_keys,omitempty"`
}

// PostProcess implements PostProcessor.
func (p *FilterDictProcessor) PostProcess(ctx context.Context, tool tools.Tool, tpl templates.CallTemplate, result any) (any, error) {
	if p.skip(tool, tpl) {
		return result, nil
	}
	if len(p.ExcludeKeys) == 0 && len(p.OnlyIncludeKeys) == 0 {
		return result, nil
	}
	if len(p.ExcludeKeys) > 0 {
		result = p.exclude(result)
	}
	if len(p.OnlyIncludeKeys) > 0 {
		result = p.onlyInclude(result)
	}
	return result, nil
}

func (p *FilterDictProcessor) exclude(result any) any {
	switch v := result.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if !contains(p.ExcludeKeys, k) {
				out[k] = p.exclude(val)
			}
		}
		return out
	case []any:
		var out []any
		for _, item := range v {
			processed := p.exclude(item)
			if emptyContainer(processed) {
				continue
			}
			out = append(out, processed)
		}
		return out
	default:
		return result
	}
}

func (p *FilterDictProcessor) onlyInclude(result any) any {
	switch v := result.(type) {
	case map[string]any:
		out := make(map[string]any)
		for k, val := range v {
			if contains(p.OnlyIncludeKeys, k) {
				if m, ok := val.(map[string]any); ok {
					out[k] = p.onlyInclude(m)
				} else {
					out[k] = val
				}
				continue
			}
			// Keep branches that still hold an included key somewhere below.
			processed := p.onlyInclude(val)
			if !emptyContainer(processed) && isContainer(processed) {
				out[k] = processed
			}
		}
		return out
	case []any:
		var out []any
		for _, item := range v {
			processed := p.onlyInclude(item)
			if isContainer(processed) && !emptyContainer(processed) {
				out = append(out, processed)
			}
		}
		return out
	default:
		return result
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func emptyContainer(v any) bool {
	switch c := v.(type) {
	case map[string]any:
		return len(c) == 0
	case []any:
		return len(c) == 0
	}
	return false
}
