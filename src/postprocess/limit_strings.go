package postprocess

import (
	"context"

	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// DefaultStringLimit caps string values in results unless configured
// otherwise.
const DefaultStringLimit = 10000

// LimitStringsProcessor truncates string values in results to a maximum
// length, recursing through nested maps and lists.
type LimitStringsProcessor struct {
	scope
	Limit int `json:"limit,omitempty"`
}

// NewLimitStringsProcessor returns a processor with the default limit.
func NewLimitStringsProcessor() *LimitStringsProcessor {
	return &LimitStringsProcessor{Limit: DefaultStringLimit}
}

// PostProcess implements PostProcessor.
func (p *LimitStringsProcessor) PostProcess(ctx context.Context, tool tools.Tool, tpl templates.CallTemplate, result any) (any, error) {
	if p.skip(tool, tpl) {
		return result, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultStringLimit
	}
	return truncate(result, limit), nil
}

func truncate(result any, limit int) any {
	switch v := result.(type) {
	case string:
		return truncateString(v, limit)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = truncate(val, limit)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = truncate(item, limit)
		}
		return out
	default:
		return result
	}
}

// truncateString caps a string at limit characters. Counting runes keeps a
// multi-byte sequence from being cut in half.
func truncateString(v string, limit int) string {
	if len(v) <= limit {
		return v
	}
	n := 0
	for i := range v {
		if n == limit {
			return v[:i]
		}
		n++
	}
	return v
}
