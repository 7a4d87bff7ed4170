package toolmux

import (
	"context"
	"fmt"
	"time"
)

// ChainStep defines one step of a sequential tool chain.
type ChainStep struct {
	ToolName    string         `json:"tool_name"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	UsePrevious bool           `json:"use_previous,omitempty"`
}

// CallToolChain runs steps sequentially, keying each result by tool name.
// Steps with UsePrevious set inherit earlier results as inputs unless the
// step provides its own value for the key. The whole chain shares one
// timeout; zero selects 30 seconds.
func (c *Client) CallToolChain(ctx context.Context, steps []ChainStep, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]any, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		inputs := make(map[string]any, len(step.Inputs))
		for k, v := range step.Inputs {
			inputs[k] = v
		}
		if step.UsePrevious {
			for k, v := range results {
				if _, exists := inputs[k]; !exists {
					inputs[k] = v
				}
			}
		}

		result, err := c.CallTool(ctx, step.ToolName, inputs)
		if err != nil {
			return results, fmt.Errorf("chain step %d (%s) failed: %w", i+1, step.ToolName, err)
		}
		results[step.ToolName] = result
	}
	return results, nil
}
