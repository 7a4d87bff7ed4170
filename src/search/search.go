// Package search ranks registered tools by relevance to a query.
package search

import (
	"context"

	"github.com/toolmux/toolmux/src/repository"
	"github.com/toolmux/toolmux/src/tools"
)

// Strategy ranks tools from a repository snapshot, best match first, at most
// limit results (0 for no limit). anyOfTagsRequired, when non-empty, keeps
// only tools carrying at least one of the given tags before ranking.
type Strategy interface {
	SearchTools(ctx context.Context, repo repository.ToolRepository, query string, limit int, anyOfTagsRequired []string) ([]tools.Tool, error)
}
