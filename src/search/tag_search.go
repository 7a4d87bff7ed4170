package search

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/toolmux/toolmux/src/repository"
	"github.com/toolmux/toolmux/src/tools"
)

// TagSearchStrategy scores tools by explicit tag matches (higher weight) and
// description word overlap (lower weight). Ties keep manual-registration
// order, so an empty query returns the head of the registered tool list.
type TagSearchStrategy struct {
	TagWeight         float64
	DescriptionWeight float64

	wordRe *regexp.Regexp
}

// NewTagSearchStrategy creates the default lexical strategy with tag weight
// 3.0 and description weight 1.0.
func NewTagSearchStrategy() *TagSearchStrategy {
	return &TagSearchStrategy{
		TagWeight:         3.0,
		DescriptionWeight: 1.0,
		wordRe:            regexp.MustCompile(`\w+`),
	}
}

// SearchTools implements Strategy.
func (s *TagSearchStrategy) SearchTools(ctx context.Context, repo repository.ToolRepository, query string, limit int, anyOfTagsRequired []string) ([]tools.Tool, error) {
	if limit < 0 {
		return nil, errors.New("limit must be non-negative")
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	queryWords := make(map[string]struct{})
	for _, w := range s.wordRe.FindAllString(queryLower, -1) {
		queryWords[w] = struct{}{}
	}

	all, err := repo.GetTools(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []tools.Tool
	for _, t := range all {
		if t.HasAnyTag(anyOfTagsRequired) {
			candidates = append(candidates, t)
		}
	}

	scores := make([]float64, len(candidates))
	for i, t := range candidates {
		scores[i] = s.score(t, queryLower, queryWords)
	}

	// Stable: equal scores keep registration order.
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	out := make([]tools.Tool, 0, len(idx))
	for _, i := range idx {
		out = append(out, candidates[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *TagSearchStrategy) score(t tools.Tool, queryLower string, queryWords map[string]struct{}) float64 {
	var score float64

	for _, tag := range t.Tags {
		tagLower := strings.ToLower(tag)
		if queryLower != "" && strings.Contains(queryLower, tagLower) {
			score += s.TagWeight
			continue
		}
		for _, w := range s.wordRe.FindAllString(tagLower, -1) {
			if _, ok := queryWords[w]; ok {
				score += s.TagWeight
				break
			}
		}
	}

	if t.Description != "" {
		seen := make(map[string]struct{})
		for _, w := range s.wordRe.FindAllString(strings.ToLower(t.Description), -1) {
			if len(w) <= 2 {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			if _, ok := queryWords[w]; ok {
				score += s.DescriptionWeight
			}
		}
	}
	return score
}
