package workflow

import (
	"strings"

	"github.com/zosmed/engine/pkg/models"
)

// MatchKeywords reports whether text passes a keyword filter. Matching is
// case-insensitive containment of each keyword or phrase. Any exclude match
// rejects the text; an empty include list accepts everything else.
func MatchKeywords(filter models.KeywordFilterConfig, text string) bool {
	normalized := strings.ToLower(text)

	for _, keyword := range filter.Exclude {
		if containsKeyword(normalized, keyword) {
			return false
		}
	}

	include := nonBlank(filter.Include)
	if len(include) == 0 {
		return true
	}

	if filter.MatchMode == models.MatchModeAll {
		for _, keyword := range include {
			if !containsKeyword(normalized, keyword) {
				return false
			}
		}

		return true
	}

	for _, keyword := range include {
		if containsKeyword(normalized, keyword) {
			return true
		}
	}

	return false
}

func containsKeyword(normalized, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}

	return strings.Contains(normalized, keyword)
}

func nonBlank(keywords []string) []string {
	result := make([]string, 0, len(keywords))

	for _, keyword := range keywords {
		if strings.TrimSpace(keyword) != "" {
			result = append(result, keyword)
		}
	}

	return result
}
