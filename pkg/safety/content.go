package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zosmed/engine/pkg/models"
)

// ContentRule names a content safety rule.
type ContentRule string

const (
	RuleBannedPhrase ContentRule = "banned_phrase"
	RuleMaxMentions  ContentRule = "max_mentions"
	RuleMaxHashtags  ContentRule = "max_hashtags"
	RuleMaxURLs      ContentRule = "max_urls"
)

var (
	// A mention or hashtag starts the text or follows a non-word character,
	// so e-mail addresses and URL fragments are not counted.
	mentionPattern = regexp.MustCompile(`(?:^|[^\w])@[\w.]+`)
	hashtagPattern = regexp.MustCompile(`(?:^|[^\w])#\w+`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
)

// ContentViolation describes the first content rule a message breaks.
type ContentViolation struct {
	Rule   ContentRule
	Detail string
}

func (v ContentViolation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}

// ContentStats counts the platform-sensitive tokens in a message.
type ContentStats struct {
	Mentions int
	Hashtags int
	URLs     int
}

// AnalyzeContent counts mentions, hashtags and URLs in message.
func AnalyzeContent(message string) ContentStats {
	return ContentStats{
		Mentions: len(mentionPattern.FindAllString(message, -1)),
		Hashtags: len(hashtagPattern.FindAllString(message, -1)),
		URLs:     len(urlPattern.FindAllString(message, -1)),
	}
}

// CheckContent returns the first violated rule, checking banned phrases before token limits.
func CheckContent(message string, rules models.ContentRules) (ContentViolation, bool) {
	lowered := strings.ToLower(message)

	for _, phrase := range rules.BannedPhrases {
		trimmed := strings.TrimSpace(phrase)
		if trimmed == "" {
			continue
		}

		if strings.Contains(lowered, strings.ToLower(trimmed)) {
			return ContentViolation{Rule: RuleBannedPhrase, Detail: fmt.Sprintf("contains banned phrase %q", trimmed)}, true
		}
	}

	stats := AnalyzeContent(message)

	if stats.Mentions > rules.MaxMentions {
		return ContentViolation{
			Rule:   RuleMaxMentions,
			Detail: fmt.Sprintf("%d mentions exceeds limit of %d", stats.Mentions, rules.MaxMentions),
		}, true
	}

	if stats.Hashtags > rules.MaxHashtags {
		return ContentViolation{
			Rule:   RuleMaxHashtags,
			Detail: fmt.Sprintf("%d hashtags exceeds limit of %d", stats.Hashtags, rules.MaxHashtags),
		}, true
	}

	if stats.URLs > rules.MaxURLs {
		return ContentViolation{
			Rule:   RuleMaxURLs,
			Detail: fmt.Sprintf("%d urls exceeds limit of %d", stats.URLs, rules.MaxURLs),
		}, true
	}

	return ContentViolation{}, false
}
