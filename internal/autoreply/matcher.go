// Package autoreply turns audience interactions into scheduled replies and delivers them.
package autoreply

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/postpilot/postpilot/internal/models"
)

var hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// Match returns the first rule, in priority order, whose predicates all pass for event.
// It does not touch rules or event and has no other inputs.
func Match(event *models.Event, rules []models.AutoReplyRule) (*models.AutoReplyRule, bool) {
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, compareRules)

	fold := cases.Fold()
	text := normalize(fold, event.TextOrEmpty())
	tags := hashtags(text)

	for i := range ordered {
		rule := &ordered[i]
		if !rule.IsActive || !rule.Triggers(event.Type) {
			continue
		}
		if !rule.InWindow(event.OccurredAt) {
			continue
		}
		if !keywordsPass(fold, rule, text) {
			continue
		}
		if !hashtagsPass(fold, rule, tags) {
			continue
		}
		return rule, true
	}
	return nil, false
}

// compareRules orders by priority, then creation time, then id
func compareRules(a, b models.AutoReplyRule) int {
	if a.Priority != b.Priority {
		return a.Priority - b.Priority
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func normalize(fold cases.Caser, s string) string {
	return fold.String(norm.NFC.String(strings.TrimSpace(s)))
}

func hashtags(text string) []string {
	found := hashtagPattern.FindAllString(text, -1)
	tags := make([]string, 0, len(found))
	for _, tag := range found {
		tags = append(tags, strings.TrimPrefix(tag, "#"))
	}
	return tags
}

func keywordsPass(fold cases.Caser, rule *models.AutoReplyRule, text string) bool {
	return combine(rule.KeywordCondition, rule.Keywords, func(keyword string) bool {
		kw := normalize(fold, keyword)
		if rule.MatchType == models.MatchExact {
			return text == kw
		}
		return strings.Contains(text, kw)
	})
}

func hashtagsPass(fold cases.Caser, rule *models.AutoReplyRule, tags []string) bool {
	return combine(rule.HashtagCondition, rule.Hashtags, func(hashtag string) bool {
		want := strings.TrimPrefix(normalize(fold, hashtag), "#")
		for _, tag := range tags {
			if rule.HashtagMatchType == models.MatchExact && tag == want {
				return true
			}
			if rule.HashtagMatchType != models.MatchExact && strings.Contains(tag, want) {
				return true
			}
		}
		return false
	})
}

// combine applies cond over the per-keyword results; an empty list passes
func combine(cond models.KeywordCondition, keywords []string, matches func(string) bool) bool {
	if cond == models.ConditionDisabled || len(keywords) == 0 {
		return true
	}
	switch cond {
	case models.ConditionAll:
		for _, kw := range keywords {
			if !matches(kw) {
				return false
			}
		}
		return true
	case models.ConditionAny:
		for _, kw := range keywords {
			if matches(kw) {
				return true
			}
		}
		return false
	case models.ConditionNone:
		for _, kw := range keywords {
			if matches(kw) {
				return false
			}
		}
		return true
	}
	return false
}
