package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxCaptionLength is the longest caption the platform accepts
const MaxCaptionLength = 500

// ValidationError reports malformed post or rule data. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks a post as submitted by a caller, before it is stored
func (p *Post) Validate() error {
	if p.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "required"}
	}
	if strings.TrimSpace(p.Caption) == "" && len(p.Media) == 0 {
		return &ValidationError{Field: "caption", Reason: "caption or media required"}
	}
	if utf8.RuneCountInString(p.Caption) > MaxCaptionLength {
		return &ValidationError{Field: "caption", Reason: fmt.Sprintf("longer than %d characters", MaxCaptionLength)}
	}
	switch p.State {
	case PostDraft:
	case PostScheduled:
		if p.ScheduledAt == nil {
			return &ValidationError{Field: "scheduled_at", Reason: "required for scheduled posts"}
		}
	default:
		return &ValidationError{Field: "state", Reason: "new posts must be draft or scheduled"}
	}
	if p.ExternalPostID != nil || p.PublishedAt != nil {
		return &ValidationError{Field: "external_post_id", Reason: "set only by publishing"}
	}
	return ValidateMedia(p.Media)
}

// Validate checks a rule definition
func (r *AutoReplyRule) Validate() error {
	if r.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if len(r.TriggerOn) == 0 {
		return &ValidationError{Field: "trigger_on", Reason: "at least one trigger required"}
	}
	for _, t := range r.TriggerOn {
		if !triggerTypes.valid(t) {
			return &ValidationError{Field: "trigger_on", Reason: fmt.Sprintf("unknown trigger %d", uint8(t))}
		}
	}
	if r.KeywordCondition != ConditionDisabled && len(r.Keywords) == 0 {
		return &ValidationError{Field: "keywords", Reason: "required unless keyword_condition is disabled"}
	}
	if r.HashtagCondition != ConditionDisabled && len(r.Hashtags) == 0 {
		return &ValidationError{Field: "hashtags", Reason: "required unless hashtag_condition is disabled"}
	}
	if r.FilterStartDate != nil && r.FilterEndDate != nil && r.FilterEndDate.Before(*r.FilterStartDate) {
		return &ValidationError{Field: "filter_end_date", Reason: "before filter_start_date"}
	}
	switch r.TimingType {
	case TimingImmediate:
	case TimingDelayed:
		if r.DelayMinutes <= 0 {
			return &ValidationError{Field: "delay_minutes", Reason: "must be positive for delayed replies"}
		}
	case TimingLikeThreshold:
		if r.LikeThreshold <= 0 {
			return &ValidationError{Field: "like_threshold", Reason: "must be positive for likeThreshold replies"}
		}
	default:
		return &ValidationError{Field: "timing_type", Reason: "unknown"}
	}
	if strings.TrimSpace(r.ReplyText) == "" {
		return &ValidationError{Field: "reply_text", Reason: "required"}
	}
	if utf8.RuneCountInString(r.ReplyText) > MaxCaptionLength {
		return &ValidationError{Field: "reply_text", Reason: fmt.Sprintf("longer than %d characters", MaxCaptionLength)}
	}
	return ValidateMedia(r.ReplyMedia)
}
