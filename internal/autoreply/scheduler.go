package autoreply

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot/postpilot/internal/models"
)

// Template placeholders filled from the triggering interaction
const (
	PlaceholderUsername = "{username}"
	PlaceholderText     = "{text}"
)

// RenderReply fills the reply template placeholders
func RenderReply(template string, event *models.Event) string {
	return strings.NewReplacer(
		PlaceholderUsername, event.ActorUsername,
		PlaceholderText, event.TextOrEmpty(),
	).Replace(template)
}

// BuildReply creates the AutoReply that rule schedules for event at now
func BuildReply(rule *models.AutoReplyRule, event *models.Event, now time.Time) *models.AutoReply {
	now = now.UTC()
	reply := &models.AutoReply{
		ID:                uuid.NewString(),
		AccountID:         event.AccountID,
		RuleID:            rule.ID,
		SourcePostID:      event.SourcePostID,
		TriggerType:       event.Type,
		TriggerUserID:     event.ActorID,
		TriggerUsername:   event.ActorUsername,
		TriggerExternalID: event.ExternalID,
		ReplyText:         RenderReply(rule.ReplyText, event),
	}
	if event.Text != nil {
		text := *event.Text
		reply.TriggerText = &text
	}

	switch rule.TimingType {
	case models.TimingDelayed:
		at := now.Add(time.Duration(rule.DelayMinutes) * time.Minute)
		reply.ReplyStatus = models.ReplyPending
		reply.ScheduledSendAt = &at
	case models.TimingLikeThreshold:
		reply.ReplyStatus = models.ReplyWaitingLikes
		reply.LikeThreshold = rule.LikeThreshold
	default:
		reply.ReplyStatus = models.ReplyPending
		reply.ScheduledSendAt = &now
	}
	return reply
}

// replyTarget is the platform object the reply answers. Likes and reposts
// carry no text of their own, so the reply goes under the source post.
func replyTarget(r *models.AutoReply) string {
	switch r.TriggerType {
	case models.TriggerReply, models.TriggerQuote:
		return r.TriggerExternalID
	}
	return r.SourcePostID
}
